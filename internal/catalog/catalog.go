package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"orderScope/internal/batch"
	"orderScope/internal/cache"
	"orderScope/internal/chains"
	"orderScope/internal/metrics"
	"orderScope/internal/model"
	"orderScope/internal/trade"
)

const namespace = "catalog"

// Catalog is one generation of the market listing. Err is set when the
// listing could not be read; Markets is then empty.
type Catalog struct {
	Markets []model.Market
	Err     error
}

// Find returns the market whose marketplace address is id.
func (c Catalog) Find(id common.Address) (model.Market, bool) {
	for _, m := range c.Markets {
		if m.ID == id {
			return m, true
		}
	}
	return model.Market{}, false
}

// Fetcher reads every market deployed by a factory in one template call.
type Fetcher struct {
	reader   *batch.Reader
	template batch.Template
	factory  common.Address
	chainID  uint64
	cache    *cache.Cache
	ttl      time.Duration
	logger   *zap.Logger
}

// NewFetcher builds a catalog fetcher. Results are shared through c for ttl.
func NewFetcher(reader *batch.Reader, template batch.Template, factory common.Address, chainID uint64, c *cache.Cache, ttl time.Duration, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.New(logger)
	}
	return &Fetcher{
		reader:   reader,
		template: template,
		factory:  factory,
		chainID:  chainID,
		cache:    c,
		ttl:      ttl,
		logger:   logger,
	}
}

func (f *Fetcher) key() string {
	return cache.AddressKey(namespace, f.factory)
}

// Fetch returns the market catalog. It never fails: read and decode errors
// yield an empty catalog with Err set, and an unconfigured template yields an
// empty catalog.
func (f *Fetcher) Fetch(ctx context.Context) Catalog {
	if !f.template.Configured() {
		metrics.CatalogFetches.WithLabelValues("unconfigured").Inc()
		f.logger.Debug("markets template not configured, catalog is empty")
		return Catalog{}
	}

	markets, err := cache.LoadShared(ctx, f.cache, f.key(), f.ttl, f.load)
	if err != nil {
		metrics.CatalogFetches.WithLabelValues("error").Inc()
		f.logger.Warn("market catalog fetch failed", zap.String("factory", f.factory.Hex()), zap.Error(err))
		return Catalog{Err: err}
	}
	metrics.CatalogFetches.WithLabelValues("ok").Inc()
	return Catalog{Markets: markets}
}

// Refresh drops the cached catalog and fetches again.
func (f *Fetcher) Refresh(ctx context.Context) Catalog {
	f.cache.Invalidate(ctx, f.key())
	return f.Fetch(ctx)
}

func (f *Fetcher) load(ctx context.Context) ([]model.Market, error) {
	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(namespace).Observe(time.Since(start).Seconds())
	}()

	result, err := f.reader.ReadOnce(ctx, f.template, nil, f.factory)
	if err != nil {
		return nil, fmt.Errorf("read markets: %w", err)
	}
	if result.Dropped > 0 {
		f.logger.Warn("dropped malformed market records", zap.Int("dropped", result.Dropped))
	}

	markets := make([]model.Market, 0, len(result.Records))
	for _, rec := range result.Records {
		markets = append(markets, f.toMarket(rec))
	}
	return markets, nil
}

func (f *Fetcher) toMarket(rec batch.Record) model.Market {
	pps := trade.ToDecimal(rec.Uint("pricePerShare"), trade.FixedPointDecimals)
	oracle := trade.ToDecimal(rec.Uint("oraclePrice"), trade.FixedPointDecimals)
	balance := trade.ToDecimal(rec.Uint("factoryBalance"), trade.FixedPointDecimals)
	asset := rec.Address("assetToken")

	return model.Market{
		ID:               rec.Address("marketplace"),
		Token:            rec.Address("yToken"),
		UnderlyingToken:  asset,
		DisplayName:      rec.String("symbol"),
		IconURL:          chains.IconURL(f.chainID, asset),
		TotalValueLocked: TotalValueLocked(balance, oracle, pps).StringFixed(4),
		PricePerShare:    pps.String(),
		OraclePrice:      oracle.String(),
	}
}

// TotalValueLocked is balance * oraclePrice * pricePerShare.
func TotalValueLocked(balance, oraclePrice, pricePerShare decimal.Decimal) decimal.Decimal {
	return balance.Mul(oraclePrice).Mul(pricePerShare)
}
