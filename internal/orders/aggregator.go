package orders

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderScope/internal/batch"
	"orderScope/internal/cache"
	"orderScope/internal/catalog"
	"orderScope/internal/chain"
	"orderScope/internal/contracts"
	"orderScope/internal/metrics"
	"orderScope/internal/model"
	"orderScope/internal/trade"
)

const (
	namespace = "orders"

	// MarketPrecision is the fractional digits of amounts in a market view.
	MarketPrecision int32 = 8
	// OwnerPrecision is the fractional digits of amounts in an owner view.
	OwnerPrecision int32 = 4
	// PremiumPrecision is the fractional digits of premium costs.
	PremiumPrecision int32 = 6

	percentScale int32 = 8
)

var hundred = decimal.NewFromInt(100)

// CatalogSource lists the markets to aggregate over.
type CatalogSource interface {
	Fetch(ctx context.Context) catalog.Catalog
}

// MarketOrders is one market's order book at a single block.
type MarketOrders struct {
	Market common.Address
	Block  uint64
	Count  uint64
	Orders []model.Order
	// FailedChunks is the number of chunk reads whose records are missing.
	FailedChunks int
}

// OwnerOrders is the cross-market view of one seller's orders.
type OwnerOrders struct {
	Orders []model.Order
	// Errors holds the markets whose fetch failed; their orders are absent.
	Errors     map[common.Address]error
	CatalogErr error
}

// Aggregator reads and derives order books.
type Aggregator struct {
	chain          chain.Reader
	reader         *batch.Reader
	template       batch.Template
	catalog        CatalogSource
	cache          *cache.Cache
	ttl            time.Duration
	maxConcurrency int
	logger         *zap.Logger
}

// Config wires an Aggregator.
type Config struct {
	Chain          chain.Reader
	Reader         *batch.Reader
	Template       batch.Template
	Catalog        CatalogSource
	Cache          *cache.Cache
	TTL            time.Duration
	MaxConcurrency int
	Logger         *zap.Logger
}

// NewAggregator builds an Aggregator.
func NewAggregator(cfg Config) *Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := cfg.Cache
	if c == nil {
		c = cache.New(logger)
	}
	return &Aggregator{
		chain:          cfg.Chain,
		reader:         cfg.Reader,
		template:       cfg.Template,
		catalog:        cfg.Catalog,
		cache:          c,
		ttl:            cfg.TTL,
		maxConcurrency: cfg.MaxConcurrency,
		logger:         logger,
	}
}

// CacheKey is the cache key of a market's order book.
func CacheKey(market common.Address) string {
	return cache.AddressKey(namespace, market)
}

// Invalidate forces the next read of market to go to chain.
func (a *Aggregator) Invalidate(ctx context.Context, market common.Address) {
	a.cache.Invalidate(ctx, CacheKey(market))
}

// MarketOrders returns the order book of market. The count read and every
// chunk read are pinned to the same block. An unconfigured template yields
// an empty book without any call.
func (a *Aggregator) MarketOrders(ctx context.Context, market common.Address) (MarketOrders, error) {
	if !a.template.Configured() {
		return MarketOrders{Market: market}, nil
	}
	return cache.Load(ctx, a.cache, CacheKey(market), a.ttl, func(ctx context.Context) (MarketOrders, error) {
		return a.fetch(ctx, market)
	})
}

func (a *Aggregator) fetch(ctx context.Context, market common.Address) (MarketOrders, error) {
	if a.chain == nil || a.reader == nil {
		return MarketOrders{}, fmt.Errorf("aggregator is not wired")
	}
	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues(namespace).Observe(time.Since(start).Seconds())
	}()

	blockNumber, err := a.chain.LatestBlockNumber(ctx)
	if err != nil {
		return MarketOrders{}, fmt.Errorf("latest block: %w", err)
	}
	block := new(big.Int).SetUint64(blockNumber)

	count, err := contracts.OrderCount(ctx, a.chain, market, block)
	if err != nil {
		return MarketOrders{}, fmt.Errorf("order count %s: %w", market.Hex(), err)
	}
	if !count.IsUint64() {
		return MarketOrders{}, fmt.Errorf("order count %s out of range: %s", market.Hex(), count)
	}
	out := MarketOrders{Market: market, Block: blockNumber, Count: count.Uint64()}
	if out.Count == 0 {
		return out, nil
	}

	result, err := a.reader.ReadRange(ctx, a.template, market, out.Count, block)
	if err != nil {
		return MarketOrders{}, fmt.Errorf("read orders %s: %w", market.Hex(), err)
	}
	if result.Dropped > 0 {
		a.logger.Warn("dropped malformed order records",
			zap.String("market", market.Hex()),
			zap.Int("dropped", result.Dropped),
		)
	}
	out.FailedChunks = len(result.Failed)
	out.Orders = make([]model.Order, 0, len(result.Records))
	for _, rec := range result.Records {
		out.Orders = append(out.Orders, toOrder(market, rec, MarketPrecision))
	}
	return out, nil
}

// OwnerOrders fetches the catalog, then every market's book concurrently,
// and keeps the orders sold by owner. A market whose fetch fails contributes
// no orders and is reported in Errors; the others are still returned.
func (a *Aggregator) OwnerOrders(ctx context.Context, owner common.Address) OwnerOrders {
	if a.catalog == nil {
		return OwnerOrders{CatalogErr: fmt.Errorf("catalog source is nil")}
	}
	cat := a.catalog.Fetch(ctx)
	out := OwnerOrders{CatalogErr: cat.Err, Errors: make(map[common.Address]error)}
	if len(cat.Markets) == 0 {
		return out
	}

	books := make([][]model.Order, len(cat.Markets))
	var mu sync.Mutex
	var g errgroup.Group
	if a.maxConcurrency > 0 {
		g.SetLimit(a.maxConcurrency)
	}
	for i, m := range cat.Markets {
		i, m := i, m
		g.Go(func() error {
			book, err := a.MarketOrders(ctx, m.ID)
			if err != nil {
				metrics.MarketFetchFailures.Inc()
				a.logger.Warn("market order fetch failed", zap.String("market", m.ID.Hex()), zap.Error(err))
				mu.Lock()
				out.Errors[m.ID] = err
				mu.Unlock()
				return nil
			}
			mine := FilterSeller(book.Orders, owner)
			for j := range mine {
				mine[j].MarketName = m.DisplayName
				mine[j].AmountFormatted = trade.FormatFixed(mine[j].RemainingAmount, trade.FixedPointDecimals, OwnerPrecision)
			}
			books[i] = mine
			return nil
		})
	}
	_ = g.Wait()

	for _, book := range books {
		out.Orders = append(out.Orders, book...)
	}
	return out
}

// FilterSeller returns copies of the orders sold by seller. Addresses are
// compared as 20-byte values, so the hex case of either side is irrelevant.
func FilterSeller(orders []model.Order, seller common.Address) []model.Order {
	var out []model.Order
	for _, o := range orders {
		if o.Seller == seller {
			out = append(out, o)
		}
	}
	return out
}

func toOrder(market common.Address, rec batch.Record, places int32) model.Order {
	o := model.Order{
		Market:              market,
		OrderID:             rec.Uint("orderId"),
		Seller:              rec.Address("seller"),
		RemainingAmount:     rec.Uint("yTokenAmountRemaining"),
		UnderlyingRemaining: rec.Uint("underlyingAmountRemaining"),
		UnderlyingDecimals:  rec.Uint8("underlyingDecimals"),
		UnderlyingPrice:     rec.Uint("underlyingPrice"),
		PremiumPerUnit:      rec.Uint("premiumPerSmallestAssetUnit"),
		IsActive:            rec.Bool("isActive"),
	}
	o.AmountFormatted = trade.FormatFixed(o.RemainingAmount, trade.FixedPointDecimals, places)
	o.PremiumPerUnitFormatted = trade.FormatUnits(o.PremiumPerUnit, trade.FixedPointDecimals)
	o.WorthUnderlying = trade.ToDecimal(o.UnderlyingRemaining, o.UnderlyingDecimals).
		Mul(trade.ToDecimal(o.UnderlyingPrice, trade.FixedPointDecimals))

	cost, err := trade.PremiumCost(o.UnderlyingRemaining, o.PremiumPerUnit)
	if err != nil {
		return o
	}
	o.PremiumCost = cost
	o.PremiumFormatted = trade.FormatFixed(cost, trade.FixedPointDecimals, PremiumPrecision)
	if !o.WorthUnderlying.IsZero() {
		premium := trade.ToDecimal(cost, trade.FixedPointDecimals)
		o.PremiumPercent = premium.Mul(hundred).DivRound(o.WorthUnderlying, percentScale)
		o.PremiumPercentOK = true
	}
	return o
}
