// Package app wires the order client's components into one process-wide
// registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"orderScope/internal/balances"
	"orderScope/internal/batch"
	"orderScope/internal/cache"
	"orderScope/internal/catalog"
	"orderScope/internal/chain"
	"orderScope/internal/config"
	"orderScope/internal/orders"
	"orderScope/internal/prices"
	"orderScope/internal/workflow"
)

// ErrNoSigner is returned for write operations when no private key is
// configured.
var ErrNoSigner = errors.New("no private key configured")

// Registry owns every long-lived component. It is built once per process and
// torn down with Close; components receive what they need from it.
type Registry struct {
	Config     config.Config
	Chain      chain.Reader
	Cache      *cache.Cache
	Reader     *batch.Reader
	Catalog    *catalog.Fetcher
	Orders     *orders.Aggregator
	Balances   *balances.Reader
	Prices     *prices.Client
	Transactor chain.Transactor
	Planner    *Planner

	logger  *zap.Logger
	closers []func()
}

// New dials the RPC endpoint and builds the registry from cfg. A signer is
// only created when a private key is configured; read-only commands work
// without one.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	closers := []func(){client.Close}

	chainID, err := client.GetChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if chainID.Uint64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("rpc is on chain %s, configured chain id is %d", chainID, cfg.ChainID)
	}

	var opts []cache.Option
	if strings.TrimSpace(cfg.RedisURL) != "" {
		store, err := cache.NewRedisStore(ctx, cfg.RedisURL, "orderscope")
		if err != nil {
			client.Close()
			return nil, err
		}
		opts = append(opts, cache.WithRemote(store))
		closers = append(closers, func() { _ = store.Close() })
	}

	var tx chain.Transactor
	if strings.TrimSpace(cfg.PrivateKey) != "" {
		keyed, err := chain.NewKeyedTransactor(ctx, client, cfg.PrivateKey, logger)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, err
		}
		tx = keyed
	}

	r := Build(cfg, client, tx, cache.New(logger, opts...), logger)
	r.closers = closers
	logger.Info("registry ready",
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("factory", cfg.Factory.Hex()),
		zap.Bool("markets_template", batch.MarketsTemplate(cfg.MarketsBytecode).Configured()),
		zap.Bool("orders_template", batch.OrdersTemplate(cfg.OrdersBytecode).Configured()),
		zap.Bool("signer", tx != nil),
		zap.Bool("shared_cache", len(opts) > 0),
	)
	return r, nil
}

// Build assembles the components around an existing reader and optional
// transactor. Tests use it with a fake chain.
func Build(cfg config.Config, reader chain.Reader, tx chain.Transactor, c *cache.Cache, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.New(logger)
	}

	batchReader := batch.NewReader(reader, batch.Options{
		ChunkSize:      cfg.ChunkSize,
		MaxConcurrency: cfg.MaxConcurrency,
	}, logger)

	marketsTemplate := batch.MarketsTemplate(cfg.MarketsBytecode)
	if cfg.Factory == (common.Address{}) {
		logger.Warn("factory address not configured, market catalog will be empty")
		marketsTemplate = batch.MarketsTemplate("")
	}
	fetcher := catalog.NewFetcher(batchReader, marketsTemplate, cfg.Factory, cfg.ChainID, c, cfg.MarketsTTL, logger)

	aggregator := orders.NewAggregator(orders.Config{
		Chain:          reader,
		Reader:         batchReader,
		Template:       batch.OrdersTemplate(cfg.OrdersBytecode),
		Catalog:        fetcher,
		Cache:          c,
		TTL:            cfg.OrdersTTL,
		MaxConcurrency: cfg.MaxConcurrency,
		Logger:         logger,
	})

	priceClient := prices.NewClient(cfg.PriceAPI, cfg.ChainID, logger)
	balanceReader := balances.NewReader(reader, c, cfg.BalancesTTL, priceClient, logger)

	r := &Registry{
		Config:     cfg,
		Chain:      reader,
		Cache:      c,
		Reader:     batchReader,
		Catalog:    fetcher,
		Orders:     aggregator,
		Balances:   balanceReader,
		Prices:     priceClient,
		Transactor: tx,
		logger:     logger,
	}
	r.Planner = &Planner{
		caller:         reader,
		catalog:        fetcher,
		orders:         aggregator,
		balances:       balanceReader,
		stable:         cfg.StableToken,
		feeBps:         cfg.FeeBps,
		exactApprovals: cfg.ExactApprovals,
	}
	return r
}

// Workflow builds a controller for plan, signed by the configured key.
func (r *Registry) Workflow(plan workflow.Plan) (*workflow.Controller, error) {
	if r.Transactor == nil {
		return nil, ErrNoSigner
	}
	return workflow.New(plan, r.Transactor, r.Balances, r.Orders, r.logger)
}

// Close releases the RPC connection and the shared cache connection.
func (r *Registry) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
