package balances

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderScope/internal/cache"
	"orderScope/internal/contracts"
	"orderScope/internal/model"
	"orderScope/internal/trade"
)

const (
	balanceNamespace   = "balance"
	allowanceNamespace = "allowance"
)

// PriceSource returns USD prices per token; missing tokens map to zero.
type PriceSource interface {
	Prices(ctx context.Context, tokens []common.Address) map[common.Address]decimal.Decimal
}

// TokenDecimalsCache caches token decimals by address. Decimals never change
// for a deployed token, so entries do not expire.
type TokenDecimalsCache struct {
	mu   sync.RWMutex
	data map[common.Address]uint8
}

// NewTokenDecimalsCache returns an empty decimals cache.
func NewTokenDecimalsCache() *TokenDecimalsCache {
	return &TokenDecimalsCache{data: make(map[common.Address]uint8)}
}

// Get returns the cached decimals of a token.
func (c *TokenDecimalsCache) Get(address common.Address) (uint8, bool) {
	c.mu.RLock()
	decimals, ok := c.data[address]
	c.mu.RUnlock()
	return decimals, ok
}

// Set records the decimals of a token.
func (c *TokenDecimalsCache) Set(address common.Address, decimals uint8) {
	c.mu.Lock()
	c.data[address] = decimals
	c.mu.Unlock()
}

// Reader serves balance and allowance snapshots through the shared cache.
// Concurrent reads of the same (owner, token) share one RPC call.
type Reader struct {
	caller   contracts.Caller
	cache    *cache.Cache
	ttl      time.Duration
	decimals *TokenDecimalsCache
	prices   PriceSource
	logger   *zap.Logger
}

// NewReader builds a Reader. prices may be nil, in which case wallet
// balances carry no USD value.
func NewReader(caller contracts.Caller, c *cache.Cache, ttl time.Duration, prices PriceSource, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.New(logger)
	}
	return &Reader{
		caller:   caller,
		cache:    c,
		ttl:      ttl,
		decimals: NewTokenDecimalsCache(),
		prices:   prices,
		logger:   logger,
	}
}

// TokenDecimals returns decimals for token, read once per process.
func (r *Reader) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	if d, ok := r.decimals.Get(token); ok {
		return d, nil
	}
	d, err := contracts.Decimals(ctx, r.caller, token)
	if err != nil {
		return 0, fmt.Errorf("decimals %s: %w", token.Hex(), err)
	}
	r.decimals.Set(token, d)
	return d, nil
}

// Balance returns owner's balance of token.
func (r *Reader) Balance(ctx context.Context, owner, token common.Address) (model.BalanceSnapshot, error) {
	key := cache.AddressKey(balanceNamespace, owner, token)
	return cache.Load(ctx, r.cache, key, r.ttl, func(ctx context.Context) (model.BalanceSnapshot, error) {
		value, err := contracts.BalanceOf(ctx, r.caller, token, owner, nil)
		if err != nil {
			return model.BalanceSnapshot{}, fmt.Errorf("balance %s of %s: %w", token.Hex(), owner.Hex(), err)
		}
		decimals, err := r.TokenDecimals(ctx, token)
		if err != nil {
			return model.BalanceSnapshot{}, err
		}
		return model.BalanceSnapshot{
			Owner:     owner,
			Token:     token,
			Value:     value,
			Decimals:  decimals,
			FetchedAt: time.Now(),
		}, nil
	})
}

// Allowance returns token.allowance(owner, spender).
func (r *Reader) Allowance(ctx context.Context, owner, token, spender common.Address) (model.AllowanceSnapshot, error) {
	key := cache.AddressKey(allowanceNamespace, owner, token, spender)
	return cache.Load(ctx, r.cache, key, r.ttl, func(ctx context.Context) (model.AllowanceSnapshot, error) {
		value, err := contracts.Allowance(ctx, r.caller, token, owner, spender)
		if err != nil {
			return model.AllowanceSnapshot{}, fmt.Errorf("allowance %s of %s for %s: %w", token.Hex(), owner.Hex(), spender.Hex(), err)
		}
		decimals, err := r.TokenDecimals(ctx, token)
		if err != nil {
			return model.AllowanceSnapshot{}, err
		}
		return model.AllowanceSnapshot{
			Owner:     owner,
			Token:     token,
			Spender:   spender,
			Value:     value,
			Decimals:  decimals,
			FetchedAt: time.Now(),
		}, nil
	})
}

// RefreshAllowance bypasses the freshness window and reads the allowance
// from chain.
func (r *Reader) RefreshAllowance(ctx context.Context, owner, token, spender common.Address) (model.AllowanceSnapshot, error) {
	r.cache.Invalidate(ctx, cache.AddressKey(allowanceNamespace, owner, token, spender))
	return r.Allowance(ctx, owner, token, spender)
}

// InvalidateOwner drops every cached balance and allowance of owner.
func (r *Reader) InvalidateOwner(ctx context.Context, owner common.Address) {
	r.cache.InvalidatePrefix(ctx, cache.AddressKey(balanceNamespace, owner))
	r.cache.InvalidatePrefix(ctx, cache.AddressKey(allowanceNamespace, owner))
}

// Wallet reads owner's balance of every token concurrently and returns the
// non-zero ones in input order, valued in USD. Tokens whose reads fail are
// logged and skipped.
func (r *Reader) Wallet(ctx context.Context, owner common.Address, tokens []common.Address) ([]model.WalletBalance, error) {
	tokens = dedupe(tokens)
	rows := make([]*model.WalletBalance, len(tokens))

	var g errgroup.Group
	g.SetLimit(8)
	for i, token := range tokens {
		i, token := i, token
		g.Go(func() error {
			snap, err := r.Balance(ctx, owner, token)
			if err != nil {
				r.logger.Warn("wallet balance read failed", zap.String("token", token.Hex()), zap.Error(err))
				return nil
			}
			if snap.Value == nil || snap.Value.Sign() == 0 {
				return nil
			}
			symbol, err := contracts.Symbol(ctx, r.caller, token)
			if err != nil {
				r.logger.Debug("symbol read failed", zap.String("token", token.Hex()), zap.Error(err))
				symbol = ""
			}
			rows[i] = &model.WalletBalance{
				Token:    token,
				Symbol:   symbol,
				Decimals: snap.Decimals,
				Value:    snap.Value,
				Amount:   trade.FormatUnits(snap.Value, snap.Decimals),
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	held := make([]model.WalletBalance, 0, len(rows))
	heldTokens := make([]common.Address, 0, len(rows))
	for _, row := range rows {
		if row != nil {
			held = append(held, *row)
			heldTokens = append(heldTokens, row.Token)
		}
	}

	var prices map[common.Address]decimal.Decimal
	if r.prices != nil && len(heldTokens) > 0 {
		prices = r.prices.Prices(ctx, heldTokens)
	}
	for i := range held {
		price := prices[held[i].Token]
		usd := trade.ToDecimal(held[i].Value, held[i].Decimals).Mul(price)
		held[i].USDValue = usd.StringFixed(2)
	}
	return held, nil
}

func dedupe(tokens []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(tokens))
	out := make([]common.Address, 0, len(tokens))
	for _, t := range tokens {
		if t == (common.Address{}) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
