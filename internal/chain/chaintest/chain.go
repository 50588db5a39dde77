// Package chaintest provides an in-memory chain that answers the eth_calls
// the order client issues, for use in tests.
package chaintest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"orderScope/internal/batch"
	"orderScope/internal/contracts"
)

// OrdersCode and MarketsCode are template bytecodes the fake recognizes.
const (
	OrdersCode  = "0x6001600101"
	MarketsCode = "0x6002600202"
)

// ErrReverted is returned for calls the fake has no answer for.
var ErrReverted = errors.New("execution reverted")

// OrderTuple mirrors one element of the orders query output.
type OrderTuple struct {
	OrderId                     *big.Int
	Seller                      common.Address
	YTokenAmountRemaining       *big.Int
	UnderlyingAmountRemaining   *big.Int
	UnderlyingDecimals          uint8
	UnderlyingPrice             *big.Int
	PremiumPerSmallestAssetUnit *big.Int
	IsActive                    bool
}

// MarketTuple mirrors one element of the markets query output.
type MarketTuple struct {
	Marketplace    common.Address
	YToken         common.Address
	Symbol         string
	AssetToken     common.Address
	PricePerShare  *big.Int
	OraclePrice    *big.Int
	FactoryBalance *big.Int
}

// Chain is a fake chain.Reader. Fields may be set directly before use.
type Chain struct {
	mu sync.Mutex

	BlockNumber uint64
	Orders      map[common.Address][]OrderTuple
	Markets     []MarketTuple
	Balances    map[common.Address]map[common.Address]*big.Int
	Allowances  map[common.Address]map[string]*big.Int
	Decimals    map[common.Address]uint8
	Symbols     map[common.Address]string
	AssetTokens map[common.Address]common.Address
	// SharesToAssets scales preview_withdraw; nil means 1:1.
	SharesToAssets *big.Rat
	// BuyCost answers calculateBuyCost; nil reverts.
	BuyCost func(market common.Address, orderID, amount *big.Int) (*big.Int, *big.Int)
	// FailMarkets makes every call touching the marketplace fail.
	FailMarkets map[common.Address]error
	// GarbageChunk returns undecodable bytes for the chunk starting at the key.
	GarbageChunk map[uint64]bool
	// HoldTemplates makes every creation-code call wait until that many are
	// in flight together. Callers that issue them one at a time block until
	// their context ends.
	HoldTemplates int

	templateCalls int
	inFlight      int
	peakInFlight  int
	released      chan struct{}
	blocks        []*big.Int
	calls         map[string]int
}

// New returns an empty fake chain at block 100.
func New() *Chain {
	return &Chain{
		BlockNumber:  100,
		Orders:       make(map[common.Address][]OrderTuple),
		Balances:     make(map[common.Address]map[common.Address]*big.Int),
		Allowances:   make(map[common.Address]map[string]*big.Int),
		Decimals:     make(map[common.Address]uint8),
		Symbols:      make(map[common.Address]string),
		AssetTokens:  make(map[common.Address]common.Address),
		FailMarkets:  make(map[common.Address]error),
		GarbageChunk: make(map[uint64]bool),
		calls:        make(map[string]int),
	}
}

// SetBalance sets token.balanceOf(owner).
func (c *Chain) SetBalance(token, owner common.Address, value *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Balances[token] == nil {
		c.Balances[token] = make(map[common.Address]*big.Int)
	}
	c.Balances[token][owner] = new(big.Int).Set(value)
}

// SetAllowance sets token.allowance(owner, spender).
func (c *Chain) SetAllowance(token, owner, spender common.Address, value *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Allowances[token] == nil {
		c.Allowances[token] = make(map[string]*big.Int)
	}
	c.Allowances[token][allowanceKey(owner, spender)] = new(big.Int).Set(value)
}

// TemplateCalls returns how many creation-code calls were served.
func (c *Chain) TemplateCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.templateCalls
}

// Calls returns how many times a named contract method was called.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// Blocks returns the block argument of every call, in arrival order.
func (c *Chain) Blocks() []*big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*big.Int, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// LatestBlockNumber implements chain.Reader.
func (c *Chain) LatestBlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.BlockNumber, nil
}

// CallContract implements chain.Reader.
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.To == nil {
		if err := c.hold(ctx); err != nil {
			return nil, err
		}
		defer c.leave()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, block)

	if msg.To == nil {
		c.templateCalls++
		return c.template(msg.Data)
	}
	return c.contract(*msg.To, msg.Data)
}

// PeakTemplateCalls returns the most creation-code calls seen in flight at
// once.
func (c *Chain) PeakTemplateCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakInFlight
}

func (c *Chain) hold(ctx context.Context) error {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.peakInFlight {
		c.peakInFlight = c.inFlight
	}
	if c.released == nil {
		c.released = make(chan struct{})
	}
	released := c.released
	if c.inFlight >= c.HoldTemplates {
		select {
		case <-released:
		default:
			close(released)
		}
	}
	c.mu.Unlock()

	select {
	case <-released:
		return nil
	case <-ctx.Done():
		c.leave()
		return ctx.Err()
	}
}

func (c *Chain) leave() {
	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
}

func (c *Chain) template(data []byte) ([]byte, error) {
	ordersCode := common.FromHex(OrdersCode)
	marketsCode := common.FromHex(MarketsCode)

	switch {
	case bytes.HasPrefix(data, ordersCode):
		args, err := batch.OrdersInput.Unpack(data[len(ordersCode):])
		if err != nil {
			return nil, err
		}
		market := args[0].(common.Address)
		start := args[1].(*big.Int).Uint64()
		end := args[2].(*big.Int).Uint64()
		if err := c.FailMarkets[market]; err != nil {
			return nil, err
		}
		if c.GarbageChunk[start] {
			return []byte{0xde, 0xad, 0xbe, 0xef}, nil
		}
		all := c.Orders[market]
		page := make([]OrderTuple, 0, start-end+1)
		for i := start + 1; i > end; i-- {
			if int(i-1) < len(all) {
				page = append(page, all[i-1])
			}
		}
		return packTuples(batch.OrdersSchema, page)
	case bytes.HasPrefix(data, marketsCode):
		return packTuples(batch.MarketsSchema, c.Markets)
	default:
		return nil, ErrReverted
	}
}

func (c *Chain) contract(to common.Address, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrReverted
	}
	method, err := lookup(data[:4])
	if err != nil {
		return nil, err
	}
	c.calls[method.Name]++
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "orderCounter":
		if err := c.FailMarkets[to]; err != nil {
			return nil, err
		}
		return method.Outputs.Pack(big.NewInt(int64(len(c.Orders[to]))))
	case "ASSET_TOKEN":
		asset, ok := c.AssetTokens[to]
		if !ok {
			return nil, ErrReverted
		}
		return method.Outputs.Pack(asset)
	case "calculateBuyCost":
		if c.BuyCost == nil {
			return nil, ErrReverted
		}
		asset, stable := c.BuyCost(to, args[0].(*big.Int), args[1].(*big.Int))
		return method.Outputs.Pack(asset, stable)
	case "preview_withdraw":
		shares := args[0].(*big.Int)
		if c.SharesToAssets == nil {
			return method.Outputs.Pack(shares)
		}
		scaled := new(big.Int).Mul(shares, c.SharesToAssets.Num())
		scaled.Quo(scaled, c.SharesToAssets.Denom())
		return method.Outputs.Pack(scaled)
	case "balanceOf":
		value := big.NewInt(0)
		if v := c.Balances[to][args[0].(common.Address)]; v != nil {
			value = v
		}
		return method.Outputs.Pack(value)
	case "allowance":
		value := big.NewInt(0)
		if v := c.Allowances[to][allowanceKey(args[0].(common.Address), args[1].(common.Address))]; v != nil {
			value = v
		}
		return method.Outputs.Pack(value)
	case "decimals":
		d, ok := c.Decimals[to]
		if !ok {
			d = 18
		}
		return method.Outputs.Pack(d)
	case "symbol":
		return method.Outputs.Pack(c.Symbols[to])
	default:
		return nil, fmt.Errorf("%w: %s", ErrReverted, method.Name)
	}
}

func lookup(selector []byte) (*abi.Method, error) {
	getters := []func() (abi.ABI, error){contracts.MarketplaceABI, contracts.ERC20ABI, contracts.LiquidityTokenABI}
	for _, get := range getters {
		parsed, err := get()
		if err != nil {
			return nil, err
		}
		if method, err := parsed.MethodById(selector); err == nil {
			return method, nil
		}
	}
	return nil, ErrReverted
}

func packTuples(schema batch.Schema, value interface{}) ([]byte, error) {
	args, err := schema.Arguments()
	if err != nil {
		return nil, err
	}
	return args.Pack(value)
}

func allowanceKey(owner, spender common.Address) string {
	return strings.ToLower(owner.Hex()) + ":" + strings.ToLower(spender.Hex())
}
