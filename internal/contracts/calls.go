package contracts

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Caller is the subset of chain.Reader needed for single contract reads.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Call packs method with args, runs eth_call against target and unpacks the
// outputs. A nil block reads at latest.
func Call(ctx context.Context, caller Caller, target common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain caller is nil")
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &target, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

// OrderCount reads orderCounter from a marketplace.
func OrderCount(ctx context.Context, caller Caller, marketplace common.Address, block *big.Int) (*big.Int, error) {
	parsed, err := MarketplaceABI()
	if err != nil {
		return nil, fmt.Errorf("parse marketplace abi: %w", err)
	}
	values, err := Call(ctx, caller, marketplace, parsed, "orderCounter", block)
	if err != nil {
		return nil, err
	}
	return AsBigInt(values[0])
}

// MarketAssetToken reads ASSET_TOKEN from a marketplace.
func MarketAssetToken(ctx context.Context, caller Caller, marketplace common.Address) (common.Address, error) {
	parsed, err := MarketplaceABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse marketplace abi: %w", err)
	}
	values, err := Call(ctx, caller, marketplace, parsed, "ASSET_TOKEN", nil)
	if err != nil {
		return common.Address{}, err
	}
	return AsAddress(values[0])
}

// BuyCost is the contract-computed cost of buying amount from an order.
type BuyCost struct {
	AssetAmount  *big.Int
	StableAmount *big.Int
}

// CalculateBuyCost reads calculateBuyCost(orderId, amount).
func CalculateBuyCost(ctx context.Context, caller Caller, marketplace common.Address, orderID, amount *big.Int) (BuyCost, error) {
	parsed, err := MarketplaceABI()
	if err != nil {
		return BuyCost{}, fmt.Errorf("parse marketplace abi: %w", err)
	}
	values, err := Call(ctx, caller, marketplace, parsed, "calculateBuyCost", nil, orderID, amount)
	if err != nil {
		return BuyCost{}, err
	}
	if len(values) < 2 {
		return BuyCost{}, fmt.Errorf("calculateBuyCost: expected 2 outputs, got %d", len(values))
	}
	asset, err := AsBigInt(values[0])
	if err != nil {
		return BuyCost{}, fmt.Errorf("asset amount: %w", err)
	}
	stable, err := AsBigInt(values[1])
	if err != nil {
		return BuyCost{}, fmt.Errorf("stable amount: %w", err)
	}
	return BuyCost{AssetAmount: asset, StableAmount: stable}, nil
}

// PreviewWithdraw converts market token shares to underlying asset units.
func PreviewWithdraw(ctx context.Context, caller Caller, token common.Address, shares *big.Int) (*big.Int, error) {
	parsed, err := LiquidityTokenABI()
	if err != nil {
		return nil, fmt.Errorf("parse liquidity token abi: %w", err)
	}
	values, err := Call(ctx, caller, token, parsed, "preview_withdraw", nil, shares)
	if err != nil {
		return nil, err
	}
	return AsBigInt(values[0])
}

// BalanceOf reads an ERC20 balance.
func BalanceOf(ctx context.Context, caller Caller, token, owner common.Address, block *big.Int) (*big.Int, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := Call(ctx, caller, token, parsed, "balanceOf", block, owner)
	if err != nil {
		return nil, err
	}
	return AsBigInt(values[0])
}

// Allowance reads an ERC20 allowance.
func Allowance(ctx context.Context, caller Caller, token, owner, spender common.Address) (*big.Int, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := Call(ctx, caller, token, parsed, "allowance", nil, owner, spender)
	if err != nil {
		return nil, err
	}
	return AsBigInt(values[0])
}

// Decimals reads ERC20 decimals.
func Decimals(ctx context.Context, caller Caller, token common.Address) (uint8, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return 0, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := Call(ctx, caller, token, parsed, "decimals", nil)
	if err != nil {
		return 0, err
	}
	return AsUint8(values[0])
}

// Symbol reads ERC20 symbol, falling back to the bytes32 variant some older
// tokens return.
func Symbol(ctx context.Context, caller Caller, token common.Address) (string, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return "", fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := Call(ctx, caller, token, parsed, "symbol", nil)
	if err == nil {
		if symbol, ok := values[0].(string); ok {
			return symbol, nil
		}
	}

	legacy, perr := erc20Bytes32ABI()
	if perr != nil {
		return "", fmt.Errorf("parse erc20 bytes32 abi: %w", perr)
	}
	values, err2 := Call(ctx, caller, token, legacy, "symbol", nil)
	if err2 != nil {
		if err != nil {
			return "", err
		}
		return "", err2
	}
	if symbol, ok := bytes32ToString(values[0]); ok {
		return symbol, nil
	}
	return "", fmt.Errorf("symbol: unsupported type %T", values[0])
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

// AsAddress converts an unpacked ABI value to an address.
func AsAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		if v == nil {
			return common.Address{}, fmt.Errorf("nil address")
		}
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

// AsBigInt converts an unpacked ABI integer to a fresh *big.Int.
func AsBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

// AsUint8 converts an unpacked ABI value to uint8, rejecting overflow.
func AsUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case uint16, uint32, uint64, *big.Int:
		n, err := AsBigInt(v)
		if err != nil {
			return 0, err
		}
		if !n.IsUint64() || n.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %s", n.String())
		}
		return uint8(n.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
