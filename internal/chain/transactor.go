package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Transactor signs, sends and waits for contract transactions.
type Transactor interface {
	From() common.Address
	Transact(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...interface{}) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// KeyedTransactor is a Transactor backed by a local private key.
type KeyedTransactor struct {
	backend bind.ContractBackend
	waiter  bind.DeployBackend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *zap.Logger
}

// NewKeyedTransactor builds a transactor from a hex private key ("0x" optional).
func NewKeyedTransactor(ctx context.Context, client *Client, hexKey string, logger *zap.Logger) (*KeyedTransactor, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	chainID, err := client.GetChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	return &KeyedTransactor{
		backend: client.Backend(),
		waiter:  client.Backend(),
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		logger:  logger,
	}, nil
}

// From returns the signing address.
func (t *KeyedTransactor) From() common.Address {
	return t.from
}

// Transact packs and sends a contract call. Gas and fees are estimated by
// the bound contract.
func (t *KeyedTransactor) Transact(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...interface{}) (*types.Transaction, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(t.key, t.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transact opts: %w", err)
	}
	opts.Context = ctx

	bound := bind.NewBoundContract(contract, contractABI, t.backend, t.backend, t.backend)
	tx, err := bound.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	t.logger.Info("transaction sent",
		zap.String("method", method),
		zap.String("to", contract.Hex()),
		zap.String("tx", tx.Hash().Hex()),
	)
	return tx, nil
}

// WaitMined blocks until the transaction is mined or ctx is done.
func (t *KeyedTransactor) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, t.waiter, tx)
}
