package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SentCall is one transaction recorded by Transactor.
type SentCall struct {
	To     common.Address
	Method string
	Args   []interface{}
}

// Transactor is a fake chain.Transactor. Approvals are applied to Chain when
// mined, unless IgnoreApprovals is set.
type Transactor struct {
	Chain *Chain
	Owner common.Address

	// Reject fails Transact for the named methods, as a wallet rejection would.
	Reject map[string]error
	// Revert mines the named methods with a failed status.
	Revert map[string]bool
	// IgnoreApprovals mines approvals without changing any allowance.
	IgnoreApprovals bool

	mu      sync.Mutex
	nonce   uint64
	sent    []SentCall
	byHash  map[common.Hash]SentCall
	pending map[common.Hash]func()
}

// NewTransactor returns a fake signer for owner on chain.
func NewTransactor(chain *Chain, owner common.Address) *Transactor {
	return &Transactor{
		Chain:   chain,
		Owner:   owner,
		Reject:  make(map[string]error),
		Revert:  make(map[string]bool),
		byHash:  make(map[common.Hash]SentCall),
		pending: make(map[common.Hash]func()),
	}
}

// From implements chain.Transactor.
func (t *Transactor) From() common.Address {
	return t.Owner
}

// Transact implements chain.Transactor.
func (t *Transactor) Transact(ctx context.Context, contract common.Address, contractABI abi.ABI, method string, args ...interface{}) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.Reject[method]; err != nil {
		return nil, err
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    t.nonce,
		To:       &contract,
		Gas:      100000,
		GasPrice: big.NewInt(1),
		Data:     data,
	})
	t.nonce++

	call := SentCall{To: contract, Method: method, Args: args}
	t.sent = append(t.sent, call)
	t.byHash[tx.Hash()] = call
	if method == "approve" && !t.IgnoreApprovals && !t.Revert[method] {
		spender := args[0].(common.Address)
		amount := args[1].(*big.Int)
		t.pending[tx.Hash()] = func() { t.Chain.SetAllowance(contract, t.Owner, spender, amount) }
	}
	return tx, nil
}

// WaitMined implements chain.Transactor.
func (t *Transactor) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	call := t.byHash[tx.Hash()]
	apply := t.pending[tx.Hash()]
	delete(t.pending, tx.Hash())
	t.mu.Unlock()

	if apply != nil {
		apply()
	}
	status := types.ReceiptStatusSuccessful
	if t.Revert[call.Method] {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: tx.Hash(), GasUsed: 21000}, nil
}

// Sent returns the methods sent so far, in order.
func (t *Transactor) Sent() []SentCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SentCall(nil), t.sent...)
}

// Methods returns the method names sent so far, in order.
func (t *Transactor) Methods() []string {
	sent := t.Sent()
	out := make([]string, 0, len(sent))
	for _, c := range sent {
		out = append(out, c.Method)
	}
	return out
}
