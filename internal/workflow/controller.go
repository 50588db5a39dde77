// Package workflow drives marketplace writes through an explicit approval and
// submission state machine.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"orderScope/internal/chain"
	"orderScope/internal/contracts"
	"orderScope/internal/metrics"
	"orderScope/internal/model"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed in the
	// current state.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrApprovalRequired is returned when submission is attempted while an
	// allowance is still short.
	ErrApprovalRequired = errors.New("approval required")
	// ErrReverted is returned when a mined transaction has a failed status.
	ErrReverted = errors.New("transaction reverted")
)

// State is a workflow state.
type State int

const (
	Idle State = iota
	NeedsApprovalA
	ApprovingA
	NeedsApprovalB
	ApprovingB
	// Ready means every allowance covers the plan and submission may start.
	Ready
	Submitting
	Confirming
	Done
	Error
)

var stateNames = [...]string{
	Idle:           "idle",
	NeedsApprovalA: "needs_approval_a",
	ApprovingA:     "approving_a",
	NeedsApprovalB: "needs_approval_b",
	ApprovingB:     "approving_b",
	Ready:          "ready",
	Submitting:     "submitting",
	Confirming:     "confirming",
	Done:           "done",
	Error:          "error",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// evaluated are the states an allowance check can land in.
var evaluated = []State{NeedsApprovalA, NeedsApprovalB, Ready}

var transitions = map[State][]State{
	Idle:           evaluated,
	NeedsApprovalA: append([]State{ApprovingA}, evaluated...),
	ApprovingA:     evaluated,
	NeedsApprovalB: append([]State{ApprovingB}, evaluated...),
	ApprovingB:     evaluated,
	Ready:          append([]State{Submitting}, evaluated...),
	Submitting:     {Confirming},
	Confirming:     {Done},
	Done:           {Idle},
	Error:          {Idle},
}

// Allowances reads live allowances and drops an owner's cached reads.
type Allowances interface {
	RefreshAllowance(ctx context.Context, owner, token, spender common.Address) (model.AllowanceSnapshot, error)
	InvalidateOwner(ctx context.Context, owner common.Address)
}

// OrderBooks drops a market's cached order book.
type OrderBooks interface {
	Invalidate(ctx context.Context, market common.Address)
}

// Controller runs one Plan. Its methods are safe for concurrent use; an
// action started in the wrong state fails with ErrInvalidTransition.
type Controller struct {
	plan       Plan
	tx         chain.Transactor
	allowances Allowances
	books      OrderBooks
	logger     *zap.Logger

	mu      sync.Mutex
	id      uuid.UUID
	state   State
	pending *types.Transaction
	err     error
}

// New builds a Controller for plan. books may be nil.
func New(plan Plan, tx chain.Transactor, allowances Allowances, books OrderBooks, logger *zap.Logger) (*Controller, error) {
	if tx == nil {
		return nil, fmt.Errorf("transactor is nil")
	}
	if allowances == nil {
		return nil, fmt.Errorf("allowance source is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if plan.Owner == (common.Address{}) {
		plan.Owner = tx.From()
	}
	if plan.Owner != tx.From() {
		return nil, fmt.Errorf("plan owner %s is not the signer %s", plan.Owner.Hex(), tx.From().Hex())
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		plan:       plan,
		tx:         tx,
		allowances: allowances,
		books:      books,
		id:         uuid.New(),
	}
	c.logger = logger.With(zap.String("run", c.id.String()), zap.Stringer("kind", plan.Kind))
	return c, nil
}

// ID identifies the current run. It changes on Reset.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id.String()
}

// Plan returns the plan being driven.
func (c *Controller) Plan() Plan {
	return c.plan
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the workflow to Error.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Pending returns the in-flight transaction, if any.
func (c *Controller) Pending() *types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Prepare reads every required allowance from chain and moves to the first
// approval still short, or to Ready.
func (c *Controller) Prepare(ctx context.Context) (State, error) {
	if err := c.expect(Idle, NeedsApprovalA, NeedsApprovalB, Ready); err != nil {
		return c.State(), err
	}
	next, err := c.evaluate(ctx)
	if err != nil {
		return c.State(), err
	}
	if err := c.move(next); err != nil {
		return c.State(), err
	}
	return next, nil
}

// Approve sends the approval the current NeedsApproval state asks for, waits
// for it to be mined, then re-reads the allowances before moving on.
func (c *Controller) Approve(ctx context.Context) (*types.Receipt, error) {
	c.mu.Lock()
	var index int
	var approving State
	switch c.state {
	case NeedsApprovalA:
		index, approving = 0, ApprovingA
	case NeedsApprovalB:
		index, approving = 1, ApprovingB
	default:
		state := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: approve in state %s", ErrInvalidTransition, state)
	}
	if err := c.moveLocked(approving); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	approval := c.plan.Approvals[index]
	parsed, err := contracts.ERC20ABI()
	if err != nil {
		return nil, c.fail(err)
	}
	tx, err := c.tx.Transact(ctx, approval.Token, parsed, "approve", approval.Spender, approval.Request)
	if err != nil {
		return nil, c.fail(fmt.Errorf("approve %s: %w", approval.Token.Hex(), err))
	}
	receipt, err := c.confirm(ctx, tx)
	if err != nil {
		return nil, c.fail(err)
	}

	next, err := c.evaluate(ctx)
	if err != nil {
		return receipt, c.fail(err)
	}
	c.clearPending()
	if err := c.move(next); err != nil {
		return receipt, err
	}
	if next == needs(index) {
		return receipt, fmt.Errorf("%w: allowance of %s still below %s after approval", ErrApprovalRequired, approval.Token.Hex(), approval.Required)
	}
	return receipt, nil
}

// Submit re-checks every allowance, sends the plan's call and waits for it to
// be mined. It refuses to send while any allowance is short. On success the
// owner's balances and allowances and the market's order book are
// invalidated.
func (c *Controller) Submit(ctx context.Context) (*types.Receipt, error) {
	if err := c.expect(Idle, NeedsApprovalA, NeedsApprovalB, Ready); err != nil {
		return nil, err
	}
	next, err := c.evaluate(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.move(next); err != nil {
		return nil, err
	}
	if next != Ready {
		return nil, fmt.Errorf("%w: workflow is in %s", ErrApprovalRequired, next)
	}
	if err := c.move(Submitting); err != nil {
		return nil, err
	}

	call := c.plan.Submit
	tx, err := c.tx.Transact(ctx, call.Contract, call.ABI, call.Method, call.Args...)
	if err != nil {
		return nil, c.fail(fmt.Errorf("%s: %w", call.Method, err))
	}
	if err := c.move(Confirming); err != nil {
		return nil, c.fail(err)
	}
	receipt, err := c.confirm(ctx, tx)
	if err != nil {
		return nil, c.fail(err)
	}

	c.clearPending()
	if err := c.move(Done); err != nil {
		return receipt, err
	}
	c.allowances.InvalidateOwner(ctx, c.plan.Owner)
	if c.books != nil {
		c.books.Invalidate(ctx, c.plan.Market)
	}
	return receipt, nil
}

// Run drives the workflow from its current state to Done: every missing
// approval is sent in order, then the plan is submitted.
func (c *Controller) Run(ctx context.Context) (*types.Receipt, error) {
	state, err := c.Prepare(ctx)
	if err != nil {
		return nil, err
	}
	for state == NeedsApprovalA || state == NeedsApprovalB {
		if _, err := c.Approve(ctx); err != nil {
			return nil, err
		}
		state = c.State()
	}
	return c.Submit(ctx)
}

// Reset returns a finished or failed workflow to Idle under a new run id.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.moveLocked(Idle); err != nil {
		return err
	}
	c.id = uuid.New()
	c.err = nil
	return nil
}

func (c *Controller) evaluate(ctx context.Context) (State, error) {
	for i, a := range c.plan.Approvals {
		snap, err := c.allowances.RefreshAllowance(ctx, c.plan.Owner, a.Token, a.Spender)
		if err != nil {
			return 0, fmt.Errorf("read allowance %s: %w", a.Token.Hex(), err)
		}
		if !snap.Covers(a.Required) {
			return needs(i), nil
		}
	}
	return Ready, nil
}

func needs(index int) State {
	if index == 0 {
		return NeedsApprovalA
	}
	return NeedsApprovalB
}

func (c *Controller) confirm(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	c.mu.Lock()
	c.pending = tx
	c.mu.Unlock()

	receipt, err := c.tx.WaitMined(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	c.logger.Info("transaction confirmed",
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return receipt, nil
}

func (c *Controller) expect(states ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range states {
		if c.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: not allowed in state %s", ErrInvalidTransition, c.state)
}

func (c *Controller) move(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(to)
}

func (c *Controller) moveLocked(to State) error {
	if c.state == to && to != Submitting && to != Confirming {
		return nil
	}
	allowed := false
	for _, s := range transitions[c.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
	}
	c.logger.Debug("workflow transition", zap.Stringer("from", c.state), zap.Stringer("to", to))
	c.state = to
	metrics.WorkflowTransitions.WithLabelValues(c.plan.Kind.String(), to.String()).Inc()
	return nil
}

// fail moves to Error from any state and drops the in-flight transaction.
// Allowances already granted on chain are left alone.
func (c *Controller) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Warn("workflow failed", zap.Stringer("state", c.state), zap.Error(err))
	c.state = Error
	c.pending = nil
	c.err = err
	metrics.WorkflowTransitions.WithLabelValues(c.plan.Kind.String(), Error.String()).Inc()
	return err
}

func (c *Controller) clearPending() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}
