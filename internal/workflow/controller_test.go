package workflow

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"orderScope/internal/balances"
	"orderScope/internal/cache"
	"orderScope/internal/chain/chaintest"
)

var (
	owner       = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	marketplace = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	stable      = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	asset       = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

type recordingBooks struct {
	invalidated []common.Address
}

func (r *recordingBooks) Invalidate(_ context.Context, market common.Address) {
	r.invalidated = append(r.invalidated, market)
}

type harness struct {
	fake  *chaintest.Chain
	tx    *chaintest.Transactor
	books *recordingBooks
	reads *balances.Reader
}

func newHarness() *harness {
	fake := chaintest.New()
	return &harness{
		fake:  fake,
		tx:    chaintest.NewTransactor(fake, owner),
		books: &recordingBooks{},
		reads: balances.NewReader(fake, cache.New(nil), time.Minute, nil, nil),
	}
}

func buyPlan(t *testing.T, amount, remaining int64) Plan {
	t.Helper()
	call, err := BuyCall(marketplace, big.NewInt(7), big.NewInt(amount), big.NewInt(remaining))
	if err != nil {
		t.Fatalf("buy call: %v", err)
	}
	return Plan{
		Kind:   KindBuy,
		Owner:  owner,
		Market: marketplace,
		Approvals: []Approval{
			{Token: stable, Spender: marketplace, Required: big.NewInt(500), Request: big.NewInt(500)},
			{Token: asset, Spender: marketplace, Required: big.NewInt(80), Request: big.NewInt(1000)},
		},
		Submit: call,
	}
}

func (h *harness) controller(t *testing.T, plan Plan) *Controller {
	t.Helper()
	c, err := New(plan, h.tx, h.reads, h.books, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func TestRunApprovesInOrderThenBuysFullOrder(t *testing.T) {
	h := newHarness()
	c := h.controller(t, buyPlan(t, 10, 10))

	receipt, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if receipt == nil || c.State() != Done {
		t.Fatalf("expected done with receipt, got %s", c.State())
	}
	if got := h.tx.Methods(); !reflect.DeepEqual(got, []string{"approve", "approve", "buyFullOrder"}) {
		t.Fatalf("unexpected calls %v", got)
	}
	sent := h.tx.Sent()
	if sent[0].To != stable || sent[1].To != asset {
		t.Fatalf("approvals out of order: %s, %s", sent[0].To.Hex(), sent[1].To.Hex())
	}
	if sent[1].Args[1].(*big.Int).Int64() != 1000 {
		t.Fatalf("expected requested amount to be approved, got %v", sent[1].Args[1])
	}
	if !reflect.DeepEqual(h.books.invalidated, []common.Address{marketplace}) {
		t.Fatalf("expected market book invalidation, got %v", h.books.invalidated)
	}
	if c.Pending() != nil {
		t.Fatalf("expected no pending transaction")
	}
}

func TestPartialBuyUsesBuyOrder(t *testing.T) {
	h := newHarness()
	h.fake.SetAllowance(stable, owner, marketplace, big.NewInt(500))
	h.fake.SetAllowance(asset, owner, marketplace, big.NewInt(80))
	c := h.controller(t, buyPlan(t, 4, 10))

	if _, err := c.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	sent := h.tx.Sent()
	if len(sent) != 1 || sent[0].Method != "buyOrder" {
		t.Fatalf("expected a single buyOrder, got %v", h.tx.Methods())
	}
	if sent[0].Args[1].(*big.Int).Int64() != 4 {
		t.Fatalf("expected amount argument 4, got %v", sent[0].Args[1])
	}
}

func TestSubmitRefusedWhileAllowanceShort(t *testing.T) {
	h := newHarness()
	c := h.controller(t, buyPlan(t, 10, 10))
	ctx := context.Background()

	state, err := c.Prepare(ctx)
	if err != nil || state != NeedsApprovalA {
		t.Fatalf("expected needs approval A, got %s, %v", state, err)
	}
	if _, err := c.Submit(ctx); !errors.Is(err, ErrApprovalRequired) {
		t.Fatalf("expected ErrApprovalRequired, got %v", err)
	}
	if len(h.tx.Sent()) != 0 {
		t.Fatalf("nothing should have been sent, got %v", h.tx.Methods())
	}
	if c.State() != NeedsApprovalA {
		t.Fatalf("expected to stay in needs approval A, got %s", c.State())
	}
}

func TestPrepareSkipsCoveredApproval(t *testing.T) {
	h := newHarness()
	h.fake.SetAllowance(stable, owner, marketplace, big.NewInt(500))
	c := h.controller(t, buyPlan(t, 10, 10))

	state, err := c.Prepare(context.Background())
	if err != nil || state != NeedsApprovalB {
		t.Fatalf("expected needs approval B, got %s, %v", state, err)
	}
}

func TestApprovalNotReflectedOnChainHalts(t *testing.T) {
	h := newHarness()
	h.tx.IgnoreApprovals = true
	c := h.controller(t, buyPlan(t, 10, 10))
	ctx := context.Background()

	if _, err := c.Prepare(ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := c.Approve(ctx); !errors.Is(err, ErrApprovalRequired) {
		t.Fatalf("expected ErrApprovalRequired, got %v", err)
	}
	if c.State() != NeedsApprovalA {
		t.Fatalf("expected needs approval A, got %s", c.State())
	}
}

func TestRevertedSubmissionMovesToError(t *testing.T) {
	h := newHarness()
	h.tx.Revert["buyFullOrder"] = true
	c := h.controller(t, buyPlan(t, 10, 10))
	ctx := context.Background()
	firstRun := c.ID()

	if _, err := c.Run(ctx); !errors.Is(err, ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
	if c.State() != Error || !errors.Is(c.Err(), ErrReverted) {
		t.Fatalf("expected error state, got %s (%v)", c.State(), c.Err())
	}
	if c.Pending() != nil {
		t.Fatalf("pending transaction should be cleared")
	}
	if len(h.books.invalidated) != 0 {
		t.Fatalf("nothing should be invalidated on failure")
	}
	// Granted approvals stay in place.
	snap, err := h.reads.RefreshAllowance(ctx, owner, stable, marketplace)
	if err != nil || snap.Value.Int64() != 500 {
		t.Fatalf("expected approval to remain, got %v, %v", snap.Value, err)
	}

	if _, err := c.Submit(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected no automatic retry, got %v", err)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if c.State() != Idle || c.Err() != nil || c.ID() == firstRun {
		t.Fatalf("unexpected state after reset: %s %v %s", c.State(), c.Err(), c.ID())
	}
}

func TestRejectedApprovalMovesToError(t *testing.T) {
	h := newHarness()
	h.tx.Reject["approve"] = errors.New("user rejected the request")
	c := h.controller(t, buyPlan(t, 10, 10))
	ctx := context.Background()

	if _, err := c.Prepare(ctx); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := c.Approve(ctx); err == nil {
		t.Fatalf("expected rejection error")
	}
	if c.State() != Error {
		t.Fatalf("expected error state, got %s", c.State())
	}
}

func TestApproveOutsideNeedsApproval(t *testing.T) {
	h := newHarness()
	c := h.controller(t, buyPlan(t, 10, 10))
	if _, err := c.Approve(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelNeedsNoApproval(t *testing.T) {
	h := newHarness()
	call, err := CancelCall(marketplace, big.NewInt(3))
	if err != nil {
		t.Fatalf("cancel call: %v", err)
	}
	c := h.controller(t, Plan{Kind: KindCancel, Market: marketplace, Submit: call})

	state, err := c.Prepare(context.Background())
	if err != nil || state != Ready {
		t.Fatalf("expected ready, got %s, %v", state, err)
	}
	if _, err := c.Submit(context.Background()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := h.tx.Methods(); !reflect.DeepEqual(got, []string{"cancelOrder"}) {
		t.Fatalf("unexpected calls %v", got)
	}
}

func TestNewRejectsBadPlans(t *testing.T) {
	h := newHarness()
	call, _ := CancelCall(marketplace, big.NewInt(1))
	approval := Approval{Token: stable, Spender: marketplace, Required: big.NewInt(1), Request: big.NewInt(1)}

	cases := []struct {
		name string
		plan Plan
	}{
		{"too many approvals", Plan{Submit: call, Approvals: []Approval{approval, approval, approval}}},
		{"request below required", Plan{Submit: call, Approvals: []Approval{{Token: stable, Required: big.NewInt(2), Request: big.NewInt(1)}}}},
		{"no submission", Plan{}},
		{"foreign owner", Plan{Owner: stable, Submit: call}},
	}
	for _, tc := range cases {
		if _, err := New(tc.plan, h.tx, h.reads, nil, nil); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestBuyCallRejectsExcessAmount(t *testing.T) {
	if _, err := BuyCall(marketplace, big.NewInt(1), big.NewInt(11), big.NewInt(10)); err == nil {
		t.Fatalf("expected error for amount above remaining")
	}
}

func TestStateNames(t *testing.T) {
	if NeedsApprovalB.String() != "needs_approval_b" || Error.String() != "error" || State(42).String() != "State(42)" {
		t.Fatalf("unexpected state names")
	}
}
