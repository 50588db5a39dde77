package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"orderScope/internal/balances"
	"orderScope/internal/catalog"
	"orderScope/internal/contracts"
	"orderScope/internal/model"
	"orderScope/internal/orders"
	"orderScope/internal/trade"
	"orderScope/internal/workflow"
)

var (
	// ErrOrderNotFound is returned when a market has no order with the id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderInactive is returned when buying from a closed or empty order.
	ErrOrderInactive = errors.New("order is not active")
	// ErrNotSeller is returned when cancelling another seller's order.
	ErrNotSeller = errors.New("order belongs to another seller")
	// ErrMarketNotFound is returned when a market is not in the catalog.
	ErrMarketNotFound = errors.New("market not found")
)

// Shortfall is a balance below what an operation spends.
type Shortfall struct {
	Token    common.Address `json:"token"`
	Balance  *big.Int       `json:"balance"`
	Required *big.Int       `json:"required"`
}

// BuyPlan is a purchase ready for a workflow controller.
type BuyPlan struct {
	workflow.Plan
	Order      model.Order       `json:"order"`
	Amount     *big.Int          `json:"amount"`
	Purchase   string            `json:"purchase"`
	Cost       contracts.BuyCost `json:"cost"`
	AssetToken common.Address    `json:"asset_token"`
	Shortfalls []Shortfall       `json:"shortfalls,omitempty"`
}

// CreatePlan is a new order ready for a workflow controller.
type CreatePlan struct {
	workflow.Plan
	Token      common.Address    `json:"token"`
	Quote      trade.CreateQuote `json:"-"`
	Proceeds   string            `json:"proceeds"`
	Shortfalls []Shortfall       `json:"shortfalls,omitempty"`
}

// CancelPlan withdraws one of the owner's orders.
type CancelPlan struct {
	workflow.Plan
	Order model.Order `json:"order"`
}

// Funded reports whether every balance covers the plan.
func (p BuyPlan) Funded() bool { return len(p.Shortfalls) == 0 }

// Funded reports whether every balance covers the plan.
func (p CreatePlan) Funded() bool { return len(p.Shortfalls) == 0 }

// Planner turns user input into workflow plans. Every amount it puts into a
// plan is read from chain or parsed exactly; nothing is estimated.
type Planner struct {
	caller         contracts.Caller
	catalog        *catalog.Fetcher
	orders         *orders.Aggregator
	balances       *balances.Reader
	stable         common.Address
	feeBps         uint64
	exactApprovals bool
}

// PlanBuy prepares buying amount of the market token from an order.
// Approvals are stable first, then the underlying asset, both to the
// marketplace.
func (p *Planner) PlanBuy(ctx context.Context, owner, market common.Address, orderID *big.Int, amount string) (BuyPlan, error) {
	order, err := p.findOrder(ctx, market, orderID)
	if err != nil {
		return BuyPlan{}, err
	}
	if !order.Purchasable() {
		return BuyPlan{}, fmt.Errorf("%w: %s", ErrOrderInactive, orderID)
	}

	in := trade.ParseBuyInput(amount, order.RemainingAmount)
	if in.Err != nil {
		return BuyPlan{}, in.Err
	}
	cost, err := contracts.CalculateBuyCost(ctx, p.caller, market, orderID, in.Amount)
	if err != nil {
		return BuyPlan{}, err
	}
	assetToken, err := contracts.MarketAssetToken(ctx, p.caller, market)
	if err != nil {
		return BuyPlan{}, err
	}
	call, err := workflow.BuyCall(market, orderID, in.Amount, order.RemainingAmount)
	if err != nil {
		return BuyPlan{}, err
	}

	plan := BuyPlan{
		Plan: workflow.Plan{
			Kind:   workflow.KindBuy,
			Owner:  owner,
			Market: market,
			Approvals: []workflow.Approval{
				p.approval(p.stable, market, cost.StableAmount),
				p.approval(assetToken, market, cost.AssetAmount),
			},
			Submit: call,
		},
		Order:      order,
		Amount:     in.Amount,
		Purchase:   in.Kind.String(),
		Cost:       cost,
		AssetToken: assetToken,
	}
	plan.Shortfalls, err = p.shortfalls(ctx, owner, map[common.Address]*big.Int{
		p.stable:   cost.StableAmount,
		assetToken: cost.AssetAmount,
	}, p.stable, assetToken)
	if err != nil {
		return BuyPlan{}, err
	}
	return plan, nil
}

// PlanCreate prepares listing amount of the market token for totalPrice in
// the stable token. The premium per unit is derived from the underlying
// amount the tokens withdraw to.
func (p *Planner) PlanCreate(ctx context.Context, owner, market common.Address, amount, totalPrice string) (CreatePlan, error) {
	in := trade.ParseCreateInput(amount, totalPrice)
	if !in.Valid() {
		return CreatePlan{Quote: trade.CreateQuote{CreateInput: in}}, errors.Join(in.AmountErr, in.PriceErr)
	}

	m, ok := p.catalog.Fetch(ctx).Find(market)
	if !ok {
		return CreatePlan{}, fmt.Errorf("%w: %s", ErrMarketNotFound, market.Hex())
	}
	underlying, err := contracts.PreviewWithdraw(ctx, p.caller, m.Token, in.Amount)
	if err != nil {
		return CreatePlan{}, err
	}
	quote := trade.QuoteCreate(in, underlying, p.feeBps)
	if !quote.Submittable() {
		return CreatePlan{Quote: quote}, fmt.Errorf("quote: %w", quote.CalculationErr)
	}
	call, err := workflow.CreateCall(market, in.Amount, quote.PremiumPerUnit)
	if err != nil {
		return CreatePlan{}, err
	}

	plan := CreatePlan{
		Plan: workflow.Plan{
			Kind:      workflow.KindCreate,
			Owner:     owner,
			Market:    market,
			Approvals: []workflow.Approval{p.approval(m.Token, market, in.Amount)},
			Submit:    call,
		},
		Token:    m.Token,
		Quote:    quote,
		Proceeds: trade.FormatUnits(quote.Proceeds, trade.FixedPointDecimals),
	}
	plan.Shortfalls, err = p.shortfalls(ctx, owner, map[common.Address]*big.Int{m.Token: in.Amount}, m.Token)
	if err != nil {
		return CreatePlan{}, err
	}
	return plan, nil
}

// PlanCancel prepares withdrawing one of owner's orders.
func (p *Planner) PlanCancel(ctx context.Context, owner, market common.Address, orderID *big.Int) (CancelPlan, error) {
	order, err := p.findOrder(ctx, market, orderID)
	if err != nil {
		return CancelPlan{}, err
	}
	if order.Seller != owner {
		return CancelPlan{}, fmt.Errorf("%w: %s", ErrNotSeller, order.Seller.Hex())
	}
	call, err := workflow.CancelCall(market, orderID)
	if err != nil {
		return CancelPlan{}, err
	}
	return CancelPlan{
		Plan:  workflow.Plan{Kind: workflow.KindCancel, Owner: owner, Market: market, Submit: call},
		Order: order,
	}, nil
}

func (p *Planner) findOrder(ctx context.Context, market common.Address, orderID *big.Int) (model.Order, error) {
	book, err := p.orders.MarketOrders(ctx, market)
	if err != nil {
		return model.Order{}, err
	}
	for _, o := range book.Orders {
		if o.OrderID != nil && o.OrderID.Cmp(orderID) == 0 {
			return o, nil
		}
	}
	return model.Order{}, fmt.Errorf("%w: %s in %s", ErrOrderNotFound, orderID, market.Hex())
}

func (p *Planner) approval(token, spender common.Address, required *big.Int) workflow.Approval {
	request := trade.MaxUint256()
	if p.exactApprovals {
		request = new(big.Int).Set(required)
	}
	return workflow.Approval{Token: token, Spender: spender, Required: required, Request: request}
}

// shortfalls reads owner's balance of each token in order and reports those
// below the required amount.
func (p *Planner) shortfalls(ctx context.Context, owner common.Address, required map[common.Address]*big.Int, tokens ...common.Address) ([]Shortfall, error) {
	var out []Shortfall
	for _, token := range tokens {
		need := required[token]
		if need == nil || need.Sign() == 0 {
			continue
		}
		snap, err := p.balances.Balance(ctx, owner, token)
		if err != nil {
			return nil, err
		}
		if snap.Value == nil || snap.Value.Cmp(need) < 0 {
			out = append(out, Shortfall{Token: token, Balance: snap.Value, Required: need})
		}
	}
	return out, nil
}
