package orders

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"orderScope/internal/batch"
	"orderScope/internal/cache"
	"orderScope/internal/catalog"
	"orderScope/internal/chain/chaintest"
	"orderScope/internal/model"
)

var (
	marketA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	marketB = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	marketC = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	alice   = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type staticCatalog struct {
	markets []model.Market
}

func (s staticCatalog) Fetch(context.Context) catalog.Catalog {
	return catalog.Catalog{Markets: s.markets}
}

func order(id int64, seller common.Address, active bool) chaintest.OrderTuple {
	return chaintest.OrderTuple{
		OrderId:                     big.NewInt(id),
		Seller:                      seller,
		YTokenAmountRemaining:       new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17)), // 1.5
		UnderlyingAmountRemaining:   big.NewInt(1e8),                                    // 1 BTC
		UnderlyingDecimals:          8,
		UnderlyingPrice:             new(big.Int).Mul(big.NewInt(60000), big.NewInt(1e18)),
		PremiumPerSmallestAssetUnit: big.NewInt(1e14),
		IsActive:                    active,
	}
}

func newAggregator(fake *chaintest.Chain, chunk uint64, markets ...model.Market) *Aggregator {
	return NewAggregator(Config{
		Chain:    fake,
		Reader:   batch.NewReader(fake, batch.Options{ChunkSize: chunk}, nil),
		Template: batch.OrdersTemplate(chaintest.OrdersCode),
		Catalog:  staticCatalog{markets: markets},
		Cache:    cache.New(nil),
		TTL:      time.Minute,
	})
}

func TestMarketOrdersPinsOneBlock(t *testing.T) {
	fake := chaintest.New()
	fake.BlockNumber = 77
	fake.Orders[marketA] = []chaintest.OrderTuple{
		order(0, alice, true), order(1, bob, true), order(2, alice, false), order(3, bob, true), order(4, alice, true),
	}
	agg := newAggregator(fake, 2)

	book, err := agg.MarketOrders(context.Background(), marketA)
	if err != nil {
		t.Fatalf("market orders: %v", err)
	}
	if book.Block != 77 || book.Count != 5 || len(book.Orders) != 5 {
		t.Fatalf("unexpected book: block=%d count=%d orders=%d", book.Block, book.Count, len(book.Orders))
	}
	if fake.TemplateCalls() != 3 {
		t.Fatalf("expected 3 chunk calls, got %d", fake.TemplateCalls())
	}
	for i, b := range fake.Blocks() {
		if b == nil || b.Uint64() != 77 {
			t.Fatalf("call %d not pinned to block 77: %v", i, b)
		}
	}
}

func TestMarketOrdersDerivedFields(t *testing.T) {
	fake := chaintest.New()
	fake.Orders[marketA] = []chaintest.OrderTuple{order(0, alice, true)}
	agg := newAggregator(fake, 0)

	book, err := agg.MarketOrders(context.Background(), marketA)
	if err != nil {
		t.Fatalf("market orders: %v", err)
	}
	o := book.Orders[0]
	if o.AmountFormatted != "1.50000000" {
		t.Fatalf("amount: got %s", o.AmountFormatted)
	}
	if o.PremiumPerUnitFormatted != "0.0001" {
		t.Fatalf("premium per unit: got %s", o.PremiumPerUnitFormatted)
	}
	// 1e8 sats at 1e14 per sat.
	if want, _ := new(big.Int).SetString("10000000000000000000000", 10); o.PremiumCost.Cmp(want) != 0 {
		t.Fatalf("premium cost: got %s", o.PremiumCost)
	}
	if o.PremiumFormatted != "10000.000000" {
		t.Fatalf("premium formatted: got %s", o.PremiumFormatted)
	}
	if o.WorthUnderlying.String() != "60000" {
		t.Fatalf("worth: got %s", o.WorthUnderlying)
	}
	if !o.PremiumPercentOK || o.PremiumPercent.String() != "16.66666667" {
		t.Fatalf("premium percent: got %s ok=%v", o.PremiumPercent, o.PremiumPercentOK)
	}
}

func TestMarketOrdersZeroWorthHasNoPercent(t *testing.T) {
	fake := chaintest.New()
	o := order(0, alice, true)
	o.UnderlyingPrice = big.NewInt(0)
	fake.Orders[marketA] = []chaintest.OrderTuple{o}
	agg := newAggregator(fake, 0)

	book, err := agg.MarketOrders(context.Background(), marketA)
	if err != nil {
		t.Fatalf("market orders: %v", err)
	}
	if book.Orders[0].PremiumPercentOK {
		t.Fatalf("expected no premium percent for zero worth")
	}
}

func TestMarketOrdersZeroCountSkipsChunks(t *testing.T) {
	fake := chaintest.New()
	agg := newAggregator(fake, 0)

	book, err := agg.MarketOrders(context.Background(), marketA)
	if err != nil {
		t.Fatalf("market orders: %v", err)
	}
	if len(book.Orders) != 0 || fake.TemplateCalls() != 0 {
		t.Fatalf("expected no chunk calls, got %d orders and %d calls", len(book.Orders), fake.TemplateCalls())
	}
	if fake.Calls("orderCounter") != 1 {
		t.Fatalf("expected one count read, got %d", fake.Calls("orderCounter"))
	}
}

func TestMarketOrdersCachedUntilInvalidated(t *testing.T) {
	fake := chaintest.New()
	fake.Orders[marketA] = []chaintest.OrderTuple{order(0, alice, true)}
	agg := newAggregator(fake, 0)
	ctx := context.Background()

	if _, err := agg.MarketOrders(ctx, marketA); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, err := agg.MarketOrders(ctx, marketA); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if fake.Calls("orderCounter") != 1 {
		t.Fatalf("expected cached book, got %d count reads", fake.Calls("orderCounter"))
	}

	agg.Invalidate(ctx, marketA)
	if _, err := agg.MarketOrders(ctx, marketA); err != nil {
		t.Fatalf("third read: %v", err)
	}
	if fake.Calls("orderCounter") != 2 {
		t.Fatalf("expected refetch after invalidation, got %d count reads", fake.Calls("orderCounter"))
	}
}

func TestMarketOrdersUnconfiguredTemplate(t *testing.T) {
	fake := chaintest.New()
	fake.Orders[marketA] = []chaintest.OrderTuple{order(0, alice, true)}
	agg := NewAggregator(Config{
		Chain:    fake,
		Reader:   batch.NewReader(fake, batch.Options{}, nil),
		Template: batch.OrdersTemplate("0x..."),
	})

	book, err := agg.MarketOrders(context.Background(), marketA)
	if err != nil || len(book.Orders) != 0 {
		t.Fatalf("expected empty book, got %+v, %v", book, err)
	}
	if fake.Calls("orderCounter") != 0 {
		t.Fatalf("expected no calls")
	}
}

func TestOwnerOrdersIsolatesFailingMarket(t *testing.T) {
	fake := chaintest.New()
	fake.Orders[marketA] = []chaintest.OrderTuple{order(0, alice, true), order(1, bob, true)}
	fake.Orders[marketB] = []chaintest.OrderTuple{order(0, alice, true)}
	fake.Orders[marketC] = []chaintest.OrderTuple{order(0, bob, true), order(1, alice, false)}
	fake.FailMarkets[marketB] = errors.New("rpc unavailable")

	agg := newAggregator(fake, 0,
		model.Market{ID: marketA, DisplayName: "yvA"},
		model.Market{ID: marketB, DisplayName: "yvB"},
		model.Market{ID: marketC, DisplayName: "yvC"},
	)

	got := agg.OwnerOrders(context.Background(), common.HexToAddress("0x000000000000000000000000000000000000A11C"))

	if len(got.Errors) != 1 || got.Errors[marketB] == nil {
		t.Fatalf("expected only market B to fail, got %v", got.Errors)
	}
	if len(got.Orders) != 2 {
		t.Fatalf("expected 2 orders for alice, got %d", len(got.Orders))
	}
	var names []string
	for _, o := range got.Orders {
		if o.Seller != alice {
			t.Fatalf("order from another seller: %s", o.Seller.Hex())
		}
		if o.AmountFormatted != "1.5000" {
			t.Fatalf("expected 4-digit amount, got %s", o.AmountFormatted)
		}
		names = append(names, o.MarketName)
	}
	if !reflect.DeepEqual(names, []string{"yvA", "yvC"}) {
		t.Fatalf("unexpected markets %v", names)
	}

	// The owner view must not rewrite the cached market view.
	book, err := agg.MarketOrders(context.Background(), marketA)
	if err != nil {
		t.Fatalf("market orders: %v", err)
	}
	if book.Orders[0].AmountFormatted != "1.50000000" {
		t.Fatalf("cached book was modified: %s", book.Orders[0].AmountFormatted)
	}
}

func TestOwnerOrdersFetchesMarketsConcurrently(t *testing.T) {
	fake := chaintest.New()
	fake.Orders[marketA] = []chaintest.OrderTuple{order(0, alice, true)}
	fake.Orders[marketB] = []chaintest.OrderTuple{order(0, alice, true)}
	fake.Orders[marketC] = []chaintest.OrderTuple{order(0, alice, true)}
	fake.HoldTemplates = 3

	agg := newAggregator(fake, 0,
		model.Market{ID: marketA, DisplayName: "yvA"},
		model.Market{ID: marketB, DisplayName: "yvB"},
		model.Market{ID: marketC, DisplayName: "yvC"},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := agg.OwnerOrders(ctx, alice)

	if len(got.Errors) != 0 || len(got.Orders) != 3 {
		t.Fatalf("markets were not fetched together: errors=%v orders=%d", got.Errors, len(got.Orders))
	}
	if peak := fake.PeakTemplateCalls(); peak != 3 {
		t.Fatalf("expected 3 market reads in flight, peak was %d", peak)
	}
}

func TestOwnerOrdersEmptyCatalog(t *testing.T) {
	agg := newAggregator(chaintest.New(), 0)
	got := agg.OwnerOrders(context.Background(), alice)
	if len(got.Orders) != 0 || len(got.Errors) != 0 || got.CatalogErr != nil {
		t.Fatalf("expected empty result, got %+v", got)
	}
}

func fixture(id int64, amount, ppu int64, active bool) model.Order {
	return model.Order{
		OrderID:         big.NewInt(id),
		RemainingAmount: big.NewInt(amount),
		PremiumPerUnit:  big.NewInt(ppu),
		PremiumCost:     big.NewInt(amount * ppu),
		IsActive:        active,
	}
}

func ids(orders []model.Order) []int64 {
	out := make([]int64, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.OrderID.Int64())
	}
	return out
}

func TestPresentationHelpers(t *testing.T) {
	list := []model.Order{
		fixture(1, 30, 5, true),
		fixture(2, 10, 2, false),
		fixture(3, 20, 7, true),
		fixture(4, 0, 1, true),
	}

	if got := ids(ActiveOnly(list)); !reflect.DeepEqual(got, []int64{1, 3, 4}) {
		t.Fatalf("active: got %v", got)
	}
	if got := ids(Sort(list, SortAmount, Descending)); !reflect.DeepEqual(got, []int64{1, 3, 2, 4}) {
		t.Fatalf("amount desc: got %v", got)
	}
	if got := ids(Sort(list, SortPremiumPerUnit, Ascending)); !reflect.DeepEqual(got, []int64{4, 2, 1, 3}) {
		t.Fatalf("ppu asc: got %v", got)
	}
	if got := ids(Sort(list, SortPremium, DirectionNone)); !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Fatalf("none: got %v", got)
	}
	if got := ids(list); !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Fatalf("input was reordered: %v", got)
	}

	best, ok := BestPremium(list)
	if !ok || best.OrderID.Int64() != 1 {
		t.Fatalf("best premium: got %v ok=%v", best.OrderID, ok)
	}
	if _, ok := BestPremium(nil); ok {
		t.Fatalf("expected no best premium for an empty list")
	}
}

func TestActiveOnlyKeepsActiveOrdersWithNothingRemaining(t *testing.T) {
	list := []model.Order{
		fixture(1, 5, 1, true),
		fixture(2, 0, 1, true),
		fixture(3, 5, 1, false),
	}
	if got := ids(ActiveOnly(list)); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("active: got %v", got)
	}
	if list[1].Purchasable() {
		t.Fatalf("an order with nothing remaining must not be purchasable")
	}
}

func TestSortPremiumPercentPutsMissingLast(t *testing.T) {
	withPercent := func(id int64, pct string) model.Order {
		o := fixture(id, 1, 1, true)
		o.PremiumPercent = decimal.RequireFromString(pct)
		o.PremiumPercentOK = true
		return o
	}
	list := []model.Order{
		fixture(1, 1, 1, true),
		withPercent(2, "3"),
		fixture(3, 1, 1, true),
		withPercent(4, "1.5"),
	}

	if got := ids(Sort(list, SortPremiumPercent, Ascending)); !reflect.DeepEqual(got, []int64{4, 2, 1, 3}) {
		t.Fatalf("percent asc: got %v", got)
	}
	if got := ids(Sort(list, SortPremiumPercent, Descending)); !reflect.DeepEqual(got, []int64{2, 4, 1, 3}) {
		t.Fatalf("percent desc: got %v", got)
	}
}

func TestSortOptions(t *testing.T) {
	if k, err := ParseSortKey(" Premium-Percent "); err != nil || k != SortPremiumPercent {
		t.Fatalf("parse key: %v %v", k, err)
	}
	if _, err := ParseSortKey("size"); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if d, err := ParseDirection("ASC"); err != nil || d != Ascending {
		t.Fatalf("parse direction: %v %v", d, err)
	}
	d := DirectionNone
	var seen []Direction
	for i := 0; i < 3; i++ {
		d = d.Next()
		seen = append(seen, d)
	}
	if !reflect.DeepEqual(seen, []Direction{Descending, Ascending, DirectionNone}) {
		t.Fatalf("unexpected cycle %v", seen)
	}
}
