package orders

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"orderScope/internal/model"
)

// SortKey selects the column an order list is sorted by.
type SortKey string

const (
	SortAmount         SortKey = "amount"
	SortWorth          SortKey = "worth"
	SortPremium        SortKey = "premium"
	SortPremiumPercent SortKey = "premium-percent"
	SortPremiumPerUnit SortKey = "premium-per-unit"
)

// Direction is a sort direction. DirectionNone keeps the fetch order.
type Direction string

const (
	Ascending     Direction = "asc"
	Descending    Direction = "desc"
	DirectionNone Direction = ""
)

// ParseSortKey accepts the names of the SortKey constants, case-insensitively.
func ParseSortKey(s string) (SortKey, error) {
	k := SortKey(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case SortAmount, SortWorth, SortPremium, SortPremiumPercent, SortPremiumPerUnit:
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// ParseDirection accepts asc, desc or the empty string.
func ParseDirection(s string) (Direction, error) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case Ascending, Descending, DirectionNone:
		return d, nil
	}
	return "", fmt.Errorf("unknown sort direction %q", s)
}

// Next cycles a column header click: none, then desc, then asc, then none.
func (d Direction) Next() Direction {
	switch d {
	case DirectionNone:
		return Descending
	case Descending:
		return Ascending
	default:
		return DirectionNone
	}
}

// ActiveOnly returns the orders flagged active on chain, preserving order.
// An active order with nothing remaining is still returned; use
// Order.Purchasable to decide whether it can be bought.
func ActiveOnly(orders []model.Order) []model.Order {
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if o.IsActive {
			out = append(out, o)
		}
	}
	return out
}

// Sort returns a sorted copy of orders. The input slice is not modified, so
// it is safe to pass a cached book. Ties keep their fetch order.
func Sort(orders []model.Order, key SortKey, dir Direction) []model.Order {
	out := append([]model.Order(nil), orders...)
	if dir == DirectionNone {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		if key == SortPremiumPercent && out[i].PremiumPercentOK != out[j].PremiumPercentOK {
			// Orders without a percentage go last in both directions.
			return out[i].PremiumPercentOK
		}
		c := compare(out[i], out[j], key)
		if dir == Descending {
			return c > 0
		}
		return c < 0
	})
	return out
}

func compare(a, b model.Order, key SortKey) int {
	switch key {
	case SortAmount:
		return compareInt(a.RemainingAmount, b.RemainingAmount)
	case SortWorth:
		return a.WorthUnderlying.Cmp(b.WorthUnderlying)
	case SortPremium:
		return compareInt(a.PremiumCost, b.PremiumCost)
	case SortPremiumPercent:
		return a.PremiumPercent.Cmp(b.PremiumPercent)
	case SortPremiumPerUnit:
		return compareInt(a.PremiumPerUnit, b.PremiumPerUnit)
	}
	return 0
}

func compareInt(a, b *big.Int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Cmp(b)
}

// BestPremium returns the active order with the lowest premium per unit.
func BestPremium(orders []model.Order) (model.Order, bool) {
	var best model.Order
	found := false
	for _, o := range orders {
		if !o.Purchasable() || o.PremiumPerUnit == nil {
			continue
		}
		if !found || o.PremiumPerUnit.Cmp(best.PremiumPerUnit) < 0 {
			best = o
			found = true
		}
	}
	return best, found
}
