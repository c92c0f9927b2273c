// Package pricing implements the tiered quantity-discount calculator and the
// order totals aggregation. It is pure: no database, no clock.
package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/gtinworks/fulfillment/internal/apperr"
)

// Bracket is one tier of the discount curve: the total price charged at
// exactly MinQty units.
type Bracket struct {
	MinQty int
	Total  decimal.Decimal
}

// Table is a bracket table sorted ascending by MinQty.
type Table []Bracket

// NewTable copies and sorts brackets into a usable table.
func NewTable(brackets []Bracket) Table {
	t := make(Table, len(brackets))
	copy(t, brackets)
	sort.Slice(t, func(i, j int) bool { return t[i].MinQty < t[j].MinQty })
	return t
}

// Quote is the outcome of a price calculation, rounded to 2 decimals.
type Quote struct {
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// Price maps (basePrice, quantity) onto the bracket table.
//
// Below the table the base price applies per unit. At an exact bracket floor
// the bracket total applies verbatim. Between two brackets the total is
// interpolated linearly by position within the gap, so the curve has no
// price cliffs. Beyond the last bracket the last bracket's per-unit rate is
// extrapolated.
func (t Table) Price(basePrice decimal.Decimal, quantity int) (Quote, error) {
	if quantity < 1 {
		return Quote{}, apperr.Newf(apperr.KindValidation, "quantity must be at least 1, got %d", quantity)
	}

	qty := decimal.NewFromInt(int64(quantity))

	// current = highest bracket with MinQty <= quantity
	cur := -1
	for i := range t {
		if t[i].MinQty <= quantity {
			cur = i
		} else {
			break
		}
	}

	if cur < 0 {
		total := basePrice.Mul(qty).Round(2)
		return Quote{UnitPrice: basePrice.Round(2), Total: total}, nil
	}

	if t[cur].MinQty == quantity {
		total := t[cur].Total
		return Quote{UnitPrice: total.Div(qty).Round(2), Total: total.Round(2)}, nil
	}

	if cur+1 < len(t) {
		next := t[cur+1]
		gap := decimal.NewFromInt(int64(next.MinQty - t[cur].MinQty))
		pos := decimal.NewFromInt(int64(quantity - t[cur].MinQty))
		total := t[cur].Total.Add(pos.Div(gap).Mul(next.Total.Sub(t[cur].Total))).Round(2)
		return Quote{UnitPrice: total.Div(qty).Round(2), Total: total}, nil
	}

	last := t[len(t)-1]
	unit := last.Total.Div(decimal.NewFromInt(int64(last.MinQty))).Round(2)
	return Quote{UnitPrice: unit, Total: unit.Mul(qty).Round(2)}, nil
}

// Line is a priced order line used by Totals.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Amounts aggregates an order's monetary fields.
type Amounts struct {
	Total   decimal.Decimal
	VAT     decimal.Decimal
	Overall decimal.Decimal
}

// Totals sums priced lines and addon lines, applies the VAT rate, and rounds
// each figure to 2 decimals.
func Totals(items []Line, addons []Line, vatRate decimal.Decimal) Amounts {
	subtotal := decimal.Zero
	for _, l := range items {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	for _, l := range addons {
		subtotal = subtotal.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	subtotal = subtotal.Round(2)
	vat := subtotal.Mul(vatRate).Round(2)
	return Amounts{Total: subtotal, VAT: vat, Overall: subtotal.Add(vat)}
}
