package pricing

import (
	"github.com/noah-isme/atomic-shop/internal/money"
)

func breakdown(t Totals, lines []Line) []BreakdownLine {
	names := make(map[string]string, len(lines))
	for _, l := range lines {
		names[l.VariantID.String()] = l.Name
	}

	out := make([]BreakdownLine, 0, len(t.Discounts)+4)
	add := func(label string, amount money.Cents) {
		if amount == 0 {
			return
		}
		out = append(out, BreakdownLine{Label: label, AmountCents: amount, FormattedAmount: money.Format(amount)})
	}

	add("Subtotal", t.Subtotal)
	for _, d := range t.Discounts {
		label := d.Label
		if d.VariantID != nil {
			if name := names[d.VariantID.String()]; name != "" {
				label += " (" + name + ")"
			}
		}
		add(label, -d.Discount)
	}
	add("Tax", t.Tax)
	add("Shipping", t.Shipping)
	add("Total", t.Total)
	return out
}
