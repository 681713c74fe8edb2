package quotations

import "github.com/shopspring/decimal"

type Column string

const (
	ColumnReady   Column = "ready"
	ColumnPartial Column = "partial"
	ColumnPending Column = "pending"
)

type Card struct {
	QuoteID    int64           `json:"quote_id"`
	Number     string          `json:"number"`
	CustomerID int64           `json:"customer_id"`
	Status     Status          `json:"status"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	InStock    int             `json:"in_stock"`
	Items      int             `json:"items"`
}

type Board struct {
	Ready   []Card `json:"ready"`
	Partial []Card `json:"partial"`
	Pending []Card `json:"pending"`
}

// Classify places a quote on the board by how many of its non-alternative
// items are promised from stock. Fully invoiced quotes are left off.
func Classify(q Quote) (Card, Column, bool) {
	if q.FullyInvoiced() {
		return Card{}, "", false
	}
	card := Card{QuoteID: q.ID, Number: q.Number, CustomerID: q.CustomerID, Status: q.Status, Subtotal: q.Subtotal}
	for _, it := range q.Items {
		if it.IsAlternative {
			continue
		}
		card.Items++
		if it.DeliveryTime.InStock() {
			card.InStock++
		}
	}
	switch {
	case card.Items > 0 && card.InStock == card.Items:
		return card, ColumnReady, true
	case card.InStock > 0:
		return card, ColumnPartial, true
	default:
		return card, ColumnPending, true
	}
}

// BuildBoard classifies every quote.
func BuildBoard(quotes []Quote) Board {
	b := Board{Ready: []Card{}, Partial: []Card{}, Pending: []Card{}}
	for _, q := range quotes {
		card, col, ok := Classify(q)
		if !ok {
			continue
		}
		switch col {
		case ColumnReady:
			b.Ready = append(b.Ready, card)
		case ColumnPartial:
			b.Partial = append(b.Partial, card)
		default:
			b.Pending = append(b.Pending, card)
		}
	}
	return b
}
