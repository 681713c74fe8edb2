package quotations

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func item(id int64, qty, invoiced string, delivery DeliveryTime, alternative bool) Item {
	return Item{
		ID:               id,
		Quantity:         decimal.RequireFromString(qty),
		InvoicedQuantity: decimal.RequireFromString(invoiced),
		DeliveryTime:     delivery,
		IsAlternative:    alternative,
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		items  []Item
		column Column
		shown  bool
	}{
		{
			name:   "all in stock",
			items:  []Item{item(1, "5", "0", "INMEDIATA", false), item(2, "1", "0", "stock", false)},
			column: ColumnReady,
			shown:  true,
		},
		{
			name:   "some in stock",
			items:  []Item{item(1, "5", "0", "INMEDIATA", false), item(2, "1", "0", "15 DIAS", false)},
			column: ColumnPartial,
			shown:  true,
		},
		{
			name:   "none in stock",
			items:  []Item{item(1, "5", "0", "30 DIAS", false)},
			column: ColumnPending,
			shown:  true,
		},
		{
			name:   "alternatives are ignored",
			items:  []Item{item(1, "5", "0", "INMEDIATA", false), item(2, "5", "0", "60 DIAS", true)},
			column: ColumnReady,
			shown:  true,
		},
		{
			name:  "fully invoiced leaves the board",
			items: []Item{item(1, "5", "5", "INMEDIATA", false), item(2, "5", "0", "60 DIAS", true)},
			shown: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			card, col, ok := Classify(Quote{ID: 9, Number: "COT-00000009", Status: StatusAccepted, Items: tc.items})
			require.Equal(t, tc.shown, ok)
			if !tc.shown {
				return
			}
			require.Equal(t, tc.column, col)
			require.Equal(t, int64(9), card.QuoteID)
		})
	}
}

func TestBuildBoardKeepsEmptyColumns(t *testing.T) {
	b := BuildBoard([]Quote{
		{ID: 1, Items: []Item{item(1, "2", "0", "INMEDIATA", false)}},
		{ID: 2, Items: []Item{item(2, "2", "0", "10 DIAS", false)}},
	})
	require.Len(t, b.Ready, 1)
	require.Empty(t, b.Partial)
	require.NotNil(t, b.Partial)
	require.Len(t, b.Pending, 1)
}

func TestTransitions(t *testing.T) {
	require.NoError(t, Transition(StatusDraft, StatusSent))
	require.NoError(t, Transition(StatusSent, StatusRejected))
	require.NoError(t, Transition(StatusAccepted, StatusConverted))
	require.NoError(t, Transition(StatusConverted, StatusAccepted))
	require.Error(t, Transition(StatusDraft, StatusAccepted))
	require.Error(t, Transition(StatusRejected, StatusSent))
	require.Error(t, Transition(StatusConverted, StatusRejected))
}
