package fx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/shared"
)

func bounded(from, to time.Time) shared.DateRange {
	return shared.DateRange{From: from, To: &to}
}

func TestGaps(t *testing.T) {
	window := bounded(day(2026, 1, 1), day(2026, 4, 1))

	cases := []struct {
		name  string
		rates []Rate
		want  []shared.DateRange
	}{
		{
			name: "no rates",
			want: []shared.DateRange{window},
		},
		{
			name: "open ended rate before the window",
			rates: []Rate{
				{Validity: shared.DateRange{From: day(2025, 12, 1)}},
			},
		},
		{
			name: "hole between two ranges and a tail",
			rates: []Rate{
				{Validity: bounded(day(2026, 2, 10), day(2026, 3, 15))},
				{Validity: bounded(day(2025, 12, 20), day(2026, 2, 1))},
			},
			want: []shared.DateRange{
				bounded(day(2026, 2, 1), day(2026, 2, 10)),
				bounded(day(2026, 3, 15), day(2026, 4, 1)),
			},
		},
		{
			name: "nested range does not move the cursor back",
			rates: []Rate{
				{Validity: bounded(day(2026, 1, 1), day(2026, 3, 1))},
				{Validity: bounded(day(2026, 1, 10), day(2026, 1, 20))},
				{Validity: shared.DateRange{From: day(2026, 3, 1)}},
			},
		},
		{
			name: "rate entirely after the window",
			rates: []Rate{
				{Validity: shared.DateRange{From: day(2026, 5, 1)}},
			},
			want: []shared.DateRange{window},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Gaps(tc.rates, window))
		})
	}
}

func TestGapsNeedsBoundedWindow(t *testing.T) {
	require.Nil(t, Gaps(nil, shared.DateRange{From: day(2026, 1, 1)}))
}
