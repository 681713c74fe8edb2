package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDateRangeContainsIsHalfOpen(t *testing.T) {
	to := date(2024, 3, 10)
	r := DateRange{From: date(2024, 3, 1), To: &to}

	assert.True(t, r.Contains(date(2024, 3, 1)))
	assert.True(t, r.Contains(time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)))
	assert.False(t, r.Contains(date(2024, 3, 10)))
	assert.False(t, r.Contains(date(2024, 2, 29)))
}

func TestDateRangeOverlaps(t *testing.T) {
	mar10 := date(2024, 3, 10)
	first := DateRange{From: date(2024, 3, 1), To: &mar10}
	adjacent := DateRange{From: mar10}
	inside := DateRange{From: date(2024, 3, 5)}

	assert.False(t, first.Overlaps(adjacent))
	assert.False(t, adjacent.Overlaps(first))
	assert.True(t, first.Overlaps(inside))
	assert.True(t, adjacent.Overlaps(inside))
}

func TestLookupInRangePrefersLatestStart(t *testing.T) {
	type rate struct {
		name string
		r    DateRange
	}
	items := []rate{
		{name: "open", r: DateRange{From: date(2024, 1, 1)}},
		{name: "march", r: NewDateRange(date(2024, 3, 1), 31)},
	}
	got, ok := LookupInRange(items, date(2024, 3, 15), func(r rate) DateRange { return r.r })
	require.True(t, ok)
	assert.Equal(t, "march", got.name)

	got, ok = LookupInRange(items, date(2024, 5, 1), func(r rate) DateRange { return r.r })
	require.True(t, ok)
	assert.Equal(t, "open", got.name)

	_, ok = LookupInRange(items, date(2023, 12, 31), func(r rate) DateRange { return r.r })
	assert.False(t, ok)
}

func TestDaysAfter(t *testing.T) {
	assert.Equal(t, date(2024, 3, 1), Days(30).After(time.Date(2024, 1, 31, 15, 0, 0, 0, time.UTC)))
}
