package shared

import (
	"sort"
	"time"
)

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Days is a calendar day count used for payment terms and validity windows.
type Days int

// After returns the date n days after t.
func (d Days) After(t time.Time) time.Time {
	return Day(t).AddDate(0, 0, int(d))
}

// DateRange is a half-open interval of calendar days [From, To). A nil To is open ended.
type DateRange struct {
	From time.Time  `json:"from"`
	To   *time.Time `json:"to,omitempty"`
}

// NewDateRange builds a range starting at from lasting d days; d <= 0 yields an open range.
func NewDateRange(from time.Time, d Days) DateRange {
	r := DateRange{From: Day(from)}
	if d > 0 {
		to := d.After(from)
		r.To = &to
	}
	return r
}

// Valid reports whether To, when set, is after From.
func (r DateRange) Valid() bool {
	return r.To == nil || Day(*r.To).After(Day(r.From))
}

// Contains reports whether the calendar day of t lies in the range.
func (r DateRange) Contains(t time.Time) bool {
	day := Day(t)
	if day.Before(Day(r.From)) {
		return false
	}
	return r.To == nil || day.Before(Day(*r.To))
}

// Overlaps reports whether the two ranges share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	startsBeforeOtherEnds := o.To == nil || Day(r.From).Before(Day(*o.To))
	otherStartsBeforeEnd := r.To == nil || Day(o.From).Before(Day(*r.To))
	return startsBeforeOtherEnds && otherStartsBeforeEnd
}

// LookupInRange returns the item whose range contains at. When several match,
// the one with the latest From wins.
func LookupInRange[T any](items []T, at time.Time, rangeOf func(T) DateRange) (T, bool) {
	candidates := make([]T, 0, 1)
	for _, item := range items {
		if rangeOf(item).Contains(at) {
			candidates = append(candidates, item)
		}
	}
	var zero T
	if len(candidates) == 0 {
		return zero, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return rangeOf(candidates[i]).From.After(rangeOf(candidates[j]).From)
	})
	return candidates[0], true
}
