package fx

import (
	"slices"
	"time"

	"github.com/pampa-erp/pampa/internal/shared"
)

// Gaps returns the sub-ranges of window no rate covers. window must be bounded.
func Gaps(rates []Rate, window shared.DateRange) []shared.DateRange {
	if window.To == nil || !window.Valid() {
		return nil
	}
	sorted := slices.Clone(rates)
	slices.SortFunc(sorted, func(a, b Rate) int { return a.Validity.From.Compare(b.Validity.From) })

	end := shared.Day(*window.To)
	cursor := shared.Day(window.From)
	var gaps []shared.DateRange
	for _, r := range sorted {
		if !cursor.Before(end) {
			break
		}
		if !r.Validity.Overlaps(window) {
			continue
		}
		from := shared.Day(r.Validity.From)
		if from.After(cursor) {
			gapEnd := minDay(from, end)
			gaps = append(gaps, shared.DateRange{From: cursor, To: &gapEnd})
		}
		if r.Validity.To == nil {
			return gaps
		}
		cursor = maxDay(cursor, shared.Day(*r.Validity.To))
	}
	if cursor.Before(end) {
		gaps = append(gaps, shared.DateRange{From: cursor, To: &end})
	}
	return gaps
}

func minDay(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxDay(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
