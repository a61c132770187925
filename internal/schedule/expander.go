// Package schedule expands daily repeating schedules into absolute time ranges
package schedule

import (
	"sort"
	"time"
)

// Item is a value anchored at an offset from midnight
type Item[T any] struct {
	Offset time.Duration
	Value  T
}

// Range is a half-open time range [Start, End)
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the length of the range
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// IsEmpty reports whether the range covers no time
func (r Range) IsEmpty() bool {
	return !r.End.After(r.Start)
}

// Span is a range together with the schedule value that applies over it
type Span[T any] struct {
	Range Range `json:"range"`
	Value T     `json:"value"`
}

// period is one day's slice of the schedule, relative to midnight. An end of
// zero means the period runs until the next midnight.
type period[T any] struct {
	start time.Duration
	end   time.Duration
	value T
}

// dailyPeriods turns the schedule into one day's worth of periods. The value
// of item i applies from item i-1's offset up to its own offset; the last
// item covers from its offset to midnight.
func dailyPeriods[T any](items []Item[T]) []period[T] {
	switch len(items) {
	case 0:
		return nil
	case 1:
		return []period[T]{{start: 0, end: 0, value: items[0].Value}}
	}

	sorted := make([]Item[T], len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	result := make([]period[T], 0, len(sorted))
	for i := 1; i < len(sorted); i++ {
		start := sorted[i-1].Offset
		if i == 1 {
			// Anchor the first period at midnight so the day has no gap.
			start = 0
		}
		if sorted[i].Offset <= start {
			continue
		}
		result = append(result, period[T]{
			start: start,
			end:   sorted[i].Offset,
			value: sorted[i].Value,
		})
	}

	last := sorted[len(sorted)-1]
	result = append(result, period[T]{start: last.Offset, end: 0, value: last.Value})
	return result
}

// midnight returns the start of the calendar day containing t in loc
func midnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// at returns the wall-clock time offset from the midnight of day
func at(day time.Time, offset time.Duration) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, int(offset), day.Location())
}

// nextMidnight returns the start of the following calendar day
func nextMidnight(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// SplitDays breaks the window into calendar-day sub-ranges in loc, clipped to
// the window at both ends. Zero-length days are dropped.
func SplitDays(window Range, loc *time.Location) []Range {
	if loc == nil {
		loc = time.Local
	}

	var days []Range
	for current := window.Start; current.Before(window.End); {
		end := nextMidnight(current, loc)
		if end.After(window.End) {
			end = window.End
		}
		days = append(days, Range{Start: current, End: end})
		current = end
	}
	return days
}

// Expand converts a daily schedule into absolute spans covering window. Days
// are calendar days in loc (time.Local when nil). The result is chronological;
// adjacent spans share their boundary and together cover the window exactly
// once.
func Expand[T any](items []Item[T], window Range, loc *time.Location) []Span[T] {
	if loc == nil {
		loc = time.Local
	}

	periods := dailyPeriods(items)
	if len(periods) == 0 || window.IsEmpty() {
		return nil
	}

	var result []Span[T]
	for _, day := range SplitDays(window, loc) {
		dayStart := midnight(day.Start, loc)
		dayEnd := nextMidnight(day.Start, loc)

		for _, p := range periods {
			start := at(dayStart, p.start)
			end := dayEnd
			if p.end > 0 {
				end = at(dayStart, p.end)
			}
			if end.After(dayEnd) {
				end = dayEnd
			}

			if !start.Before(day.End) || !end.After(day.Start) {
				continue
			}
			if start.Before(day.Start) {
				start = day.Start
			}
			if end.After(day.End) {
				end = day.End
			}
			if !end.After(start) {
				continue
			}
			result = append(result, Span[T]{Range: Range{Start: start, End: end}, Value: p.value})
		}
	}
	return result
}
