package schedule

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, loc *time.Location, year int, month time.Month, d int) Range {
	t.Helper()
	start := time.Date(year, month, d, 0, 0, 0, 0, loc)
	return Range{Start: start, End: time.Date(year, month, d+1, 0, 0, 0, 0, loc)}
}

func threeItems() []Item[string] {
	return []Item[string]{
		{Offset: 0, Value: "A"},
		{Offset: 8 * time.Hour, Value: "B"},
		{Offset: 20 * time.Hour, Value: "C"},
	}
}

func TestExpand_SingleDay(t *testing.T) {
	window := day(t, time.UTC, 2024, 3, 1)

	spans := Expand(threeItems(), window, time.UTC)
	require.Len(t, spans, 3)

	midnight := window.Start
	expected := []Span[string]{
		{Range: Range{Start: midnight, End: midnight.Add(8 * time.Hour)}, Value: "B"},
		{Range: Range{Start: midnight.Add(8 * time.Hour), End: midnight.Add(20 * time.Hour)}, Value: "C"},
		{Range: Range{Start: midnight.Add(20 * time.Hour), End: window.End}, Value: "C"},
	}
	for i := range expected {
		assert.True(t, expected[i].Range.Start.Equal(spans[i].Range.Start), "span %d start = %v", i, spans[i].Range.Start)
		assert.True(t, expected[i].Range.End.Equal(spans[i].Range.End), "span %d end = %v", i, spans[i].Range.End)
		assert.Equal(t, expected[i].Value, spans[i].Value, "span %d value", i)
	}
}

func TestExpand_SingleItemCoversDay(t *testing.T) {
	window := day(t, time.UTC, 2024, 3, 1)

	spans := Expand([]Item[int]{{Offset: 6 * time.Hour, Value: 110}}, window, time.UTC)
	require.Len(t, spans, 1)
	assert.Equal(t, window, spans[0].Range)
	assert.Equal(t, 110, spans[0].Value)
}

func TestExpand_FirstOffsetAfterMidnight(t *testing.T) {
	window := day(t, time.UTC, 2024, 3, 1)
	items := []Item[string]{
		{Offset: 2 * time.Hour, Value: "A"},
		{Offset: 10 * time.Hour, Value: "B"},
	}

	spans := Expand(items, window, time.UTC)
	require.Len(t, spans, 2)
	assert.True(t, spans[0].Range.Start.Equal(window.Start))
	assert.Equal(t, "B", spans[0].Value)
	assert.Equal(t, 10*time.Hour, spans[0].Range.Duration())
	assert.Equal(t, "B", spans[1].Value)
	assert.True(t, spans[1].Range.End.Equal(window.End))
}

func TestExpand_UnsortedInput(t *testing.T) {
	window := day(t, time.UTC, 2024, 3, 1)
	items := threeItems()
	items[0], items[2] = items[2], items[0]

	spans := Expand(items, window, time.UTC)
	require.Len(t, spans, 3)
	assert.Equal(t, []string{"B", "C", "C"}, []string{spans[0].Value, spans[1].Value, spans[2].Value})
	assert.Equal(t, "C", items[0].Value, "input must not be reordered")
}

func TestExpand_MultiDayWindow(t *testing.T) {
	window := Range{
		Start: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 3, 6, 0, 0, 0, time.UTC),
	}

	spans := Expand(threeItems(), window, time.UTC)
	require.Len(t, spans, 6)

	assert.True(t, spans[0].Range.Start.Equal(window.Start))
	assert.Equal(t, 8*time.Hour, spans[0].Range.Duration())
	assert.True(t, spans[5].Range.End.Equal(window.End))
	assert.Equal(t, "B", spans[5].Value)
	assertPartition(t, spans, window)
}

func TestExpand_DaylightSavingDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Vienna")
	require.NoError(t, err)

	// Clocks jump from 02:00 to 03:00 on this day.
	window := day(t, loc, 2024, 3, 31)
	require.Equal(t, 23*time.Hour, window.Duration())

	spans := Expand(threeItems(), window, loc)
	require.Len(t, spans, 3)
	assert.Equal(t, 8, spans[1].Range.Start.In(loc).Hour())
	assert.Equal(t, 20, spans[2].Range.Start.In(loc).Hour())
	assertPartition(t, spans, window)
}

func TestExpand_Empty(t *testing.T) {
	window := day(t, time.UTC, 2024, 3, 1)

	assert.Nil(t, Expand[string](nil, window, time.UTC))
	assert.Nil(t, Expand(threeItems(), Range{Start: window.Start, End: window.Start}, time.UTC))
	assert.Nil(t, Expand(threeItems(), Range{Start: window.End, End: window.Start}, time.UTC))
}

func TestExpand_NilLocationUsesLocal(t *testing.T) {
	window := day(t, time.Local, 2024, 3, 1)

	spans := Expand(threeItems(), window, nil)
	require.Len(t, spans, 3)
	assert.Equal(t, 8, spans[1].Range.Start.In(time.Local).Hour())
}

func TestSplitDays(t *testing.T) {
	window := Range{
		Start: time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 3, 1, 0, 0, 0, time.UTC),
	}

	days := SplitDays(window, time.UTC)
	require.Len(t, days, 3)
	assert.Equal(t, 2*time.Hour, days[0].Duration())
	assert.Equal(t, 24*time.Hour, days[1].Duration())
	assert.Equal(t, time.Hour, days[2].Duration())

	ending := Range{Start: window.Start, End: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)}
	assert.Len(t, SplitDays(ending, time.UTC), 1)
}

// valueAt applies the schedule rule directly: a time of day belongs to the
// first item whose offset lies after it, or to the last item.
func valueAt(offsets []time.Duration, tod time.Duration) int {
	if len(offsets) == 1 {
		return 0
	}
	for i := 1; i < len(offsets); i++ {
		if tod < offsets[i] {
			return i
		}
	}
	return len(offsets) - 1
}

func TestExpand_PartitionProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for run := 0; run < 500; run++ {
		size := 1 + rng.Intn(10)

		// Distinct half-hour offsets.
		seen := make(map[int]bool)
		var slots []int
		for len(slots) < size {
			slot := rng.Intn(48)
			if !seen[slot] {
				seen[slot] = true
				slots = append(slots, slot)
			}
		}
		sort.Ints(slots)

		offsets := make([]time.Duration, size)
		items := make([]Item[int], size)
		for i, slot := range slots {
			offsets[i] = time.Duration(slot) * 30 * time.Minute
			items[i] = Item[int]{Offset: offsets[i], Value: i}
		}

		start := base.Add(time.Duration(rng.Intn(60*24*30)) * time.Minute)
		window := Range{Start: start, End: start.Add(time.Duration(rng.Intn(60*24*5+1)) * time.Minute)}

		spans := Expand(items, window, time.UTC)
		if window.IsEmpty() {
			assert.Empty(t, spans)
			continue
		}

		assertPartition(t, spans, window)
		for _, span := range spans {
			s := span.Range.Start
			tod := s.Sub(time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC))
			if !assert.Equal(t, valueAt(offsets, tod), span.Value, "run %d span at %v", run, s) {
				return
			}
		}
	}
}

func assertPartition[T any](t *testing.T, spans []Span[T], window Range) {
	t.Helper()
	require.NotEmpty(t, spans)

	assert.True(t, spans[0].Range.Start.Equal(window.Start), "first span starts at %v, window at %v", spans[0].Range.Start, window.Start)
	assert.True(t, spans[len(spans)-1].Range.End.Equal(window.End), "last span ends at %v, window at %v", spans[len(spans)-1].Range.End, window.End)

	var total time.Duration
	for i, span := range spans {
		assert.False(t, span.Range.IsEmpty(), "span %d is empty", i)
		total += span.Range.Duration()
		if i > 0 {
			assert.True(t, spans[i-1].Range.End.Equal(span.Range.Start), "gap or overlap before span %d", i)
		}
	}
	assert.Equal(t, window.Duration(), total)
}
