package calendar

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobcal/internal/model"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func item(t *testing.T, id int64, start, end string) model.ScheduleItem {
	t.Helper()
	return model.ScheduleItem{ID: id, Title: "item", StartDate: date(t, start), EndDate: date(t, end)}
}

func mayWeek(t *testing.T) [7]time.Time {
	return WeekOf(date(t, "2025-05-07"), time.Sunday)
}

func byID(events []model.WeekEvent) map[int64]model.WeekEvent {
	m := make(map[int64]model.WeekEvent, len(events))
	for _, ev := range events {
		m[ev.ScheduleItemID] = ev
	}
	return m
}

func TestWeekOf(t *testing.T) {
	week := mayWeek(t)
	assert.Equal(t, date(t, "2025-05-04"), week[0])
	assert.Equal(t, date(t, "2025-05-10"), week[6])

	monday := WeekOf(date(t, "2025-05-04"), time.Monday)
	assert.Equal(t, date(t, "2025-04-28"), monday[0])
	assert.Equal(t, date(t, "2025-05-04"), monday[6])
}

func TestLayoutWeekColumns(t *testing.T) {
	items := []model.ScheduleItem{
		item(t, 1, "2025-05-05", "2025-05-07"), // inside
		item(t, 3, "2025-04-28", "2025-05-05"), // starts before the week
		item(t, 4, "2025-05-09", "2025-05-15"), // ends after the week
		item(t, 5, "2025-05-01", "2025-05-03"), // entirely before
		item(t, 6, "2025-04-20", "2025-05-20"), // contains the week
		item(t, 7, "2025-05-11", "2025-05-12"), // entirely after
	}

	got := byID(LayoutWeek(mayWeek(t), items))
	require.Len(t, got, 4)

	assert.Equal(t, 1, got[1].StartColumn)
	assert.Equal(t, 3, got[1].EndColumn)

	assert.Equal(t, 0, got[3].StartColumn)
	assert.Equal(t, 1, got[3].EndColumn)

	assert.Equal(t, 5, got[4].StartColumn)
	assert.Equal(t, 6, got[4].EndColumn)

	assert.Equal(t, 0, got[6].StartColumn)
	assert.Equal(t, 6, got[6].EndColumn)

	assert.NotContains(t, got, int64(5))
	assert.NotContains(t, got, int64(7))
}

func TestLayoutWeekOverlapGetsNewRow(t *testing.T) {
	a := item(t, 1, "2025-05-05", "2025-05-07")
	b := item(t, 2, "2025-05-06", "2025-05-06")

	events := LayoutWeek(mayWeek(t), []model.ScheduleItem{a, b})
	require.Len(t, events, 2)

	// b ends first, so it is placed first.
	assert.Equal(t, model.WeekEvent{ScheduleItemID: 2, StartColumn: 2, EndColumn: 2, Row: 0}, events[0])
	assert.Equal(t, model.WeekEvent{ScheduleItemID: 1, StartColumn: 1, EndColumn: 3, Row: 1}, events[1])
}

func TestLayoutWeekReusesRows(t *testing.T) {
	items := []model.ScheduleItem{
		item(t, 1, "2025-05-04", "2025-05-05"),
		item(t, 2, "2025-05-06", "2025-05-07"),
		item(t, 3, "2025-05-08", "2025-05-10"),
	}
	events := LayoutWeek(mayWeek(t), items)
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, 0, ev.Row)
	}
	assert.Equal(t, 1, RowCount(events))
}

func TestLayoutWeekTiesKeepInputOrder(t *testing.T) {
	items := []model.ScheduleItem{
		item(t, 9, "2025-05-05", "2025-05-06"),
		item(t, 3, "2025-05-06", "2025-05-06"),
	}
	events := LayoutWeek(mayWeek(t), items)
	require.Len(t, events, 2)
	assert.Equal(t, int64(9), events[0].ScheduleItemID)
	assert.Equal(t, 0, events[0].Row)
	assert.Equal(t, int64(3), events[1].ScheduleItemID)
	assert.Equal(t, 1, events[1].Row)
}

func TestLayoutWeekIgnoresTimeOfDay(t *testing.T) {
	loc := time.FixedZone("KST", 9*60*60)
	week := WeekOf(time.Date(2025, 5, 7, 23, 59, 0, 0, loc), time.Sunday)
	it := model.ScheduleItem{
		ID:        1,
		StartDate: time.Date(2025, 5, 10, 23, 30, 0, 0, loc),
		EndDate:   time.Date(2025, 5, 10, 23, 45, 0, 0, loc),
	}
	events := LayoutWeek(week, []model.ScheduleItem{it})
	require.Len(t, events, 1)
	assert.Equal(t, 6, events[0].StartColumn)
	assert.Equal(t, 6, events[0].EndColumn)
}

func TestLayoutWeekProperties(t *testing.T) {
	week := mayWeek(t)
	first, last := week[0], week[6]
	rnd := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := rnd.Intn(25)
		items := make([]model.ScheduleItem, 0, n)
		for i := 0; i < n; i++ {
			start := first.AddDate(0, 0, rnd.Intn(21)-7)
			end := start.AddDate(0, 0, rnd.Intn(6))
			items = append(items, model.ScheduleItem{ID: int64(i), StartDate: start, EndDate: end})
		}

		events := LayoutWeek(week, items)

		// Deterministic.
		assert.Equal(t, events, LayoutWeek(week, items))

		// Visibility completeness and clipping.
		got := byID(events)
		for _, it := range items {
			ev, ok := got[it.ID]
			intersects := !it.StartDate.After(last) && !it.EndDate.Before(first)
			require.Equal(t, intersects, ok, "item %d", it.ID)
			if !ok {
				continue
			}
			if it.StartDate.Before(first) {
				assert.Equal(t, 0, ev.StartColumn)
			}
			if it.EndDate.After(last) {
				assert.Equal(t, 6, ev.EndColumn)
			}
			assert.LessOrEqual(t, ev.StartColumn, ev.EndColumn)
		}

		// No two events in the same row overlap.
		for i := range events {
			for j := i + 1; j < len(events); j++ {
				if events[i].Row == events[j].Row {
					assert.False(t, events[i].Overlaps(events[j]), "round %d: %+v vs %+v", round, events[i], events[j])
				}
			}
		}
	}
}

func TestLayoutWeekRowCountNeverDecreases(t *testing.T) {
	week := mayWeek(t)
	items := []model.ScheduleItem{
		item(t, 1, "2025-05-04", "2025-05-06"),
		item(t, 2, "2025-05-05", "2025-05-08"),
	}
	before := RowCount(LayoutWeek(week, items))

	// Overlaps every row's latest item.
	items = append(items, item(t, 3, "2025-05-04", "2025-05-10"))
	after := RowCount(LayoutWeek(week, items))
	assert.GreaterOrEqual(t, after, before)
	assert.Equal(t, 3, after)
}

func TestLayoutMonth(t *testing.T) {
	items := []model.ScheduleItem{item(t, 1, "2025-05-30", "2025-06-02")}
	weeks := LayoutMonth(date(t, "2025-05-15"), time.Sunday, items)

	// May 2025 starts on a Thursday and ends on a Saturday.
	require.Len(t, weeks, 5)
	assert.Equal(t, date(t, "2025-04-27"), weeks[0].Days[0])
	assert.Equal(t, date(t, "2025-05-31"), weeks[4].Days[6])

	require.Len(t, weeks[4].Events, 1)
	assert.Equal(t, 5, weeks[4].Events[0].StartColumn)
	assert.Equal(t, 6, weeks[4].Events[0].EndColumn)
	assert.Equal(t, 1, weeks[4].RowCount)
	assert.Equal(t, 0, weeks[0].RowCount)
}
