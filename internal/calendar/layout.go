package calendar

import (
	"sort"
	"time"

	"jobcal/internal/model"
)

// LayoutWeek projects items onto the seven consecutive days of week and
// assigns each visible item a row so that items sharing a row never share a
// column.
//
// week must hold seven consecutive calendar dates; this is not checked.
// Time-of-day is ignored on both the week and the items.
//
// The result is ordered by ascending end date (ties keep input order), which
// is also the order rows were assigned in. Placing earlier-ending items
// first is a greedy heuristic; it keeps the row count low for typical
// schedules but is not guaranteed to be minimal.
func LayoutWeek(week [7]time.Time, items []model.ScheduleItem) []model.WeekEvent {
	first, last := Day(week[0]), Day(week[6])

	type candidate struct {
		ev  model.WeekEvent
		end time.Time
	}
	visible := make([]candidate, 0, len(items))
	for _, it := range items {
		start, end := Day(it.StartDate), Day(it.EndDate)
		// Interval intersection; also covers items spanning the whole week,
		// which match none of the seven days exactly.
		if start.After(last) || end.Before(first) {
			continue
		}
		visible = append(visible, candidate{
			ev: model.WeekEvent{
				ScheduleItemID: it.ID,
				StartColumn:    columnOf(week, start, 0),
				EndColumn:      columnOf(week, end, 6),
			},
			end: end,
		})
	}

	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].end.Before(visible[j].end)
	})

	var rows [][]model.WeekEvent
	out := make([]model.WeekEvent, 0, len(visible))
	for _, c := range visible {
		ev := c.ev
		ev.Row = -1
		for r, members := range rows {
			if fits(members, ev) {
				ev.Row = r
				break
			}
		}
		if ev.Row < 0 {
			ev.Row = len(rows)
			rows = append(rows, nil)
		}
		rows[ev.Row] = append(rows[ev.Row], ev)
		out = append(out, ev)
	}
	return out
}

// RowCount returns the number of rows used by a LayoutWeek result.
func RowCount(events []model.WeekEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Row+1 > n {
			n = ev.Row + 1
		}
	}
	return n
}

func fits(row []model.WeekEvent, ev model.WeekEvent) bool {
	for _, m := range row {
		if m.Overlaps(ev) {
			return false
		}
	}
	return true
}

// columnOf returns the index of day in week, or fallback when day is not
// one of the seven dates (i.e. it lies before or after the week).
func columnOf(week [7]time.Time, day time.Time, fallback int) int {
	for i, d := range week {
		if Day(d).Equal(day) {
			return i
		}
	}
	return fallback
}
