package calendar

import (
	"fmt"
	"time"

	"jobcal/internal/model"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Day strips the time-of-day and zone from t, keeping the calendar date t
// has in its own location. The result is midnight UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a Day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// WeekOf returns the seven days of the week containing anchor, beginning on
// the given weekday.
func WeekOf(anchor time.Time, start time.Weekday) [7]time.Time {
	d := Day(anchor)
	offset := (int(d.Weekday()) - int(start) + 7) % 7
	first := d.AddDate(0, 0, -offset)

	var week [7]time.Time
	for i := range week {
		week[i] = first.AddDate(0, 0, i)
	}
	return week
}

// MonthWeeks returns the weeks of a month grid: every week that contains
// at least one day of anchor's month.
func MonthWeeks(anchor time.Time, start time.Weekday) [][7]time.Time {
	d := Day(anchor)
	firstOfMonth := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	lastOfMonth := firstOfMonth.AddDate(0, 1, -1)

	var weeks [][7]time.Time
	for w := WeekOf(firstOfMonth, start); !w[0].After(lastOfMonth); w = WeekOf(w[6].AddDate(0, 0, 1), start) {
		weeks = append(weeks, w)
	}
	return weeks
}

// WeekLayout is one row of a month grid.
type WeekLayout struct {
	Days     [7]time.Time      `json:"days"`
	Events   []model.WeekEvent `json:"events"`
	RowCount int               `json:"row_count"`
}

// LayoutMonth lays out items on every week of anchor's month grid.
func LayoutMonth(anchor time.Time, start time.Weekday, items []model.ScheduleItem) []WeekLayout {
	weeks := MonthWeeks(anchor, start)
	out := make([]WeekLayout, 0, len(weeks))
	for _, w := range weeks {
		events := LayoutWeek(w, items)
		out = append(out, WeekLayout{
			Days:     w,
			Events:   events,
			RowCount: RowCount(events),
		})
	}
	return out
}
