package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	"jobcal/internal/calendar"
	appLog "jobcal/internal/log"
	"jobcal/internal/model"
)

const maxOccurrencesPerEvent = 1000

// Occurrence is one concrete instance of an Event.
type Occurrence struct {
	Event Event
	Start time.Time
	End   time.Time
}

// InstanceKey identifies the occurrence within its feed.
func (o Occurrence) InstanceKey() string {
	if o.Event.RawRRule == "" && o.Event.RecurrenceID == nil {
		return o.Event.UID
	}
	return o.Event.UID + "@" + o.Start.UTC().Format("20060102T150405Z")
}

// Expand returns the occurrences of events overlapping [from, to].
// RRULE series are expanded with EXDATEs removed and RECURRENCE-ID
// overrides applied.
func Expand(events []Event, from, to time.Time) ([]Occurrence, error) {
	if to.Before(from) {
		return nil, errors.New("expand: range end is before range start")
	}

	overrides := make(map[string][]Event)
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
		}
	}

	out := make([]Occurrence, 0, len(events))
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			continue
		}
		if ev.RawRRule == "" {
			if overlaps(ev.Start, ev.End, from, to) {
				out = append(out, Occurrence{Event: ev, Start: ev.Start, End: ev.End})
			}
			continue
		}
		out = append(out, expandSeries(ev, overrides[ev.UID], from, to)...)
	}
	return out, nil
}

func expandSeries(ev Event, overrides []Event, from, to time.Time) []Occurrence {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics: bad RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the window by the event length so series instances that began
	// before from but are still running are kept.
	dur := ev.End.Sub(ev.Start)
	starts := set.Between(from.Add(-dur), to, true)
	if len(starts) > maxOccurrencesPerEvent {
		appLog.Info("ics: series truncated", "uid", ev.UID, "cap", maxOccurrencesPerEvent)
		starts = starts[:maxOccurrencesPerEvent]
	}

	out := make([]Occurrence, 0, len(starts))
	for _, start := range starts {
		occ := Occurrence{Event: ev, Start: start, End: start.Add(dur)}
		for _, o := range overrides {
			if o.RecurrenceID.Equal(start) {
				occ = Occurrence{Event: o, Start: o.Start, End: o.End}
				break
			}
		}
		out = append(out, occ)
	}
	return out
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}

// ToScheduleItems maps occurrences to date-only schedule items in loc.
// All-day DTENDs are exclusive, so the item ends the day before; a timed
// event ending exactly at midnight also ends the day before.
func ToScheduleItems(occs []Occurrence, loc *time.Location) []model.ScheduleItem {
	if loc == nil {
		loc = time.Local
	}
	items := make([]model.ScheduleItem, 0, len(occs))
	for _, o := range occs {
		start, end := o.Start, o.End
		if !o.Event.AllDay {
			start, end = start.In(loc), end.In(loc)
		}
		startDay, endDay := calendar.Day(start), calendar.Day(end)
		if endDay.After(startDay) && end.Equal(midnight(end)) {
			endDay = endDay.AddDate(0, 0, -1)
		}

		title := o.Event.Summary
		if title == "" {
			title = "(untitled)"
		}
		items = append(items, model.ScheduleItem{
			Title:       title,
			StartDate:   startDay,
			EndDate:     endDay,
			StatusLabel: o.Event.Source.Status,
			SourceUID:   o.Event.Source.ID + "/" + o.InstanceKey(),
		})
	}
	return items
}
