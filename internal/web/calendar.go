package web

import (
	"net/http"
	"time"

	"jobcal/internal/cache"
	"jobcal/internal/calendar"
	"jobcal/internal/model"
)

type weekResponse struct {
	Days     []string          `json:"days"`
	Events   []model.WeekEvent `json:"events"`
	RowCount int               `json:"row_count"`
	Items    []scheduleDTO     `json:"items"`
}

type monthResponse struct {
	Month string         `json:"month"`
	Weeks []weekResponse `json:"weeks"`
}

// anchorDate reads ?date=YYYY-MM-DD, defaulting to today in the configured
// timezone.
func (s *Server) anchorDate(r *http.Request) (time.Time, error) {
	if v := r.URL.Query().Get("date"); v != "" {
		return calendar.ParseDate(v)
	}
	return calendar.Day(s.now().In(s.cfg.Location())), nil
}

func dayStrings(week [7]time.Time) []string {
	out := make([]string, len(week))
	for i, d := range week {
		out[i] = d.Format(calendar.DateLayout)
	}
	return out
}

// visibleItems returns the items referenced by events, in event order.
func visibleItems(events []model.WeekEvent, items []model.ScheduleItem) []scheduleDTO {
	byID := make(map[int64]model.ScheduleItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]scheduleDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, toDTO(byID[ev.ScheduleItemID]))
	}
	return out
}

func weekResponseOf(wl calendar.WeekLayout, items []model.ScheduleItem) weekResponse {
	events := wl.Events
	if events == nil {
		events = []model.WeekEvent{}
	}
	return weekResponse{
		Days:     dayStrings(wl.Days),
		Events:   events,
		RowCount: wl.RowCount,
		Items:    visibleItems(events, items),
	}
}

// layoutEntry tags a cached layout with the schedule generation it was
// built from.
type layoutEntry struct {
	gen  uint64
	resp any
}

// cachedLayout returns a layout built from the current schedules only.
func (s *Server) cachedLayout(key cache.Key) (any, bool) {
	v, ok := s.layouts.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := v.(layoutEntry)
	if !ok || e.gen != s.gen.Load() {
		return nil, false
	}
	return e.resp, true
}

// storeLayout caches resp unless schedules changed after gen was read.
func (s *Server) storeLayout(key cache.Key, gen uint64, resp any) {
	if gen != s.gen.Load() {
		return
	}
	s.layouts.Set(key, layoutEntry{gen: gen, resp: resp})
}

func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	anchor, err := s.anchorDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	week := calendar.WeekOf(anchor, s.cfg.WeekStartDay())
	key := cache.Join(layoutScope, "week", week[0].Format(calendar.DateLayout))
	if v, ok := s.cachedLayout(key); ok {
		writeJSON(w, http.StatusOK, v)
		return
	}

	gen := s.gen.Load()
	items, err := s.store.ListSchedulesBetween(r.Context(), week[0], week[6])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	events := calendar.LayoutWeek(week, items)
	resp := weekResponseOf(calendar.WeekLayout{
		Days:     week,
		Events:   events,
		RowCount: calendar.RowCount(events),
	}, items)
	s.storeLayout(key, gen, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	anchor, err := s.anchorDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	month := anchor.Format("2006-01")
	key := cache.Join(layoutScope, "month", month)
	if v, ok := s.cachedLayout(key); ok {
		writeJSON(w, http.StatusOK, v)
		return
	}

	gen := s.gen.Load()
	weeks := calendar.MonthWeeks(anchor, s.cfg.WeekStartDay())
	last := weeks[len(weeks)-1]
	items, err := s.store.ListSchedulesBetween(r.Context(), weeks[0][0], last[6])
	if err != nil {
		writeStoreError(w, err)
		return
	}

	layouts := calendar.LayoutMonth(anchor, s.cfg.WeekStartDay(), items)
	resp := monthResponse{Month: month, Weeks: make([]weekResponse, 0, len(layouts))}
	for _, wl := range layouts {
		resp.Weeks = append(resp.Weeks, weekResponseOf(wl, items))
	}
	s.storeLayout(key, gen, resp)
	writeJSON(w, http.StatusOK, resp)
}
