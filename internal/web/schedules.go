package web

import (
	"errors"
	"net/http"
	"strconv"

	"jobcal/internal/calendar"
	appLog "jobcal/internal/log"
	"jobcal/internal/model"
	"jobcal/internal/store"
)

// layoutScope is the cache prefix of every calendar layout.
const layoutScope = "calendar"

// scheduleDTO is the JSON shape of a schedule item; dates are YYYY-MM-DD.
type scheduleDTO struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	StatusLabel string `json:"status_label"`
	SourceUID   string `json:"source_uid,omitempty"`
}

type scheduleRequest struct {
	Title       string `json:"title"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	StatusLabel string `json:"status_label"`
}

type statusRequest struct {
	StatusLabel string `json:"status_label"`
}

func toDTO(it model.ScheduleItem) scheduleDTO {
	return scheduleDTO{
		ID:          it.ID,
		Title:       it.Title,
		StartDate:   it.StartDate.Format(calendar.DateLayout),
		EndDate:     it.EndDate.Format(calendar.DateLayout),
		StatusLabel: it.StatusLabel,
		SourceUID:   it.SourceUID,
	}
}

func toDTOs(items []model.ScheduleItem) []scheduleDTO {
	out := make([]scheduleDTO, 0, len(items))
	for _, it := range items {
		out = append(out, toDTO(it))
	}
	return out
}

func (req scheduleRequest) item() (model.ScheduleItem, error) {
	start, err := calendar.ParseDate(req.StartDate)
	if err != nil {
		return model.ScheduleItem{}, err
	}
	end, err := calendar.ParseDate(req.EndDate)
	if err != nil {
		return model.ScheduleItem{}, err
	}
	return model.ScheduleItem{
		Title:       req.Title,
		StartDate:   start,
		EndDate:     end,
		StatusLabel: req.StatusLabel,
	}, nil
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		appLog.Error("store operation failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// schedulesChanged drops cached layouts after any write. Bumping the
// generation first keeps in-flight layout reads from caching old data.
func (s *Server) schedulesChanged() int {
	s.gen.Add(1)
	return s.layouts.Invalidate(layoutScope)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListSchedules(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTOs(items))
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	it, err := s.store.GetSchedule(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(it))
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	it, err := req.item()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.store.CreateSchedule(r.Context(), it)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.schedulesChanged()
	writeJSON(w, http.StatusCreated, toDTO(created))
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	it, err := req.item()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	it.ID = id
	updated, err := s.store.UpdateSchedule(r.Context(), it)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.schedulesChanged()
	writeJSON(w, http.StatusOK, toDTO(updated))
}

// handleUpdateStatus backs drag-and-drop between board columns.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateScheduleStatus(r.Context(), id, req.StatusLabel); err != nil {
		writeStoreError(w, err)
		return
	}
	s.schedulesChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.DeleteSchedule(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	s.schedulesChanged()
	w.WriteHeader(http.StatusNoContent)
}
