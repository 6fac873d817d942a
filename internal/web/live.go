package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"jobcal/internal/ics"
	appLog "jobcal/internal/log"
	"jobcal/internal/model"
	"jobcal/internal/push"
)

type publishRequest struct {
	// Session targets one user; empty broadcasts to everyone.
	Session   string          `json:"session"`
	EventType model.EventType `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type publishResponse struct {
	ID        string `json:"id"`
	Delivered int    `json:"delivered"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.broker.ServeStream(w, r, sessionOf(r))
}

// handleAck records a client's confirmation of a handled event.
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var ack model.Ack
	if err := decodeJSON(w, r, &ack); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ack.EventType.Valid() || ack.EventType == model.EventPing {
		writeError(w, http.StatusBadRequest, "unknown event type "+strconv.Quote(string(ack.EventType)))
		return
	}
	if len(ack.Payload) > 0 && !json.Valid(ack.Payload) {
		writeError(w, http.StatusBadRequest, "payload is not valid JSON")
		return
	}

	session := sessionOf(r)
	id, err := s.store.RecordAck(r.Context(), session, ack)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	appLog.Debug("live ack recorded", "session", session, "event", ack.EventType, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAcks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := s.store.ListAcks(r.Context(), sessionOf(r), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if recs == nil {
		recs = []model.AckRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handlePublish lets background jobs (analysis, feedback) push an event to
// connected clients.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.EventType.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event type "+strconv.Quote(string(req.EventType)))
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		if !json.Valid(req.Payload) {
			writeError(w, http.StatusBadRequest, "payload is not valid JSON")
			return
		}
		payload = req.Payload
	}
	evt, err := push.NewEvent(req.EventType, payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var delivered int
	if req.Session == "" {
		delivered = s.broker.Broadcast(evt)
	} else {
		delivered = s.broker.Publish(req.Session, evt)
	}
	appLog.Info("live event published", "event", evt.Type, "id", evt.ID, "session", req.Session, "delivered", delivered)
	writeJSON(w, http.StatusAccepted, publishResponse{ID: evt.ID, Delivered: delivered})
}

// handleICSRefresh runs an import immediately instead of waiting for cron.
func (s *Server) handleICSRefresh(w http.ResponseWriter, r *http.Request) {
	if s.importer == nil {
		writeError(w, http.StatusNotFound, "no ICS sources configured")
		return
	}
	results, err := s.RefreshICS(r.Context())
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, results)
}

// RefreshICS syncs every ICS source and drops cached layouts. The cron
// refresh job calls it too.
func (s *Server) RefreshICS(ctx context.Context) ([]ics.SyncResult, error) {
	if s.importer == nil {
		return nil, nil
	}
	results, err := s.importer.Sync(ctx)
	if n := s.schedulesChanged(); n > 0 {
		appLog.Debug("calendar layouts invalidated", "entries", n)
	}
	return results, err
}
