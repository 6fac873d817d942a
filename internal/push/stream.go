package push

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/robfig/cron/v3"

	appLog "jobcal/internal/log"
	"jobcal/internal/model"
)

// ServeStream subscribes the request to session's events and writes them as
// server-sent events until the client goes away.
func (b *Broker) ServeStream(w http.ResponseWriter, r *http.Request, session string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := b.Subscribe(session)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", sse.ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	appLog.Info("push stream opened", "session", session)
	defer appLog.Info("push stream closed", "session", session)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := sse.Encode(w, toSSE(evt)); err != nil {
				appLog.Error("push stream write failed", err, "session", session)
				return
			}
			flusher.Flush()
		}
	}
}

func toSSE(evt model.LiveEvent) sse.Event {
	e := sse.Event{
		Id:    evt.ID,
		Event: string(evt.Type),
		Data:  "",
	}
	if len(evt.Data) > 0 {
		e.Data = evt.Data
	}
	return e
}

// ScheduleHeartbeat adds a job to c that broadcasts a ping on spec, keeping
// idle streams (and the proxies in front of them) alive.
func ScheduleHeartbeat(c *cron.Cron, spec string, b *Broker) error {
	_, err := c.AddFunc(spec, func() {
		evt, err := NewEvent(model.EventPing, nil)
		if err != nil {
			return
		}
		n := b.Broadcast(evt)
		appLog.Debug("push heartbeat", "streams", n)
	})
	if err != nil {
		return fmt.Errorf("heartbeat schedule %q: %w", spec, err)
	}
	return nil
}
