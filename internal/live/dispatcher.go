package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"jobcal/internal/cache"
	appLog "jobcal/internal/log"
	"jobcal/internal/model"
)

var (
	ErrUnknownEvent     = errors.New("unknown live event type")
	ErrMalformedPayload = errors.New("malformed live event payload")
)

// Invalidator is the keyed cache the client clears. *cache.Store
// implements it.
type Invalidator interface {
	Invalidate(key cache.Key) int
}

// Notifier shows a notification to the user.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Acknowledger tells the server an event was handled.
type Acknowledger interface {
	Ack(ctx context.Context, ack model.Ack) error
}

const defaultAckTimeout = 10 * time.Second

// Dispatcher runs the reaction for each live event. Handle must be called
// from a single goroutine; acknowledgments run on their own goroutines so a
// slow ack never delays the next event.
type Dispatcher struct {
	reactions  map[model.EventType]Reaction
	cache      Invalidator
	notifier   Notifier
	acker      Acknowledger
	ackTimeout time.Duration

	acks sync.WaitGroup
}

// NewDispatcher builds a Dispatcher over the Reactions table. Any of the
// collaborators may be nil, in which case that step is skipped.
func NewDispatcher(c Invalidator, n Notifier, a Acknowledger) *Dispatcher {
	return &Dispatcher{
		reactions:  Reactions,
		cache:      c,
		notifier:   n,
		acker:      a,
		ackTimeout: defaultAckTimeout,
	}
}

// Handle invalidates, notifies and schedules the acknowledgment for evt, in
// that order. Duplicate deliveries are handled again in full.
func (d *Dispatcher) Handle(ctx context.Context, evt model.LiveEvent) error {
	r, ok := d.reactions[evt.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Type)
	}

	var p model.Payload
	if len(evt.Data) > 0 {
		if err := json.Unmarshal(evt.Data, &p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, evt.Type, err)
		}
	}

	if r.Invalidate != nil && d.cache != nil {
		for _, key := range r.Invalidate(p) {
			n := d.cache.Invalidate(key)
			appLog.Debug("live cache invalidated", "event", evt.Type, "key", key, "entries", n)
		}
	}
	if r.Notify != nil && d.notifier != nil {
		d.notifier.Notify(r.Notify(p))
	}
	if r.Ack && d.acker != nil {
		d.ack(ctx, evt)
	}
	return nil
}

func (d *Dispatcher) ack(ctx context.Context, evt model.LiveEvent) {
	payload := evt.Data
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	ack := model.Ack{EventType: evt.Type, Payload: payload}

	// The ack outlives the connection that delivered the event.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.ackTimeout)
	d.acks.Add(1)
	go func() {
		defer d.acks.Done()
		defer cancel()
		if err := d.acker.Ack(ackCtx, ack); err != nil {
			appLog.Error("live ack failed", err, "event", evt.Type, "id", evt.ID)
		}
	}()
}

// Wait blocks until every scheduled acknowledgment has finished.
func (d *Dispatcher) Wait() {
	d.acks.Wait()
}
