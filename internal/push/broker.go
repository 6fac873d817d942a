// Package push is the server side of the live-event channel: it fans
// events out to the open streams of each session.
package push

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	appLog "jobcal/internal/log"
	"jobcal/internal/model"
)

// Broker keeps the subscribers of every session. A session may have
// several subscribers (browser tabs); each gets every event.
type Broker struct {
	buffer int

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch chan model.LiveEvent
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{
		buffer: buffer,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers a stream for session. The returned cancel func must
// be called when the stream ends; it closes the channel.
func (b *Broker) Subscribe(session string) (<-chan model.LiveEvent, func()) {
	s := &subscriber{ch: make(chan model.LiveEvent, b.buffer)}

	b.mu.Lock()
	set, ok := b.subs[session]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[session] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[session], s)
			if len(b.subs[session]) == 0 {
				delete(b.subs, session)
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// NewEvent stamps an event with an ID and timestamp.
func NewEvent(typ model.EventType, payload any) (model.LiveEvent, error) {
	evt := model.LiveEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return model.LiveEvent{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		evt.Data = data
	}
	return evt, nil
}

// Publish delivers evt to every stream of session and returns how many
// streams received it. Streams whose buffer is full miss the event.
func (b *Broker) Publish(session string, evt model.LiveEvent) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.deliverLocked(session, b.subs[session], evt)
}

// Broadcast delivers evt to every stream of every session.
func (b *Broker) Broadcast(evt model.LiveEvent) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for session, set := range b.subs {
		n += b.deliverLocked(session, set, evt)
	}
	return n
}

func (b *Broker) deliverLocked(session string, set map[*subscriber]struct{}, evt model.LiveEvent) int {
	n := 0
	for s := range set {
		select {
		case s.ch <- evt:
			n++
		default:
			appLog.Info("push subscriber lagging; event dropped", "session", session, "event", evt.Type, "id", evt.ID)
		}
	}
	return n
}

// Sessions returns the number of sessions with at least one stream.
func (b *Broker) Sessions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
