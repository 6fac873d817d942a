package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	appLog "jobcal/internal/log"
	"jobcal/internal/model"
)

type State int

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Credentials authenticate the session against the push server.
type Credentials struct {
	Username string
	Password string
}

// Options configure a Session.
type Options struct {
	// StreamURL is the push endpoint.
	StreamURL string
	// HTTPClient is used for the stream. It must not have a total timeout.
	HTTPClient *http.Client

	Cache    Invalidator
	Notifier Notifier
	// Acks builds the acknowledger for a logged-in user. Nil disables acks.
	Acks func(Credentials) Acknowledger
}

// Session owns the live connection of one authenticated session. Login
// opens it, Logout closes it; at most one connection is open at a time.
type Session struct {
	opts Options

	// life serializes Login and Logout.
	life sync.Mutex

	mu    sync.Mutex
	conn  *connection
	state State
}

type connection struct {
	cancel     context.CancelFunc
	done       chan struct{}
	dispatcher *Dispatcher
}

func NewSession(opts Options) *Session {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Session{opts: opts}
}

// Login closes any open connection and subscribes to the push endpoint with
// cred. It returns once the server accepted the subscription; events are
// then handled in the background until Logout or the server hangs up.
func (s *Session) Login(ctx context.Context, cred Credentials) error {
	s.life.Lock()
	defer s.life.Unlock()

	s.closeLocked()

	// The connection outlives ctx, but ctx still bounds the handshake.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)
	body, err := s.subscribe(connCtx, cred)
	if err != nil {
		stop()
		cancel()
		if ctx.Err() != nil {
			return fmt.Errorf("live subscribe: %w", ctx.Err())
		}
		return err
	}
	if !stop() {
		body.Close()
		return fmt.Errorf("live subscribe: %w", ctx.Err())
	}

	var acker Acknowledger
	if s.opts.Acks != nil {
		acker = s.opts.Acks(cred)
	}
	c := &connection{
		cancel:     cancel,
		done:       make(chan struct{}),
		dispatcher: NewDispatcher(s.opts.Cache, s.opts.Notifier, acker),
	}
	s.mu.Lock()
	s.conn = c
	s.state = Connected
	s.mu.Unlock()
	appLog.Info("live connected", "url", s.opts.StreamURL, "user", cred.Username)

	go s.run(connCtx, c, body)
	return nil
}

func (s *Session) subscribe(ctx context.Context, cred Credentials) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.StreamURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if cred.Username != "" {
		req.SetBasicAuth(cred.Username, cred.Password)
	}

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("live subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("live subscribe: %s", resp.Status)
	}
	return resp.Body, nil
}

// run reads frames until the stream ends or the connection is closed.
// Transport errors end the connection quietly; there is no reconnect.
func (s *Session) run(ctx context.Context, c *connection, body io.ReadCloser) {
	defer close(c.done)
	defer body.Close()
	defer s.markDisconnected(c)

	stream := NewStream(body)
	for {
		f, err := stream.Next()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				appLog.Info("live connection lost", "err", err)
			}
			return
		}

		evt := model.LiveEvent{ID: f.ID, Type: model.EventType(f.Event)}
		if f.Data != "" {
			evt.Data = json.RawMessage(f.Data)
		}
		if err := c.dispatcher.Handle(ctx, evt); err != nil {
			appLog.Error("live event dropped", err, "event", f.Event, "id", f.ID)
		}
	}
}

func (s *Session) markDisconnected(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == c {
		s.state = Disconnected
	}
}

// Logout closes the connection, if any, and waits for its reader to stop
// and its pending acknowledgments to finish.
func (s *Session) Logout() {
	s.life.Lock()
	defer s.life.Unlock()
	s.closeLocked()
}

// Close is Logout; it lets a Session be used as an io.Closer.
func (s *Session) Close() error {
	s.Logout()
	return nil
}

// closeLocked must be called with s.life held.
func (s *Session) closeLocked() {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return
	}

	c.cancel()
	<-c.done
	// The reader is gone, so no new acks can start; each pending one is
	// bounded by the ack timeout.
	c.dispatcher.Wait()

	s.mu.Lock()
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()
	appLog.Info("live disconnected", "url", s.opts.StreamURL)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the current connection ends. It is nil while logged
// out.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.done
}
