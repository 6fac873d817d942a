package live

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"jobcal/internal/model"
)

// HTTPAcks returns an Acks factory for Options that POSTs acknowledgments
// as JSON to url, authenticated as the logged-in user.
func HTTPAcks(url string, timeout time.Duration) func(Credentials) Acknowledger {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return func(cred Credentials) Acknowledger {
		return &httpAcknowledger{client: client, url: url, cred: cred}
	}
}

type httpAcknowledger struct {
	client *resty.Client
	url    string
	cred   Credentials
}

func (a *httpAcknowledger) Ack(ctx context.Context, ack model.Ack) error {
	req := a.client.R().
		SetContext(ctx).
		SetBody(ack)
	if a.cred.Username != "" {
		req.SetBasicAuth(a.cred.Username, a.cred.Password)
	}

	resp, err := req.Post(a.url)
	if err != nil {
		return fmt.Errorf("ack %s: %w", ack.EventType, err)
	}
	if resp.IsError() {
		return fmt.Errorf("ack %s: %s", ack.EventType, resp.Status())
	}
	return nil
}
