package ics

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "jobcal/internal/log"
	"jobcal/internal/model"
)

// Sink receives the schedule items of one source, replacing the previous
// import. *store.DB implements it.
type Sink interface {
	ReplaceImported(ctx context.Context, sourceID string, items []model.ScheduleItem) (int, error)
}

// Importer keeps the schedule board in sync with the configured feeds.
type Importer struct {
	Fetcher  *Fetcher
	Sink     Sink
	Sources  []Source
	Location *time.Location
	// Backfill and Horizon bound the expansion window around now.
	Backfill time.Duration
	Horizon  time.Duration

	now func() time.Time
}

// SyncResult reports one source.
type SyncResult struct {
	SourceID  string `json:"source_id"`
	Imported  int    `json:"imported"`
	FromCache bool   `json:"from_cache"`
	Error     string `json:"error,omitempty"`
}

// Sync imports every source. A failing source is reported and does not stop
// the others; the returned error joins all failures.
func (im *Importer) Sync(ctx context.Context) ([]SyncResult, error) {
	now := time.Now
	if im.now != nil {
		now = im.now
	}
	t := now()
	from, to := t.Add(-im.Backfill), t.Add(im.Horizon)

	results := make([]SyncResult, 0, len(im.Sources))
	var errs []error
	for _, src := range im.Sources {
		res, err := im.syncOne(ctx, src, from, to)
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			appLog.Error("ics sync failed", err, "id", src.ID)
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (im *Importer) syncOne(ctx context.Context, src Source, from, to time.Time) (SyncResult, error) {
	res := SyncResult{SourceID: src.ID}

	fetched, err := im.Fetcher.Fetch(ctx, src)
	if err != nil {
		return res, err
	}
	res.FromCache = fetched.FromCache

	events, err := Parse(src, fetched.Body)
	if err != nil {
		return res, err
	}
	occs, err := Expand(events, from, to)
	if err != nil {
		return res, err
	}
	n, err := im.Sink.ReplaceImported(ctx, src.ID, ToScheduleItems(occs, im.Location))
	if err != nil {
		return res, err
	}
	res.Imported = n
	appLog.Info("ics sync completed", "id", src.ID, "imported", n, "from_cache", res.FromCache)
	return res, nil
}
