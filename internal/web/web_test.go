package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobcal/internal/cache"
	"jobcal/internal/config"
	"jobcal/internal/ics"
	"jobcal/internal/live"
	"jobcal/internal/model"
	"jobcal/internal/push"
	"jobcal/internal/store"
)

type fixture struct {
	srv    *Server
	db     *store.DB
	broker *push.Broker
}

func newFixture(t *testing.T, importer func(*store.DB) *ics.Importer) *fixture {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "jobcal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "alice", Password: "secret"}

	var im *ics.Importer
	if importer != nil {
		im = importer(db)
	}
	broker := push.NewBroker(4)
	return &fixture{srv: NewServer(cfg, db, broker, im), db: db, broker: broker}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.SetBasicAuth("alice", "secret")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthSkipsAuth(t *testing.T) {
	f := newFixture(t, nil)

	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/schedules", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestScheduleCRUD(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/schedules", scheduleRequest{
		Title: "Onsite interview", StartDate: "2025-05-06", EndDate: "2025-05-07", StatusLabel: "interview",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[scheduleDTO](t, rec)
	assert.NotZero(t, created.ID)
	assert.Equal(t, "2025-05-06", created.StartDate)

	path := "/api/schedules/" + strconv.FormatInt(created.ID, 10)
	rec = f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decode[scheduleDTO](t, rec))

	rec = f.do(t, http.MethodPut, path, scheduleRequest{
		Title: "Onsite interview (round 2)", StartDate: "2025-05-08", EndDate: "2025-05-08", StatusLabel: "interview",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2025-05-08", decode[scheduleDTO](t, rec).EndDate)

	rec = f.do(t, http.MethodPatch, path+"/status", statusRequest{StatusLabel: "offer"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/schedules", nil)
	list := decode[[]scheduleDTO](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "offer", list[0].StatusLabel)

	rec = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t, nil)

	cases := map[string]scheduleRequest{
		"bad date":      {Title: "x", StartDate: "05/06/2025", EndDate: "2025-05-06"},
		"end before":    {Title: "x", StartDate: "2025-05-06", EndDate: "2025-05-05"},
		"missing title": {Title: "  ", StartDate: "2025-05-06", EndDate: "2025-05-06"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/schedules", req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(t, http.MethodPost, "/api/schedules", map[string]string{"title": "x", "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/schedules/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWeekLayout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Wednesday 2025-05-07; the Sunday week is 05-04..05-10.
	a, err := f.db.CreateSchedule(ctx, model.ScheduleItem{Title: "A", StartDate: day("2025-05-05"), EndDate: day("2025-05-08")})
	require.NoError(t, err)
	_, err = f.db.CreateSchedule(ctx, model.ScheduleItem{Title: "outside", StartDate: day("2025-05-12"), EndDate: day("2025-05-12")})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/calendar/week?date=2025-05-07", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	week := decode[weekResponse](t, rec)
	assert.Equal(t, "2025-05-04", week.Days[0])
	assert.Equal(t, "2025-05-10", week.Days[6])
	assert.Equal(t, []model.WeekEvent{{ScheduleItemID: a.ID, StartColumn: 1, EndColumn: 4, Row: 0}}, week.Events)
	assert.Equal(t, 1, week.RowCount)
	require.Len(t, week.Items, 1)
	assert.Equal(t, "A", week.Items[0].Title)

	// A write through the API drops the cached layout.
	rec = f.do(t, http.MethodPost, "/api/schedules", scheduleRequest{Title: "B", StartDate: "2025-05-08", EndDate: "2025-05-12"})
	require.Equal(t, http.StatusCreated, rec.Code)
	b := decode[scheduleDTO](t, rec)

	rec = f.do(t, http.MethodGet, "/api/calendar/week?date=2025-05-10", nil)
	week = decode[weekResponse](t, rec)
	require.Len(t, week.Events, 2)
	assert.Equal(t, model.WeekEvent{ScheduleItemID: a.ID, StartColumn: 1, EndColumn: 4, Row: 0}, week.Events[0])
	assert.Equal(t, model.WeekEvent{ScheduleItemID: b.ID, StartColumn: 4, EndColumn: 6, Row: 1}, week.Events[1])
	assert.Equal(t, 2, week.RowCount)

	rec = f.do(t, http.MethodGet, "/api/calendar/week?date=tomorrow", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWeekLayoutDefaultsToToday(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.now = func() time.Time { return time.Date(2025, 5, 7, 23, 30, 0, 0, time.UTC) }

	rec := f.do(t, http.MethodGet, "/api/calendar/week", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	week := decode[weekResponse](t, rec)
	assert.Equal(t, "2025-05-04", week.Days[0])
	assert.Empty(t, week.Events)
}

func TestMonthLayout(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.db.CreateSchedule(context.Background(), model.ScheduleItem{
		Title: "Coding test window", StartDate: day("2025-05-09"), EndDate: day("2025-05-13"),
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/calendar/month?date=2025-05-20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	month := decode[monthResponse](t, rec)
	assert.Equal(t, "2025-05", month.Month)
	require.Len(t, month.Weeks, 5)
	assert.Equal(t, "2025-04-27", month.Weeks[0].Days[0])

	// The item spans the second and third weeks.
	require.Len(t, month.Weeks[1].Events, 1)
	assert.Equal(t, 5, month.Weeks[1].Events[0].StartColumn)
	assert.Equal(t, 6, month.Weeks[1].Events[0].EndColumn)
	require.Len(t, month.Weeks[2].Events, 1)
	assert.Equal(t, 0, month.Weeks[2].Events[0].StartColumn)
	assert.Equal(t, 2, month.Weeks[2].Events[0].EndColumn)
	assert.Empty(t, month.Weeks[0].Events)
}

func TestAckEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/live/ack", model.Ack{
		EventType: model.EventInterviewFeedbackCompleted,
		Payload:   json.RawMessage(`{"interviewId":3}`),
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/live/ack", model.Ack{EventType: model.EventPing})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/live/ack", model.Ack{EventType: "resume-parsed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/live/acks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acks := decode[[]model.AckRecord](t, rec)
	require.Len(t, acks, 1)
	assert.Equal(t, "alice", acks[0].Session)
	assert.Equal(t, model.EventInterviewFeedbackCompleted, acks[0].EventType)
	assert.JSONEq(t, `{"interviewId":3}`, acks[0].Payload)

	rec = f.do(t, http.MethodGet, "/api/live/acks?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/live/publish", publishRequest{EventType: model.EventPing})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decode[publishResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Zero(t, resp.Delivered)

	rec = f.do(t, http.MethodPost, "/api/live/publish", publishRequest{EventType: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestLiveRoundTrip drives the watch client against the real server: the
// published event invalidates the client cache, raises a notification and
// comes back as a stored ack.
func TestLiveRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.srv.Handler())
	t.Cleanup(ts.Close)

	clientCache := cache.New(0)
	clientCache.Set(live.CompanyReportsKey(7), "stale")
	notes := make(chan live.Notification, 4)

	sess := live.NewSession(live.Options{
		StreamURL: ts.URL + "/api/live/stream",
		Cache:     clientCache,
		Notifier:  live.NotifierFunc(func(n live.Notification) { notes <- n }),
		Acks:      live.HTTPAcks(ts.URL+"/api/live/ack", 5*time.Second),
	})
	require.NoError(t, sess.Login(context.Background(), live.Credentials{Username: "alice", Password: "secret"}))
	defer sess.Logout()
	require.Equal(t, 1, f.broker.Sessions())

	rec := f.do(t, http.MethodPost, "/api/live/publish", publishRequest{
		Session:   "alice",
		EventType: model.EventCompanyAnalysisCompleted,
		Payload:   json.RawMessage(`{"companyId":7,"companyAnalysisId":42}`),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, decode[publishResponse](t, rec).Delivered)

	select {
	case n := <-notes:
		assert.Equal(t, live.SeveritySuccess, n.Severity)
		require.NotNil(t, n.Action)
		assert.Equal(t, "/companies/7/reports/42", n.Action.Href)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
	_, cached := clientCache.Get(live.CompanyReportsKey(7))
	assert.False(t, cached)

	var acks []model.AckRecord
	require.Eventually(t, func() bool {
		var err error
		acks, err = f.db.ListAcks(context.Background(), "alice", 10)
		return err == nil && len(acks) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, model.EventCompanyAnalysisCompleted, acks[0].EventType)
	assert.JSONEq(t, `{"companyId":7,"companyAnalysisId":42}`, acks[0].Payload)
}

const refreshFeed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//jobcal//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:fair\r\nSUMMARY:Career fair\r\n" +
	"DTSTART;VALUE=DATE:20250506\r\nDTEND;VALUE=DATE:20250507\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestICSRefresh(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(refreshFeed))
	}))
	t.Cleanup(feed.Close)

	f := newFixture(t, func(db *store.DB) *ics.Importer {
		// Wide window so the fixed 2025 feed is always in range.
		return &ics.Importer{
			Fetcher:  ics.NewFetcher(t.TempDir()),
			Sink:     db,
			Sources:  []ics.Source{{ID: "fairs", URL: feed.URL + "/fairs.ics", Status: "event"}},
			Location: time.UTC,
			Backfill: 50 * 365 * 24 * time.Hour,
			Horizon:  24 * time.Hour,
		}
	})

	rec := f.do(t, http.MethodGet, "/api/calendar/week?date=2025-05-06", nil)
	assert.Empty(t, decode[weekResponse](t, rec).Events)

	rec = f.do(t, http.MethodPost, "/api/ics/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode[[]ics.SyncResult](t, rec)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Imported)

	rec = f.do(t, http.MethodGet, "/api/calendar/week?date=2025-05-06", nil)
	week := decode[weekResponse](t, rec)
	require.Len(t, week.Items, 1)
	assert.Equal(t, "Career fair", week.Items[0].Title)
	assert.True(t, strings.HasPrefix(week.Items[0].SourceUID, "fairs/"))
}

func TestICSRefreshWithoutSources(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/ics/refresh", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestLayoutCacheIgnoresResultsBuiltBeforeAWrite(t *testing.T) {
	f := newFixture(t, nil)
	key := cache.Join(layoutScope, "week", "2025-05-04")

	// Read started, then a write landed before the result was stored.
	gen := f.srv.gen.Load()
	f.srv.schedulesChanged()
	f.srv.storeLayout(key, gen, weekResponse{RowCount: 9})
	_, ok := f.srv.cachedLayout(key)
	assert.False(t, ok)

	// Stored first, then the write: the entry is stale on the next read.
	gen = f.srv.gen.Load()
	f.srv.storeLayout(key, gen, weekResponse{RowCount: 9})
	f.srv.gen.Add(1)
	_, ok = f.srv.cachedLayout(key)
	assert.False(t, ok)

	gen = f.srv.gen.Load()
	f.srv.storeLayout(key, gen, weekResponse{RowCount: 3})
	v, ok := f.srv.cachedLayout(key)
	require.True(t, ok)
	assert.Equal(t, 3, v.(weekResponse).RowCount)
}
