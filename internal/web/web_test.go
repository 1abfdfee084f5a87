package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apsgen/internal/config"
	"apsgen/internal/dates"
	"apsgen/internal/metrics"
	"apsgen/internal/model"
	"apsgen/internal/pipeline"
)

type stubPreparer struct {
	calls  int
	ranges []dates.Range
	err    error
}

func (p *stubPreparer) Prepare(_ context.Context, r dates.Range) (*pipeline.Batch, error) {
	p.calls++
	p.ranges = append(p.ranges, r)
	if p.err != nil {
		return nil, p.err
	}
	return &pipeline.Batch{
		Range: r,
		Events: []model.Event{
			{Title: model.Text("Fossil Talk"), Date: model.Text("2025-01-16"), Location: model.Text("Calgary")},
			{Title: model.Text("Broken"), Date: model.Text("sometime")},
		},
		Graphics: map[int][]byte{0: []byte("<svg>Fossil Talk</svg>")},
		Failures: []pipeline.Failure{{Index: 1, Err: errors.New("boom")}},
		Digest:   "Thursday, January 16: Fossil Talk @ Calgary\nsometime: Broken",
	}, nil
}

func newTestServer(cfg *config.Config, p Preparer) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
		cfg.Timezone = "UTC"
	}
	s := NewServer(cfg, p, metrics.New())
	s.now = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(nil, &stubPreparer{}).Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestEvents_DefaultRangeAndCache(t *testing.T) {
	p := &stubPreparer{}
	h := newTestServer(nil, p).Handler()

	rec := get(t, h, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025-01-15", resp.Start)
	assert.Equal(t, "2025-01-22", resp.End)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Events, 2)

	assert.Equal(t, "Thursday", resp.Events[0].Weekday)
	assert.Equal(t, "January 16", resp.Events[0].Date)
	assert.Equal(t, "Thursday, January 16: Fossil Talk @ Calgary", resp.Events[0].DigestLine)
	assert.Equal(t, "/api/graphics/0?start=2025-01-15&end=2025-01-22", resp.Events[0].Graphic)
	assert.Empty(t, resp.Events[1].Graphic)
	assert.Equal(t, "boom", resp.Events[1].Error)

	get(t, h, "/api/digest")
	assert.Equal(t, 1, p.calls, "second request within the TTL is served from cache")

	get(t, h, "/api/events?start=2025-02-01&end=2025-02-03")
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, "2025-02-03", p.ranges[1].EndDay())
}

func TestEvents_CacheExpires(t *testing.T) {
	p := &stubPreparer{}
	s := newTestServer(nil, p)
	h := s.Handler()

	get(t, h, "/api/events?start=2025-01-15")
	base := s.now()
	s.now = func() time.Time { return base.Add(batchCacheTTL) }
	get(t, h, "/api/events?start=2025-01-15")
	assert.Equal(t, 2, p.calls)
}

func TestEvents_BadRange(t *testing.T) {
	h := newTestServer(nil, &stubPreparer{}).Handler()

	rec := get(t, h, "/api/events?start=01/15/2025")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Expected YYYY-MM-DD")

	rec = get(t, h, "/api/events?start=2025-01-20&end=2025-01-10")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_PrepareFailure(t *testing.T) {
	h := newTestServer(nil, &stubPreparer{err: errors.New("connection refused")}).Handler()
	rec := get(t, h, "/api/events")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestDigest(t *testing.T) {
	rec := get(t, newTestServer(nil, &stubPreparer{}).Handler(), "/api/digest?start=2025-01-15")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, "Thursday, January 16: Fossil Talk @ Calgary\nsometime: Broken", rec.Body.String())
}

func TestGraphic(t *testing.T) {
	h := newTestServer(nil, &stubPreparer{}).Handler()

	rec := get(t, h, "/api/graphics/0")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<svg>Fossil Talk</svg>", rec.Body.String())

	assert.Equal(t, http.StatusUnprocessableEntity, get(t, h, "/api/graphics/1").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/graphics/2").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/graphics/abc").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(nil, &stubPreparer{}).Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "apsgen_last_batch_events")
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "aps", Password: "fossil"}
	h := newTestServer(cfg, &stubPreparer{}).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code, "health stays open")

	rec := get(t, h, "/api/events")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("aps", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("aps", "fossil")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthDisabledWhenIncomplete(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "aps"}
	s := newTestServer(cfg, &stubPreparer{})
	assert.False(t, s.basicAuthEnabled())
}

func TestStartServerStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, cfg, &stubPreparer{}, nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
