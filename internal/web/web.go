// Package web serves a preview of the batch for a date range: the event
// list, the digest text and each rendered graphic.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"apsgen/internal/config"
	"apsgen/internal/dates"
	"apsgen/internal/digest"
	appLog "apsgen/internal/log"
	"apsgen/internal/metrics"
	"apsgen/internal/model"
	"apsgen/internal/pipeline"
)

// batchCacheTTL bounds how long a prepared batch is reused.
const batchCacheTTL = 30 * time.Second

// Preparer fetches and renders a batch in memory.
type Preparer interface {
	Prepare(ctx context.Context, r dates.Range) (*pipeline.Batch, error)
}

// Server provides the preview HTTP API.
type Server struct {
	cfg      *config.Config
	preparer Preparer
	metrics  *metrics.Metrics
	mux      *http.ServeMux
	now      func() time.Time

	// Prepared batches keyed by range, so reloading a preview does not
	// refetch and rerender.
	batchMu sync.Mutex
	batches map[string]*batchCache
}

type batchCache struct {
	batch     *pipeline.Batch
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, p Preparer, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		preparer: p,
		metrics:  m,
		mux:      http.NewServeMux(),
		now:      time.Now,
		batches:  make(map[string]*batchCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials mean auth is off.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="apsgen", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func StartServer(ctx context.Context, cfg *config.Config, p Preparer, m *metrics.Metrics) error {
	s := NewServer(cfg, p, m)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/digest", s.handleDigest)
	s.mux.HandleFunc("GET /api/graphics/{n}", s.handleGraphic)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Start  string     `json:"start"`
	End    string     `json:"end"`
	Count  int        `json:"count"`
	Failed int        `json:"failed"`
	Events []eventDTO `json:"events"`
}

// eventDTO is one event with its digest line and graphic link.
type eventDTO struct {
	Index      int         `json:"index"`
	Event      model.Event `json:"event"`
	Weekday    string      `json:"weekday,omitempty"`
	Date       string      `json:"date,omitempty"`
	DigestLine string      `json:"digest_line"`
	Graphic    string      `json:"graphic,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// handleEvents lists the events of a range.
//
// GET /api/events?start=2025-01-15&end=2025-01-22
//   - start: first day (default: today in the configured timezone)
//   - end:   last day (default: start + 7 days)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rng, b, ok := s.batchFor(w, r)
	if !ok {
		return
	}

	failures := make(map[int]string, len(b.Failures))
	for _, f := range b.Failures {
		failures[f.Index] = f.Err.Error()
	}

	resp := eventsResponse{
		Start:  rng.StartDay(),
		End:    rng.EndDay(),
		Count:  len(b.Events),
		Failed: len(b.Failures),
		Events: make([]eventDTO, 0, len(b.Events)),
	}
	for i, ev := range b.Events {
		d := dates.Infer(ev.Value(model.FieldDate))
		dto := eventDTO{
			Index:      i,
			Event:      ev,
			Weekday:    d.Weekday,
			Date:       d.Formatted,
			DigestLine: digest.Line(ev),
			Error:      failures[i],
		}
		if _, ok := b.Graphics[i]; ok {
			dto.Graphic = fmt.Sprintf("/api/graphics/%d?start=%s&end=%s", i, rng.StartDay(), rng.EndDay())
		}
		resp.Events = append(resp.Events, dto)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDigest returns the digest text exactly as written to content.txt.
func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	_, b, ok := s.batchFor(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.Digest))
}

// handleGraphic returns the SVG for event n of the range.
func (s *Server) handleGraphic(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "graphic index must be a non-negative integer")
		return
	}

	_, b, ok := s.batchFor(w, r)
	if !ok {
		return
	}
	if n >= len(b.Events) {
		writeError(w, http.StatusNotFound, "no event with that index")
		return
	}
	svg, ok := b.Graphics[n]
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "graphic failed to render")
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(svg)
}

// batchFor resolves the requested range and returns its batch, writing an
// error response and returning ok=false on failure.
func (s *Server) batchFor(w http.ResponseWriter, r *http.Request) (dates.Range, *pipeline.Batch, bool) {
	rng, err := s.requestRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return dates.Range{}, nil, false
	}

	key := rng.StartDay() + "/" + rng.EndDay()
	now := s.now()

	s.batchMu.Lock()
	bc := s.batches[key]
	s.batchMu.Unlock()
	if bc != nil && now.Sub(bc.updatedAt) < batchCacheTTL {
		return rng, bc.batch, true
	}

	appLog.Info("preview batch request", "start", rng.StartDay(), "end", rng.EndDay())
	b, err := s.preparer.Prepare(r.Context(), rng)
	if err != nil {
		appLog.Error("preview: prepare failed", err, "start", rng.StartDay(), "end", rng.EndDay())
		writeError(w, http.StatusBadGateway, err.Error())
		return dates.Range{}, nil, false
	}

	s.batchMu.Lock()
	s.batches[key] = &batchCache{batch: b, updatedAt: now}
	for k, c := range s.batches {
		if now.Sub(c.updatedAt) >= batchCacheTTL {
			delete(s.batches, k)
		}
	}
	s.batchMu.Unlock()

	return rng, b, true
}

func (s *Server) requestRange(r *http.Request) (dates.Range, error) {
	q := r.URL.Query()
	start := q.Get("start")
	if start == "" {
		start = s.now().In(s.cfg.Location()).Format(dates.DayLayout)
	}
	return dates.ParseRange(start, q.Get("end"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
