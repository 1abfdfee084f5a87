package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apsgen/internal/config"
	"apsgen/internal/dates"
	appLog "apsgen/internal/log"
	"apsgen/internal/pipeline"
)

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer

	cfg, err := parseFlags([]string{"-dry-run", "2025-01-15", "2025-01-22", "-v", "-output-dir", "out"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", cfg.startDate)
	assert.Equal(t, "2025-01-22", cfg.endDate)
	assert.True(t, cfg.dryRun)
	assert.True(t, cfg.verbose)
	assert.Equal(t, "out", cfg.outputDir)
	assert.Equal(t, "apsgen.yaml", cfg.configPath)

	cfg, err = parseFlags([]string{"-serve"}, &stderr)
	require.NoError(t, err)
	assert.True(t, cfg.serve)
	assert.Empty(t, cfg.startDate)
}

func TestParseFlags_Errors(t *testing.T) {
	cases := map[string][]string{
		"missing start":     {},
		"too many dates":    {"2025-01-15", "2025-01-22", "2025-01-29"},
		"verbose and quiet": {"-v", "-q", "2025-01-15"},
		"dates with serve":  {"-serve", "2025-01-15"},
		"unknown flag":      {"-nope", "2025-01-15"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseFlags(args, &bytes.Buffer{})
			assert.Error(t, err)
		})
	}
}

func quietLogs(t *testing.T) {
	t.Helper()
	appLog.SetOutput(&bytes.Buffer{})
	t.Cleanup(func() {
		appLog.SetOutput(os.Stderr)
		appLog.SetLevel(appLog.LevelInfo)
	})
}

func eventsServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/events" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_WritesBatch(t *testing.T) {
	quietLogs(t)
	srv := eventsServer(t, `[
		{"title": "Fossil Talk", "date": "2025-01-16T19:00:00", "location": "Calgary", "host": "APS"},
		{"title": "Field Trip", "date": "January 18, 2025"}
	]`)

	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	args := []string{
		"-config", filepath.Join(dir, "apsgen.yaml"),
		"-base-url", srv.URL,
		"-output-dir", out,
		"2025-01-15",
	}

	code := run(context.Background(), args, &bytes.Buffer{})
	require.Equal(t, exitOK, code)

	assert.NoFileExists(t, filepath.Join(dir, "apsgen.yaml"), "one-shot runs do not create a config file")
	assert.FileExists(t, filepath.Join(out, "event_00.svg"))
	assert.FileExists(t, filepath.Join(out, "event_01.svg"))

	content, err := os.ReadFile(filepath.Join(out, "content.txt"))
	require.NoError(t, err)
	lines := strings.Split(string(content), "\n")
	assert.Equal(t, "2025-01-16T19:00:00: Fossil Talk @ Calgary (APS)", lines[0])
	assert.Equal(t, "Saturday, January 18: Field Trip", lines[1])
}

func TestRun_NoEventsExitsCleanly(t *testing.T) {
	quietLogs(t)
	srv := eventsServer(t, `[]`)
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	code := run(context.Background(), []string{
		"-config", filepath.Join(dir, "apsgen.yaml"),
		"-base-url", srv.URL,
		"-output-dir", out,
		"2025-01-15", "2025-01-16",
	}, &bytes.Buffer{})
	assert.Equal(t, exitOK, code)
	assert.NoDirExists(t, out)
}

func TestRun_InvalidPayloadFails(t *testing.T) {
	quietLogs(t)
	srv := eventsServer(t, `{"events": []}`)
	dir := t.TempDir()

	code := run(context.Background(), []string{
		"-config", filepath.Join(dir, "apsgen.yaml"),
		"-base-url", srv.URL,
		"-output-dir", filepath.Join(dir, "out"),
		"2025-01-15",
	}, &bytes.Buffer{})
	assert.Equal(t, exitError, code)
}

func TestRun_BadDates(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "apsgen.yaml")

	assert.Equal(t, exitError, run(context.Background(), []string{"-config", cfgPath, "2025/01/15"}, &bytes.Buffer{}))
	assert.Equal(t, exitError, run(context.Background(), []string{"-config", cfgPath, "2025-01-20", "2025-01-10"}, &bytes.Buffer{}))
}

func TestRun_Interrupted(t *testing.T) {
	quietLogs(t)
	srv := eventsServer(t, `[{"title": "Fossil Talk"}]`)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := run(ctx, []string{
		"-config", filepath.Join(dir, "apsgen.yaml"),
		"-base-url", srv.URL,
		"-output-dir", filepath.Join(dir, "out"),
		"2025-01-15",
	}, &bytes.Buffer{})
	assert.Equal(t, exitInterrupted, code)
}

func TestRun_Help(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, exitOK, run(context.Background(), []string{"-h"}, &stderr))
	assert.Contains(t, stderr.String(), "START_DATE")
}

func TestRun_DryRunLeavesDirectoryEmpty(t *testing.T) {
	quietLogs(t)
	srv := eventsServer(t, `[{"title": "Fossil Talk", "date": "2025-01-16"}]`)
	dir := t.TempDir()

	code := run(context.Background(), []string{
		"-dry-run",
		"-config", filepath.Join(dir, "apsgen.yaml"),
		"-base-url", srv.URL,
		"-output-dir", filepath.Join(dir, "out"),
		"2025-01-15",
	}, &bytes.Buffer{})
	require.Equal(t, exitOK, code)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_ConfigLogLevel(t *testing.T) {
	var logs bytes.Buffer
	appLog.SetOutput(&logs)
	t.Cleanup(func() {
		appLog.SetOutput(os.Stderr)
		appLog.SetLevel(appLog.LevelInfo)
	})

	srv := eventsServer(t, `[{"title": "Fossil Talk", "date": "2025-01-16"}]`)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "apsgen.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log_level: warn\n"), 0o600))

	code := run(context.Background(), []string{
		"-config", cfgPath,
		"-base-url", srv.URL,
		"-output-dir", filepath.Join(dir, "out"),
		"2025-01-15",
	}, &bytes.Buffer{})
	require.Equal(t, exitOK, code)
	assert.NotContains(t, logs.String(), "batch complete")

	logs.Reset()
	code = run(context.Background(), []string{
		"-v",
		"-config", cfgPath,
		"-base-url", srv.URL,
		"-output-dir", filepath.Join(dir, "out"),
		"2025-01-15",
	}, &bytes.Buffer{})
	require.Equal(t, exitOK, code)
	assert.Contains(t, logs.String(), "batch complete")
}

func TestRun_InvalidLogLevel(t *testing.T) {
	quietLogs(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "apsgen.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log_level: loud\n"), 0o600))

	assert.Equal(t, exitError, run(context.Background(), []string{"-config", cfgPath, "2025-01-15"}, &bytes.Buffer{}))
}

func TestExitCode(t *testing.T) {
	quietLogs(t)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, exitOK, exitCode(context.Background(), nil))
	assert.Equal(t, exitOK, exitCode(canceled, nil), "a signal after a finished batch is not an interruption")
	assert.Equal(t, exitInterrupted, exitCode(canceled, context.Canceled))
	assert.Equal(t, exitError, exitCode(context.Background(), os.ErrNotExist))
}

type ctxRecorder struct {
	ctxErr error
	ranges []dates.Range
}

func (r *ctxRecorder) Run(ctx context.Context, rng dates.Range) (*pipeline.Result, error) {
	r.ctxErr = ctx.Err()
	r.ranges = append(r.ranges, rng)
	return nil, ctx.Err()
}

func TestScheduledRunUsesDaemonContext(t *testing.T) {
	quietLogs(t)
	conf := config.DefaultConfig()
	conf.Timezone = "UTC"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &ctxRecorder{}
	c, err := newScheduler(ctx, conf, runner)
	require.NoError(t, err)
	require.Len(t, c.Entries(), 1)

	c.Entries()[0].Job.Run()

	require.Len(t, runner.ranges, 1)
	assert.ErrorIs(t, runner.ctxErr, context.Canceled)
	assert.Equal(t, time.Now().UTC().Format(dates.DayLayout), runner.ranges[0].StartDay())
}

func TestNewScheduler_BadSpec(t *testing.T) {
	conf := config.DefaultConfig()
	conf.Schedule = "every tuesday"
	_, err := newScheduler(context.Background(), conf, &ctxRecorder{})
	assert.Error(t, err)
}
