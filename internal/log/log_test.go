package log

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withBuffer(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := withBuffer(t, LevelWarn)

	Debug("debug line")
	Info("info line")
	Warn("warn line")
	Error("error line", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn line")
	assert.Contains(t, out, "[ERROR] error line err=boom")
}

func TestDebugEnablesEverything(t *testing.T) {
	buf := withBuffer(t, LevelDebug)

	Debug("generating", "index", 3)

	assert.Contains(t, buf.String(), "[DEBUG] generating index=3")
}

func TestKeyValueFormatting(t *testing.T) {
	buf := withBuffer(t, LevelInfo)

	Info("event", "title", "Fossil Talk", "count", 2, "dangling")

	out := buf.String()
	assert.Contains(t, out, `title="Fossil Talk"`)
	assert.Contains(t, out, "count=2")
	assert.NotContains(t, out, "dangling")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
