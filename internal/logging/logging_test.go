package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithLogger(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := ContextWithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
	assert.Equal(t, context.Background(), ContextWithLogger(context.Background(), nil))
}

func TestScoped(t *testing.T) {
	t.Parallel()

	var fallbackBuf, requestBuf bytes.Buffer
	fallback := New(&fallbackBuf, "text", "info")
	request := New(&requestBuf, "text", "info").With("request_id", "r-1")

	Scoped(context.Background(), fallback, "service", "scheduler", "ProjectCalendar", "site_id", "s-1").Info("projected")
	assert.Contains(t, fallbackBuf.String(), "service=scheduler operation=ProjectCalendar site_id=s-1")

	ctx := ContextWithLogger(context.Background(), request)
	assert.Same(t, request, FromContextOr(ctx, fallback))
	Scoped(ctx, fallback, "handler", "tasks", "").Info("changed")
	assert.Contains(t, requestBuf.String(), "msg=changed request_id=r-1 handler=tasks")
	assert.NotContains(t, requestBuf.String(), "operation=")

	assert.Same(t, slog.Default(), FromContextOr(context.Background(), nil))
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json honors level", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := New(&buf, "json", "warn")
		logger.Info("dropped")
		logger.Warn("kept", "site_id", "site-1")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 1)
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
		assert.Equal(t, "kept", record["msg"])
		assert.Equal(t, "site-1", record["site_id"])
	})

	t.Run("text format", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		New(&buf, "TEXT", "debug").Debug("projected", "count", 3)
		assert.Contains(t, buf.String(), "msg=projected count=3")
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseLevel(raw), raw)
	}
}
