package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", "info")
	l.Debug("hidden")
	l.Info("chat handled", "correlation_id", "abc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "chat handled", rec["msg"])
	require.Equal(t, "abc", rec["correlation_id"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "text", "debug")
	l.Debug("quota admitted", "remaining", 39)
	require.Contains(t, buf.String(), "quota admitted")
	require.Contains(t, buf.String(), "remaining")
}

func TestContextRoundTrip(t *testing.T) {
	require.Equal(t, slog.Default(), FromContext(context.Background()))

	var buf bytes.Buffer
	l := New(&buf, "json", "info").With("user_id", "u1")
	ctx := WithLogger(context.Background(), l)
	FromContext(ctx).Info("x")
	require.Contains(t, buf.String(), `"user_id":"u1"`)
}
