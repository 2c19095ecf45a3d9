package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected slog.Level
	}{
		{input: "debug", expected: slog.LevelDebug},
		{input: "DEBUG", expected: slog.LevelDebug},
		{input: "info", expected: slog.LevelInfo},
		{input: "warn", expected: slog.LevelWarn},
		{input: "warning", expected: slog.LevelWarn},
		{input: "error", expected: slog.LevelError},
		{input: "", expected: slog.LevelInfo},
		{input: "verbose", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := New("info", FormatJSON, &buf)
	logger.Info("created resource", "fqdn", "app.example.com")
	logger.Debug("hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "created resource", record["msg"])
	assert.Equal(t, "app.example.com", record["fqdn"])
	assert.Equal(t, "INFO", record["level"])
}

func TestNew_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := New("debug", FormatText, &buf)
	logger.Debug("probe", "healthy", true)

	assert.Contains(t, buf.String(), "msg=probe")
	assert.Contains(t, buf.String(), "healthy=true")
}

func TestNew_Console(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := New("info", FormatConsole, &buf)
	logger.Warn("retrying", "operation", "list")

	out := buf.String()
	assert.Contains(t, out, "retrying")
	assert.Contains(t, out, "operation=")
	assert.Contains(t, out, "list")
	assert.NotContains(t, out, `"msg"`)
}

func TestFromContext_Default(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}

func TestFromContext_WithLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := New("info", FormatJSON, &buf)
	ctx := WithLogger(context.Background(), logger)

	FromContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestFromContext_TraceIDs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	ctx := WithLogger(context.Background(), New("info", FormatJSON, &buf))
	ctx = trace.ContextWithSpanContext(ctx, spanCtx)

	FromContext(ctx).Info("traced")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", record["trace_id"])
	assert.Equal(t, "0102030405060708", record["span_id"])
}
