package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

func TestNewJSONWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "highlight")).Info(context.Background(), "selected",
		String("point_id", "PIC_1"),
		Float64("heading", 100),
		Bool("ready", true),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	want := map[string]any{
		"msg":       "selected",
		"component": "highlight",
		"point_id":  "PIC_1",
		"heading":   100.0,
		"ready":     true,
		"error":     "boom",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Fatalf("field %q = %#v, want %#v", k, rec[k], v)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "dropped")
	log.Warn(context.Background(), "kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSpanContextAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Output: &buf})

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	log.Info(ctx, "traced")

	if !strings.Contains(buf.String(), sc.TraceID().String()) {
		t.Fatalf("trace id missing from %q", buf.String())
	}
}

func TestEnsureRequestID(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("request id %q is not a uuid: %v", id, err)
	}
	ctx2, id2 := EnsureRequestID(ctx)
	if id2 != id || RequestIDFromContext(ctx2) != id {
		t.Fatalf("existing request id replaced: %q -> %q", id, id2)
	}
}

func TestContextLoggerHelpers(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on empty context")
	}
	if _, ok := FromContextOr(context.Background(), nil).(noopLogger); !ok {
		t.Fatalf("FromContextOr with nil fallback should be noop")
	}

	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})
	ctx, reqLog := WithRequestLogger(context.Background(), base)
	ctx = ContextWithLogger(ctx, reqLog)

	FromContextOr(ctx, Noop()).Info(ctx, "hello")
	if !strings.Contains(buf.String(), RequestIDFromContext(ctx)) {
		t.Fatalf("request id missing from %q", buf.String())
	}
}
