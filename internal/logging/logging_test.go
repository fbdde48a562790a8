package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerAttachesSessionID(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Writer: &buf})

	ctx := ContextWithSessionID(context.Background(), "sess-1")
	log.With(Component("bridge")).Info(ctx, "step", Int("n", 3), Err(errors.New("boom")))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if line["session_id"] != "sess-1" {
		t.Fatalf("session_id = %v, want sess-1", line["session_id"])
	}
	if line["component"] != "bridge" {
		t.Fatalf("component = %v, want bridge", line["component"])
	}
	if line["error"] != "boom" {
		t.Fatalf("error = %v, want boom", line["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Writer: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestSessionIDFromContextNil(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	if got := SessionIDFromContext(nil); got != "" {
		t.Fatalf("SessionIDFromContext(nil) = %q, want empty", got)
	}
	if OrNoop(nil) == nil {
		t.Fatalf("OrNoop(nil) returned nil")
	}
}
