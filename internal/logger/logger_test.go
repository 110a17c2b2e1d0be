package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestInitWritesJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Options{Level: "info", Writers: []io.Writer{&buf}}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	log.Debug().Msg("hidden")
	log.Info().Str("k", "v").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if ev["service"] != serviceName || ev["k"] != "v" || ev["message"] != "visible" {
		t.Fatalf("unexpected event: %v", ev)
	}
}

func TestWithRequestTagsContextLogger(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Options{Level: "debug", Writers: []io.Writer{&buf}}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx := WithRequest(context.Background(), "req-1", "acme", "u1")
	log.Ctx(ctx).Info().Msg("hello")

	var ev map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &ev); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if ev["request_id"] != "req-1" || ev["tenant_id"] != "acme" || ev["user_id"] != "u1" {
		t.Fatalf("unexpected event: %v", ev)
	}

	buf.Reset()
	log.Ctx(context.Background()).Info().Msg("default")
	if !strings.Contains(buf.String(), `"message":"default"`) {
		t.Fatalf("context without logger should fall back to global, got %q", buf.String())
	}
}
