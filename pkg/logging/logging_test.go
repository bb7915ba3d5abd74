package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/NicolasHaas/warden/pkg/logging"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		"debug":         {in: "debug", want: slog.LevelDebug},
		"upper_case":    {in: "INFO", want: slog.LevelInfo},
		"empty":         {in: "", want: slog.LevelInfo},
		"warning_alias": {in: " warning ", want: slog.LevelWarn},
		"error":         {in: "error", want: slog.LevelError},
		"offset":        {in: "debug+2", want: slog.LevelDebug + 2},
		"unknown":       {in: "verbose", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseLevel(%q): expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q): unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := logging.Validate("info", "JSON"); err != nil {
		t.Errorf("Validate(info, JSON): unexpected error: %v", err)
	}
	if err := logging.Validate("loud", "text"); err == nil {
		t.Error("Validate accepted an unknown level")
	}
	if err := logging.Validate("info", "xml"); err == nil {
		t.Error("Validate accepted an unknown format")
	}
	if err := logging.Setup(logging.Options{Format: "xml"}); err == nil {
		t.Error("Setup accepted an unknown format")
	}
}

func TestComponentRecord(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	if err := logging.Setup(logging.Options{Service: "wardend", Level: "info", Format: "json", Output: &buf}); err != nil {
		t.Fatalf("Setup: unexpected error: %v", err)
	}
	logging.Component("sweeper").Info("swept", "count", 2)
	logging.Component("sweeper").Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d records, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec["service"] != "wardend" || rec["component"] != "sweeper" || rec["count"] != float64(2) {
		t.Errorf("unexpected record %v", rec)
	}
	ts, _ := rec["time"].(string)
	if !strings.HasSuffix(ts, "Z") || len(ts) != len("2006-01-02T15:04:05.000Z") {
		t.Errorf("time = %q, want UTC with millisecond precision", ts)
	}
}

func TestNewLeavesDefaultAlone(t *testing.T) {
	prev := slog.Default()
	var buf bytes.Buffer
	log, err := logging.New(logging.Options{Output: &buf})
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	log.Info("hello")
	if slog.Default() != prev {
		t.Error("New replaced slog.Default")
	}
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}
	logging.Discard().Error("dropped")
}
