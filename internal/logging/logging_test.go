package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCLIHandlerRendersSpecPrefix(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, slog.LevelInfo).With(SpecKey, "live.spec")
	logger.Info("executing step", ProgressKey, "2/3", "step", "iso-image")

	line := buf.String()
	if !strings.Contains(line, "| [live.spec 2/3] executing step step=iso-image") {
		t.Fatalf("unexpected line %q", line)
	}
	if !strings.HasPrefix(line, "INFO ") {
		t.Fatalf("line %q does not start with level", line)
	}
}

func TestCLIHandlerGroupsAndErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, slog.LevelDebug).WithGroup("runner")
	logger.Debug("step failed", "error", errors.New("exit status 2"), SpecKey, "nested")

	line := buf.String()
	if !strings.Contains(line, `runner.error="exit status 2"`) {
		t.Fatalf("unexpected line %q", line)
	}
	if !strings.Contains(line, "runner.spec=nested") {
		t.Fatalf("grouped spec attr should stay in the tail: %q", line)
	}
}

func TestCLIHandlerHonoursLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewCLI(&buf, slog.LevelWarn)
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info record written at warn level: %q", buf.String())
	}
}

func TestJSONMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(ModeJSON, &buf, nil).Info("done", "status", 0)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if record["msg"] != "done" {
		t.Fatalf("msg = %v, want done", record["msg"])
	}
}

func TestParseLevelAndMode(t *testing.T) {
	t.Parallel()

	if level, err := ParseLevel("warning"); err != nil || level != slog.LevelWarn {
		t.Fatalf("ParseLevel(warning) = %v, %v", level, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("ParseLevel(loud) error = nil, want non-nil")
	}
	if mode, err := ParseMode("json"); err != nil || mode != ModeJSON {
		t.Fatalf("ParseMode(json) = %v, %v", mode, err)
	}
}
