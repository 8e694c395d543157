package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_DefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(&buf, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()

	logger.Debug().Msg("hidden")
	logger.Info().Str("code", "AAA23").Msg("minted")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line at info level, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if entry["code"] != "AAA23" || entry["message"] != "minted" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, _, err := newLogger(&bytes.Buffer{}, Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newLogger(&buf, Options{Level: "debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Debug().Msg("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected debug line, got %q", buf.String())
	}
}

func TestNewLogger_ConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newLogger(&buf, Options{Console: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info().Msg("reset check")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("expected console formatting, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "reset check") {
		t.Errorf("expected message in output, got %q", buf.String())
	}
}

func TestNewLogger_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinic.log")
	var buf bytes.Buffer
	logger, closer, err := newLogger(&buf, Options{File: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Warn().Msg("storage unavailable")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "storage unavailable") {
		t.Errorf("expected file to contain the entry, got %q", data)
	}
	if !strings.Contains(buf.String(), "storage unavailable") {
		t.Errorf("expected stdout to contain the entry, got %q", buf.String())
	}
}

func TestOrDefault(t *testing.T) {
	if orDefault(0, 50) != 50 || orDefault(-1, 5) != 5 || orDefault(10, 50) != 10 {
		t.Error("orDefault returned unexpected values")
	}
}
