// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// Tests for the shared logging layer: levels, destinations, export.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_Ordering(t *testing.T) {
	if !(LevelDebug < LevelInfo && LevelInfo < LevelWarn && LevelWarn < LevelError) {
		t.Error("levels must order Debug < Info < Warn < Error")
	}
}

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.slog == nil {
		t.Error("logger.slog is nil")
	}
	defer logger.Close()
}

func TestNew_QuietWithoutDestinations(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	// Quiet with no file still keeps a stderr fallback handler.
	if logger.slog == nil {
		t.Error("logger.slog is nil in quiet mode")
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	defer logger.Close()

	if logger.config.Service != "seriessync" {
		t.Errorf("Service = %q, want seriessync", logger.config.Service)
	}
	if logger.config.Level != LevelInfo {
		t.Errorf("Level = %v, want LevelInfo", logger.config.Level)
	}
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "plannerd",
		Quiet:   true,
	})

	logger.Info("plan compiled", "fingerprint", "abc123", "items", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	wantName := "plannerd_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	// File logs are JSON with the service attribute stamped on.
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, data)
	}
	if record["msg"] != "plan compiled" {
		t.Errorf("msg = %v, want 'plan compiled'", record["msg"])
	}
	if record["service"] != "plannerd" {
		t.Errorf("service = %v, want plannerd", record["service"])
	}
	if record["fingerprint"] != "abc123" {
		t.Errorf("fingerprint = %v, want abc123", record["fingerprint"])
	}
}

func TestNew_FileLoggingDefaultServiceName(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})
	logger.Info("hello")
	logger.Close()

	wantName := "seriessync_" + time.Now().Format("2006-01-02") + ".log"
	if _, err := os.Stat(filepath.Join(dir, wantName)); err != nil {
		t.Errorf("expected log file %s: %v", wantName, err)
	}
}

func TestNew_UnwritableLogDir(t *testing.T) {
	// Unwritable directory: file logging is skipped, logger still works.
	logger := New(Config{
		LogDir: "/proc/nonexistent/logs",
		Quiet:  true,
	})
	defer logger.Close()

	if logger.file != nil {
		t.Error("expected no file handle for an unwritable directory")
	}
	logger.Info("still works")
}

func TestLogger_LevelFiltering(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  dir,
		Service: "cli",
		Quiet:   true,
	})

	logger.Debug("dropped debug")
	logger.Info("dropped info")
	logger.Warn("kept warn")
	logger.Error("kept error")
	logger.Close()

	wantName := "cli_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)

	if strings.Contains(content, "dropped") {
		t.Errorf("messages below LevelWarn leaked into the file:\n%s", content)
	}
	if !strings.Contains(content, "kept warn") || !strings.Contains(content, "kept error") {
		t.Errorf("messages at or above LevelWarn missing:\n%s", content)
	}
}

func TestLogger_With(t *testing.T) {
	dir := t.TempDir()
	parent := New(Config{LogDir: dir, Service: "cli", Quiet: true})

	child := parent.With("run_id", "run-42")
	child.Info("iteration done")
	parent.Info("no run attribute here")
	parent.Close()

	wantName := "cli_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, wantName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "run-42") {
		t.Errorf("child line missing run_id: %s", lines[0])
	}
	if strings.Contains(lines[1], "run-42") {
		t.Errorf("parent line has the child's attribute: %s", lines[1])
	}
}

func TestLogger_Slog(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	if logger.Slog() == nil {
		t.Error("Slog() returned nil")
	}
}

func TestLogger_Exporter(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "cli",
		Quiet:    true,
		Exporter: exporter,
	})

	logger.Info("window fetched", "item_key", "github.stars", "merged", 90)
	logger.Debug("below level, not exported")

	// Export happens on a goroutine; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(exporter.Entries()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	logger.Close()

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 exported entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Message != "window fetched" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Service != "cli" {
		t.Errorf("Service = %q", e.Service)
	}
	if e.Level != LevelInfo {
		t.Errorf("Level = %v", e.Level)
	}
	if e.Attrs["item_key"] != "github.stars" {
		t.Errorf("Attrs[item_key] = %v", e.Attrs["item_key"])
	}
}

func TestLogger_CloseIsIdempotentWithoutResources(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestMultiHandler_FanOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewJSONHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	logger := slog.New(h)

	logger.Info("info line")
	logger.Error("error line")

	if !strings.Contains(a.String(), "info line") || !strings.Contains(a.String(), "error line") {
		t.Errorf("first handler missing lines: %s", a.String())
	}
	if strings.Contains(b.String(), "info line") {
		t.Errorf("second handler got a line below its level: %s", b.String())
	}
	if !strings.Contains(b.String(), "error line") {
		t.Errorf("second handler missing error line: %s", b.String())
	}
}

func TestArgsToMap(t *testing.T) {
	m := argsToMap([]any{"key1", "value1", "key2", 123, 42, "dropped-non-string-key", "dangling"})
	if m["key1"] != "value1" {
		t.Errorf("key1 = %v", m["key1"])
	}
	if m["key2"] != 123 {
		t.Errorf("key2 = %v", m["key2"])
	}
	if len(m) != 2 {
		t.Errorf("expected 2 entries, got %d: %v", len(m), m)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/.seriessync/logs", filepath.Join(home, ".seriessync/logs")},
		{"/var/log/seriessync", "/var/log/seriessync"},
		{"relative/path", "relative/path"},
	}
	for _, tt := range tests {
		if got := expandPath(tt.in); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriterExporter(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewWriterExporter(&buf)

	err := exporter.Export(context.Background(), LogEntry{
		Timestamp: time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC),
		Level:     LevelWarn,
		Message:   "transient failure",
		Attrs:     map[string]any{"status": 503},
	})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if err := exporter.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "transient failure") || !strings.Contains(out, "WARN") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestNopExporter(t *testing.T) {
	var e NopExporter
	if err := e.Export(context.Background(), LogEntry{}); err != nil {
		t.Errorf("Export: %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Errorf("Flush: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestBufferedExporter_Concurrent(t *testing.T) {
	exporter := NewBufferedExporter()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = exporter.Export(context.Background(), LogEntry{Message: "m"})
			}
		}()
	}
	wg.Wait()

	if got := len(exporter.Entries()); got != 200 {
		t.Errorf("expected 200 entries, got %d", got)
	}
}
