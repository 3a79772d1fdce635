package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/router-for-me/chatrelay/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected log.Level
	}{
		// Debug level
		{"debug lowercase", "debug", log.DebugLevel},
		{"debug uppercase", "DEBUG", log.DebugLevel},
		{"debug mixed case", "Debug", log.DebugLevel},
		{"verbose lowercase", "verbose", log.DebugLevel},
		{"verbose uppercase", "VERBOSE", log.DebugLevel},
		{"verbose mixed case", "Verbose", log.DebugLevel},

		// Info level
		{"info lowercase", "info", log.InfoLevel},
		{"info uppercase", "INFO", log.InfoLevel},
		{"info mixed case", "Info", log.InfoLevel},

		// Warn level
		{"warn lowercase", "warn", log.WarnLevel},
		{"warn uppercase", "WARN", log.WarnLevel},
		{"warning lowercase", "warning", log.WarnLevel},
		{"warning uppercase", "WARNING", log.WarnLevel},
		{"warning mixed case", "Warning", log.WarnLevel},

		// Error level
		{"error lowercase", "error", log.ErrorLevel},
		{"error uppercase", "ERROR", log.ErrorLevel},
		{"error mixed case", "Error", log.ErrorLevel},

		// Fatal level (quiet/silent)
		{"quiet lowercase", "quiet", log.FatalLevel},
		{"quiet uppercase", "QUIET", log.FatalLevel},
		{"silent lowercase", "silent", log.FatalLevel},
		{"silent uppercase", "SILENT", log.FatalLevel},

		// Default (unknown) -> InfoLevel
		{"unknown string", "unknown", log.InfoLevel},
		{"empty string", "", log.InfoLevel},
		{"random string", "foobar", log.InfoLevel},
		{"numeric string", "123", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset to a known state before each test
			log.SetLevel(log.PanicLevel)

			SetLogLevel(tt.input)

			got := log.GetLevel()
			if got != tt.expected {
				t.Errorf("SetLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestApplyConfigLevel(t *testing.T) {
	log.SetLevel(log.PanicLevel)
	ApplyConfigLevel(&config.Config{Debug: true, LogLevel: "error"})
	if got := log.GetLevel(); got != log.DebugLevel {
		t.Errorf("debug config should force debug level, got %v", got)
	}

	ApplyConfigLevel(&config.Config{LogLevel: "warn"})
	if got := log.GetLevel(); got != log.WarnLevel {
		t.Errorf("log-level warn = %v, want %v", got, log.WarnLevel)
	}
}

func TestConfigureLogOutput_File(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{LoggingToFile: true, LogDir: dir}
	if err := ConfigureLogOutput(cfg); err != nil {
		t.Fatalf("ConfigureLogOutput() error = %v", err)
	}
	t.Cleanup(func() { _ = ConfigureLogOutput(nil) })

	log.SetLevel(log.InfoLevel)
	log.Info("file sink check")

	data, err := os.ReadFile(filepath.Join(dir, "chatrelay.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "file sink check") {
		t.Errorf("log file missing entry, got %q", string(data))
	}
}

func TestLogFormatter_Format(t *testing.T) {
	entry := log.NewEntry(log.StandardLogger()).WithFields(log.Fields{"b": 2, "a": 1})
	entry.Message = "hello\n"
	entry.Level = log.WarnLevel

	out, err := (&LogFormatter{}).Format(entry)
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	line := string(out)
	if !strings.Contains(line, "[WARNI]") && !strings.Contains(line, "[WARN") {
		t.Errorf("missing level in %q", line)
	}
	if !strings.HasSuffix(line, "hello a=1 b=2\n") {
		t.Errorf("fields should be sorted after the message, got %q", line)
	}
}
