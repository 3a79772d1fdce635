package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/router-for-me/chatrelay/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce  sync.Once
	outputMu   sync.Mutex
	fileOutput *lumberjack.Logger
)

// LogFormatter renders single-line entries with a timestamp, level and caller.
type LogFormatter struct{}

// Format implements logrus.Formatter.
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buf bytes.Buffer
	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 5 {
		level = level[:5]
	}
	caller := ""
	if entry.HasCaller() {
		caller = fmt.Sprintf(" [%s:%d]", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	fmt.Fprintf(&buf, "[%s] [%-5s]%s %s", timestamp, level, caller, strings.TrimRight(entry.Message, "\n"))
	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&buf, " %s=%v", k, entry.Data[k])
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// SetupBaseLogger installs the shared formatter and stdout output. Safe to call repeatedly.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})
		log.SetLevel(log.InfoLevel)
	})
}

// ConfigureLogOutput switches between stdout and a rotating log file according to cfg.
func ConfigureLogOutput(cfg *config.Config) error {
	outputMu.Lock()
	defer outputMu.Unlock()

	if cfg == nil || !cfg.LoggingToFile {
		if fileOutput != nil {
			_ = fileOutput.Close()
			fileOutput = nil
		}
		log.SetOutput(os.Stdout)
		return nil
	}

	dir := cfg.GetLogDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: create log dir %s: %w", dir, err)
	}
	maxSize := cfg.LogsMaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	next := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "chatrelay.log"),
		MaxSize:    maxSize,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	if fileOutput != nil {
		_ = fileOutput.Close()
	}
	fileOutput = next
	log.SetOutput(next)
	return nil
}

// SetLogLevel maps a textual level onto logrus. Unknown values select info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// ApplyConfigLevel sets the level from cfg, where debug wins over log-level.
func ApplyConfigLevel(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.Debug {
		SetLogLevel("debug")
		return
	}
	SetLogLevel(cfg.LogLevel)
}
