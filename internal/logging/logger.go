// Package logging builds the process logger. Components receive a
// logrus.FieldLogger and never reach for a global.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // Path to log file (empty = stderr only)
	MaxSize    int64  // Max size in bytes before rotation (default: 10MB)
	MaxBackups int    // Number of old log files to keep (default: 3)
	JSONFormat bool
	AddSource  bool // Report caller file and line
}

// Logger is a logrus logger that owns its optional log file
type Logger struct {
	*logrus.Logger
	config Config
	file   *os.File
	mu     sync.Mutex
}

// NewLogger creates a logger with the given configuration
func NewLogger(config Config) (*Logger, error) {
	if config.MaxSize == 0 {
		config.MaxSize = 10 * 1024 * 1024 // 10MB
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = 3
	}

	level := logrus.InfoLevel
	if config.Level != "" {
		parsed, err := logrus.ParseLevel(config.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
		}
		level = parsed
	}

	logger := &Logger{Logger: logrus.New(), config: config}
	logger.SetLevel(level)
	logger.SetReportCaller(config.AddSource)
	if config.JSONFormat {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	writers := []io.Writer{os.Stderr}
	if config.OutputFile != "" {
		dir := filepath.Dir(config.OutputFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
		if err := rotateIfNeeded(config); err != nil {
			return nil, fmt.Errorf("failed to rotate logs: %w", err)
		}
		file, err := os.OpenFile(config.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.OutputFile, err)
		}
		logger.file = file
		writers = append(writers, file)
	}
	logger.SetOutput(io.MultiWriter(writers...))

	return logger, nil
}

// rotateIfNeeded shifts file -> file.1 -> file.2 ... once file reaches MaxSize
func rotateIfNeeded(config Config) error {
	info, err := os.Stat(config.OutputFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() < config.MaxSize {
		return nil
	}

	for i := config.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", config.OutputFile, i)
		newPath := fmt.Sprintf("%s.%d", config.OutputFile, i+1)
		if _, err := os.Stat(oldPath); err == nil {
			os.Rename(oldPath, newPath)
		}
	}

	if err := os.Rename(config.OutputFile, config.OutputFile+".1"); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return nil
}

// FilePath returns the log file path, or "" when logging to stderr only
func (l *Logger) FilePath() string {
	return l.config.OutputFile
}

// Close closes the log file if one is open
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.SetOutput(os.Stderr)
		return err
	}
	return nil
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig(debugMode bool) Config {
	level := "info"
	if debugMode {
		level = "debug"
	}
	return Config{
		Level:      level,
		JSONFormat: !debugMode, // Human-readable in debug, JSON in production
		AddSource:  debugMode,
	}
}

// ProductionConfig logs JSON to logFile with larger rotation limits
func ProductionConfig(logFile string) Config {
	return Config{
		Level:      "info",
		OutputFile: logFile,
		MaxSize:    50 * 1024 * 1024, // 50MB
		MaxBackups: 10,
		JSONFormat: true,
	}
}
