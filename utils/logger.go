package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a logging severity threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" and "error" to a Level. Unknown
// values fall back to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LoggerOptions configures NewLoggerWithOptions.
type LoggerOptions struct {
	Level Level
	// FilePath enables a rotating log file in addition to the console.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
}

// Logger provides structured, leveled logging throughout the application.
type Logger struct {
	level Level
	info  *log.Logger
	warn  *log.Logger
	err   *log.Logger
	debug *log.Logger
	file  io.Closer
}

// NewLogger creates a new Logger writing to stdout/stderr at info level.
func NewLogger() *Logger {
	l, _ := NewLoggerWithOptions(LoggerOptions{Level: LevelInfo})
	return l
}

// NewDiscardLogger returns a Logger that drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	return &Logger{
		level: LevelError + 1,
		info:  log.New(io.Discard, "", 0),
		warn:  log.New(io.Discard, "", 0),
		err:   log.New(io.Discard, "", 0),
		debug: log.New(io.Discard, "", 0),
	}
}

// NewLoggerWithOptions creates a Logger honoring the level threshold and, when
// FilePath is set, tees every line into a lumberjack-rotated file.
func NewLoggerWithOptions(opts LoggerOptions) (*Logger, error) {
	var stdout, stderr io.Writer = os.Stdout, os.Stderr
	l := &Logger{level: opts.Level}

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("logger: create log dir: %w", err)
		}
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		fw := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
		}
		l.file = fw
		stdout = io.MultiWriter(os.Stdout, fw)
		stderr = io.MultiWriter(os.Stderr, fw)
	}

	flags := 0
	l.info = log.New(stdout, "", flags)
	l.warn = log.New(stdout, "", flags)
	l.err = log.New(stderr, "", flags)
	l.debug = log.New(stdout, "", flags)
	return l, nil
}

// Close releases the rotating file sink, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func (l *Logger) Info(format string, args ...any) {
	if l.level > LevelInfo {
		return
	}
	l.info.Printf(fmt.Sprintf("[%s] \033[32mINFO\033[0m  %s\n", l.timestamp(), format), args...)
}

func (l *Logger) Warn(format string, args ...any) {
	if l.level > LevelWarn {
		return
	}
	l.warn.Printf(fmt.Sprintf("[%s] \033[33mWARN\033[0m  %s\n", l.timestamp(), format), args...)
}

func (l *Logger) Error(format string, args ...any) {
	if l.level > LevelError {
		return
	}
	l.err.Printf(fmt.Sprintf("[%s] \033[31mERROR\033[0m %s\n", l.timestamp(), format), args...)
}

func (l *Logger) Debug(format string, args ...any) {
	if l.level > LevelDebug {
		return
	}
	l.debug.Printf(fmt.Sprintf("[%s] \033[36mDEBUG\033[0m %s\n", l.timestamp(), format), args...)
}

// Duration logs how long a stage took. Call the returned func via defer:
//
//	defer logger.Duration("load")()
func (l *Logger) Duration(stage string) func() {
	start := time.Now()
	return func() {
		l.Info("[benchmark] %s took %.4f seconds", stage, time.Since(start).Seconds())
	}
}
