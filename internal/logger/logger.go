package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// Level controls which messages are emitted
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(LevelInfo))
	log.SetFlags(log.LstdFlags)
}

// ParseLevel converts a level name to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// SetLevel sets the global log level
func SetLevel(l Level) {
	currentLevel.Store(int32(l))
}

func enabled(l Level) bool {
	return int32(l) >= currentLevel.Load()
}

func emit(tag, format string, args ...any) {
	log.Printf(tag+" "+format, args...)
}

func Trace(format string, args ...any) {
	if enabled(LevelTrace) {
		emit("TRACE", format, args...)
	}
}

func Debug(format string, args ...any) {
	if enabled(LevelDebug) {
		emit("DEBUG", format, args...)
	}
}

func Info(format string, args ...any) {
	if enabled(LevelInfo) {
		emit("INFO", format, args...)
	}
}

func Warn(format string, args ...any) {
	if enabled(LevelWarn) {
		emit("WARN", format, args...)
	}
}

func Error(format string, args ...any) {
	if enabled(LevelError) {
		emit("ERROR", format, args...)
	}
}

// Fatal logs the message and exits the process
func Fatal(format string, args ...any) {
	emit("FATAL", format, args...)
	os.Exit(1)
}
