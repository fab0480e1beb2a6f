package logger

import (
	"strings"
	"sync"
)

// Log levels accepted by log_level.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

var (
	deviceLogger *Logger
	once         sync.Once
)

// Get returns the process-wide device logger. Only the first call's level
// is honoured; the loop, bootstrap and API all share the same instance.
func Get(level string) *Logger {
	once.Do(func() {
		deviceLogger = newZapLogger(strings.ToLower(strings.TrimSpace(level)))
	})
	return deviceLogger
}
