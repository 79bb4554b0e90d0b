package logger

import (
	"fmt"
	"os"
	"sync"
)

// TestLogEntry records a single logged message for assertions.
type TestLogEntry struct {
	Severity string
	Message  string
}

// TestLogger captures log output in memory for use in unit tests. Entries
// may be recorded from concurrent goroutines; read Logs only after the
// logged-through code has finished.
type TestLogger struct {
	mu       sync.Mutex
	metadata map[string]interface{}
	Logs     []TestLogEntry
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a logger that records every entry.
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{})
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	return &TestLogger{metadata: kv, Logs: c.Logs}
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

func (c *TestLogger) record(severity string, msg string, args ...interface{}) {
	c.mu.Lock()
	c.Logs = append(c.Logs, TestLogEntry{severity, fmt.Sprintf(msg, args...)})
	c.mu.Unlock()
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.record("TRACE", msg, args...)
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.record("DEBUG", msg, args...)
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.record("INFO", msg, args...)
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.record("WARNING", msg, args...)
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.record("ERROR", msg, args...)
}

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.record("FATAL", msg, args...)
	os.Exit(1)
}
