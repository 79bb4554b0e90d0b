package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// JSONLogEntry defines a single structured log line
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message"`
	Severity  string                 `json:"severity"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// String renders an entry as a single JSON line.
func (e JSONLogEntry) String() string {
	if e.Severity == "" {
		e.Severity = "INFO"
	}
	out, err := json.Marshal(e)
	if err != nil {
		log.Printf("json.Marshal: %v", err)
	}
	return string(out)
}

type jsonLogger struct {
	metadata map[string]interface{}
	prefixes []string
	out      io.Writer
	logLevel LogLevel
	ts       *time.Time // for unit testing
}

var _ Logger = (*jsonLogger)(nil)

// NewJSONLogger returns a Logger that writes one JSON object per line to out.
// If out is nil, stdout is used.
func NewJSONLogger(out io.Writer, levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	if out == nil {
		out = os.Stdout
	}
	return &jsonLogger{out: out, logLevel: level}
}

func (c *jsonLogger) clone() *jsonLogger {
	metadata := make(map[string]interface{})
	for k, v := range c.metadata {
		metadata[k] = v
	}
	prefixes := make([]string, len(c.prefixes))
	copy(prefixes, c.prefixes)
	return &jsonLogger{
		metadata: metadata,
		prefixes: prefixes,
		out:      c.out,
		logLevel: c.logLevel,
		ts:       c.ts,
	}
}

func (c *jsonLogger) With(metadata map[string]interface{}) Logger {
	l := c.clone()
	for k, v := range metadata {
		l.metadata[k] = v
	}
	return l
}

func (c *jsonLogger) WithPrefix(prefix string) Logger {
	l := c.clone()
	l.prefixes = append(l.prefixes, prefix)
	return l
}

func (c *jsonLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel
}

func (c *jsonLogger) write(level LogLevel, msg string, args ...interface{}) {
	if !c.IsLevelEnabled(level) {
		return
	}
	ts := time.Now()
	if c.ts != nil {
		ts = *c.ts
	}
	message := fmt.Sprintf(msg, args...)
	if len(c.prefixes) > 0 {
		message = strings.Join(c.prefixes, " ") + " " + message
	}
	entry := JSONLogEntry{
		Timestamp: ts,
		Message:   message,
		Severity:  levelName(level),
		Metadata:  c.metadata,
	}
	fmt.Fprintln(c.out, entry.String())
}

func (c *jsonLogger) Trace(msg string, args ...interface{}) {
	c.write(LevelTrace, msg, args...)
}

func (c *jsonLogger) Debug(msg string, args ...interface{}) {
	c.write(LevelDebug, msg, args...)
}

func (c *jsonLogger) Info(msg string, args ...interface{}) {
	c.write(LevelInfo, msg, args...)
}

func (c *jsonLogger) Warn(msg string, args ...interface{}) {
	c.write(LevelWarn, msg, args...)
}

func (c *jsonLogger) Error(msg string, args ...interface{}) {
	c.write(LevelError, msg, args...)
}

func (c *jsonLogger) Fatal(msg string, args ...interface{}) {
	c.write(LevelError, msg, args...)
	os.Exit(1)
}
