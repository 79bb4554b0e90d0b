package logger

import (
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	Reset      = "\033[0m"
	Red        = "\033[31m"
	Green      = "\033[32m"
	Yellow     = "\033[33m"
	Cyan       = "\033[36m"
	BlueBold   = "\033[34;1m"
	RedBold    = "\033[31;1m"
	YellowBold = "\033[33;1m"
	CyanBold   = "\033[36;1m"
	Gray       = "\033[1;90m"
)

func stringify(val interface{}) string {
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", val)
}

type consoleLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
	mu       *sync.Mutex
}

var _ Logger = (*consoleLogger)(nil)

// NewConsoleLogger returns a Logger that writes colorized lines to stdout.
// If no level is provided, GUARD_LOG_LEVEL is consulted.
func NewConsoleLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &consoleLogger{
		logLevel: level,
		mu:       &sync.Mutex{},
	}
}

func (c *consoleLogger) clone() *consoleLogger {
	prefixes := make([]string, len(c.prefixes))
	copy(prefixes, c.prefixes)
	metadata := make(map[string]interface{})
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &consoleLogger{
		prefixes: prefixes,
		metadata: metadata,
		logLevel: c.logLevel,
		mu:       c.mu,
	}
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	l := c.clone()
	for k, v := range metadata {
		l.metadata[k] = v
	}
	return l
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *consoleLogger) WithPrefix(prefix string) Logger {
	l := c.clone()
	if !slices.Contains(l.prefixes, prefix) {
		l.prefixes = append(l.prefixes, prefix)
	}
	return l
}

func (c *consoleLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel
}

func (c *consoleLogger) write(level LogLevel, levelColor string, msgColor string, msg string, args ...interface{}) {
	if !c.IsLevelEnabled(level) {
		return
	}
	var prefix string
	if len(c.prefixes) > 0 {
		prefix = strings.Join(c.prefixes, " ") + " "
	}
	line := fmt.Sprintf(msg, args...)
	ts := time.Now().Format("2006-01-02T15:04:05.000")
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(os.Stdout, "%s%s%s %s[%-7s]%s %s%s%s%s%s%s\n",
		color(Gray), ts, color(Reset),
		color(levelColor), levelName(level), color(Reset),
		prefix,
		color(msgColor), line, color(Reset),
		color(Gray), formatMetadata(c.metadata)+colorSuffix())
}

func colorSuffix() string {
	if isWindows || noColor {
		return ""
	}
	return Reset
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) {
	c.write(LevelTrace, CyanBold, Gray, msg, args...)
}

func (c *consoleLogger) Debug(msg string, args ...interface{}) {
	c.write(LevelDebug, BlueBold, Green, msg, args...)
}

func (c *consoleLogger) Info(msg string, args ...interface{}) {
	c.write(LevelInfo, YellowBold, "", msg, args...)
}

func (c *consoleLogger) Warn(msg string, args ...interface{}) {
	c.write(LevelWarn, YellowBold, Yellow, msg, args...)
}

func (c *consoleLogger) Error(msg string, args ...interface{}) {
	c.write(LevelError, RedBold, Red, msg, args...)
}

func (c *consoleLogger) Fatal(msg string, args ...interface{}) {
	c.write(LevelError, RedBold, Red, msg, args...)
	os.Exit(1)
}
