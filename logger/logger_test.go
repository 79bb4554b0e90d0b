package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("GUARD_LOG_LEVEL", "trace")
	assert.Equal(t, LevelTrace, GetLevelFromEnv())
	t.Setenv("GUARD_LOG_LEVEL", "WARN")
	assert.Equal(t, LevelWarn, GetLevelFromEnv())
	t.Setenv("GUARD_LOG_LEVEL", "bogus")
	assert.Equal(t, LevelInfo, GetLevelFromEnv())
}

func TestLevelEnabled(t *testing.T) {
	l := NewConsoleLogger(LevelWarn)
	assert.False(t, l.IsLevelEnabled(LevelDebug))
	assert.False(t, l.IsLevelEnabled(LevelInfo))
	assert.True(t, l.IsLevelEnabled(LevelWarn))
	assert.True(t, l.IsLevelEnabled(LevelError))
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, LevelDebug)
	l.With(map[string]interface{}{"component": "cache"}).Info("hello %s", "world")

	var entry JSONLogEntry
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello world", entry.Message)
	assert.Equal(t, "INFO", entry.Severity)
	assert.Equal(t, "cache", entry.Metadata["component"])
}

func TestJSONLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, LevelError)
	l.Debug("dropped")
	l.Info("dropped too")
	assert.Empty(t, buf.String())
	l.Error("kept")
	assert.True(t, strings.Contains(buf.String(), "kept"))
}

func TestJSONLoggerPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, LevelDebug).WithPrefix("[guard]")
	l.Info("ready")
	var entry JSONLogEntry
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[guard] ready", entry.Message)
}

func TestTestLoggerCaptures(t *testing.T) {
	l := NewTestLogger()
	l.Info("one")
	l.Warn("two %d", 2)
	assert.Len(t, l.Logs, 2)
	assert.Equal(t, TestLogEntry{"INFO", "one"}, l.Logs[0])
	assert.Equal(t, TestLogEntry{"WARNING", "two 2"}, l.Logs[1])
}

func TestTestLoggerConcurrent(t *testing.T) {
	l := NewTestLogger()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l.Info("entry %d", n)
		}(i)
	}
	wg.Wait()
	assert.Len(t, l.Logs, 16)
}

func TestFormatMetadataSorted(t *testing.T) {
	out := formatMetadata(map[string]interface{}{"b": 2, "a": "x", "c": true})
	assert.Equal(t, " a=x b=2 c=true", out)
}
