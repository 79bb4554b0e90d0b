package ratelimit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRefill(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want float64
	}{
		{"0.5", 0.5},
		{"10", 10},
		{"1/1s", 1},
		{"2/1m", 2.0 / 60},
		{"30/1h", 30.0 / 3600},
		{" 5 / 10s ", 0.5},
	} {
		got, err := parseRefill(tc.in)
		assert.NoError(t, err, tc.in)
		assert.InDelta(t, tc.want, got, 1e-9, tc.in)
	}
}

func TestParseRefillInvalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0", "x/1m", "1/x", "-2/1m"} {
		_, err := parseRefill(in)
		assert.Error(t, err, in)
	}
}

func TestParseRules(t *testing.T) {
	buf := []byte(`
global:
  capacity: 500
  refill: 5
rules:
  sync:
    capacity: 3
    refill: 1/1m
  leaderboard:
    capacity: 60
    refill: 2
`)
	rules, err := ParseRules(buf)
	require.NoError(t, err)
	assert.Equal(t, Rule{Capacity: 500, RefillRate: 5}, rules.Global)
	assert.Equal(t, 3.0, rules.Named["sync"].Capacity)
	assert.InDelta(t, 1.0/60, rules.Named["sync"].RefillRate, 1e-9)
	assert.Equal(t, Rule{Capacity: 60, RefillRate: 2}, rules.Named["leaderboard"])
	// presets not mentioned in the file keep their defaults
	assert.Equal(t, DefaultClientRule, rules.Named["lookup"])
}

func TestParseRulesBadRefill(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  sync:\n    capacity: 3\n    refill: nope\n"))
	assert.Error(t, err)
}

func TestParseRulesBadCapacity(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  sync:\n    capacity: 0\n    refill: 1\n"))
	assert.Error(t, err)
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  sync:\n    capacity: 7\n    refill: 1/1s\n"), 0o644))
	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, Rule{Capacity: 7, RefillRate: 1}, rules.Named["sync"])

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRulesGetFallback(t *testing.T) {
	rules := DefaultRules()
	assert.Equal(t, DefaultClientRule, rules.Get("never-configured"))
	assert.Equal(t, rules.Named["sync"], rules.Get("sync"))
}
