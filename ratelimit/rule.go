package ratelimit

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Rule describes one token bucket: its capacity and its continuous refill
// rate in tokens per second.
type Rule struct {
	Capacity   float64
	RefillRate float64
}

// DefaultClientRule limits a single caller: 10 requests with one new token
// every 10 seconds.
var DefaultClientRule = Rule{Capacity: 10, RefillRate: 0.1}

// DefaultGlobalRule is the coarse process-wide ceiling applied before any
// per-caller rule.
var DefaultGlobalRule = Rule{Capacity: 1000, RefillRate: 10}

// DefaultRules is the built-in closed set of named presets, keyed by the
// kind of operation being protected.
func DefaultRules() Rules {
	return Rules{
		Global: DefaultGlobalRule,
		Named: map[string]Rule{
			// expensive upstream write/sync, keep it slow
			"sync": {Capacity: 5, RefillRate: 1.0 / 30},
			// cheap read-heavy listing
			"leaderboard": {Capacity: 30, RefillRate: 1},
			// single-row lookups
			"lookup": DefaultClientRule,
		},
	}
}

// Rules is a closed set of named presets plus the global ceiling.
type Rules struct {
	Global Rule
	Named  map[string]Rule
}

// Get returns the named preset, falling back to DefaultClientRule when the
// name is unknown.
func (r Rules) Get(name string) Rule {
	if rule, ok := r.Named[name]; ok {
		return rule
	}
	return DefaultClientRule
}

type ruleSpec struct {
	Capacity float64 `yaml:"capacity"`
	Refill   string  `yaml:"refill"`
}

type rulesFile struct {
	Global ruleSpec            `yaml:"global"`
	Rules  map[string]ruleSpec `yaml:"rules"`
}

// LoadRules reads a YAML rules file. Each rule has a capacity and a refill
// written either as plain tokens-per-second ("0.5") or as "count/duration"
// ("2/1m" is two tokens per minute). Missing sections keep their defaults.
func LoadRules(path string) (Rules, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, errors.Wrapf(err, "ratelimit: reading rules file %s", path)
	}
	return ParseRules(buf)
}

// ParseRules parses YAML rule presets. See LoadRules for the format.
func ParseRules(buf []byte) (Rules, error) {
	var file rulesFile
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return Rules{}, errors.Wrap(err, "ratelimit: parsing rules")
	}
	rules := DefaultRules()
	if file.Global.Capacity > 0 {
		rule, err := file.Global.toRule()
		if err != nil {
			return Rules{}, errors.Wrap(err, "ratelimit: global rule")
		}
		rules.Global = rule
	}
	for name, spec := range file.Rules {
		rule, err := spec.toRule()
		if err != nil {
			return Rules{}, errors.Wrapf(err, "ratelimit: rule %q", name)
		}
		rules.Named[name] = rule
	}
	return rules, nil
}

func (s ruleSpec) toRule() (Rule, error) {
	if s.Capacity <= 0 {
		return Rule{}, errors.Newf("capacity must be positive, got %v", s.Capacity)
	}
	rate, err := parseRefill(s.Refill)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Capacity: s.Capacity, RefillRate: rate}, nil
}

// parseRefill converts a refill expression into tokens per second.
func parseRefill(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("refill is required")
	}
	if count, durExpr, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(count), 64)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid refill count %q", count)
		}
		dur, err := str2duration.ParseDuration(strings.TrimSpace(durExpr))
		if err != nil {
			return 0, errors.Wrapf(err, "invalid refill period %q", durExpr)
		}
		if n <= 0 || dur <= 0 {
			return 0, errors.Newf("refill %q must be positive", s)
		}
		return n / dur.Seconds(), nil
	}
	rate, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid refill rate %q", s)
	}
	if rate <= 0 {
		return 0, errors.Newf("refill %q must be positive", s)
	}
	return rate, nil
}
