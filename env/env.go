package env

import (
	"os"
	"strings"
)

// EnvLine is a single parsed KEY=VALUE pair.
type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses an environment file and returns a list of EnvLine structs.
// A missing file is not an error; it parses as empty.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []EnvLine{}, nil
	}
	buf, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return ParseEnvBuffer(buf), nil
}

// ParseEnvBuffer parses env file content. Blank lines and lines starting
// with # are skipped.
func ParseEnvBuffer(buf []byte) []EnvLine {
	var lines []EnvLine
	for _, raw := range strings.Split(string(buf), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, ProcessEnvLine(line))
	}
	return lines
}

func dequote(s string) string {
	v := s
	if strings.HasPrefix(v, "'") && strings.HasSuffix(v, "'") {
		v = strings.TrimPrefix(v, "'")
		v = strings.TrimSuffix(v, "'")
	} else if strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		v = strings.TrimPrefix(v, `"`)
		v = strings.TrimSuffix(v, `"`)
	}
	return v
}

// ProcessEnvLine splits an environment variable line into an EnvLine.
func ProcessEnvLine(env string) EnvLine {
	tok := strings.SplitN(env, "=", 2)
	if len(tok) < 2 {
		return EnvLine{Key: env, Val: ""}
	}
	return EnvLine{Key: tok[0], Val: dequote(tok[1])}
}

// LoadEnvFile parses filename and applies every pair to the process
// environment, without overriding variables that are already set.
func LoadEnvFile(filename string) error {
	lines, err := ParseEnvFile(filename)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, exists := os.LookupEnv(line.Key); !exists {
			if err := os.Setenv(line.Key, line.Val); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns the environment variable value or def if unset or empty.
func Get(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
