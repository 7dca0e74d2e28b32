package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup parses an environment variable, returning fallback when it is unset
// or unparsable.
func lookup[T any](key string, fallback T, parse func(string) (T, error)) T {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := parse(strings.TrimSpace(value))
	if err != nil {
		slog.Warn("ignoring invalid environment value", "key", key, "error", err)
		return fallback
	}
	return parsed
}

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	return lookup(key, fallback, strconv.Atoi)
}

// GetBool retrieves an environment variable as bool or returns fallback.
func GetBool(key string, fallback bool) bool {
	return lookup(key, fallback, strconv.ParseBool)
}

// GetDuration reads key as a whole number of unit, or as a Go duration string
// such as "1500ms".
func GetDuration(key string, unit, fallback time.Duration) time.Duration {
	return lookup(key, fallback, func(value string) (time.Duration, error) {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(n) * unit, nil
		}
		return time.ParseDuration(value)
	})
}
