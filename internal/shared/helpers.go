// Package shared provides common utility functions used across multiple
// packages in the partcad codebase.
package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"
)

// NormalizePipName lowercases a Python package name and replaces
// underscores and dots with hyphens, following PEP 503 normalization.
func NormalizePipName(value string) string {
	lower := strings.ToLower(strings.TrimSpace(value))
	replacer := strings.NewReplacer("_", "-", ".", "-")
	return replacer.Replace(lower)
}

// RequirementName extracts the distribution name from a pip requirement
// such as "cadquery-ocp==7.7.2" or "numpy>=1.24; python_version>'3.9'".
func RequirementName(requirement string) string {
	value := strings.TrimSpace(requirement)
	if idx := strings.IndexAny(value, "<>=!~;[ @"); idx >= 0 {
		value = value[:idx]
	}
	return NormalizePipName(value)
}

// HashKey returns the hex SHA-256 of the joined parts; cache directories
// are named by it.
func HashKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// HTTPStatusError creates a formatted error for non-2xx HTTP responses.
func HTTPStatusError(status int, url string) error {
	return fmt.Errorf("status=%d url=%s", status, url)
}

// CommandError wraps a command execution error with its trimmed output
// for cleaner error messages.
func CommandError(output []byte, err error) error {
	return fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err)
}

// TouchSentinel records the current time in a sentinel file.
func TouchSentinel(path string, now time.Time) error {
	return os.WriteFile(path, []byte(now.UTC().Format(time.RFC3339)+"\n"), 0644)
}

// SentinelTime reads the time stored by TouchSentinel, falling back to the
// file's modification time. ok is false when the sentinel is absent.
func SentinelTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data))); err == nil {
			return parsed, true
		}
	}
	return info.ModTime(), true
}
