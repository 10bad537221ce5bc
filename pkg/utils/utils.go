// Package utils provides utility functions.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// NewCronID generates a stable opaque cron job ID of the form "cron-<8 hex>".
func NewCronID() string {
	bytes := make([]byte, 4)
	_, _ = rand.Read(bytes)
	return "cron-" + hex.EncodeToString(bytes)
}

// ExpandPath expands ~ to home directory and resolves relative paths.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir ensures a directory exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Truncate truncates a string to max length, appending "..." when cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// TruncateRunes truncates to a rune budget with a single-rune ellipsis,
// safe for names that mix emoji and multibyte text.
func TruncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

// CollapseWhitespace folds all runs of whitespace into single spaces and
// trims the result. Used for sentinel-output comparison.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Contains checks if a slice contains a value.
func Contains[T comparable](slice []T, value T) bool {
	for _, v := range slice {
		if v == value {
			return true
		}
	}
	return false
}

// CoalesceString returns the first non-empty string.
func CoalesceString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
