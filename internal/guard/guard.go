// Package guard scans a workspace tree for legacy credential tokens that
// must not live in tracked files.
package guard

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/forumclaw/forumclaw/pkg/utils"
)

// Rule is one token pattern.
type Rule struct {
	ID      string
	Pattern *regexp.Regexp
	Message string
}

// DefaultRules covers the credential shapes that have historically leaked
// into workspace files.
var DefaultRules = []Rule{
	{
		ID:      "discord-bot-token",
		Pattern: regexp.MustCompile(`[MNO][A-Za-z\d]{23,25}\.[\w-]{6}\.[\w-]{27,38}`),
		Message: "Discord bot token",
	},
	{
		ID:      "discord-webhook-url",
		Pattern: regexp.MustCompile(`discord(?:app)?\.com/api/webhooks/\d+/[\w-]+`),
		Message: "Discord webhook URL with secret",
	},
	{
		ID:      "anthropic-api-key",
		Pattern: regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`),
		Message: "Anthropic API key",
	},
	{
		ID:      "openai-api-key",
		Pattern: regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9]{32,}`),
		Message: "OpenAI API key",
	},
	{
		ID:      "slack-token",
		Pattern: regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`),
		Message: "Slack token",
	},
	{
		ID:      "google-api-key",
		Pattern: regexp.MustCompile(`AIza[A-Za-z0-9_-]{35}`),
		Message: "Google API key",
	},
}

// Violation is one match.
type Violation struct {
	Path    string
	Line    int
	Col     int // 1-based byte column
	RuleID  string
	Message string
	Snippet string
}

// skipDirs are never descended into.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, ".cache": true,
}

const maxScanFileSize = 1 << 20

// Scan walks root and applies rules line by line. Binary and oversized
// files are skipped. Paths in violations are relative to root.
func Scan(root string, rules []Rule) ([]Violation, int, error) {
	if len(rules) == 0 {
		rules = DefaultRules
	}

	var violations []Violation
	scanned := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are not violations
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxScanFileSize {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		found, ok := scanFile(path, rel, rules)
		if ok {
			scanned++
			violations = append(violations, found...)
		}
		return nil
	})
	if err != nil {
		return nil, scanned, fmt.Errorf("guard: walking %s: %w", root, err)
	}
	return violations, scanned, nil
}

// scanFile reports (violations, scanned). Binary files return scanned=false.
func scanFile(path, rel string, rules []Rule) ([]Violation, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	head, _ := reader.Peek(8000)
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, false
	}

	var violations []Violation
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanFileSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		for _, rule := range rules {
			loc := rule.Pattern.FindStringIndex(line)
			if loc == nil {
				continue
			}
			violations = append(violations, Violation{
				Path:    rel,
				Line:    lineNo,
				Col:     loc[0] + 1,
				RuleID:  rule.ID,
				Message: rule.Message,
				Snippet: utils.Truncate(strings.TrimSpace(line), 120),
			})
		}
	}
	return violations, true
}

// Format renders violations in the `path:line:col [ruleId] message` shape
// with an indented snippet line per violation.
func Format(violations []Violation) string {
	var b strings.Builder
	for _, v := range violations {
		fmt.Fprintf(&b, "%s:%d:%d [%s] %s\n", v.Path, v.Line, v.Col, v.RuleID, v.Message)
		fmt.Fprintf(&b, "    %s\n", v.Snippet)
	}
	return b.String()
}

// Summary is the exit-0 one-liner.
func Summary(scanned int) string {
	return fmt.Sprintf("legacy-token-guard: %d files scanned, no legacy tokens found", scanned)
}
