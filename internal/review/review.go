// Package review runs the section code review: a heuristic findings scan
// over internal packages, reported as Markdown plus JSON under
// docs/code-review/ and gated against YAML thresholds.
package review

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forumclaw/forumclaw/internal/guard"
	"github.com/forumclaw/forumclaw/pkg/utils"
)

// Severity buckets findings: P1 must-fix, P2 should-fix, P3 nice-to-fix.
const (
	SeverityP1 = "P1"
	SeverityP2 = "P2"
	SeverityP3 = "P3"
)

// Finding is one review hit.
type Finding struct {
	Section  string `json:"section"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	RuleID   string `json:"ruleId"`
	Message  string `json:"message"`
}

// Report is one review run.
type Report struct {
	Date         string         `json:"date"`
	Sections     []string       `json:"sections"`
	IncludeTests bool           `json:"includeTests"`
	Findings     []Finding      `json:"findings"`
	Counts       map[string]int `json:"counts"`
}

// Options selects what to review.
type Options struct {
	Root string
	// Sections restricts the scan to named internal packages; empty scans
	// all of them.
	Sections     []string
	IncludeTests bool
}

var (
	todoRe     = regexp.MustCompile(`//\s*(TODO|FIXME|XXX)\b`)
	panicRe    = regexp.MustCompile(`\bpanic\(`)
	fmtPrintRe = regexp.MustCompile(`\bfmt\.Print(ln|f)?\(`)
	skipRe     = regexp.MustCompile(`\bt\.Skip(f|Now)?\(`)
)

const longFileLines = 800

// Run scans the selected sections and builds a report.
func Run(opts Options) (*Report, error) {
	internalDir := filepath.Join(opts.Root, "internal")
	sections, err := resolveSections(internalDir, opts.Sections)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Date:         time.Now().Format("2006-01-02"),
		Sections:     sections,
		IncludeTests: opts.IncludeTests,
		Counts:       map[string]int{SeverityP1: 0, SeverityP2: 0, SeverityP3: 0},
	}

	for _, section := range sections {
		findings, err := scanSection(internalDir, section, opts.IncludeTests)
		if err != nil {
			return nil, err
		}
		report.Findings = append(report.Findings, findings...)
	}

	sort.Slice(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.Severity != b.Severity {
			return a.Severity < b.Severity
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Line < b.Line
	})
	for _, f := range report.Findings {
		report.Counts[f.Severity]++
	}
	return report, nil
}

func resolveSections(internalDir string, requested []string) ([]string, error) {
	entries, err := os.ReadDir(internalDir)
	if err != nil {
		return nil, fmt.Errorf("review: listing sections: %w", err)
	}
	available := make(map[string]bool)
	var all []string
	for _, entry := range entries {
		if entry.IsDir() {
			available[entry.Name()] = true
			all = append(all, entry.Name())
		}
	}
	sort.Strings(all)

	if len(requested) == 0 {
		return all, nil
	}
	var out []string
	for _, section := range requested {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		if !available[section] {
			return nil, fmt.Errorf("review: unknown section %q", section)
		}
		out = append(out, section)
	}
	sort.Strings(out)
	return out, nil
}

func scanSection(internalDir, section string, includeTests bool) ([]Finding, error) {
	var findings []Finding
	root := filepath.Join(internalDir, section)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") {
			return err
		}
		isTest := strings.HasSuffix(path, "_test.go")
		if isTest && !includeTests {
			return nil
		}

		rel, relErr := filepath.Rel(internalDir, path)
		if relErr != nil {
			rel = path
		}
		fileFindings, scanErr := scanGoFile(path, rel, section, isTest)
		if scanErr != nil {
			return scanErr
		}
		findings = append(findings, fileFindings...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("review: scanning section %s: %w", section, err)
	}
	return findings, nil
}

func scanGoFile(path, rel, section string, isTest bool) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var findings []Finding
	add := func(line int, severity, ruleID, message string) {
		findings = append(findings, Finding{
			Section:  section,
			File:     rel,
			Line:     line,
			Severity: severity,
			RuleID:   ruleID,
			Message:  message,
		})
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		for _, rule := range guard.DefaultRules {
			if rule.Pattern.MatchString(line) {
				add(lineNo, SeverityP1, rule.ID, rule.Message+" committed to source")
			}
		}
		if todoRe.MatchString(line) {
			add(lineNo, SeverityP3, "todo-comment", "unresolved TODO/FIXME marker")
		}
		if !isTest && panicRe.MatchString(line) && !strings.Contains(line, "// registration error") {
			add(lineNo, SeverityP2, "panic-in-package", "panic in library code")
		}
		if !isTest && fmtPrintRe.MatchString(line) {
			add(lineNo, SeverityP3, "fmt-print", "fmt.Print* instead of structured logging")
		}
		if isTest && skipRe.MatchString(line) && !strings.Contains(line, "smoke") {
			add(lineNo, SeverityP3, "skipped-test", "unconditionally skippable test")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if lineNo > longFileLines {
		add(lineNo, SeverityP3, "long-file", fmt.Sprintf("file exceeds %d lines", longFileLines))
	}
	return findings, nil
}

// Summary is the one-line stdout result.
func (r *Report) Summary() string {
	return fmt.Sprintf("review: %d P1, %d P2, %d P3 findings across %d sections",
		r.Counts[SeverityP1], r.Counts[SeverityP2], r.Counts[SeverityP3], len(r.Sections))
}

// ReportBaseName builds `section-review-<date>[-sections]`.
func (r *Report) ReportBaseName(allSections bool) string {
	name := "section-review-" + r.Date
	if !allSections {
		name += "-" + strings.Join(r.Sections, "-")
	}
	return name
}

// Write emits the Markdown and JSON reports under dir (usually
// docs/code-review) and returns their paths.
func (r *Report) Write(dir string, allSections bool) (string, string, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return "", "", fmt.Errorf("review: creating report dir: %w", err)
	}
	base := filepath.Join(dir, r.ReportBaseName(allSections))

	mdPath := base + ".md"
	if err := os.WriteFile(mdPath, []byte(r.Markdown()), 0o644); err != nil {
		return "", "", err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", "", err
	}
	jsonPath := base + ".json"
	if err := os.WriteFile(jsonPath, append(data, '\n'), 0o644); err != nil {
		return "", "", err
	}
	return mdPath, jsonPath, nil
}

// Gates are the YAML-configured finding thresholds.
type Gates struct {
	MaxP1 int `yaml:"maxP1"`
	MaxP2 int `yaml:"maxP2"`
	MaxP3 int `yaml:"maxP3"`
}

// LoadGates reads the gates file.
func LoadGates(path string) (*Gates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("review: reading gates file: %w", err)
	}
	var gates Gates
	if err := yaml.Unmarshal(data, &gates); err != nil {
		return nil, fmt.Errorf("review: parsing gates file: %w", err)
	}
	return &gates, nil
}

// Check compares the report against the gates, returning an error naming
// every exceeded threshold.
func (g *Gates) Check(r *Report) error {
	var failures []string
	if r.Counts[SeverityP1] > g.MaxP1 {
		failures = append(failures, fmt.Sprintf("P1 %d > %d", r.Counts[SeverityP1], g.MaxP1))
	}
	if r.Counts[SeverityP2] > g.MaxP2 {
		failures = append(failures, fmt.Sprintf("P2 %d > %d", r.Counts[SeverityP2], g.MaxP2))
	}
	if r.Counts[SeverityP3] > g.MaxP3 {
		failures = append(failures, fmt.Sprintf("P3 %d > %d", r.Counts[SeverityP3], g.MaxP3))
	}
	if len(failures) > 0 {
		return fmt.Errorf("review gates failed: %s", strings.Join(failures, ", "))
	}
	return nil
}
