package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanCleanTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.md", "nothing secret here\njust notes\n")
	writeFile(t, root, "sub/config.json", `{"model": "sonnet"}`)

	violations, scanned, err := Scan(root, nil)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Equal(t, 2, scanned)
}

func TestScanFindsTokensWithPosition(t *testing.T) {
	root := t.TempDir()
	key := "sk-ant-" + strings.Repeat("a", 24)
	writeFile(t, root, "env.txt", fmt.Sprintf("# comment\nAPI_KEY=%s\n", key))

	violations, _, err := Scan(root, nil)
	require.NoError(t, err)
	require.Len(t, violations, 1)

	v := violations[0]
	assert.Equal(t, "env.txt", v.Path)
	assert.Equal(t, 2, v.Line)
	assert.Equal(t, 9, v.Col)
	assert.Equal(t, "anthropic-api-key", v.RuleID)
	assert.Contains(t, v.Snippet, "API_KEY=")
}

func TestScanSkipsIgnoredDirsAndBinaries(t *testing.T) {
	root := t.TempDir()
	key := "sk-ant-" + strings.Repeat("b", 24)
	writeFile(t, root, "node_modules/dep/leak.txt", key)
	writeFile(t, root, ".git/config", key)
	require.NoError(t, os.WriteFile(filepath.Join(root, "blob.bin"), append([]byte{0, 1, 2}, []byte(key)...), 0o644))

	violations, scanned, err := Scan(root, nil)
	require.NoError(t, err)
	assert.Empty(t, violations)
	assert.Zero(t, scanned)
}

func TestScanDetectsEachDefaultRule(t *testing.T) {
	samples := map[string]string{
		"discord-bot-token":   "MTA" + strings.Repeat("x", 21) + "." + strings.Repeat("y", 6) + "." + strings.Repeat("z", 27),
		"discord-webhook-url": "https://discord.com/api/webhooks/12345/" + strings.Repeat("s", 30),
		"anthropic-api-key":   "sk-ant-" + strings.Repeat("c", 30),
		"openai-api-key":      "sk-" + strings.Repeat("d", 40),
		"slack-token":         "xoxb-" + strings.Repeat("1", 16),
		"google-api-key":      "AIza" + strings.Repeat("e", 35),
	}

	for ruleID, sample := range samples {
		root := t.TempDir()
		writeFile(t, root, "leak.txt", "value = "+sample+"\n")

		violations, _, err := Scan(root, nil)
		require.NoError(t, err, ruleID)
		require.NotEmpty(t, violations, "rule %s should match %q", ruleID, sample)

		ids := make([]string, 0, len(violations))
		for _, v := range violations {
			ids = append(ids, v.RuleID)
		}
		assert.Contains(t, ids, ruleID)
	}
}

func TestFormatShape(t *testing.T) {
	out := Format([]Violation{{
		Path:    "config/env.txt",
		Line:    3,
		Col:     9,
		RuleID:  "slack-token",
		Message: "Slack token",
		Snippet: "TOKEN=xoxb-...",
	}})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "config/env.txt:3:9 [slack-token] Slack token", lines[0])
	assert.Equal(t, "    TOKEN=xoxb-...", lines[1])
}

func TestSummaryOneLiner(t *testing.T) {
	out := Summary(42)
	assert.Equal(t, "legacy-token-guard: 42 files scanned, no legacy tokens found", out)
	assert.NotContains(t, out, "\n")
}
