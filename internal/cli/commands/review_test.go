package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedReviewRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "internal", "alpha")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	src := "package alpha\n\n// TODO: tighten this up\nfunc Do() {\n\tpanic(\"boom\")\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha.go"), []byte(src), 0o644))
	return root
}

func TestReviewCommandWritesReports(t *testing.T) {
	root := seedReviewRepo(t)

	out, err := execCommand(t, NewReviewCommand(), "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "review: 0 P1, 1 P2, 1 P3 findings across 1 sections")

	today := time.Now().Format("2006-01-02")
	base := filepath.Join(root, "docs", "code-review", "section-review-"+today)
	assert.FileExists(t, base+".md")
	assert.FileExists(t, base+".json")
}

func TestReviewCommandSectionSuffix(t *testing.T) {
	root := seedReviewRepo(t)

	_, err := execCommand(t, NewReviewCommand(), "--root", root, "--section", "alpha")
	require.NoError(t, err)

	today := time.Now().Format("2006-01-02")
	assert.FileExists(t, filepath.Join(root, "docs", "code-review", "section-review-"+today+"-alpha.md"))
}

func TestReviewCommandGateFailure(t *testing.T) {
	root := seedReviewRepo(t)
	gates := filepath.Join(root, "gates.yaml")
	require.NoError(t, os.WriteFile(gates, []byte("maxP1: 0\nmaxP2: 0\nmaxP3: 0\n"), 0o644))

	_, err := execCommand(t, NewReviewCommand(), "--root", root, "--with-gates", gates)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review gates failed")
}

func TestReviewCommandUnknownSection(t *testing.T) {
	root := seedReviewRepo(t)
	_, err := execCommand(t, NewReviewCommand(), "--root", root, "--section", "ghost")
	require.Error(t, err)
}
