package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumclaw/forumclaw/internal/version"
)

func TestVersionCommand(t *testing.T) {
	out, err := execCommand(t, NewVersionCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "forumclaw "+version.Version)
	assert.Contains(t, out, "Commit:")
}
