package commands

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
)

// execCommand runs a cobra command with args and captures its output.
func execCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
