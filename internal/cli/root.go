// Package cli provides the command-line interface for forumclaw.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forumclaw/forumclaw/internal/cli/commands"
	"github.com/forumclaw/forumclaw/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "forumclaw",
	Short: "forumclaw - forum-driven cron automation host",
	Long: `forumclaw runs scheduled jobs against generative model CLIs and keeps a
Discord forum channel in sync with the job registry: one thread per job,
with cadence-prefixed names, purpose tags and a pinned status message.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewCronCommand())
	rootCmd.AddCommand(commands.NewTokenGuardCommand())
	rootCmd.AddCommand(commands.NewReviewCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
