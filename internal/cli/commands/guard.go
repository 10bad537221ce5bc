package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forumclaw/forumclaw/internal/guard"
)

// NewTokenGuardCommand creates the legacy-token-guard subcommand.
func NewTokenGuardCommand() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "legacy-token-guard",
		Short: "Scan the workspace for leaked credential tokens",
		Long: `Walks the workspace tree and flags anything matching a known credential
shape. Exits 0 with a one-line summary when clean, 1 with one violation
line per match otherwise.`,
		Example:       `  forumclaw legacy-token-guard`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			scanRoot := root
			if scanRoot == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				scanRoot = wd
			}

			violations, scanned, err := guard.Scan(scanRoot, nil)
			if err != nil {
				return err
			}
			if len(violations) > 0 {
				fmt.Fprint(cmd.OutOrStdout(), guard.Format(violations))
				return fmt.Errorf("%d legacy token(s) found", len(violations))
			}
			cmd.Println(guard.Summary(scanned))
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "directory to scan (default: working directory)")
	return cmd
}
