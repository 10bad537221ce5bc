package commands

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forumclaw/forumclaw/internal/review"
)

// NewReviewCommand creates the review subcommand.
func NewReviewCommand() *cobra.Command {
	var (
		sections     string
		includeTests bool
		gatesPath    string
		root         string
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Run the section code review",
		Long: `Scans internal packages for review findings and writes Markdown plus
JSON reports under docs/code-review/.`,
		Example: `  forumclaw review
  forumclaw review --section cron,store --include-tests
  forumclaw review --with-gates review-gates.yaml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reviewRoot := root
			if reviewRoot == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				reviewRoot = wd
			}

			opts := review.Options{Root: reviewRoot, IncludeTests: includeTests}
			if sections != "" {
				opts.Sections = strings.Split(sections, ",")
			}

			report, err := review.Run(opts)
			if err != nil {
				return err
			}

			outDir := filepath.Join(reviewRoot, "docs", "code-review")
			mdPath, jsonPath, err := report.Write(outDir, sections == "")
			if err != nil {
				return err
			}

			cmd.Println(report.Summary())
			cmd.Printf("Reports: %s, %s\n", mdPath, jsonPath)

			if gatesPath != "" {
				gates, err := review.LoadGates(gatesPath)
				if err != nil {
					return err
				}
				if err := gates.Check(report); err != nil {
					return err
				}
				cmd.Println("Gates passed.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sections, "section", "", "comma-separated section names (default: all)")
	cmd.Flags().BoolVar(&includeTests, "include-tests", false, "scan _test.go files too")
	cmd.Flags().StringVar(&gatesPath, "with-gates", "", "YAML gates file; exceeding a threshold fails the command")
	cmd.Flags().StringVar(&root, "root", "", "repository root (default: working directory)")

	return cmd
}
