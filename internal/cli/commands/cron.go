package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/forumclaw/forumclaw/internal/config"
	"github.com/forumclaw/forumclaw/internal/cron"
	"github.com/forumclaw/forumclaw/internal/logging"
	"github.com/forumclaw/forumclaw/internal/store"
	"github.com/forumclaw/forumclaw/pkg/utils"
)

// NewCronCommand creates the cron command group.
func NewCronCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage cron jobs",
		Long:  `Inspect and edit the cron record store. The running host picks up schedule changes on restart.`,
		Example: `  forumclaw cron list
  forumclaw cron add --schedule "0 9 * * *" --prompt "Summarize overnight alerts" --channel ops`,
	}

	cmd.AddCommand(newCronListCommand())
	cmd.AddCommand(newCronAddCommand())
	cmd.AddCommand(newCronRmCommand())
	cmd.AddCommand(newCronRunCommand())
	cmd.AddCommand(newCronEnableCommand())
	cmd.AddCommand(newCronDisableCommand())

	return cmd
}

func openStore(cmd *cobra.Command) *store.Store {
	verbose, _ := cmd.Flags().GetBool("verbose")
	_ = os.MkdirAll(config.StateDir(), 0o755)
	st := store.New(config.StatsPath(), logging.New(verbose))
	st.Load()
	return st
}

func newCronListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List cron jobs",
		Example: `  forumclaw cron list`,
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore(cmd)
			recs := st.All()
			if len(recs) == 0 {
				cmd.Println("No cron jobs.")
				return
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Schedule", "Channel", "Model", "Runs", "Last Run", "Status"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)

			for _, rec := range recs {
				status := string(rec.LastRunStatus)
				if rec.TriggerType == store.TriggerManual {
					status = "disabled"
				}
				table.Append([]string{
					rec.CronID,
					utils.CoalesceString(rec.Schedule, "-"),
					utils.CoalesceString(rec.Channel, "-"),
					utils.CoalesceString(rec.ModelOverride, rec.Model, "-"),
					fmt.Sprintf("%d", rec.RunCount),
					utils.CoalesceString(rec.LastRunAt, "-"),
					utils.CoalesceString(status, "pending"),
				})
			}
			table.Render()
		},
	}
}

func newCronAddCommand() *cobra.Command {
	var (
		id, schedule, prompt string
		channel, model, tz   string
		silent               bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a cron job",
		Example: `  # Daily digest at 9am in the job's timezone
  forumclaw cron add --schedule "0 9 * * *" --prompt "Post the daily digest" --channel digests --timezone America/New_York

  # Silent heartbeat check every 5 minutes
  forumclaw cron add --schedule "*/5 * * * *" --prompt "Check the API, reply HEARTBEAT_OK if healthy" --silent`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if schedule == "" {
				return fmt.Errorf("--schedule is required")
			}
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}
			if err := cron.ValidateSchedule(schedule); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}

			if id == "" {
				id = utils.NewCronID()
			}

			st := openStore(cmd)
			upd := &store.Update{Schedule: &schedule, Prompt: &prompt}
			if channel != "" {
				upd.Channel = &channel
			}
			if model != "" {
				upd.Model = &model
			}
			if tz != "" {
				upd.Timezone = &tz
			}
			if silent {
				upd.Silent = &silent
			}
			if _, err := st.UpsertRecord(id, "", upd); err != nil {
				return err
			}
			cmd.Printf("Created cron %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "job ID (generated when omitted)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "5-field cron expression")
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt sent to the model on each run")
	cmd.Flags().StringVar(&channel, "channel", "", "output channel name or ID")
	cmd.Flags().StringVar(&model, "model", "", "model identifier")
	cmd.Flags().StringVar(&tz, "timezone", "", "IANA timezone for the schedule")
	cmd.Flags().BoolVar(&silent, "silent", false, "suppress short unchanged output")

	return cmd
}

func newCronRmCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Short:   "Remove a cron job",
		Args:    cobra.ExactArgs(1),
		Example: `  forumclaw cron rm cron-1a2b3c4d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := openStore(cmd)
			if st.Get(args[0]) == nil {
				return fmt.Errorf("no cron %q", args[0])
			}
			if err := st.RemoveRecord(args[0]); err != nil {
				return err
			}
			cmd.Printf("Removed cron %s\n", args[0])
			return nil
		},
	}
}

func newCronRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Run a cron job once, now",
		Long: `Connects to Discord and executes the job end to end. The per-job file
lock still applies, so a run already in progress elsewhere is skipped.`,
		Args:    cobra.ExactArgs(1),
		Example: `  forumclaw cron run cron-1a2b3c4d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadHostConfig(cmd)
			if err != nil {
				return err
			}
			verbose, _ := cmd.Flags().GetBool("verbose")
			logger := logging.New(verbose || cfg.Logging.Verbose)

			h, err := buildHost(cfg, logger)
			if err != nil {
				return err
			}
			defer h.close()

			if h.store.Get(args[0]) == nil {
				return fmt.Errorf("no cron %q", args[0])
			}
			h.executor.Execute(context.Background(), args[0])

			rec := h.store.Get(args[0])
			cmd.Printf("Run finished: %s\n", rec.LastRunStatus)
			return nil
		},
	}
}

func setTrigger(cmd *cobra.Command, cronID string, trigger store.TriggerType) error {
	st := openStore(cmd)
	rec := st.Get(cronID)
	if rec == nil {
		return fmt.Errorf("no cron %q", cronID)
	}
	_, err := st.UpsertRecord(cronID, rec.ThreadID, &store.Update{TriggerType: &trigger})
	return err
}

func newCronEnableCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "enable <id>",
		Short:   "Re-enable a disabled cron job",
		Args:    cobra.ExactArgs(1),
		Example: `  forumclaw cron enable cron-1a2b3c4d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setTrigger(cmd, args[0], store.TriggerSchedule); err != nil {
				return err
			}
			cmd.Printf("Enabled cron %s\n", args[0])
			return nil
		},
	}
}

func newCronDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "disable <id>",
		Short:   "Disable a cron job without deleting it",
		Long:    `Disabled jobs keep their schedule and record but never self-fire.`,
		Args:    cobra.ExactArgs(1),
		Example: `  forumclaw cron disable cron-1a2b3c4d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setTrigger(cmd, args[0], store.TriggerManual); err != nil {
				return err
			}
			cmd.Printf("Disabled cron %s\n", args[0])
			return nil
		},
	}
}
