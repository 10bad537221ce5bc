package forumsync

import (
	"fmt"
	"strings"

	"github.com/forumclaw/forumclaw/internal/store"
	"github.com/forumclaw/forumclaw/pkg/utils"
)

var statusEmoji = map[store.RunStatus]string{
	store.RunStatusSuccess:     "✅",
	store.RunStatusError:       "❌",
	store.RunStatusRunning:     "🏃",
	store.RunStatusInterrupted: "⏸️",
}

// ComposeStatus renders the pinned status message for a job. The output is a
// pure function of the record so phase 3 can compare before editing.
func ComposeStatus(rec *store.Record) string {
	var b strings.Builder

	emoji, ok := statusEmoji[rec.LastRunStatus]
	if !ok {
		emoji = "❔"
	}

	fmt.Fprintf(&b, "%s **Cron Job Status**\n\n", emoji)
	fmt.Fprintf(&b, "**ID:** `%s`\n", rec.CronID)
	if rec.Schedule != "" {
		fmt.Fprintf(&b, "**Schedule:** `%s`", rec.Schedule)
		if rec.Timezone != "" {
			fmt.Fprintf(&b, " (%s)", rec.Timezone)
		}
		b.WriteString("\n")
	}
	if rec.Cadence != "" {
		fmt.Fprintf(&b, "**Cadence:** %s %s\n", EmojiFor(rec.Cadence), rec.Cadence)
	}
	if model := utils.CoalesceString(rec.ModelOverride, rec.Model); model != "" {
		fmt.Fprintf(&b, "**Model:** `%s`\n", model)
	}
	if len(rec.PurposeTags) > 0 {
		fmt.Fprintf(&b, "**Tags:** %s\n", strings.Join(rec.PurposeTags, ", "))
	}
	fmt.Fprintf(&b, "**Runs:** %d\n", rec.RunCount)
	if rec.LastRunAt != "" {
		fmt.Fprintf(&b, "**Last run:** %s", rec.LastRunAt)
		if rec.LastRunStatus != "" {
			fmt.Fprintf(&b, " (%s)", rec.LastRunStatus)
		}
		b.WriteString("\n")
	}
	if rec.LastRunStatus == store.RunStatusError && rec.LastErrorMsg != "" {
		fmt.Fprintf(&b, "**Last error:** %s\n", utils.Truncate(rec.LastErrorMsg, store.MaxErrorMessageLen))
	}

	return strings.TrimRight(b.String(), "\n")
}
