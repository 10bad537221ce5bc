package review

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Markdown renders the full report document.
func (r *Report) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Section review %s\n\n", r.Date)
	fmt.Fprintf(&b, "Sections: %s\n\n", strings.Join(r.Sections, ", "))
	fmt.Fprintf(&b, "%s\n\n", r.Summary())

	b.WriteString("## Findings per section\n\n```\n")
	b.WriteString(r.sectionTable())
	b.WriteString("```\n")

	if len(r.Findings) > 0 {
		b.WriteString("\n## Findings\n\n")
		for _, f := range r.Findings {
			fmt.Fprintf(&b, "- **%s** `%s:%d` [%s] %s\n", f.Severity, f.File, f.Line, f.RuleID, f.Message)
		}
	}
	return b.String()
}

// sectionTable builds the per-section severity table.
func (r *Report) sectionTable() string {
	counts := make(map[string]map[string]int, len(r.Sections))
	for _, section := range r.Sections {
		counts[section] = map[string]int{}
	}
	for _, f := range r.Findings {
		counts[f.Section][f.Severity]++
	}

	var out strings.Builder
	table := tablewriter.NewWriter(&out)
	table.SetHeader([]string{"Section", "P1", "P2", "P3"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, section := range r.Sections {
		row := counts[section]
		table.Append([]string{
			section,
			fmt.Sprintf("%d", row[SeverityP1]),
			fmt.Sprintf("%d", row[SeverityP2]),
			fmt.Sprintf("%d", row[SeverityP3]),
		})
	}
	table.Render()
	return out.String()
}
