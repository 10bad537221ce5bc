package runtime

import (
	"os"
	"strings"
)

// ToolTier grades how much tool surface a model is trusted with.
type ToolTier string

const (
	TierBasic    ToolTier = "basic"
	TierStandard ToolTier = "standard"
	TierFull     ToolTier = "full"
)

// ToolTierEnv overrides the model→tier mapping with a comma-separated list,
// e.g. "haiku=basic,sonnet=standard,opus=full". Matching is substring on the
// model identifier.
const ToolTierEnv = "FORUMCLAW_TOOL_TIERS"

// tierRank orders tiers for comparison.
var tierRank = map[ToolTier]int{TierBasic: 0, TierStandard: 1, TierFull: 2}

// knownToolTiers maps built-in tool names to the minimum tier that may use
// them. Tool names absent from this table always pass the filter so
// caller-defined extensions are preserved.
var knownToolTiers = map[string]ToolTier{
	"Read":      TierBasic,
	"Grep":      TierBasic,
	"Glob":      TierBasic,
	"WebFetch":  TierStandard,
	"WebSearch": TierStandard,
	"Write":     TierStandard,
	"Edit":      TierStandard,
	"Bash":      TierFull,
	"Task":      TierFull,
}

// TierForModel resolves a model identifier to a tier. The env override map
// wins; otherwise name-pattern heuristics apply, defaulting to standard.
func TierForModel(model string) ToolTier {
	lower := strings.ToLower(model)

	if raw := os.Getenv(ToolTierEnv); raw != "" {
		for _, entry := range strings.Split(raw, ",") {
			parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
			if len(parts) != 2 {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(parts[0]))
			tier := ToolTier(strings.TrimSpace(parts[1]))
			if name == "" {
				continue
			}
			if _, ok := tierRank[tier]; !ok {
				continue
			}
			if strings.Contains(lower, name) {
				return tier
			}
		}
	}

	switch {
	case strings.Contains(lower, "haiku"), strings.Contains(lower, "mini"),
		strings.Contains(lower, "flash"), strings.Contains(lower, "lite"):
		return TierBasic
	case strings.Contains(lower, "opus"), strings.Contains(lower, "pro"):
		return TierFull
	default:
		return TierStandard
	}
}

// FilterTools drops known tools above the model's tier. Unknown tool names
// pass through untouched.
func FilterTools(model string, tools []string) []string {
	tier := TierForModel(model)
	rank := tierRank[tier]

	out := make([]string, 0, len(tools))
	for _, tool := range tools {
		min, known := knownToolTiers[tool]
		if known && tierRank[min] > rank {
			continue
		}
		out = append(out, tool)
	}
	return out
}
