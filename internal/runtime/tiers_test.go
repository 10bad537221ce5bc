package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierForModelHeuristics(t *testing.T) {
	assert.Equal(t, TierBasic, TierForModel("claude-haiku-4"))
	assert.Equal(t, TierBasic, TierForModel("gpt-5-mini"))
	assert.Equal(t, TierBasic, TierForModel("gemini-2.5-flash"))
	assert.Equal(t, TierFull, TierForModel("opus"))
	assert.Equal(t, TierFull, TierForModel("gemini-2.5-pro"))
	assert.Equal(t, TierStandard, TierForModel("sonnet"))
	assert.Equal(t, TierStandard, TierForModel("anything-else"))
}

func TestTierForModelEnvOverrideWins(t *testing.T) {
	t.Setenv(ToolTierEnv, "haiku=full, sonnet=basic, bogus, empty=, x=notatier")

	assert.Equal(t, TierFull, TierForModel("claude-haiku-4"))
	assert.Equal(t, TierBasic, TierForModel("sonnet"))
	// Invalid entries are skipped, heuristics still apply.
	assert.Equal(t, TierFull, TierForModel("opus"))
}

func TestFilterToolsDropsAboveTier(t *testing.T) {
	tools := []string{"Read", "Write", "Bash", "MyPlugin"}

	assert.Equal(t, []string{"Read", "MyPlugin"}, FilterTools("haiku", tools))
	assert.Equal(t, []string{"Read", "Write", "MyPlugin"}, FilterTools("sonnet", tools))
	assert.Equal(t, tools, FilterTools("opus", tools))
}

func TestStrategyForModelRouting(t *testing.T) {
	assert.Equal(t, "codex", StrategyForModel("gpt-5").ID())
	assert.Equal(t, "codex", StrategyForModel("o3-mini").ID())
	assert.Equal(t, "gemini", StrategyForModel("gemini-2.5-pro").ID())
	assert.Equal(t, "claude", StrategyForModel("opus").ID())
	assert.Equal(t, "claude", StrategyForModel("").ID())
}

func TestStrategyByID(t *testing.T) {
	for _, id := range []string{"claude", "codex", "gemini"} {
		s, ok := StrategyByID(id)
		assert.True(t, ok)
		assert.Equal(t, id, s.ID())
	}
	_, ok := StrategyByID("nope")
	assert.False(t, ok)
}
