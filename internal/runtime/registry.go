package runtime

import "strings"

// builtin strategies, in registration order.
var builtins = []Strategy{
	NewClaudeStrategy(),
	NewCodexStrategy(),
	NewGeminiStrategy(),
}

// Strategies returns all registered strategies.
func Strategies() []Strategy {
	out := make([]Strategy, len(builtins))
	copy(out, builtins)
	return out
}

// StrategyByID looks up a strategy by runtime identifier.
func StrategyByID(id string) (Strategy, bool) {
	for _, s := range builtins {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// StrategyForModel routes a model name to the runtime that serves it. Codex
// owns the gpt/o-series names, gemini its own family, claude everything else.
func StrategyForModel(model string) Strategy {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "gpt"), strings.Contains(lower, "codex"),
		strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		s, _ := StrategyByID("codex")
		return s
	case strings.Contains(lower, "gemini"), strings.Contains(lower, "flash"):
		s, _ := StrategyByID("gemini")
		return s
	default:
		s, _ := StrategyByID("claude")
		return s
	}
}
