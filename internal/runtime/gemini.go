package runtime

import "strings"

// GeminiStrategy adapts the Gemini CLI. Output is plain text; each invocation
// is stateless.
type GeminiStrategy struct{}

func NewGeminiStrategy() *GeminiStrategy { return &GeminiStrategy{} }

func (s *GeminiStrategy) ID() string                { return "gemini" }
func (s *GeminiStrategy) DefaultBinary() string     { return "gemini" }
func (s *GeminiStrategy) DefaultModel() string      { return "gemini-2.5-flash" }
func (s *GeminiStrategy) MultiTurn() MultiTurnMode  { return MultiTurnNone }
func (s *GeminiStrategy) OutputMode(*InvokeContext) OutputMode { return OutputText }

func (s *GeminiStrategy) BuildArgs(ic *InvokeContext) []string {
	args := []string{}
	if ic.Model != "" {
		args = append(args, "--model", ic.Model)
	}
	if ic.UseStdin {
		return args
	}
	return append(args, "--", ic.Opts.Prompt)
}

func (s *GeminiStrategy) SanitizeError(raw string) string {
	if strings.Contains(raw, "RESOURCE_EXHAUSTED") || strings.Contains(raw, "429") {
		return "gemini quota exhausted, try again later"
	}
	if strings.Contains(raw, "UNAUTHENTICATED") {
		return "gemini is not authenticated. Run `gemini` interactively once to sign in."
	}
	return ""
}

func (s *GeminiStrategy) HandleSpawnError(err error) string {
	if err == nil {
		return ""
	}
	if strings.Contains(err.Error(), "executable file not found") {
		return "gemini CLI not found. Install: npm install -g @google/gemini-cli"
	}
	return ""
}

func (s *GeminiStrategy) StderrNoise() []string {
	return []string{
		"Loaded cached credentials",
		"Data collection is",
		"(node:",
		"DeprecationWarning",
	}
}
