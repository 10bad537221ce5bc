package runtime

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// End-to-end smoke tests against the real CLIs. Off by default; enable per
// runtime with the SMOKE_TEST_TIERS family, e.g.
//
//	SMOKE_TEST_TIERS=basic go test ./internal/runtime -run Smoke
//
// Each enabled runtime must be installed and authenticated on the host.

func smokeTiers(t *testing.T, envVars ...string) []string {
	t.Helper()
	for _, v := range envVars {
		if raw := os.Getenv(v); raw != "" {
			return strings.Split(raw, ",")
		}
	}
	t.Skipf("smoke tests disabled, set %s to enable", envVars[0])
	return nil
}

func smokeTimeout(t *testing.T) time.Duration {
	t.Helper()
	raw := os.Getenv("SMOKE_TEST_TIMEOUT_MS")
	if raw == "" {
		return 2 * time.Minute
	}
	ms, err := strconv.Atoi(raw)
	require.NoError(t, err, "SMOKE_TEST_TIMEOUT_MS must be a positive integer")
	require.Positive(t, ms, "SMOKE_TEST_TIMEOUT_MS must be a positive integer")
	return time.Duration(ms) * time.Millisecond
}

func runSmoke(t *testing.T, strat Strategy) {
	t.Helper()
	f := NewFramework(zerolog.Nop())

	events := collect(f.Invoke(context.Background(), strat, InvokeOptions{
		Prompt:  "Reply with exactly the word PONG and nothing else.",
		Timeout: smokeTimeout(t),
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, EventDone, events[len(events)-1].Type)
	if errMsg := lastError(events); errMsg != "" {
		t.Fatalf("smoke invocation failed: %s", errMsg)
	}
	assert.Contains(t, strings.ToUpper(finalTextOf(events)), "PONG")
}

func TestSmokeClaude(t *testing.T) {
	smokeTiers(t, "SMOKE_TEST_TIERS")
	runSmoke(t, NewClaudeStrategy())
}

func TestSmokeCodex(t *testing.T) {
	smokeTiers(t, "CODEX_SMOKE_TEST_TIERS", "OPENAI_SMOKE_TEST_TIERS")
	runSmoke(t, NewCodexStrategy())
}

func TestSmokeGemini(t *testing.T) {
	smokeTiers(t, "GEMINI_SMOKE_TEST_TIERS")
	runSmoke(t, NewGeminiStrategy())
}
