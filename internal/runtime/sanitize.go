package runtime

import (
	"fmt"
	"strings"
)

// maxSanitizedLen caps any sanitized diagnostic surfaced to users.
const maxSanitizedLen = 200

// staleSessionSignature marks a known state-corruption mode of the claude
// CLI where its on-disk session index references a deleted conversation.
const staleSessionSignature = "No conversation found with session ID"

// staleSessionRecovery names the remediation directory instead of echoing
// the raw error, which embeds the session path.
const staleSessionRecovery = "The runtime's session index is stale. Remove ~/.claude/projects to recover."

// sanitizeDiagnostic reduces raw subprocess output to one user-safe line:
// the first line that is not in the noise list, capped at maxSanitizedLen.
// The command line (and therefore the prompt) must never pass through here.
func sanitizeDiagnostic(raw string, noise []string) string {
	if strings.Contains(raw, staleSessionSignature) {
		return staleSessionRecovery
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isNoise(line, noise) {
			continue
		}
		if len(line) > maxSanitizedLen {
			line = line[:maxSanitizedLen]
		}
		return line
	}
	return ""
}

func isNoise(line string, noise []string) bool {
	for _, prefix := range noise {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// timeoutMessage is the fixed-format wall-clock timeout error. The original
// error object is never echoed because it can contain the command line.
func timeoutMessage(runtimeID string, timeoutMs int64) string {
	return fmt.Sprintf("%s timed out after %dms", runtimeID, timeoutMs)
}

func streamStallMessage(ms int64) string {
	return fmt.Sprintf("stream stall: no output for %dms", ms)
}

func progressStallMessage(ms int64) string {
	return fmt.Sprintf("progress stall: no useful output for %dms", ms)
}

func spawnFailureMessage(runtimeID string, notFound bool, detail string) string {
	if notFound {
		return fmt.Sprintf("%s binary not found", runtimeID)
	}
	if detail == "" {
		detail = "unknown"
	}
	return fmt.Sprintf("%s process failed unexpectedly (%s)", runtimeID, detail)
}
