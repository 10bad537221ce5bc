package forumsync

import (
	"strings"

	"github.com/forumclaw/forumclaw/internal/store"
	"github.com/forumclaw/forumclaw/pkg/utils"
)

// MaxThreadNameLen is the platform ceiling on thread names.
const MaxThreadNameLen = 100

// vs16 is the emoji variation selector. The platform sometimes strips or
// adds it on thread names, so prefix matching accepts both forms.
const vs16 = "\uFE0F"

// cadenceEmoji is the canonical cadence presentation table.
var cadenceEmoji = map[store.Cadence]string{
	store.CadenceYearly:   "\U0001F386",        // fireworks
	store.CadenceMonthly:  "\U0001F5D3" + vs16, // spiral calendar
	store.CadenceWeekly:   "\U0001F4C6",        // tear-off calendar
	store.CadenceDaily:    "\U0001F305",        // sunrise
	store.CadenceHourly:   "⏰",            // alarm clock
	store.CadenceFrequent: "⚡",            // high voltage
}

// cadencePrefixes holds every accepted leading form per emoji, the
// selector-carrying variant before its bare shadow so the longer match
// wins and slicing preserves whatever the platform stored.
var cadencePrefixes = buildCadencePrefixes()

func buildCadencePrefixes() []string {
	var out []string
	for _, emoji := range cadenceEmoji {
		bare := strings.ReplaceAll(emoji, vs16, "")
		out = append(out, bare+vs16, bare)
	}
	return out
}

// EmojiFor returns the canonical emoji for a cadence, "" for unknown or
// unset cadences.
func EmojiFor(cadence store.Cadence) string {
	return cadenceEmoji[cadence]
}

// StripCadencePrefix removes every accumulated leading cadence emoji from a
// thread name, in either selector form.
func StripCadencePrefix(name string) string {
	for {
		trimmed := strings.TrimLeft(name, " ")
		stripped := false
		for _, prefix := range cadencePrefixes {
			if strings.HasPrefix(trimmed, prefix) {
				name = trimmed[len(prefix):]
				stripped = true
				break
			}
		}
		if !stripped {
			return trimmed
		}
	}
}

// BuildThreadName composes the canonical thread name for a job: the cadence
// emoji, a space, then the name with any stale cadence prefixes removed,
// capped at MaxThreadNameLen runes.
func BuildThreadName(name string, cadence store.Cadence) string {
	base := strings.TrimSpace(StripCadencePrefix(name))
	if emoji := EmojiFor(cadence); emoji != "" {
		base = emoji + " " + base
	}
	return utils.TruncateRunes(base, MaxThreadNameLen)
}

// DeriveCadence buckets a cron schedule into a firing-frequency cadence.
// An empty or unparseable schedule yields the unset cadence.
func DeriveCadence(schedule string) store.Cadence {
	fields := strings.Fields(strings.TrimSpace(schedule))

	if len(fields) == 1 && strings.HasPrefix(fields[0], "@") {
		switch strings.ToLower(fields[0]) {
		case "@yearly", "@annually":
			return store.CadenceYearly
		case "@monthly":
			return store.CadenceMonthly
		case "@weekly":
			return store.CadenceWeekly
		case "@daily", "@midnight":
			return store.CadenceDaily
		case "@hourly":
			return store.CadenceHourly
		}
		return ""
	}
	if len(fields) != 5 {
		return ""
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	switch {
	case wildcard(minute):
		return store.CadenceFrequent
	case wildcard(hour):
		return store.CadenceHourly
	case !wildcard(month):
		return store.CadenceYearly
	case !wildcard(dom):
		return store.CadenceMonthly
	case !wildcard(dow):
		return store.CadenceWeekly
	default:
		return store.CadenceDaily
	}
}

// wildcard reports whether a cron field fires across its whole range, i.e.
// "*" or a "*/n" step.
func wildcard(field string) bool {
	return field == "*" || strings.HasPrefix(field, "*/")
}
