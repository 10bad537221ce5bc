package store

import "encoding/json"

// CurrentVersion is the on-disk format version this build writes.
const CurrentVersion = 6

// migration transforms every job map in place. Steps are additive and
// idempotent: running a step twice must be a no-op.
type migration func(job map[string]json.RawMessage)

// migrations[i] upgrades version i+1 to i+2.
var migrations = []migration{
	// v1 -> v2: default triggerType for pre-webhook records.
	func(job map[string]json.RawMessage) {
		setDefault(job, "triggerType", `"schedule"`)
	},
	// v2 -> v3: introduce routingMode.
	func(job map[string]json.RawMessage) {
		setDefault(job, "routingMode", `"default"`)
	},
	// v3 -> v4: introduce chain.
	func(job map[string]json.RawMessage) {
		setDefault(job, "chain", `[]`)
	},
	// v4 -> v5: introduce persistent state.
	func(job map[string]json.RawMessage) {
		setDefault(job, "state", `{}`)
	},
	// v5 -> v6: reserved; kept so version numbering stays aligned with
	// documents written by earlier hosts.
	func(job map[string]json.RawMessage) {},
}

func setDefault(job map[string]json.RawMessage, key, value string) {
	if _, ok := job[key]; !ok {
		job[key] = json.RawMessage(value)
	}
}

// migrate upgrades doc to CurrentVersion. Versions at or above current pass
// through untouched so a rollback host never destroys newer documents.
func migrate(doc *document) {
	if doc.Version <= 0 {
		doc.Version = 1
	}
	for doc.Version < CurrentVersion {
		step := migrations[doc.Version-1]
		for id, raw := range doc.Jobs {
			var job map[string]json.RawMessage
			if err := json.Unmarshal(raw, &job); err != nil {
				continue
			}
			step(job)
			if data, err := json.Marshal(job); err == nil {
				doc.Jobs[id] = data
			}
		}
		doc.Version++
	}
}
