// Package store provides the durable cron run-record store with secondary
// indexes and a versioned on-disk format.
package store

import (
	"encoding/json"
)

// RunStatus is the persisted outcome of the most recent run.
type RunStatus string

const (
	RunStatusSuccess     RunStatus = "success"
	RunStatusError       RunStatus = "error"
	RunStatusRunning     RunStatus = "running"
	RunStatusInterrupted RunStatus = "interrupted"
)

// Cadence buckets the firing frequency derived from the schedule.
type Cadence string

const (
	CadenceYearly   Cadence = "yearly"
	CadenceMonthly  Cadence = "monthly"
	CadenceWeekly   Cadence = "weekly"
	CadenceDaily    Cadence = "daily"
	CadenceHourly   Cadence = "hourly"
	CadenceFrequent Cadence = "frequent"
)

// TriggerType describes what causes a job to fire.
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerWebhook  TriggerType = "webhook"
	TriggerManual   TriggerType = "manual"
)

// RoutingMode selects how the executor routes model output.
type RoutingMode string

const (
	RoutingDefault RoutingMode = "default"
	RoutingJSON    RoutingMode = "json"
)

// MaxErrorMessageLen caps persisted lastErrorMessage.
const MaxErrorMessageLen = 200

// Record is a single cron run record. CronID is the primary key; ThreadID,
// StatusMessageID and WebhookSourceID are unique when present and backed by
// secondary indexes.
type Record struct {
	CronID          string          `json:"cronId"`
	ThreadID        string          `json:"threadId"`
	StatusMessageID string          `json:"statusMessageId,omitempty"`
	PromptMessageID string          `json:"promptMessageId,omitempty"`
	WebhookSourceID string          `json:"webhookSourceId,omitempty"`
	WebhookSecret   string          `json:"webhookSecret,omitempty"`
	RunCount        int             `json:"runCount"`
	LastRunAt       string          `json:"lastRunAt,omitempty"` // ISO-8601
	LastRunStatus   RunStatus       `json:"lastRunStatus,omitempty"`
	StartedAt       string          `json:"startedAt,omitempty"`
	LastErrorMsg    string          `json:"lastErrorMessage,omitempty"`
	Cadence         Cadence         `json:"cadence,omitempty"`
	PurposeTags     []string        `json:"purposeTags,omitempty"`
	Model           string          `json:"model,omitempty"`
	ModelOverride   string          `json:"modelOverride,omitempty"`
	TriggerType     TriggerType     `json:"triggerType,omitempty"`
	Silent          bool            `json:"silent,omitempty"`
	RoutingMode     RoutingMode     `json:"routingMode,omitempty"`
	Chain           []string        `json:"chain,omitempty"`
	State           json.RawMessage `json:"state,omitempty"`
	Schedule        string          `json:"schedule,omitempty"` // 5-field cron expression
	Timezone        string          `json:"timezone,omitempty"`
	Channel         string          `json:"channel,omitempty"`
	Prompt          string          `json:"prompt,omitempty"`
	AuthorID        string          `json:"authorId,omitempty"`

	// extra carries fields written by newer (or older) versions of the host
	// so round-tripping never drops them.
	extra map[string]json.RawMessage
}

// knownRecordKeys mirrors the JSON tags above. Anything else lands in extra.
var knownRecordKeys = map[string]struct{}{
	"cronId": {}, "threadId": {}, "statusMessageId": {}, "promptMessageId": {},
	"webhookSourceId": {}, "webhookSecret": {}, "runCount": {}, "lastRunAt": {},
	"lastRunStatus": {}, "startedAt": {}, "lastErrorMessage": {}, "cadence": {},
	"purposeTags": {}, "model": {}, "modelOverride": {}, "triggerType": {},
	"silent": {}, "routingMode": {}, "chain": {}, "state": {}, "schedule": {},
	"timezone": {}, "channel": {}, "prompt": {}, "authorId": {},
}

// recordAlias avoids recursing into the custom marshalers.
type recordAlias Record

// UnmarshalJSON decodes known fields and stashes unknown ones.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if _, known := knownRecordKeys[k]; known {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		alias.extra = raw
	}

	*r = Record(alias)
	return nil
}

// MarshalJSON re-emits known fields merged with any preserved unknown ones.
func (r Record) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(recordAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.extra {
		if _, known := knownRecordKeys[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Clone returns a deep copy safe for callers to mutate.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.PurposeTags = append([]string(nil), r.PurposeTags...)
	out.Chain = append([]string(nil), r.Chain...)
	out.State = append(json.RawMessage(nil), r.State...)
	if r.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(r.extra))
		for k, v := range r.extra {
			out.extra[k] = v
		}
	}
	return &out
}

// HasState reports whether the record carries a non-empty state object.
func (r *Record) HasState() bool {
	if len(r.State) == 0 {
		return false
	}
	s := string(r.State)
	return s != "null" && s != "{}"
}

// document is the on-disk shape.
type document struct {
	Version   int                        `json:"version"`
	UpdatedAt int64                      `json:"updatedAt"` // epoch ms
	Jobs      map[string]json.RawMessage `json:"jobs"`
}
