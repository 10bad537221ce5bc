package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSourceIDConflict is returned when an upsert would give a record a
// webhookSourceId already owned by a different record.
var ErrSourceIDConflict = errors.New("webhook source ID already in use")

// ErrThreadConflict is returned when an upsert would bind a record to a
// threadId already owned by a different record. The threadId→cronId index
// is injective.
var ErrThreadConflict = errors.New("thread already bound to another cron")

// ErrNotFound is returned by mutators addressing an unknown cron ID.
var ErrNotFound = errors.New("record not found")

// Store is a mutex-serialized map of cron run records. All mutations pass
// through a single writer path and flush atomically; readers hit in-memory
// secondary indexes only.
type Store struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	version int
	records map[string]*Record // cronId -> record

	byThread   map[string]string // threadId -> cronId
	byStatus   map[string]string // statusMessageId -> cronId
	bySourceID map[string]string // webhookSourceId -> cronId
}

// New creates a store bound to path. Call Load before use.
func New(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:       path,
		logger:     logger.With().Str("component", "store").Logger(),
		version:    CurrentVersion,
		records:    make(map[string]*Record),
		byThread:   make(map[string]string),
		byStatus:   make(map[string]string),
		bySourceID: make(map[string]string),
	}
}

// Load reads the file, runs migrations and rebuilds indexes. A missing or
// malformed file yields an empty store, never an error.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*Record)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to read store file, starting empty")
		}
		s.rebuildIndexesLocked()
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Malformed store file, starting empty")
		s.rebuildIndexesLocked()
		return
	}

	migrate(&doc)
	s.version = doc.Version

	for id, raw := range doc.Jobs {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.Warn().Err(err).Str("cronId", id).Msg("Skipping unreadable record")
			continue
		}
		if rec.CronID == "" {
			rec.CronID = id
		}
		s.records[rec.CronID] = &rec
	}
	s.rebuildIndexesLocked()

	s.logger.Info().Int("count", len(s.records)).Int("version", s.version).Msg("Loaded cron records")
}

// rebuildIndexesLocked recomputes all secondary indexes. Lock must be held.
func (s *Store) rebuildIndexesLocked() {
	s.byThread = make(map[string]string, len(s.records))
	s.byStatus = make(map[string]string)
	s.bySourceID = make(map[string]string)
	for id, rec := range s.records {
		if rec.ThreadID != "" {
			s.byThread[rec.ThreadID] = id
		}
		if rec.StatusMessageID != "" {
			s.byStatus[rec.StatusMessageID] = id
		}
		if rec.WebhookSourceID != "" {
			s.bySourceID[rec.WebhookSourceID] = id
		}
	}
}

// Get returns a copy of the record, or nil.
func (s *Store) Get(cronID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[cronID].Clone()
}

// GetByThreadID looks a record up through the thread index.
func (s *Store) GetByThreadID(threadID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byThread[threadID]; ok {
		return s.records[id].Clone()
	}
	return nil
}

// GetByStatusMessageID looks a record up through the status-message index.
func (s *Store) GetByStatusMessageID(messageID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byStatus[messageID]; ok {
		return s.records[id].Clone()
	}
	return nil
}

// GetBySourceID looks a record up through the webhook source index.
func (s *Store) GetBySourceID(sourceID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.bySourceID[sourceID]; ok {
		return s.records[id].Clone()
	}
	return nil
}

// All returns copies of every record.
func (s *Store) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Update carries optional field changes for UpsertRecord. Nil pointers leave
// the stored value untouched.
type Update struct {
	StatusMessageID *string
	PromptMessageID *string
	WebhookSourceID *string
	WebhookSecret   *string
	Cadence         *Cadence
	PurposeTags     *[]string
	Model           *string
	ModelOverride   *string
	TriggerType     *TriggerType
	Silent          *bool
	RoutingMode     *RoutingMode
	Chain           *[]string
	State           *json.RawMessage
	Schedule        *string
	Timezone        *string
	Channel         *string
	Prompt          *string
	AuthorID        *string
}

// UpsertRecord creates or updates the record for cronID. The webhookSourceId
// and threadId uniqueness checks run before any mutation so a conflict
// leaves no partial state behind.
func (s *Store) UpsertRecord(cronID, threadID string, upd *Update) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if upd != nil && upd.WebhookSourceID != nil && *upd.WebhookSourceID != "" {
		if owner, ok := s.bySourceID[*upd.WebhookSourceID]; ok && owner != cronID {
			return nil, fmt.Errorf("%w: %s owned by %s", ErrSourceIDConflict, *upd.WebhookSourceID, owner)
		}
	}
	if threadID != "" {
		if owner, ok := s.byThread[threadID]; ok && owner != cronID {
			return nil, fmt.Errorf("%w: %s owned by %s", ErrThreadConflict, threadID, owner)
		}
	}

	rec, ok := s.records[cronID]
	if !ok {
		rec = &Record{CronID: cronID}
		s.records[cronID] = rec
	}

	if rec.ThreadID != threadID {
		if rec.ThreadID != "" {
			delete(s.byThread, rec.ThreadID)
		}
		rec.ThreadID = threadID
		if threadID != "" {
			s.byThread[threadID] = cronID
		}
	}

	if upd != nil {
		s.applyUpdateLocked(rec, upd)
	}

	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// applyUpdateLocked merges upd into rec and keeps indexes consistent.
func (s *Store) applyUpdateLocked(rec *Record, upd *Update) {
	if upd.StatusMessageID != nil && *upd.StatusMessageID != rec.StatusMessageID {
		if rec.StatusMessageID != "" {
			delete(s.byStatus, rec.StatusMessageID)
		}
		rec.StatusMessageID = *upd.StatusMessageID
		if rec.StatusMessageID != "" {
			s.byStatus[rec.StatusMessageID] = rec.CronID
		}
	}
	if upd.WebhookSourceID != nil && *upd.WebhookSourceID != rec.WebhookSourceID {
		if rec.WebhookSourceID != "" {
			delete(s.bySourceID, rec.WebhookSourceID)
		}
		rec.WebhookSourceID = *upd.WebhookSourceID
		if rec.WebhookSourceID != "" {
			s.bySourceID[rec.WebhookSourceID] = rec.CronID
		}
	}
	if upd.PromptMessageID != nil {
		rec.PromptMessageID = *upd.PromptMessageID
	}
	if upd.WebhookSecret != nil {
		rec.WebhookSecret = *upd.WebhookSecret
	}
	if upd.Cadence != nil {
		rec.Cadence = *upd.Cadence
	}
	if upd.PurposeTags != nil {
		rec.PurposeTags = append([]string(nil), (*upd.PurposeTags)...)
	}
	if upd.Model != nil {
		rec.Model = *upd.Model
	}
	if upd.ModelOverride != nil {
		rec.ModelOverride = *upd.ModelOverride
	}
	if upd.TriggerType != nil {
		rec.TriggerType = *upd.TriggerType
	}
	if upd.Silent != nil {
		rec.Silent = *upd.Silent
	}
	if upd.RoutingMode != nil {
		rec.RoutingMode = *upd.RoutingMode
	}
	if upd.Chain != nil {
		rec.Chain = append([]string(nil), (*upd.Chain)...)
	}
	if upd.State != nil {
		rec.State = append(json.RawMessage(nil), (*upd.State)...)
	}
	if upd.Schedule != nil {
		rec.Schedule = *upd.Schedule
	}
	if upd.Timezone != nil {
		rec.Timezone = *upd.Timezone
	}
	if upd.Channel != nil {
		rec.Channel = *upd.Channel
	}
	if upd.Prompt != nil {
		rec.Prompt = *upd.Prompt
	}
	if upd.AuthorID != nil {
		rec.AuthorID = *upd.AuthorID
	}
}

// RecordRunStart marks a run as in progress.
func (s *Store) RecordRunStart(cronID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[cronID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cronID)
	}
	rec.LastRunStatus = RunStatusRunning
	rec.StartedAt = time.Now().UTC().Format(time.RFC3339)
	return s.flushLocked()
}

// RecordRun records a completed run outcome. message is only kept for error
// status and is truncated to MaxErrorMessageLen.
func (s *Store) RecordRun(cronID string, status RunStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[cronID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cronID)
	}
	rec.RunCount++
	rec.LastRunAt = time.Now().UTC().Format(time.RFC3339)
	rec.LastRunStatus = status
	rec.StartedAt = ""
	if status == RunStatusError && message != "" {
		if len(message) > MaxErrorMessageLen {
			message = message[:MaxErrorMessageLen]
		}
		rec.LastErrorMsg = message
	} else {
		rec.LastErrorMsg = ""
	}
	return s.flushLocked()
}

// SetState replaces the persisted opaque state for a record.
func (s *Store) SetState(cronID string, state json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[cronID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, cronID)
	}
	rec.State = append(json.RawMessage(nil), state...)
	return s.flushLocked()
}

// SweepInterrupted rewrites any "running" status left behind by a crashed
// host into "interrupted". Returns the affected cron IDs.
func (s *Store) SweepInterrupted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept []string
	for id, rec := range s.records {
		if rec.LastRunStatus == RunStatusRunning {
			rec.LastRunStatus = RunStatusInterrupted
			rec.StartedAt = ""
			swept = append(swept, id)
		}
	}
	if len(swept) > 0 {
		if err := s.flushLocked(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to flush after interrupted sweep")
		}
		s.logger.Info().Strs("cronIds", swept).Msg("Swept interrupted runs")
	}
	return swept
}

// RemoveRecord deletes a record and all its index entries.
func (s *Store) RemoveRecord(cronID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(cronID)
}

// RemoveByThreadID deletes the record owning threadID, if any.
func (s *Store) RemoveByThreadID(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byThread[threadID]
	if !ok {
		return nil
	}
	return s.removeLocked(id)
}

func (s *Store) removeLocked(cronID string) error {
	rec, ok := s.records[cronID]
	if !ok {
		return nil
	}
	if rec.ThreadID != "" {
		delete(s.byThread, rec.ThreadID)
	}
	if rec.StatusMessageID != "" {
		delete(s.byStatus, rec.StatusMessageID)
	}
	if rec.WebhookSourceID != "" {
		delete(s.bySourceID, rec.WebhookSourceID)
	}
	delete(s.records, cronID)
	return s.flushLocked()
}

// flushLocked writes the document to a pid-suffixed temp file and renames it
// over the target, so a crash mid-write can never corrupt the store.
func (s *Store) flushLocked() error {
	if s.path == "" {
		return nil
	}

	doc := document{
		Version:   s.version,
		UpdatedAt: time.Now().UnixMilli(),
		Jobs:      make(map[string]json.RawMessage, len(s.records)),
	}
	for id, rec := range s.records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", id, err)
		}
		doc.Jobs[id] = data
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", s.path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
