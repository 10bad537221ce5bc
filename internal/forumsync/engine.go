// Package forumsync reconciles the local cron record set with the live
// forum: thread tags, names, pinned status messages, prompt backfills,
// orphan detection, and task open/closed state. Every phase is throttled
// and failure-tolerant; a bad item is logged and counted, never fatal.
package forumsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/forumclaw/forumclaw/internal/platform"
	"github.com/forumclaw/forumclaw/internal/store"
	"github.com/forumclaw/forumclaw/pkg/utils"
)

// MaxAppliedTags is the platform ceiling on applied forum tags per thread.
const MaxAppliedTags = 5

// DefaultThrottleMs spaces write operations within a phase.
const DefaultThrottleMs = 250

// Config is the static wiring of the sync engine.
type Config struct {
	GuildID        string
	ForumChannelID string
	// ThrottleMs is the delay between forum writes; 0 takes the default.
	ThrottleMs int
}

// Report summarizes one sync pass.
type Report struct {
	Examined        int
	Classified      int
	TagEdits        int
	Renames         int
	StatusEdits     int
	PromptBackfills int
	Orphans         int
	TaskOps         int
	Deferred        int
	Errors          int
}

// Engine runs the phased reconciliation.
type Engine struct {
	cfg        Config
	store      *store.Store
	client     platform.Client
	classifier Classifier
	tagmap     *TagMap
	limiter    *rate.Limiter
	logger     zerolog.Logger

	// Tasks optionally feeds phase 5; nil skips task reconciliation.
	Tasks TaskSource

	// InFlight reports whether a reply is currently being generated on a
	// channel. Close operations against such channels are deferred to the
	// next pass.
	InFlight func(channelID string) bool

	mu sync.Mutex // one sync pass at a time
}

func New(cfg Config, st *store.Store, client platform.Client, classifier Classifier, tagmap *TagMap, logger zerolog.Logger) *Engine {
	throttle := cfg.ThrottleMs
	if throttle <= 0 {
		throttle = DefaultThrottleMs
	}
	return &Engine{
		cfg:        cfg,
		store:      st,
		client:     client,
		classifier: classifier,
		tagmap:     tagmap,
		limiter:    rate.NewLimiter(rate.Every(time.Duration(throttle)*time.Millisecond), 1),
		logger:     logger.With().Str("component", "forumsync").Logger(),
	}
}

// Sync runs all phases once. Concurrent calls serialize.
func (e *Engine) Sync(ctx context.Context) Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	var report Report
	log := e.logger

	forum, err := e.client.Forum(ctx, e.cfg.ForumChannelID)
	if err != nil || forum == nil {
		log.Error().Err(err).Str("channel", e.cfg.ForumChannelID).Msg("Forum channel unavailable, skipping sync")
		report.Errors++
		return report
	}
	threads, err := forum.Threads(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Thread listing failed, skipping sync")
		report.Errors++
		return report
	}
	availableTags, err := forum.AvailableTags(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Tag listing failed, tag phase degraded")
		availableTags = map[string]string{}
		report.Errors++
	}

	for _, rec := range e.store.All() {
		if rec.ThreadID == "" {
			continue
		}
		thread, ok := threads[rec.ThreadID]
		if !ok {
			log.Warn().Str("cronId", rec.CronID).Str("threadId", rec.ThreadID).Msg("Record thread missing from forum")
			report.Errors++
			continue
		}
		report.Examined++

		rec = e.phaseClassify(ctx, rec, &report)
		e.phaseTags(ctx, rec, thread, availableTags, &report)
		e.phaseName(ctx, rec, thread, &report)
		e.phaseStatus(ctx, rec, thread, &report)
		e.phasePromptBackfill(ctx, rec, thread, &report)
	}

	e.phaseOrphans(threads, &report)
	e.phaseTasks(ctx, threads, &report)

	log.Info().
		Int("examined", report.Examined).
		Int("tagEdits", report.TagEdits).
		Int("renames", report.Renames).
		Int("statusEdits", report.StatusEdits).
		Int("orphans", report.Orphans).
		Int("errors", report.Errors).
		Msg("Forum sync pass complete")
	return report
}

// phaseClassify backfills cadence, purpose tags, and model on records that
// lack them. Classifier absence degrades to cadence-only.
func (e *Engine) phaseClassify(ctx context.Context, rec *store.Record, report *Report) *store.Record {
	needsCadence := rec.Cadence == "" && rec.Schedule != ""
	needsClassification := len(rec.PurposeTags) == 0 || rec.Model == ""
	if !needsCadence && !needsClassification {
		return rec
	}

	upd := &store.Update{}
	if needsCadence {
		if cadence := DeriveCadence(rec.Schedule); cadence != "" {
			upd.Cadence = &cadence
		}
	}
	if needsClassification && e.classifier != nil {
		verdict, err := e.classifier.Classify(ctx, rec.CronID, rec.Prompt)
		if err != nil {
			e.logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Classification failed")
			report.Errors++
		} else {
			if len(rec.PurposeTags) == 0 && len(verdict.PurposeTags) > 0 {
				upd.PurposeTags = &verdict.PurposeTags
			}
			if rec.Model == "" && verdict.Model != "" {
				upd.Model = &verdict.Model
			}
		}
	}
	if upd.Cadence == nil && upd.PurposeTags == nil && upd.Model == nil {
		return rec
	}

	updated, err := e.store.UpsertRecord(rec.CronID, rec.ThreadID, upd)
	if err != nil {
		e.logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Classification upsert failed")
		report.Errors++
		return rec
	}
	report.Classified++
	return updated
}

// phaseTags applies the desired tag set, editing only when the applied set
// differs.
func (e *Engine) phaseTags(ctx context.Context, rec *store.Record, thread platform.Thread, availableTags map[string]string, report *Report) {
	desired := e.desiredTagIDs(rec, availableTags)
	if sameSet(desired, thread.AppliedTags()) {
		return
	}
	if err := e.throttled(ctx, func() error { return thread.EditAppliedTags(ctx, desired) }); err != nil {
		e.logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Tag edit failed")
		report.Errors++
		return
	}
	report.TagEdits++
}

// desiredTagIDs resolves purpose tags plus the cadence tag to tag IDs,
// preferring the operator tag map over the forum's live tag listing, capped
// at MaxAppliedTags.
func (e *Engine) desiredTagIDs(rec *store.Record, availableTags map[string]string) []string {
	names := make([]string, 0, len(rec.PurposeTags)+1)
	names = append(names, rec.PurposeTags...)
	if rec.Cadence != "" {
		names = append(names, string(rec.Cadence))
	}

	ids := make([]string, 0, MaxAppliedTags)
	for _, name := range names {
		id, ok := e.tagmap.TagID(name)
		if !ok {
			id, ok = availableTags[name]
		}
		if !ok || utils.Contains(ids, id) {
			continue
		}
		ids = append(ids, id)
		if len(ids) == MaxAppliedTags {
			break
		}
	}
	return ids
}

// phaseName renames the thread to its canonical cadence-prefixed form.
func (e *Engine) phaseName(ctx context.Context, rec *store.Record, thread platform.Thread, report *Report) {
	expected := BuildThreadName(thread.Name(), rec.Cadence)
	if expected == thread.Name() || expected == "" {
		return
	}
	if err := e.throttled(ctx, func() error { return thread.SetName(ctx, expected) }); err != nil {
		e.logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Thread rename failed")
		report.Errors++
		return
	}
	report.Renames++
}

// phaseStatus keeps the pinned status message current: edit in place, or
// send and pin a fresh one when the recorded message is gone.
func (e *Engine) phaseStatus(ctx context.Context, rec *store.Record, thread platform.Thread, report *Report) {
	status := ComposeStatus(rec)

	if rec.StatusMessageID != "" {
		if _, err := thread.FetchMessage(ctx, rec.StatusMessageID); err == nil {
			if err := e.throttled(ctx, func() error {
				return thread.EditMessage(ctx, rec.StatusMessageID, status)
			}); err != nil {
				e.logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Status edit failed")
				report.Errors++
			} else {
				report.StatusEdits++
			}
			return
		}
	}

	sent, err := e.sendPinned(ctx, thread, status)
	if err != nil {
		e.logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Status message creation failed")
		report.Errors++
		return
	}
	if _, err := e.store.UpsertRecord(rec.CronID, rec.ThreadID, &store.Update{StatusMessageID: &sent.ID}); err != nil {
		e.logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Status message ID persist failed")
		report.Errors++
		return
	}
	report.StatusEdits++
}

// phasePromptBackfill pins the job's prompt into the thread once.
func (e *Engine) phasePromptBackfill(ctx context.Context, rec *store.Record, thread platform.Thread, report *Report) {
	if rec.Prompt == "" || rec.PromptMessageID != "" {
		return
	}

	content := fmt.Sprintf("📋 **Prompt**\n```\n%s\n```", utils.Truncate(rec.Prompt, 1800))
	sent, err := e.sendPinned(ctx, thread, content)
	if err != nil {
		e.logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Prompt backfill failed")
		report.Errors++
		return
	}
	if _, err := e.store.UpsertRecord(rec.CronID, rec.ThreadID, &store.Update{PromptMessageID: &sent.ID}); err != nil {
		e.logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Prompt message ID persist failed")
		report.Errors++
		return
	}
	report.PromptBackfills++
}

// phaseOrphans logs forum threads with no registered job. Warning only; the
// sync never deletes.
func (e *Engine) phaseOrphans(threads map[string]platform.Thread, report *Report) {
	ids := make([]string, 0, len(threads))
	for id := range threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if e.store.GetByThreadID(id) != nil {
			continue
		}
		e.logger.Warn().Str("threadId", id).Str("name", threads[id].Name()).Msg("Orphan thread has no registered job")
		report.Orphans++
	}
}

// phaseTasks reconciles task open/closed state against thread archival.
func (e *Engine) phaseTasks(ctx context.Context, threads map[string]platform.Thread, report *Report) {
	if e.Tasks == nil {
		return
	}
	tasks, err := e.Tasks.Tasks(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Task listing failed, skipping task phase")
		report.Errors++
		return
	}

	states := make(map[string]ThreadState, len(threads))
	for id, thread := range threads {
		states[id] = ThreadState{Archived: thread.Archived()}
	}

	for _, op := range PlanTaskOps(tasks, states) {
		switch op.Kind {
		case OpWarnCollision:
			e.logger.Warn().Str("shortId", op.ShortID).Str("threadId", op.ThreadID).Msg("Task short-ID collision")
			report.TaskOps++
			continue
		case OpArchive:
			if e.InFlight != nil && e.InFlight(op.ThreadID) {
				e.logger.Debug().Str("threadId", op.ThreadID).Msg("Reply in flight, deferring archive")
				report.Deferred++
				continue
			}
		}

		thread, ok := threads[op.ThreadID]
		if !ok {
			continue
		}
		archived := op.Kind == OpArchive
		if err := e.throttled(ctx, func() error { return thread.SetArchived(ctx, archived) }); err != nil {
			e.logger.Warn().Err(err).Str("threadId", op.ThreadID).Msg("Task archive toggle failed")
			report.Errors++
			continue
		}
		report.TaskOps++
	}
}

func (e *Engine) sendPinned(ctx context.Context, thread platform.Thread, content string) (*platform.SentMessage, error) {
	var sent *platform.SentMessage
	err := e.throttled(ctx, func() error {
		var err error
		sent, err = thread.Send(ctx, platform.Message{Content: content})
		if err != nil {
			return err
		}
		return thread.PinMessage(ctx, sent.ID)
	})
	return sent, err
}

// throttled spaces forum writes by the configured limiter.
func (e *Engine) throttled(ctx context.Context, op func() error) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	return op()
}

// sameSet compares two ID slices order-insensitively.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}
