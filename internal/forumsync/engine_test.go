package forumsync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forumclaw/forumclaw/internal/platform"
	"github.com/forumclaw/forumclaw/internal/store"
)

type fakeThread struct {
	mu          sync.Mutex
	id          string
	name        string
	parentID    string
	archived    bool
	appliedTags []string
	messages    map[string]string
	pinned      []string
	nextMsgID   int

	renames  int
	tagEdits int
}

func newFakeThread(id, name string) *fakeThread {
	return &fakeThread{id: id, name: name, parentID: "forum-1", messages: map[string]string{}}
}

func (th *fakeThread) ID() string   { return th.id }
func (th *fakeThread) Name() string { th.mu.Lock(); defer th.mu.Unlock(); return th.name }

func (th *fakeThread) Send(_ context.Context, msg platform.Message) (*platform.SentMessage, error) {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.nextMsgID++
	id := fmt.Sprintf("msg-%d", th.nextMsgID)
	th.messages[id] = msg.Content
	return &platform.SentMessage{ID: id, ChannelID: th.id}, nil
}

func (th *fakeThread) EditMessage(_ context.Context, messageID, content string) error {
	th.mu.Lock()
	defer th.mu.Unlock()
	if _, ok := th.messages[messageID]; !ok {
		return errors.New("unknown message")
	}
	th.messages[messageID] = content
	return nil
}

func (th *fakeThread) PinMessage(_ context.Context, messageID string) error {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.pinned = append(th.pinned, messageID)
	return nil
}

func (th *fakeThread) ParentID() string { return th.parentID }
func (th *fakeThread) Archived() bool   { th.mu.Lock(); defer th.mu.Unlock(); return th.archived }

func (th *fakeThread) AppliedTags() []string {
	th.mu.Lock()
	defer th.mu.Unlock()
	return append([]string(nil), th.appliedTags...)
}

func (th *fakeThread) EditAppliedTags(_ context.Context, tagIDs []string) error {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.appliedTags = append([]string(nil), tagIDs...)
	th.tagEdits++
	return nil
}

func (th *fakeThread) SetName(_ context.Context, name string) error {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.name = name
	th.renames++
	return nil
}

func (th *fakeThread) SetArchived(_ context.Context, archived bool) error {
	th.mu.Lock()
	defer th.mu.Unlock()
	th.archived = archived
	return nil
}

func (th *fakeThread) FetchStarterMessage(context.Context) (*platform.SentMessage, error) {
	return nil, errors.New("no starter")
}

func (th *fakeThread) FetchPinned(context.Context) ([]platform.SentMessage, error) {
	th.mu.Lock()
	defer th.mu.Unlock()
	out := make([]platform.SentMessage, 0, len(th.pinned))
	for _, id := range th.pinned {
		out = append(out, platform.SentMessage{ID: id, ChannelID: th.id})
	}
	return out, nil
}

func (th *fakeThread) FetchMessage(_ context.Context, messageID string) (*platform.SentMessage, error) {
	th.mu.Lock()
	defer th.mu.Unlock()
	if _, ok := th.messages[messageID]; !ok {
		return nil, errors.New("unknown message")
	}
	return &platform.SentMessage{ID: messageID, ChannelID: th.id}, nil
}

type fakeForum struct {
	id      string
	threads map[string]platform.Thread
	tags    map[string]string
}

func (f *fakeForum) ID() string { return f.id }

func (f *fakeForum) Threads(context.Context) (map[string]platform.Thread, error) {
	return f.threads, nil
}

func (f *fakeForum) CreateThread(_ context.Context, name, content string, tagIDs []string) (platform.Thread, error) {
	th := newFakeThread(fmt.Sprintf("thread-%d", len(f.threads)+1), name)
	th.appliedTags = tagIDs
	f.threads[th.id] = th
	return th, nil
}

func (f *fakeForum) AvailableTags(context.Context) (map[string]string, error) {
	return f.tags, nil
}

type fakeClient struct {
	forum *fakeForum
}

func (c *fakeClient) ResolveChannel(context.Context, string, string) (platform.ChannelRef, error) {
	return nil, nil
}

func (c *fakeClient) Forum(context.Context, string) (platform.Forum, error) {
	return c.forum, nil
}

type fixedClassifier struct {
	verdict Classification
	calls   int
}

func (c *fixedClassifier) Classify(context.Context, string, string) (*Classification, error) {
	c.calls++
	v := c.verdict
	return &v, nil
}

func sp(s string) *string { return &s }

type syncFixture struct {
	engine *Engine
	store  *store.Store
	forum  *fakeForum
}

func newSyncFixture(t *testing.T, classifier Classifier) *syncFixture {
	t.Helper()
	dir := t.TempDir()

	st := store.New(filepath.Join(dir, "crons.json"), zerolog.Nop())
	st.Load()

	forum := &fakeForum{
		id:      "forum-1",
		threads: map[string]platform.Thread{},
		tags: map[string]string{
			"monitoring": "tag-mon",
			"digest":     "tag-dig",
			"daily":      "tag-daily",
			"weekly":     "tag-weekly",
		},
	}

	tagmap := NewTagMap(filepath.Join(dir, "tagmap.json"), zerolog.Nop())
	engine := New(Config{
		GuildID:        "guild-1",
		ForumChannelID: "forum-1",
		ThrottleMs:     1,
	}, st, &fakeClient{forum: forum}, classifier, tagmap, zerolog.Nop())

	return &syncFixture{engine: engine, store: st, forum: forum}
}

func (f *syncFixture) addJob(t *testing.T, cronID string, th *fakeThread, upd *store.Update) {
	t.Helper()
	f.forum.threads[th.id] = th
	_, err := f.store.UpsertRecord(cronID, th.id, upd)
	require.NoError(t, err)
}

func TestSyncAppliesTagsOnce(t *testing.T) {
	f := newSyncFixture(t, nil)
	th := newFakeThread("10", "🌅 My Job")
	tags := []string{"monitoring"}
	cadence := store.CadenceDaily
	f.addJob(t, "cron-1", th, &store.Update{
		PurposeTags: &tags,
		Cadence:     &cadence,
		Model:       sp("sonnet"),
	})

	report := f.engine.Sync(context.Background())
	assert.Equal(t, 1, report.TagEdits)
	assert.ElementsMatch(t, []string{"tag-mon", "tag-daily"}, th.AppliedTags())

	report = f.engine.Sync(context.Background())
	assert.Zero(t, report.TagEdits)
	assert.Equal(t, 1, th.tagEdits)
}

func TestSyncSkipsTagEditWhenOnlyOrderDiffers(t *testing.T) {
	f := newSyncFixture(t, nil)
	th := newFakeThread("10", "🌅 My Job")
	th.appliedTags = []string{"tag-daily", "tag-mon"}
	tags := []string{"monitoring"}
	cadence := store.CadenceDaily
	f.addJob(t, "cron-1", th, &store.Update{PurposeTags: &tags, Cadence: &cadence, Model: sp("sonnet")})

	report := f.engine.Sync(context.Background())
	assert.Zero(t, report.TagEdits)
	assert.Zero(t, th.tagEdits)
}

func TestSyncRenamesThreadToCanonicalForm(t *testing.T) {
	f := newSyncFixture(t, nil)
	th := newFakeThread("10", "My Job")
	cadence := store.CadenceDaily
	tags := []string{"monitoring"}
	f.addJob(t, "cron-1", th, &store.Update{Cadence: &cadence, PurposeTags: &tags, Model: sp("sonnet")})

	report := f.engine.Sync(context.Background())
	assert.Equal(t, 1, report.Renames)
	assert.Equal(t, "🌅 My Job", th.Name())

	report = f.engine.Sync(context.Background())
	assert.Zero(t, report.Renames)
	assert.Equal(t, 1, th.renames)
}

func TestSyncCreatesThenEditsStatusMessage(t *testing.T) {
	f := newSyncFixture(t, nil)
	th := newFakeThread("10", "🌅 My Job")
	cadence := store.CadenceDaily
	tags := []string{"monitoring"}
	f.addJob(t, "cron-1", th, &store.Update{Cadence: &cadence, PurposeTags: &tags, Model: sp("sonnet")})

	f.engine.Sync(context.Background())

	rec := f.store.Get("cron-1")
	require.NotEmpty(t, rec.StatusMessageID)
	assert.Contains(t, th.messages[rec.StatusMessageID], "Cron Job Status")
	assert.Contains(t, th.pinned, rec.StatusMessageID)

	// A later run mutates the record; the next pass edits in place.
	require.NoError(t, f.store.RecordRunStart("cron-1"))
	require.NoError(t, f.store.RecordRun("cron-1", store.RunStatusSuccess, ""))
	before := len(th.messages)
	f.engine.Sync(context.Background())

	assert.Len(t, th.messages, before)
	assert.Contains(t, th.messages[rec.StatusMessageID], "**Runs:** 1")
}

func TestSyncRecreatesDeletedStatusMessage(t *testing.T) {
	f := newSyncFixture(t, nil)
	th := newFakeThread("10", "🌅 My Job")
	cadence := store.CadenceDaily
	tags := []string{"monitoring"}
	f.addJob(t, "cron-1", th, &store.Update{Cadence: &cadence, PurposeTags: &tags, Model: sp("sonnet")})

	f.engine.Sync(context.Background())
	oldID := f.store.Get("cron-1").StatusMessageID
	require.NotEmpty(t, oldID)

	th.mu.Lock()
	delete(th.messages, oldID)
	th.mu.Unlock()

	f.engine.Sync(context.Background())
	newID := f.store.Get("cron-1").StatusMessageID
	assert.NotEqual(t, oldID, newID)
	assert.Contains(t, th.messages[newID], "Cron Job Status")
}

func TestSyncBackfillsPromptMessageOnce(t *testing.T) {
	f := newSyncFixture(t, nil)
	th := newFakeThread("10", "🌅 My Job")
	cadence := store.CadenceDaily
	tags := []string{"monitoring"}
	f.addJob(t, "cron-1", th, &store.Update{
		Cadence:     &cadence,
		PurposeTags: &tags,
		Model:       sp("sonnet"),
		Prompt:      sp("summarize the day"),
	})

	report := f.engine.Sync(context.Background())
	assert.Equal(t, 1, report.PromptBackfills)

	rec := f.store.Get("cron-1")
	require.NotEmpty(t, rec.PromptMessageID)
	assert.Contains(t, th.messages[rec.PromptMessageID], "summarize the day")
	assert.Contains(t, th.pinned, rec.PromptMessageID)

	report = f.engine.Sync(context.Background())
	assert.Zero(t, report.PromptBackfills)
}

func TestSyncClassifiesRecordsMissingMetadata(t *testing.T) {
	classifier := &fixedClassifier{verdict: Classification{
		PurposeTags: []string{"digest"},
		Model:       "haiku",
	}}
	f := newSyncFixture(t, classifier)
	th := newFakeThread("10", "My Job")
	f.addJob(t, "cron-1", th, &store.Update{
		Schedule: sp("0 9 * * 1"),
		Prompt:   sp("weekly roundup"),
	})

	report := f.engine.Sync(context.Background())
	assert.Equal(t, 1, report.Classified)
	assert.Equal(t, 1, classifier.calls)

	rec := f.store.Get("cron-1")
	assert.Equal(t, store.CadenceWeekly, rec.Cadence)
	assert.Equal(t, []string{"digest"}, rec.PurposeTags)
	assert.Equal(t, "haiku", rec.Model)
	assert.Equal(t, "📆 My Job", th.Name())

	f.engine.Sync(context.Background())
	assert.Equal(t, 1, classifier.calls)
}

func TestSyncWithoutClassifierStillDerivesCadence(t *testing.T) {
	f := newSyncFixture(t, nil)
	th := newFakeThread("10", "My Job")
	f.addJob(t, "cron-1", th, &store.Update{Schedule: sp("0 9 * * *"), Prompt: sp("p")})

	f.engine.Sync(context.Background())

	rec := f.store.Get("cron-1")
	assert.Equal(t, store.CadenceDaily, rec.Cadence)
	assert.Empty(t, rec.PurposeTags)
}

func TestSyncCountsOrphanThreads(t *testing.T) {
	f := newSyncFixture(t, nil)
	th := newFakeThread("10", "🌅 My Job")
	cadence := store.CadenceDaily
	tags := []string{"monitoring"}
	f.addJob(t, "cron-1", th, &store.Update{Cadence: &cadence, PurposeTags: &tags, Model: sp("sonnet")})
	f.forum.threads["99"] = newFakeThread("99", "stray thread")

	report := f.engine.Sync(context.Background())
	assert.Equal(t, 1, report.Orphans)
	// Orphans are warn-only; the stray thread is untouched.
	assert.Contains(t, f.forum.threads, "99")
}

type sliceTaskSource struct{ tasks []Task }

func (s *sliceTaskSource) Tasks(context.Context) ([]Task, error) { return s.tasks, nil }

func TestSyncArchivesClosedTasks(t *testing.T) {
	f := newSyncFixture(t, nil)
	taskThread := newFakeThread("50", "task thread")
	f.forum.threads["50"] = taskThread

	f.engine.Tasks = &sliceTaskSource{tasks: []Task{
		{ShortID: "T-1", ThreadID: "50", Closed: true},
	}}

	report := f.engine.Sync(context.Background())
	assert.Equal(t, 1, report.TaskOps)
	assert.True(t, taskThread.Archived())
}

func TestSyncDefersArchiveWhileReplyInFlight(t *testing.T) {
	f := newSyncFixture(t, nil)
	taskThread := newFakeThread("50", "task thread")
	f.forum.threads["50"] = taskThread

	f.engine.Tasks = &sliceTaskSource{tasks: []Task{
		{ShortID: "T-1", ThreadID: "50", Closed: true},
	}}
	f.engine.InFlight = func(channelID string) bool { return channelID == "50" }

	report := f.engine.Sync(context.Background())
	assert.Equal(t, 1, report.Deferred)
	assert.Zero(t, report.TaskOps)
	assert.False(t, taskThread.Archived())
}
