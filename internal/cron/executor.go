package cron

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/forumclaw/forumclaw/internal/actions"
	"github.com/forumclaw/forumclaw/internal/chunk"
	"github.com/forumclaw/forumclaw/internal/platform"
	"github.com/forumclaw/forumclaw/internal/runtime"
	"github.com/forumclaw/forumclaw/internal/store"
	"github.com/forumclaw/forumclaw/pkg/utils"
)

// silentSuppressionLimit is the collapsed-length ceiling under which a
// silent job's output is swallowed.
const silentSuppressionLimit = 80

// cronStateRe captures the model's updated persistent state block.
var cronStateRe = regexp.MustCompile(`(?s)<cron-state>\s*(.*?)\s*</cron-state>`)

// ExecutorConfig is the static wiring of the executor.
type ExecutorConfig struct {
	GuildID        string
	DefaultChannel string
	// AllowedChannels restricts routing targets; empty means all.
	AllowedChannels []string
	LockDir         string
	// ContextFiles are workspace documents prepended to every prompt.
	ContextFiles     []string
	SecurityPreamble string
	DefaultModel     string
	Tools            []string

	Timeout              time.Duration
	StreamStallTimeout   time.Duration
	ProgressStallTimeout time.Duration

	ActionsEnabled bool
	ActionFlags    actions.Flags
}

// StatusUpdateFunc refreshes a job's pinned status message after a run.
type StatusUpdateFunc func(ctx context.Context, cronID string)

// Executor runs one cron job end to end: lock, prompt, invoke, route, record.
type Executor struct {
	cfg        ExecutorConfig
	store      *store.Store
	framework  *runtime.Framework
	resolver   platform.Resolver
	dispatcher *actions.Dispatcher
	control    *RunControl
	metrics    *Metrics
	logger     zerolog.Logger

	// StatusUpdate is optional; failures inside it are warning-level only.
	StatusUpdate StatusUpdateFunc

	// StrategyFor resolves the runtime serving a model. Embedders may
	// override; defaults to runtime.StrategyForModel.
	StrategyFor func(model string) runtime.Strategy

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewExecutor(cfg ExecutorConfig, st *store.Store, fw *runtime.Framework,
	resolver platform.Resolver, dispatcher *actions.Dispatcher, logger zerolog.Logger) *Executor {
	if cfg.ActionFlags == nil {
		cfg.ActionFlags = actions.AllEnabled()
	}
	return &Executor{
		cfg:         cfg,
		store:       st,
		framework:   fw,
		resolver:    resolver,
		dispatcher:  dispatcher,
		control:     NewRunControl(),
		metrics:     &Metrics{},
		logger:      logger.With().Str("component", "cron-executor").Logger(),
		StrategyFor: runtime.StrategyForModel,
		inFlight:    make(map[string]bool),
	}
}

func (e *Executor) Metrics() *Metrics       { return e.metrics }
func (e *Executor) RunControl() *RunControl { return e.control }

// SetDefaultModel swaps the fallback model for records that name none.
// Called by the runtime-override watcher.
func (e *Executor) SetDefaultModel(model string) {
	if model == "" {
		return
	}
	e.mu.Lock()
	e.cfg.DefaultModel = model
	e.mu.Unlock()
}

func (e *Executor) defaultModel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.DefaultModel
}

// InFlight reports whether a run of cronID is currently executing in this
// process.
func (e *Executor) InFlight(cronID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight[cronID]
}

// Execute runs one job by ID. Safe to call concurrently; overlapping runs of
// the same job are skipped, not queued.
func (e *Executor) Execute(ctx context.Context, cronID string) {
	e.execute(ctx, cronID, 0)
}

func (e *Executor) execute(ctx context.Context, cronID string, depth int) {
	log := e.logger.With().Str("cronId", cronID).Logger()

	rec := e.store.Get(cronID)
	if rec == nil {
		log.Warn().Msg("Fired job has no store record")
		return
	}

	// Layer 1: in-process overlap guard.
	e.mu.Lock()
	if e.inFlight[cronID] {
		e.mu.Unlock()
		e.metrics.RecordSkipped()
		log.Warn().Msg("Run already in flight, skipping")
		return
	}
	e.inFlight[cronID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, cronID)
		e.mu.Unlock()
	}()

	// Layer 2: cross-process file lock. Contention is a quiet skip.
	lock, err := acquireRunLock(e.cfg.LockDir, cronID, log)
	if err != nil {
		log.Error().Err(err).Msg("Run lock acquisition failed")
		e.metrics.RecordError()
		return
	}
	if lock == nil {
		e.metrics.RecordSkipped()
		log.Warn().Msg("Run lock held elsewhere, skipping")
		return
	}
	defer lock.Release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.control.register(cronID, cancel)
	defer e.control.unregister(cronID)

	if err := e.store.RecordRunStart(cronID); err != nil {
		log.Error().Err(err).Msg("Failed to record run start")
	}

	status, errMsg := e.run(runCtx, rec, depth, log)
	if err := e.store.RecordRun(cronID, status, errMsg); err != nil {
		log.Error().Err(err).Msg("Failed to record run result")
	}
	if status == store.RunStatusSuccess {
		e.metrics.RecordSuccess()
	} else {
		e.metrics.RecordError()
	}

	if e.StatusUpdate != nil {
		e.StatusUpdate(runCtx, cronID)
	}
}

// run performs the locked portion and returns the outcome to persist.
func (e *Executor) run(ctx context.Context, rec *store.Record, depth int, log zerolog.Logger) (store.RunStatus, string) {
	channelName := utils.CoalesceString(rec.Channel, e.cfg.DefaultChannel)
	channel, err := e.resolveAllowed(ctx, channelName)
	if err != nil || channel == nil {
		msg := fmt.Sprintf("channel %q not available", channelName)
		log.Warn().Err(err).Str("channel", channelName).Msg("Channel resolution failed")
		return store.RunStatusError, msg
	}

	prompt := e.assemblePrompt(rec, channel)

	model := utils.CoalesceString(rec.ModelOverride, rec.Model, e.defaultModel())
	strat := e.StrategyFor(model)

	text, images, invokeErr := e.invoke(ctx, strat, model, rec, prompt)
	if invokeErr != "" {
		e.postError(ctx, channel, rec, invokeErr)
		return store.RunStatusError, invokeErr
	}

	text = e.extractState(rec.CronID, text, log)

	if strings.TrimSpace(text) == "" && len(images) == 0 {
		e.fireChain(ctx, rec, depth)
		return store.RunStatusSuccess, ""
	}

	var parseRes actions.ParseResult
	if e.cfg.ActionsEnabled && e.dispatcher != nil {
		parseRes = actions.Parse(text, e.cfg.ActionFlags)
		if len(parseRes.Actions) > 0 {
			results := e.dispatcher.Dispatch(ctx, actions.Context{
				GuildID:   e.cfg.GuildID,
				ChannelID: channel.ID(),
				UserID:    rec.AuthorID,
				Depth:     0,
			}, parseRes.Actions)
			text = strings.TrimSpace(parseRes.CleanText + "\n\n" + actions.DisplayLines(results))
		} else {
			text = parseRes.CleanText
		}
		if footer := actions.Footer(parseRes); footer != "" {
			text = strings.TrimSpace(text + "\n\n" + footer)
		}
	}

	collapsed := utils.CollapseWhitespace(text)
	if (collapsed == SentinelHeartbeat || collapsed == SentinelNoOutput) && len(images) == 0 {
		log.Debug().Msg("Sentinel output, posting nothing")
		e.fireChain(ctx, rec, depth)
		return store.RunStatusSuccess, ""
	}
	if rec.Silent && rec.RoutingMode != store.RoutingJSON && len(images) == 0 && utf8.RuneCountInString(collapsed) <= silentSuppressionLimit {
		log.Debug().Int("chars", utf8.RuneCountInString(collapsed)).Msg("Silent mode short response, posting nothing")
		e.fireChain(ctx, rec, depth)
		return store.RunStatusSuccess, ""
	}

	if rec.RoutingMode == store.RoutingJSON {
		e.routeJSON(ctx, channel, text, log)
	} else {
		if err := e.sendChunks(ctx, channel, text, images); err != nil {
			return store.RunStatusError, utils.Truncate(err.Error(), store.MaxErrorMessageLen)
		}
	}

	e.fireChain(ctx, rec, depth)
	return store.RunStatusSuccess, ""
}

// invoke consumes the runtime event stream, returning accumulated output or
// a user-safe error message.
func (e *Executor) invoke(ctx context.Context, strat runtime.Strategy, model string, rec *store.Record, prompt string) (string, []runtime.Image, string) {
	opts := runtime.InvokeOptions{
		Prompt:               prompt,
		Model:                model,
		Tools:                runtime.FilterTools(model, e.cfg.Tools),
		SessionKey:           rec.ThreadID,
		Timeout:              e.cfg.Timeout,
		StreamStallTimeout:   e.cfg.StreamStallTimeout,
		ProgressStallTimeout: e.cfg.ProgressStallTimeout,
	}

	var (
		deltas strings.Builder
		final  string
		images []runtime.Image
		errMsg string
	)
	for ev := range e.framework.InvokeTurn(ctx, strat, opts) {
		switch ev.Type {
		case runtime.EventTextDelta:
			deltas.WriteString(ev.Text)
		case runtime.EventTextFinal:
			final = ev.Text
		case runtime.EventImageData:
			if ev.Image != nil {
				images = append(images, *ev.Image)
			}
		case runtime.EventError:
			errMsg = ev.Message
		}
	}
	if errMsg != "" {
		return "", nil, errMsg
	}
	return utils.CoalesceString(final, strings.TrimSpace(deltas.String())), images, ""
}

// assemblePrompt layers the security preamble, workspace context files, and
// the cron body.
func (e *Executor) assemblePrompt(rec *store.Record, channel platform.ChannelRef) string {
	var b strings.Builder
	if e.cfg.SecurityPreamble != "" {
		b.WriteString(strings.TrimSpace(e.cfg.SecurityPreamble))
		b.WriteString("\n\n")
	}
	for _, path := range e.cfg.ContextFiles {
		data, err := os.ReadFile(utils.ExpandPath(path))
		if err != nil {
			continue
		}
		b.Write(data)
		b.WriteString("\n\n")
	}

	b.WriteString(BuildPromptBody(PromptInput{
		JobName:           utils.CoalesceString(rec.CronID, "cron job"),
		PromptTemplate:    rec.Prompt,
		Channel:           channel.Name(),
		ChannelID:         channel.ID(),
		Silent:            rec.Silent,
		JSONRouting:       rec.RoutingMode == store.RoutingJSON,
		AvailableChannels: e.cfg.AllowedChannels,
		State:             rec.State,
	}))
	return b.String()
}

// extractState persists any <cron-state> block and strips it from the text.
func (e *Executor) extractState(cronID, text string, log zerolog.Logger) string {
	match := cronStateRe.FindStringSubmatch(text)
	if match == nil {
		return text
	}
	payload := []byte(match[1])
	if !json.Valid(payload) {
		log.Warn().Msg("Model emitted malformed cron-state block, ignoring")
	} else if err := e.store.SetState(cronID, payload); err != nil {
		log.Warn().Err(err).Msg("Failed to persist cron state")
	}
	return strings.TrimSpace(cronStateRe.ReplaceAllString(text, ""))
}

// resolveAllowed resolves a channel and applies the allow-list.
func (e *Executor) resolveAllowed(ctx context.Context, nameOrID string) (platform.ChannelRef, error) {
	ref, err := e.resolver.ResolveChannel(ctx, e.cfg.GuildID, nameOrID)
	if err != nil || ref == nil {
		return nil, err
	}
	if len(e.cfg.AllowedChannels) == 0 {
		return ref, nil
	}
	for _, allowed := range e.cfg.AllowedChannels {
		name, id, _ := strings.Cut(allowed, ":")
		if strings.EqualFold(name, ref.Name()) || id == ref.ID() || name == ref.ID() {
			return ref, nil
		}
	}
	return nil, nil
}

// sendChunks splits text into platform-sized messages and attaches images
// (max 10) to the last chunk.
func (e *Executor) sendChunks(ctx context.Context, channel platform.ChannelRef, text string, images []runtime.Image) error {
	files := imageFiles(images)
	chunks := chunk.Split(text, chunk.MessageLimit)
	if len(chunks) == 0 && len(files) > 0 {
		chunks = []string{""}
	}

	for i, piece := range chunks {
		msg := platform.Message{Content: piece}
		if i == len(chunks)-1 {
			msg.Files = files
		}
		if _, err := channel.Send(ctx, msg); err != nil {
			return fmt.Errorf("sending chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

func imageFiles(images []runtime.Image) []platform.File {
	var files []platform.File
	for i, img := range images {
		if i >= chunk.MaxAttachmentsPerMessage {
			break
		}
		data, err := base64.StdEncoding.DecodeString(img.Base64)
		if err != nil {
			continue
		}
		ext := "png"
		if idx := strings.IndexByte(img.MediaType, '/'); idx >= 0 {
			ext = img.MediaType[idx+1:]
		}
		files = append(files, platform.File{
			Name:        fmt.Sprintf("image-%d.%s", i+1, ext),
			ContentType: img.MediaType,
			Data:        data,
		})
	}
	return files
}

// routeJSON dispatches fan-out entries. The raw output only falls back to
// the default channel when no entry could be delivered at all; a valid empty
// array posts nothing.
func (e *Executor) routeJSON(ctx context.Context, defaultChannel platform.ChannelRef, text string, log zerolog.Logger) {
	entries := chunk.ParseRouteEntries(text)
	if entries == nil {
		log.Warn().Msg("JSON routing output unparseable, falling back to default channel")
		e.fallbackPost(ctx, defaultChannel, text)
		return
	}
	if len(entries) == 0 {
		return
	}

	routed := 0
	for _, entry := range entries {
		target, err := e.resolveAllowed(ctx, entry.Channel)
		if err != nil || target == nil {
			log.Warn().Str("channel", entry.Channel).Msg("Route entry channel not available")
			continue
		}
		if err := e.sendChunks(ctx, target, entry.Content, nil); err != nil {
			log.Warn().Err(err).Str("channel", entry.Channel).Msg("Route entry send failed")
			continue
		}
		routed++
	}
	if routed == 0 {
		log.Warn().Int("entries", len(entries)).Msg("Every route entry failed, falling back to default channel")
		e.fallbackPost(ctx, defaultChannel, text)
	}
}

func (e *Executor) fallbackPost(ctx context.Context, channel platform.ChannelRef, text string) {
	if err := e.sendChunks(ctx, channel, text, nil); err != nil {
		e.logger.Warn().Err(err).Msg("Fallback post failed")
	}
}

// postError surfaces a run failure to the job's channel, best effort.
func (e *Executor) postError(ctx context.Context, channel platform.ChannelRef, rec *store.Record, msg string) {
	content := fmt.Sprintf("⚠️ Scheduled job `%s` failed: %s", rec.CronID, msg)
	if _, err := channel.Send(ctx, platform.Message{Content: utils.Truncate(content, chunk.MessageLimit)}); err != nil {
		e.logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Failed to post run error")
	}
}

// upstreamEnvelope is the document stored under the reserved __upstream key
// in a chained downstream record's state.
type upstreamEnvelope struct {
	FromCronID string          `json:"fromCronId"`
	State      json.RawMessage `json:"state"`
}

// fireChain triggers downstream jobs after a successful run. The upstream
// record's persisted state travels with the hand-off as
// `{fromCronId, state}` under __upstream. Depth 10 stops recursion.
func (e *Executor) fireChain(ctx context.Context, rec *store.Record, depth int) {
	if len(rec.Chain) == 0 {
		return
	}
	if depth+1 >= MaxChainDepth {
		e.logger.Warn().Str("cronId", rec.CronID).Int("depth", depth).Msg("Chain depth limit reached, not firing downstream")
		return
	}

	// Re-read the record: the run may have just persisted a fresh state.
	state := json.RawMessage(`{}`)
	if cur := e.store.Get(rec.CronID); cur != nil && len(cur.State) > 0 {
		state = cur.State
	}
	upstream, err := json.Marshal(upstreamEnvelope{FromCronID: rec.CronID, State: state})
	if err != nil {
		return
	}

	for _, downstreamID := range rec.Chain {
		down := e.store.Get(downstreamID)
		if down == nil {
			e.logger.Warn().Str("cronId", rec.CronID).Str("downstream", downstreamID).Msg("Chained job has no record")
			continue
		}
		e.forwardUpstreamState(down, upstream)
		e.execute(ctx, downstreamID, depth+1)
	}
}

// forwardUpstreamState merges the upstream payload into the downstream
// record's state under __upstream.
func (e *Executor) forwardUpstreamState(down *store.Record, upstream json.RawMessage) {
	merged := map[string]json.RawMessage{}
	if len(down.State) > 0 {
		_ = json.Unmarshal(down.State, &merged)
	}
	merged[UpstreamStateKey] = upstream
	data, err := json.Marshal(merged)
	if err != nil {
		return
	}
	if err := e.store.SetState(down.CronID, data); err != nil {
		e.logger.Warn().Err(err).Str("cronId", down.CronID).Msg("Failed to forward upstream state")
	}
}
