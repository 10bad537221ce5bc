// Package commands provides CLI subcommands for forumclaw.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/forumclaw/forumclaw/internal/actions"
	"github.com/forumclaw/forumclaw/internal/chunk"
	"github.com/forumclaw/forumclaw/internal/config"
	"github.com/forumclaw/forumclaw/internal/cron"
	"github.com/forumclaw/forumclaw/internal/filewatch"
	"github.com/forumclaw/forumclaw/internal/forumsync"
	"github.com/forumclaw/forumclaw/internal/infra"
	"github.com/forumclaw/forumclaw/internal/logging"
	"github.com/forumclaw/forumclaw/internal/overrides"
	"github.com/forumclaw/forumclaw/internal/platform"
	"github.com/forumclaw/forumclaw/internal/platform/discord"
	"github.com/forumclaw/forumclaw/internal/runtime"
	"github.com/forumclaw/forumclaw/internal/status"
	"github.com/forumclaw/forumclaw/internal/store"
	"github.com/forumclaw/forumclaw/pkg/utils"
)

// NewServeCommand creates the serve subcommand.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the automation host",
		Long: `Connects to Discord, registers every scheduled job from the record
store, and runs the forum sync engine until interrupted.`,
		Example: `  forumclaw serve
  forumclaw serve --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			return runServe(cmd, verbose)
		},
	}
	return cmd
}

// host bundles the wired components shared by serve and `cron run`.
type host struct {
	cfg       *config.Config
	logger    zerolog.Logger
	client    *discord.Client
	store     *store.Store
	framework *runtime.Framework
	executor  *cron.Executor
	scheduler *cron.Scheduler
	engine    *forumsync.Engine
	tagmap    *forumsync.TagMap
	overrides *overrides.Store
	collector *status.Collector
}

func loadHostConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			cmd.Printf("❌ No forumclaw config found at %s\n", config.ConfigPath())
			return nil, err
		}
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildHost wires every component. The caller owns shutdown via host.close.
func buildHost(cfg *config.Config, logger zerolog.Logger) (*host, error) {
	infra.Resolve()
	if err := infra.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating state directories: %w", err)
	}

	client, err := discord.Connect(cfg.Discord.Token, logger)
	if err != nil {
		return nil, err
	}

	st := store.New(config.StatsPath(), logger)
	st.Load()
	if swept := st.SweepInterrupted(); len(swept) > 0 {
		logger.Warn().Strs("cronIds", swept).Msg("Swept interrupted runs from previous host")
	}

	fw := runtime.NewFramework(logger)
	dispatcher := actions.NewDispatcher(logger)

	preamble := ""
	if cfg.Cron.SecurityPreamble != "" {
		if data, err := os.ReadFile(utils.ExpandPath(cfg.Cron.SecurityPreamble)); err == nil {
			preamble = string(data)
		} else {
			logger.Warn().Err(err).Msg("Security preamble unreadable, continuing without it")
		}
	}

	executor := cron.NewExecutor(cron.ExecutorConfig{
		GuildID:              cfg.Discord.GuildID,
		DefaultChannel:       cfg.Discord.DefaultChannel,
		AllowedChannels:      cfg.Discord.AllowedChannels,
		LockDir:              infra.Paths.LockDir,
		ContextFiles:         cfg.Cron.ContextFiles,
		SecurityPreamble:     preamble,
		DefaultModel:         cfg.Cron.DefaultModel,
		Tools:                cfg.Cron.Tools,
		Timeout:              cfg.Cron.Timeout(),
		StreamStallTimeout:   cfg.Cron.StreamStall(),
		ProgressStallTimeout: cfg.Cron.ProgressStall(),
		ActionsEnabled:       cfg.Cron.ActionsEnabled,
	}, st, fw, client, dispatcher, logger)

	scheduler := cron.NewScheduler(executor.Execute, logger)

	h := &host{
		cfg:       cfg,
		logger:    logger,
		client:    client,
		store:     st,
		framework: fw,
		executor:  executor,
		scheduler: scheduler,
	}

	registerActionHandlers(dispatcher, h)
	executor.StatusUpdate = h.refreshStatusMessage

	defaultTZ := config.Timezone(os.Stderr)
	for _, rec := range st.All() {
		if rec.Schedule == "" || rec.TriggerType == store.TriggerManual {
			continue
		}
		tz := utils.CoalesceString(rec.Timezone, defaultTZ.String())
		if err := scheduler.Register(cron.Job{
			CronID:   rec.CronID,
			Schedule: rec.Schedule,
			Timezone: tz,
		}); err != nil {
			logger.Warn().Err(err).Str("cronId", rec.CronID).Msg("Skipping job with invalid schedule")
		}
	}

	if cfg.Sync.Enabled && cfg.Discord.ForumChannelID != "" {
		var classifier forumsync.Classifier
		if c := forumsync.NewOpenAIClassifier(cfg.Sync.Classifier.APIKey, cfg.Sync.Classifier.Model, logger); c != nil {
			classifier = c
		}
		if cfg.Sync.TagMapPath != "" {
			h.tagmap = forumsync.NewTagMap(utils.ExpandPath(cfg.Sync.TagMapPath), logger)
		}
		h.engine = forumsync.New(forumsync.Config{
			GuildID:        cfg.Discord.GuildID,
			ForumChannelID: cfg.Discord.ForumChannelID,
			ThrottleMs:     cfg.Sync.ThrottleMs,
		}, st, client, classifier, h.tagmap, logger)
		h.engine.InFlight = func(threadID string) bool {
			rec := st.GetByThreadID(threadID)
			return rec != nil && executor.InFlight(rec.CronID)
		}
	}

	if cfg.Overrides.Path != "" {
		h.overrides = overrides.NewStore(utils.ExpandPath(cfg.Overrides.Path), logger)
		executor.SetDefaultModel(h.overrides.Current().ModelFor("cron"))
	}

	h.collector = status.NewCollector(logger)
	for _, p := range cfg.Status.Probes {
		h.collector.Probes = append(h.collector.Probes, status.Probe{
			Name:    p.Name,
			URL:     p.URL,
			Timeout: time.Duration(p.TimeoutMs) * time.Millisecond,
		})
	}
	h.collector.WatchFiles = cfg.Status.WatchFiles
	h.collector.CronLines = h.cronLines
	h.collector.DurableItems = func() int { return len(st.All()) }

	return h, nil
}

func (h *host) close() {
	h.scheduler.Stop()
	h.executor.RunControl().CancelAll()
	runtime.GlobalTracker().KillAll(h.logger)
	if h.tagmap != nil {
		h.tagmap.Close()
	}
	if h.overrides != nil {
		h.overrides.Close()
	}
	if err := h.client.Close(); err != nil {
		h.logger.Warn().Err(err).Msg("Discord close failed")
	}
}

func (h *host) cronLines() []status.CronLine {
	var lines []status.CronLine
	for _, rec := range h.store.All() {
		lines = append(lines, status.CronLine{
			CronID:  rec.CronID,
			Name:    utils.CoalesceString(rec.Channel, rec.CronID),
			NextRun: h.scheduler.NextRun(rec.CronID),
			Status:  string(rec.LastRunStatus),
		})
	}
	return lines
}

// refreshStatusMessage re-renders a job's pinned status after a run.
func (h *host) refreshStatusMessage(ctx context.Context, cronID string) {
	rec := h.store.Get(cronID)
	if rec == nil || rec.ThreadID == "" || rec.StatusMessageID == "" {
		return
	}
	ref, err := h.client.ResolveChannel(ctx, h.cfg.Discord.GuildID, rec.ThreadID)
	if err != nil || ref == nil {
		return
	}
	if err := ref.EditMessage(ctx, rec.StatusMessageID, forumsync.ComposeStatus(rec)); err != nil {
		h.logger.Warn().Err(err).Str("cronId", cronID).Msg("Status message refresh failed")
	}
}

func runServe(cmd *cobra.Command, verbose bool) error {
	cfg, err := loadHostConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(verbose || cfg.Logging.Verbose)

	if err := os.MkdirAll(config.StateDir(), 0o755); err != nil {
		return err
	}
	hostLock := flock.New(filepath.Join(config.StateDir(), "forumclaw.lock"))
	locked, err := hostLock.TryLock()
	if err != nil {
		return fmt.Errorf("host lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another forumclaw instance owns %s", hostLock.Path())
	}
	defer func() { _ = hostLock.Unlock() }()

	h, err := buildHost(cfg, logger)
	if err != nil {
		return err
	}
	defer h.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.scheduler.Start()
	logger.Info().Int("jobs", len(h.scheduler.ListJobs())).Msg("Scheduler started")

	if h.overrides != nil {
		err := h.overrides.Watch(filewatch.DefaultDebounce, filewatch.DefaultPollInterval,
			func(o overrides.Overrides) {
				h.executor.SetDefaultModel(o.ModelFor("cron"))
			})
		if err != nil {
			logger.Warn().Err(err).Msg("Override watch unavailable")
		}
	}

	syncTrigger := make(chan struct{}, 1)
	requestSync := func() {
		select {
		case syncTrigger <- struct{}{}:
		default:
		}
	}

	if h.engine != nil {
		if h.tagmap != nil {
			if err := h.tagmap.Watch(filewatch.DefaultDebounce, filewatch.DefaultPollInterval, requestSync); err != nil {
				logger.Warn().Err(err).Msg("Tag map watch unavailable")
			}
		}
		go h.syncLoop(ctx, syncTrigger)
		requestSync()
	}

	removeHandler := h.client.OnMessage(func(m discord.IncomingMessage) {
		h.collector.MarkMessage(time.Now())
		if strings.TrimSpace(m.Content) == "!status" {
			h.handleStatusCommand(ctx, m.ChannelID)
		}
	})
	defer removeHandler()

	logger.Info().Str("guild", cfg.Discord.GuildID).Msg("forumclaw host running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info().Str("signal", s.String()).Msg("Shutting down")
	cancel()
	return nil
}

func (h *host) syncLoop(ctx context.Context, trigger <-chan struct{}) {
	interval := time.Duration(h.cfg.Sync.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-trigger:
		}
		report := h.engine.Sync(ctx)
		h.logger.Info().
			Int("examined", report.Examined).
			Int("tagEdits", report.TagEdits).
			Int("renames", report.Renames).
			Int("errors", report.Errors).
			Msg("Forum sync pass complete")
	}
}

func (h *host) handleStatusCommand(ctx context.Context, channelID string) {
	snap := h.collector.Collect(ctx)

	ref, err := h.client.ResolveChannel(ctx, h.cfg.Discord.GuildID, channelID)
	if err != nil || ref == nil {
		h.logger.Warn().Err(err).Str("channel", channelID).Msg("Status reply channel unavailable")
		return
	}
	if _, err := ref.Send(ctx, platform.Message{Content: status.Render(snap)}); err != nil {
		h.logger.Warn().Err(err).Msg("Status reply failed")
	}
}

// Action handler payloads. Unknown fields are ignored.

type sendMessagePayload struct {
	Channel string `json:"channel"`
	Content string `json:"content"`
}

type bulkDeletePayload struct {
	Channel string `json:"channel"`
	Count   int    `json:"count"`
}

type cronPayload struct {
	CronID   string `json:"cronId"`
	Schedule string `json:"schedule"`
	Prompt   string `json:"prompt"`
	Channel  string `json:"channel"`
	Model    string `json:"model"`
	Timezone string `json:"timezone"`
	Silent   *bool  `json:"silent"`
}

func registerActionHandlers(d *actions.Dispatcher, h *host) {
	d.Register("sendMessage", func(ctx context.Context, actx actions.Context, a actions.Action) (string, error) {
		var p sendMessagePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return "", fmt.Errorf("sendMessage payload: %w", err)
		}
		if strings.TrimSpace(p.Content) == "" {
			return "", fmt.Errorf("sendMessage: empty content")
		}
		if n := utf8.RuneCountInString(p.Content); n > chunk.MessageLimit {
			return "", fmt.Errorf("sendMessage: content is %d chars, limit %d", n, chunk.MessageLimit)
		}
		target := utils.CoalesceString(p.Channel, actx.ChannelID)
		ref, err := h.client.ResolveChannel(ctx, actx.GuildID, target)
		if err != nil || ref == nil {
			return "", fmt.Errorf("channel %q not available", target)
		}
		if _, err := ref.Send(ctx, platform.Message{Content: p.Content}); err != nil {
			return "", err
		}
		return fmt.Sprintf("sent to #%s", ref.Name()), nil
	})

	d.Register("bulkDelete", func(ctx context.Context, actx actions.Context, a actions.Action) (string, error) {
		var p bulkDeletePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return "", fmt.Errorf("bulkDelete payload: %w", err)
		}
		if p.Count < 2 || p.Count > 100 {
			return "", fmt.Errorf("bulkDelete: count must be between 2 and 100, got %d", p.Count)
		}
		target := utils.CoalesceString(p.Channel, actx.ChannelID)
		ref, err := h.client.ResolveChannel(ctx, actx.GuildID, target)
		if err != nil || ref == nil {
			return "", fmt.Errorf("channel %q not available", target)
		}
		bd, ok := ref.(platform.BulkDeleter)
		if !ok {
			return "", fmt.Errorf("channel %q does not support bulk delete", target)
		}
		n, err := bd.BulkDelete(ctx, p.Count)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("deleted %d messages in #%s", n, ref.Name()), nil
	})

	d.Register("createCron", func(ctx context.Context, actx actions.Context, a actions.Action) (string, error) {
		var p cronPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return "", fmt.Errorf("createCron payload: %w", err)
		}
		if p.Schedule != "" {
			if err := cron.ValidateSchedule(p.Schedule); err != nil {
				return "", fmt.Errorf("invalid schedule %q: %w", p.Schedule, err)
			}
		}
		id := utils.CoalesceString(p.CronID, utils.NewCronID())
		upd := &store.Update{}
		if p.Schedule != "" {
			upd.Schedule = &p.Schedule
		}
		if p.Prompt != "" {
			upd.Prompt = &p.Prompt
		}
		if p.Channel != "" {
			upd.Channel = &p.Channel
		}
		if p.Model != "" {
			upd.Model = &p.Model
		}
		if p.Timezone != "" {
			upd.Timezone = &p.Timezone
		}
		if p.Silent != nil {
			upd.Silent = p.Silent
		}
		if _, err := h.store.UpsertRecord(id, "", upd); err != nil {
			return "", err
		}
		if p.Schedule != "" {
			if err := h.scheduler.Register(cron.Job{CronID: id, Schedule: p.Schedule, Timezone: p.Timezone}); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("created cron %s", id), nil
	})

	d.Register("updateCron", func(ctx context.Context, actx actions.Context, a actions.Action) (string, error) {
		var p cronPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return "", fmt.Errorf("updateCron payload: %w", err)
		}
		rec := h.store.Get(p.CronID)
		if rec == nil {
			return "", fmt.Errorf("no cron %q", p.CronID)
		}
		upd := &store.Update{}
		if p.Schedule != "" {
			if err := cron.ValidateSchedule(p.Schedule); err != nil {
				return "", fmt.Errorf("invalid schedule %q: %w", p.Schedule, err)
			}
			upd.Schedule = &p.Schedule
		}
		if p.Prompt != "" {
			upd.Prompt = &p.Prompt
		}
		if p.Channel != "" {
			upd.Channel = &p.Channel
		}
		if p.Model != "" {
			upd.Model = &p.Model
		}
		if _, err := h.store.UpsertRecord(p.CronID, rec.ThreadID, upd); err != nil {
			return "", err
		}
		if p.Schedule != "" {
			if err := h.scheduler.Register(cron.Job{CronID: p.CronID, Schedule: p.Schedule, Timezone: rec.Timezone}); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("updated cron %s", p.CronID), nil
	})

	d.Register("deleteCron", func(ctx context.Context, actx actions.Context, a actions.Action) (string, error) {
		var p cronPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return "", fmt.Errorf("deleteCron payload: %w", err)
		}
		h.scheduler.Unregister(p.CronID)
		if err := h.store.RemoveRecord(p.CronID); err != nil {
			return "", err
		}
		return fmt.Sprintf("deleted cron %s", p.CronID), nil
	})

	d.Register("runCron", func(ctx context.Context, actx actions.Context, a actions.Action) (string, error) {
		var p cronPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return "", fmt.Errorf("runCron payload: %w", err)
		}
		if h.store.Get(p.CronID) == nil {
			return "", fmt.Errorf("no cron %q", p.CronID)
		}
		go h.executor.Execute(context.Background(), p.CronID)
		return fmt.Sprintf("triggered cron %s", p.CronID), nil
	})

	d.Register("cancelRun", func(ctx context.Context, actx actions.Context, a actions.Action) (string, error) {
		var p cronPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return "", fmt.Errorf("cancelRun payload: %w", err)
		}
		if !h.executor.RunControl().Cancel(p.CronID) {
			return fmt.Sprintf("no active run for %s", p.CronID), nil
		}
		return fmt.Sprintf("cancel requested for %s", p.CronID), nil
	})

	d.Register("queryCrons", func(ctx context.Context, actx actions.Context, a actions.Action) (string, error) {
		recs := h.store.All()
		if len(recs) == 0 {
			return "no cron jobs", nil
		}
		parts := make([]string, 0, len(recs))
		for _, rec := range recs {
			parts = append(parts, fmt.Sprintf("%s (%s)", rec.CronID, utils.CoalesceString(rec.Schedule, "manual")))
		}
		return fmt.Sprintf("%d jobs: %s", len(recs), strings.Join(parts, ", ")), nil
	})
}
