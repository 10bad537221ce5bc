// Package status builds the `!status` snapshot: host health, cron overview,
// live API probes, and workspace file checks, rendered as one fenced block.
package status

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/forumclaw/forumclaw/pkg/utils"
)

// DefaultProbeTimeout bounds each API probe independently.
const DefaultProbeTimeout = 5 * time.Second

// Probe is one live API check.
type Probe struct {
	Name    string
	URL     string
	Timeout time.Duration // 0 takes DefaultProbeTimeout
}

// ProbeResult is a probe's outcome.
type ProbeResult struct {
	Name    string
	OK      bool
	Latency time.Duration
	Detail  string
}

// CronLine is one job's row in the snapshot.
type CronLine struct {
	CronID  string
	Name    string
	NextRun time.Time
	Status  string
}

// Snapshot is everything `!status` reports.
type Snapshot struct {
	Uptime        time.Duration
	LastMessageAt time.Time
	Crons         []CronLine
	OpenTasks     int
	DurableItems  int
	SummaryChars  int
	Probes        []ProbeResult
	FileChecks    map[string]bool
}

// Collector gathers snapshots. The cron, task, and memory figures come in
// through injected suppliers so the collector carries no dependency on
// those packages.
type Collector struct {
	startedAt time.Time
	client    *resty.Client
	logger    zerolog.Logger

	Probes     []Probe
	WatchFiles []string

	CronLines    func() []CronLine
	OpenTasks    func() int
	DurableItems func() int
	SummaryChars func() int

	mu            sync.Mutex
	lastMessageAt time.Time
}

func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		startedAt: time.Now(),
		client:    resty.New(),
		logger:    logger.With().Str("component", "status").Logger(),
	}
}

// MarkMessage records chat activity for the last-message line.
func (c *Collector) MarkMessage(at time.Time) {
	c.mu.Lock()
	if at.After(c.lastMessageAt) {
		c.lastMessageAt = at
	}
	c.mu.Unlock()
}

// Collect assembles a snapshot. Probes run concurrently, each with its own
// timeout; a failed probe is reported, never fatal.
func (c *Collector) Collect(ctx context.Context) Snapshot {
	snap := Snapshot{
		Uptime:     time.Since(c.startedAt),
		FileChecks: map[string]bool{},
	}

	c.mu.Lock()
	snap.LastMessageAt = c.lastMessageAt
	c.mu.Unlock()

	if c.CronLines != nil {
		snap.Crons = c.CronLines()
		sort.Slice(snap.Crons, func(i, j int) bool { return snap.Crons[i].CronID < snap.Crons[j].CronID })
	}
	if c.OpenTasks != nil {
		snap.OpenTasks = c.OpenTasks()
	}
	if c.DurableItems != nil {
		snap.DurableItems = c.DurableItems()
	}
	if c.SummaryChars != nil {
		snap.SummaryChars = c.SummaryChars()
	}

	for _, path := range c.WatchFiles {
		snap.FileChecks[path] = utils.FileExists(utils.ExpandPath(path))
	}

	snap.Probes = c.runProbes(ctx)
	return snap
}

func (c *Collector) runProbes(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, len(c.Probes))
	var wg sync.WaitGroup
	for i, probe := range c.Probes {
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()
			results[i] = c.runProbe(ctx, probe)
		}(i, probe)
	}
	wg.Wait()
	return results
}

func (c *Collector) runProbe(ctx context.Context, probe Probe) ProbeResult {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.R().SetContext(probeCtx).Get(probe.URL)
	latency := time.Since(start)

	if err != nil {
		c.logger.Debug().Err(err).Str("probe", probe.Name).Msg("Status probe failed")
		return ProbeResult{Name: probe.Name, OK: false, Latency: latency, Detail: "unreachable"}
	}
	if resp.IsError() {
		return ProbeResult{Name: probe.Name, OK: false, Latency: latency, Detail: resp.Status()}
	}
	return ProbeResult{Name: probe.Name, OK: true, Latency: latency}
}

// Render formats a snapshot as the fenced plain-text block posted to chat.
func Render(snap Snapshot) string {
	var b strings.Builder
	b.WriteString("```\n")

	fmt.Fprintf(&b, "uptime          %s\n", humanDuration(snap.Uptime))
	if snap.LastMessageAt.IsZero() {
		b.WriteString("last message    never\n")
	} else {
		fmt.Fprintf(&b, "last message    %s ago\n", humanDuration(time.Since(snap.LastMessageAt)))
	}
	fmt.Fprintf(&b, "open tasks      %d\n", snap.OpenTasks)
	fmt.Fprintf(&b, "durable items   %d\n", snap.DurableItems)
	fmt.Fprintf(&b, "summary chars   %d\n", snap.SummaryChars)

	if len(snap.Crons) > 0 {
		b.WriteString("\ncron jobs:\n")
		for _, line := range snap.Crons {
			next := "not scheduled"
			if !line.NextRun.IsZero() {
				next = "in " + humanDuration(time.Until(line.NextRun))
			}
			fmt.Fprintf(&b, "  %-14s %-10s next %s\n", line.CronID, line.Status, next)
		}
	}

	if len(snap.Probes) > 0 {
		b.WriteString("\napi probes:\n")
		for _, probe := range snap.Probes {
			mark := "ok"
			if !probe.OK {
				mark = "FAIL"
				if probe.Detail != "" {
					mark += " (" + probe.Detail + ")"
				}
			}
			fmt.Fprintf(&b, "  %-14s %-6s %s\n", probe.Name, mark, probe.Latency.Round(time.Millisecond))
		}
	}

	if len(snap.FileChecks) > 0 {
		paths := make([]string, 0, len(snap.FileChecks))
		for path := range snap.FileChecks {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		b.WriteString("\nworkspace files:\n")
		for _, path := range paths {
			mark := "ok"
			if !snap.FileChecks[path] {
				mark = "MISSING"
			}
			fmt.Fprintf(&b, "  %-30s %s\n", path, mark)
		}
	}

	b.WriteString("```")
	return b.String()
}

// humanDuration renders "2d 3h", "3h 12m", "12m", or "45s".
func humanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 24*time.Hour:
		days := d / (24 * time.Hour)
		hours := (d % (24 * time.Hour)) / time.Hour
		return fmt.Sprintf("%dd %dh", days, hours)
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", d/time.Hour, (d%time.Hour)/time.Minute)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}
