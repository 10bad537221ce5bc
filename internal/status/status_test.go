package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectGathersSuppliersAndFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.md")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))
	missing := filepath.Join(dir, "missing.md")

	c := NewCollector(zerolog.Nop())
	c.WatchFiles = []string{present, missing}
	c.CronLines = func() []CronLine {
		return []CronLine{
			{CronID: "cron-b", Status: "success"},
			{CronID: "cron-a", Status: "error"},
		}
	}
	c.OpenTasks = func() int { return 3 }
	c.DurableItems = func() int { return 17 }
	c.SummaryChars = func() int { return 2048 }

	snap := c.Collect(context.Background())

	assert.Equal(t, 3, snap.OpenTasks)
	assert.Equal(t, 17, snap.DurableItems)
	assert.Equal(t, 2048, snap.SummaryChars)
	assert.True(t, snap.FileChecks[present])
	assert.False(t, snap.FileChecks[missing])
	// Cron lines come back sorted by ID.
	require.Len(t, snap.Crons, 2)
	assert.Equal(t, "cron-a", snap.Crons[0].CronID)
}

func TestProbesReportPerEndpoint(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	c := NewCollector(zerolog.Nop())
	c.Probes = []Probe{
		{Name: "healthy", URL: healthy.URL},
		{Name: "failing", URL: failing.URL},
		{Name: "dead", URL: "http://127.0.0.1:1", Timeout: 500 * time.Millisecond},
	}

	snap := c.Collect(context.Background())
	require.Len(t, snap.Probes, 3)

	byName := map[string]ProbeResult{}
	for _, p := range snap.Probes {
		byName[p.Name] = p
	}
	assert.True(t, byName["healthy"].OK)
	assert.False(t, byName["failing"].OK)
	assert.Contains(t, byName["failing"].Detail, "503")
	assert.False(t, byName["dead"].OK)
}

func TestProbeTimeoutBoundsSlowEndpoint(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer slow.Close()

	c := NewCollector(zerolog.Nop())
	c.Probes = []Probe{{Name: "slow", URL: slow.URL, Timeout: 100 * time.Millisecond}}

	start := time.Now()
	snap := c.Collect(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, snap.Probes, 1)
	assert.False(t, snap.Probes[0].OK)
}

func TestRenderFencedBlock(t *testing.T) {
	snap := Snapshot{
		Uptime:       26 * time.Hour,
		OpenTasks:    2,
		DurableItems: 5,
		SummaryChars: 900,
		Crons: []CronLine{
			{CronID: "cron-1", Status: "success", NextRun: time.Now().Add(30 * time.Minute)},
			{CronID: "cron-2", Status: "error"},
		},
		Probes: []ProbeResult{
			{Name: "anthropic", OK: true, Latency: 120 * time.Millisecond},
			{Name: "openai", OK: false, Detail: "503 Service Unavailable"},
		},
		FileChecks: map[string]bool{"MEMORY.md": true, "TAGMAP.json": false},
	}

	out := Render(snap)
	assert.True(t, strings.HasPrefix(out, "```\n"))
	assert.True(t, strings.HasSuffix(out, "```"))
	assert.Contains(t, out, "uptime          1d 2h")
	assert.Contains(t, out, "last message    never")
	assert.Contains(t, out, "cron-1")
	assert.Contains(t, out, "not scheduled")
	assert.Contains(t, out, "FAIL (503 Service Unavailable)")
	assert.Contains(t, out, "MISSING")
}

func TestMarkMessageKeepsLatest(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	later := time.Now()
	earlier := later.Add(-time.Hour)

	c.MarkMessage(later)
	c.MarkMessage(earlier)

	snap := c.Collect(context.Background())
	assert.Equal(t, later, snap.LastMessageAt)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "45s", humanDuration(45*time.Second))
	assert.Equal(t, "12m", humanDuration(12*time.Minute))
	assert.Equal(t, "3h 12m", humanDuration(3*time.Hour+12*time.Minute))
	assert.Equal(t, "2d 3h", humanDuration(51*time.Hour))
	assert.Equal(t, "0s", humanDuration(-time.Second))
}
