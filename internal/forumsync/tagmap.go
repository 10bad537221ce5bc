package forumsync

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forumclaw/forumclaw/internal/filewatch"
)

// TagMap is the operator-maintained `{tagName: tagId}` mapping used to pin
// forum tag IDs that the live tag listing may not cover (renamed tags,
// cross-guild mirrors). It reloads from its JSON file on change, typically
// triggering a resync.
type TagMap struct {
	path   string
	logger zerolog.Logger

	mu   sync.RWMutex
	tags map[string]string // lowercased name -> tag ID

	watcher *filewatch.Watcher
}

// NewTagMap loads the map from path. A missing file is not an error; lookups
// just miss.
func NewTagMap(path string, logger zerolog.Logger) *TagMap {
	tm := &TagMap{
		path:   path,
		logger: logger.With().Str("component", "tagmap").Logger(),
		tags:   map[string]string{},
	}
	if err := tm.reload(); err != nil && !os.IsNotExist(err) {
		tm.logger.Warn().Err(err).Str("path", path).Msg("Tag map load failed, starting empty")
	}
	return tm
}

// Watch reloads the map when the file changes and then calls onReload
// (typically a sync trigger).
func (tm *TagMap) Watch(debounce, poll time.Duration, onReload func()) error {
	tm.watcher = filewatch.New(tm.path, debounce, poll, func() {
		if err := tm.reload(); err != nil {
			tm.logger.Warn().Err(err).Msg("Tag map reload failed, keeping previous mapping")
			return
		}
		tm.logger.Info().Str("path", tm.path).Msg("Tag map reloaded")
		if onReload != nil {
			onReload()
		}
	}, tm.logger)
	return tm.watcher.Start()
}

// Close stops the watcher if one is running.
func (tm *TagMap) Close() {
	if tm.watcher != nil {
		tm.watcher.Stop()
	}
}

func (tm *TagMap) reload() error {
	data, err := os.ReadFile(tm.path)
	if err != nil {
		return err
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("forumsync: parsing tag map: %w", err)
	}

	tags := make(map[string]string, len(raw))
	for name, id := range raw {
		tags[strings.ToLower(name)] = id
	}

	tm.mu.Lock()
	tm.tags = tags
	tm.mu.Unlock()
	return nil
}

// TagID resolves a tag name case-insensitively.
func (tm *TagMap) TagID(name string) (string, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	id, ok := tm.tags[strings.ToLower(name)]
	return id, ok
}

// Len reports how many mappings are loaded.
func (tm *TagMap) Len() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return len(tm.tags)
}
