// Package overrides reads the runtime-override file: a small JSON document
// operators edit to repoint model roles or voice settings without a restart.
package overrides

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/forumclaw/forumclaw/internal/filewatch"
)

// Overrides is the parsed override document. Zero value means "no
// overrides".
type Overrides struct {
	// Models maps a role (e.g. "default", "classifier", "summarizer") to a
	// model ID.
	Models       map[string]string
	TTSVoice     string
	VoiceRuntime string
}

// ModelFor returns the override for a role, "" when unset.
func (o Overrides) ModelFor(role string) string {
	return o.Models[role]
}

// Store holds the current overrides and hot-reloads them on file change.
type Store struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	current Overrides

	watcher *filewatch.Watcher
}

// NewStore loads the file immediately. A missing file yields empty
// overrides without a warning; anything else malformed warns and yields
// empty overrides.
func NewStore(path string, logger zerolog.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger.With().Str("component", "overrides").Logger(),
	}
	s.reload()
	return s
}

// Current returns a copy of the active overrides.
func (s *Store) Current() Overrides {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.current
	if out.Models != nil {
		models := make(map[string]string, len(out.Models))
		for k, v := range out.Models {
			models[k] = v
		}
		out.Models = models
	}
	return out
}

// Watch hot-reloads the file and calls onChange with the new overrides.
func (s *Store) Watch(debounce, poll time.Duration, onChange func(Overrides)) error {
	s.watcher = filewatch.New(s.path, debounce, poll, func() {
		s.reload()
		if onChange != nil {
			onChange(s.Current())
		}
	}, s.logger)
	return s.watcher.Start()
}

// Close stops the watcher if one is running.
func (s *Store) Close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
}

func (s *Store) reload() {
	parsed := s.parseFile()
	s.mu.Lock()
	s.current = parsed
	s.mu.Unlock()
}

func (s *Store) parseFile() Overrides {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Override file unreadable, using empty overrides")
		}
		return Overrides{}
	}
	return Parse(data, func(field string) {
		s.logger.Warn().Str("path", s.path).Str("field", field).Msg("Override entry dropped")
	})
}

// Parse decodes an override document. Unknown top-level fields and
// wrong-typed entries are dropped, reported through warn; malformed JSON
// yields empty overrides.
func Parse(data []byte, warn func(field string)) Overrides {
	if warn == nil {
		warn = func(string) {}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		warn("document")
		return Overrides{}
	}

	var out Overrides
	for field, value := range raw {
		switch field {
		case "models":
			var models map[string]json.RawMessage
			if err := json.Unmarshal(value, &models); err != nil {
				warn("models")
				continue
			}
			for role, entry := range models {
				var model string
				if err := json.Unmarshal(entry, &model); err != nil || model == "" {
					warn("models." + role)
					continue
				}
				if out.Models == nil {
					out.Models = map[string]string{}
				}
				out.Models[role] = model
			}
		case "ttsVoice":
			if err := json.Unmarshal(value, &out.TTSVoice); err != nil {
				warn("ttsVoice")
			}
		case "voiceRuntime":
			if err := json.Unmarshal(value, &out.VoiceRuntime); err != nil {
				warn("voiceRuntime")
			}
		default:
			warn(field)
		}
	}
	return out
}
