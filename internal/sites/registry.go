package sites

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"redeemworker/logger"

	"github.com/fsnotify/fsnotify"
)

// SourceType identifies which crawler variant handles a source.
type SourceType string

const (
	// TypeListing is a paginated, date-stamped article index.
	TypeListing SourceType = "listing"
	// TypeFeed is a rendered post feed without per-item timestamps.
	TypeFeed SourceType = "feed"
)

// MultiGame is the game id of sources that interleave several games.
const MultiGame = "_multi"

// Options carries per-source extras, currently only feed tag parsing.
type Options struct {
	ParseGameTags bool              `json:"parse_game_tags,omitempty"`
	GameTags      map[string]string `json:"game_tags,omitempty"`
}

// Source identifies one crawl target.
type Source struct {
	Game     string     `json:"game"`
	GameName string     `json:"game_name"`
	Type     SourceType `json:"site_type"`
	Name     string     `json:"site_name"`
	URL      string     `json:"url"`
	Enabled  bool       `json:"enabled"`
	Options  Options    `json:"options,omitempty"`
}

// IsMultiGame reports whether the source interleaves several games and
// needs tag-based attribution.
func (s Source) IsMultiGame() bool {
	return s.Game == MultiGame || s.Options.ParseGameTags
}

// GameTags returns the tag-to-game mapping for feed sources.
func (s Source) GameTags() map[string]string {
	return s.Options.GameTags
}

// DefaultKeywords gate extraction: an article without one of these in its
// title or body is recorded and skipped.
var DefaultKeywords = []string{
	"리딤", "쿠폰", "코드", "기프트", "보상",
	"redeem", "coupon", "code", "gift", "reward",
}

// Snapshot is an immutable view of the registry taken at crawl start.
// A crawl never observes configuration edits made after its snapshot.
type Snapshot struct {
	Version  int
	Sources  []Source
	Keywords []string
}

// EnabledSources returns the enabled sources in file order.
func (s Snapshot) EnabledSources() []Source {
	var out []Source
	for _, src := range s.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// SourcesByGame returns enabled sources for one game, plus multi-game
// sources whose tag map covers that game.
func (s Snapshot) SourcesByGame(game string) []Source {
	var out []Source
	for _, src := range s.Sources {
		if !src.Enabled {
			continue
		}
		if src.Game == game {
			out = append(out, src)
			continue
		}
		if src.IsMultiGame() {
			for _, g := range src.GameTags() {
				if g == game {
					out = append(out, src)
					break
				}
			}
		}
	}
	return out
}

// HasKeyword reports whether text contains any filter keyword,
// case-insensitively.
func (s Snapshot) HasKeyword(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range s.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

type sitesFile struct {
	Keywords []string `json:"keywords,omitempty"`
	Sites    []Source `json:"sites"`
}

// Registry loads and persists the site list from a JSON file and hands out
// versioned snapshots. File edits are picked up between crawls via fsnotify.
type Registry struct {
	path string
	log  *logger.Logger

	mu      sync.RWMutex
	version int
	data    sitesFile

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry loads the registry from path. A missing file is not an
// error: the registry starts empty with the default keywords.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path: path,
		log:  logger.For("sites"),
		done: make(chan struct{}),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.mu.Lock()
		r.data = sitesFile{Keywords: DefaultKeywords}
		r.version++
		r.mu.Unlock()
		r.log.Warn().Str("path", r.path).Msg("Sites file missing, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sites file: %w", err)
	}

	var parsed sitesFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse sites file: %w", err)
	}
	if len(parsed.Keywords) == 0 {
		parsed.Keywords = DefaultKeywords
	}

	r.mu.Lock()
	r.data = parsed
	r.version++
	version := r.version
	r.mu.Unlock()

	r.log.Info().
		Int("sources", len(parsed.Sites)).
		Int("version", version).
		Msg("Sites file loaded")
	return nil
}

// Snapshot returns an immutable copy of the current configuration.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Version:  r.version,
		Sources:  make([]Source, len(r.data.Sites)),
		Keywords: make([]string, len(r.data.Keywords)),
	}
	copy(snap.Sources, r.data.Sites)
	copy(snap.Keywords, r.data.Keywords)
	return snap
}

// Watch reloads the registry whenever the sites file changes on disk.
// Running crawls keep their snapshot; the next crawl sees the new version.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(r.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := r.load(); err != nil {
					r.log.Error().Err(err).Msg("Failed to reload sites file")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Error().Err(err).Msg("Sites watcher error")
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the file watcher.
func (r *Registry) Close() error {
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// ToggleSource flips the enabled flag of one source and persists the file.
// Returns the new state.
func (r *Registry) ToggleSource(game, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.data.Sites {
		if r.data.Sites[i].Game == game && r.data.Sites[i].Name == name {
			r.data.Sites[i].Enabled = !r.data.Sites[i].Enabled
			r.version++
			return r.data.Sites[i].Enabled, r.saveLocked()
		}
	}
	return false, fmt.Errorf("unknown source: [%s] %s", game, name)
}

// UpdateURL changes the crawl URL of one source and persists the file.
func (r *Registry) UpdateURL(game, name, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.data.Sites {
		if r.data.Sites[i].Game == game && r.data.Sites[i].Name == name {
			r.data.Sites[i].URL = url
			r.version++
			return r.saveLocked()
		}
	}
	return fmt.Errorf("unknown source: [%s] %s", game, name)
}

func (r *Registry) saveLocked() error {
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, raw, 0o644)
}
