// Package corpus assigns prompt sentences to contributors and stores their recordings.
package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/voxcollect/internal/audio"
	"github.com/audiolibrelab/voxcollect/internal/config"
	"github.com/audiolibrelab/voxcollect/internal/session"
)

// NoMoreUtterances is the prompt text once every utterance is recorded or assigned
const NoMoreUtterances = "No more utterances available."

var (
	ErrUserRequired       = errors.New("user id required")
	ErrNoCurrentUtterance = errors.New("no current utterance")
	ErrInvalidAudio       = errors.New("invalid audio")
)

// Entry is one metadata.json record, keyed by "<utterance id>.wav"
type Entry struct {
	SentenceText string `json:"sentence_text"`
	EntityText   string `json:"entity_text"`
	EntityID     any    `json:"entity_id"`
	RecordingID  string `json:"recording_id"`
	Engine       string `json:"engine"`
	Accent       string `json:"accent"`
	User         string `json:"user"`
	RecordedAt   string `json:"recorded_at"`
	SampleRate   int    `json:"sample_rate,omitempty"`
}

// Stats summarises corpus progress
type Stats struct {
	Total    int            `json:"total"`
	Recorded int            `json:"recorded"`
	Active   int            `json:"active"`
	Users    map[string]int `json:"users"`
}

// Catalog is the server-side utterance store. It implements session.PromptProvider
// and session.UploadSink for in-process use.
type Catalog struct {
	cfg config.CorpusConfig

	mu         sync.Mutex
	utterances []Utterance
	byID       map[string]*Utterance
	metadata   map[string]Entry
	active     map[string]struct{}
	current    map[string]string // user -> utterance id
	counts     map[string]int

	pick func(n int) int
	now  func() time.Time
}

// Open prepares the catalog: it creates the recordings directory, rebuilds
// per-user counts from metadata and clears stale active assignments.
func Open(cfg config.CorpusConfig, utterances []Utterance) (*Catalog, error) {
	if err := os.MkdirAll(cfg.RecordingsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	c := &Catalog{
		cfg:        cfg,
		utterances: utterances,
		byID:       make(map[string]*Utterance, len(utterances)),
		metadata:   loadMetadata(cfg.MetadataFile),
		active:     make(map[string]struct{}),
		current:    make(map[string]string),
		counts:     make(map[string]int),
		pick:       rand.IntN,
		now:        time.Now,
	}
	for i := range utterances {
		c.byID[utterances[i].ID] = &utterances[i]
	}
	for _, entry := range c.metadata {
		if entry.User != "" {
			c.counts[entry.User]++
		}
	}

	// assignments do not survive a restart
	if _, err := os.Stat(cfg.ActiveFile); err == nil {
		if err := os.WriteFile(cfg.ActiveFile, nil, 0o644); err != nil {
			return nil, fmt.Errorf("failed to clear active utterances: %w", err)
		}
	}

	slog.Info("Corpus catalog opened",
		"utterances", len(utterances),
		"recorded", len(c.metadata),
		"users", len(c.counts))
	return c, nil
}

// Prompt returns the user's current sentence and completed count,
// assigning a sentence on first use.
func (c *Catalog) Prompt(user string) (string, int, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", 0, ErrUserRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current[user] == "" {
		if err := c.assignLocked(user, ""); err != nil {
			return "", 0, err
		}
	}
	return c.textLocked(user), c.counts[user], nil
}

// Skip releases the user's current sentence and assigns another
func (c *Catalog) Skip(user string) (string, int, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", 0, ErrUserRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	skipped := c.current[user]
	slog.Info("Skipping utterance", "user", user, "utterance", skipped)
	if err := c.releaseLocked(user); err != nil {
		return "", 0, err
	}
	if err := c.assignLocked(user, skipped); err != nil {
		return "", 0, err
	}
	return c.textLocked(user), c.counts[user], nil
}

// Save stores a recording for the user's current sentence and advances to the next one
func (c *Catalog) Save(user string, data []byte, sampleRate int, accent string) error {
	user = strings.TrimSpace(user)
	if user == "" {
		return ErrUserRequired
	}

	info, err := audio.Inspect(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	if sampleRate <= 0 {
		sampleRate = info.SampleRate
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.current[user]
	if id == "" {
		return ErrNoCurrentUtterance
	}
	u := c.byID[id]

	path := filepath.Join(c.cfg.RecordingsDir, fmt.Sprintf("%s_%s.wav", id, safeName(user)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}

	c.metadata[id+".wav"] = Entry{
		SentenceText: u.Text(),
		EntityText:   u.EntityText(),
		EntityID:     u.EntityID(),
		RecordingID:  id,
		Engine:       "human",
		Accent:       accent,
		User:         user,
		RecordedAt:   c.now().UTC().Format(time.RFC3339),
		SampleRate:   sampleRate,
	}
	if err := saveMetadata(c.cfg.MetadataFile, c.metadata); err != nil {
		return err
	}

	if err := c.releaseLocked(user); err != nil {
		return err
	}
	c.counts[user]++

	slog.Info("Saved recording",
		"user", user,
		"utterance", id,
		"path", path,
		"duration", info.Duration,
		"sample_rate", sampleRate)

	return c.assignLocked(user, "")
}

// Stats returns the current progress counters
func (c *Catalog) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	users := make(map[string]int, len(c.counts))
	for u, n := range c.counts {
		users[u] = n
	}
	return Stats{
		Total:    len(c.utterances),
		Recorded: len(c.metadata),
		Active:   len(c.active),
		Users:    users,
	}
}

// FetchPrompt implements session.PromptProvider
func (c *Catalog) FetchPrompt(ctx context.Context, skip bool, userID string) (session.Prompt, error) {
	fetch := c.Prompt
	if skip {
		fetch = c.Skip
	}
	text, count, err := fetch(userID)
	if err != nil {
		return session.Prompt{}, err
	}
	return session.Prompt{Text: text, CompletedCount: count}, nil
}

// Release returns the user's current utterance to the pool
func (c *Catalog) Release(user string) error {
	user = strings.TrimSpace(user)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releaseLocked(user)
}

// ReleasePrompt implements session.PromptReleaser
func (c *Catalog) ReleasePrompt(userID string) error {
	return c.Release(userID)
}

// Upload implements session.UploadSink
func (c *Catalog) Upload(ctx context.Context, data []byte, meta session.Metadata) error {
	return c.Save(meta.UserID, data, meta.SampleRate, meta.AccentTag)
}

func (c *Catalog) textLocked(user string) string {
	id := c.current[user]
	if id == "" {
		return NoMoreUtterances
	}
	return c.byID[id].Text()
}

// assignLocked picks a random utterance that is neither recorded nor assigned.
// avoid is only chosen when nothing else is left.
func (c *Catalog) assignLocked(user, avoid string) error {
	c.current[user] = ""

	var available []string
	avoidFree := false
	for i := range c.utterances {
		id := c.utterances[i].ID
		if _, recorded := c.metadata[id+".wav"]; recorded {
			continue
		}
		if _, active := c.active[id]; active {
			continue
		}
		if id == avoid {
			avoidFree = true
			continue
		}
		available = append(available, id)
	}
	if len(available) == 0 && avoidFree {
		available = append(available, avoid)
	}
	if len(available) == 0 {
		slog.Info("No utterances left to assign", "user", user)
		return nil
	}

	id := available[c.pick(len(available))]
	c.active[id] = struct{}{}
	c.current[user] = id

	f, err := os.OpenFile(c.cfg.ActiveFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to update active utterances: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, id); err != nil {
		return fmt.Errorf("failed to update active utterances: %w", err)
	}

	slog.Debug("Assigned utterance", "user", user, "utterance", id)
	return nil
}

func (c *Catalog) releaseLocked(user string) error {
	id := c.current[user]
	if id == "" {
		return nil
	}
	c.current[user] = ""
	delete(c.active, id)

	ids := make([]string, 0, len(c.active))
	for a := range c.active {
		ids = append(ids, a)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, a := range ids {
		b.WriteString(a)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(c.cfg.ActiveFile, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to update active utterances: %w", err)
	}
	return nil
}

// ReadStats computes stats from the files on disk without touching them
func ReadStats(cfg config.CorpusConfig, utterances []Utterance) (Stats, error) {
	metadata := loadMetadata(cfg.MetadataFile)
	stats := Stats{Total: len(utterances), Recorded: len(metadata), Users: make(map[string]int)}
	for _, entry := range metadata {
		if entry.User != "" {
			stats.Users[entry.User]++
		}
	}

	f, err := os.Open(cfg.ActiveFile)
	if errors.Is(err, os.ErrNotExist) {
		return stats, nil
	}
	if err != nil {
		return stats, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			stats.Active++
		}
	}
	return stats, scanner.Err()
}

// loadMetadata returns an empty map when the file is missing or unreadable
func loadMetadata(path string) map[string]Entry {
	metadata := make(map[string]Entry)

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read metadata, starting empty", "path", path, "error", err)
		}
		return metadata
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		slog.Warn("Failed to parse metadata, starting empty", "path", path, "error", err)
		return make(map[string]Entry)
	}
	return metadata
}

func saveMetadata(path string, metadata map[string]Entry) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// safeName keeps user ids from escaping the recordings directory
func safeName(user string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, strings.ReplaceAll(user, "..", "_"))
}
