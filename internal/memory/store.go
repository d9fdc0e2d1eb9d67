// Package memory maintains a bounded, time-decayed record of prior
// posts, image prompts, and replied-to authors, persisted as a single
// JSON snapshot. It answers the questions the posting and discovery
// loops ask before acting: "have we said this before", "is this topic
// still cooling", and "have we replied to this author recently".
//
// Durability is best-effort: the in-memory snapshot is authoritative for
// the life of the process. A missing or unreadable file at startup means
// empty memory, and write failures are logged and otherwise swallowed.
package memory

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/permaboost370/x-posting-bot/internal/fingerprint"
)

// Author history is pruned on a shorter horizon than posts: replies only
// need enough history to enforce cooldowns, not long-term dedupe.
const (
	authorRetention = 7 * 24 * time.Hour
	maxAuthors      = 2000
	pruneInterval   = 30 * time.Minute
)

// PostRecord is one accepted post. Immutable once created.
type PostRecord struct {
	Hash   string   `json:"hash"`
	Text   string   `json:"text"` // normalized form
	TS     int64    `json:"ts"`   // unix milliseconds
	Topics []string `json:"topics"`
}

// ImageRecord is one accepted image prompt.
type ImageRecord struct {
	Hash   string `json:"hash"`
	Prompt string `json:"prompt"` // normalized form
	TS     int64  `json:"ts"`
}

// AuthorRecord marks one reply sent to an author.
type AuthorRecord struct {
	ID string `json:"id"`
	TS int64  `json:"ts"`
}

// snapshot is the persisted unit. Fields absent in an older file decode
// to their zero values, which the loader treats as empty.
type snapshot struct {
	Posts      []PostRecord   `json:"posts"`
	Images     []ImageRecord  `json:"images"`
	Authors    []AuthorRecord `json:"authors"`
	LastPruned int64          `json:"lastPruned,omitempty"`
}

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	File                 string
	MaxPosts             int
	TTLDays              int
	SimilarityThreshold  float64
	TopicCooldownMinutes int
	Enabled              bool

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Store is the in-process memory with synchronous JSON persistence.
// Safe for concurrent use by the posting and discovery loops.
type Store struct {
	file      string
	maxPosts  int
	ttl       time.Duration
	simThresh float64
	cooldown  time.Duration
	enabled   bool
	now       func() time.Time
	logger    *slog.Logger

	mu   sync.Mutex
	data snapshot
}

// NewStore creates a memory store, loading any existing snapshot and
// pruning stale entries. Load failures fall back to empty state.
func NewStore(opts Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxPosts <= 0 {
		opts.MaxPosts = 500
	}
	if opts.TTLDays <= 0 {
		opts.TTLDays = 14
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.5
	}
	if opts.SimilarityThreshold > 0.999 {
		opts.SimilarityThreshold = 0.999
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		file:      opts.File,
		maxPosts:  opts.MaxPosts,
		ttl:       time.Duration(opts.TTLDays) * 24 * time.Hour,
		simThresh: opts.SimilarityThreshold,
		cooldown:  time.Duration(opts.TopicCooldownMinutes) * time.Minute,
		enabled:   opts.Enabled,
		now:       opts.Now,
		logger:    logger.With("component", "memory"),
	}
	s.load()
	s.mu.Lock()
	s.pruneLocked(true)
	s.mu.Unlock()
	return s
}

// load reads the snapshot file. Absence of the file is not an error.
func (s *Store) load() {
	if !s.enabled || s.file == "" {
		return
	}
	raw, err := os.ReadFile(s.file)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("memory load failed, starting empty", "file", s.file, "error", err)
		}
		return
	}
	var data snapshot
	if err := json.Unmarshal(raw, &data); err != nil {
		s.logger.Warn("memory file corrupt, starting empty", "file", s.file, "error", err)
		return
	}
	s.data = data
	s.logger.Debug("memory loaded",
		"posts", len(data.Posts),
		"images", len(data.Images),
		"authors", len(data.Authors),
	)
}

// saveLocked rewrites the full snapshot via a temp file and rename, so
// a crash mid-write never leaves a truncated snapshot behind. Callers
// hold s.mu. Failures are logged and swallowed; in-memory state stays
// authoritative.
func (s *Store) saveLocked() {
	if !s.enabled || s.file == "" {
		return
	}
	raw, err := json.Marshal(s.data)
	if err != nil {
		s.logger.Warn("memory marshal failed", "error", err)
		return
	}
	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		s.logger.Warn("memory save failed", "file", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, s.file); err != nil {
		s.logger.Warn("memory save failed", "file", s.file, "error", err)
	}
}

// pruneLocked drops entries older than the TTL and truncates each
// sequence to its bound, keeping the most recent entries. Unless forced,
// prunes at most once per pruneInterval. Callers hold s.mu.
func (s *Store) pruneLocked(force bool) {
	t := s.now()
	ms := t.UnixMilli()
	if !force && s.data.LastPruned != 0 && ms-s.data.LastPruned < pruneInterval.Milliseconds() {
		return
	}

	postCutoff := ms - s.ttl.Milliseconds()
	s.data.Posts = tail(filterPosts(s.data.Posts, postCutoff), s.maxPosts)
	s.data.Images = tail(filterImages(s.data.Images, postCutoff), s.maxPosts)

	authorCutoff := ms - authorRetention.Milliseconds()
	s.data.Authors = tail(filterAuthors(s.data.Authors, authorCutoff), maxAuthors)

	s.data.LastPruned = ms
	s.saveLocked()
}

// Prune removes expired and overflow entries. With force false it is a
// no-op unless enough time has passed since the last prune.
func (s *Store) Prune(force bool) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(force)
}

// IsDuplicateText reports whether text exactly matches a recorded post
// (by content hash) or is near-duplicate by token Jaccard similarity at
// or above the configured threshold.
func (s *Store) IsDuplicateText(text string) bool {
	if !s.enabled {
		return false
	}
	n := fingerprint.Normalize(text)
	h := fingerprint.Hash(n)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.data.Posts {
		if p.Hash == h {
			return true
		}
	}

	a := fingerprint.TokenSet(n)
	for _, p := range s.data.Posts {
		if fingerprint.Jaccard(a, fingerprint.TokenSet(p.Text)) >= s.simThresh {
			return true
		}
	}
	return false
}

// IsTopicCooling reports whether text shares any topic with a post made
// within the topic cooldown window. Always false when the cooldown is
// disabled (zero).
func (s *Store) IsTopicCooling(text string) bool {
	if !s.enabled || s.cooldown <= 0 {
		return false
	}
	topics := make(map[string]struct{})
	for _, topic := range fingerprint.Topics(text) {
		topics[topic] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UnixMilli() - s.cooldown.Milliseconds()
	for _, p := range s.data.Posts {
		if p.TS < cutoff {
			continue
		}
		for _, topic := range p.Topics {
			if _, hot := topics[topic]; hot {
				return true
			}
		}
	}
	return false
}

// RecordPost stores an accepted post, prunes, and persists.
func (s *Store) RecordPost(text string) {
	if !s.enabled {
		return
	}
	n := fingerprint.Normalize(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Posts = append(s.data.Posts, PostRecord{
		Hash:   fingerprint.Hash(n),
		Text:   n,
		TS:     s.now().UnixMilli(),
		Topics: fingerprint.Topics(n),
	})
	s.pruneLocked(true)
	s.saveLocked()
}

// SeenImagePrompt reports whether prompt matches a recorded image prompt
// exactly or by similarity. Prompts are wordier than captions, so the
// threshold is loosened to max(0.4, textThreshold−0.1).
func (s *Store) SeenImagePrompt(prompt string) bool {
	if !s.enabled {
		return false
	}
	n := fingerprint.Normalize(prompt)
	h := fingerprint.Hash(n)

	thresh := s.simThresh - 0.1
	if thresh < 0.4 {
		thresh = 0.4
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, img := range s.data.Images {
		if img.Hash == h {
			return true
		}
	}

	a := fingerprint.TokenSet(n)
	for _, img := range s.data.Images {
		if fingerprint.Jaccard(a, fingerprint.TokenSet(img.Prompt)) >= thresh {
			return true
		}
	}
	return false
}

// RecordImagePrompt stores an accepted image prompt, prunes, and persists.
func (s *Store) RecordImagePrompt(prompt string) {
	if !s.enabled {
		return
	}
	n := fingerprint.Normalize(prompt)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Images = append(s.data.Images, ImageRecord{
		Hash:   fingerprint.Hash(n),
		Prompt: n,
		TS:     s.now().UnixMilli(),
	})
	s.pruneLocked(true)
	s.saveLocked()
}

// RecentlyRepliedTo reports whether a reply was sent to authorID within
// the given cooldown window.
func (s *Store) RecentlyRepliedTo(authorID string, cooldown time.Duration) bool {
	if !s.enabled || cooldown <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UnixMilli() - cooldown.Milliseconds()
	for _, a := range s.data.Authors {
		if a.ID == authorID && a.TS >= cutoff {
			return true
		}
	}
	return false
}

// RecordAuthorReplied marks authorID as replied-to now.
func (s *Store) RecordAuthorReplied(authorID string) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Authors = append(s.data.Authors, AuthorRecord{
		ID: authorID,
		TS: s.now().UnixMilli(),
	})
	s.pruneLocked(true)
	s.saveLocked()
}

// Stats summarizes the snapshot for the operator /memstats command.
type Stats struct {
	Posts      int
	Images     int
	Authors    int
	LastPruned time.Time
}

// Stats returns current entry counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Posts:      len(s.data.Posts),
		Images:     len(s.data.Images),
		Authors:    len(s.data.Authors),
		LastPruned: time.UnixMilli(s.data.LastPruned),
	}
}

func filterPosts(in []PostRecord, cutoff int64) []PostRecord {
	out := in[:0]
	for _, r := range in {
		if r.TS >= cutoff {
			out = append(out, r)
		}
	}
	return out
}

func filterImages(in []ImageRecord, cutoff int64) []ImageRecord {
	out := in[:0]
	for _, r := range in {
		if r.TS >= cutoff {
			out = append(out, r)
		}
	}
	return out
}

func filterAuthors(in []AuthorRecord, cutoff int64) []AuthorRecord {
	out := in[:0]
	for _, r := range in {
		if r.TS >= cutoff {
			out = append(out, r)
		}
	}
	return out
}

// tail keeps the most recent n entries of a chronologically ordered slice.
func tail[T any](in []T, n int) []T {
	if len(in) <= n {
		return in
	}
	return in[len(in)-n:]
}
