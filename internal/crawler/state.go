package crawler

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// ErrNoCheckpoint is returned by Store.Load when nothing has been saved yet
var ErrNoCheckpoint = errors.New("crawler: no checkpoint")

// Bloom filter sizing. The filters only short-circuit negative lookups; the
// maps stay authoritative, so exceeding the estimate costs speed, not accuracy.
const (
	expectedMatches = 500000
	expectedPlayers = 1000000
	bloomFPRate     = 0.001
)

// Checkpoint is the persisted form of a CrawlState
type Checkpoint struct {
	SessionID      string      `json:"session_id"`
	SeenMatchIDs   []string    `json:"seen_match_ids"`
	SeenPlayerIDs  []string    `json:"seen_player_ids"`
	Frontier       []string    `json:"frontier"`
	TotalCollected int         `json:"total_collected"`
	SnapshotCounts map[int]int `json:"snapshot_counts"`
	LastUpdated    time.Time   `json:"last_updated"`
}

// Store persists checkpoints between runs
type Store interface {
	// Load returns ErrNoCheckpoint when the store is empty.
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Close() error
}

// CrawlState is the crawl's mutable bookkeeping. It is owned by the spider's
// orchestrator goroutine and is not safe for concurrent use.
type CrawlState struct {
	SessionID      string
	TotalCollected int
	SnapshotCounts map[int]int
	LastUpdated    time.Time

	seenMatches  map[string]struct{}
	seenPlayers  map[string]struct{}
	matchFilter  *bloom.BloomFilter
	playerFilter *bloom.BloomFilter

	frontier    []string
	maxFrontier int // 0 means unbounded
}

// NewCrawlState returns an empty state for a new session
func NewCrawlState(sessionID string, maxFrontier int) *CrawlState {
	return &CrawlState{
		SessionID:      sessionID,
		SnapshotCounts: make(map[int]int),
		seenMatches:    make(map[string]struct{}),
		seenPlayers:    make(map[string]struct{}),
		matchFilter:    bloom.NewWithEstimates(expectedMatches, bloomFPRate),
		playerFilter:   bloom.NewWithEstimates(expectedPlayers, bloomFPRate),
		frontier:       make([]string, 0, 1000),
		maxFrontier:    maxFrontier,
	}
}

// StateFromCheckpoint rebuilds the state saved in cp
func StateFromCheckpoint(cp *Checkpoint, maxFrontier int) *CrawlState {
	s := NewCrawlState(cp.SessionID, maxFrontier)
	s.TotalCollected = cp.TotalCollected
	s.LastUpdated = cp.LastUpdated
	for m, n := range cp.SnapshotCounts {
		s.SnapshotCounts[m] = n
	}
	for _, id := range cp.SeenMatchIDs {
		s.MarkMatchSeen(id)
	}
	for _, id := range cp.SeenPlayerIDs {
		s.markPlayerSeen(id)
	}
	// A saved frontier is restored as-is even if it exceeds a smaller bound.
	s.frontier = append(s.frontier, cp.Frontier...)
	return s
}

// HasSeenMatch reports whether the match was already processed or skipped
func (s *CrawlState) HasSeenMatch(id string) bool {
	if !s.matchFilter.TestString(id) {
		return false
	}
	_, ok := s.seenMatches[id]
	return ok
}

// MarkMatchSeen records id and reports whether it was new
func (s *CrawlState) MarkMatchSeen(id string) bool {
	if s.HasSeenMatch(id) {
		return false
	}
	s.seenMatches[id] = struct{}{}
	s.matchFilter.AddString(id)
	return true
}

// HasSeenPlayer reports whether the player was ever enqueued
func (s *CrawlState) HasSeenPlayer(puuid string) bool {
	if !s.playerFilter.TestString(puuid) {
		return false
	}
	_, ok := s.seenPlayers[puuid]
	return ok
}

func (s *CrawlState) markPlayerSeen(puuid string) {
	s.seenPlayers[puuid] = struct{}{}
	s.playerFilter.AddString(puuid)
}

// Enqueue adds a newly discovered player to the frontier. Players already seen
// are ignored; when the frontier is full the player is left unseen so a later
// match can discover them again.
func (s *CrawlState) Enqueue(puuid string) bool {
	if puuid == "" || s.HasSeenPlayer(puuid) {
		return false
	}
	if s.maxFrontier > 0 && len(s.frontier) >= s.maxFrontier {
		return false
	}
	s.markPlayerSeen(puuid)
	s.frontier = append(s.frontier, puuid)
	return true
}

// Seed enqueues a starting player regardless of the frontier bound
func (s *CrawlState) Seed(puuid string) bool {
	if puuid == "" || s.HasSeenPlayer(puuid) {
		return false
	}
	s.markPlayerSeen(puuid)
	s.frontier = append(s.frontier, puuid)
	return true
}

// Pop removes the oldest frontier entry
func (s *CrawlState) Pop() (string, bool) {
	if len(s.frontier) == 0 {
		return "", false
	}
	puuid := s.frontier[0]
	s.frontier[0] = ""
	s.frontier = s.frontier[1:]
	return puuid, true
}

// Requeue puts a popped player back at the head of the frontier
func (s *CrawlState) Requeue(puuid string) {
	s.frontier = append([]string{puuid}, s.frontier...)
}

// FrontierLen returns the number of queued players
func (s *CrawlState) FrontierLen() int { return len(s.frontier) }

// SeenMatchCount returns the number of distinct match ids seen
func (s *CrawlState) SeenMatchCount() int { return len(s.seenMatches) }

// SeenPlayerCount returns the number of distinct players seen
func (s *CrawlState) SeenPlayerCount() int { return len(s.seenPlayers) }

// RecordMatch counts an accepted match and the snapshot minutes it produced
func (s *CrawlState) RecordMatch(minutes []int) {
	s.TotalCollected++
	for _, m := range minutes {
		s.SnapshotCounts[m]++
	}
}

// Checkpoint captures the state for persistence. Id lists are sorted so
// identical states serialize identically.
func (s *CrawlState) Checkpoint(now time.Time) *Checkpoint {
	s.LastUpdated = now

	counts := make(map[int]int, len(s.SnapshotCounts))
	for m, n := range s.SnapshotCounts {
		counts[m] = n
	}
	return &Checkpoint{
		SessionID:      s.SessionID,
		SeenMatchIDs:   sortedKeys(s.seenMatches),
		SeenPlayerIDs:  sortedKeys(s.seenPlayers),
		Frontier:       append([]string(nil), s.frontier...),
		TotalCollected: s.TotalCollected,
		SnapshotCounts: counts,
		LastUpdated:    now,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
