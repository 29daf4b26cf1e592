// Package crawler discovers ranked matches by walking the player graph and
// writes one dataset row per accepted match, checkpointing as it goes.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"winpredict/internal/riot"
	"winpredict/internal/snapshot"
	"winpredict/internal/storage"
)

const (
	DefaultMatchesPerPlayer = 20
	DefaultWorkers          = 4
	DefaultSaveInterval     = 10
	DefaultMaxFrontier      = 10000
	DefaultMinGameMinutes   = 15

	notifyTimeout = 10 * time.Second
)

// Skip reasons, used in stats and metrics
const (
	SkipNotFound        = "not_found"
	SkipFetchError      = "fetch_error"
	SkipMissingTimeline = "missing_timeline"
	SkipWrongQueue      = "wrong_queue"
	SkipBadRoster       = "bad_roster"
	SkipTooShort        = "too_short"
)

// Fetcher is the subset of the Riot client the spider uses
type Fetcher interface {
	GetAccountByRiotID(ctx context.Context, gameName, tagLine string) (*riot.AccountResponse, error)
	GetTopChallengerPUUID(ctx context.Context) (string, error)
	GetSoloQueueRank(ctx context.Context, puuid string) (tier, division string, hasRank bool, err error)
	GetMatchIDs(ctx context.Context, puuid string, start, count int) ([]string, error)
	GetMatch(ctx context.Context, matchID string) (*riot.MatchResponse, error)
	GetTimeline(ctx context.Context, matchID string) (*riot.TimelineResponse, error)
}

// Sink receives accepted matches
type Sink interface {
	WriteMatch(ctx context.Context, rec *storage.MatchRecord) error
	Flush() error
}

// Dataset is the primary sink. Its rows are the crawl's output, so its ids are
// reconciled into the seen set on startup.
type Dataset interface {
	Sink
	ExistingIDs() ([]string, error)
}

// Notifier is told when a crawl finishes or aborts
type Notifier interface {
	NotifyCrawl(ctx context.Context, s Summary) error
}

// Config holds configuration for the spider
type Config struct {
	// Seeds are Riot IDs ("Name#Tag") or raw PUUIDs. Empty means seed from
	// the top Challenger player.
	Seeds            []string
	MinTier          string // skip players below this tier; empty disables the check
	MatchesPerPlayer int
	Workers          int
	Target           int // stop once this many matches are collected; 0 runs until the frontier empties
	SaveInterval     int
	MaxFrontier      int
	MinGameMinutes   float64
	Minutes          []int
}

func (c *Config) setDefaults() {
	if c.MatchesPerPlayer <= 0 {
		c.MatchesPerPlayer = DefaultMatchesPerPlayer
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = DefaultSaveInterval
	}
	if c.MaxFrontier <= 0 {
		c.MaxFrontier = DefaultMaxFrontier
	}
	if c.MinGameMinutes <= 0 {
		c.MinGameMinutes = DefaultMinGameMinutes
	}
	if len(c.Minutes) == 0 {
		c.Minutes = snapshot.DefaultMinutes
	}
}

// Stats counts what happened during one run
type Stats struct {
	PlayersProcessed   int
	PlayersSkippedRank int
	MatchesWritten     int
	Skipped            map[string]int
}

// Summary describes a finished run
type Summary struct {
	SessionID        string
	Collected        int // this run
	TotalCollected   int // across all sessions
	SnapshotCounts   map[int]int
	PlayersProcessed int
	Skipped          map[string]int
	FrontierLen      int
	Elapsed          time.Duration
	Interrupted      bool
	Err              error
}

// Spider crawls matches breadth-first over the player graph.
//
// Fetching happens on worker goroutines; every mutation of the crawl state and
// every dataset write happens on the goroutine that called Run.
type Spider struct {
	client   Fetcher
	store    Store
	dataset  Dataset
	sinks    []Sink
	notifier Notifier
	cfg      Config
	log      *zap.SugaredLogger

	sm        *StateMachine
	state     *CrawlState
	stats     Stats
	sinceSave int
	startTime time.Time
	now       func() time.Time
}

// Option configures a Spider
type Option func(*Spider)

// WithSinks adds secondary sinks. Their failures are logged, never fatal.
func WithSinks(sinks ...Sink) Option {
	return func(s *Spider) { s.sinks = append(s.sinks, sinks...) }
}

// WithNotifier sets the completion notifier
func WithNotifier(n Notifier) Option {
	return func(s *Spider) { s.notifier = n }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Spider) { s.log = l.Sugar().Named("spider") }
}

// NewSpider creates a spider. The crawl state is loaded from store by Run.
func NewSpider(client Fetcher, store Store, dataset Dataset, cfg Config, opts ...Option) *Spider {
	cfg.setDefaults()
	s := &Spider{
		client:  client,
		store:   store,
		dataset: dataset,
		cfg:     cfg,
		log:     zap.NewNop().Sugar(),
		sm:      NewStateMachine(),
		stats:   Stats{Skipped: make(map[string]int)},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sm.OnTransition(func(from, to State) {
		s.log.Infow("state transition", "from", from, "to", to)
	})
	return s
}

// State returns the current crawl phase
func (s *Spider) State() State { return s.sm.Current() }

// Run crawls until the target is reached, the frontier empties, ctx is
// cancelled or a fatal provider error occurs. State is checkpointed before it
// returns in every case. Cancellation is a clean stop and returns nil.
func (s *Spider) Run(ctx context.Context) (Summary, error) {
	s.startTime = s.now()

	if err := s.loadState(ctx); err != nil {
		return Summary{Err: err}, err
	}
	if err := s.reconcile(); err != nil {
		return Summary{Err: err}, err
	}

	var runErr error
	if s.state.FrontierLen() > 0 {
		s.log.Infow("resuming with saved frontier", "frontier", s.state.FrontierLen())
		runErr = s.sm.TransitionTo(StateExpanding)
	} else if err := s.seed(ctx); err != nil {
		runErr = err
	} else {
		runErr = s.sm.TransitionTo(StateExpanding)
	}

	if runErr == nil && s.sm.Current() == StateExpanding {
		runErr = s.expand(ctx)
	}
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		runErr = nil
	}

	if err := s.sm.TransitionTo(StateDraining); err != nil {
		return Summary{Err: err}, err
	}
	if err := s.checkpoint(context.WithoutCancel(ctx)); err != nil {
		s.log.Errorw("final checkpoint failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	_ = s.sm.TransitionTo(StateDone)

	summary := s.summary(ctx, runErr)
	s.printSummary(summary)
	s.notify(ctx, summary)
	return summary, runErr
}

func (s *Spider) loadState(ctx context.Context) error {
	cp, err := s.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoCheckpoint):
		s.state = NewCrawlState(uuid.NewString(), s.cfg.MaxFrontier)
		s.log.Infow("starting new crawl session", "session", s.state.SessionID)
	case err != nil:
		return fmt.Errorf("load checkpoint: %w", err)
	default:
		s.state = StateFromCheckpoint(cp, s.cfg.MaxFrontier)
		s.log.Infow("resumed crawl session",
			"session", s.state.SessionID,
			"collected", s.state.TotalCollected,
			"seen_matches", s.state.SeenMatchCount(),
			"frontier", s.state.FrontierLen())
	}
	frontierSize.Set(float64(s.state.FrontierLen()))
	return nil
}

// reconcile marks dataset rows written after the last checkpoint as seen, so
// a crash between a flush and a save never produces duplicate rows.
func (s *Spider) reconcile() error {
	ids, err := s.dataset.ExistingIDs()
	if err != nil {
		return fmt.Errorf("read dataset ids: %w", err)
	}
	added := 0
	for _, id := range ids {
		if s.state.MarkMatchSeen(id) {
			added++
		}
	}
	if added > 0 {
		s.state.TotalCollected += added
		s.log.Warnw("dataset had rows missing from checkpoint", "rows", added)
	}
	return nil
}

func (s *Spider) seed(ctx context.Context) error {
	for _, seed := range s.cfg.Seeds {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		puuid := seed
		if name, tag, ok := strings.Cut(seed, "#"); ok {
			account, err := s.client.GetAccountByRiotID(ctx, name, tag)
			if err != nil {
				if riot.IsFatal(err) || ctx.Err() != nil {
					return fmt.Errorf("resolve seed %s: %w", seed, err)
				}
				s.log.Warnw("failed to resolve seed, skipping", "seed", seed, "error", err)
				continue
			}
			puuid = account.PUUID
		}
		if s.state.Seed(puuid) {
			s.log.Infow("seeded player", "seed", seed, "puuid", shortID(puuid))
		}
	}

	if s.state.FrontierLen() > 0 {
		return nil
	}
	return s.seedFromChallenger(ctx)
}

func (s *Spider) seedFromChallenger(ctx context.Context) error {
	s.log.Info("seeding from top Challenger player")
	puuid, err := s.client.GetTopChallengerPUUID(ctx)
	if err != nil {
		return fmt.Errorf("seed from challenger: %w", err)
	}
	s.state.Seed(puuid)
	s.log.Infow("seeded with Challenger player", "puuid", shortID(puuid))
	return nil
}

func (s *Spider) targetReached() bool {
	return s.cfg.Target > 0 && s.state.TotalCollected >= s.cfg.Target
}

func (s *Spider) expand(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.targetReached() {
			s.log.Infow("target reached", "target", s.cfg.Target)
			return nil
		}

		puuid, ok := s.state.Pop()
		if !ok {
			s.log.Info("frontier empty")
			return nil
		}
		frontierSize.Set(float64(s.state.FrontierLen()))

		if err := s.processPlayer(ctx, puuid); err != nil {
			// The player's remaining matches are re-listed on the next run.
			s.state.Requeue(puuid)
			return err
		}
	}
}

func (s *Spider) processPlayer(ctx context.Context, puuid string) error {
	tier, division := "", ""
	if s.cfg.MinTier != "" {
		var hasRank bool
		var err error
		tier, division, hasRank, err = s.client.GetSoloQueueRank(ctx, puuid)
		if err != nil {
			if riot.IsFatal(err) || ctx.Err() != nil {
				return fmt.Errorf("rank check: %w", err)
			}
			s.log.Warnw("failed to get rank, skipping player", "puuid", shortID(puuid), "error", err)
			s.stats.PlayersSkippedRank++
			return nil
		}
		if !hasRank || !riot.MeetsMinimumRank(tier, division, s.cfg.MinTier) {
			s.log.Debugw("player below minimum rank", "puuid", shortID(puuid), "tier", tier, "division", division)
			s.stats.PlayersSkippedRank++
			return nil
		}
	}

	ids, err := s.client.GetMatchIDs(ctx, puuid, 0, s.cfg.MatchesPerPlayer)
	if err != nil {
		if riot.IsFatal(err) || ctx.Err() != nil {
			return fmt.Errorf("match history: %w", err)
		}
		s.log.Warnw("failed to fetch match history", "puuid", shortID(puuid), "error", err)
		return nil
	}
	s.stats.PlayersProcessed++

	fresh := make([]string, 0, len(ids))
	listed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if listed[id] || s.state.HasSeenMatch(id) {
			continue
		}
		listed[id] = true
		fresh = append(fresh, id)
	}

	s.log.Infow("processing player",
		"n", s.stats.PlayersProcessed,
		"elapsed", formatDuration(s.now().Sub(s.startTime)),
		"puuid", shortID(puuid),
		"tier", tier,
		"division", division,
		"new_matches", len(fresh),
		"frontier", s.state.FrontierLen())

	for len(fresh) > 0 {
		if s.targetReached() {
			// A later run with a higher target picks up the rest.
			s.state.Requeue(puuid)
			return nil
		}
		n := min(s.cfg.Workers, len(fresh))
		if s.cfg.Target > 0 {
			n = min(n, s.cfg.Target-s.state.TotalCollected)
		}
		batch := fresh[:n]
		fresh = fresh[n:]

		for _, r := range s.fetchBatch(ctx, batch) {
			if err := s.accept(ctx, r); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

type fetchResult struct {
	matchID  string
	match    *riot.MatchResponse
	timeline *riot.TimelineResponse
	err      error
}

// fetchBatch fetches several matches in parallel. Results keep input order.
func (s *Spider) fetchBatch(ctx context.Context, ids []string) []fetchResult {
	results := make([]fetchResult, len(ids))

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = s.fetchPair(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// fetchPair fetches a match and its timeline concurrently
func (s *Spider) fetchPair(ctx context.Context, id string) fetchResult {
	start := time.Now()
	r := fetchResult{matchID: id}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.client.GetMatch(gctx, id)
		if err != nil {
			return fmt.Errorf("match: %w", err)
		}
		r.match = m
		return nil
	})
	g.Go(func() error {
		tl, err := s.client.GetTimeline(gctx, id)
		if err != nil {
			return fmt.Errorf("timeline: %w", err)
		}
		r.timeline = tl
		return nil
	})
	r.err = g.Wait()

	fetchDuration.Observe(time.Since(start).Seconds())
	return r
}

// accept validates and writes one fetched match. Only fatal errors are returned.
func (s *Spider) accept(ctx context.Context, r fetchResult) error {
	if r.err != nil {
		switch {
		case riot.IsFatal(r.err):
			return fmt.Errorf("fetch %s: %w", r.matchID, r.err)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(r.err, riot.ErrNotFound):
			s.skip(r.matchID, SkipNotFound, true)
		default:
			s.log.Warnw("failed to fetch match", "match", r.matchID, "error", r.err)
			s.skip(r.matchID, SkipFetchError, false)
		}
		return nil
	}

	if reason := validateMatch(r.match, r.timeline, s.cfg.MinGameMinutes); reason != "" {
		s.skip(r.matchID, reason, true)
		return nil
	}

	snaps := snapshot.ExtractAll(r.timeline, s.cfg.Minutes, r.match.Info.DurationMinutes())
	rec := &storage.MatchRecord{Match: r.match, Timeline: r.timeline, Snapshots: snaps}

	if err := s.dataset.WriteMatch(ctx, rec); err != nil {
		return fmt.Errorf("write dataset row %s: %w", r.matchID, err)
	}
	for _, sink := range s.sinks {
		if err := sink.WriteMatch(ctx, rec); err != nil {
			s.log.Warnw("secondary sink failed", "match", r.matchID, "error", err)
		}
	}

	minutes := make([]int, 0, len(snaps))
	for m := range snaps {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)

	s.state.MarkMatchSeen(r.matchID)
	s.state.RecordMatch(minutes)
	s.stats.MatchesWritten++
	matchesCollected.Inc()
	for _, m := range minutes {
		snapshotsExtracted.WithLabelValues(strconv.Itoa(m)).Inc()
	}

	for _, p := range r.match.Info.Participants {
		s.state.Enqueue(p.PUUID)
	}
	frontierSize.Set(float64(s.state.FrontierLen()))

	s.log.Debugw("match written", "match", r.matchID, "snapshots", minutes, "total", s.state.TotalCollected)

	s.sinceSave++
	if s.sinceSave >= s.cfg.SaveInterval {
		if err := s.checkpoint(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Spider) skip(matchID, reason string, markSeen bool) {
	if markSeen {
		s.state.MarkMatchSeen(matchID)
	}
	s.stats.Skipped[reason]++
	matchesSkipped.WithLabelValues(reason).Inc()
	s.log.Debugw("match skipped", "match", matchID, "reason", reason)
}

// validateMatch returns a skip reason, or "" if the match is usable
func validateMatch(m *riot.MatchResponse, tl *riot.TimelineResponse, minMinutes float64) string {
	if tl == nil || len(tl.Info.Frames) == 0 {
		return SkipMissingTimeline
	}
	if m.Info.QueueID != riot.RankedSoloQueue {
		return SkipWrongQueue
	}
	if len(m.Info.Participants) != 2*storage.TeamSize {
		return SkipBadRoster
	}
	rec := storage.MatchRecord{Match: m}
	if _, _, err := rec.Teams(); err != nil {
		return SkipBadRoster
	}
	if m.Info.DurationMinutes() < minMinutes {
		return SkipTooShort
	}
	return ""
}

// checkpoint flushes every sink and then persists the crawl state. The dataset
// is flushed first so the saved seen set never claims rows that are not on disk.
func (s *Spider) checkpoint(ctx context.Context) error {
	if err := s.dataset.Flush(); err != nil {
		return fmt.Errorf("flush dataset: %w", err)
	}
	for _, sink := range s.sinks {
		if err := sink.Flush(); err != nil {
			s.log.Warnw("failed to flush secondary sink", "error", err)
		}
	}

	cp := s.state.Checkpoint(s.now())
	if err := s.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.sinceSave = 0
	checkpointsSaved.Inc()
	s.log.Debugw("checkpoint saved", "collected", cp.TotalCollected, "frontier", len(cp.Frontier))
	return nil
}

func (s *Spider) summary(ctx context.Context, err error) Summary {
	counts := make(map[int]int, len(s.state.SnapshotCounts))
	for m, n := range s.state.SnapshotCounts {
		counts[m] = n
	}
	skipped := make(map[string]int, len(s.stats.Skipped))
	for r, n := range s.stats.Skipped {
		skipped[r] = n
	}
	return Summary{
		SessionID:        s.state.SessionID,
		Collected:        s.stats.MatchesWritten,
		TotalCollected:   s.state.TotalCollected,
		SnapshotCounts:   counts,
		PlayersProcessed: s.stats.PlayersProcessed,
		Skipped:          skipped,
		FrontierLen:      s.state.FrontierLen(),
		Elapsed:          s.now().Sub(s.startTime),
		Interrupted:      ctx.Err() != nil,
		Err:              err,
	}
}

func (s *Spider) notify(ctx context.Context, summary Summary) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyCrawl(nctx, summary); err != nil {
		s.log.Warnw("failed to send crawl notification", "error", err)
	}
}

func (s *Spider) printSummary(sum Summary) {
	fields := []any{
		"session", sum.SessionID,
		"elapsed", formatDuration(sum.Elapsed),
		"players", sum.PlayersProcessed,
		"players_below_rank", s.stats.PlayersSkippedRank,
		"written", sum.Collected,
		"total", sum.TotalCollected,
		"frontier", sum.FrontierLen,
	}
	for _, m := range s.cfg.Minutes {
		fields = append(fields, fmt.Sprintf("snapshots_t%d", m), sum.SnapshotCounts[m])
	}
	for reason, n := range sum.Skipped {
		fields = append(fields, "skipped_"+reason, n)
	}
	if sum.Collected > 0 && sum.Elapsed > 0 {
		fields = append(fields,
			"avg_per_match", formatDuration(sum.Elapsed/time.Duration(sum.Collected)),
			"matches_per_min", fmt.Sprintf("%.1f", float64(sum.Collected)/sum.Elapsed.Minutes()))
	}

	if sum.Err != nil {
		s.log.Errorw("crawl aborted", append(fields, "error", sum.Err)...)
		return
	}
	s.log.Infow("crawl complete", fields...)
}

func shortID(puuid string) string {
	return puuid[:min(16, len(puuid))]
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%02ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%02dm%02ds", hours, mins, secs)
}
