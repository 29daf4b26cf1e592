package crawler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"testing"

	"go.uber.org/zap"

	"winpredict/internal/riot"
	"winpredict/internal/storage"
)

// fakeFetcher serves a fixed player graph
type fakeFetcher struct {
	mu         sync.Mutex
	history    map[string][]string
	matches    map[string]*riot.MatchResponse
	timelines  map[string]*riot.TimelineResponse
	matchErrs  map[string]error
	accounts   map[string]string
	ranks      map[string][2]string
	challenger string
	matchCalls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		history:    make(map[string][]string),
		matches:    make(map[string]*riot.MatchResponse),
		timelines:  make(map[string]*riot.TimelineResponse),
		matchErrs:  make(map[string]error),
		accounts:   make(map[string]string),
		ranks:      make(map[string][2]string),
		matchCalls: make(map[string]int),
	}
}

// addMatch registers a ranked match; players[0:5] are blue and win.
func (f *fakeFetcher) addMatch(id string, players []string, durationSec int) *riot.MatchResponse {
	parts := make([]riot.MatchParticipant, len(players))
	for i, p := range players {
		team := riot.TeamBlue
		if i >= 5 {
			team = riot.TeamRed
		}
		parts[i] = riot.MatchParticipant{
			ParticipantID: i + 1,
			TeamID:        team,
			PUUID:         p,
			ChampionName:  "Champ" + strconv.Itoa(i+1),
			Win:           team == riot.TeamBlue,
		}
	}
	m := &riot.MatchResponse{
		Metadata: riot.MatchMetadata{MatchID: id, Participants: players},
		Info: riot.MatchInfo{
			GameDuration: durationSec,
			QueueID:      riot.RankedSoloQueue,
			Participants: parts,
		},
	}

	frames := make([]riot.TimelineFrame, durationSec/60+1)
	for i := range frames {
		pf := make(map[string]riot.ParticipantFrame, 10)
		for pid := 1; pid <= 10; pid++ {
			pf[strconv.Itoa(pid)] = riot.ParticipantFrame{ParticipantID: pid, TotalGold: 500 + 400*i, XP: 300 * i, Level: 1 + i/2}
		}
		frames[i] = riot.TimelineFrame{Timestamp: int64(i) * 60000, ParticipantFrames: pf}
	}

	f.matches[id] = m
	f.timelines[id] = &riot.TimelineResponse{
		Metadata: riot.TimelineMetadata{MatchID: id},
		Info:     riot.TimelineInfo{FrameInterval: 60000, Frames: frames},
	}
	return m
}

func (f *fakeFetcher) GetAccountByRiotID(_ context.Context, name, tag string) (*riot.AccountResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	puuid, ok := f.accounts[name+"#"+tag]
	if !ok {
		return nil, &riot.StatusError{StatusCode: 404, URL: "account"}
	}
	return &riot.AccountResponse{PUUID: puuid, GameName: name, TagLine: tag}, nil
}

func (f *fakeFetcher) GetTopChallengerPUUID(context.Context) (string, error) {
	if f.challenger == "" {
		return "", errors.New("challenger league is empty")
	}
	return f.challenger, nil
}

func (f *fakeFetcher) GetSoloQueueRank(_ context.Context, puuid string) (string, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.ranks[puuid]
	return r[0], r[1], ok, nil
}

func (f *fakeFetcher) GetMatchIDs(_ context.Context, puuid string, start, count int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.history[puuid]
	if start >= len(ids) {
		return nil, nil
	}
	ids = ids[start:]
	if len(ids) > count {
		ids = ids[:count]
	}
	return append([]string(nil), ids...), nil
}

func (f *fakeFetcher) GetMatch(_ context.Context, id string) (*riot.MatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matchCalls[id]++
	if err := f.matchErrs[id]; err != nil {
		return nil, err
	}
	m, ok := f.matches[id]
	if !ok {
		return nil, &riot.StatusError{StatusCode: 404, URL: id}
	}
	return m, nil
}

func (f *fakeFetcher) GetTimeline(_ context.Context, id string) (*riot.TimelineResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tl, ok := f.timelines[id]
	if !ok {
		return nil, &riot.StatusError{StatusCode: 404, URL: id + "/timeline"}
	}
	return tl, nil
}

func (f *fakeFetcher) calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.matchCalls[id]
}

// memDataset keeps rows in memory; only flushed rows survive a "restart".
type memDataset struct {
	mu       sync.Mutex
	ids      []string
	flushed  int
	existing []string
}

func (d *memDataset) WriteMatch(_ context.Context, rec *storage.MatchRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, rec.ID())
	return nil
}

func (d *memDataset) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushed = len(d.ids)
	return nil
}

func (d *memDataset) ExistingIDs() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append(append([]string(nil), d.existing...), d.ids[:d.flushed]...), nil
}

func (d *memDataset) rows() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

type recordingNotifier struct {
	summaries []Summary
}

func (n *recordingNotifier) NotifyCrawl(_ context.Context, s Summary) error {
	n.summaries = append(n.summaries, s)
	return nil
}

func players(prefix string) []string {
	out := make([]string, 10)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func newTestStore(t *testing.T) *FileStore {
	return NewFileStore(filepath.Join(t.TempDir(), "checkpoint.json"))
}

func TestSpiderCrawlsToTarget(t *testing.T) {
	f := newFakeFetcher()
	f.addMatch("NA1_1", players("p"), 1830)
	f.addMatch("NA1_2", players("p"), 1200)
	f.addMatch("NA1_3", players("q"), 1830)
	f.history["p0"] = []string{"NA1_1", "NA1_2", "NA1_3"}

	store := newTestStore(t)
	ds := &memDataset{}
	notifier := &recordingNotifier{}
	sp := NewSpider(f, store, ds, Config{Seeds: []string{"p0"}, Target: 3, SaveInterval: 2},
		WithLogger(zap.NewNop()), WithNotifier(notifier))

	sum, err := sp.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sp.State() != StateDone {
		t.Errorf("state = %s, want DONE", sp.State())
	}
	if got := ds.rows(); !reflect.DeepEqual(got, []string{"NA1_1", "NA1_2", "NA1_3"}) {
		t.Errorf("rows = %v", got)
	}
	if sum.Collected != 3 || sum.TotalCollected != 3 {
		t.Errorf("collected = %d/%d, want 3/3", sum.Collected, sum.TotalCollected)
	}
	// NA1_2 lasted 20 minutes: t10, t15 and t20 all available.
	wantCounts := map[int]int{10: 3, 15: 3, 20: 3}
	if !reflect.DeepEqual(sum.SnapshotCounts, wantCounts) {
		t.Errorf("snapshot counts = %v, want %v", sum.SnapshotCounts, wantCounts)
	}
	// p1..p9 and q0..q9 discovered; p0 was the seed.
	if sum.FrontierLen != 19 {
		t.Errorf("frontier = %d, want 19", sum.FrontierLen)
	}

	cp, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cp.TotalCollected != 3 || len(cp.SeenMatchIDs) != 3 {
		t.Errorf("checkpoint total=%d seen=%v", cp.TotalCollected, cp.SeenMatchIDs)
	}
	if cp.SessionID == "" || cp.SessionID != sum.SessionID {
		t.Errorf("session id %q vs summary %q", cp.SessionID, sum.SessionID)
	}
	if len(notifier.summaries) != 1 || notifier.summaries[0].Err != nil {
		t.Errorf("notifier got %+v", notifier.summaries)
	}
}

func TestSpiderSkipPolicy(t *testing.T) {
	f := newFakeFetcher()
	f.addMatch("NA1_good", players("g"), 1830)
	f.addMatch("NA1_short", players("s"), 600)
	f.addMatch("NA1_flaky", players("f"), 1830)
	f.matchErrs["NA1_flaky"] = &riot.StatusError{StatusCode: 503, URL: "flaky"}
	aram := f.addMatch("NA1_aram", players("a"), 1830)
	aram.Info.QueueID = 450
	four := f.addMatch("NA1_4v5", players("x")[:9], 1830)
	four.Info.Participants = four.Info.Participants[:9]
	f.addMatch("NA1_notl", players("n"), 1830)
	delete(f.timelines, "NA1_notl")
	f.history["p0"] = []string{"NA1_missing", "NA1_flaky", "NA1_short", "NA1_aram", "NA1_4v5", "NA1_notl", "NA1_good"}

	store := newTestStore(t)
	ds := &memDataset{}
	sp := NewSpider(f, store, ds, Config{Seeds: []string{"p0"}, Workers: 3})

	sum, err := sp.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ds.rows(); !reflect.DeepEqual(got, []string{"NA1_good"}) {
		t.Errorf("rows = %v", got)
	}

	wantSkipped := map[string]int{
		SkipNotFound:   2, // NA1_missing, NA1_notl
		SkipFetchError: 1,
		SkipTooShort:   1,
		SkipWrongQueue: 1,
		SkipBadRoster:  1,
	}
	if !reflect.DeepEqual(sum.Skipped, wantSkipped) {
		t.Errorf("skipped = %v, want %v", sum.Skipped, wantSkipped)
	}

	cp, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, id := range cp.SeenMatchIDs {
		seen[id] = true
	}
	for _, id := range []string{"NA1_missing", "NA1_short", "NA1_aram", "NA1_4v5", "NA1_notl", "NA1_good"} {
		if !seen[id] {
			t.Errorf("%s should be marked seen", id)
		}
	}
	if seen["NA1_flaky"] {
		t.Error("transient failure must not be marked seen")
	}
}

func TestSpiderFatalErrorCheckpointsAndAborts(t *testing.T) {
	f := newFakeFetcher()
	f.addMatch("NA1_1", players("p"), 1830)
	f.addMatch("NA1_2", players("q"), 1830)
	f.matchErrs["NA1_2"] = &riot.StatusError{StatusCode: 403, URL: "NA1_2"}
	f.history["p0"] = []string{"NA1_1", "NA1_2"}

	store := newTestStore(t)
	ds := &memDataset{}
	notifier := &recordingNotifier{}
	sp := NewSpider(f, store, ds, Config{Seeds: []string{"p0"}, Workers: 1}, WithNotifier(notifier))

	sum, err := sp.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if !riot.IsFatal(err) || !errors.Is(err, riot.ErrForbidden) {
		t.Errorf("error should unwrap to ErrForbidden: %v", err)
	}
	if sp.State() != StateDone {
		t.Errorf("state = %s, want DONE", sp.State())
	}
	if sum.Err == nil || len(notifier.summaries) != 1 || notifier.summaries[0].Err == nil {
		t.Error("abort should be reported in the summary and notification")
	}

	cp, loadErr := store.Load(context.Background())
	if loadErr != nil {
		t.Fatalf("checkpoint not saved on abort: %v", loadErr)
	}
	if cp.TotalCollected != 1 {
		t.Errorf("checkpoint total = %d, want 1", cp.TotalCollected)
	}
	if len(cp.Frontier) == 0 || cp.Frontier[0] != "p0" {
		t.Errorf("aborted player should head the frontier, got %v", cp.Frontier)
	}
	if ds.flushed != 1 {
		t.Errorf("dataset flushed %d rows, want 1", ds.flushed)
	}
}

func TestSpiderResumeDoesNotRefetch(t *testing.T) {
	f := newFakeFetcher()
	f.addMatch("NA1_1", players("p"), 1830)
	f.addMatch("NA1_2", players("p"), 1830)
	f.addMatch("NA1_3", players("q"), 1830)
	f.addMatch("NA1_4", players("r"), 1830)
	f.history["p0"] = []string{"NA1_1", "NA1_2", "NA1_3"}
	f.history["p1"] = []string{"NA1_2", "NA1_3", "NA1_4"}

	store := newTestStore(t)
	ds := &memDataset{}

	first := NewSpider(f, store, ds, Config{Seeds: []string{"p0"}, Target: 2})
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := NewSpider(f, store, ds, Config{Seeds: []string{"ignored"}, Target: 4})
	sum, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if got := ds.rows(); !reflect.DeepEqual(got, []string{"NA1_1", "NA1_2", "NA1_3", "NA1_4"}) {
		t.Errorf("rows = %v", got)
	}
	for _, id := range []string{"NA1_1", "NA1_2", "NA1_3", "NA1_4"} {
		if n := f.calls(id); n != 1 {
			t.Errorf("%s fetched %d times, want 1", id, n)
		}
	}
	if sum.Collected != 2 || sum.TotalCollected != 4 {
		t.Errorf("second run collected %d (total %d), want 2 (4)", sum.Collected, sum.TotalCollected)
	}
}

func TestSpiderTargetRequeuesPartialPlayer(t *testing.T) {
	f := newFakeFetcher()
	f.addMatch("NA1_1", players("p"), 1830)
	f.addMatch("NA1_2", players("q"), 1830)
	f.history["p0"] = []string{"NA1_1", "NA1_2"}

	store := newTestStore(t)
	ds := &memDataset{}

	first := NewSpider(f, store, ds, Config{Seeds: []string{"p0"}, Workers: 1, Target: 1})
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	cp, err := store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cp.Frontier) == 0 || cp.Frontier[0] != "p0" {
		t.Fatalf("partially processed player should head the frontier, got %v", cp.Frontier)
	}

	second := NewSpider(f, store, ds, Config{Workers: 1, Target: 2})
	sum, err := second.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := ds.rows(); !reflect.DeepEqual(got, []string{"NA1_1", "NA1_2"}) {
		t.Errorf("rows = %v", got)
	}
	if sum.TotalCollected != 2 || f.calls("NA1_1") != 1 {
		t.Errorf("total = %d, NA1_1 fetched %d times", sum.TotalCollected, f.calls("NA1_1"))
	}
}

func TestSpiderReconcilesDatasetRows(t *testing.T) {
	f := newFakeFetcher()
	f.addMatch("NA1_1", players("p"), 1830)
	f.addMatch("NA1_2", players("q"), 1830)
	f.history["p0"] = []string{"NA1_1", "NA1_2"}

	// NA1_1 reached the dataset but the crawl died before checkpointing it.
	ds := &memDataset{existing: []string{"NA1_1"}}
	sp := NewSpider(f, newTestStore(t), ds, Config{Seeds: []string{"p0"}})

	sum, err := sp.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.calls("NA1_1") != 0 {
		t.Error("reconciled match was fetched again")
	}
	if got := ds.rows(); !reflect.DeepEqual(got, []string{"NA1_2"}) {
		t.Errorf("rows = %v", got)
	}
	if sum.TotalCollected != 2 {
		t.Errorf("TotalCollected = %d, want 2", sum.TotalCollected)
	}
}

func TestSpiderSeeding(t *testing.T) {
	tests := []struct {
		name       string
		seeds      []string
		challenger string
		wantSeen   []string
		wantErr    bool
	}{
		{"riot id and raw puuid", []string{"Faker#KR1", "raw-puuid"}, "", []string{"faker-puuid", "raw-puuid"}, false},
		{"unresolvable id falls back to challenger", []string{"Nobody#NA1"}, "chall", []string{"chall"}, false},
		{"no seeds", nil, "chall", []string{"chall"}, false},
		{"nothing to seed", nil, "", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher()
			f.accounts["Faker#KR1"] = "faker-puuid"
			f.challenger = tt.challenger

			store := newTestStore(t)
			sp := NewSpider(f, store, &memDataset{}, Config{Seeds: tt.seeds})
			_, err := sp.Run(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected seeding error")
				}
				if sp.State() != StateDone {
					t.Errorf("state = %s, want DONE", sp.State())
				}
				return
			}
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			cp, err := store.Load(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(cp.SeenPlayerIDs, tt.wantSeen) {
				t.Errorf("seen players = %v, want %v", cp.SeenPlayerIDs, tt.wantSeen)
			}
		})
	}
}

func TestSpiderMinimumRank(t *testing.T) {
	f := newFakeFetcher()
	f.addMatch("NA1_1", players("p"), 1830)
	f.addMatch("NA1_2", players("q"), 1830)
	f.history["hi"] = []string{"NA1_1"}
	f.history["lo"] = []string{"NA1_2"}
	f.ranks["hi"] = [2]string{"DIAMOND", "II"}
	f.ranks["lo"] = [2]string{"SILVER", "I"}

	ds := &memDataset{}
	sp := NewSpider(f, newTestStore(t), ds, Config{Seeds: []string{"lo", "hi"}, MinTier: "EMERALD"})
	if _, err := sp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := ds.rows(); !reflect.DeepEqual(got, []string{"NA1_1"}) {
		t.Errorf("rows = %v", got)
	}
	if f.calls("NA1_2") != 0 {
		t.Error("low-rank player's matches were fetched")
	}
}

func TestSpiderCancelledContextCheckpoints(t *testing.T) {
	f := newFakeFetcher()
	f.addMatch("NA1_1", players("p"), 1830)
	f.history["p0"] = []string{"NA1_1"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newTestStore(t)
	sp := NewSpider(f, store, &memDataset{}, Config{Seeds: []string{"p0"}})
	sum, err := sp.Run(ctx)
	if err != nil {
		t.Fatalf("cancellation should be a clean stop, got %v", err)
	}
	if !sum.Interrupted {
		t.Error("summary should be marked interrupted")
	}

	cp, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("no checkpoint after cancel: %v", err)
	}
	if !reflect.DeepEqual(cp.Frontier, []string{"p0"}) {
		t.Errorf("frontier = %v, want [p0]", cp.Frontier)
	}
}

func TestValidateMatch(t *testing.T) {
	f := newFakeFetcher()
	m := f.addMatch("NA1_1", players("p"), 1830)
	tl := f.timelines["NA1_1"]

	if r := validateMatch(m, tl, 15); r != "" {
		t.Errorf("valid match skipped: %s", r)
	}
	if r := validateMatch(m, nil, 15); r != SkipMissingTimeline {
		t.Errorf("nil timeline reason = %q", r)
	}
	if r := validateMatch(m, tl, 31); r != SkipTooShort {
		t.Errorf("short game reason = %q", r)
	}
}
