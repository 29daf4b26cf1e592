package crawler

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestCrawlStateDedupe(t *testing.T) {
	s := NewCrawlState("session", 0)

	if s.HasSeenMatch("NA1_1") {
		t.Fatal("fresh state should not have seen NA1_1")
	}
	if !s.MarkMatchSeen("NA1_1") {
		t.Error("first mark should report new")
	}
	if s.MarkMatchSeen("NA1_1") {
		t.Error("second mark should report already seen")
	}
	if !s.HasSeenMatch("NA1_1") {
		t.Error("NA1_1 should be seen")
	}

	if !s.Enqueue("p1") {
		t.Error("p1 should be enqueued")
	}
	if s.Enqueue("p1") {
		t.Error("p1 should not be enqueued twice")
	}
	if s.Enqueue("") {
		t.Error("empty puuid should be rejected")
	}
	if s.FrontierLen() != 1 {
		t.Errorf("frontier = %d, want 1", s.FrontierLen())
	}

	// Popping does not make a player eligible again.
	if p, ok := s.Pop(); !ok || p != "p1" {
		t.Fatalf("Pop = %q, %v", p, ok)
	}
	if s.Enqueue("p1") {
		t.Error("popped player re-enqueued")
	}
	if _, ok := s.Pop(); ok {
		t.Error("Pop on empty frontier should fail")
	}
}

func TestCrawlStateFrontierBound(t *testing.T) {
	s := NewCrawlState("session", 2)
	s.Enqueue("a")
	s.Enqueue("b")

	if s.Enqueue("c") {
		t.Fatal("enqueue beyond bound should fail")
	}
	if s.HasSeenPlayer("c") {
		t.Error("rejected player should stay unseen so it can be found later")
	}
	if !s.Seed("seed") {
		t.Error("seeds bypass the bound")
	}
	if s.FrontierLen() != 3 {
		t.Errorf("frontier = %d, want 3", s.FrontierLen())
	}

	p, _ := s.Pop()
	s.Requeue(p)
	if p2, _ := s.Pop(); p2 != p {
		t.Errorf("requeued player should be popped first, got %q want %q", p2, p)
	}
}

func TestCrawlStateRecordMatch(t *testing.T) {
	s := NewCrawlState("session", 0)
	s.RecordMatch([]int{10, 15, 20})
	s.RecordMatch([]int{10, 15})
	s.RecordMatch(nil)

	if s.TotalCollected != 3 {
		t.Errorf("TotalCollected = %d, want 3", s.TotalCollected)
	}
	want := map[int]int{10: 2, 15: 2, 20: 1}
	if !reflect.DeepEqual(s.SnapshotCounts, want) {
		t.Errorf("SnapshotCounts = %v, want %v", s.SnapshotCounts, want)
	}
}

func sampleState() *CrawlState {
	s := NewCrawlState("3f0c7a2e-session", 100)
	for _, id := range []string{"NA1_3", "NA1_1", "NA1_2"} {
		s.MarkMatchSeen(id)
	}
	s.Seed("seed")
	s.Enqueue("p2")
	s.Enqueue("p1")
	s.Pop() // seed leaves the frontier but stays seen
	s.RecordMatch([]int{10, 15, 20})
	s.RecordMatch([]int{10})
	return s
}

func TestStoresRoundTrip(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	stores := map[string]func(t *testing.T) Store{
		"file": func(t *testing.T) Store {
			return NewFileStore(filepath.Join(t.TempDir(), "nested", "checkpoint.json"))
		},
		"sqlite": func(t *testing.T) Store {
			st, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
			if err != nil {
				t.Fatalf("OpenSQLiteStore: %v", err)
			}
			return st
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			defer store.Close()

			if _, err := store.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
				t.Fatalf("empty store Load = %v, want ErrNoCheckpoint", err)
			}

			s := sampleState()
			want := s.Checkpoint(stamp)
			if err := store.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}

			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			assertCheckpoint(t, got, want)

			// A later save replaces the frontier and extends the seen sets.
			restored := StateFromCheckpoint(got, 100)
			restored.Pop()
			restored.MarkMatchSeen("NA1_4")
			restored.RecordMatch([]int{10, 15})
			want2 := restored.Checkpoint(stamp.Add(time.Minute))
			if err := store.Save(ctx, want2); err != nil {
				t.Fatalf("second Save: %v", err)
			}
			got2, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("second Load: %v", err)
			}
			assertCheckpoint(t, got2, want2)
		})
	}
}

func assertCheckpoint(t *testing.T, got, want *Checkpoint) {
	t.Helper()
	if got.SessionID != want.SessionID {
		t.Errorf("SessionID = %q, want %q", got.SessionID, want.SessionID)
	}
	if !reflect.DeepEqual(got.SeenMatchIDs, want.SeenMatchIDs) {
		t.Errorf("SeenMatchIDs = %v, want %v", got.SeenMatchIDs, want.SeenMatchIDs)
	}
	if !reflect.DeepEqual(got.SeenPlayerIDs, want.SeenPlayerIDs) {
		t.Errorf("SeenPlayerIDs = %v, want %v", got.SeenPlayerIDs, want.SeenPlayerIDs)
	}
	if !reflect.DeepEqual(got.Frontier, want.Frontier) {
		t.Errorf("Frontier = %v, want %v", got.Frontier, want.Frontier)
	}
	if got.TotalCollected != want.TotalCollected {
		t.Errorf("TotalCollected = %d, want %d", got.TotalCollected, want.TotalCollected)
	}
	if !reflect.DeepEqual(got.SnapshotCounts, want.SnapshotCounts) {
		t.Errorf("SnapshotCounts = %v, want %v", got.SnapshotCounts, want.SnapshotCounts)
	}
	if !got.LastUpdated.Equal(want.LastUpdated) {
		t.Errorf("LastUpdated = %v, want %v", got.LastUpdated, want.LastUpdated)
	}
}

func TestStateFromCheckpointRestoresDedupe(t *testing.T) {
	cp := sampleState().Checkpoint(time.Now())
	s := StateFromCheckpoint(cp, 100)

	if !s.HasSeenMatch("NA1_2") {
		t.Error("restored state lost seen match")
	}
	if s.Enqueue("seed") {
		t.Error("restored state re-enqueued a seen player")
	}
	if s.FrontierLen() != 2 {
		t.Errorf("frontier = %d, want 2", s.FrontierLen())
	}
	if s.TotalCollected != 2 || s.SnapshotCounts[10] != 2 || s.SnapshotCounts[20] != 1 {
		t.Errorf("totals not restored: %d %v", s.TotalCollected, s.SnapshotCounts)
	}
}

func TestStateMachineTransitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		valid bool
	}{
		{"full crawl", []State{StateExpanding, StateDraining, StateDone}, true},
		{"seed failure", []State{StateDraining, StateDone}, true},
		{"skip draining", []State{StateExpanding, StateDone}, false},
		{"back to seeding", []State{StateExpanding, StateSeeding}, false},
		{"leave done", []State{StateDraining, StateDone, StateExpanding}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine()
			var seen []State
			sm.OnTransition(func(from, to State) { seen = append(seen, to) })

			var err error
			for _, s := range tt.path {
				if err = sm.TransitionTo(s); err != nil {
					break
				}
			}
			if tt.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Fatal("expected invalid transition error")
			}
			if sm.Current() != seen[len(seen)-1] {
				t.Errorf("Current = %s, last callback = %s", sm.Current(), seen[len(seen)-1])
			}
		})
	}
}
