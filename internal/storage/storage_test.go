package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"winpredict/internal/riot"
	"winpredict/internal/snapshot"
)

func testRecord(id string, blueWin bool, snaps ...snapshot.Snapshot) *MatchRecord {
	var parts []riot.MatchParticipant
	// Deliberately out of order to exercise sorting.
	for _, pid := range []int{6, 1, 7, 2, 8, 3, 9, 4, 10, 5} {
		team := riot.TeamBlue
		if pid > 5 {
			team = riot.TeamRed
		}
		parts = append(parts, riot.MatchParticipant{
			ParticipantID: pid,
			TeamID:        team,
			PUUID:         fmt.Sprintf("puuid-%d", pid),
			ChampionID:    100 + pid,
			ChampionName:  fmt.Sprintf("Champ%d", pid),
			Win:           (team == riot.TeamBlue) == blueWin,
			Item0:         1000 + pid,
			Item6:         3340,
		})
	}

	rec := &MatchRecord{
		Match: &riot.MatchResponse{
			Metadata: riot.MatchMetadata{MatchID: id},
			Info: riot.MatchInfo{
				GameDuration: 1830,
				GameVersion:  "14.1.1",
				QueueID:      riot.RankedSoloQueue,
				Participants: parts,
			},
		},
		Timeline:  &riot.TimelineResponse{},
		Snapshots: map[int]snapshot.Snapshot{},
	}
	for _, s := range snaps {
		rec.Snapshots[s.Minute] = s
	}
	return rec
}

func TestHeaderLayout(t *testing.T) {
	h := Header([]int{10, 15})
	want := 3 + 4*TeamSize + 2*TeamSize*itemSlots + 2*19
	if len(h) != want {
		t.Fatalf("header has %d columns, want %d", len(h), want)
	}
	if h[0] != "match_id" || h[1] != "game_duration" || h[2] != "blue_win" {
		t.Errorf("unexpected leading columns %v", h[:3])
	}
	if h[3] != "blue_champ_1" || h[12] != "red_champ_5" {
		t.Errorf("champion columns misplaced: %s, %s", h[3], h[12])
	}
	if h[13] != "blue_champ_name_1" || h[22] != "red_champ_name_5" {
		t.Errorf("champion name columns misplaced: %s, %s", h[13], h[22])
	}
	if h[23] != "blue_item_1_0" {
		t.Errorf("first item column = %s", h[23])
	}
	if h[len(h)-1] != "t15_kill_diff" {
		t.Errorf("last column = %s", h[len(h)-1])
	}
}

func TestRow(t *testing.T) {
	s10 := snapshot.Snapshot{Minute: 10, BlueGold: 16000, RedGold: 15000, BlueKills: 3, RedKills: 1}
	rec := testRecord("NA1_1", true, s10)

	row, err := Row(rec, []int{10, 20})
	if err != nil {
		t.Fatalf("Row: %v", err)
	}
	header := Header([]int{10, 20})
	if len(row) != len(header) {
		t.Fatalf("row has %d cells, header %d", len(row), len(header))
	}

	cell := func(name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("no column %s", name)
		return ""
	}

	tests := []struct {
		col  string
		want string
	}{
		{"match_id", "NA1_1"},
		{"game_duration", "30.50"},
		{"blue_win", "1"},
		{"blue_champ_1", "101"},
		{"blue_champ_5", "105"},
		{"red_champ_1", "106"},
		{"red_champ_5", "110"},
		{"blue_champ_name_1", "Champ1"},
		{"red_champ_name_1", "Champ6"},
		{"blue_item_2_0", "1002"},
		{"red_item_5_6", "3340"},
		{"t10_blue_gold", "16000"},
		{"t10_gold_diff", "1000"},
		{"t10_kill_diff", "2"},
		{"t20_blue_gold", ""},
		{"t20_kill_diff", ""},
	}
	for _, tt := range tests {
		if got := cell(tt.col); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.col, got, tt.want)
		}
	}
}

func TestRowRejectsShortTeams(t *testing.T) {
	rec := testRecord("NA1_2", false)
	rec.Match.Info.Participants = rec.Match.Info.Participants[:9]
	if _, err := Row(rec, snapshot.DefaultMinutes); err == nil {
		t.Fatal("expected error for 9 participants")
	}
}

func TestDatasetAppendAndResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "dataset.csv")
	ctx := context.Background()

	d, err := OpenDataset(path, snapshot.DefaultMinutes)
	if err != nil {
		t.Fatalf("OpenDataset: %v", err)
	}
	for _, id := range []string{"NA1_1", "NA1_2"} {
		if err := d.WriteMatch(ctx, testRecord(id, true)); err != nil {
			t.Fatalf("WriteMatch: %v", err)
		}
	}
	ids, err := d.ExistingIDs()
	if err != nil {
		t.Fatalf("ExistingIDs: %v", err)
	}
	if strings.Join(ids, ",") != "NA1_1,NA1_2" {
		t.Fatalf("ids = %v", ids)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: no second header, rows continue.
	d, err = OpenDataset(path, snapshot.DefaultMinutes)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := d.WriteMatch(ctx, testRecord("NA1_3", false)); err != nil {
		t.Fatalf("WriteMatch: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ids, err = ReadMatchIDs(path)
	if err != nil {
		t.Fatalf("ReadMatchIDs: %v", err)
	}
	if strings.Join(ids, ",") != "NA1_1,NA1_2,NA1_3" {
		t.Errorf("ids after reopen = %v", ids)
	}

	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), "match_id,"); n != 1 {
		t.Errorf("header written %d times", n)
	}
}

func TestDatasetTornRowIsDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.csv")
	d, err := OpenDataset(path, snapshot.DefaultMinutes)
	if err != nil {
		t.Fatalf("OpenDataset: %v", err)
	}
	if err := d.WriteMatch(context.Background(), testRecord("NA1_1", true)); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("NA1_2,31.00,1,Ah")
	f.Close()

	ids, err := ReadMatchIDs(path)
	if err != nil {
		t.Fatalf("ReadMatchIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "NA1_1" {
		t.Errorf("ids with torn row = %v", ids)
	}

	d, err = OpenDataset(path, snapshot.DefaultMinutes)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := d.WriteMatch(context.Background(), testRecord("NA1_3", true)); err != nil {
		t.Fatal(err)
	}
	ids, err = d.ExistingIDs()
	if err != nil {
		t.Fatal(err)
	}
	d.Close()
	if strings.Join(ids, ",") != "NA1_1,NA1_3" {
		t.Errorf("ids after repair = %v", ids)
	}
}

func TestDatasetHeaderMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.csv")
	d, err := OpenDataset(path, []int{10})
	if err != nil {
		t.Fatal(err)
	}
	d.Close()

	_, err = OpenDataset(path, []int{10, 20})
	if !errors.Is(err, ErrHeaderMismatch) {
		t.Fatalf("expected ErrHeaderMismatch, got %v", err)
	}
}

func TestArchiveRotation(t *testing.T) {
	base := t.TempDir()
	a, err := NewArchive(ArchiveConfig{BaseDir: base, MatchesPerFile: 2})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := a.WriteMatch(ctx, testRecord(fmt.Sprintf("NA1_%d", i), true)); err != nil {
			t.Fatalf("WriteMatch: %v", err)
		}
	}

	warm, _ := filepath.Glob(filepath.Join(base, "warm", "*.jsonl"))
	if len(warm) != 1 {
		t.Fatalf("warm files = %d, want 1", len(warm))
	}
	if n, _ := a.Stats(); n != 1 {
		t.Errorf("matches in current file = %d, want 1", n)
	}

	data, err := os.ReadFile(warm[0])
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("warm file has %d lines, want 2", lines)
	}
	if !strings.Contains(string(data), `"matchId":"NA1_0"`) {
		t.Errorf("warm file missing first match: %s", data[:80])
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	warm, _ = filepath.Glob(filepath.Join(base, "warm", "*.jsonl"))
	if len(warm) != 2 {
		t.Errorf("warm files after close = %d, want 2", len(warm))
	}
	hot, _ := filepath.Glob(filepath.Join(base, "hot", "*"))
	if len(hot) != 0 {
		t.Errorf("hot dir not empty after close: %v", hot)
	}
}

func TestArchiveAgeRotationAndCompression(t *testing.T) {
	base := t.TempDir()
	a, err := NewArchive(ArchiveConfig{BaseDir: base, MaxFileAge: time.Minute, Compress: true})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }
	a.fileOpenedAt = clock

	clock = clock.Add(2 * time.Minute)
	if err := a.WriteMatch(context.Background(), testRecord("NA1_1", true)); err != nil {
		t.Fatalf("WriteMatch: %v", err)
	}

	cold, _ := filepath.Glob(filepath.Join(base, "cold", "*.jsonl.gz"))
	if len(cold) != 1 {
		t.Fatalf("cold files = %d, want 1", len(cold))
	}
	warm, _ := filepath.Glob(filepath.Join(base, "warm", "*"))
	if len(warm) != 0 {
		t.Errorf("warm should be empty after compression: %v", warm)
	}

	f, err := os.Open(cold[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "NA1_1") {
		t.Errorf("compressed archive missing match")
	}
	a.Close()
}

func TestMatchRecordBlueWin(t *testing.T) {
	if !testRecord("a", true).BlueWin() {
		t.Error("blue should win")
	}
	if testRecord("b", false).BlueWin() {
		t.Error("red should win")
	}
}
