// Package snapshot derives per-team state at fixed in-game minutes from a
// match timeline.
package snapshot

import (
	"fmt"
	"math"

	"winpredict/internal/riot"
)

const (
	// TeamASlots is the number of leading participant ids that belong to the
	// blue side (team 100). Ids TeamASlots+1..2*TeamASlots are red.
	TeamASlots = 5

	defaultFrameInterval = int64(60000)
)

// DefaultMinutes are the snapshot marks written to the dataset.
var DefaultMinutes = []int{10, 15, 20}

// Snapshot is the aggregated state of both teams at one minute mark.
// Blue is team A (participants 1-5), Red is team B (participants 6-10).
type Snapshot struct {
	Minute int

	BlueGold, RedGold   int
	BlueXP, RedXP       int
	BlueLevel, RedLevel int
	BlueCS, RedCS       int

	BlueDragons, RedDragons int
	BlueBarons, RedBarons   int
	BlueTowers, RedTowers   int
	BlueKills, RedKills     int
}

func (s Snapshot) GoldDiff() int { return s.BlueGold - s.RedGold }
func (s Snapshot) XPDiff() int   { return s.BlueXP - s.RedXP }
func (s Snapshot) KillDiff() int { return s.BlueKills - s.RedKills }

// FieldNames lists the 19 dataset columns for a minute, in column order.
func FieldNames(minute int) []string {
	p := fmt.Sprintf("t%d_", minute)
	names := make([]string, len(fieldSuffixes))
	for i, s := range fieldSuffixes {
		names[i] = p + s
	}
	return names
}

var fieldSuffixes = []string{
	"blue_gold", "red_gold", "gold_diff",
	"blue_xp", "red_xp", "xp_diff",
	"blue_level", "red_level",
	"blue_cs", "red_cs",
	"blue_dragons", "red_dragons",
	"blue_barons", "red_barons",
	"blue_towers", "red_towers",
	"blue_kills", "red_kills", "kill_diff",
}

// Values returns the snapshot in FieldNames order.
func (s Snapshot) Values() []int {
	return []int{
		s.BlueGold, s.RedGold, s.GoldDiff(),
		s.BlueXP, s.RedXP, s.XPDiff(),
		s.BlueLevel, s.RedLevel,
		s.BlueCS, s.RedCS,
		s.BlueDragons, s.RedDragons,
		s.BlueBarons, s.RedBarons,
		s.BlueTowers, s.RedTowers,
		s.BlueKills, s.RedKills, s.KillDiff(),
	}
}

// Fields returns the snapshot keyed by its t{minute}_ column names.
func (s Snapshot) Fields() map[string]float64 {
	names := FieldNames(s.Minute)
	vals := s.Values()
	out := make(map[string]float64, len(names))
	for i, n := range names {
		out[n] = float64(vals[i])
	}
	return out
}

// FrameIndex returns the frame sampled for minute given the frame interval in
// milliseconds. A non-positive interval is treated as one minute.
func FrameIndex(minute int, intervalMs int64) int {
	if intervalMs <= 0 {
		intervalMs = defaultFrameInterval
	}
	intervalMin := float64(intervalMs) / 60000
	return int(math.Floor(float64(minute) / intervalMin))
}

// Extract computes the snapshot at minute. It reports false when the timeline
// has no frame for that minute; callers must not treat that as zeros.
func Extract(tl *riot.TimelineResponse, minute int) (Snapshot, bool) {
	if tl == nil || minute < 0 {
		return Snapshot{}, false
	}
	frames := tl.Info.Frames
	idx := FrameIndex(minute, tl.Info.FrameInterval)
	if idx >= len(frames) {
		return Snapshot{}, false
	}

	s := Snapshot{Minute: minute}
	sumParticipants(&s, frames[idx])
	countEvents(&s, frames, int64(minute)*60000)
	return s, true
}

// ExtractAll extracts every minute the game lasted long enough to reach.
// Minutes beyond durationMin or past the last frame are omitted.
func ExtractAll(tl *riot.TimelineResponse, minutes []int, durationMin float64) map[int]Snapshot {
	out := make(map[int]Snapshot, len(minutes))
	for _, m := range minutes {
		if durationMin < float64(m) {
			continue
		}
		if s, ok := Extract(tl, m); ok {
			out[m] = s
		}
	}
	return out
}

func sumParticipants(s *Snapshot, f riot.TimelineFrame) {
	for id := 1; id <= 2*TeamASlots; id++ {
		pf, ok := f.Participant(id)
		if !ok {
			continue
		}
		cs := pf.MinionsKilled + pf.JungleMinionsKilled
		if id <= TeamASlots {
			s.BlueGold += pf.TotalGold
			s.BlueXP += pf.XP
			s.BlueLevel += pf.Level
			s.BlueCS += cs
		} else {
			s.RedGold += pf.TotalGold
			s.RedXP += pf.XP
			s.RedLevel += pf.Level
			s.RedCS += cs
		}
	}
}

// countEvents scans from the first frame and stops at the first event later
// than cutoff.
func countEvents(s *Snapshot, frames []riot.TimelineFrame, cutoff int64) {
	for _, f := range frames {
		for _, ev := range f.Events {
			if ev.Timestamp > cutoff {
				return
			}
			apply(s, ev)
		}
	}
}

func apply(s *Snapshot, ev riot.TimelineEvent) {
	switch ev.Type {
	case riot.EventEliteMonsterKill:
		blue, ok := objectiveSide(ev)
		if !ok {
			return
		}
		switch ev.MonsterType {
		case riot.MonsterDragon:
			if blue {
				s.BlueDragons++
			} else {
				s.RedDragons++
			}
		case riot.MonsterBaron:
			if blue {
				s.BlueBarons++
			} else {
				s.RedBarons++
			}
		}

	case riot.EventBuildingKill:
		if ev.BuildingType != riot.BuildingTower {
			return
		}
		blue, ok := objectiveSide(ev)
		if !ok {
			return
		}
		if blue {
			s.BlueTowers++
		} else {
			s.RedTowers++
		}

	case riot.EventChampionKill:
		// killerId 0 is an execution and counts for nobody
		switch {
		case ev.KillerID >= 1 && ev.KillerID <= TeamASlots:
			s.BlueKills++
		case ev.KillerID > TeamASlots && ev.KillerID <= 2*TeamASlots:
			s.RedKills++
		}
	}
}

// objectiveSide attributes a monster or building kill. killerTeamId wins;
// otherwise a building goes to the side opposite its owner.
func objectiveSide(ev riot.TimelineEvent) (blue bool, ok bool) {
	switch ev.KillerTeamID {
	case riot.TeamBlue:
		return true, true
	case riot.TeamRed:
		return false, true
	}
	if ev.Type == riot.EventBuildingKill {
		switch ev.TeamID {
		case riot.TeamBlue:
			return false, true
		case riot.TeamRed:
			return true, true
		}
	}
	return false, false
}
