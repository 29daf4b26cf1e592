package storage

import (
	"fmt"
	"sort"

	"winpredict/internal/riot"
	"winpredict/internal/snapshot"
)

// TeamSize is the number of participants per side in a ranked solo match
const TeamSize = 5

// MatchRecord is one accepted match: the summary, its timeline and the
// snapshots derived from it. Snapshots only holds minutes that were available.
type MatchRecord struct {
	Match     *riot.MatchResponse
	Timeline  *riot.TimelineResponse
	Snapshots map[int]snapshot.Snapshot
}

// ID returns the match id
func (r *MatchRecord) ID() string {
	if r.Match == nil {
		return ""
	}
	return r.Match.Metadata.MatchID
}

// Teams splits participants by team id, each side ordered by participant id.
// It fails unless both sides have exactly TeamSize players.
func (r *MatchRecord) Teams() (blue, red []riot.MatchParticipant, err error) {
	if r.Match == nil {
		return nil, nil, fmt.Errorf("match record has no match")
	}
	for _, p := range r.Match.Info.Participants {
		switch p.TeamID {
		case riot.TeamBlue:
			blue = append(blue, p)
		case riot.TeamRed:
			red = append(red, p)
		}
	}
	if len(blue) != TeamSize || len(red) != TeamSize {
		return nil, nil, fmt.Errorf("match %s: expected %d players per team, got %d/%d",
			r.ID(), TeamSize, len(blue), len(red))
	}

	byID := func(ps []riot.MatchParticipant) {
		sort.Slice(ps, func(i, j int) bool { return ps[i].ParticipantID < ps[j].ParticipantID })
	}
	byID(blue)
	byID(red)
	return blue, red, nil
}

// BlueWin reports whether team 100 won
func (r *MatchRecord) BlueWin() bool {
	if r.Match == nil {
		return false
	}
	for _, p := range r.Match.Info.Participants {
		if p.TeamID == riot.TeamBlue {
			return p.Win
		}
	}
	return false
}

// RawMatch is one archived JSONL line: the provider payloads exactly as fetched
type RawMatch struct {
	MatchID      string                 `json:"matchId"`
	GameVersion  string                 `json:"gameVersion"`
	GameDuration int                    `json:"gameDuration"`
	GameCreation int64                  `json:"gameCreation"`
	CollectedAt  int64                  `json:"collectedAt"` // unix millis
	Match        *riot.MatchResponse    `json:"match"`
	Timeline     *riot.TimelineResponse `json:"timeline,omitempty"`
}
