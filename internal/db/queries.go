package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"winpredict/internal/predict"
	"winpredict/internal/storage"
)

// Match represents a match record
type Match struct {
	MatchID         string  `json:"matchId"`
	GameVersion     string  `json:"gameVersion"`
	GameDuration    int     `json:"gameDuration"`
	GameCreation    int64   `json:"gameCreation"`
	QueueID         int     `json:"queueId"`
	BlueWin         bool    `json:"blueWin"`
	SnapshotMinutes []int32 `json:"snapshotMinutes"`
}

// MatchChampion is one participant of a stored match
type MatchChampion struct {
	MatchID       string  `json:"matchId"`
	ParticipantID int     `json:"participantId"`
	TeamID        int     `json:"teamId"`
	PUUID         string  `json:"puuid"`
	ChampionID    int     `json:"championId"`
	ChampionName  string  `json:"championName"`
	TeamPosition  string  `json:"teamPosition"`
	Win           bool    `json:"win"`
	Items         []int32 `json:"items"`
}

// matchRows flattens a record into the rows WriteMatch inserts
func matchRows(rec *storage.MatchRecord) (Match, []MatchChampion, error) {
	blue, red, err := rec.Teams()
	if err != nil {
		return Match{}, nil, err
	}

	info := rec.Match.Info
	m := Match{
		MatchID:      rec.ID(),
		GameVersion:  info.GameVersion,
		GameDuration: info.GameDuration,
		GameCreation: info.GameCreation,
		QueueID:      info.QueueID,
		BlueWin:      rec.BlueWin(),
	}
	m.SnapshotMinutes = make([]int32, 0, len(rec.Snapshots))
	for minute := range rec.Snapshots {
		m.SnapshotMinutes = append(m.SnapshotMinutes, int32(minute))
	}
	sort.Slice(m.SnapshotMinutes, func(i, j int) bool { return m.SnapshotMinutes[i] < m.SnapshotMinutes[j] })

	champs := make([]MatchChampion, 0, 2*storage.TeamSize)
	for _, p := range append(blue, red...) {
		items := p.Items()
		c := MatchChampion{
			MatchID:       m.MatchID,
			ParticipantID: p.ParticipantID,
			TeamID:        p.TeamID,
			PUUID:         p.PUUID,
			ChampionID:    p.ChampionID,
			ChampionName:  p.ChampionName,
			TeamPosition:  p.TeamPosition,
			Win:           p.Win,
			Items:         make([]int32, len(items)),
		}
		for i, it := range items {
			c.Items[i] = int32(it)
		}
		champs = append(champs, c)
	}
	return m, champs, nil
}

// WriteMatch stores a match and its ten champions in one transaction. Matches
// already present are left untouched.
func (db *DB) WriteMatch(ctx context.Context, rec *storage.MatchRecord) error {
	m, champs, err := matchRows(rec)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO matches (match_id, game_version, game_duration, game_creation, queue_id, blue_win, snapshot_minutes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (match_id) DO NOTHING
		`, m.MatchID, m.GameVersion, m.GameDuration, m.GameCreation, m.QueueID, m.BlueWin, m.SnapshotMinutes)
		if err != nil {
			return fmt.Errorf("insert match %s: %w", m.MatchID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, c := range champs {
			batch.Queue(`
				INSERT INTO match_champions (
					match_id, participant_id, team_id, puuid, champion_id, champion_name, team_position, win, items
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (match_id, participant_id) DO NOTHING
			`, c.MatchID, c.ParticipantID, c.TeamID, c.PUUID, c.ChampionID, c.ChampionName, c.TeamPosition, c.Win, c.Items)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert champions for %s: %w", m.MatchID, err)
		}
		return nil
	})
}

// Flush is a no-op; every WriteMatch commits.
func (db *DB) Flush() error { return nil }

// MatchExists checks if a match already exists in the database
func (db *DB) MatchExists(ctx context.Context, matchID string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM matches WHERE match_id = $1)
	`, matchID).Scan(&exists)
	return exists, err
}

// GetMatchCount returns the total number of matches
func (db *DB) GetMatchCount(ctx context.Context) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM matches`).Scan(&count)
	return count, err
}

// ChampionStats represents aggregated results for a champion
type ChampionStats struct {
	ChampionName string  `json:"championName"`
	TotalGames   int     `json:"totalGames"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"winRate"` // 0..1
}

// GetChampionStats returns aggregate stats for every champion with at least
// minGames games, optionally restricted to a patch prefix such as "14.3".
func (db *DB) GetChampionStats(ctx context.Context, patch string, minGames int) ([]ChampionStats, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT
			c.champion_name,
			COUNT(*) AS total_games,
			SUM(CASE WHEN c.win THEN 1 ELSE 0 END) AS wins
		FROM match_champions c
		JOIN matches m ON m.match_id = c.match_id
		WHERE ($1 = '' OR m.game_version LIKE $1 || '.%')
		GROUP BY c.champion_name
		HAVING COUNT(*) >= $2
		ORDER BY total_games DESC
	`, patch, minGames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ChampionStats
	for rows.Next() {
		var s ChampionStats
		if err := rows.Scan(&s.ChampionName, &s.TotalGames, &s.Wins); err != nil {
			return nil, err
		}
		if s.TotalGames > 0 {
			s.WinRate = float64(s.Wins) / float64(s.TotalGames)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// ChampionWinRates loads win rates for the draft builder
func (db *DB) ChampionWinRates(ctx context.Context, patch string, minGames int) (predict.StaticWinRates, error) {
	stats, err := db.GetChampionStats(ctx, patch, minGames)
	if err != nil {
		return nil, fmt.Errorf("champion win rates: %w", err)
	}
	out := make(predict.StaticWinRates, len(stats))
	for _, s := range stats {
		out[s.ChampionName] = s.WinRate
	}
	return out, nil
}

// GetRecentMatches returns the most recent matches
func (db *DB) GetRecentMatches(ctx context.Context, limit int) ([]Match, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT match_id, game_version, game_duration, game_creation, queue_id, blue_win, snapshot_minutes
		FROM matches
		ORDER BY game_creation DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.MatchID, &m.GameVersion, &m.GameDuration, &m.GameCreation,
			&m.QueueID, &m.BlueWin, &m.SnapshotMinutes); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
