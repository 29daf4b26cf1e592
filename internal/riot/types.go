package riot

import "strconv"

const (
	// RankedSoloQueue is the only queue the crawl ingests.
	RankedSoloQueue = 420

	TeamBlue = 100
	TeamRed  = 200
)

// AccountResponse represents the response from /riot/account/v1/accounts/by-riot-id
type AccountResponse struct {
	PUUID    string `json:"puuid"`
	GameName string `json:"gameName"`
	TagLine  string `json:"tagLine"`
}

// MatchResponse represents the response from /lol/match/v5/matches/{matchId}
type MatchResponse struct {
	Metadata MatchMetadata `json:"metadata"`
	Info     MatchInfo     `json:"info"`
}

type MatchMetadata struct {
	MatchID      string   `json:"matchId"`
	Participants []string `json:"participants"` // PUUIDs
}

type MatchInfo struct {
	GameCreation int64              `json:"gameCreation"`
	GameDuration int                `json:"gameDuration"` // seconds
	GameVersion  string             `json:"gameVersion"`
	QueueID      int                `json:"queueId"`
	Participants []MatchParticipant `json:"participants"`
}

// DurationMinutes returns the game length in fractional minutes.
func (m MatchInfo) DurationMinutes() float64 {
	return float64(m.GameDuration) / 60
}

type MatchParticipant struct {
	ParticipantID  int    `json:"participantId"`
	TeamID         int    `json:"teamId"`
	PUUID          string `json:"puuid"`
	RiotIdGameName string `json:"riotIdGameName"`
	RiotIdTagline  string `json:"riotIdTagline"`
	ChampionID     int    `json:"championId"`
	ChampionName   string `json:"championName"`
	TeamPosition   string `json:"teamPosition"` // TOP, JUNGLE, MIDDLE, BOTTOM, UTILITY
	Win            bool   `json:"win"`
	Item0          int    `json:"item0"`
	Item1          int    `json:"item1"`
	Item2          int    `json:"item2"`
	Item3          int    `json:"item3"`
	Item4          int    `json:"item4"`
	Item5          int    `json:"item5"`
	Item6          int    `json:"item6"` // Trinket
}

// Items returns the seven final item slots in slot order.
func (p MatchParticipant) Items() [7]int {
	return [7]int{p.Item0, p.Item1, p.Item2, p.Item3, p.Item4, p.Item5, p.Item6}
}

// TimelineResponse represents the response from /lol/match/v5/matches/{matchId}/timeline
type TimelineResponse struct {
	Metadata TimelineMetadata `json:"metadata"`
	Info     TimelineInfo     `json:"info"`
}

type TimelineMetadata struct {
	MatchID      string   `json:"matchId"`
	Participants []string `json:"participants"` // PUUIDs
}

type TimelineInfo struct {
	FrameInterval int64           `json:"frameInterval"` // milliseconds
	Frames        []TimelineFrame `json:"frames"`
}

type TimelineFrame struct {
	Timestamp         int64                       `json:"timestamp"`
	Events            []TimelineEvent             `json:"events"`
	ParticipantFrames map[string]ParticipantFrame `json:"participantFrames"`
}

// Participant returns the frame for a participant id (1-10).
func (f TimelineFrame) Participant(id int) (ParticipantFrame, bool) {
	pf, ok := f.ParticipantFrames[strconv.Itoa(id)]
	return pf, ok
}

type ParticipantFrame struct {
	ParticipantID       int      `json:"participantId"`
	TotalGold           int      `json:"totalGold"`
	CurrentGold         int      `json:"currentGold"`
	XP                  int      `json:"xp"`
	Level               int      `json:"level"`
	MinionsKilled       int      `json:"minionsKilled"`
	JungleMinionsKilled int      `json:"jungleMinionsKilled"`
	Position            Position `json:"position"`
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Timeline event types consumed by the snapshot extractor
const (
	EventEliteMonsterKill = "ELITE_MONSTER_KILL"
	EventBuildingKill     = "BUILDING_KILL"
	EventChampionKill     = "CHAMPION_KILL"

	MonsterDragon = "DRAGON"
	MonsterBaron  = "BARON_NASHOR"
	BuildingTower = "TOWER_BUILDING"
)

type TimelineEvent struct {
	Type          string `json:"type"`
	Timestamp     int64  `json:"timestamp"`
	ParticipantID int    `json:"participantId,omitempty"`
	ItemID        int    `json:"itemId,omitempty"`
	KillerID      int    `json:"killerId,omitempty"`
	KillerTeamID  int    `json:"killerTeamId,omitempty"`
	TeamID        int    `json:"teamId,omitempty"` // owner of a destroyed building
	VictimID      int    `json:"victimId,omitempty"`
	MonsterType   string `json:"monsterType,omitempty"`
	BuildingType  string `json:"buildingType,omitempty"`
}

// LeagueEntryResponse represents a ranked league entry from /lol/league/v4/entries/by-puuid
type LeagueEntryResponse struct {
	LeagueID     string `json:"leagueId"`
	PUUID        string `json:"puuid"`
	QueueType    string `json:"queueType"` // RANKED_SOLO_5x5, RANKED_FLEX_SR
	Tier         string `json:"tier"`
	Rank         string `json:"rank"` // I, II, III, IV
	LeaguePoints int    `json:"leaguePoints"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
}

// LeagueListResponse is an apex tier listing from /lol/league/v4/challengerleagues/by-queue
type LeagueListResponse struct {
	Tier    string           `json:"tier"`
	Queue   string           `json:"queue"`
	Entries []LeagueListItem `json:"entries"`
}

type LeagueListItem struct {
	PUUID        string `json:"puuid"`
	LeaguePoints int    `json:"leaguePoints"`
	Rank         string `json:"rank"`
	Wins         int    `json:"wins"`
	Losses       int    `json:"losses"`
}
