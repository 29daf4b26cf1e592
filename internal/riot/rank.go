package riot

// QueueRankedSolo is the league queue type for ranked solo/duo.
const QueueRankedSolo = "RANKED_SOLO_5x5"

// TierOrder maps tier names to their ordering (higher = better)
var TierOrder = map[string]int{
	"IRON":        1,
	"BRONZE":      2,
	"SILVER":      3,
	"GOLD":        4,
	"PLATINUM":    5,
	"EMERALD":     6,
	"DIAMOND":     7,
	"MASTER":      8,
	"GRANDMASTER": 9,
	"CHALLENGER":  10,
}

// DivisionOrder maps divisions to their ordering (higher = better)
var DivisionOrder = map[string]int{
	"IV":  1,
	"III": 2,
	"II":  3,
	"I":   4,
}

// IsApexTier reports whether a tier has no divisions.
func IsApexTier(tier string) bool {
	return TierOrder[tier] >= TierOrder["MASTER"]
}

// MeetsMinimumRank reports whether tier/division is at or above the lowest
// division of minTier. An empty minTier accepts everyone.
func MeetsMinimumRank(tier, division, minTier string) bool {
	if minTier == "" {
		return true
	}
	want, ok := TierOrder[minTier]
	if !ok {
		return false
	}
	got, ok := TierOrder[tier]
	if !ok || got < want {
		return false
	}
	if IsApexTier(tier) {
		return true
	}
	// Non-apex tiers always carry a division
	_, ok = DivisionOrder[division]
	return ok
}
