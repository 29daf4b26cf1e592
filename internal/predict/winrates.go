package predict

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// DefaultWinRate is used for champions without historical data.
const DefaultWinRate = 0.5

// WinRateSource supplies historical win rates keyed by champion name.
type WinRateSource interface {
	WinRate(champion string) (float64, bool)
}

// StaticWinRates is an in-memory WinRateSource. Lookups fall back to a
// case-insensitive match.
type StaticWinRates map[string]float64

func (s StaticWinRates) WinRate(champion string) (float64, bool) {
	if wr, ok := s[champion]; ok {
		return wr, true
	}
	for name, wr := range s {
		if strings.EqualFold(name, champion) {
			return wr, true
		}
	}
	return 0, false
}

type championStat struct {
	WinRate float64 `json:"win_rate"`
	Games   int     `json:"games,omitempty"`
}

// LoadWinRatesFile reads {"Ahri": {"win_rate": 0.51}, ...}.
func LoadWinRatesFile(path string) (StaticWinRates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read win rates: %w", err)
	}
	var stats map[string]championStat
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("decode win rates %s: %w", path, err)
	}
	out := make(StaticWinRates, len(stats))
	for name, s := range stats {
		out[name] = s.WinRate
	}
	return out, nil
}

func winRateOf(src WinRateSource, champion string) float64 {
	if src == nil {
		return DefaultWinRate
	}
	if wr, ok := src.WinRate(champion); ok {
		return wr
	}
	return DefaultWinRate
}
