// Package config loads settings from the environment (optionally seeded from a
// .env file) and overlays an optional YAML file on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"winpredict/internal/riot"
	"winpredict/internal/snapshot"
)

// EnvPaths are tried in order by LoadEnv
var EnvPaths = []string{".env", "../.env", "../../.env"}

type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	Riot     RiotConfig     `yaml:"riot"`
	Crawl    CrawlConfig    `yaml:"crawl"`
	Postgres PostgresConfig `yaml:"postgres"`
	Discord  DiscordConfig  `yaml:"discord"`
	Models   ModelsConfig   `yaml:"models"`
	Server   ServerConfig   `yaml:"server"`
}

type RiotConfig struct {
	APIKey            string        `yaml:"-"`
	Region            string        `yaml:"region"`   // americas, europe, asia
	Platform          string        `yaml:"platform"` // na1, euw1, kr, ...
	RequestsPerSecond int           `yaml:"requests_per_second"`
	RequestsPer2Min   int           `yaml:"requests_per_2min"`
	Timeout           time.Duration `yaml:"timeout"`
}

type CrawlConfig struct {
	Seeds            []string `yaml:"seeds"`
	MinTier          string   `yaml:"min_tier"`
	MatchesPerPlayer int      `yaml:"matches_per_player"`
	Workers          int      `yaml:"workers"`
	Target           int      `yaml:"target"`
	SaveInterval     int      `yaml:"save_interval"`
	MaxFrontier      int      `yaml:"max_frontier"`
	MinGameMinutes   float64  `yaml:"min_game_minutes"`
	Minutes          []int    `yaml:"minutes"`

	StateBackend   string `yaml:"state_backend"` // file or sqlite
	CheckpointPath string `yaml:"checkpoint_path"`
	DatasetPath    string `yaml:"dataset_path"`

	ArchiveDir     string        `yaml:"archive_dir"` // empty disables the raw archive
	ArchiveColdDir string        `yaml:"archive_cold_dir"`
	MatchesPerFile int           `yaml:"matches_per_file"`
	MaxFileAge     time.Duration `yaml:"max_file_age"`
	Compress       bool          `yaml:"compress"`

	MetricsAddr string `yaml:"metrics_addr"`
}

type PostgresConfig struct {
	URL             string `yaml:"-"`
	WinRatePatch    string `yaml:"win_rate_patch"`
	WinRateMinGames int    `yaml:"win_rate_min_games"`
}

type DiscordConfig struct {
	WebhookURL   string        `yaml:"-"`
	BotToken     string        `yaml:"-"`
	ChannelID    string        `yaml:"channel_id"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxKeyRotations caps replacement keys per run; 0 is unlimited.
	MaxKeyRotations int `yaml:"max_key_rotations"`
	// KeyWaitTimeout bounds each wait for a replacement key; 0 waits forever.
	KeyWaitTimeout time.Duration `yaml:"key_wait_timeout"`
}

// KeyRotation reports whether a replacement key can be requested over Discord
func (d DiscordConfig) KeyRotation() bool {
	return d.BotToken != "" && d.ChannelID != ""
}

type ModelsConfig struct {
	DraftPath       string `yaml:"draft"`
	GameStateRFPath string `yaml:"game_state_rf"`
	GameStateLRPath string `yaml:"game_state_lr"`
	SnapshotPath    string `yaml:"snapshot"`
	WinRatesPath    string `yaml:"win_rates"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AllowedOrigins enables CORS for browser clients; empty disables it
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoadEnv loads the first .env file found in EnvPaths and returns its path,
// or "" when none exists.
func LoadEnv() string {
	for _, path := range EnvPaths {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads configuration from environment variables, then overlays the YAML
// file at path if path is not empty. Secrets are only read from the
// environment.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		Riot: RiotConfig{
			APIKey:            strings.Trim(os.Getenv("RIOT_API_KEY"), `"`),
			Region:            getEnv("RIOT_REGION", "americas"),
			Platform:          getEnv("RIOT_PLATFORM", "na1"),
			RequestsPerSecond: getEnvInt("RIOT_REQUESTS_PER_SECOND", riot.DefaultRequestsPerSecond),
			RequestsPer2Min:   getEnvInt("RIOT_REQUESTS_PER_2MIN", riot.DefaultRequestsPer2Min),
			Timeout:           getEnvDuration("RIOT_TIMEOUT", 30*time.Second),
		},

		Crawl: CrawlConfig{
			Seeds:            getEnvList("CRAWL_SEEDS"),
			MinTier:          getEnv("CRAWL_MIN_TIER", ""),
			MatchesPerPlayer: getEnvInt("CRAWL_MATCHES_PER_PLAYER", 20),
			Workers:          getEnvInt("CRAWL_WORKERS", 4),
			Target:           getEnvInt("CRAWL_TARGET", 0),
			SaveInterval:     getEnvInt("CRAWL_SAVE_INTERVAL", 10),
			MaxFrontier:      getEnvInt("CRAWL_MAX_FRONTIER", 10000),
			MinGameMinutes:   15,
			Minutes:          getEnvInts("CRAWL_MINUTES", snapshot.DefaultMinutes),

			StateBackend:   getEnv("CRAWL_STATE_BACKEND", "file"),
			CheckpointPath: strings.Trim(getEnv("CRAWL_CHECKPOINT", "data/checkpoint.json"), `"`),
			DatasetPath:    strings.Trim(getEnv("CRAWL_DATASET", "data/matches.csv"), `"`),

			ArchiveDir:     strings.Trim(os.Getenv("BLOB_STORAGE_PATH"), `"`),
			MatchesPerFile: getEnvInt("ARCHIVE_MATCHES_PER_FILE", 1000),
			MaxFileAge:     getEnvDuration("ARCHIVE_MAX_FILE_AGE", time.Hour),
			Compress:       getEnvBool("ARCHIVE_COMPRESS", true),

			MetricsAddr: getEnv("CRAWL_METRICS_ADDR", ""),
		},

		Postgres: PostgresConfig{
			URL:             os.Getenv("DATABASE_URL"),
			WinRatePatch:    getEnv("WIN_RATE_PATCH", ""),
			WinRateMinGames: getEnvInt("WIN_RATE_MIN_GAMES", 50),
		},

		Discord: DiscordConfig{
			WebhookURL:   os.Getenv("DISCORD_WEBHOOK_URL"),
			BotToken:     os.Getenv("DISCORD_BOT_TOKEN"),
			ChannelID:    os.Getenv("DISCORD_CHANNEL_ID"),
			PollInterval: getEnvDuration("DISCORD_POLL_INTERVAL", 10*time.Second),

			MaxKeyRotations: getEnvInt("DISCORD_MAX_KEY_ROTATIONS", 0),
			KeyWaitTimeout:  getEnvDuration("DISCORD_KEY_WAIT_TIMEOUT", 0),
		},

		Models: ModelsConfig{
			DraftPath:       getEnv("MODEL_DRAFT", "models/draft.json"),
			GameStateRFPath: getEnv("MODEL_GAME_STATE_RF", "models/game_state_rf.json"),
			GameStateLRPath: getEnv("MODEL_GAME_STATE_LR", "models/game_state_lr.json"),
			SnapshotPath:    getEnv("MODEL_SNAPSHOT", "models/snapshot.json"),
			WinRatesPath:    getEnv("MODEL_WIN_RATES", ""),
		},

		Server: ServerConfig{
			Addr:         getEnv("PREDICTD_ADDR", ":8080"),
			ReadTimeout:  getEnvDuration("PREDICTD_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("PREDICTD_WRITE_TIMEOUT", 10*time.Second),

			AllowedOrigins: getEnvList("PREDICTD_ALLOWED_ORIGINS"),
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Validate checks settings every command depends on
func (c *Config) Validate() error {
	var errs []error
	switch c.Riot.Region {
	case "americas", "europe", "asia", "sea":
	default:
		errs = append(errs, fmt.Errorf("unknown riot region %q", c.Riot.Region))
	}
	if c.Riot.RequestsPerSecond <= 0 || c.Riot.RequestsPer2Min <= 0 {
		errs = append(errs, errors.New("riot rate limits must be positive"))
	}
	switch c.Crawl.StateBackend {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown state backend %q", c.Crawl.StateBackend))
	}
	if len(c.Crawl.Minutes) == 0 {
		errs = append(errs, errors.New("at least one snapshot minute is required"))
	}
	for _, m := range c.Crawl.Minutes {
		if m <= 0 {
			errs = append(errs, fmt.Errorf("snapshot minute %d must be positive", m))
		}
	}
	if c.Crawl.Workers <= 0 {
		errs = append(errs, errors.New("crawl workers must be positive"))
	}
	if c.Crawl.Target < 0 {
		errs = append(errs, errors.New("crawl target cannot be negative"))
	}
	if c.Discord.MaxKeyRotations < 0 || c.Discord.KeyWaitTimeout < 0 {
		errs = append(errs, errors.New("key rotation bounds cannot be negative"))
	}
	return errors.Join(errs...)
}

// RegionalURL is the host for account and match endpoints
func (r RiotConfig) RegionalURL() string { return riot.HostURL(r.Region) }

// PlatformURL is the host for league and status endpoints
func (r RiotConfig) PlatformURL() string { return riot.HostURL(r.Platform) }

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvInts parses "10,15,20"; any bad element falls back to the default
func getEnvInts(key string, fallback []int) []int {
	raw := getEnvList(key)
	if len(raw) == 0 {
		return append([]int(nil), fallback...)
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		i, err := strconv.Atoi(v)
		if err != nil {
			return append([]int(nil), fallback...)
		}
		out = append(out, i)
	}
	return out
}
