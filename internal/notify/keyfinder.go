package notify

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	defaultDiscordBaseURL = "https://discord.com/api/v10"
	defaultPollInterval   = 10 * time.Second
	defaultDiscordTimeout = 10 * time.Second

	// Number of messages to fetch per poll
	defaultMessageLimit = 5
)

// Riot API keys: RGAPI- followed by a uuid-like body
var apiKeyPattern = regexp.MustCompile(`RGAPI-[a-zA-Z0-9-]{20,50}`)

// DiscordMessage represents a message from the Discord API
type DiscordMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
}

// KeyFinder polls a Discord channel for a replacement Riot API key
type KeyFinder struct {
	botToken     string
	channelID    string
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
	log          *zap.SugaredLogger
}

// KeyFinderOption configures a KeyFinder
type KeyFinderOption func(*KeyFinder)

// WithDiscordBaseURL sets a custom Discord API base URL (for testing)
func WithDiscordBaseURL(url string) KeyFinderOption {
	return func(f *KeyFinder) { f.baseURL = url }
}

// WithPollInterval sets the polling interval for WaitForKey
func WithPollInterval(interval time.Duration) KeyFinderOption {
	return func(f *KeyFinder) { f.pollInterval = interval }
}

// WithKeyFinderLogger sets the logger
func WithKeyFinderLogger(l *zap.Logger) KeyFinderOption {
	return func(f *KeyFinder) { f.log = l.Sugar().Named("keyfinder") }
}

// NewKeyFinder creates a new KeyFinder
func NewKeyFinder(botToken, channelID string, opts ...KeyFinderOption) *KeyFinder {
	f := &KeyFinder{
		botToken:     botToken,
		channelID:    channelID,
		baseURL:      defaultDiscordBaseURL,
		pollInterval: defaultPollInterval,
		httpClient:   &http.Client{Timeout: defaultDiscordTimeout},
		log:          zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ParseAPIKey extracts the first Riot API key in content
func ParseAPIKey(content string) (string, bool) {
	match := apiKeyPattern.FindString(content)
	return match, match != ""
}

// PollForKey returns the newest key posted after since, or "" if there is none
func (f *KeyFinder) PollForKey(ctx context.Context, since time.Time) (string, error) {
	messages, err := f.fetchMessages(ctx)
	if err != nil {
		return "", err
	}

	var (
		newest   string
		newestAt time.Time
	)
	for _, msg := range messages {
		posted, err := time.Parse(time.RFC3339, msg.Timestamp)
		if err != nil || !posted.After(since) {
			continue
		}
		key, found := ParseAPIKey(msg.Content)
		if !found {
			continue
		}
		if newest == "" || posted.After(newestAt) {
			newest, newestAt = key, posted
			f.log.Infow("found key", "author", msg.Author.Username, "key", maskAPIKey(key))
		}
	}
	return newest, nil
}

// WaitForKey polls until a key posted after since appears or ctx ends
func (f *KeyFinder) WaitForKey(ctx context.Context, since time.Time) (string, error) {
	f.log.Infow("waiting for new API key", "channel", f.channelID, "interval", f.pollInterval)

	for {
		key, err := f.PollForKey(ctx, since)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			f.log.Warnw("poll failed", "error", err)
		}
		if key != "" {
			return key, nil
		}
		if err := sleepContext(ctx, f.pollInterval); err != nil {
			return "", err
		}
	}
}

// fetchMessages fetches recent messages from the channel
func (f *KeyFinder) fetchMessages(ctx context.Context) ([]DiscordMessage, error) {
	url := fmt.Sprintf("%s/channels/%s/messages?limit=%d", f.baseURL, f.channelID, defaultMessageLimit)

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bot "+f.botToken)

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			if err := sleepContext(ctx, retryAfter(resp.Header.Get("Retry-After"))); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("discord API returned status %d", resp.StatusCode)
		}

		var messages []DiscordMessage
		err = json.NewDecoder(resp.Body).Decode(&messages)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return messages, nil
	}
	return nil, fmt.Errorf("discord API still rate limited after %d attempts", maxRetries)
}
