package riot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	// API base URLs
	DefaultRegionalURL = "https://americas.api.riotgames.com"
	DefaultPlatformURL = "https://na1.api.riotgames.com"

	defaultRetryAfter      = 10 * time.Second
	defaultMaxRetryElapsed = 2 * time.Minute
	defaultHTTPTimeout     = 30 * time.Second
)

// HostURL returns the API base URL for a routing value such as "americas" or "euw1".
func HostURL(routing string) string {
	return fmt.Sprintf("https://%s.api.riotgames.com", routing)
}

// Client is a rate-limited Riot API client
type Client struct {
	keyMu  sync.RWMutex
	apiKey string

	regionalURL string
	platformURL string
	httpClient  *http.Client
	limiter     *dualLimiter
	sleep       sleepFunc
	log         *zap.SugaredLogger

	maxRetryElapsed time.Duration
	retryInitial    time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithRegionalURL sets the host used for account and match endpoints.
func WithRegionalURL(u string) Option {
	return func(c *Client) { c.regionalURL = u }
}

// WithPlatformURL sets the host used for league and status endpoints.
func WithPlatformURL(u string) Option {
	return func(c *Client) { c.platformURL = u }
}

// WithBaseURL points both hosts at the same server. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.regionalURL = u
		c.platformURL = u
	}
}

// WithRateLimits overrides the per-second and per-two-minute budgets.
func WithRateLimits(perSecond, per2Min int) Option {
	return func(c *Client) { c.limiter = newDualLimiter(perSecond, per2Min) }
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l.Sugar().Named("riot") }
}

// WithMaxRetryElapsed bounds how long a transient 5xx or network failure is retried.
func WithMaxRetryElapsed(d time.Duration) Option {
	return func(c *Client) { c.maxRetryElapsed = d }
}

// NewClient creates a new Riot API client
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("riot: api key is empty")
	}

	c := &Client{
		apiKey:          apiKey,
		regionalURL:     DefaultRegionalURL,
		platformURL:     DefaultPlatformURL,
		httpClient:      &http.Client{Timeout: defaultHTTPTimeout},
		limiter:         newDualLimiter(DefaultRequestsPerSecond, DefaultRequestsPer2Min),
		sleep:           sleepContext,
		log:             zap.NewNop().Sugar(),
		maxRetryElapsed: defaultMaxRetryElapsed,
		retryInitial:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.limiter.onWaiting = func(d time.Duration) {
		rateLimitWaits.Inc()
		c.log.Infow("rate window full, waiting", "wait", d.Round(100*time.Millisecond))
	}

	c.log.Infow("client ready", "key", maskKey(apiKey), "regional", c.regionalURL, "platform", c.platformURL)
	return c, nil
}

// SetAPIKey swaps the key used for subsequent requests.
func (c *Client) SetAPIKey(key string) {
	c.keyMu.Lock()
	c.apiKey = key
	c.keyMu.Unlock()
	c.log.Infow("api key updated", "key", maskKey(key))
}

func (c *Client) key() string {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.apiKey
}

func maskKey(k string) string {
	if len(k) > 12 {
		return k[:8] + "..." + k[len(k)-4:]
	}
	return "***"
}

// Fetch performs a budgeted GET and decodes the JSON body into out.
//
// 429 responses are retried after Retry-After for as long as ctx lives.
// 5xx and network failures are retried with exponential backoff up to the
// configured elapsed time; a 429 wait restarts that clock. Other statuses
// return a *StatusError.
func (c *Client) Fetch(ctx context.Context, url string, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxElapsedTime = c.maxRetryElapsed

	op := func() error {
		err := c.fetchOnce(ctx, url, out, b.Reset)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		var de *decodeError
		if errors.As(err, &de) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		transientRetries.Inc()
		c.log.Warnw("transient failure, retrying", "url", url, "error", err, "wait", wait)
	}

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

type decodeError struct {
	url string
	err error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("riot: decode %s: %v", e.url, e.err)
}

func (e *decodeError) Unwrap() error { return e.err }

// fetchOnce sends a single logical request, sleeping through any 429s.
// throttled runs after each completed 429 wait.
func (c *Client) fetchOnce(ctx context.Context, url string, out any, throttled func()) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Riot-Token", c.key())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			requestsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("riot: request %s: %w", url, err)
		}
		requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			drain(resp)
			throttledTotal.Inc()
			c.log.Warnw("429 rate limited", "url", url, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			throttled()
			continue
		}

		if resp.StatusCode != http.StatusOK {
			drain(resp)
			return &StatusError{StatusCode: resp.StatusCode, URL: url}
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return &decodeError{url: url, err: err}
		}
		return nil
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// retryAfter parses a Retry-After seconds value, defaulting to ten seconds.
func retryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

// GetAccountByRiotID fetches account info by Riot ID (gameName#tagLine)
func (c *Client) GetAccountByRiotID(ctx context.Context, gameName, tagLine string) (*AccountResponse, error) {
	u := fmt.Sprintf("%s/riot/account/v1/accounts/by-riot-id/%s/%s",
		c.regionalURL, url.PathEscape(gameName), url.PathEscape(tagLine))

	var account AccountResponse
	if err := c.Fetch(ctx, u, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetMatchIDs fetches recent ranked solo queue match IDs for a player
func (c *Client) GetMatchIDs(ctx context.Context, puuid string, start, count int) ([]string, error) {
	u := fmt.Sprintf("%s/lol/match/v5/matches/by-puuid/%s/ids?queue=%d&start=%d&count=%d",
		c.regionalURL, url.PathEscape(puuid), RankedSoloQueue, start, count)

	var matchIDs []string
	if err := c.Fetch(ctx, u, &matchIDs); err != nil {
		return nil, err
	}
	return matchIDs, nil
}

// GetMatch fetches match details
func (c *Client) GetMatch(ctx context.Context, matchID string) (*MatchResponse, error) {
	u := fmt.Sprintf("%s/lol/match/v5/matches/%s", c.regionalURL, url.PathEscape(matchID))

	var match MatchResponse
	if err := c.Fetch(ctx, u, &match); err != nil {
		return nil, err
	}
	return &match, nil
}

// GetTimeline fetches match timeline
func (c *Client) GetTimeline(ctx context.Context, matchID string) (*TimelineResponse, error) {
	u := fmt.Sprintf("%s/lol/match/v5/matches/%s/timeline", c.regionalURL, url.PathEscape(matchID))

	var timeline TimelineResponse
	if err := c.Fetch(ctx, u, &timeline); err != nil {
		return nil, err
	}
	return &timeline, nil
}

// GetChallengerLeague fetches the solo queue Challenger listing
func (c *Client) GetChallengerLeague(ctx context.Context) (*LeagueListResponse, error) {
	u := c.platformURL + "/lol/league/v4/challengerleagues/by-queue/" + QueueRankedSolo

	var league LeagueListResponse
	if err := c.Fetch(ctx, u, &league); err != nil {
		return nil, err
	}
	return &league, nil
}

// GetTopChallengerPUUID returns the highest-LP Challenger player
func (c *Client) GetTopChallengerPUUID(ctx context.Context) (string, error) {
	league, err := c.GetChallengerLeague(ctx)
	if err != nil {
		return "", err
	}
	if len(league.Entries) == 0 {
		return "", errors.New("riot: challenger league is empty")
	}

	entries := append([]LeagueListItem(nil), league.Entries...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].LeaguePoints > entries[j].LeaguePoints
	})
	return entries[0].PUUID, nil
}

// GetRankedEntriesByPUUID fetches every ranked entry for a player
func (c *Client) GetRankedEntriesByPUUID(ctx context.Context, puuid string) ([]LeagueEntryResponse, error) {
	u := fmt.Sprintf("%s/lol/league/v4/entries/by-puuid/%s", c.platformURL, url.PathEscape(puuid))

	var entries []LeagueEntryResponse
	if err := c.Fetch(ctx, u, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetSoloQueueRank returns the player's solo queue tier and division.
// hasRank is false for players without a placed solo queue entry.
func (c *Client) GetSoloQueueRank(ctx context.Context, puuid string) (tier, division string, hasRank bool, err error) {
	entries, err := c.GetRankedEntriesByPUUID(ctx, puuid)
	if err != nil {
		return "", "", false, err
	}
	for _, e := range entries {
		if e.QueueType == QueueRankedSolo {
			return e.Tier, e.Rank, true, nil
		}
	}
	return "", "", false, nil
}
