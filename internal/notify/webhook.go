// Package notify posts crawl reports to Discord and watches a channel for
// replacement API keys.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"

	"winpredict/internal/crawler"
)

const (
	// Colors for Discord embeds
	colorRed   = 15158332 // 0xE74C3C - for errors/expiration
	colorGreen = 5763719  // 0x57F287 - for success
	colorAmber = 15105570 // 0xE67E22 - for interrupted runs

	defaultWebhookTimeout = 10 * time.Second

	// Max attempts when Discord rate limits us
	maxRetries = 3
)

// WebhookPayload represents a Discord webhook message
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// NewCrawlReportPayload describes a finished, interrupted or aborted crawl
func NewCrawlReportPayload(s crawler.Summary) WebhookPayload {
	title, color := "✅ Crawl Complete", colorGreen
	switch {
	case s.Err != nil:
		title, color = "🛑 Crawl Aborted", colorRed
	case s.Interrupted:
		title, color = "⏸️ Crawl Interrupted", colorAmber
	}

	fields := []EmbedField{
		{Name: "Matches This Run", Value: humanize.Comma(int64(s.Collected)), Inline: true},
		{Name: "Total Matches", Value: humanize.Comma(int64(s.TotalCollected)), Inline: true},
		{Name: "Runtime", Value: formatDuration(s.Elapsed), Inline: true},
		{Name: "Players Processed", Value: humanize.Comma(int64(s.PlayersProcessed)), Inline: true},
		{Name: "Frontier", Value: humanize.Comma(int64(s.FrontierLen)), Inline: true},
	}
	if v := formatCounts(s.SnapshotCounts); v != "" {
		fields = append(fields, EmbedField{Name: "Snapshots", Value: v})
	}
	if v := formatSkipped(s.Skipped); v != "" {
		fields = append(fields, EmbedField{Name: "Skipped", Value: v})
	}

	embed := Embed{
		Title:  title,
		Color:  color,
		Fields: fields,
		Footer: &EmbedFooter{Text: "Session " + s.SessionID},
	}
	payload := WebhookPayload{Embeds: []Embed{embed}}
	if s.Err != nil {
		payload.Content = "@here Crawl stopped with an error"
		payload.Embeds[0].Description = s.Err.Error()
	}
	return payload
}

// NewKeyExpiredPayload asks for a replacement key after the provider rejected ours
func NewKeyExpiredPayload(matchesCollected int, runtime time.Duration) WebhookPayload {
	return WebhookPayload{
		Content: "@here API Key Expired!",
		Embeds: []Embed{
			{
				Title: "🔑 API Key Expired",
				Color: colorRed,
				Fields: []EmbedField{
					{Name: "Matches Collected", Value: humanize.Comma(int64(matchesCollected)), Inline: true},
					{Name: "Runtime", Value: formatDuration(runtime), Inline: true},
				},
				Footer: &EmbedFooter{
					Text: "Reply with new RGAPI-xxx key to resume the crawl",
				},
			},
		},
	}
}

// NewKeyAcceptedPayload confirms that a crawl resumed with a new key
func NewKeyAcceptedPayload(apiKey string) WebhookPayload {
	return WebhookPayload{
		Embeds: []Embed{
			{
				Title: "✅ Crawl Resumed",
				Color: colorGreen,
				Fields: []EmbedField{
					{Name: "New Key", Value: maskAPIKey(apiKey) + " (validated)", Inline: true},
				},
				Footer: &EmbedFooter{Text: "Continuing from the last checkpoint"},
			},
		},
	}
}

// WebhookClient sends notifications to a Discord webhook
type WebhookClient struct {
	webhookURL string
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewWebhookClient creates a new WebhookClient
func NewWebhookClient(webhookURL string) *WebhookClient {
	return &WebhookClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: defaultWebhookTimeout},
		sleep:      sleepContext,
	}
}

// NotifyCrawl posts a crawl report
func (c *WebhookClient) NotifyCrawl(ctx context.Context, s crawler.Summary) error {
	return c.Send(ctx, NewCrawlReportPayload(s))
}

// SendKeyExpired posts a key expiration notice
func (c *WebhookClient) SendKeyExpired(ctx context.Context, matchesCollected int, runtime time.Duration) error {
	return c.Send(ctx, NewKeyExpiredPayload(matchesCollected, runtime))
}

// SendKeyAccepted posts a resume notice
func (c *WebhookClient) SendKeyAccepted(ctx context.Context, apiKey string) error {
	return c.Send(ctx, NewKeyAcceptedPayload(apiKey))
}

// Send posts a payload, retrying when rate limited
func (c *WebhookClient) Send(ctx context.Context, payload WebhookPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		resp.Body.Close()

		// Discord returns 204 No Content
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if err := c.sleep(ctx, retryAfter(resp.Header.Get("Retry-After"))); err != nil {
				return err
			}
			continue
		}

		return fmt.Errorf("webhook request failed with status %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook request failed after %d retries", maxRetries)
}

func retryAfter(v string) time.Duration {
	if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// formatDuration formats a duration as "Xh Ym" (e.g., 18h 32m)
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// formatCounts renders snapshot counts as "t10: 1,204 · t15: 1,180"
func formatCounts(counts map[int]int) string {
	minutes := make([]int, 0, len(counts))
	for m := range counts {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)

	parts := make([]string, len(minutes))
	for i, m := range minutes {
		parts[i] = fmt.Sprintf("t%d: %s", m, humanize.Comma(int64(counts[m])))
	}
	return strings.Join(parts, " · ")
}

func formatSkipped(skipped map[string]int) string {
	reasons := make([]string, 0, len(skipped))
	for r := range skipped {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = fmt.Sprintf("%s: %s", r, humanize.Comma(int64(skipped[r])))
	}
	return strings.Join(parts, " · ")
}

// maskAPIKey masks an API key for display (e.g., "RGAPI-xxxx-xxxx" -> "RGAPI...xxxx")
func maskAPIKey(key string) string {
	if len(key) <= 10 {
		return "****"
	}
	return key[:5] + "..." + key[len(key)-4:]
}
