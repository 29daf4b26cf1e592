package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testKey = "RGAPI-12345678-abcd-1234-efgh-567890abcdef"

func TestParseAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
		found    bool
	}{
		{"valid key at start", testKey, testKey, true},
		{"valid key with text before", "Here's the new key: " + testKey, testKey, true},
		{"valid key in middle of text", "The key is " + testKey + " and it should work", testKey, true},
		{"key with newlines", "New key:\n" + testKey + "\nEnjoy!", testKey, true},
		{"no key present", "Hello, this is just a regular message", "", false},
		{"partial key (too short)", "RGAPI-1234", "", false},
		{"empty message", "", "", false},
		{
			"multiple keys (returns first)",
			"RGAPI-first-key-1234-5678-abcdefghijkl and RGAPI-second-key-5678-9012-lmnopqrstuvw",
			"RGAPI-first-key-1234-5678-abcdefghijkl",
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, found := ParseAPIKey(tt.content)
			if found != tt.found {
				t.Errorf("Expected found=%v, got=%v", tt.found, found)
			}
			if key != tt.expected {
				t.Errorf("Expected key=%q, got=%q", tt.expected, key)
			}
		})
	}
}

func messageServer(t *testing.T, messages func(call int32) []DiscordMessage) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.Header.Get("Authorization") != "Bot test-bot-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Query().Get("limit") == "" {
			t.Error("Expected limit parameter")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(messages(n))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestKeyFinder_PollChannel(t *testing.T) {
	now := time.Now()
	server, _ := messageServer(t, func(int32) []DiscordMessage {
		return []DiscordMessage{
			{ID: "2", Content: "Here's the key: " + testKey, Timestamp: now.Add(-2 * time.Minute).Format(time.RFC3339)},
			{ID: "1", Content: "Hello, this is a test", Timestamp: now.Add(-5 * time.Minute).Format(time.RFC3339)},
		}
	})

	finder := NewKeyFinder("test-bot-token", "chan", WithDiscordBaseURL(server.URL))
	key, err := finder.PollForKey(context.Background(), now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if key != testKey {
		t.Errorf("Expected to find API key, got: %s", key)
	}
}

func TestKeyFinder_FiltersByTimestamp(t *testing.T) {
	now := time.Now()
	server, _ := messageServer(t, func(int32) []DiscordMessage {
		return []DiscordMessage{
			{ID: "1", Content: "Old key: RGAPI-old-key-1234-5678-abcdefghijkl", Timestamp: now.Add(-time.Hour).Format(time.RFC3339)},
			{ID: "2", Content: "New key: RGAPI-new-key-1234-5678-abcdefghijkl", Timestamp: now.Add(-time.Minute).Format(time.RFC3339)},
			{ID: "3", Content: "Unparseable: RGAPI-bad-time-1234-5678-abcdefghij", Timestamp: "yesterday"},
		}
	})

	finder := NewKeyFinder("test-bot-token", "chan", WithDiscordBaseURL(server.URL))
	key, err := finder.PollForKey(context.Background(), now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if key != "RGAPI-new-key-1234-5678-abcdefghijkl" {
		t.Errorf("Expected new key, got: %s", key)
	}

	key, err = finder.PollForKey(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if key != "" {
		t.Errorf("keys older than since should be ignored, got %s", key)
	}
}

func TestKeyFinder_NetworkError(t *testing.T) {
	finder := NewKeyFinder("test-bot-token", "chan", WithDiscordBaseURL("http://localhost:1"))
	if _, err := finder.PollForKey(context.Background(), time.Now()); err == nil {
		t.Error("Expected network error")
	}
}

func TestKeyFinder_RateLimited(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode([]DiscordMessage{{ID: "1", Content: testKey, Timestamp: time.Now().Format(time.RFC3339)}})
	}))
	defer server.Close()

	finder := NewKeyFinder("test-bot-token", "chan", WithDiscordBaseURL(server.URL))
	key, err := finder.PollForKey(context.Background(), time.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("Expected success after retry, got: %v", err)
	}
	if key != testKey {
		t.Errorf("key = %q", key)
	}
	if attempts.Load() != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts.Load())
	}
}

func TestKeyFinder_WaitForKey(t *testing.T) {
	server, calls := messageServer(t, func(n int32) []DiscordMessage {
		if n < 2 {
			return []DiscordMessage{}
		}
		return []DiscordMessage{{ID: "1", Content: testKey, Timestamp: time.Now().Format(time.RFC3339)}}
	})

	finder := NewKeyFinder("test-bot-token", "chan",
		WithDiscordBaseURL(server.URL),
		WithPollInterval(20*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key, err := finder.WaitForKey(ctx, time.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("Expected to find key, got error: %v", err)
	}
	if key != testKey {
		t.Errorf("Expected API key, got: %s", key)
	}
	if calls.Load() < 2 {
		t.Errorf("Expected at least 2 poll attempts, got: %d", calls.Load())
	}
}

func TestKeyFinder_WaitForKeyTimeout(t *testing.T) {
	server, _ := messageServer(t, func(int32) []DiscordMessage { return []DiscordMessage{} })

	finder := NewKeyFinder("test-bot-token", "chan",
		WithDiscordBaseURL(server.URL),
		WithPollInterval(20*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := finder.WaitForKey(ctx, time.Now()); err == nil {
		t.Error("Expected timeout error")
	}
}
