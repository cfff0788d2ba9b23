package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tsumugi/internal/config"
	"tsumugi/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "batch started",
			event: notifications.EventBatchStarted,
			payload: notifications.Payload{
				"count":    12,
				"category": "character_profile",
			},
			expectTitle:   "Tsumugi - Batch Started",
			expectMessage: "Enriching 12 characters (character_profile)",
			expectTags:    "tsumugi,batch,started",
		},
		{
			name:  "batch completed",
			event: notifications.EventBatchCompleted,
			payload: notifications.Payload{
				"succeeded": 9,
				"failed":    0,
				"skipped":   3,
				"duration":  95 * time.Second,
			},
			expectTitle:   "Tsumugi - Batch Complete",
			expectMessage: "Enrichment complete: 9 succeeded, 0 failed, 3 skipped in 1m35s",
			expectTags:    "tsumugi,batch,completed",
		},
		{
			name:  "batch completed with errors",
			event: notifications.EventBatchCompleted,
			payload: notifications.Payload{
				"succeeded":    5,
				"failed":       2,
				"skipped":      1,
				"notProcessed": 4,
				"duration":     30 * time.Second,
			},
			expectTitle:   "Tsumugi - Batch Complete (with errors)",
			expectMessage: "Enrichment complete: 5 succeeded, 2 failed, 1 skipped in 30s (4 not processed)",
			expectTags:    "tsumugi,batch,completed",
		},
		{
			name:  "enrichment failed",
			event: notifications.EventEnrichmentFailed,
			payload: notifications.Payload{
				"character": "Spike Spiegel",
				"error":     "rate limited: provider throttled the request",
			},
			expectTitle:    "Tsumugi - Enrichment Failed",
			expectMessage:  "❌ Enrichment failed for Spike Spiegel: rate limited: provider throttled the request",
			expectTags:     "tsumugi,enrich,error",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			payload:        nil,
			expectTitle:    "Tsumugi - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "tsumugi,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.BatchEvents = false
	cfg.Notifications.ErrorEvents = false

	svc := notifications.NewService(&cfg)
	disabled := []notifications.Event{
		notifications.EventBatchStarted,
		notifications.EventBatchCompleted,
		notifications.EventEnrichmentFailed,
	}

	for _, event := range disabled {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"count": 1}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(&cfg)
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
