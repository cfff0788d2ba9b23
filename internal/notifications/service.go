package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tsumugi/internal/config"
)

const userAgent = "Tsumugi/0.1.0"

// Event identifies a notification class published by enrichment subsystems.
type Event string

const (
	EventBatchStarted     Event = "batch_started"
	EventBatchCompleted   Event = "batch_completed"
	EventEnrichmentFailed Event = "enrichment_failed"
	EventTest             Event = "test"
)

// Payload carries event-specific fields rendered into the message body.
type Payload map[string]any

// Service defines the notification surface exposed to enrichment components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		batchEvents: cfg.Notifications.BatchEvents,
		errorEvents: cfg.Notifications.ErrorEvents,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	batchEvents bool
	errorEvents bool
}

// Publish renders the event into an ntfy message and posts it. Events disabled
// in configuration return nil without sending.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	switch event {
	case EventBatchStarted:
		if !n.batchEvents {
			return nil
		}
		body := fmt.Sprintf("Enriching %d characters", intValue(payload, "count"))
		if category := stringValue(payload, "category"); category != "" {
			body = fmt.Sprintf("%s (%s)", body, category)
		}
		return n.send(ctx, message{
			title: "Tsumugi - Batch Started",
			body:  body,
			tags:  []string{"tsumugi", "batch", "started"},
		})
	case EventBatchCompleted:
		if !n.batchEvents {
			return nil
		}
		return n.send(ctx, n.batchCompletedMessage(payload))
	case EventEnrichmentFailed:
		if !n.errorEvents {
			return nil
		}
		character := stringValue(payload, "character")
		if character == "" {
			character = "unknown character"
		}
		reason := stringValue(payload, "error")
		if reason == "" {
			reason = "unknown"
		}
		return n.send(ctx, message{
			title:    "Tsumugi - Enrichment Failed",
			body:     fmt.Sprintf("❌ Enrichment failed for %s: %s", character, reason),
			tags:     []string{"tsumugi", "enrich", "error"},
			priority: "high",
		})
	case EventTest:
		return n.send(ctx, message{
			title:    "Tsumugi - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"tsumugi", "test"},
			priority: "low",
		})
	default:
		return nil
	}
}

func (n *ntfyService) batchCompletedMessage(payload Payload) message {
	succeeded := intValue(payload, "succeeded")
	failed := intValue(payload, "failed")
	skipped := intValue(payload, "skipped")

	duration := durationValue(payload, "duration").Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	title := "Tsumugi - Batch Complete"
	if failed > 0 {
		title = "Tsumugi - Batch Complete (with errors)"
	}
	body := fmt.Sprintf("Enrichment complete: %d succeeded, %d failed, %d skipped in %s",
		succeeded, failed, skipped, durationText)
	if notProcessed := intValue(payload, "notProcessed"); notProcessed > 0 {
		body = fmt.Sprintf("%s (%d not processed)", body, notProcessed)
	}

	return message{
		title: title,
		body:  body,
		tags:  []string{"tsumugi", "batch", "completed"},
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func stringValue(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intValue(payload Payload, key string) int {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func durationValue(payload Payload, key string) time.Duration {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v) * time.Second
	default:
		return 0
	}
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
