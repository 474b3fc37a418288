package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"curator/internal/config"
)

const userAgent = "Curator/0.1.0"

// Event identifies a notification-worthy workflow outcome. Each event is
// gated by a toggle in the notifications config block.
type Event string

const (
	EventCaseCommitted     Event = "case_committed"
	EventDuplicatesSkipped Event = "duplicates_skipped"
	EventCrossSubjectMatch Event = "cross_subject_match"
	EventSyncConflict      Event = "sync_conflict"
	EventReconcile         Event = "reconcile"
	EventReviewNeeded      Event = "review_needed"
	EventError             Event = "error"
	EventTest              Event = "test"
)

// Payload carries the per-event message fields.
type Payload map[string]string

// Service is the notification surface exposed to the orchestrator.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when a topic is
// configured. When no topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	window := time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventCaseCommitted:     cfg.Notifications.Commits,
			EventDuplicatesSkipped: cfg.Notifications.Duplicates,
			EventCrossSubjectMatch: cfg.Notifications.Duplicates,
			EventSyncConflict:      cfg.Notifications.Conflicts,
			EventReconcile:         cfg.Notifications.Reconcile,
			EventReviewNeeded:      cfg.Notifications.Errors,
			EventError:             cfg.Notifications.Errors,
			EventTest:              true,
		},
		window:   window,
		lastSent: make(map[string]time.Time),
		clock:    time.Now,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
	window   time.Duration
	clock    func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// Publish formats and sends the event unless its toggle is off or an
// identical notification already went out inside the dedup window.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg := format(event, payload)
	if n.suppressed(event, msg.body) {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) suppressed(event Event, body string) bool {
	if n.window <= 0 {
		return false
	}
	key := string(event) + "\x00" + body
	now := n.clock()
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.window {
		return true
	}
	n.lastSent[key] = now
	return false
}

func format(event Event, payload Payload) message {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }
	switch event {
	case EventCaseCommitted:
		return message{
			title: "Curator - Case Committed",
			body:  fmt.Sprintf("Committed %s: %s file(s) under %s", get("case"), get("files"), get("experiment")),
			tags:  []string{"curator", "commit", "completed"},
		}
	case EventDuplicatesSkipped:
		return message{
			title: "Curator - Duplicates Skipped",
			body:  fmt.Sprintf("Skipped %s duplicate file(s) for %s", get("count"), get("case")),
			tags:  []string{"curator", "duplicate"},
		}
	case EventCrossSubjectMatch:
		return message{
			title: "Curator - Cross-Subject Match",
			body:  fmt.Sprintf("%s shares image content with %s", get("case"), get("other")),
			tags:  []string{"curator", "duplicate", "cross-subject"},
		}
	case EventSyncConflict:
		return message{
			title:    "Curator - Sync Conflict",
			body:     fmt.Sprintf("Registry sync conflict for %s; reconcile before retrying", get("case")),
			tags:     []string{"curator", "registry", "conflict"},
			priority: "high",
		}
	case EventReconcile:
		return message{
			title: "Curator - Reconcile",
			body:  get("summary"),
			tags:  []string{"curator", "reconcile"},
		}
	case EventReviewNeeded:
		return message{
			title:    "Curator - Review Needed",
			body:     fmt.Sprintf("%s needs review: %s", get("case"), get("reason")),
			tags:     []string{"curator", "review"},
			priority: "high",
		}
	case EventError:
		var builder strings.Builder
		builder.WriteString("Error")
		if label := get("context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if detail := get("error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "Curator - Error",
			body:     builder.String(),
			tags:     []string{"curator", "error", "alert"},
			priority: "high",
		}
	case EventTest:
		return message{
			title:    "Curator - Test",
			body:     "Notification system test",
			tags:     []string{"curator", "test"},
			priority: "low",
		}
	}
	return message{title: "Curator", body: string(event), tags: []string{"curator"}}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
