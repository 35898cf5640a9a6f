package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"boothrec/internal/config"
	"boothrec/internal/textutil"
)

const userAgent = "boothrec/0.1.0"

// Recording summarizes a completed attempt for a notification.
type Recording struct {
	Category  string
	Address   string
	LocalOnly bool
	LocalRef  string
	Bytes     int
	Duration  time.Duration
}

// Service defines the notification surface exposed to the recorder.
type Service interface {
	NotifyRecordingCompleted(ctx context.Context, rec Recording) error
	NotifyRecordingFailed(ctx context.Context, category string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		recording: cfg.Notifications.Recording,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	recording bool
	errors    bool
}

func (n *ntfyService) NotifyRecordingCompleted(ctx context.Context, rec Recording) error {
	if !n.recording {
		return nil
	}
	label := textutil.DisplayLabel(rec.Category)
	var builder strings.Builder
	fmt.Fprintf(&builder, "🎥 %s recording saved (%s", label, formatSize(rec.Bytes))
	if rec.Duration > 0 {
		fmt.Fprintf(&builder, ", %s", rec.Duration.Round(time.Second))
	}
	builder.WriteString(")")

	data := payload{
		title: "Boothrec - Recording Saved",
		tags:  []string{"boothrec", "recording", "completed"},
	}
	if rec.LocalOnly {
		data.title = "Boothrec - Saved Locally"
		data.tags = []string{"boothrec", "recording", "local"}
		data.priority = "high"
		fmt.Fprintf(&builder, "\nRemote store unavailable; kept at %s", rec.LocalRef)
	} else if rec.Address != "" {
		fmt.Fprintf(&builder, "\n%s", rec.Address)
	}
	data.message = builder.String()
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyRecordingFailed(ctx context.Context, category string, err error) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Recording failed")
	if category = strings.TrimSpace(category); category != "" {
		builder.WriteString(" (")
		builder.WriteString(textutil.DisplayLabel(category))
		builder.WriteString(")")
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Boothrec - Recording Failed",
		message:  builder.String(),
		tags:     []string{"boothrec", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Boothrec - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"boothrec", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
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

func formatSize(bytes int) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	value := float64(bytes)
	for _, suffix := range []string{"KiB", "MiB", "GiB"} {
		value /= unit
		if value < unit || suffix == "GiB" {
			return fmt.Sprintf("%.1f %s", value, suffix)
		}
	}
	return fmt.Sprintf("%d B", bytes)
}

type noopService struct{}

func (noopService) NotifyRecordingCompleted(context.Context, Recording) error  { return nil }
func (noopService) NotifyRecordingFailed(context.Context, string, error) error { return nil }
func (noopService) TestNotification(context.Context) error                     { return nil }
