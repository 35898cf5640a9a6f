package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"boothrec/internal/config"
	"boothrec/internal/notifications"
	"boothrec/internal/testsupport"
)

type captured struct {
	calls    int
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		got.calls++
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		got.body = string(body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("topic closed"))
	}))
	t.Cleanup(server.Close)
	return server, got
}

func configFor(t *testing.T, url string) *config.Config {
	cfg := testsupport.NewConfig(t, testsupport.WithNtfyTopic(url))
	cfg.Notifications.RequestTimeout = 5
	return cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(testsupport.NewConfig(t))
	if err := svc.NotifyRecordingFailed(context.Background(), "classic", errors.New("boom")); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("nil config: %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "uploaded recording",
			send: func(s notifications.Service) error {
				return s.NotifyRecordingCompleted(context.Background(), notifications.Recording{
					Category: "retro frame",
					Address:  "gridfs://boothrec/videos/abc",
					Bytes:    3 * 1024 * 1024,
					Duration: 15 * time.Second,
				})
			},
			expectTitle:   "Boothrec - Recording Saved",
			expectMessage: "🎥 Retro Frame recording saved (3.0 MiB, 15s)\ngridfs://boothrec/videos/abc",
			expectTags:    "boothrec,recording,completed",
		},
		{
			name: "local only recording",
			send: func(s notifications.Service) error {
				return s.NotifyRecordingCompleted(context.Background(), notifications.Recording{
					Category:  "classic",
					LocalOnly: true,
					LocalRef:  "local://123/classic.mp4",
					Bytes:     512,
				})
			},
			expectTitle:    "Boothrec - Saved Locally",
			expectMessage:  "🎥 Classic recording saved (512 B)\nRemote store unavailable; kept at local://123/classic.mp4",
			expectTags:     "boothrec,recording,local",
			expectPriority: "high",
		},
		{
			name: "failure",
			send: func(s notifications.Service) error {
				return s.NotifyRecordingFailed(context.Background(), "classic", errors.New("no data captured"))
			},
			expectTitle:    "Boothrec - Recording Failed",
			expectMessage:  "❌ Recording failed (Classic): no data captured",
			expectTags:     "boothrec,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "Boothrec - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "boothrec,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, got := newNtfyServer(t, http.StatusOK)
			svc := notifications.NewService(configFor(t, server.URL))
			if err := tc.send(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

func TestNtfyServiceHonoursSwitches(t *testing.T) {
	server, got := newNtfyServer(t, http.StatusOK)
	cfg := configFor(t, server.URL)
	cfg.Notifications.Recording = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(cfg)
	if err := svc.NotifyRecordingCompleted(context.Background(), notifications.Recording{Category: "classic"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.NotifyRecordingFailed(context.Background(), "classic", errors.New("x")); err != nil {
		t.Fatal(err)
	}
	if got.calls != 0 {
		t.Fatalf("expected suppressed notifications, got %d calls", got.calls)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server, _ := newNtfyServer(t, http.StatusForbidden)
	svc := notifications.NewService(configFor(t, server.URL))
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic closed") {
		t.Fatalf("expected 403 error with body, got %v", err)
	}
}
