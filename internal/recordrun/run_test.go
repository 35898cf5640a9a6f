package recordrun_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"boothrec/internal/capture"
	"boothrec/internal/capture/capturetest"
	"boothrec/internal/config"
	"boothrec/internal/logging"
	"boothrec/internal/recordings"
	"boothrec/internal/recordrun"
	"boothrec/internal/session"
	"boothrec/internal/testsupport"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type ntfyCapture struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (c *ntfyCapture) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.titles...), append([]string(nil), c.bodies...)
}

func newNtfy(t *testing.T) (*httptest.Server, *ntfyCapture) {
	t.Helper()
	got := &ntfyCapture{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.mu.Lock()
		got.titles = append(got.titles, r.Header.Get("Title"))
		got.bodies = append(got.bodies, string(body))
		got.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, got
}

func fastTune(c *session.Config) {
	c.Countdown = 20 * time.Millisecond
	c.Duration = 200 * time.Millisecond
	c.WatchdogGrace = 100 * time.Millisecond
	c.FinalizeGrace = 150 * time.Millisecond
	c.TickInterval = 5 * time.Millisecond
}

func steady(payload string) capturetest.Script {
	fragments := make([][]byte, 300)
	for i := range fragments {
		fragments[i] = []byte(payload)
	}
	return capturetest.Script{Fragments: fragments, Interval: 10 * time.Millisecond}
}

type fixture struct {
	cfg      *config.Config
	provider *capturetest.Provider
	encoder  *capturetest.Encoder
	ntfy     *ntfyCapture
	out      *syncBuffer
	signals  chan os.Signal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	server, got := newNtfy(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithDisplay("lavfi", "testsrc"),
		testsupport.WithNtfyTopic(server.URL),
		testsupport.WithSpool(),
	)
	cfg.Notifications.Recording = true
	cfg.Notifications.Errors = true
	encoder := capturetest.NewEncoder()
	encoder.Script(capture.KindDisplay, steady("d"))
	encoder.Script(capture.KindDevice, steady("v"))
	return &fixture{
		cfg:      cfg,
		provider: capturetest.NewProvider(),
		encoder:  encoder,
		ntfy:     got,
		out:      &syncBuffer{},
		signals:  make(chan os.Signal, 2),
	}
}

func (f *fixture) options(category string) recordrun.Options {
	return recordrun.Options{
		Category:   category,
		Out:        f.out,
		Logger:     logging.NewNop(),
		Interrupts: f.signals,
		Provider:   f.provider,
		Encoder:    f.encoder,
		Tune:       fastTune,
	}
}

func TestRunRecordsIndexesAndNotifies(t *testing.T) {
	f := newFixture(t)

	outcome, err := recordrun.Run(context.Background(), f.cfg, f.options("Neon Party"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Trigger != session.TriggerDeadline {
		t.Fatalf("expected deadline trigger, got %s", outcome.Trigger)
	}
	if outcome.Artifact.Source != capture.KindDisplay {
		t.Fatalf("expected display artifact designated, got %s", outcome.Artifact.Source)
	}
	if outcome.Result == nil || !outcome.Result.LocalOnly || outcome.Result.LocalPath == "" {
		t.Fatalf("expected spooled local-only result, got %+v", outcome.Result)
	}

	store, err := recordings.Open(f.cfg)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer store.Close()
	rows, err := store.List(context.Background(), recordings.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 || rows[0].AttemptID != outcome.AttemptID || !rows[0].LocalOnly {
		t.Fatalf("unexpected index rows: %+v", rows)
	}

	titles, bodies := f.ntfy.snapshot()
	if len(titles) != 1 || titles[0] != "Boothrec - Saved Locally" {
		t.Fatalf("unexpected notifications: %v", titles)
	}
	if !strings.Contains(bodies[0], "Neon Party") {
		t.Fatalf("expected category in notification, got %q", bodies[0])
	}

	progress := f.out.String()
	for _, want := range []string{"Get ready: Neon Party", "Recording", "Saving"} {
		if !strings.Contains(progress, want) {
			t.Fatalf("expected progress to contain %q, got:\n%s", want, progress)
		}
	}

	for _, h := range f.provider.Handles() {
		if h.Releases() != 1 {
			t.Fatalf("expected %s released once, got %d", h.Kind(), h.Releases())
		}
	}
}

func TestRunRejectsConcurrentSession(t *testing.T) {
	f := newFixture(t)
	if err := f.cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	lock := flock.New(f.cfg.LockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })

	if _, err := recordrun.Run(context.Background(), f.cfg, f.options("")); !errors.Is(err, recordrun.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if len(f.provider.Handles()) != 0 {
		t.Fatal("no source should be acquired while another session holds the lock")
	}
}

func TestRunInterruptStopsEarly(t *testing.T) {
	f := newFixture(t)
	opts := f.options("classic")
	opts.Tune = func(c *session.Config) {
		fastTune(c)
		c.Duration = 5 * time.Second
		c.WatchdogGrace = time.Second
	}

	go func() {
		until := time.Now().Add(5 * time.Second)
		for time.Now().Before(until) {
			// A second countdown line means fragments have been arriving for a while.
			if strings.Contains(f.out.String(), "4s left") {
				f.signals <- syscall.SIGINT
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	started := time.Now()
	outcome, err := recordrun.Run(context.Background(), f.cfg, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Trigger != session.TriggerUser {
		t.Fatalf("expected user trigger, got %s", outcome.Trigger)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("interrupt did not stop the recording early (took %s)", elapsed)
	}
}

func TestRunInterruptDuringCountdownAbandons(t *testing.T) {
	f := newFixture(t)
	opts := f.options("classic")
	opts.Tune = func(c *session.Config) {
		fastTune(c)
		c.Countdown = 3 * time.Second
	}
	f.signals <- syscall.SIGINT

	if _, err := recordrun.Run(context.Background(), f.cfg, opts); !errors.Is(err, recordrun.ErrAbandoned) {
		t.Fatalf("expected ErrAbandoned, got %v", err)
	}
	if len(f.provider.Handles()) != 0 {
		t.Fatal("countdown reset must not acquire sources")
	}
	if titles, _ := f.ntfy.snapshot(); len(titles) != 0 {
		t.Fatalf("abandoned attempts must not notify, got %v", titles)
	}
}

func TestRunNoDataCapturedNotifiesFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.Fail(capture.KindDisplay, errors.New("display gone"))
	f.provider.Fail(capture.KindDevice, errors.New("camera gone"))

	outcome, err := recordrun.Run(context.Background(), f.cfg, f.options("classic"))
	if !errors.Is(err, session.ErrNoDataCaptured) {
		t.Fatalf("expected ErrNoDataCaptured, got %v", err)
	}
	if !outcome.Failed {
		t.Fatal("expected failed outcome")
	}
	titles, _ := f.ntfy.snapshot()
	if len(titles) != 1 || titles[0] != "Boothrec - Recording Failed" {
		t.Fatalf("unexpected notifications: %v", titles)
	}
}
