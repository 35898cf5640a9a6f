package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"boothrec/internal/capture"
	"boothrec/internal/capture/capturetest"
	"boothrec/internal/persistence"
)

const waitTimeout = 5 * time.Second

func fastConfig() Config {
	return Config{
		Countdown:       30 * time.Millisecond,
		Duration:        300 * time.Millisecond,
		WatchdogGrace:   100 * time.Millisecond,
		FinalizeGrace:   150 * time.Millisecond,
		TickInterval:    5 * time.Millisecond,
		DefaultCategory: "classic",
		Sources:         []capture.Kind{capture.KindDisplay, capture.KindDevice},
	}
}

func steadyScript(payload string) capturetest.Script {
	fragments := make([][]byte, 200)
	for i := range fragments {
		fragments[i] = []byte(payload)
	}
	return capturetest.Script{Fragments: fragments, Interval: 10 * time.Millisecond}
}

type recorder struct {
	mu       sync.Mutex
	updates  []Update
	terminal chan Outcome
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan Outcome, 4)}
}

func (r *recorder) OnUpdate(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder) OnTerminal(o Outcome) { r.terminal <- o }

// phases returns the phase sequence with consecutive repeats collapsed.
func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Phase
	for _, u := range r.updates {
		if len(out) == 0 || out[len(out)-1] != u.Phase {
			out = append(out, u.Phase)
		}
	}
	return out
}

func (r *recorder) entries(phase Phase) int {
	count := 0
	for _, p := range r.phases() {
		if p == phase {
			count++
		}
	}
	return count
}

func (r *recorder) waitFor(t *testing.T, what string, match func(Update) bool) Update {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, u := range r.updates {
			if match(u) {
				r.mu.Unlock()
				return u
			}
		}
		r.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; phases=%v", what, r.phases())
	return Update{}
}

// waitRecording blocks until every source has reported and data is arriving.
func (r *recorder) waitRecording(t *testing.T) {
	t.Helper()
	r.waitFor(t, "recording", func(u Update) bool {
		return u.Phase == PhaseRecording && !u.Acquiring && u.CapturedBytes > 0
	})
}

func (r *recorder) waitTerminal(t *testing.T) Outcome {
	t.Helper()
	select {
	case out := <-r.terminal:
		return out
	case <-time.After(waitTimeout):
		t.Fatalf("no terminal outcome; phases=%v", r.phases())
		return Outcome{}
	}
}

func (r *recorder) expectNoTerminal(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case out := <-r.terminal:
		t.Fatalf("unexpected terminal outcome: %+v", out)
	case <-time.After(wait):
	}
}

type remoteStub struct {
	mu   sync.Mutex
	err  error
	puts []persistence.Metadata
}

func (s *remoteStub) Name() string { return "stub" }

func (s *remoteStub) Put(_ context.Context, _ []byte, meta persistence.Metadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, meta)
	if s.err != nil {
		return "", s.err
	}
	return "stub://" + meta.Filename, nil
}

func (s *remoteStub) Puts() []persistence.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]persistence.Metadata(nil), s.puts...)
}

type harness struct {
	o        *Orchestrator
	provider *capturetest.Provider
	encoder  *capturetest.Encoder
	remote   *remoteStub
	service  *persistence.Service
	rec      *recorder
	cancel   context.CancelFunc
	done     chan error
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		provider: capturetest.NewProvider(),
		encoder:  capturetest.NewEncoder(),
		remote:   &remoteStub{},
		rec:      newRecorder(),
		done:     make(chan error, 1),
	}
	h.encoder.Script(capture.KindDisplay, steadyScript("D"))
	h.encoder.Script(capture.KindDevice, steadyScript("V"))
	h.service = persistence.NewService(persistence.NewLocalRegistry(""), nil, persistence.Options{
		Origin:         "booth",
		FilenamePrefix: "photobooth_video",
	}, h.remote)

	opts = append([]Option{WithObserver(h.rec)}, opts...)
	h.o = New(cfg, h.provider, h.encoder, h.service, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
		h.encoder.UnstallAll()
	})
	return h
}

func (h *harness) start(t *testing.T, category string) string {
	t.Helper()
	id, err := h.o.Start(context.Background(), Request{Category: category})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return id
}

func (h *harness) timersArmed(t *testing.T) bool {
	t.Helper()
	var armed bool
	err := h.o.do(context.Background(), func() error {
		if a := h.o.current; a != nil {
			armed = a.timersArmed()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	return armed
}

func (h *harness) phase(t *testing.T) Phase {
	t.Helper()
	snap, err := h.o.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap.Phase
}

func waitReleased(t *testing.T, handles []*capturetest.Handle) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		all := true
		for _, handle := range handles {
			if handle.Releases() == 0 {
				all = false
			}
		}
		if all {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	for _, handle := range handles {
		if got := handle.Releases(); got != 1 {
			t.Fatalf("%s handle released %d times, want 1", handle.Kind(), got)
		}
	}
}

func assertPhaseOrder(t *testing.T, got []Phase, want ...Phase) {
	t.Helper()
	i := 0
	for _, p := range got {
		if i < len(want) && p == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Fatalf("phase sequence %v does not contain %v in order", got, want)
	}
}
