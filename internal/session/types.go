package session

import (
	"errors"
	"time"

	"boothrec/internal/capture"
	"boothrec/internal/persistence"
)

var (
	// ErrNotIdle rejects Start while an attempt is in progress or awaiting Reset.
	ErrNotIdle = errors.New("session not idle")
	// ErrNoDataCaptured is the only fatal attempt failure: no source produced any bytes.
	ErrNoDataCaptured = errors.New("no data captured")
	// ErrClosed is returned by commands once Run has exited.
	ErrClosed = errors.New("session orchestrator closed")
)

// Phase is the orchestrator's position in the attempt lifecycle.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseCountingDown Phase = "counting_down"
	PhaseRecording    Phase = "recording"
	PhaseStopping     Phase = "stopping"
	PhaseFinalizing   Phase = "finalizing"
	PhaseUploading    Phase = "uploading"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// Terminal reports whether the phase ends an attempt.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Trigger names what moved a recording into Stopping.
type Trigger string

const (
	TriggerUser     Trigger = "user"
	TriggerDeadline Trigger = "deadline"
	TriggerWatchdog Trigger = "watchdog"
	TriggerRevoked  Trigger = "revoked"
)

// Request starts an attempt. An empty Category uses the configured default.
type Request struct {
	Category string
}

// Update is the observable state of the orchestrator.
type Update struct {
	AttemptID          string
	Category           string
	Phase              Phase
	CountdownRemaining int
	RecordingRemaining time.Duration
	// CapturedBytes counts fragment bytes received across every source.
	CapturedBytes int
	// Acquiring is set while a source is still being opened during Recording.
	Acquiring bool
}

// Outcome is delivered once per attempt when it reaches a terminal phase.
type Outcome struct {
	AttemptID string
	Category  string
	// Artifact is the designated artifact handed to persistence.
	Artifact capture.Artifact
	// Result is non-nil for every completed attempt.
	Result *persistence.Result
	// Artifacts holds every non-empty artifact, designated first.
	Artifacts []capture.Artifact
	// Secondary holds local registrations for the non-designated artifacts.
	Secondary []persistence.Result
	Trigger   Trigger
	StartedAt time.Time
	EndedAt   time.Time
	Failed    bool
	Err       error
}

// Observer receives phase changes and the terminal outcome. Methods run on
// the orchestrator goroutine and must return promptly.
type Observer interface {
	OnUpdate(Update)
	OnTerminal(Outcome)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Update   func(Update)
	Terminal func(Outcome)
}

func (f ObserverFuncs) OnUpdate(u Update) {
	if f.Update != nil {
		f.Update(u)
	}
}

func (f ObserverFuncs) OnTerminal(o Outcome) {
	if f.Terminal != nil {
		f.Terminal(o)
	}
}

type nopObserver struct{}

func (nopObserver) OnUpdate(Update)    {}
func (nopObserver) OnTerminal(Outcome) {}
