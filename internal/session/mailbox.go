package session

import (
	"sync"
	"time"

	"boothrec/internal/capture"
	"boothrec/internal/deadline"
	"boothrec/internal/persistence"
)

type eventKind int

const (
	evCountdownTick eventKind = iota + 1
	evCountdownDone
	evAcquired
	evChunk
	evRecordingTick
	evDeadline
	evFinalizeGrace
	evFinalized
	evRevoked
	evUploaded
)

type event struct {
	epoch uint64
	kind  eventKind

	seconds   int
	remaining time.Duration
	trip      deadline.Trip
	source    capture.Kind
	artifact  capture.Artifact
	err       error
	size      int
	pipeline  *capture.Pipeline

	result    persistence.Result
	secondary []persistence.Result
}

// mailbox is an unbounded queue that never blocks the poster. Timer and
// pipeline callbacks post while holding their own locks.
type mailbox struct {
	mu     sync.Mutex
	queue  []event
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) ready() <-chan struct{} { return m.notify }

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.queue
	m.queue = nil
	return queue
}

func (ev event) fromPipeline() bool {
	return ev.kind == evChunk || ev.kind == evFinalized || ev.kind == evRevoked
}
