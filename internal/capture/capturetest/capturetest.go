// Package capturetest provides scripted capture providers and encoders for
// exercising recording sessions without real devices.
package capturetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"boothrec/internal/capture"
)

// Handle is a fake capture handle that counts releases.
type Handle struct {
	kind       capture.Kind
	revoked    chan struct{}
	revokeOnce sync.Once
	releases   atomic.Int32
}

// NewHandle returns an unreleased handle for kind.
func NewHandle(kind capture.Kind) *Handle {
	return &Handle{kind: kind, revoked: make(chan struct{})}
}

func (h *Handle) Kind() capture.Kind { return h.kind }

func (h *Handle) Input() capture.Input {
	return capture.Input{Format: "fake", Target: string(h.kind)}
}

func (h *Handle) Revoked() <-chan struct{} { return h.revoked }

func (h *Handle) Released() bool { return h.releases.Load() > 0 }

func (h *Handle) Release() error {
	h.releases.Add(1)
	return nil
}

// Releases returns how many times Release was called.
func (h *Handle) Releases() int { return int(h.releases.Load()) }

// Revoke simulates the system withdrawing the source.
func (h *Handle) Revoke() {
	h.revokeOnce.Do(func() { close(h.revoked) })
}

// Provider is a scripted capture.Provider.
type Provider struct {
	mu      sync.Mutex
	errs    map[capture.Kind]error
	delays  map[capture.Kind]time.Duration
	handles []*Handle
}

// NewProvider returns a provider that grants every source immediately.
func NewProvider() *Provider {
	return &Provider{
		errs:   make(map[capture.Kind]error),
		delays: make(map[capture.Kind]time.Duration),
	}
}

// Fail makes acquisitions of kind fail. A nil err uses a denied error.
func (p *Provider) Fail(kind capture.Kind, err error) {
	if err == nil {
		err = &capture.Error{Kind: capture.ErrSourceUnavailable, Source: kind, Err: errors.New("permission denied")}
	}
	p.mu.Lock()
	p.errs[kind] = err
	p.mu.Unlock()
}

// Delay holds acquisitions of kind for d. The delay ignores cancellation,
// like a system picker that cannot be dismissed.
func (p *Provider) Delay(kind capture.Kind, d time.Duration) {
	p.mu.Lock()
	p.delays[kind] = d
	p.mu.Unlock()
}

func (p *Provider) Acquire(_ context.Context, kind capture.Kind) (capture.Handle, error) {
	p.mu.Lock()
	err := p.errs[kind]
	delay := p.delays[kind]
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	h := NewHandle(kind)
	p.mu.Lock()
	p.handles = append(p.handles, h)
	p.mu.Unlock()
	return h, nil
}

// Handles returns every handle granted so far.
func (p *Provider) Handles() []*Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Handle(nil), p.handles...)
}

// Handle returns the most recent handle granted for kind, or nil.
func (p *Provider) Handle(kind capture.Kind) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.handles) - 1; i >= 0; i-- {
		if p.handles[i].kind == kind {
			return p.handles[i]
		}
	}
	return nil
}

// Script describes what a fake stream emits.
type Script struct {
	// Fragments are emitted in order, one per Interval.
	Fragments [][]byte
	Interval  time.Duration
	// Tail is emitted once after Stop, before output closes.
	Tail []byte
	// Stall keeps output open after Stop until Unstall is called.
	Stall bool
	// EndAfterFragments closes output on its own once Fragments are
	// exhausted, with EndErr as the reason.
	EndAfterFragments bool
	EndErr            error
}

// Encoder is a scripted capture.Encoder.
type Encoder struct {
	mu          sync.Mutex
	native      capture.Encoding
	unsupported map[string]bool
	rejected    map[string]bool
	startErrs   map[capture.Kind]error
	scripts     map[capture.Kind]Script
	streams     []*Stream
}

// NewEncoder returns an encoder that supports every encoding and emits
// nothing until scripted.
func NewEncoder() *Encoder {
	return &Encoder{
		native:      capture.EncodingMatroska,
		unsupported: make(map[string]bool),
		rejected:    make(map[string]bool),
		startErrs:   make(map[capture.Kind]error),
		scripts:     make(map[capture.Kind]Script),
	}
}

// Unsupport makes Supports report false for the named encoding.
func (e *Encoder) Unsupport(name string) {
	e.mu.Lock()
	e.unsupported[name] = true
	e.mu.Unlock()
}

// Reject makes Start fail with ErrEncodingUnsupported for the named encoding.
func (e *Encoder) Reject(name string) {
	e.mu.Lock()
	e.rejected[name] = true
	e.mu.Unlock()
}

// FailStart makes Start fail for kind with err.
func (e *Encoder) FailStart(kind capture.Kind, err error) {
	e.mu.Lock()
	e.startErrs[kind] = err
	e.mu.Unlock()
}

// Script sets what streams for kind emit.
func (e *Encoder) Script(kind capture.Kind, script Script) {
	e.mu.Lock()
	e.scripts[kind] = script
	e.mu.Unlock()
}

func (e *Encoder) Native() capture.Encoding { return e.native }

func (e *Encoder) Supports(enc capture.Encoding) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.unsupported[enc.Name]
}

func (e *Encoder) Start(_ context.Context, handle capture.Handle, enc capture.Encoding) (capture.Stream, error) {
	e.mu.Lock()
	rejected := e.rejected[enc.Name]
	startErr := e.startErrs[handle.Kind()]
	script := e.scripts[handle.Kind()]
	e.mu.Unlock()

	if rejected {
		return nil, capture.ErrEncodingUnsupported
	}
	if startErr != nil {
		return nil, startErr
	}
	s := &Stream{
		kind:     handle.Kind(),
		encoding: enc,
		out:      make(chan []byte),
		stop:     make(chan struct{}),
		unstall:  make(chan struct{}),
	}
	e.mu.Lock()
	e.streams = append(e.streams, s)
	e.mu.Unlock()
	go s.run(script)
	return s, nil
}

// Streams returns every stream started so far.
func (e *Encoder) Streams() []*Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Stream(nil), e.streams...)
}

// Stream returns the most recent stream for kind, or nil.
func (e *Encoder) Stream(kind capture.Kind) *Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.streams) - 1; i >= 0; i-- {
		if e.streams[i].kind == kind {
			return e.streams[i]
		}
	}
	return nil
}

// UnstallAll releases every stalled stream.
func (e *Encoder) UnstallAll() {
	for _, s := range e.Streams() {
		s.Unstall()
	}
}

// Stream is a fake running encoder.
type Stream struct {
	kind        capture.Kind
	encoding    capture.Encoding
	out         chan []byte
	stop        chan struct{}
	stopOnce    sync.Once
	stops       atomic.Int32
	unstall     chan struct{}
	unstallOnce sync.Once
	flushes     atomic.Int32
	err         error
}

func (s *Stream) Fragments() <-chan []byte { return s.out }

func (s *Stream) Flush() { s.flushes.Add(1) }

func (s *Stream) Stop() {
	s.stops.Add(1)
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Stream) Err() error { return s.err }

// Encoding returns the encoding the stream was started with.
func (s *Stream) Encoding() capture.Encoding { return s.encoding }

// Flushes returns how many flushes were requested.
func (s *Stream) Flushes() int { return int(s.flushes.Load()) }

// Stops returns how many times Stop was called.
func (s *Stream) Stops() int { return int(s.stops.Load()) }

// Unstall lets a stalled stream close its output.
func (s *Stream) Unstall() {
	s.unstallOnce.Do(func() { close(s.unstall) })
}

func (s *Stream) run(script Script) {
	stopped := false
	for _, fragment := range script.Fragments {
		if script.Interval > 0 {
			select {
			case <-time.After(script.Interval):
			case <-s.stop:
				stopped = true
			}
		}
		if stopped {
			break
		}
		select {
		case s.out <- fragment:
		case <-s.stop:
			stopped = true
		}
		if stopped {
			break
		}
	}

	if !stopped && script.EndAfterFragments {
		s.err = script.EndErr
		if s.err == nil {
			s.err = errors.New("stream ended")
		}
		close(s.out)
		return
	}

	<-s.stop
	if len(script.Tail) > 0 {
		s.out <- script.Tail
	}
	if script.Stall {
		<-s.unstall
	}
	close(s.out)
}
