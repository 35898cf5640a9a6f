package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"boothrec/internal/logging"
)

// State is the lifecycle position of a Pipeline.
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Events receives pipeline notifications. Callbacks run on the pipeline's
// goroutine and must not block.
type Events struct {
	OnChunk         func(source Kind, size int)
	OnFinalized     func(Artifact)
	OnSourceRevoked func(source Kind, err error)
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	// Encodings is the preference order; the encoder's native encoding is
	// always tried last.
	Encodings     []Encoding
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Pipeline records one source into a ChunkBuffer.
type Pipeline struct {
	kind    Kind
	encoder Encoder
	opts    PipelineOptions
	events  Events
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	buffer   *ChunkBuffer
	handle   Handle
	encoding Encoding

	stopCh      chan struct{}
	stopOnce    sync.Once
	releaseOnce sync.Once
	done        chan struct{}
}

// NewPipeline constructs an idle pipeline for the given source kind.
func NewPipeline(kind Kind, encoder Encoder, opts PipelineOptions, events Events) *Pipeline {
	if len(opts.Encodings) == 0 {
		opts.Encodings = []Encoding{EncodingMP4, EncodingWebM}
	}
	logger := logging.NewComponentLogger(opts.Logger, "capture").With(logging.Source(kind))
	return &Pipeline{
		kind:    kind,
		encoder: encoder,
		opts:    opts,
		events:  events,
		logger:  logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Kind returns the source kind this pipeline records.
func (p *Pipeline) Kind() Kind { return p.kind }

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Encoding returns the negotiated encoding; zero before Start succeeds.
func (p *Pipeline) Encoding() Encoding {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoding
}

// Done is closed after OnFinalized has been delivered. It is never closed
// for a pipeline whose Start failed.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Start negotiates an encoding and begins recording. On failure the handle
// is released and the pipeline is stopped.
func (p *Pipeline) Start(ctx context.Context, handle Handle) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrPipelineStarted
	}
	p.handle = handle
	p.mu.Unlock()

	if handle == nil || handle.Released() {
		p.abort()
		return &Error{Kind: ErrSourceUnavailable, Source: p.kind, Err: errors.New("no usable handle")}
	}
	select {
	case <-p.stopCh:
		p.abort()
		return &Error{Kind: ErrSourceUnavailable, Source: p.kind, Err: errors.New("pipeline stopped before start")}
	default:
	}

	chain := fallbackChain(p.opts.Encodings, p.encoder.Native())
	var (
		stream  Stream
		chosen  Encoding
		lastErr error
	)
	for _, enc := range chain {
		if !p.encoder.Supports(enc) {
			p.logger.Debug("encoding not supported", logging.String("encoding", enc.Name))
			continue
		}
		s, err := p.encoder.Start(ctx, handle, enc)
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrEncodingUnsupported) {
				p.logger.Debug("encoding rejected", logging.String("encoding", enc.Name), logging.Error(err))
				continue
			}
			p.abort()
			return &Error{Kind: ErrSourceUnavailable, Source: p.kind, Err: err}
		}
		stream, chosen = s, enc
		break
	}
	if stream == nil {
		p.abort()
		return &Error{Kind: ErrEncodingUnsupported, Source: p.kind, Err: lastErr}
	}

	if chosen.Name != chain[0].Name {
		attrs := append(logging.DecisionAttrs("encoding", chosen.Name, "preferred encoding unavailable"),
			logging.String(logging.FieldEventType, "encoding_substituted"),
			logging.String("preferred", chain[0].Name),
		)
		p.logger.Info("encoding substituted", logging.Args(attrs...)...)
	}

	p.mu.Lock()
	p.encoding = chosen
	p.buffer = NewChunkBuffer(p.kind, chosen.MediaType)
	p.state = StateRecording
	p.mu.Unlock()

	p.logger.Info("recording started", logging.String("encoding", chosen.Name))
	go p.run(stream, handle)
	return nil
}

// Stop asks the pipeline to finish. It does not wait; OnFinalized reports
// completion. Safe to call repeatedly and before Start.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.mu.Lock()
	if p.state == StateRecording {
		p.state = StateStopping
	}
	p.mu.Unlock()
}

// Partial finalizes the buffer with whatever has arrived so far. A later
// drain delivers the same artifact through OnFinalized.
func (p *Pipeline) Partial() Artifact {
	p.mu.Lock()
	buffer := p.buffer
	p.mu.Unlock()
	if buffer == nil {
		return Artifact{Source: p.kind}
	}
	return buffer.Finalize()
}

func (p *Pipeline) run(stream Stream, handle Handle) {
	defer close(p.done)

	var flush <-chan time.Time
	if p.opts.FlushInterval > 0 {
		ticker := time.NewTicker(p.opts.FlushInterval)
		defer ticker.Stop()
		flush = ticker.C
	}

	fragments := stream.Fragments()
	revoked := handle.Revoked()
	stopCh := p.stopCh
	stopping := false

	for fragments != nil {
		select {
		case fragment, ok := <-fragments:
			if !ok {
				fragments = nil
				continue
			}
			if p.buffer.Append(fragment) && len(fragment) > 0 && p.events.OnChunk != nil {
				p.events.OnChunk(p.kind, len(fragment))
			}
		case <-flush:
			stream.Flush()
		case <-revoked:
			revoked = nil
			flush = nil
			if !stopping {
				stopping = true
				p.setState(StateStopping)
				p.revoke(&Error{Kind: ErrSourceRevoked, Source: p.kind, Err: errors.New("source withdrawn by system")})
			}
			stream.Stop()
		case <-stopCh:
			stopCh = nil
			flush = nil
			stopping = true
			stream.Stop()
		}
	}

	if !stopping {
		p.setState(StateStopping)
		p.revoke(&Error{Kind: ErrSourceRevoked, Source: p.kind, Err: stream.Err()})
	}

	p.release(handle)
	p.setState(StateStopped)
	artifact := p.buffer.Finalize()
	p.logger.Info("recording finalized",
		logging.Int("bytes", artifact.Size()),
		logging.String("media_type", artifact.MediaType),
	)
	if p.events.OnFinalized != nil {
		p.events.OnFinalized(artifact)
	}
}

func (p *Pipeline) revoke(err error) {
	logging.WarnWithContext(p.logger, "capture source revoked", "source_revoked",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the source is still connected"),
		logging.String(logging.FieldImpact, "recording stops early"),
	)
	if p.events.OnSourceRevoked != nil {
		p.events.OnSourceRevoked(p.kind, err)
	}
}

func (p *Pipeline) abort() {
	p.mu.Lock()
	handle := p.handle
	p.state = StateStopped
	p.mu.Unlock()
	if handle != nil {
		p.release(handle)
	}
}

func (p *Pipeline) release(handle Handle) {
	p.releaseOnce.Do(func() {
		if err := handle.Release(); err != nil {
			p.logger.Debug("release capture handle", logging.Error(err))
		}
	})
}

func (p *Pipeline) setState(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}
