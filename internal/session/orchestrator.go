package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"boothrec/internal/capture"
	"boothrec/internal/countdown"
	"boothrec/internal/deadline"
	"boothrec/internal/logging"
	"boothrec/internal/persistence"
	"boothrec/internal/services"
)

// Persister stores finished artifacts. *persistence.Service satisfies it.
type Persister interface {
	Persist(ctx context.Context, artifact capture.Artifact, category string) persistence.Result
	RegisterLocal(ctx context.Context, artifact capture.Artifact, category string) persistence.Result
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.base = logger
		}
	}
}

// WithObserver registers the collaborator notified of phase changes.
func WithObserver(observer Observer) Option {
	return func(o *Orchestrator) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithGuardOptions appends options to every recording deadline guard.
func WithGuardOptions(opts ...deadline.Option) Option {
	return func(o *Orchestrator) { o.guardOpts = append(o.guardOpts, opts...) }
}

// WithCountdownOptions appends options to every countdown scheduler.
func WithCountdownOptions(opts ...countdown.Option) Option {
	return func(o *Orchestrator) { o.countdownOpts = append(o.countdownOpts, opts...) }
}

// WithIDGenerator overrides how attempt IDs are minted.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

type command struct {
	fn    func() error
	reply chan error
}

// Orchestrator runs recording attempts one at a time.
type Orchestrator struct {
	cfg           Config
	provider      capture.Provider
	encoder       capture.Encoder
	persister     Persister
	observer      Observer
	base          *slog.Logger
	logger        *slog.Logger
	newID         func() string
	guardOpts     []deadline.Option
	countdownOpts []countdown.Option

	cmds    chan command
	mail    *mailbox
	done    chan struct{}
	running atomic.Bool

	// Owned by the Run goroutine.
	runCtx  context.Context
	epoch   uint64
	current *attempt
	status  Update
}

// New constructs an Orchestrator. Call Run before issuing commands.
func New(cfg Config, provider capture.Provider, encoder capture.Encoder, persister Persister, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		provider:  provider,
		encoder:   encoder,
		persister: persister,
		observer:  nopObserver{},
		base:      logging.NewNop(),
		newID:     func() string { return uuid.NewString() },
		cmds:      make(chan command),
		mail:      newMailbox(),
		done:      make(chan struct{}),
		status:    Update{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.base, "session")
	return o
}

// Run processes commands and events until ctx is cancelled. A live attempt
// is abandoned on exit.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return errors.New("session orchestrator already running")
	}
	defer close(o.done)
	o.runCtx = ctx

	for {
		select {
		case <-ctx.Done():
			o.reset()
			return nil
		case cmd := <-o.cmds:
			cmd.reply <- cmd.fn()
		case <-o.mail.ready():
			for _, ev := range o.mail.drain() {
				o.handle(ev)
			}
		}
	}
}

// Start begins a countdown for a new attempt and returns its ID.
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, error) {
	var id string
	err := o.do(ctx, func() error {
		if o.current != nil {
			return ErrNotIdle
		}
		var err error
		id, err = o.begin(req)
		return err
	})
	return id, err
}

// Stop requests the end of the recording. It is ignored outside Recording.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.do(ctx, func() error {
		if a := o.current; a != nil {
			o.requestStop(a, TriggerUser)
		}
		return nil
	})
}

// Reset abandons any attempt and returns to Idle without waiting for
// teardown.
func (o *Orchestrator) Reset(ctx context.Context) error {
	return o.do(ctx, func() error {
		o.reset()
		return nil
	})
}

// Snapshot returns the latest observable state.
func (o *Orchestrator) Snapshot(ctx context.Context) (Update, error) {
	var out Update
	err := o.do(ctx, func() error {
		out = o.status
		return nil
	})
	return out, err
}

func (o *Orchestrator) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case o.cmds <- cmd:
	case <-o.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-cmd.reply
}

func (o *Orchestrator) begin(req Request) (string, error) {
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = o.cfg.DefaultCategory
	}
	o.epoch++
	id := o.newID()
	ctx, cancel := context.WithCancel(services.WithAttemptID(o.runCtx, id))
	a := &attempt{
		id:        id,
		epoch:     o.epoch,
		category:  category,
		ctx:       ctx,
		cancel:    cancel,
		base:      logging.WithAttempt(o.base, id),
		logger:    logging.WithAttempt(o.logger, id).With(logging.String("category", category)),
		countdown: countdown.New(append([]countdown.Option{countdown.WithInterval(o.cfg.TickInterval)}, o.countdownOpts...)...),
		artifacts: make(map[capture.Kind]capture.Artifact, len(o.cfg.Sources)),
	}

	epoch := a.epoch
	err := a.countdown.Begin(o.cfg.Countdown,
		func(secs int) { o.mail.post(event{epoch: epoch, kind: evCountdownTick, seconds: secs}) },
		func() { o.mail.post(event{epoch: epoch, kind: evCountdownDone}) },
	)
	if err != nil {
		cancel()
		return "", err
	}

	o.current = a
	a.logger.Info("recording attempt started",
		logging.Duration("countdown", o.cfg.Countdown),
		logging.Duration("duration", o.cfg.Duration),
	)
	o.setPhase(a, PhaseCountingDown)
	return id, nil
}

func (o *Orchestrator) reset() {
	a := o.current
	if a == nil {
		return
	}
	a.teardown()
	a.cancel()
	o.epoch++
	o.current = nil
	if !a.phase.Terminal() {
		a.logger.Info("recording attempt abandoned", logging.Phase(a.phase))
	}
	o.status = Update{Phase: PhaseIdle}
	o.observer.OnUpdate(o.status)
}

func (o *Orchestrator) handle(ev event) {
	a := o.current
	if a == nil || ev.epoch != a.epoch {
		if ev.kind == evAcquired && ev.pipeline != nil {
			ev.pipeline.Stop()
		}
		return
	}
	// A pipeline can report before its acquisition event is handled.
	if ev.fromPipeline() && !a.live(ev.source) {
		if a.waiting[ev.source] {
			a.early[ev.source] = append(a.early[ev.source], ev)
		}
		return
	}

	switch ev.kind {
	case evCountdownTick:
		if a.phase == PhaseCountingDown {
			a.countdownRemaining = ev.seconds
			o.publish(a)
		}
	case evCountdownDone:
		if a.phase == PhaseCountingDown {
			o.beginRecording(a)
		}
	case evAcquired:
		o.onAcquired(a, ev)
	case evChunk:
		a.capturedBytes += ev.size
		if a.phase == PhaseRecording {
			o.publish(a)
		}
	case evRecordingTick:
		if a.phase == PhaseRecording {
			a.recordingRemaining = ev.remaining
			o.publish(a)
		}
	case evDeadline:
		o.onDeadline(a, ev.trip)
	case evFinalizeGrace:
		o.finalize(a, "finalize grace elapsed")
	case evRevoked:
		if a.phase == PhaseRecording {
			a.logger.Info("capture source revoked", logging.Source(ev.source), logging.Error(ev.err))
			o.requestStop(a, TriggerRevoked)
		}
	case evFinalized:
		o.onFinalized(a, ev)
	case evUploaded:
		if a.phase == PhaseUploading {
			o.complete(a, ev)
		}
	}
}

func (o *Orchestrator) setPhase(a *attempt, phase Phase) {
	a.phase = phase
	a.logger.Debug("phase changed", logging.Phase(phase))
	o.publish(a)
}

func (o *Orchestrator) publish(a *attempt) {
	o.status = Update{
		AttemptID:          a.id,
		Category:           a.category,
		Phase:              a.phase,
		CountdownRemaining: a.countdownRemaining,
		RecordingRemaining: a.recordingRemaining,
		CapturedBytes:      a.capturedBytes,
		Acquiring:          a.phase == PhaseRecording && len(a.waiting) > 0,
	}
	o.observer.OnUpdate(o.status)
}

func (o *Orchestrator) complete(a *attempt, ev event) {
	a.cancel()
	result := ev.result
	o.setPhase(a, PhaseCompleted)

	artifacts := append([]capture.Artifact{a.designated}, a.others...)
	attrs := []logging.Attr{
		logging.Source(a.designated.Source),
		logging.Int("bytes", a.designated.Size()),
		logging.Bool("local_only", result.LocalOnly),
		logging.String("trigger", string(a.trigger)),
	}
	if result.Address != "" {
		attrs = append(attrs, logging.String("address", result.Address))
	}
	a.logger.Info("recording completed", logging.Args(attrs...)...)

	o.observer.OnTerminal(Outcome{
		AttemptID: a.id,
		Category:  a.category,
		Artifact:  a.designated,
		Result:    &result,
		Artifacts: artifacts,
		Secondary: ev.secondary,
		Trigger:   a.trigger,
		StartedAt: a.startedAt,
		EndedAt:   time.Now(),
	})
}

func (o *Orchestrator) fail(a *attempt, err error) {
	a.teardown()
	a.cancel()
	o.setPhase(a, PhaseFailed)
	logging.ErrorWithContext(a.logger, "recording failed", "no_data_captured",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check both capture sources are connected and permitted"),
	)
	o.observer.OnTerminal(Outcome{
		AttemptID: a.id,
		Category:  a.category,
		Trigger:   a.trigger,
		StartedAt: a.startedAt,
		EndedAt:   time.Now(),
		Failed:    true,
		Err:       err,
	})
}
