package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"boothrec/internal/capture"
	"boothrec/internal/countdown"
	"boothrec/internal/deadline"
	"boothrec/internal/logging"
	"boothrec/internal/services"
)

// designationOrder ranks sources when choosing the artifact to upload.
var designationOrder = []capture.Kind{capture.KindDisplay, capture.KindDevice}

// attempt is the state of one recording attempt. Only the Run goroutine
// touches it.
type attempt struct {
	id       string
	epoch    uint64
	category string
	phase    Phase
	ctx      context.Context
	cancel   context.CancelFunc
	base     *slog.Logger
	logger   *slog.Logger

	countdown     *countdown.Scheduler
	guard         *deadline.Guard
	finalizeGuard *deadline.Guard

	// waiting holds sources whose acquisition has not reported back.
	waiting       map[capture.Kind]bool
	stopAcquiring context.CancelFunc
	early         map[capture.Kind][]event
	failures      []error
	pipelines     []*capture.Pipeline
	artifacts     map[capture.Kind]capture.Artifact

	stopping bool
	trigger  Trigger

	countdownRemaining int
	recordingRemaining time.Duration
	capturedBytes      int
	startedAt          time.Time

	designated capture.Artifact
	others     []capture.Artifact
}

// teardown cancels every timer and asks live pipelines to stop. It never
// waits.
func (a *attempt) teardown() {
	a.countdown.Cancel()
	if a.stopAcquiring != nil {
		a.stopAcquiring()
	}
	if a.guard != nil {
		a.guard.Disarm()
	}
	if a.finalizeGuard != nil {
		a.finalizeGuard.Disarm()
	}
	for _, p := range a.pipelines {
		p.Stop()
	}
}

func (a *attempt) timersArmed() bool {
	if a.countdown.Active() {
		return true
	}
	if a.guard != nil && a.guard.Armed() {
		return true
	}
	return a.finalizeGuard != nil && a.finalizeGuard.Armed()
}

func (a *attempt) allFinalized() bool {
	for _, p := range a.pipelines {
		if _, ok := a.artifacts[p.Kind()]; !ok {
			return false
		}
	}
	return true
}

func (a *attempt) live(kind capture.Kind) bool {
	for _, p := range a.pipelines {
		if p.Kind() == kind {
			return true
		}
	}
	return false
}

func (a *attempt) noDataErr() error {
	if cause := errors.Join(a.failures...); cause != nil {
		return fmt.Errorf("%w: %w", ErrNoDataCaptured, cause)
	}
	return ErrNoDataCaptured
}

// beginRecording enters Recording and arms the recording budget before any
// source is acquired, so a slow or hung acquisition still ends on time.
func (o *Orchestrator) beginRecording(a *attempt) {
	a.countdownRemaining = 0
	a.startedAt = time.Now()
	a.recordingRemaining = o.cfg.Duration
	a.waiting = make(map[capture.Kind]bool, len(o.cfg.Sources))
	a.early = make(map[capture.Kind][]event)
	for _, kind := range o.cfg.Sources {
		a.waiting[kind] = true
	}

	epoch := a.epoch
	guardOpts := append([]deadline.Option{
		deadline.WithInterval(o.cfg.TickInterval),
		deadline.WithTick(func(remaining time.Duration) {
			o.mail.post(event{epoch: epoch, kind: evRecordingTick, remaining: remaining})
		}),
	}, o.guardOpts...)
	a.guard = deadline.New(guardOpts...)
	_ = a.guard.Arm(o.cfg.Duration, o.cfg.WatchdogGrace, func(trip deadline.Trip) {
		o.mail.post(event{epoch: epoch, kind: evDeadline, trip: trip})
	})

	acquireCtx, stop := context.WithCancel(a.ctx)
	a.stopAcquiring = stop
	o.setPhase(a, PhaseRecording)
	go o.acquire(acquireCtx, a.ctx, epoch, a.base)
}

// acquire opens every configured source concurrently. Each source reports
// back on its own as soon as its pipeline is running or has failed.
func (o *Orchestrator) acquire(acquireCtx, runCtx context.Context, epoch uint64, logger *slog.Logger) {
	var g errgroup.Group
	for _, kind := range o.cfg.Sources {
		g.Go(func() error {
			p, err := o.open(acquireCtx, runCtx, epoch, kind, logger)
			o.mail.post(event{epoch: epoch, kind: evAcquired, source: kind, pipeline: p, err: err})
			return nil
		})
	}
	_ = g.Wait()
}

// open acquires a handle under acquireCtx and records it under runCtx.
// Ending the acquisition early never cuts a running pipeline short.
func (o *Orchestrator) open(acquireCtx, runCtx context.Context, epoch uint64, kind capture.Kind, logger *slog.Logger) (*capture.Pipeline, error) {
	handle, err := o.provider.Acquire(services.WithSource(acquireCtx, string(kind)), kind)
	if err != nil {
		return nil, err
	}
	if err := acquireCtx.Err(); err != nil {
		_ = handle.Release()
		return nil, &capture.Error{Kind: capture.ErrSourceUnavailable, Source: kind, Err: err}
	}

	p := capture.NewPipeline(kind, o.encoder, capture.PipelineOptions{
		Encodings:     o.cfg.Encodings,
		FlushInterval: o.cfg.FlushInterval,
		Logger:        logger,
	}, capture.Events{
		OnChunk: func(source capture.Kind, size int) {
			o.mail.post(event{epoch: epoch, kind: evChunk, source: source, size: size})
		},
		OnFinalized: func(artifact capture.Artifact) {
			o.mail.post(event{epoch: epoch, kind: evFinalized, source: kind, artifact: artifact})
		},
		OnSourceRevoked: func(source capture.Kind, err error) {
			o.mail.post(event{epoch: epoch, kind: evRevoked, source: source, err: err})
		},
	})
	if err := p.Start(services.WithSource(runCtx, string(kind)), handle); err != nil {
		return nil, err
	}
	return p, nil
}

func (o *Orchestrator) onAcquired(a *attempt, ev event) {
	if !a.waiting[ev.source] {
		if ev.pipeline != nil {
			ev.pipeline.Stop()
		}
		return
	}
	delete(a.waiting, ev.source)
	early := a.early[ev.source]
	delete(a.early, ev.source)

	switch {
	case ev.pipeline == nil:
		a.failures = append(a.failures, ev.err)
		o.logSourceFailure(a, ev.source, ev.err)
	case a.phase != PhaseRecording:
		ev.pipeline.Stop()
		a.logger.Info("capture source granted after recording ended", logging.Source(ev.source))
	default:
		a.pipelines = append(a.pipelines, ev.pipeline)
		for _, pending := range early {
			o.handle(pending)
		}
	}

	if len(a.waiting) > 0 {
		return
	}
	a.stopAcquiring()
	if a.phase != PhaseRecording {
		return
	}
	if len(a.pipelines) == 0 {
		o.fail(a, a.noDataErr())
		return
	}

	sources := make([]string, 0, len(a.pipelines))
	for _, p := range a.pipelines {
		sources = append(sources, string(p.Kind()))
	}
	a.logger.Info("recording", logging.Any("sources", sources), logging.Bool("single_stream", len(sources) < len(o.cfg.Sources)))
	o.publish(a)
}

func (o *Orchestrator) logSourceFailure(a *attempt, kind capture.Kind, err error) {
	if a.phase != PhaseRecording {
		a.logger.Info("capture source acquisition abandoned", logging.Source(kind), logging.Error(err))
		return
	}
	logging.WarnWithContext(a.logger, "capture source unavailable", "source_unavailable",
		logging.Source(kind),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the source is connected and not in use"),
		logging.String(logging.FieldImpact, "recording continues with the remaining source"),
	)
}

// requestStop runs the Stopping transition at most once per attempt.
func (o *Orchestrator) requestStop(a *attempt, trigger Trigger) {
	if a.phase != PhaseRecording || a.stopping {
		return
	}
	a.stopping = true
	a.trigger = trigger

	if len(a.waiting) > 0 {
		a.stopAcquiring()
		logging.WarnWithContext(a.logger, "capture source acquisition abandoned", "acquisition_abandoned",
			logging.Int("pending", len(a.waiting)),
			logging.String("trigger", string(trigger)),
			logging.String(logging.FieldErrorHint, "a capture source did not respond before the recording ended"),
			logging.String(logging.FieldImpact, "recording keeps only the sources already capturing"),
		)
	}

	// After a primary trip the still-armed watchdog bounds finalization.
	if trigger != TriggerDeadline {
		a.guard.Disarm()
	}
	o.setPhase(a, PhaseStopping)
	a.logger.Info("stopping recording", logging.String("trigger", string(trigger)))
	for _, p := range a.pipelines {
		p.Stop()
	}

	if a.allFinalized() {
		o.finalize(a, "all pipelines finalized")
		return
	}
	if trigger == TriggerUser || trigger == TriggerRevoked {
		epoch := a.epoch
		a.finalizeGuard = deadline.New(
			deadline.WithInterval(o.cfg.TickInterval),
			deadline.WithSuppressed(deadline.TripPrimary),
		)
		_ = a.finalizeGuard.Arm(o.cfg.FinalizeGrace, 0, func(deadline.Trip) {
			o.mail.post(event{epoch: epoch, kind: evFinalizeGrace})
		})
	}
}

func (o *Orchestrator) onDeadline(a *attempt, trip deadline.Trip) {
	switch trip {
	case deadline.TripPrimary:
		o.requestStop(a, TriggerDeadline)
	case deadline.TripWatchdog:
		o.requestStop(a, TriggerWatchdog)
		if a.phase == PhaseStopping {
			logging.WarnWithContext(a.logger, "watchdog forced finalization", "watchdog_tripped",
				logging.String(logging.FieldAlert, "watchdog"),
				logging.String(logging.FieldErrorHint, "a capture source did not stop in time"),
				logging.String(logging.FieldImpact, "recording uses the data captured so far"),
			)
			o.finalize(a, "watchdog deadline elapsed")
		}
	}
}

func (o *Orchestrator) onFinalized(a *attempt, ev event) {
	if a.phase != PhaseRecording && a.phase != PhaseStopping {
		return
	}
	a.artifacts[ev.source] = ev.artifact
	if a.phase == PhaseRecording {
		o.requestStop(a, TriggerRevoked)
		return
	}
	if a.allFinalized() {
		o.finalize(a, "all pipelines finalized")
	}
}

// finalize moves Stopping to Finalizing, substitutes partial artifacts for
// pipelines that have not drained, and hands the designated artifact to
// persistence.
func (o *Orchestrator) finalize(a *attempt, reason string) {
	if a.phase != PhaseStopping {
		return
	}
	a.guard.Disarm()
	if a.finalizeGuard != nil {
		a.finalizeGuard.Disarm()
	}
	o.setPhase(a, PhaseFinalizing)

	for _, p := range a.pipelines {
		if _, ok := a.artifacts[p.Kind()]; ok {
			continue
		}
		artifact := p.Partial()
		a.artifacts[p.Kind()] = artifact
		logging.WarnWithContext(a.logger, "capture pipeline stalled", "pipeline_stalled",
			logging.Source(p.Kind()),
			logging.Int("bytes", artifact.Size()),
			logging.String(logging.FieldErrorHint, "check the encoder process for this source"),
			logging.String(logging.FieldImpact, "recording keeps the data captured before the stall"),
		)
	}

	designated, others, ok := designate(a.artifacts)
	if !ok {
		o.fail(a, a.noDataErr())
		return
	}
	a.designated, a.others = designated, others
	attrs := logging.DecisionAttrs("designated_artifact", string(designated.Source), reason)
	attrs = append(attrs, logging.Int("bytes", designated.Size()), logging.Int("secondary", len(others)))
	a.logger.Info("artifact selected", logging.Args(attrs...)...)

	o.setPhase(a, PhaseUploading)
	go o.upload(a.ctx, a.epoch, a.category, designated, others)
}

func (o *Orchestrator) upload(ctx context.Context, epoch uint64, category string, designated capture.Artifact, others []capture.Artifact) {
	ev := event{epoch: epoch, kind: evUploaded}
	ev.result = o.persister.Persist(ctx, designated, category)
	for _, artifact := range others {
		ev.secondary = append(ev.secondary, o.persister.RegisterLocal(ctx, artifact, category))
	}
	o.mail.post(ev)
}

// designate picks the first non-empty artifact in designationOrder. The
// remaining non-empty artifacts are returned in the same order.
func designate(artifacts map[capture.Kind]capture.Artifact) (capture.Artifact, []capture.Artifact, bool) {
	var (
		designated capture.Artifact
		others     []capture.Artifact
		found      bool
	)
	for _, kind := range designationOrder {
		artifact, ok := artifacts[kind]
		if !ok || artifact.Empty() {
			continue
		}
		if !found {
			designated, found = artifact, true
			continue
		}
		others = append(others, artifact)
	}
	return designated, others, found
}
