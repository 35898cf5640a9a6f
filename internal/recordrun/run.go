package recordrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"boothrec/internal/capture"
	"boothrec/internal/config"
	"boothrec/internal/devicemonitor"
	"boothrec/internal/logging"
	"boothrec/internal/notifications"
	"boothrec/internal/persistence"
	"boothrec/internal/recordings"
	"boothrec/internal/session"
)

var (
	// ErrBusy is returned when another boothrec process holds the session lock.
	ErrBusy = errors.New("another boothrec recording is already running")
	// ErrAbandoned is returned when an interrupt reset the attempt before it finished.
	ErrAbandoned = errors.New("recording abandoned")
)

const notifyTimeout = 15 * time.Second

// Options configures a single recording run.
type Options struct {
	Category string
	// Out receives progress lines. Nil discards them.
	Out    io.Writer
	Logger *slog.Logger
	// Interrupts replaces SIGINT/SIGTERM delivery when set.
	Interrupts <-chan os.Signal
	// Provider and Encoder replace the config-derived ones when set.
	Provider capture.Provider
	Encoder  capture.Encoder
	// Tune adjusts the derived session config before the orchestrator is built.
	Tune func(*session.Config)
}

// Run records one attempt and returns its outcome. A failed attempt is
// returned together with its error.
func Run(ctx context.Context, cfg *config.Config, opts Options) (session.Outcome, error) {
	if cfg == nil {
		return session.Outcome{}, errors.New("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return session.Outcome{}, err
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return session.Outcome{}, fmt.Errorf("acquire session lock: %w", err)
	}
	if !locked {
		return session.Outcome{}, ErrBusy
	}
	defer func() { _ = lock.Unlock() }()

	base := opts.Logger
	if base == nil {
		base, err = logging.NewFromConfig(cfg)
		if err != nil {
			return session.Outcome{}, fmt.Errorf("init logger: %w", err)
		}
	}
	logger := logging.NewComponentLogger(base, "recorder")

	scfg, err := session.ConfigFrom(cfg)
	if err != nil {
		return session.Outcome{}, err
	}
	if opts.Tune != nil {
		opts.Tune(&scfg)
	}

	env, err := buildEnvironment(ctx, cfg, opts, base, logger)
	if err != nil {
		return session.Outcome{}, err
	}
	defer env.close()

	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	progress := newProgressPrinter(out)
	terminal := make(chan session.Outcome, 1)
	observer := session.ObserverFuncs{
		Update: progress.update,
		Terminal: func(o session.Outcome) {
			select {
			case terminal <- o:
			default:
			}
		},
	}

	orch := session.New(scfg, env.provider, env.encoder, env.persister,
		session.WithLogger(base),
		session.WithObserver(observer),
	)

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	runDone := make(chan error, 1)
	go func() { runDone <- orch.Run(runCtx) }()
	defer func() {
		cancelRun()
		<-runDone
	}()

	interrupts := opts.Interrupts
	if interrupts == nil {
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		interrupts = sigCh
	}

	attemptID, err := orch.Start(ctx, session.Request{Category: opts.Category})
	if err != nil {
		return session.Outcome{}, fmt.Errorf("start recording: %w", err)
	}
	logger.Info("recording requested",
		logging.String(logging.FieldAttemptID, attemptID),
		logging.String("category", opts.Category),
	)

	outcome, err := await(ctx, orch, terminal, interrupts, logger)
	if err != nil {
		return session.Outcome{}, err
	}

	notify(ctx, env.notifier, outcome, logger)
	if outcome.Failed {
		return outcome, outcome.Err
	}
	return outcome, nil
}

// await waits for the terminal outcome while translating interrupts into
// Stop and Reset commands.
func await(ctx context.Context, orch *session.Orchestrator, terminal <-chan session.Outcome, interrupts <-chan os.Signal, logger *slog.Logger) (session.Outcome, error) {
	stopRequested := false
	for {
		select {
		case outcome := <-terminal:
			return outcome, nil
		case <-ctx.Done():
			_ = orch.Reset(context.Background())
			return session.Outcome{}, ctx.Err()
		case sig := <-interrupts:
			snap, err := orch.Snapshot(ctx)
			if err != nil {
				return session.Outcome{}, err
			}
			if sig == syscall.SIGTERM || stopRequested || snap.Phase == session.PhaseCountingDown {
				logger.Info("recording abandoned by signal",
					logging.String("signal", sig.String()),
					logging.Phase(snap.Phase),
				)
				if err := orch.Reset(ctx); err != nil {
					return session.Outcome{}, err
				}
				return session.Outcome{}, ErrAbandoned
			}
			stopRequested = true
			logger.Info("stop requested by signal", logging.String("signal", sig.String()))
			if err := orch.Stop(ctx); err != nil {
				return session.Outcome{}, err
			}
		}
	}
}

func notify(ctx context.Context, notifier notifications.Service, outcome session.Outcome, logger *slog.Logger) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	var err error
	if outcome.Failed {
		err = notifier.NotifyRecordingFailed(notifyCtx, outcome.Category, outcome.Err)
	} else {
		rec := notifications.Recording{
			Category: outcome.Category,
			Bytes:    outcome.Artifact.Size(),
			Duration: outcome.EndedAt.Sub(outcome.StartedAt),
		}
		if res := outcome.Result; res != nil {
			rec.Address = res.Address
			rec.LocalOnly = res.LocalOnly
			rec.LocalRef = res.LocalRef
		}
		err = notifier.NotifyRecordingCompleted(notifyCtx, rec)
	}
	if err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "recording was stored; only the push notification is missing"),
			logging.Error(err),
		)
	}
}

type environment struct {
	provider  capture.Provider
	encoder   capture.Encoder
	persister *persistence.Service
	notifier  notifications.Service
	closers   []func()
}

func (e *environment) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func buildEnvironment(ctx context.Context, cfg *config.Config, opts Options, base, logger *slog.Logger) (*environment, error) {
	env := &environment{notifier: notifications.NewService(cfg)}

	var index persistence.Indexer
	store, err := recordings.Open(cfg)
	if err != nil {
		logging.WarnWithContext(logger, "recording index unavailable", "index_unavailable",
			logging.String(logging.FieldErrorHint, "check paths.state_dir permissions"),
			logging.String(logging.FieldImpact, "this recording will not appear in boothrec recordings"),
			logging.Error(err),
		)
	} else {
		index = store
		env.closers = append(env.closers, func() { _ = store.Close() })
	}

	var remotes []persistence.RemoteStore
	if cfg.Storage.Enabled {
		gridfs, err := persistence.NewGridFSStore(ctx, persistence.GridFSOptions{
			URI:            cfg.Storage.MongoURI,
			Database:       cfg.Storage.Database,
			Bucket:         cfg.Storage.Bucket,
			ConnectTimeout: cfg.StorageTimeout(),
			Logger:         base,
		})
		if err != nil {
			logging.WarnWithContext(logger, "remote store unavailable", "remote_store_unavailable",
				logging.String(logging.FieldErrorHint, "check storage.mongo_uri"),
				logging.String(logging.FieldImpact, "recordings are kept locally only"),
				logging.Error(err),
			)
		} else {
			remotes = append(remotes, gridfs)
			env.closers = append(env.closers, func() { _ = gridfs.Close(context.Background()) })
		}
	}

	env.persister = persistence.NewService(
		persistence.NewLocalRegistry(cfg.Paths.SpoolDir),
		index,
		persistence.Options{
			Origin:         cfg.Storage.Origin,
			ForMobile:      cfg.Storage.ForMobile,
			FilenamePrefix: cfg.Storage.FilenamePrefix,
			PutTimeout:     cfg.StorageTimeout(),
			Logger:         base,
		},
		remotes...,
	)

	env.provider = opts.Provider
	if env.provider == nil {
		providerOpts := capture.ProviderOptionsFrom(cfg)
		providerOpts.Logger = base
		if monitor := devicemonitor.NewFromConfig(cfg, base); monitor != nil {
			if err := monitor.Start(ctx); err != nil {
				env.close()
				return nil, fmt.Errorf("start device monitor: %w", err)
			}
			env.closers = append(env.closers, monitor.Stop)
			providerOpts.Watcher = monitor
		}
		env.provider = capture.NewSourceProvider(providerOpts)
	}

	env.encoder = opts.Encoder
	if env.encoder == nil {
		env.encoder = capture.NewFFmpegEncoder(capture.FFmpegOptionsFrom(cfg, base))
	}
	return env, nil
}
