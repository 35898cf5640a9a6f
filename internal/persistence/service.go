package persistence

import (
	"context"
	"log/slog"
	"time"

	"boothrec/internal/capture"
	"boothrec/internal/logging"
	"boothrec/internal/recordings"
	"boothrec/internal/services"
	"boothrec/internal/textutil"
)

// StrategyLocal names the guaranteed last strategy.
const StrategyLocal = "local"

// RemoteStore uploads a payload and returns its public address.
type RemoteStore interface {
	Name() string
	Put(ctx context.Context, data []byte, meta Metadata) (string, error)
}

// Indexer records persisted artifacts. *recordings.Store satisfies it.
type Indexer interface {
	Record(ctx context.Context, rec *recordings.Recording) (int64, error)
}

// Result describes where an artifact ended up.
type Result struct {
	// Address is the remote address; empty for local-only results.
	Address   string
	LocalOnly bool
	LocalRef  string
	LocalPath string
	Filename  string
	Category  string
	Strategy  string
	// IndexID is 0 when no index entry could be written.
	IndexID int64
	// Cause is the last store error absorbed on the way to a local-only result.
	Cause error
}

// Options configures metadata stamped onto every upload.
type Options struct {
	Origin         string
	ForMobile      bool
	FilenamePrefix string
	// PutTimeout bounds each remote attempt; zero means no extra bound.
	PutTimeout time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

// Service runs the persistence fallback chain.
type Service struct {
	registry *LocalRegistry
	remotes  []RemoteStore
	index    Indexer
	opts     Options
	logger   *slog.Logger
}

// NewService constructs a Service. remotes are tried in order; index may be nil.
func NewService(registry *LocalRegistry, index Indexer, opts Options, remotes ...RemoteStore) *Service {
	if registry == nil {
		registry = NewLocalRegistry("")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		registry: registry,
		remotes:  remotes,
		index:    index,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "persistence"),
	}
}

// Registry exposes the local registry backing this service.
func (s *Service) Registry() *LocalRegistry { return s.registry }

// Persist stores artifact. It never fails: when every remote strategy fails
// the result is local-only and carries the last error as Cause.
func (s *Service) Persist(ctx context.Context, artifact capture.Artifact, category string) Result {
	logger := logging.WithContext(ctx, s.logger)
	res := s.registerLocal(logger, artifact, category)
	meta := s.metadata(artifact, res.Category)

	audited := false
	for _, store := range s.remotes {
		address, err := s.put(ctx, store, artifact, meta)
		if err == nil {
			res.Address = address
			res.Strategy = store.Name()
			res.IndexID = s.record(ctx, logger, artifact, res, meta, nil)
			attrs := append(logging.DecisionAttrs("persistence_strategy", store.Name(), "remote store accepted upload"),
				logging.String("address", address),
				logging.Int("bytes", artifact.Size()),
			)
			logger.Info("recording uploaded", logging.Args(attrs...)...)
			return res
		}

		storeErr := asStoreError(store.Name(), err)
		res.Cause = storeErr
		logging.WarnWithContext(logger, "remote store failed", "remote_store_failed",
			logging.String("store", store.Name()),
			logging.String("store_error_kind", string(storeErr.Kind)),
			logging.Error(storeErr),
			logging.String(logging.FieldErrorHint, hintFor(storeErr.Kind)),
			logging.String(logging.FieldImpact, "recording kept locally"),
		)
		res.IndexID = s.record(ctx, logger, artifact, res, meta, storeErr)
		audited = true
		if ctx.Err() != nil {
			break
		}
	}

	res.LocalOnly = true
	res.Strategy = StrategyLocal
	if !audited {
		res.IndexID = s.record(ctx, logger, artifact, res, meta, nil)
	}
	attrs := logging.DecisionAttrs("persistence_strategy", StrategyLocal, "no remote store accepted upload")
	attrs = append(attrs, logging.String("local_ref", res.LocalRef))
	logger.Info("recording kept locally", logging.Args(attrs...)...)
	return res
}

// RegisterLocal makes artifact addressable locally without uploading or
// indexing it.
func (s *Service) RegisterLocal(ctx context.Context, artifact capture.Artifact, category string) Result {
	res := s.registerLocal(logging.WithContext(ctx, s.logger), artifact, category)
	res.LocalOnly = true
	res.Strategy = StrategyLocal
	return res
}

func (s *Service) registerLocal(logger *slog.Logger, artifact capture.Artifact, category string) Result {
	category = textutil.SanitizeToken(category)
	filename := artifact.SuggestedFilename(category)
	ref, path, err := s.registry.Register(artifact, filename)
	if err != nil {
		logging.WarnWithContext(logger, "spool write failed", "spool_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.spool_dir permissions and free space"),
			logging.String(logging.FieldImpact, "recording only held in memory"),
		)
	}
	return Result{
		LocalRef:  ref,
		LocalPath: path,
		Filename:  filename,
		Category:  category,
	}
}

func (s *Service) put(ctx context.Context, store RemoteStore, artifact capture.Artifact, meta Metadata) (string, error) {
	putCtx := ctx
	if s.opts.PutTimeout > 0 {
		var cancel context.CancelFunc
		putCtx, cancel = context.WithTimeout(ctx, s.opts.PutTimeout)
		defer cancel()
	}
	return store.Put(putCtx, artifact.Data, meta)
}

func (s *Service) metadata(artifact capture.Artifact, category string) Metadata {
	return Metadata{
		Category:    category,
		CreatedAt:   artifact.CreatedAt,
		Origin:      s.opts.Origin,
		ForMobile:   s.opts.ForMobile,
		ContentType: artifact.MediaType,
		Size:        int64(artifact.Size()),
		Filename:    DownloadFilename(s.opts.FilenamePrefix, artifact),
		Source:      artifact.Source,
	}
}

func (s *Service) record(ctx context.Context, logger *slog.Logger, artifact capture.Artifact, res Result, meta Metadata, cause error) int64 {
	if s.index == nil {
		return 0
	}
	attemptID, _ := services.AttemptIDFromContext(ctx)
	rec := &recordings.Recording{
		AttemptID:     attemptID,
		Category:      res.Category,
		Source:        string(artifact.Source),
		FileName:      res.Filename,
		RemoteAddress: res.Address,
		LocalRef:      res.LocalRef,
		LocalPath:     res.LocalPath,
		ContentType:   artifact.MediaType,
		SizeBytes:     meta.Size,
		Origin:        meta.Origin,
		ForMobile:     meta.ForMobile,
		LocalOnly:     res.Address == "",
		CreatedAt:     artifact.CreatedAt,
	}
	if cause != nil {
		rec.ErrorMessage = cause.Error()
	}
	if res.Address != "" {
		uploaded := s.opts.Now().UTC()
		rec.UploadedAt = &uploaded
	}
	id, err := s.index.Record(context.WithoutCancel(ctx), rec)
	if err != nil {
		logging.WarnWithContext(logger, "index write failed", "index_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the recording index under paths.state_dir"),
			logging.String(logging.FieldImpact, "recording missing from index"),
		)
		return 0
	}
	return id
}

func hintFor(kind StoreErrorKind) string {
	switch kind {
	case KindNetwork:
		return "check network connectivity and storage.mongo_uri"
	case KindDenied:
		return "check storage credentials and roles"
	case KindQuota:
		return "free space in the remote store or raise its quota"
	default:
		return "check remote store logs"
	}
}
