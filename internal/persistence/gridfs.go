package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"boothrec/internal/logging"
)

// MongoDB server error codes that map onto store error kinds.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
	codeOutOfDiskSpace       = 14031
	codeAtlasError           = 8000
)

// GridFSOptions configures GridFSStore.
type GridFSOptions struct {
	URI      string
	Database string
	Bucket   string
	// ConnectTimeout bounds server selection for connect and ping.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// GridFSStore uploads recordings to a MongoDB GridFS bucket and keeps a
// share document per upload in the "{bucket}_index" collection.
type GridFSStore struct {
	client   *mongo.Client
	bucket   *gridfs.Bucket
	index    *mongo.Collection
	database string
	name     string
	logger   *slog.Logger

	// uploads serialises Put. The bucket write deadline is shared state.
	uploads chan struct{}
}

// NewGridFSStore connects to MongoDB. The connection is verified lazily;
// call Ping to check reachability up front.
func NewGridFSStore(ctx context.Context, opts GridFSOptions) (*GridFSStore, error) {
	if strings.TrimSpace(opts.URI) == "" {
		return nil, errors.New("gridfs: mongo uri required")
	}
	if opts.Database == "" {
		opts.Database = "boothrec"
	}
	if opts.Bucket == "" {
		opts.Bucket = "videos"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetServerSelectionTimeout(opts.ConnectTimeout).
		SetConnectTimeout(opts.ConnectTimeout)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("gridfs: connect: %w", err)
	}

	db := client.Database(opts.Database)
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(opts.Bucket))
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("gridfs: open bucket: %w", err)
	}

	return &GridFSStore{
		client:   client,
		bucket:   bucket,
		index:    db.Collection(opts.Bucket + "_index"),
		database: opts.Database,
		name:     opts.Bucket,
		logger:   logging.NewComponentLogger(opts.Logger, "gridfs"),
		uploads:  make(chan struct{}, 1),
	}, nil
}

// Name identifies the strategy in logs and results.
func (g *GridFSStore) Name() string { return "gridfs" }

// Ping checks the primary is reachable.
func (g *GridFSStore) Ping(ctx context.Context) error {
	if err := g.client.Ping(ctx, readpref.Primary()); err != nil {
		return &StoreError{Kind: classifyMongo(err), Store: g.Name(), Err: err}
	}
	return nil
}

// Put uploads data and returns gridfs://{database}/{bucket}/{id}. Concurrent
// calls run one at a time; a caller whose ctx ends while waiting gets a
// network StoreError.
func (g *GridFSStore) Put(ctx context.Context, data []byte, meta Metadata) (string, error) {
	select {
	case g.uploads <- struct{}{}:
		defer func() { <-g.uploads }()
	case <-ctx.Done():
		return "", &StoreError{Kind: KindNetwork, Store: g.Name(), Err: ctx.Err()}
	}
	if err := ctx.Err(); err != nil {
		return "", &StoreError{Kind: KindNetwork, Store: g.Name(), Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := g.bucket.SetWriteDeadline(deadline); err != nil {
			return "", &StoreError{Kind: KindUnknown, Store: g.Name(), Err: err}
		}
		defer func() { _ = g.bucket.SetWriteDeadline(time.Time{}) }()
	}

	doc := bson.D{
		{Key: "category", Value: meta.Category},
		{Key: "timestamp", Value: meta.CreatedAt.UTC()},
		{Key: "uploadedFrom", Value: meta.Origin},
		{Key: "forMobile", Value: meta.ForMobile},
		{Key: "contentType", Value: meta.ContentType},
		{Key: "contentDisposition", Value: meta.ContentDisposition()},
		{Key: "size", Value: meta.Size},
		{Key: "source", Value: string(meta.Source)},
	}
	id, err := g.bucket.UploadFromStream(meta.Filename, bytes.NewReader(data), options.GridFSUpload().SetMetadata(doc))
	if err != nil {
		return "", &StoreError{Kind: classifyMongo(err), Store: g.Name(), Err: err}
	}
	address := g.address(id)

	share := bson.D{
		{Key: "fileId", Value: id},
		{Key: "url", Value: address},
		{Key: "category", Value: meta.Category},
		{Key: "timestamp", Value: meta.CreatedAt.UTC()},
		{Key: "fileName", Value: meta.Filename},
		{Key: "contentType", Value: meta.ContentType},
		{Key: "size", Value: meta.Size},
		{Key: "uploadedAt", Value: time.Now().UTC()},
	}
	if _, err := g.index.InsertOne(ctx, share); err != nil {
		logging.WarnWithContext(g.logger, "share document not written", "gridfs_index_failed",
			logging.Error(err),
			logging.String("address", address),
			logging.String(logging.FieldImpact, "upload stored but not listed for sharing"),
		)
	}
	return address, nil
}

// Close disconnects the client.
func (g *GridFSStore) Close(ctx context.Context) error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Disconnect(ctx)
}

func (g *GridFSStore) address(id primitive.ObjectID) string {
	return fmt.Sprintf("gridfs://%s/%s/%s", g.database, g.name, id.Hex())
}

func classifyMongo(err error) StoreErrorKind {
	if err == nil {
		return KindUnknown
	}
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		switch {
		case serverErr.HasErrorCode(codeUnauthorized), serverErr.HasErrorCode(codeAuthenticationFailed):
			return KindDenied
		case serverErr.HasErrorCode(codeOutOfDiskSpace), serverErr.HasErrorCode(codeAtlasError):
			return KindQuota
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, mongo.ErrClientDisconnected),
		mongo.IsNetworkError(err),
		mongo.IsTimeout(err):
		return KindNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "server selection"), strings.Contains(msg, "connection refused"):
		return KindNetwork
	case strings.Contains(msg, "auth"), strings.Contains(msg, "unauthorized"):
		return KindDenied
	case strings.Contains(msg, "quota"):
		return KindQuota
	}
	return KindUnknown
}
