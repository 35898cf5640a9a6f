package persistence_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"boothrec/internal/persistence"
)

func TestGridFSStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Skipf("mongodb container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})
	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	store, err := persistence.NewGridFSStore(ctx, persistence.GridFSOptions{
		URI:            uri,
		Database:       "boothrec_test",
		Bucket:         "videos",
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewGridFSStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	payload := []byte("fragmented-mp4-payload")
	putCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	address, err := store.Put(putCtx, payload, persistence.Metadata{
		Category:    "classic",
		CreatedAt:   time.UnixMilli(1767225600123),
		Origin:      "booth",
		ForMobile:   true,
		ContentType: "video/mp4",
		Size:        int64(len(payload)),
		Filename:    "photobooth_video_1767225600123.mp4",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	prefix := "gridfs://boothrec_test/videos/"
	if !strings.HasPrefix(address, prefix) {
		t.Fatalf("unexpected address %q", address)
	}
	id, err := primitive.ObjectIDFromHex(strings.TrimPrefix(address, prefix))
	if err != nil {
		t.Fatalf("parse object id: %v", err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect verifier: %v", err)
	}
	defer client.Disconnect(ctx)
	db := client.Database("boothrec_test")
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("videos"))
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	var downloaded bytes.Buffer
	if _, err := bucket.DownloadToStream(id, &downloaded); err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(downloaded.Bytes(), payload) {
		t.Fatalf("downloaded payload mismatch: %q", downloaded.Bytes())
	}

	var share bson.M
	if err := db.Collection("videos_index").FindOne(ctx, bson.M{"fileId": id}).Decode(&share); err != nil {
		t.Fatalf("share document: %v", err)
	}
	if share["url"] != address || share["category"] != "classic" {
		t.Fatalf("unexpected share document: %v", share)
	}

	t.Run("concurrent puts keep their own deadlines", func(t *testing.T) {
		const uploads = 4
		var wg sync.WaitGroup
		addresses := make([]string, uploads)
		errs := make([]error, uploads)
		for i := range uploads {
			wg.Go(func() {
				timeout := time.Duration(i+1) * 5 * time.Second
				putCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				name := fmt.Sprintf("photobooth_video_%d.mp4", i)
				addresses[i], errs[i] = store.Put(putCtx, []byte(name), persistence.Metadata{
					Category:    "classic",
					CreatedAt:   time.Now(),
					ContentType: "video/mp4",
					Size:        int64(len(name)),
					Filename:    name,
				})
			})
		}
		wg.Wait()

		seen := map[string]bool{}
		for i := range uploads {
			if errs[i] != nil {
				t.Fatalf("put %d: %v", i, errs[i])
			}
			if seen[addresses[i]] {
				t.Fatalf("duplicate address %q", addresses[i])
			}
			seen[addresses[i]] = true
		}
	})
}

func TestGridFSStorePutHonoursCancelledContext(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.NewGridFSStore(ctx, persistence.GridFSOptions{
		URI:            "mongodb://127.0.0.1:1/?directConnection=true",
		ConnectTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewGridFSStore: %v", err)
	}
	defer store.Close(ctx)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.Put(cancelled, []byte("x"), persistence.Metadata{Filename: "x.mp4"})
	if !errors.Is(err, persistence.ErrNetwork) {
		t.Fatalf("err = %v, want network store error", err)
	}
}

func TestGridFSStoreUnreachable(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.NewGridFSStore(ctx, persistence.GridFSOptions{
		URI:            "mongodb://127.0.0.1:1/?directConnection=true",
		ConnectTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewGridFSStore: %v", err)
	}
	defer store.Close(ctx)

	putCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = store.Put(putCtx, []byte("x"), persistence.Metadata{Filename: "x.mp4"})
	if err == nil {
		t.Fatal("expected unreachable store to fail")
	}
	if pingErr := store.Ping(putCtx); pingErr == nil {
		t.Fatal("expected ping failure")
	}
}

func TestNewGridFSStoreRequiresURI(t *testing.T) {
	if _, err := persistence.NewGridFSStore(context.Background(), persistence.GridFSOptions{}); err == nil {
		t.Fatal("expected error for empty uri")
	}
}
