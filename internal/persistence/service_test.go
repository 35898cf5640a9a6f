package persistence_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"boothrec/internal/capture"
	"boothrec/internal/persistence"
	"boothrec/internal/recordings"
	"boothrec/internal/services"
	"boothrec/internal/testsupport"
)

type fakeStore struct {
	name    string
	address string
	err     error

	mu    sync.Mutex
	calls []persistence.Metadata
	data  [][]byte
}

func (f *fakeStore) Name() string { return f.name }

func (f *fakeStore) Put(_ context.Context, data []byte, meta persistence.Metadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, meta)
	f.data = append(f.data, data)
	if f.err != nil {
		return "", f.err
	}
	return f.address, nil
}

func (f *fakeStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingIndex struct{}

func (failingIndex) Record(context.Context, *recordings.Recording) (int64, error) {
	return 0, errors.New("disk full")
}

func sampleArtifact() capture.Artifact {
	return capture.Artifact{
		Data:      []byte("moov-and-frames"),
		MediaType: "video/mp4",
		Source:    capture.KindDisplay,
		CreatedAt: time.UnixMilli(1767225600123),
	}
}

func newService(t *testing.T, index persistence.Indexer, spool string, remotes ...persistence.RemoteStore) *persistence.Service {
	t.Helper()
	return persistence.NewService(persistence.NewLocalRegistry(spool), index, persistence.Options{
		Origin:         "booth",
		ForMobile:      true,
		FilenamePrefix: "photobooth_video",
		PutTimeout:     time.Second,
	}, remotes...)
}

func TestPersistUploadsAndIndexes(t *testing.T) {
	store := testsupport.MustOpenIndex(t, testsupport.NewConfig(t))
	remote := &fakeStore{name: "fake", address: "gridfs://boothrec/videos/1"}
	svc := newService(t, store, "", remote)

	ctx := services.WithAttemptID(context.Background(), "attempt-42")
	res := svc.Persist(ctx, sampleArtifact(), "Neon Party")

	if res.LocalOnly || res.Address != remote.address || res.Strategy != "fake" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Category != "neon_party" || res.Filename != "neon_party_1767225600123.mp4" {
		t.Fatalf("unexpected naming: category=%q filename=%q", res.Category, res.Filename)
	}
	if !strings.HasPrefix(res.LocalRef, "local://") || !strings.HasSuffix(res.LocalRef, "/"+res.Filename) {
		t.Fatalf("unexpected local ref %q", res.LocalRef)
	}
	if res.IndexID == 0 {
		t.Fatal("expected index id")
	}

	meta := remote.calls[0]
	if meta.Filename != "photobooth_video_1767225600123.mp4" {
		t.Fatalf("unexpected download filename %q", meta.Filename)
	}
	if meta.Category != "neon_party" || meta.Origin != "booth" || !meta.ForMobile || meta.ContentType != "video/mp4" || meta.Size != 15 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if got := meta.ContentDisposition(); got != `attachment; filename="photobooth_video_1767225600123.mp4"` {
		t.Fatalf("unexpected content disposition %q", got)
	}

	rec, err := store.GetByID(context.Background(), res.IndexID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.RemoteAddress != remote.address || rec.LocalOnly || rec.AttemptID != "attempt-42" || rec.UploadedAt == nil {
		t.Fatalf("unexpected index row: %+v", rec)
	}
}

func TestPersistFallsBackToLocalOnly(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     persistence.StoreErrorKind
	}{
		{"network", &persistence.StoreError{Kind: persistence.KindNetwork, Err: errors.New("dial tcp: refused")}, persistence.ErrNetwork, persistence.KindNetwork},
		{"denied", &persistence.StoreError{Kind: persistence.KindDenied, Err: errors.New("unauthorized")}, persistence.ErrDenied, persistence.KindDenied},
		{"quota", persistence.ErrQuota, persistence.ErrQuota, persistence.KindQuota},
		{"timeout", context.DeadlineExceeded, persistence.ErrNetwork, persistence.KindNetwork},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := testsupport.MustOpenIndex(t, testsupport.NewConfig(t))
			svc := newService(t, store, "", &fakeStore{name: "fake", err: tc.err})
			artifact := sampleArtifact()

			res := svc.Persist(context.Background(), artifact, "classic")
			if !res.LocalOnly || res.Address != "" || res.Strategy != persistence.StrategyLocal {
				t.Fatalf("expected local-only result, got %+v", res)
			}
			if !errors.Is(res.Cause, tc.sentinel) {
				t.Fatalf("expected cause %v, got %v", tc.sentinel, res.Cause)
			}
			var storeErr *persistence.StoreError
			if !errors.As(res.Cause, &storeErr) || storeErr.Kind != tc.kind || storeErr.Store != "fake" {
				t.Fatalf("unexpected store error: %#v", res.Cause)
			}

			resolved, ok := svc.Registry().Resolve(res.LocalRef)
			if !ok || string(resolved.Data) != string(artifact.Data) {
				t.Fatalf("local ref does not resolve to the artifact")
			}

			rec, err := store.GetByID(context.Background(), res.IndexID)
			if err != nil {
				t.Fatalf("audit row missing: %v", err)
			}
			if !rec.LocalOnly || rec.ErrorMessage == "" || rec.RemoteAddress != "" {
				t.Fatalf("unexpected audit row: %+v", rec)
			}
		})
	}
}

func TestPersistTriesStrategiesInOrder(t *testing.T) {
	store := testsupport.MustOpenIndex(t, testsupport.NewConfig(t))
	first := &fakeStore{name: "primary", err: persistence.ErrNetwork}
	second := &fakeStore{name: "secondary", address: "mem://2"}
	third := &fakeStore{name: "tertiary", address: "mem://3"}
	svc := newService(t, store, "", first, second, third)

	res := svc.Persist(context.Background(), sampleArtifact(), "classic")
	if res.Address != "mem://2" || res.Strategy != "secondary" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if first.Calls() != 1 || second.Calls() != 1 || third.Calls() != 0 {
		t.Fatalf("unexpected call counts %d/%d/%d", first.Calls(), second.Calls(), third.Calls())
	}

	rows, err := store.List(context.Background(), recordings.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected audit row plus success row, got %d", len(rows))
	}
}

func TestPersistWithoutRemotes(t *testing.T) {
	store := testsupport.MustOpenIndex(t, testsupport.NewConfig(t))
	svc := newService(t, store, "")
	res := svc.Persist(context.Background(), sampleArtifact(), "classic")
	if !res.LocalOnly || res.Cause != nil || res.IndexID == 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPersistIndexFailureKeepsResult(t *testing.T) {
	svc := newService(t, failingIndex{}, "", &fakeStore{name: "fake", address: "mem://1"})
	res := svc.Persist(context.Background(), sampleArtifact(), "classic")
	if res.Address != "mem://1" || res.IndexID != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	res = newService(t, nil, "").Persist(context.Background(), sampleArtifact(), "classic")
	if !res.LocalOnly || res.IndexID != 0 {
		t.Fatalf("unexpected result without index: %+v", res)
	}
}

func TestPersistSpoolsArtifact(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSpool())
	svc := newService(t, nil, cfg.Paths.SpoolDir)
	artifact := sampleArtifact()

	res := svc.Persist(context.Background(), artifact, "classic")
	if res.LocalPath == "" {
		t.Fatal("expected spooled path")
	}
	data, err := os.ReadFile(res.LocalPath)
	if err != nil {
		t.Fatalf("read spooled file: %v", err)
	}
	if string(data) != string(artifact.Data) {
		t.Fatalf("spooled data mismatch: %q", data)
	}
}

func TestPersistCancelledContextStillReturnsLocal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first := &fakeStore{name: "primary", err: context.Canceled}
	second := &fakeStore{name: "secondary", address: "mem://2"}
	res := newService(t, nil, "", first, second).Persist(ctx, sampleArtifact(), "classic")
	if !res.LocalOnly || res.LocalRef == "" {
		t.Fatalf("expected local result, got %+v", res)
	}
	if second.Calls() != 0 {
		t.Fatal("remaining strategies should be skipped once cancelled")
	}
}

func TestRegisterLocalDoesNotUpload(t *testing.T) {
	remote := &fakeStore{name: "fake", address: "mem://1"}
	svc := newService(t, nil, "", remote)
	res := svc.RegisterLocal(context.Background(), sampleArtifact(), "classic")
	if !res.LocalOnly || res.LocalRef == "" || remote.Calls() != 0 {
		t.Fatalf("unexpected result: %+v (calls=%d)", res, remote.Calls())
	}
	if svc.Registry().Len() != 1 {
		t.Fatalf("expected one registered artifact, got %d", svc.Registry().Len())
	}
}
