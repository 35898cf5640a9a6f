package testsupport

import (
	"context"
	"testing"

	"boothrec/internal/config"
	"boothrec/internal/recordings"
)

// MustOpenIndex opens the recording index for tests and registers cleanup.
func MustOpenIndex(t testing.TB, cfg *config.Config) *recordings.Store {
	t.Helper()

	store, err := recordings.Open(cfg)
	if err != nil {
		t.Fatalf("recordings.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustRecord inserts a recording for tests.
func MustRecord(t testing.TB, store *recordings.Store, rec *recordings.Recording) *recordings.Recording {
	t.Helper()

	if _, err := store.Record(context.Background(), rec); err != nil {
		t.Fatalf("store.Record: %v", err)
	}
	return rec
}
