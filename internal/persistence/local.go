package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"boothrec/internal/capture"
)

const localScheme = "local://"

// LocalRegistry keeps finalized artifacts addressable in-process and,
// when a spool directory is configured, on disk.
type LocalRegistry struct {
	mu       sync.Mutex
	entries  map[string]capture.Artifact
	spoolDir string
}

// NewLocalRegistry constructs a registry. An empty spoolDir keeps artifacts
// in memory only.
func NewLocalRegistry(spoolDir string) *LocalRegistry {
	return &LocalRegistry{entries: make(map[string]capture.Artifact), spoolDir: spoolDir}
}

// Register stores the artifact and returns local://{uuid}/{filename}. The
// reference is valid even when spooling fails; err reports only the spool
// write.
func (r *LocalRegistry) Register(artifact capture.Artifact, filename string) (ref string, path string, err error) {
	ref = localScheme + uuid.NewString() + "/" + filename
	r.mu.Lock()
	r.entries[ref] = artifact
	r.mu.Unlock()

	if r.spoolDir == "" {
		return ref, "", nil
	}
	path, err = r.spool(artifact, filename)
	return ref, path, err
}

func (r *LocalRegistry) spool(artifact capture.Artifact, filename string) (string, error) {
	if err := os.MkdirAll(r.spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}
	target := filepath.Join(r.spoolDir, filename)
	tmp, err := os.CreateTemp(r.spoolDir, ".spool-*")
	if err != nil {
		return "", fmt.Errorf("create spool file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(artifact.Data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close spool file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("finalize spool file: %w", err)
	}
	return target, nil
}

// Resolve returns the artifact behind a local reference.
func (r *LocalRegistry) Resolve(ref string) (capture.Artifact, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	artifact, ok := r.entries[ref]
	return artifact, ok
}

// Forget drops an in-memory entry. Spooled files are kept.
func (r *LocalRegistry) Forget(ref string) {
	r.mu.Lock()
	delete(r.entries, ref)
	r.mu.Unlock()
}

// Len returns the number of registered artifacts.
func (r *LocalRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IsLocalRef reports whether ref uses the local scheme.
func IsLocalRef(ref string) bool {
	return strings.HasPrefix(ref, localScheme)
}
