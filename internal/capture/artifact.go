package capture

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"boothrec/internal/textutil"
)

// Artifact is the finalized payload of one capture source. Data must be
// treated as read-only; artifacts are shared between the pipeline, the
// orchestrator, and persistence.
type Artifact struct {
	Data      []byte
	MediaType string
	Source    Kind
	CreatedAt time.Time
}

// Size returns the payload length in bytes.
func (a Artifact) Size() int { return len(a.Data) }

// Empty reports whether the artifact carries no data.
func (a Artifact) Empty() bool { return len(a.Data) == 0 }

// Extension derives the file extension from the media type.
func (a Artifact) Extension() string {
	return ExtensionFor(a.MediaType)
}

// SuggestedFilename returns {category}_{unixMillis}.{ext}.
func (a Artifact) SuggestedFilename(category string) string {
	return fmt.Sprintf("%s_%d.%s", textutil.SanitizeToken(category), a.CreatedAt.UnixMilli(), a.Extension())
}

// ExtensionFor maps a media type (parameters allowed) to a file extension.
func ExtensionFor(mediaType string) string {
	base, _, _ := strings.Cut(mediaType, ";")
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "video/mp4":
		return "mp4"
	case "video/webm":
		return "webm"
	case "video/x-matroska":
		return "mkv"
	default:
		return "bin"
	}
}

var stamps struct {
	mu   sync.Mutex
	last time.Time
}

// nextStamp returns a millisecond timestamp strictly later than every
// previous stamp in this process, so artifact filenames never collide.
func nextStamp(now time.Time) time.Time {
	stamps.mu.Lock()
	defer stamps.mu.Unlock()
	ts := now.Truncate(time.Millisecond)
	if !ts.After(stamps.last) {
		ts = stamps.last.Add(time.Millisecond)
	}
	stamps.last = ts
	return ts
}
