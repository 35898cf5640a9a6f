package capture

import (
	"sync"
	"time"
)

// ChunkBuffer accumulates encoder fragments in arrival order until it is
// finalized into an Artifact.
type ChunkBuffer struct {
	mu        sync.Mutex
	source    Kind
	mediaType string
	fragments [][]byte
	size      int
	finalized bool
	artifact  Artifact
	now       func() time.Time
}

// NewChunkBuffer creates an empty buffer for one source.
func NewChunkBuffer(source Kind, mediaType string) *ChunkBuffer {
	return &ChunkBuffer{source: source, mediaType: mediaType, now: time.Now}
}

// Append copies fragment into the buffer. It returns false once the buffer
// is finalized. Empty fragments are ignored.
func (b *ChunkBuffer) Append(fragment []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return false
	}
	if len(fragment) == 0 {
		return true
	}
	b.fragments = append(b.fragments, append([]byte(nil), fragment...))
	b.size += len(fragment)
	return true
}

// Finalize concatenates the fragments into an Artifact. Later calls return
// the same artifact.
func (b *ChunkBuffer) Finalize() Artifact {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return b.artifact
	}
	data := make([]byte, 0, b.size)
	for _, fragment := range b.fragments {
		data = append(data, fragment...)
	}
	b.fragments = nil
	b.finalized = true
	b.artifact = Artifact{
		Data:      data,
		MediaType: b.mediaType,
		Source:    b.source,
		CreatedAt: nextStamp(b.now()),
	}
	return b.artifact
}

// Len returns the number of buffered fragments.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.fragments)
}

// Bytes returns the number of buffered (or finalized) bytes.
func (b *ChunkBuffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalized {
		return len(b.artifact.Data)
	}
	return b.size
}

// Finalized reports whether Finalize has been called.
func (b *ChunkBuffer) Finalized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalized
}
