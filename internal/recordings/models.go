package recordings

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a recording id does not exist.
var ErrNotFound = errors.New("recording not found")

// Recording is one row of the index.
type Recording struct {
	ID            int64
	AttemptID     string
	Category      string
	Source        string
	FileName      string
	RemoteAddress string
	LocalRef      string
	LocalPath     string
	ContentType   string
	SizeBytes     int64
	Origin        string
	ForMobile     bool
	LocalOnly     bool
	ErrorMessage  string
	CreatedAt     time.Time
	UploadedAt    *time.Time
}

// Uploaded reports whether the recording reached the remote store.
func (r *Recording) Uploaded() bool {
	return r != nil && !r.LocalOnly && r.RemoteAddress != ""
}

// ListOptions filters List results. Zero values mean no filter.
type ListOptions struct {
	Category  string
	LocalOnly *bool
	Limit     int
}

// Stats summarizes the index.
type Stats struct {
	Total     int
	Uploaded  int
	LocalOnly int
	Bytes     int64
	Latest    *time.Time
}
