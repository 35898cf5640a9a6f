package persistence

import (
	"fmt"
	"time"

	"boothrec/internal/capture"
)

// Metadata accompanies every remote put.
type Metadata struct {
	Category    string
	CreatedAt   time.Time
	Origin      string
	ForMobile   bool
	ContentType string
	Size        int64
	// Filename is the download name offered to viewers.
	Filename string
	Source   capture.Kind
}

// ContentDisposition renders the download header for Filename.
func (m Metadata) ContentDisposition() string {
	return fmt.Sprintf("attachment; filename=%q", m.Filename)
}

// DownloadFilename returns {prefix}_{unixMillis}.{ext}.
func DownloadFilename(prefix string, artifact capture.Artifact) string {
	if prefix == "" {
		prefix = "recording"
	}
	return fmt.Sprintf("%s_%d.%s", prefix, artifact.CreatedAt.UnixMilli(), artifact.Extension())
}
