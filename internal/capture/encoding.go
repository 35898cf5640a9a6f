package capture

import (
	"context"
	"fmt"
	"strings"
)

// Encoding is a container/codec combination an Encoder may produce.
type Encoding struct {
	Name      string
	MediaType string
	Codec     string
	Bitrate   string
}

func (e Encoding) String() string {
	if e.Bitrate != "" {
		return fmt.Sprintf("%s (%s@%s)", e.Name, e.Codec, e.Bitrate)
	}
	return fmt.Sprintf("%s (%s)", e.Name, e.Codec)
}

// Built-in encodings.
var (
	EncodingMP4      = Encoding{Name: "mp4", MediaType: "video/mp4", Codec: "h264", Bitrate: "3M"}
	EncodingWebM     = Encoding{Name: "webm", MediaType: "video/webm;codecs=vp9", Codec: "vp9", Bitrate: "3M"}
	EncodingMatroska = Encoding{Name: "mkv", MediaType: "video/x-matroska", Codec: "mpeg4"}
)

// LookupEncoding resolves a configured encoding name.
func LookupEncoding(name string) (Encoding, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mp4":
		return EncodingMP4, true
	case "webm":
		return EncodingWebM, true
	case "mkv", "matroska":
		return EncodingMatroska, true
	default:
		return Encoding{}, false
	}
}

// ParseEncodings resolves names in order, overriding the bitrate when set.
// Unknown names are returned as an error.
func ParseEncodings(names []string, bitrate string) ([]Encoding, error) {
	out := make([]Encoding, 0, len(names))
	for _, name := range names {
		enc, ok := LookupEncoding(name)
		if !ok {
			return nil, fmt.Errorf("unknown encoding %q", name)
		}
		if bitrate != "" && enc.Bitrate != "" {
			enc.Bitrate = bitrate
		}
		out = append(out, enc)
	}
	return out, nil
}

// Encoder turns a handle into a stream of fragments.
type Encoder interface {
	// Supports reports whether enc can be attempted at all.
	Supports(enc Encoding) bool
	// Native is the encoding the encoder can always produce.
	Native() Encoding
	// Start begins encoding. It fails with ErrEncodingUnsupported when the
	// encoding turns out to be unusable for this handle.
	Start(ctx context.Context, handle Handle, enc Encoding) (Stream, error)
}

// Stream is a running encoder.
type Stream interface {
	// Fragments yields encoded data in order and is closed when output ends.
	Fragments() <-chan []byte
	// Flush asks the encoder to emit anything it has buffered.
	Flush()
	// Stop asks the encoder to finish. Idempotent.
	Stop()
	// Err is the reason output ended; valid once Fragments is closed.
	Err() error
}

// fallbackChain appends the encoder's native encoding to the preferences
// unless it is already listed.
func fallbackChain(preferred []Encoding, native Encoding) []Encoding {
	chain := make([]Encoding, 0, len(preferred)+1)
	seen := make(map[string]bool, len(preferred)+1)
	for _, enc := range preferred {
		if seen[enc.Name] {
			continue
		}
		seen[enc.Name] = true
		chain = append(chain, enc)
	}
	if native.Name != "" && !seen[native.Name] {
		chain = append(chain, native)
	}
	return chain
}
