package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"boothrec/internal/config"
	"boothrec/internal/logging"
)

const (
	defaultTimeslice   = time.Second
	defaultStopTimeout = 5 * time.Second
)

// codecLibraries maps encoding codecs to the ffmpeg encoder that produces them.
var codecLibraries = map[string]string{
	"h264":  "libx264",
	"vp9":   "libvpx-vp9",
	"mpeg4": "mpeg4",
}

// FFmpegOptions configures FFmpegEncoder.
type FFmpegOptions struct {
	Binary      string
	Framerate   int
	Timeslice   time.Duration
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// FFmpegOptionsFrom maps cfg onto encoder options.
func FFmpegOptionsFrom(cfg *config.Config, logger *slog.Logger) FFmpegOptions {
	return FFmpegOptions{
		Binary:      cfg.Capture.FFmpegBinary,
		Framerate:   cfg.Capture.Framerate,
		Timeslice:   cfg.Timeslice(),
		StopTimeout: cfg.StopTimeout(),
		Logger:      logger,
	}
}

// FFmpegEncoder encodes capture sources by running ffmpeg and reading the
// container from its stdout.
type FFmpegEncoder struct {
	opts   FFmpegOptions
	logger *slog.Logger

	probeOnce sync.Once
	available map[string]bool
	probeErr  error
}

// NewFFmpegEncoder constructs an encoder. The ffmpeg binary is probed
// lazily on first use.
func NewFFmpegEncoder(opts FFmpegOptions) *FFmpegEncoder {
	if strings.TrimSpace(opts.Binary) == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.Timeslice <= 0 {
		opts.Timeslice = defaultTimeslice
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	return &FFmpegEncoder{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "ffmpeg"),
	}
}

// Native returns matroska/mpeg4, which every ffmpeg build can produce.
func (e *FFmpegEncoder) Native() Encoding { return EncodingMatroska }

// Supports reports whether the ffmpeg build has an encoder for enc's codec.
func (e *FFmpegEncoder) Supports(enc Encoding) bool {
	library, ok := codecLibraries[enc.Codec]
	if !ok {
		return false
	}
	available, err := e.probe()
	if err != nil {
		// Unknown capabilities: only the native encoding is worth trying.
		return enc.Name == e.Native().Name
	}
	return available[library]
}

// ProbeError reports why the capability probe failed, if it did.
func (e *FFmpegEncoder) ProbeError() error {
	_, err := e.probe()
	return err
}

func (e *FFmpegEncoder) probe() (map[string]bool, error) {
	e.probeOnce.Do(func() {
		out, err := exec.Command(e.opts.Binary, "-hide_banner", "-encoders").Output()
		if err != nil {
			e.probeErr = fmt.Errorf("probe ffmpeg encoders: %w", err)
			e.logger.Warn("ffmpeg capability probe failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "ffmpeg_probe_failed"),
				logging.String(logging.FieldErrorHint, "check capture.ffmpeg_binary"),
			)
			return
		}
		e.available = parseEncoderList(out)
		e.logger.Debug("ffmpeg capabilities probed", logging.Int("encoders", len(e.available)))
	})
	return e.available, e.probeErr
}

// parseEncoderList reads the table printed by `ffmpeg -encoders`.
func parseEncoderList(out []byte) map[string]bool {
	available := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inTable := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inTable {
			if strings.HasPrefix(line, "------") {
				inTable = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		available[fields[1]] = true
	}
	return available
}

// Start launches ffmpeg for handle using enc.
func (e *FFmpegEncoder) Start(ctx context.Context, handle Handle, enc Encoding) (Stream, error) {
	if _, ok := codecLibraries[enc.Codec]; !ok {
		return nil, fmt.Errorf("%w: codec %q", ErrEncodingUnsupported, enc.Codec)
	}
	if !e.Supports(enc) {
		return nil, fmt.Errorf("%w: %s", ErrEncodingUnsupported, enc.Name)
	}
	args, err := buildArgs(handle.Input(), enc, e.opts.Framerate)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("starting ffmpeg",
		logging.Source(handle.Kind()),
		logging.String("args", strings.Join(args, " ")),
	)
	stream, err := startFFmpeg(ctx, e.opts.Binary, args, e.opts.Timeslice, e.opts.StopTimeout, e.logger)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func buildArgs(in Input, enc Encoding, framerate int) ([]string, error) {
	if strings.TrimSpace(in.Target) == "" {
		return nil, fmt.Errorf("%w: no input target", ErrSourceUnavailable)
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	if in.Format != "" {
		args = append(args, "-f", in.Format)
	}
	if framerate > 0 {
		args = append(args, "-framerate", strconv.Itoa(framerate))
	}
	args = append(args, "-i", in.Target)
	if in.Audio != "" {
		args = append(args, "-f", "pulse", "-i", in.Audio)
	}

	switch enc.Codec {
	case "h264":
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-tune", "zerolatency", "-pix_fmt", "yuv420p")
	case "vp9":
		args = append(args, "-c:v", "libvpx-vp9", "-deadline", "realtime", "-cpu-used", "8", "-row-mt", "1")
	case "mpeg4":
		args = append(args, "-c:v", "mpeg4", "-q:v", "5")
	default:
		return nil, fmt.Errorf("%w: codec %q", ErrEncodingUnsupported, enc.Codec)
	}
	if enc.Bitrate != "" {
		args = append(args, "-b:v", enc.Bitrate)
	}
	if in.Audio != "" {
		if enc.Codec == "vp9" {
			args = append(args, "-c:a", "libopus")
		} else {
			args = append(args, "-c:a", "aac")
		}
	}

	switch enc.Name {
	case "mp4":
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof", "-f", "mp4")
	case "webm":
		args = append(args, "-f", "webm")
	case "mkv":
		args = append(args, "-f", "matroska")
	default:
		return nil, fmt.Errorf("%w: container %q", ErrEncodingUnsupported, enc.Name)
	}
	return append(args, "pipe:1"), nil
}
