package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"boothrec/internal/logging"
)

const stderrTailLimit = 4096

// ffmpegStream is one running ffmpeg process. Output is regrouped into
// fragments on the timeslice cadence or when a flush is requested.
type ffmpegStream struct {
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stderr      *tailBuffer
	fragments   chan []byte
	flushReq    chan struct{}
	exited      chan struct{}
	stopOnce    sync.Once
	stopping    atomic.Bool
	stopTimeout time.Duration
	logger      *slog.Logger
	err         error
}

func startFFmpeg(ctx context.Context, binary string, args []string, timeslice, stopTimeout time.Duration, logger *slog.Logger) (*ffmpegStream, error) {
	cmd := exec.Command(binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stderr := &tailBuffer{limit: stderrTailLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s := &ffmpegStream{
		cmd:         cmd,
		stdin:       stdin,
		stderr:      stderr,
		fragments:   make(chan []byte, 4),
		flushReq:    make(chan struct{}, 1),
		exited:      make(chan struct{}),
		stopTimeout: stopTimeout,
		logger:      logger,
	}

	raw := make(chan []byte, 16)
	go s.read(stdout, raw)
	go s.assemble(raw, timeslice)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.exited:
		}
	}()
	return s, nil
}

func (s *ffmpegStream) Fragments() <-chan []byte { return s.fragments }

func (s *ffmpegStream) Flush() {
	select {
	case s.flushReq <- struct{}{}:
	default:
	}
}

// Stop asks ffmpeg to quit with "q" on stdin so the container trailer is
// written, then kills the process group if it has not exited in time.
func (s *ffmpegStream) Stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		_, _ = io.WriteString(s.stdin, "q\n")
		_ = s.stdin.Close()
		go func() {
			timer := time.NewTimer(s.stopTimeout)
			defer timer.Stop()
			select {
			case <-s.exited:
			case <-timer.C:
				s.logger.Warn("ffmpeg did not exit, killing",
					logging.Duration("stop_timeout", s.stopTimeout),
					logging.String(logging.FieldEventType, "ffmpeg_killed"),
					logging.String(logging.FieldErrorHint, "capture device may be wedged"),
				)
				_ = unix.Kill(-s.cmd.Process.Pid, unix.SIGKILL)
			}
		}()
	})
}

func (s *ffmpegStream) Err() error { return s.err }

func (s *ffmpegStream) read(stdout io.Reader, raw chan<- []byte) {
	defer close(raw)
	buf := make([]byte, 64*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			raw <- bytes.Clone(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (s *ffmpegStream) assemble(raw <-chan []byte, timeslice time.Duration) {
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	var pending bytes.Buffer
	emit := func() {
		if pending.Len() == 0 {
			return
		}
		s.fragments <- bytes.Clone(pending.Bytes())
		pending.Reset()
	}

	for {
		select {
		case chunk, ok := <-raw:
			if !ok {
				emit()
				s.finish(s.cmd.Wait())
				return
			}
			pending.Write(chunk)
		case <-ticker.C:
			emit()
		case <-s.flushReq:
			emit()
		}
	}
}

func (s *ffmpegStream) finish(waitErr error) {
	if !s.stopping.Load() {
		cause := waitErr
		if cause == nil {
			cause = errors.New("output ended")
		}
		if tail := strings.TrimSpace(s.stderr.String()); tail != "" {
			s.err = fmt.Errorf("ffmpeg exited: %w: %s", cause, tail)
		} else {
			s.err = fmt.Errorf("ffmpeg exited: %w", cause)
		}
	}
	close(s.exited)
	close(s.fragments)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append([]byte(nil), t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
