package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"boothrec/internal/capture"
	"boothrec/internal/capture/capturetest"
)

type recorder struct {
	chunks    chan int
	finalized chan capture.Artifact
	revoked   chan error
}

func newRecorder() *recorder {
	return &recorder{
		chunks:    make(chan int, 64),
		finalized: make(chan capture.Artifact, 4),
		revoked:   make(chan error, 4),
	}
}

func (r *recorder) events() capture.Events {
	return capture.Events{
		OnChunk:         func(_ capture.Kind, size int) { r.chunks <- size },
		OnFinalized:     func(a capture.Artifact) { r.finalized <- a },
		OnSourceRevoked: func(_ capture.Kind, err error) { r.revoked <- err },
	}
}

func (r *recorder) waitChunks(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.chunks:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for chunk %d of %d", i+1, n)
		}
	}
}

func (r *recorder) waitFinalized(t *testing.T) capture.Artifact {
	t.Helper()
	select {
	case a := <-r.finalized:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for finalize")
	}
	return capture.Artifact{}
}

func fragments(values ...string) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out
}

func TestPipelineRecordsAndFinalizesOnStop(t *testing.T) {
	enc := capturetest.NewEncoder()
	enc.Script(capture.KindDisplay, capturetest.Script{Fragments: fragments("aa", "bb", "cc")})
	rec := newRecorder()
	handle := capturetest.NewHandle(capture.KindDisplay)

	p := capture.NewPipeline(capture.KindDisplay, enc, capture.PipelineOptions{}, rec.events())
	if err := p.Start(context.Background(), handle); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.State() != capture.StateRecording {
		t.Fatalf("expected recording state, got %s", p.State())
	}
	rec.waitChunks(t, 3)

	p.Stop()
	p.Stop()
	artifact := rec.waitFinalized(t)

	if string(artifact.Data) != "aabbcc" {
		t.Fatalf("unexpected data %q", artifact.Data)
	}
	if artifact.MediaType != "video/mp4" || artifact.Source != capture.KindDisplay {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}
	<-p.Done()
	if p.State() != capture.StateStopped {
		t.Fatalf("expected stopped, got %s", p.State())
	}
	if handle.Releases() != 1 {
		t.Fatalf("expected exactly one release, got %d", handle.Releases())
	}
	select {
	case a := <-rec.finalized:
		t.Fatalf("finalized delivered twice: %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipelineEncodingFallback(t *testing.T) {
	tests := []struct {
		name        string
		unsupported []string
		rejected    []string
		want        string
	}{
		{name: "preferred", want: "mp4"},
		{name: "unsupported preferred", unsupported: []string{"mp4"}, want: "webm"},
		{name: "rejected at start", rejected: []string{"mp4"}, want: "webm"},
		{name: "native last", unsupported: []string{"mp4"}, rejected: []string{"webm"}, want: "mkv"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			enc := capturetest.NewEncoder()
			for _, name := range tc.unsupported {
				enc.Unsupport(name)
			}
			for _, name := range tc.rejected {
				enc.Reject(name)
			}
			rec := newRecorder()
			p := capture.NewPipeline(capture.KindDisplay, enc, capture.PipelineOptions{
				Encodings: []capture.Encoding{capture.EncodingMP4, capture.EncodingWebM},
			}, rec.events())
			if err := p.Start(context.Background(), capturetest.NewHandle(capture.KindDisplay)); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if got := p.Encoding().Name; got != tc.want {
				t.Fatalf("negotiated %q, want %q", got, tc.want)
			}
			p.Stop()
			if got := rec.waitFinalized(t).MediaType; got != p.Encoding().MediaType {
				t.Fatalf("artifact media type %q does not match encoding", got)
			}
		})
	}
}

func TestPipelineStartFailuresReleaseHandle(t *testing.T) {
	t.Run("no encoding", func(t *testing.T) {
		enc := capturetest.NewEncoder()
		enc.Unsupport("mp4")
		enc.Unsupport("webm")
		enc.Reject("mkv")
		handle := capturetest.NewHandle(capture.KindDevice)
		p := capture.NewPipeline(capture.KindDevice, enc, capture.PipelineOptions{}, capture.Events{})
		err := p.Start(context.Background(), handle)
		if !errors.Is(err, capture.ErrEncodingUnsupported) {
			t.Fatalf("expected ErrEncodingUnsupported, got %v", err)
		}
		var captureErr *capture.Error
		if !errors.As(err, &captureErr) || captureErr.Source != capture.KindDevice {
			t.Fatalf("expected capture.Error for device, got %v", err)
		}
		if handle.Releases() != 1 || p.State() != capture.StateStopped {
			t.Fatalf("releases=%d state=%s", handle.Releases(), p.State())
		}
	})

	t.Run("encoder error", func(t *testing.T) {
		enc := capturetest.NewEncoder()
		enc.FailStart(capture.KindDevice, errors.New("exec: ffmpeg not found"))
		handle := capturetest.NewHandle(capture.KindDevice)
		p := capture.NewPipeline(capture.KindDevice, enc, capture.PipelineOptions{}, capture.Events{})
		if err := p.Start(context.Background(), handle); !errors.Is(err, capture.ErrSourceUnavailable) {
			t.Fatalf("expected ErrSourceUnavailable, got %v", err)
		}
		if handle.Releases() != 1 {
			t.Fatalf("expected release, got %d", handle.Releases())
		}
	})

	t.Run("nil handle", func(t *testing.T) {
		p := capture.NewPipeline(capture.KindDevice, capturetest.NewEncoder(), capture.PipelineOptions{}, capture.Events{})
		if err := p.Start(context.Background(), nil); !errors.Is(err, capture.ErrSourceUnavailable) {
			t.Fatalf("expected ErrSourceUnavailable, got %v", err)
		}
	})

	t.Run("released handle", func(t *testing.T) {
		handle := capturetest.NewHandle(capture.KindDevice)
		_ = handle.Release()
		p := capture.NewPipeline(capture.KindDevice, capturetest.NewEncoder(), capture.PipelineOptions{}, capture.Events{})
		if err := p.Start(context.Background(), handle); !errors.Is(err, capture.ErrSourceUnavailable) {
			t.Fatalf("expected ErrSourceUnavailable, got %v", err)
		}
	})

	t.Run("second start", func(t *testing.T) {
		p := capture.NewPipeline(capture.KindDevice, capturetest.NewEncoder(), capture.PipelineOptions{}, capture.Events{})
		if err := p.Start(context.Background(), capturetest.NewHandle(capture.KindDevice)); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer p.Stop()
		if err := p.Start(context.Background(), capturetest.NewHandle(capture.KindDevice)); !errors.Is(err, capture.ErrPipelineStarted) {
			t.Fatalf("expected ErrPipelineStarted, got %v", err)
		}
	})
}

func TestPipelineRevokedHandle(t *testing.T) {
	enc := capturetest.NewEncoder()
	enc.Script(capture.KindDevice, capturetest.Script{Fragments: fragments("x")})
	rec := newRecorder()
	handle := capturetest.NewHandle(capture.KindDevice)
	p := capture.NewPipeline(capture.KindDevice, enc, capture.PipelineOptions{}, rec.events())
	if err := p.Start(context.Background(), handle); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitChunks(t, 1)

	handle.Revoke()
	select {
	case err := <-rec.revoked:
		if !errors.Is(err, capture.ErrSourceRevoked) {
			t.Fatalf("expected ErrSourceRevoked, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for revocation")
	}
	if got := string(rec.waitFinalized(t).Data); got != "x" {
		t.Fatalf("unexpected data %q", got)
	}
	if handle.Releases() != 1 {
		t.Fatalf("expected one release, got %d", handle.Releases())
	}
}

func TestPipelineUnexpectedEndIsRevocation(t *testing.T) {
	enc := capturetest.NewEncoder()
	enc.Script(capture.KindDisplay, capturetest.Script{
		Fragments:         fragments("a", "b"),
		EndAfterFragments: true,
		EndErr:            errors.New("display closed"),
	})
	rec := newRecorder()
	p := capture.NewPipeline(capture.KindDisplay, enc, capture.PipelineOptions{}, rec.events())
	if err := p.Start(context.Background(), capturetest.NewHandle(capture.KindDisplay)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-rec.revoked:
		if !errors.Is(err, capture.ErrSourceRevoked) {
			t.Fatalf("expected ErrSourceRevoked, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for revocation")
	}
	if got := string(rec.waitFinalized(t).Data); got != "ab" {
		t.Fatalf("unexpected data %q", got)
	}
}

func TestPipelinePartialMatchesLateFinalize(t *testing.T) {
	enc := capturetest.NewEncoder()
	enc.Script(capture.KindDisplay, capturetest.Script{
		Fragments: fragments("ab"),
		Stall:     true,
	})
	t.Cleanup(enc.UnstallAll)
	rec := newRecorder()
	p := capture.NewPipeline(capture.KindDisplay, enc, capture.PipelineOptions{}, rec.events())
	if err := p.Start(context.Background(), capturetest.NewHandle(capture.KindDisplay)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitChunks(t, 1)
	p.Stop()

	partial := p.Partial()
	if string(partial.Data) != "ab" {
		t.Fatalf("unexpected partial %q", partial.Data)
	}
	if p.State() != capture.StateStopping {
		t.Fatalf("stalled pipeline should be stopping, got %s", p.State())
	}

	enc.UnstallAll()
	final := rec.waitFinalized(t)
	if string(final.Data) != "ab" || !final.CreatedAt.Equal(partial.CreatedAt) {
		t.Fatalf("late finalize differs from partial: %+v vs %+v", final, partial)
	}
}

func TestPipelineRequestsPeriodicFlush(t *testing.T) {
	enc := capturetest.NewEncoder()
	rec := newRecorder()
	p := capture.NewPipeline(capture.KindDevice, enc, capture.PipelineOptions{FlushInterval: 5 * time.Millisecond}, rec.events())
	if err := p.Start(context.Background(), capturetest.NewHandle(capture.KindDevice)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for enc.Stream(capture.KindDevice).Flushes() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("expected periodic flush requests")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	rec.waitFinalized(t)
}

func TestPipelineStopBeforeStart(t *testing.T) {
	handle := capturetest.NewHandle(capture.KindDevice)
	p := capture.NewPipeline(capture.KindDevice, capturetest.NewEncoder(), capture.PipelineOptions{}, capture.Events{})
	p.Stop()
	if err := p.Start(context.Background(), handle); !errors.Is(err, capture.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if handle.Releases() != 1 {
		t.Fatalf("expected handle release, got %d", handle.Releases())
	}
}
