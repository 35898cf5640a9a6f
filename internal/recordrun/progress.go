package recordrun

import (
	"fmt"
	"io"
	"sync"
	"time"

	"boothrec/internal/session"
	"boothrec/internal/textutil"
)

// progressPrinter turns orchestrator updates into terminal lines. It only
// writes when something a person would notice changed.
type progressPrinter struct {
	mu        sync.Mutex
	out       io.Writer
	phase     session.Phase
	countdown int
	remaining int
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, countdown: -1, remaining: -1}
}

func (p *progressPrinter) update(u session.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	phaseChanged := u.Phase != p.phase
	p.phase = u.Phase

	switch u.Phase {
	case session.PhaseCountingDown:
		if phaseChanged {
			fmt.Fprintf(p.out, "Get ready: %s\n", textutil.DisplayLabel(u.Category))
		}
		if u.CountdownRemaining != p.countdown && u.CountdownRemaining > 0 {
			p.countdown = u.CountdownRemaining
			fmt.Fprintf(p.out, "  %d...\n", u.CountdownRemaining)
		}
	case session.PhaseRecording:
		secs := int((u.RecordingRemaining + time.Second - 1) / time.Second)
		if phaseChanged {
			fmt.Fprintln(p.out, "Recording")
		}
		if secs != p.remaining && secs > 0 {
			p.remaining = secs
			fmt.Fprintf(p.out, "  %ds left\n", secs)
		}
	case session.PhaseStopping:
		if phaseChanged {
			fmt.Fprintln(p.out, "Stopping")
		}
	case session.PhaseFinalizing:
		if phaseChanged {
			fmt.Fprintln(p.out, "Finalizing")
		}
	case session.PhaseUploading:
		if phaseChanged {
			fmt.Fprintln(p.out, "Saving")
		}
	}
}
