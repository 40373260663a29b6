// Package shell renders build progress and diagnostics to a terminal,
// grounded on distr1-distri's cmd/distri/batch.go scheduler
// (refreshStatus/updateStatus: one status line per worker, ANSI
// cursor-restore redraw, stale-character blanking) generalized from a
// fixed worker-count status array to forge's jobqueue.Message stream.
package shell

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/forgepm/forge/internal/jobqueue"
)

// isTerminal mirrors distri's package-level probe via unix.IoctlGetTermios;
// redraws are skipped entirely when stdout isn't a tty (e.g. piped to a
// file or CI log), matching distri's own behavior.
func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}

// Shell owns the terminal: one status line per worker slot, redrawn in
// place, plus pass-through of Stdout/Stderr/Diagnostic output below the
// status block.
type Shell struct {
	out      io.Writer
	verbose  bool
	terminal bool

	mu         sync.Mutex
	status     []string
	lastDraw   time.Time
	warnings   int
	futureIncompat []string
}

// New creates a Shell with one status line per worker.
func New(out *os.File, workers int, verbose bool) *Shell {
	return &Shell{
		out:      out,
		verbose:  verbose,
		terminal: isTerminal(out),
		status:   make([]string, workers),
	}
}

// Consume drains a jobqueue.Coordinator's Output and Priority channels
// until both are closed, rendering progress and diagnostics. It returns
// once the build is complete; callers still check Coordinator.Run's error.
func (s *Shell) Consume(output <-chan jobqueue.Message, priority <-chan jobqueue.Message) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for m := range priority {
			s.handlePriority(m)
		}
	}()
	go func() {
		defer wg.Done()
		for m := range output {
			s.handleOutput(m)
		}
	}()
	wg.Wait()
	s.clearStatus()
}

func (s *Shell) handlePriority(m jobqueue.Message) {
	switch m.Kind {
	case jobqueue.KindRun:
		s.setSlot(m.Unit.String(), fmt.Sprintf("building %s", m.Unit.String()))
	case jobqueue.KindFresh:
		s.setSlot(m.Unit.String(), fmt.Sprintf("fresh %s", m.Unit.String()))
	case jobqueue.KindFinish:
		label := "idle"
		if m.Err != nil {
			label = fmt.Sprintf("failed: %s", m.Unit.String())
		}
		s.setSlot(m.Unit.String(), label)
	}
}

func (s *Shell) handleOutput(m jobqueue.Message) {
	switch m.Kind {
	case jobqueue.KindStdout:
		if s.verbose {
			s.println(m.Text)
		}
	case jobqueue.KindStderr, jobqueue.KindDiagnostic:
		s.println(m.Text)
	case jobqueue.KindWarningCount:
		s.mu.Lock()
		s.warnings += m.Count
		s.mu.Unlock()
	case jobqueue.KindFutureIncompatReport:
		s.mu.Lock()
		s.futureIncompat = append(s.futureIncompat, m.Report)
		s.mu.Unlock()
	}
}

// Summary renders the end-of-build warning/future-incompat counts, per
// spec.md §7's "warnings are collected but never abort; surfaced at
// end-of-build with counts".
func (s *Shell) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	if s.warnings > 0 {
		fmt.Fprintf(&b, "%d warning(s) emitted\n", s.warnings)
	}
	if n := len(s.futureIncompat); n > 0 {
		fmt.Fprintf(&b, "%d dependenc%s had future-incompatibility reports; run with --future-incompat-report for details\n",
			n, plural(n))
	}
	return b.String()
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// println writes a line below the status block without disturbing it,
// redrawing afterward — distri's scheduler interleaves fmt.Println calls
// with refreshStatus the same way.
func (s *Shell) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
	s.redrawLocked()
}

func (s *Shell) setSlot(key, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.slotFor(key)
	if diff := len(s.status[idx]) - len(text); diff > 0 {
		text += strings.Repeat(" ", diff)
	}
	s.status[idx] = text
	if time.Since(s.lastDraw) < 100*time.Millisecond {
		return
	}
	s.redrawLocked()
}

// slotFor assigns key a stable status-line index, reusing the first empty
// or matching slot; distri indexes by worker number directly, but forge's
// Coordinator doesn't expose one, so units self-assign a slot instead.
func (s *Shell) slotFor(key string) int {
	for i, line := range s.status {
		if strings.HasPrefix(line, "building "+key) || strings.HasPrefix(line, "failed: "+key) {
			return i
		}
	}
	for i, line := range s.status {
		if trimmed := strings.TrimRight(line, " "); trimmed == "" || trimmed == "idle" {
			return i
		}
	}
	s.status = append(s.status, "")
	return len(s.status) - 1
}

func (s *Shell) redrawLocked() {
	if !s.terminal {
		return
	}
	s.lastDraw = time.Now()
	var maxLen int
	for _, line := range s.status {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}
	for _, line := range s.status {
		if pad := maxLen - len(line); pad > 0 {
			line += strings.Repeat(" ", pad)
		}
		fmt.Fprintln(s.out, line)
	}
	fmt.Fprintf(s.out, "\033[%dA", len(s.status))
}

func (s *Shell) clearStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.terminal {
		return
	}
	for range s.status {
		fmt.Fprintln(s.out)
	}
}
