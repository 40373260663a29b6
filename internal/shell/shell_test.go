package shell

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/forgepm/forge/internal/jobqueue"
	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/unit"
)

func testUnit(name string) unit.Unit {
	return unit.Unit{
		Pkg:    manifest.PackageID{Name: name, Version: "1.0.0"},
		Target: manifest.Target{Name: name, Kind: manifest.TargetLib},
		Mode:   unit.ModeBuild,
	}
}

// newTestShell builds a Shell over a plain bytes.Buffer rather than os.Stdout
// so isTerminal's ioctl probe fails and redraws are skipped, matching how
// forge behaves whenever stdout is piped (CI logs, output redirected to a
// file) per distri's own terminal-gated redraw behavior.
func newTestShell() (*Shell, *bytes.Buffer) {
	var buf bytes.Buffer
	s := New(os.Stdin, 4, true)
	s.out = &buf
	s.terminal = false
	return s, &buf
}

func TestShell_RoutesOutputMessages(t *testing.T) {
	s, buf := newTestShell()
	output := make(chan jobqueue.Message, 8)
	priority := make(chan jobqueue.Message, 8)

	u := testUnit("leftpad")
	priority <- jobqueue.Message{Kind: jobqueue.KindRun, Unit: u}
	output <- jobqueue.Message{Kind: jobqueue.KindStdout, Unit: u, Text: "compiling leftpad"}
	output <- jobqueue.Message{Kind: jobqueue.KindStderr, Unit: u, Text: "warning: unused import"}
	output <- jobqueue.Message{Kind: jobqueue.KindWarningCount, Unit: u, Count: 2}
	output <- jobqueue.Message{Kind: jobqueue.KindFutureIncompatReport, Unit: u, Report: "edition 2024 change"}
	priority <- jobqueue.Message{Kind: jobqueue.KindFinish, Unit: u}
	close(output)
	close(priority)

	s.Consume(output, priority)

	text := buf.String()
	if !strings.Contains(text, "compiling leftpad") {
		t.Errorf("expected stdout to be echoed in verbose mode, got: %q", text)
	}
	if !strings.Contains(text, "warning: unused import") {
		t.Errorf("expected stderr to always be echoed, got: %q", text)
	}

	summary := s.Summary()
	if !strings.Contains(summary, "2 warning(s) emitted") {
		t.Errorf("expected warning count in summary, got: %q", summary)
	}
	if !strings.Contains(summary, "1 dependency had future-incompatibility reports") {
		t.Errorf("expected future-incompat summary, got: %q", summary)
	}
}

func TestShell_NonVerboseSuppressesStdout(t *testing.T) {
	var buf bytes.Buffer
	s := New(os.Stdin, 2, false)
	s.out = &buf
	s.terminal = false

	output := make(chan jobqueue.Message, 2)
	priority := make(chan jobqueue.Message, 2)
	u := testUnit("quietcrate")
	output <- jobqueue.Message{Kind: jobqueue.KindStdout, Unit: u, Text: "should not appear"}
	close(output)
	close(priority)

	s.Consume(output, priority)

	if strings.Contains(buf.String(), "should not appear") {
		t.Errorf("non-verbose shell should suppress stdout passthrough, got: %q", buf.String())
	}
}

func TestShell_SlotReuseAcrossRunAndFinish(t *testing.T) {
	s, _ := newTestShell()
	u := testUnit("reused")

	s.handlePriority(jobqueue.Message{Kind: jobqueue.KindRun, Unit: u})
	running := s.slotFor(u.String())

	s.handlePriority(jobqueue.Message{Kind: jobqueue.KindFinish, Unit: u})
	finished := s.slotFor(u.String())

	if running != finished {
		t.Errorf("expected the same unit to reuse its status slot across run/finish, got %d and %d", running, finished)
	}
	if !strings.HasPrefix(s.status[finished], "idle") {
		t.Errorf("expected a successful finish to clear the slot to idle, got %q", s.status[finished])
	}
}

func TestShell_FailedFinishRecordsFailureLabel(t *testing.T) {
	s, _ := newTestShell()
	u := testUnit("broken")

	s.handlePriority(jobqueue.Message{Kind: jobqueue.KindRun, Unit: u})
	s.handlePriority(jobqueue.Message{Kind: jobqueue.KindFinish, Unit: u, Err: errFailed("compile error")})

	idx := s.slotFor(u.String())
	if !strings.HasPrefix(s.status[idx], "failed: "+u.String()) {
		t.Errorf("expected a failure label, got %q", s.status[idx])
	}
}

type errFailed string

func (e errFailed) Error() string { return string(e) }
