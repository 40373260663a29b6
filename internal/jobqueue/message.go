package jobqueue

import (
	"sync"

	"github.com/forgepm/forge/internal/unit"
)

// Kind tags one Message variant, matching spec.md §4.4.2's message set.
type Kind int

const (
	KindRun Kind = iota
	KindStdout
	KindStderr
	KindDiagnostic
	KindWarningCount
	KindBuildPlan
	KindFixDiagnostic
	KindToken
	KindFinish
	KindFutureIncompatReport
	KindFresh
)

func (k Kind) String() string {
	switch k {
	case KindRun:
		return "run"
	case KindStdout:
		return "stdout"
	case KindStderr:
		return "stderr"
	case KindDiagnostic:
		return "diagnostic"
	case KindWarningCount:
		return "warning-count"
	case KindBuildPlan:
		return "build-plan"
	case KindFixDiagnostic:
		return "fix-diagnostic"
	case KindToken:
		return "token"
	case KindFinish:
		return "finish"
	case KindFutureIncompatReport:
		return "future-incompat-report"
	case KindFresh:
		return "fresh"
	default:
		return "unknown"
	}
}

// Message is one event emitted by a running job, multiplexed onto the
// coordinator's two channels per spec.md §4.4.2: Run/Token/Finish go on the
// unbounded priority channel (scheduling control never blocks on slow
// consumers), everything else goes on the bounded(100) output channel so a
// stalled renderer applies back-pressure to workers instead of buffering
// unbounded diagnostic text in memory.
type Message struct {
	Kind    Kind
	Unit    unit.Unit
	Text    string // Stdout/Stderr/Diagnostic/FixDiagnostic payload
	Count   int    // WarningCount
	Err     error  // Finish
	Report  string // FutureIncompatReport
}

// priorityQueue is an unbounded channel-like pipe: sends never block the
// producer, backed by a growing slice drained by one pump goroutine. This
// is what lets the coordinator push Run/Token/Finish control messages from
// deep inside a worker callback without risking deadlock against the
// bounded output channel.
type priorityQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []Message
	closed bool
}

func newPriorityQueue() *priorityQueue {
	q := &priorityQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *priorityQueue) push(m Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.buf = append(q.buf, m)
	q.cond.Signal()
}

// pop blocks until a message is available or the queue is closed and
// drained, in which case ok is false.
func (q *priorityQueue) pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return Message{}, false
	}
	m := q.buf[0]
	q.buf = q.buf[1:]
	return m, true
}

func (q *priorityQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
