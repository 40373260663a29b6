// Package jobqueue implements C4, the job queue: a single coordinator
// thread dispatching unit-graph-ready work to a token-bounded worker pool,
// reporting progress over the two-channel message protocol from spec.md
// §4.4.2. Grounded on distri's cmd/distri/batch.go scheduler (errgroup
// worker pool, ready-queue dispatch reacting to completions, cascading
// failure marking) generalized from distri's flat package-name graph to
// forge's unit graph, plus the teacher's incremental.go freshness model
// (freshness.go) and a ready queue ordered by transitive cost
// (readyQueue, below).
package jobqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/forgepm/forge/internal/cache"
	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/unit"
	"github.com/forgepm/forge/internal/unitgraph"
)

// Runner executes one unit's compiler invocation. emit is called for every
// Stdout/Stderr/Diagnostic/FixDiagnostic/WarningCount event as it happens;
// the coordinator forwards each to the bounded output channel itself, so
// Runner implementations do not need to know about back-pressure. Run
// returns the built Artifact and the Fingerprint of the inputs that
// produced it, so the coordinator can cache both for next time.
type Runner interface {
	Run(ctx context.Context, u unit.Unit, emit func(Message)) (cache.Artifact, Fingerprint, error)

	// Fingerprint computes a unit's current input fingerprint without
	// running the compiler, so the coordinator can decide Fresh-vs-Dirty
	// (spec.md §4.4.1) before dispatching the unit to a worker thread at
	// all.
	Fingerprint(ctx context.Context, u unit.Unit) (Fingerprint, error)
}

// Coordinator schedules and runs every unit in a Graph to completion (or
// first failure, if KeepGoing is false).
type Coordinator struct {
	graph     *unitgraph.Graph
	tokens    TokenSource
	runner    Runner
	freshness *freshnessStore
	workers   int
	keepGoing bool

	priority *priorityQueue
	output   chan Message
}

// Options configures one Coordinator.
type Options struct {
	Workers   int
	KeepGoing bool
}

func New(g *unitgraph.Graph, store cache.Store, runner Runner, tokens TokenSource, opts Options) *Coordinator {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Coordinator{
		graph:     g,
		tokens:    tokens,
		runner:    runner,
		freshness: &freshnessStore{store: store},
		workers:   workers,
		keepGoing: opts.KeepGoing,
		priority:  newPriorityQueue(),
		output:    make(chan Message, 100),
	}
}

// Output is the bounded(100) stream of Stdout/Stderr/Diagnostic/
// WarningCount/FixDiagnostic/FutureIncompatReport messages; a slow consumer
// applies back-pressure directly to workers, per spec.md §4.4.2.
func (c *Coordinator) Output() <-chan Message { return c.output }

// Priority is the unbounded stream of Run/Token/Finish scheduling-control
// messages, which must never block behind a slow Output consumer.
func (c *Coordinator) Priority() <-chan Message {
	ch := make(chan Message)
	go func() {
		defer close(ch)
		for {
			m, ok := c.priority.pop()
			if !ok {
				return
			}
			ch <- m
		}
	}()
	return ch
}

type buildResult struct {
	unit unit.Unit
	err  error
}

// Run dispatches every unit in dependency order and blocks until the graph
// is fully built, or (when !KeepGoing) until the first failure has stopped
// new scheduling and in-flight work has drained. It returns the first
// error encountered, or nil if every unit succeeded.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.output)
	defer c.priority.close()

	total := c.graph.Len()
	if total == 0 {
		return nil
	}

	costs := computeCosts(c.graph)
	ready := newReadyQueue(costs)
	for _, u := range c.graph.Leaves() {
		ready.push(u)
	}

	work := make(chan unit.Unit)
	done := make(chan buildResult)
	eg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < c.workers; i++ {
		eg.Go(func() error {
			for u := range work {
				if err := c.tokens.Acquire(ctx); err != nil {
					done <- buildResult{unit: u, err: err}
					continue
				}
				c.priority.push(Message{Kind: KindRun, Unit: u})
				err := c.build(ctx, u)
				c.tokens.Release()
				c.priority.push(Message{Kind: KindFinish, Unit: u, Err: err})
				select {
				case done <- buildResult{unit: u, err: err}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	built := make(map[string]error)
	var firstErr error
	stopped := false
	inflight := 0

	dispatcher := make(chan struct{})
	go func() {
		defer close(dispatcher)
		defer close(work)
		for {
			for !stopped {
				u, ok := ready.pop()
				if !ok {
					break
				}
				if c.dispatchFresh(ctx, u, built, ready) {
					continue
				}
				inflight++
				select {
				case work <- u:
				case <-ctx.Done():
					return
				}
			}
			if inflight == 0 {
				return
			}
			select {
			case r := <-done:
				inflight--
				built[r.unit.Key()] = r.err
				if r.err == nil {
					if !stopped {
						for _, dep := range c.graph.Dependents(r.unit) {
							if canBuild(c.graph, dep, built) {
								ready.push(dep)
							}
						}
					}
				} else {
					if firstErr == nil {
						firstErr = r.err
					}
					markFailed(c.graph, r.unit, built)
					if !c.keepGoing {
						stopped = true
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-dispatcher
	if err := eg.Wait(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dispatchFresh checks u's freshness and, if Fresh, completes it inline on
// the dispatcher goroutine instead of handing it to a worker thread, per
// spec.md §4.4.1 ("Fresh inline, Dirty on a new worker thread") and P2 (a
// re-run over an unchanged workspace emits no recompilation). It reports
// whether u was handled this way.
func (c *Coordinator) dispatchFresh(ctx context.Context, u unit.Unit, built map[string]error, ready *readyQueue) bool {
	want, err := c.runner.Fingerprint(ctx, u)
	if err != nil {
		return false // can't prove freshness; let the worker path build and surface the real error
	}
	freshness, _, err := c.freshness.check(u, want)
	if err != nil || freshness != unit.Fresh {
		return false
	}
	c.priority.push(Message{Kind: KindFresh, Unit: u})
	built[u.Key()] = nil
	for _, dep := range c.graph.Dependents(u) {
		if canBuild(c.graph, dep, built) {
			ready.push(dep)
		}
	}
	return true
}

func (c *Coordinator) build(ctx context.Context, u unit.Unit) error {
	art, fp, err := c.runner.Run(ctx, u, func(m Message) {
		m.Unit = u
		select {
		case c.output <- m:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return err
	}
	return c.freshness.record(u, fp, art)
}

// canBuild reports whether every dependency of candidate has already
// succeeded, per distri's scheduler.canBuild generalized to unitgraph.
func canBuild(g *unitgraph.Graph, candidate unit.Unit, built map[string]error) bool {
	for _, edge := range g.Dependencies(candidate) {
		if err, ok := built[edge.To.Key()]; !ok || err != nil {
			return false
		}
	}
	return true
}

// markFailed recursively marks every transitive dependent of u as failed
// with a synthetic "dependency failed" error, matching distri's
// scheduler.markFailed.
func markFailed(g *unitgraph.Graph, u unit.Unit, built map[string]error) int {
	count := 0
	for _, dep := range g.Dependents(u) {
		if _, already := built[dep.Key()]; already {
			continue
		}
		built[dep.Key()] = errs.New(errs.FamilyExecution, errs.CompilerFailed,
			fmt.Sprintf("dependency %s failed to build", u.String()), nil)
		count++
		count += markFailed(g, dep, built)
	}
	return count
}

// computeCosts weighs each unit by the number of dependency paths leading
// to it from its transitive dependents (a dependent reachable by two paths
// is counted twice), so the ready queue favors the unit that unblocks the
// most future work first (spec.md §4.4.1's scheduling heuristic).
func computeCosts(g *unitgraph.Graph) map[string]int {
	costs := make(map[string]int)
	var visit func(u unit.Unit) int
	memo := make(map[string]int)
	visit = func(u unit.Unit) int {
		if v, ok := memo[u.Key()]; ok {
			return v
		}
		memo[u.Key()] = 0 // guard against cycles; the graph is validated acyclic before Run
		total := 0
		for _, dep := range g.Dependents(u) {
			total += 1 + visit(dep)
		}
		memo[u.Key()] = total
		return total
	}
	for _, u := range g.Units() {
		costs[u.Key()] = visit(u)
	}
	return costs
}

type readyQueue struct {
	mu    sync.Mutex
	costs map[string]int
	items []unit.Unit
}

func newReadyQueue(costs map[string]int) *readyQueue {
	return &readyQueue{costs: costs}
}

func (q *readyQueue) push(u unit.Unit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, u)
	sort.SliceStable(q.items, func(i, j int) bool { return q.costs[q.items[i].Key()] > q.costs[q.items[j].Key()] })
}

func (q *readyQueue) pop() (unit.Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return unit.Unit{}, false
	}
	u := q.items[0]
	q.items = q.items[1:]
	return u, true
}
