package registry

import (
	"context"
	"sync"

	"github.com/forgepm/forge/internal/manifest"
)

// Dep is the subset of a manifest.Dependency a query needs.
type Dep struct {
	Name   string
	Source manifest.SourceID
}

// QueryState distinguishes whether a Client's Query call has data ready or
// is still waiting on I/O (spec.md §4.1, §9: "coroutine-like index
// queries").
type QueryState int

const (
	Ready QueryState = iota
	Pending
)

// QueryResult is returned by Client.Query. When State is Pending,
// Summaries is nil and the caller must call BlockUntilReady then retry.
type QueryResult struct {
	State     QueryState
	Summaries []IndexSummary
}

// Client presents a uniform read interface over registry sources, caching
// on disk. It is the C1 public contract from spec.md §4.1.
type Client interface {
	// Query enumerates versions matching dep.Name from dep.Source. The
	// sequence is finite and non-restartable per call.
	Query(ctx context.Context, dep Dep) (QueryResult, error)

	// BlockUntilReady must be called by the caller when Query returns
	// Pending, then Query is retried.
	BlockUntilReady(ctx context.Context) error

	// Download returns the source archive for a resolved id; content is
	// verified against the lockfile checksum when cksum is non-empty.
	Download(ctx context.Context, id manifest.PackageID, cksum string) ([]byte, error)

	// InvalidateCache forces re-read of index lines before the next query.
	InvalidateCache()

	// AddOverlay overlays a local directory of pre-published tarballs in
	// front of an upstream source (used by the packager's local registry).
	AddOverlay(source manifest.SourceID, directory string)
}

// pendingSignal is a trivial condition variable marking one background
// index fetch as done. HTTPClient uses it to implement the poll/Pending
// contract (BlockUntilReady waits on it); FileClient reads the index
// synchronously and never returns Pending.
type pendingSignal struct {
	mu   sync.Mutex
	cond *sync.Cond
	done bool
}

func newPendingSignal() *pendingSignal {
	s := &pendingSignal{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *pendingSignal) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		for !s.done {
			s.cond.Wait()
		}
		s.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *pendingSignal) signal() {
	s.mu.Lock()
	s.done = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
