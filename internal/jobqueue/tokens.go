package jobqueue

import (
	"context"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// TokenSource bounds how many units may compile concurrently. Acquire
// blocks until a slot is available; Release returns it. Implementations
// must be safe for concurrent use.
type TokenSource interface {
	Acquire(ctx context.Context) error
	Release()
}

// LocalTokenPool is a TokenSource backed by a buffered channel, used when
// forge is not running under an external job-server (e.g. invoked directly
// rather than as a `make` recipe).
type LocalTokenPool struct {
	tokens chan struct{}
}

func NewLocalTokenPool(n int) *LocalTokenPool {
	if n <= 0 {
		n = 1
	}
	p := &LocalTokenPool{tokens: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

func (p *LocalTokenPool) Acquire(ctx context.Context) error {
	select {
	case <-p.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *LocalTokenPool) Release() {
	select {
	case p.tokens <- struct{}{}:
	default: // pool never holds more tokens than it started with
	}
}

// POSIXJobServer implements the GNU make jobserver protocol: a shared pipe
// whose N initial bytes are the N extra tokens available across the whole
// build tree, inherited from a parent make/cargo invocation via
// --jobserver-auth=R,W in MAKEFLAGS. Acquire reads one byte (blocking until
// a token is available); Release writes one byte back. Every Acquire goes
// through the pipe, the first one included: no implicit token (the
// caller's own) is held back outside it.
type POSIXJobServer struct {
	readFD, writeFD int
}

// ParseJobServerAuth extracts "--jobserver-auth=R,W" (or the legacy
// "--jobserver-fds=R,W") from a MAKEFLAGS-style string, returning ok=false
// if absent so the caller falls back to LocalTokenPool.
func ParseJobServerAuth(makeflags string) (r, w int, ok bool) {
	for _, field := range strings.Fields(makeflags) {
		for _, prefix := range []string{"--jobserver-auth=", "--jobserver-fds="} {
			if !strings.HasPrefix(field, prefix) {
				continue
			}
			parts := strings.SplitN(strings.TrimPrefix(field, prefix), ",", 2)
			if len(parts) != 2 {
				continue
			}
			ri, err1 := strconv.Atoi(parts[0])
			wi, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				continue
			}
			return ri, wi, true
		}
	}
	return 0, 0, false
}

func NewPOSIXJobServer(readFD, writeFD int) *POSIXJobServer {
	return &POSIXJobServer{readFD: readFD, writeFD: writeFD}
}

func (j *POSIXJobServer) Acquire(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := unix.Read(j.readFD, buf)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *POSIXJobServer) Release() {
	_, _ = unix.Write(j.writeFD, []byte{'+'})
}

// EnvJobServer builds a TokenSource from the process environment,
// returning a LocalTokenPool of size fallback when no jobserver is
// inherited (the common case: a top-level `forge build` invocation).
func EnvJobServer(fallback int) TokenSource {
	if r, w, ok := ParseJobServerAuth(os.Getenv("MAKEFLAGS")); ok {
		return NewPOSIXJobServer(r, w)
	}
	return NewLocalTokenPool(fallback)
}
