// Package watch implements `forge build --watch`'s workspace-manifest
// watcher, grounded on the teacher's internal/runtime/vfs FSNotifyWatcher
// (same fsnotify.Watcher wrapping, same Op bitmask translation), narrowed
// from a general VFS watcher to the one thing a rebuild loop needs:
// manifest and source-file change events debounced into rebuild triggers.
package watch

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op mirrors the teacher's vfs.WatchOp bitmask, kept as a bitmask for the
// same reason: a single fsnotify event can carry more than one op.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

// Event is one coalesced filesystem change.
type Event struct {
	Path string
	Op   Op
}

// Watcher watches a workspace's manifest and source trees and emits a
// debounced Rebuild signal whenever anything relevant changes, rather than
// a raw per-file event stream: spec.md's watch mode cares about "does the
// workspace need rebuilding", not individual file operations.
type Watcher struct {
	w        *fsnotify.Watcher
	rebuildC chan struct{}
	errC     chan error
	debounce time.Duration
}

// New opens an fsnotify watch rooted at each of roots (typically the
// workspace's package directories), grounded on
// vfs.NewFSWatcher/FSNotifyWatcher.loop.
func New(roots []string, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		if err := addRecursive(fw, root); err != nil {
			fw.Close()
			return nil, err
		}
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	w := &Watcher{w: fw, rebuildC: make(chan struct{}, 1), errC: make(chan error, 1), debounce: debounce}
	go w.loop()
	return w, nil
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

// Rebuild signals that the workspace changed and a rebuild should run.
// Sends are coalesced: a burst of edits (e.g. an editor's save-then-format)
// collapses into a single trigger per debounce window, matching how the
// teacher's own vfs.Watcher (watch.go) debounces bursty write events.
func (w *Watcher) Rebuild() <-chan struct{} { return w.rebuildC }

func (w *Watcher) Errors() <-chan error { return w.errC }

func (w *Watcher) Close() error { return w.w.Close() }

func (w *Watcher) loop() {
	var timer *time.Timer
	trigger := func() {
		select {
		case w.rebuildC <- struct{}{}:
		default:
		}
	}
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			op := translate(ev.Op)
			if op == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, trigger)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			select {
			case w.errC <- err:
			default:
			}
		}
	}
}

func translate(op fsnotify.Op) Op {
	var out Op
	if op&fsnotify.Create != 0 {
		out |= OpCreate
	}
	if op&fsnotify.Write != 0 {
		out |= OpWrite
	}
	if op&fsnotify.Remove != 0 {
		out |= OpRemove
	}
	if op&fsnotify.Rename != 0 {
		out |= OpRename
	}
	if op&fsnotify.Chmod != 0 {
		out |= OpChmod
	}
	return out
}
