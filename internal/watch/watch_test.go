package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_CoalescesWritesIntoOneRebuild(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Cargo.toml")
	if err := os.WriteFile(file, []byte("[package]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := New([]string{dir}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(file, []byte("[package]\nname=\"x\"\n"), 0o644); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-w.Rebuild():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a rebuild signal after writes settled")
	}

	select {
	case <-w.Rebuild():
		t.Fatalf("expected the burst of writes to coalesce into a single rebuild signal")
	case <-time.After(100 * time.Millisecond):
	}
}
