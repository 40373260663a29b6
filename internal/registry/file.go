package registry

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/manifest"
)

// FileClient is a registry client over a filesystem tree laid out exactly
// like the index format in spec.md §4.1: one newline-delimited JSON file of
// IndexSummary lines per MakeDepPath(name), and "<name>-<version>.crate"
// archives alongside. Grounded on the teacher's FileRegistry
// (internal/packagemanager/fileregistry.go), generalized from a flat JSON
// blob store to the on-disk index-line tree the spec requires and given
// the poll/Pending contract.
type FileClient struct {
	root string

	mu       sync.RWMutex
	overlays []overlayEntry // most-recently-added first
	invalid  bool
}

type overlayEntry struct {
	source manifest.SourceID
	dir    string
}

// NewFileClient opens (without requiring it to already exist) a
// filesystem-backed registry rooted at root.
func NewFileClient(root string) *FileClient {
	return &FileClient{root: root}
}

func (c *FileClient) AddOverlay(source manifest.SourceID, directory string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlays = append([]overlayEntry{{source: source, dir: directory}}, c.overlays...)
}

func (c *FileClient) InvalidateCache() {
	c.mu.Lock()
	c.invalid = true
	c.mu.Unlock()
}

// Query is synchronous (local filesystem I/O), so it always returns Ready;
// it still implements the Client interface's poll/Pending shape uniformly
// with HTTPClient.
func (c *FileClient) Query(ctx context.Context, dep Dep) (QueryResult, error) {
	select {
	case <-ctx.Done():
		return QueryResult{}, ctx.Err()
	default:
	}

	c.mu.RLock()
	overlays := append([]overlayEntry(nil), c.overlays...)
	c.mu.RUnlock()

	var summaries []IndexSummary
	seen := make(map[string]bool)

	for _, ov := range overlays {
		lines, err := readIndexFile(filepath.Join(ov.dir, "index", MakeDepPath(dep.Name)))
		if err != nil && !os.IsNotExist(err) {
			return QueryResult{}, err
		}
		for _, s := range lines {
			if !seen[s.Vers] {
				seen[s.Vers] = true
				summaries = append(summaries, s)
			}
		}
	}

	lines, err := readIndexFile(filepath.Join(c.root, "index", MakeDepPath(dep.Name)))
	if err != nil && !os.IsNotExist(err) {
		return QueryResult{}, err
	}
	for _, s := range lines {
		if !seen[s.Vers] {
			seen[s.Vers] = true
			summaries = append(summaries, s)
		}
	}

	return QueryResult{State: Ready, Summaries: summaries}, nil
}

func (c *FileClient) BlockUntilReady(ctx context.Context) error {
	// The file client is always Ready; nothing to wait for.
	return nil
}

func (c *FileClient) Download(ctx context.Context, id manifest.PackageID, cksum string) ([]byte, error) {
	c.mu.RLock()
	overlays := append([]overlayEntry(nil), c.overlays...)
	c.mu.RUnlock()

	fname := fmt.Sprintf("%s-%s.crate", id.Name, id.Version)
	for _, ov := range overlays {
		if data, err := os.ReadFile(filepath.Join(ov.dir, fname)); err == nil {
			return verifyChecksum(data, cksum)
		}
	}
	data, err := os.ReadFile(filepath.Join(c.root, fname))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.FamilyFetch, errs.NotFound, fname+" not found in registry", nil)
		}
		return nil, errs.New(errs.FamilyFetch, errs.NetworkFailure, "read archive", nil).Wrap(err)
	}
	return verifyChecksum(data, cksum)
}

func verifyChecksum(data []byte, cksum string) ([]byte, error) {
	if cksum == "" {
		return data, nil
	}
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(got, cksum) {
		return nil, errs.New(errs.FamilyFetch, errs.ChecksumMismatch,
			fmt.Sprintf("checksum mismatch: want %s got %s", cksum, got), nil)
	}
	return data, nil
}

func readIndexFile(path string) ([]IndexSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []IndexSummary
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var s IndexSummary
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteIndexLine appends one index line for pkg to the registry tree,
// creating parent directories as needed. Used by the packager (C5) to
// publish into the overlay registry.
func WriteIndexLine(root string, s IndexSummary) error {
	path := filepath.Join(root, "index", MakeDepPath(s.Name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = f.Write(b)
	return err
}
