package registry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/manifest"
)

// HTTPClient is a Client backed by a remote HTTP-sparse index, grounded on
// the teacher's HTTPRegistry (singleflight-coalesced lookups, ETag/
// If-Modified-Since caching) and on distri's internal/repo.Reader (on-disk
// cache keyed by path, conditional GET). Retries use exponential backoff up
// to a small fixed limit per spec.md §4.1; checksum mismatches never retry.
type HTTPClient struct {
	base      string
	client    *http.Client
	cacheDir  string // empty disables on-disk caching
	sf        singleflight.Group
	maxRetries int

	mu       sync.Mutex
	overlays []overlayEntry
	pending  map[string]*inflight
}

type inflight struct {
	sig    *pendingSignal
	result QueryResult
	err    error
}

// NewHTTPClient constructs a client against baseURL, caching index files and
// archives under cacheDir (pass "" to disable caching).
func NewHTTPClient(baseURL, cacheDir string) *HTTPClient {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPClient{
		base:       strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Transport: tr, Timeout: 30 * time.Second},
		cacheDir:   cacheDir,
		maxRetries: 5,
		pending:    make(map[string]*inflight),
	}
}

func (c *HTTPClient) AddOverlay(source manifest.SourceID, directory string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlays = append([]overlayEntry{{source: source, dir: directory}}, c.overlays...)
}

func (c *HTTPClient) InvalidateCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string]*inflight)
	if c.cacheDir != "" {
		_ = os.RemoveAll(filepath.Join(c.cacheDir, "index"))
	}
}

// Query implements the poll/Pending protocol: the first call for a given
// dep kicks off a background fetch and returns Pending; once the fetch
// completes, subsequent calls return Ready immediately.
func (c *HTTPClient) Query(ctx context.Context, dep Dep) (QueryResult, error) {
	// Overlay entries are local and always ready; merge them in once the
	// upstream fetch (if any) has also completed.
	c.mu.Lock()
	overlays := append([]overlayEntry(nil), c.overlays...)
	inf, ok := c.pending[dep.Name]
	if !ok {
		inf = &inflight{sig: newPendingSignal()}
		c.pending[dep.Name] = inf
		c.mu.Unlock()
		go c.fetch(dep, inf)
	} else {
		c.mu.Unlock()
	}

	select {
	case <-ctx.Done():
		return QueryResult{}, ctx.Err()
	default:
	}

	inf.sig.mu.Lock()
	done := inf.sig.done
	inf.sig.mu.Unlock()
	if !done {
		return QueryResult{State: Pending}, nil
	}
	if inf.err != nil {
		return QueryResult{}, inf.err
	}

	// Overlay versions go first and mask upstream entries of the same version.
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
	for _, s := range inf.result.Summaries {
		if !seen[s.Vers] {
			seen[s.Vers] = true
			summaries = append(summaries, s)
		}
	}
	return QueryResult{State: Ready, Summaries: summaries}, nil
}

func (c *HTTPClient) fetch(dep Dep, inf *inflight) {
	defer inf.sig.signal()

	v, err, _ := c.sf.Do(dep.Name, func() (any, error) {
		return c.fetchIndexLines(dep.Name)
	})
	if err != nil {
		inf.err = err
		return
	}
	inf.result = QueryResult{State: Ready, Summaries: v.([]IndexSummary)}
}

func (c *HTTPClient) fetchIndexLines(name string) ([]IndexSummary, error) {
	relPath := MakeDepPath(name)
	cacheFn := c.cacheFn(relPath)

	var ifModifiedSince time.Time
	if cacheFn != "" {
		if st, err := os.Stat(cacheFn); err == nil {
			ifModifiedSince = st.ModTime()
		}
	}

	var body []byte
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		b, status, err := c.get(relPath, ifModifiedSince)
		if err == nil {
			if status == http.StatusNotModified && cacheFn != "" {
				if cached, rerr := os.ReadFile(cacheFn); rerr == nil {
					body = cached
					break
				}
			}
			if status == http.StatusNotFound {
				return nil, errs.New(errs.FamilyFetch, errs.NotFound, name+" not found in index", nil)
			}
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				return nil, errs.New(errs.FamilyFetch, errs.Unauthorized, "registry rejected request", nil)
			}
			body = b
			break
		}
		if attempt == c.maxRetries {
			return nil, errs.New(errs.FamilyFetch, errs.NetworkFailure, "index fetch failed after retries", nil).Wrap(err)
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	if cacheFn != "" && body != nil {
		_ = os.MkdirAll(filepath.Dir(cacheFn), 0o755)
		_ = os.WriteFile(cacheFn, body, 0o644)
	}

	var out []IndexSummary
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var s IndexSummary
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, xerrors.Errorf("parse index line for %s: %w", name, err)
		}
		out = append(out, s)
	}
	return out, sc.Err()
}

func (c *HTTPClient) get(relPath string, ifModifiedSince time.Time) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, c.base+"/"+relPath, nil)
	if err != nil {
		return nil, 0, err
	}
	if !ifModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", ifModifiedSince.Format(http.TimeFormat))
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return b, resp.StatusCode, nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return b, resp.StatusCode, nil
}

func (c *HTTPClient) BlockUntilReady(ctx context.Context) error {
	c.mu.Lock()
	infs := make([]*inflight, 0, len(c.pending))
	for _, inf := range c.pending {
		infs = append(infs, inf)
	}
	c.mu.Unlock()

	for _, inf := range infs {
		inf.sig.mu.Lock()
		done := inf.sig.done
		inf.sig.mu.Unlock()
		if done {
			continue
		}
		if err := inf.sig.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *HTTPClient) Download(ctx context.Context, id manifest.PackageID, cksum string) ([]byte, error) {
	c.mu.Lock()
	overlays := append([]overlayEntry(nil), c.overlays...)
	c.mu.Unlock()

	fname := fmt.Sprintf("%s-%s.crate", id.Name, id.Version)
	for _, ov := range overlays {
		if data, err := os.ReadFile(filepath.Join(ov.dir, fname)); err == nil {
			return verifyChecksum(data, cksum)
		}
	}

	cacheFn := c.cacheFn(filepath.Join("archives", fname))
	if cacheFn != "" {
		if data, err := os.ReadFile(cacheFn); err == nil {
			return verifyChecksum(data, cksum)
		}
	}

	var body []byte
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/dl/"+fname, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				return nil, errs.New(errs.FamilyFetch, errs.NotFound, fname+" not found", nil)
			}
			if resp.StatusCode == http.StatusOK {
				body, err = io.ReadAll(resp.Body)
				if err == nil {
					break
				}
			}
		}
		if attempt == c.maxRetries {
			return nil, errs.New(errs.FamilyFetch, errs.NetworkFailure, "download failed after retries", nil).Wrap(err)
		}
		time.Sleep(backoff)
		backoff *= 2
	}

	verified, err := verifyChecksum(body, cksum)
	if err != nil {
		return nil, err
	}
	if cacheFn != "" {
		_ = os.MkdirAll(filepath.Dir(cacheFn), 0o755)
		_ = os.WriteFile(cacheFn, verified, 0o644)
	}
	return verified, nil
}

func (c *HTTPClient) cacheFn(rel string) string {
	if c.cacheDir == "" {
		return ""
	}
	return filepath.Join(c.cacheDir, rel)
}
