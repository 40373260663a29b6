package jobqueue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/forgepm/forge/internal/cache"
	"github.com/forgepm/forge/internal/unit"
)

// FileState fingerprints one input file, grounded on the teacher's
// FileState/HashFile (internal/build/incremental.go), unchanged in shape.
type FileState struct {
	Path    string
	Size    int64
	ModTime time.Time
	SHA256  string
}

// Fingerprint is everything that determines whether a Unit's cached
// artifact can be reused: its declared inputs plus the unit key itself
// (so a profile/feature/target change always invalidates, even if no file
// on disk changed), per spec.md §4.4.5.
type Fingerprint struct {
	UnitKey string
	Files   []FileState
}

func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Snapshot builds a Fingerprint for u from its input file list, generalizing
// SnapshotInputs's glob expansion (internal/build/incremental.go) to operate
// per-Unit instead of per-TargetID glob pattern.
func Snapshot(u unit.Unit, files []string) (Fingerprint, error) {
	fp := Fingerprint{UnitKey: u.Key()}
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, path := range sorted {
		st, err := os.Stat(path)
		if err != nil {
			return Fingerprint{}, err
		}
		sum, err := HashFile(path)
		if err != nil {
			return Fingerprint{}, err
		}
		fp.Files = append(fp.Files, FileState{Path: filepath.Clean(path), Size: st.Size(), ModTime: st.ModTime(), SHA256: sum})
	}
	return fp, nil
}

// Equal reports whether two fingerprints describe the same inputs; mtimes
// are intentionally excluded from the comparison (content hash is
// authoritative) so a touch-without-edit does not force a rebuild.
func (fp Fingerprint) Equal(other Fingerprint) bool {
	if fp.UnitKey != other.UnitKey || len(fp.Files) != len(other.Files) {
		return false
	}
	for i := range fp.Files {
		a, b := fp.Files[i], other.Files[i]
		if a.Path != b.Path || a.Size != b.Size || a.SHA256 != b.SHA256 {
			return false
		}
	}
	return true
}

// freshnessStore persists the last-built Fingerprint per unit in a
// cache.Store, so freshness survives across invocations, and reads back the
// cached Artifact when a unit is Fresh.
type freshnessStore struct {
	store cache.Store
}

func (f *freshnessStore) check(u unit.Unit, want Fingerprint) (unit.Freshness, cache.Artifact, error) {
	art, ok, err := f.store.Get(cache.Key(u.Hash()))
	if err != nil {
		return unit.Dirty, cache.Artifact{}, err
	}
	if !ok {
		return unit.Dirty, cache.Artifact{}, nil
	}
	prevJSON, ok := art.Metadata["fingerprint"]
	if !ok {
		return unit.Dirty, cache.Artifact{}, nil
	}
	var prev Fingerprint
	if err := json.Unmarshal([]byte(prevJSON), &prev); err != nil {
		return unit.Dirty, cache.Artifact{}, nil
	}
	if !prev.Equal(want) {
		return unit.Dirty, cache.Artifact{}, nil
	}
	return unit.Fresh, art, nil
}

func (f *freshnessStore) record(u unit.Unit, fp Fingerprint, art cache.Artifact) error {
	b, err := json.Marshal(fp)
	if err != nil {
		return err
	}
	if art.Metadata == nil {
		art.Metadata = make(map[string]string)
	}
	art.Metadata["fingerprint"] = string(b)
	return f.store.Put(cache.Key(u.Hash()), art)
}
