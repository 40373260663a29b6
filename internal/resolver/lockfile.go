package resolver

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/manifest"
)

// LockEntry pins one package to an exact version, source and checksum, plus
// its resolved dependency edges. Field names and tags mirror Cargo.lock's
// actual on-disk shape rather than the teacher's CID-keyed LockEntry, since
// spec.md §4.1's index already gives us the real registry checksum format.
type LockEntry struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Source       string            `json:"source,omitempty"`
	Checksum     string            `json:"checksum,omitempty"`
	Dependencies []LockDependency  `json:"dependencies,omitempty"`
}

// LockDependency names one resolved edge. Name, version and source are
// always recorded, whether or not another package shares the name, so an
// edge can be reconstructed exactly.
type LockDependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source,omitempty"`
}

// Lockfile is the deterministic, sorted serialization of a manifest.Resolve.
type Lockfile struct {
	Version int         `json:"version"`
	Entries []LockEntry `json:"package"`
}

const lockfileVersion = 4

// GenerateLockfile converts a Resolve into its canonical Lockfile form and
// marshaled bytes. Entries and their dependency lists are sorted so two
// resolutions of the same input produce byte-identical output (spec P1),
// generalizing the teacher's GenerateLockfile/marshalCanonicalJSON.
func GenerateLockfile(res *manifest.Resolve) (Lockfile, []byte, error) {
	ids := res.SortedPackageIDs()
	entries := make([]LockEntry, 0, len(ids))

	for _, id := range ids {
		node := res.Nodes[id]
		deps := make([]LockDependency, 0, len(node.ResolvedDeps))
		for _, d := range node.ResolvedDeps {
			deps = append(deps, LockDependency{Name: d.Pkg.Name, Version: d.Pkg.Version, Source: d.Pkg.Source.String()})
		}
		sort.Slice(deps, func(i, j int) bool {
			if deps[i].Name != deps[j].Name {
				return deps[i].Name < deps[j].Name
			}
			return deps[i].Version < deps[j].Version
		})

		entries = append(entries, LockEntry{
			Name:         id.Name,
			Version:      id.Version,
			Source:       id.Source.String(),
			Checksum:     res.Checksums[id],
			Dependencies: deps,
		})
	}

	lock := Lockfile{Version: lockfileVersion, Entries: entries}
	b, err := marshalCanonicalJSON(lock)
	if err != nil {
		return Lockfile{}, nil, err
	}
	return lock, b, nil
}

// VerifyLockfile checks that lock is sorted (a corrupted or hand-edited
// lockfile fails fast rather than silently resolving non-deterministically)
// and that every entry names a package actually present in res.
func VerifyLockfile(res *manifest.Resolve, lock Lockfile) error {
	if !isSortedLock(lock) {
		return errs.New(errs.FamilyResolve, errs.ConflictingRequirements, "lockfile entries are not sorted", nil)
	}
	for _, e := range lock.Entries {
		id := manifest.PackageID{Name: e.Name, Version: e.Version, Source: parseSourceString(e.Source)}
		node, ok := res.Nodes[id]
		_ = node
		if !ok {
			return errs.New(errs.FamilyResolve, errs.ConflictingRequirements,
				fmt.Sprintf("lockfile entry %s %s not present in resolution", e.Name, e.Version), nil)
		}
		if want := res.Checksums[id]; want != "" && want != e.Checksum {
			return errs.New(errs.FamilyFetch, errs.ChecksumMismatch,
				fmt.Sprintf("%s %s: lockfile checksum %s does not match index checksum %s", e.Name, e.Version, e.Checksum, want), nil)
		}
	}
	return nil
}

func marshalCanonicalJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func isSortedLock(lock Lockfile) bool {
	return sort.SliceIsSorted(lock.Entries, func(i, j int) bool {
		if lock.Entries[i].Name != lock.Entries[j].Name {
			return lock.Entries[i].Name < lock.Entries[j].Name
		}
		return lock.Entries[i].Version < lock.Entries[j].Version
	})
}

// parseSourceString is a best-effort inverse of SourceID.String, sufficient
// to re-identify a lockfile entry's source kind for lookups; full fidelity
// round-tripping (e.g. an exact resolved git commit) is not required since
// verification only needs the source's identity, not its precision.
func parseSourceString(s string) manifest.SourceID {
	switch {
	case len(s) > len("registry+") && s[:len("registry+")] == "registry+":
		return manifest.SourceID{Kind: manifest.SourceRegistry, URL: s[len("registry+"):]}
	case len(s) > len("path+") && s[:len("path+")] == "path+":
		return manifest.SourceID{Kind: manifest.SourcePath, AbsPath: s[len("path+"):]}
	default:
		return manifest.SourceID{Kind: manifest.SourceGit, URL: s}
	}
}
