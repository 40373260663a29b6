// Package manifest defines the core identity and declaration types shared by
// every component of forge: package ids, source ids, manifests, targets,
// dependencies and feature values. Manifests are loaded once per invocation
// by an external parser (TOML-to-struct conversion is explicitly out of
// scope here) and are immutable afterwards.
package manifest

import (
	"fmt"
	"sort"
	"strings"
)

// SourceKind tags the origin of a package.
type SourceKind int

const (
	SourceRegistry SourceKind = iota
	SourcePath
	SourceGit
)

func (k SourceKind) String() string {
	switch k {
	case SourceRegistry:
		return "registry"
	case SourcePath:
		return "path"
	case SourceGit:
		return "git"
	default:
		return "unknown"
	}
}

// SourceID identifies where a package's code comes from. Equality on
// Registry/Path ignores ResolvedCommit; Git sources compare equal when URL
// and Reference match. HasSamePrecise also requires ResolvedCommit to match.
type SourceID struct {
	Kind SourceKind

	// Registry/Git
	URL string

	// Path
	AbsPath string

	// Git
	Reference     string
	ResolvedCommit string
}

// Equal implements the identity-comparison rule from the data model: the
// resolved commit is not part of source identity, only of precision.
func (s SourceID) Equal(o SourceID) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case SourceRegistry:
		return s.URL == o.URL
	case SourcePath:
		return s.AbsPath == o.AbsPath
	case SourceGit:
		return s.URL == o.URL && s.Reference == o.Reference
	default:
		return false
	}
}

// HasSamePrecise additionally requires the resolved git commit to match.
func (s SourceID) HasSamePrecise(o SourceID) bool {
	if !s.Equal(s) || !s.Equal(o) {
		return s.Equal(o)
	}
	if s.Kind != SourceGit {
		return s.Equal(o)
	}
	return s.ResolvedCommit == o.ResolvedCommit
}

func (s SourceID) String() string {
	switch s.Kind {
	case SourceRegistry:
		return "registry+" + s.URL
	case SourcePath:
		return "path+" + s.AbsPath
	case SourceGit:
		if s.ResolvedCommit != "" {
			return fmt.Sprintf("git+%s?ref=%s#%s", s.URL, s.Reference, s.ResolvedCommit)
		}
		return fmt.Sprintf("git+%s?ref=%s", s.URL, s.Reference)
	default:
		return "unknown"
	}
}

// PackageID is the identity used everywhere downstream. Two ids compare
// equal iff Name, Version and Source all match.
type PackageID struct {
	Name    string
	Version string // semver string, canonicalized by the resolver
	Source  SourceID
}

func (id PackageID) Equal(o PackageID) bool {
	return id.Name == o.Name && id.Version == o.Version && id.Source.Equal(o.Source)
}

func (id PackageID) String() string {
	return fmt.Sprintf("%s %s (%s)", id.Name, id.Version, id.Source)
}

// Less gives the deterministic PackageId ordering the resolver and planner
// rely on for reproducible output (spec P1).
func Less(a, b PackageID) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if a.Version != b.Version {
		return a.Version < b.Version
	}
	return a.Source.String() < b.Source.String()
}

// TargetKind enumerates the kinds of build targets a package may declare.
type TargetKind int

const (
	TargetLib TargetKind = iota
	TargetBin
	TargetTest
	TargetBench
	TargetExample
	TargetCustomBuild
)

func (k TargetKind) String() string {
	switch k {
	case TargetLib:
		return "lib"
	case TargetBin:
		return "bin"
	case TargetTest:
		return "test"
	case TargetBench:
		return "bench"
	case TargetExample:
		return "example"
	case TargetCustomBuild:
		return "custom-build"
	default:
		return "unknown"
	}
}

// Target describes one compilable artifact declared by a package.
type Target struct {
	Name             string
	Kind             TargetKind
	CrateTypes       []string // e.g. "lib", "staticlib", "cdylib", "proc-macro"
	SourcePath       string
	Edition          string
	RequiredFeatures []string
}

// IsProcMacro reports whether this target produces a macro expanded by the
// host compiler rather than linked into the consumer.
func (t Target) IsProcMacro() bool {
	for _, c := range t.CrateTypes {
		if c == "proc-macro" {
			return true
		}
	}
	return false
}

// ProducesUpstreamObject reports whether consuming this target requires the
// full compiled artifact (rather than just module metadata): binaries,
// static/dynamic libraries and test/bench harnesses all link.
func (t Target) ProducesUpstreamObject() bool {
	switch t.Kind {
	case TargetBin, TargetTest, TargetBench, TargetExample:
		return true
	}
	for _, c := range t.CrateTypes {
		if c == "staticlib" || c == "cdylib" || c == "bin" {
			return true
		}
	}
	return false
}

// DependencyKind distinguishes the edge a Dependency declares.
type DependencyKind int

const (
	DepNormal DependencyKind = iota
	DepBuild
	DepDevelopment
)

func (k DependencyKind) String() string {
	switch k {
	case DepNormal:
		return "normal"
	case DepBuild:
		return "build"
	case DepDevelopment:
		return "dev"
	default:
		return "unknown"
	}
}

// ArtifactRequest declares a dependency on a specific output kind of another
// package (bin/staticlib/cdylib), producing an extra edge in the unit graph.
type ArtifactRequest struct {
	Kinds      []string // e.g. "bin", "staticlib", "cdylib"
	TargetName string   // which [[bin]] etc. to pull, empty means "the" target
	Lib        bool      // also depend on the library target
}

// Dependency declares a constraint on another package from a manifest.
type Dependency struct {
	Name            string
	Rename          string // import under a different local name
	VersionReq      string
	Kind            DependencyKind
	Source          SourceID
	Features        []string
	DefaultFeatures bool
	Optional        bool
	PlatformCfg     string // e.g. "cfg(unix)", empty means unconditional
	Artifact        *ArtifactRequest
}

// LocalName returns the name dependents should use to refer to this
// dependency: Rename if set, else Name.
func (d Dependency) LocalName() string {
	if d.Rename != "" {
		return d.Rename
	}
	return d.Name
}

// FeatureValueKind tags the parsed form of one entry in a [features] list.
type FeatureValueKind int

const (
	FVFeature FeatureValueKind = iota
	FVDep
	FVDepFeature
)

// FeatureValue is the parsed form of one entry in a feature's activation
// list: "other-feature", "dep:name", or "dep-name?/feature" / "dep-name/feature".
type FeatureValue struct {
	Kind    FeatureValueKind
	Feature string // FVFeature
	Dep     string // FVDep, FVDepFeature
	DepFeat string // FVDepFeature
	Weak    bool   // FVDepFeature: "dep?/feat"
}

// ParseFeatureValue parses one textual feature-activation entry.
func ParseFeatureValue(s string) FeatureValue {
	if strings.HasPrefix(s, "dep:") {
		return FeatureValue{Kind: FVDep, Dep: strings.TrimPrefix(s, "dep:")}
	}
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		dep := s[:idx]
		feat := s[idx+1:]
		weak := strings.HasSuffix(dep, "?")
		if weak {
			dep = strings.TrimSuffix(dep, "?")
		}
		return FeatureValue{Kind: FVDepFeature, Dep: dep, DepFeat: feat, Weak: weak}
	}
	return FeatureValue{Kind: FVFeature, Feature: s}
}

func (fv FeatureValue) String() string {
	switch fv.Kind {
	case FVDep:
		return "dep:" + fv.Dep
	case FVDepFeature:
		dep := fv.Dep
		if fv.Weak {
			dep += "?"
		}
		return dep + "/" + fv.DepFeat
	default:
		return fv.Feature
	}
}

// PublishTarget records a manifest's `publish` setting: Disabled is set by
// `publish = false` (never published); otherwise a nil Registries means
// publishable everywhere and a non-empty one is an explicit allow-list.
type PublishTarget struct {
	Disabled   bool
	Registries []string
}

// Manifest is the immutable, loaded form of one package's declaration.
// Parsing the on-disk manifest format into this struct is the job of an
// external collaborator; forge only consumes the result.
type Manifest struct {
	ID              PackageID
	Targets         []Target
	Dependencies    []Dependency
	Features        map[string][]FeatureValue
	Links           string
	RustVersion     string
	Publish         PublishTarget
	WorkspaceMember bool
}

// LibTarget returns the package's library target, if any.
func (m Manifest) LibTarget() (Target, bool) {
	for _, t := range m.Targets {
		if t.Kind == TargetLib {
			return t, true
		}
	}
	return Target{}, false
}

// CustomBuildTarget returns the package's build-script target, if any.
func (m Manifest) CustomBuildTarget() (Target, bool) {
	for _, t := range m.Targets {
		if t.Kind == TargetCustomBuild {
			return t, true
		}
	}
	return Target{}, false
}

// SortedDependencyNames returns dependency names in deterministic order,
// used by the planner (spec §4.3: "dependencies are emitted sorted by
// (depname, PackageId)").
func (m Manifest) SortedDependencyNames() []string {
	seen := make(map[string]bool)
	names := make([]string, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		if !seen[d.Name] {
			seen[d.Name] = true
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names
}

// ResolvedNode is one package's entry in a Resolve: who it depends on (after
// renames are applied) and which features are activated on it.
type ResolvedNode struct {
	// ResolvedDeps maps the dependency's declared name to the concrete
	// PackageID chosen for it, plus whether the edge is a "public"
	// re-export (relevant to future `pub dep` visibility extensions).
	ResolvedDeps []ResolvedDep
	Features     map[string]bool
}

type ResolvedDep struct {
	DepName string
	Pkg     PackageID
	Public  bool
}

// ResolveBehavior selects the feature-unification algorithm version.
type ResolveBehavior int

const (
	BehaviorV1 ResolveBehavior = iota + 1
	BehaviorV2
	BehaviorV3
)

func (b ResolveBehavior) String() string {
	switch b {
	case BehaviorV1:
		return "1"
	case BehaviorV2:
		return "2"
	case BehaviorV3:
		return "3"
	default:
		return "unknown"
	}
}

// Resolve is the in-memory form of the lockfile: exactly one chosen version
// per (name, source), plus the feature set activated on each.
type Resolve struct {
	Nodes         map[PackageID]ResolvedNode
	Checksums     map[PackageID]string // sha256 hex, empty means unknown
	UnusedPatches []PackageID
	Behavior      ResolveBehavior
}

// SortedPackageIDs returns every PackageID in the Resolve in the
// deterministic order spec.md requires for byte-identical lockfiles (P1).
func (r Resolve) SortedPackageIDs() []PackageID {
	ids := make([]PackageID, 0, len(r.Nodes))
	for id := range r.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return Less(ids[i], ids[j]) })
	return ids
}
