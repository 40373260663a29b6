// Package unit defines the compilation-unit graph's vocabulary: Units are
// the hash keys of the unit graph planner (C3) and the scheduling atoms of
// the job queue (C4).
package unit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/forgepm/forge/internal/manifest"
)

// CompileMode enumerates what a Unit's compiler invocation is for.
type CompileMode int

const (
	ModeBuild CompileMode = iota
	ModeCheck
	ModeCheckTest
	ModeTest
	ModeBench
	ModeDoc
	ModeDoctest
	ModeRunCustomBuild
	ModeDocscrape
)

func (m CompileMode) String() string {
	switch m {
	case ModeBuild:
		return "build"
	case ModeCheck:
		return "check"
	case ModeCheckTest:
		return "check-test"
	case ModeTest:
		return "test"
	case ModeBench:
		return "bench"
	case ModeDoc:
		return "doc"
	case ModeDoctest:
		return "doctest"
	case ModeRunCustomBuild:
		return "run-custom-build"
	case ModeDocscrape:
		return "docscrape"
	default:
		return "unknown"
	}
}

// Kind is the execution environment a Unit is compiled for: the host
// running the compiler, or a cross-compilation target triple.
type Kind struct {
	Host   bool
	Triple string // meaningful only when Host is false
}

func (k Kind) String() string {
	if k.Host {
		return "host"
	}
	return k.Triple
}

// Profile is the subset of build-profile settings that affect codegen and
// therefore unit identity and fingerprinting.
type Profile struct {
	Name          string // "dev", "release", "test", ...
	OptLevel      string
	DebugInfo     bool
	LTO           bool
	Overflow      bool
	Incremental   bool
	CodegenUnits  int
}

// Unit is one compiler invocation's worth of work. Units are the hash keys
// of the unit graph: two Units with equal (Pkg, Target, Profile, Mode,
// Features, Kind) are the same unit (spec §3 uniqueness invariant).
type Unit struct {
	Pkg      manifest.PackageID
	Target   manifest.Target
	Profile  Profile
	Mode     CompileMode
	Features []string // sorted
	Kind     Kind
	IsStd    bool
	Flags    []string // rustflags-equivalent; not part of Key() and not included in the fingerprint
}

// Key returns a value suitable for use as a map key identifying this Unit.
func (u Unit) Key() string {
	feats := append([]string(nil), u.Features...)
	sort.Strings(feats)
	return strings.Join([]string{
		u.Pkg.String(),
		u.Target.Name,
		u.Target.Kind.String(),
		u.Profile.Name,
		u.Mode.String(),
		strings.Join(feats, ","),
		u.Kind.String(),
	}, "\x1f")
}

// Hash returns a short content hash of Key(), used as a cache/fingerprint
// namespace discriminator.
func (u Unit) Hash() string {
	sum := sha256.Sum256([]byte(u.Key()))
	return hex.EncodeToString(sum[:8])
}

func (u Unit) String() string {
	mode := ""
	if u.Mode != ModeBuild {
		mode = fmt.Sprintf("(%s)", u.Mode)
	}
	return fmt.Sprintf("%s%s", u.Pkg.Name, mode)
}

// ArtifactKind labels a dependency edge between two Units.
type ArtifactKind int

const (
	// ArtifactAll means the dependent needs the full compiled output of
	// the producer (it links against it).
	ArtifactAll ArtifactKind = iota
	// ArtifactMetadata means the dependent can start as soon as the
	// producer has emitted its module summary (pipelined compilation).
	ArtifactMetadata
)

func (a ArtifactKind) String() string {
	if a == ArtifactMetadata {
		return "metadata"
	}
	return "all"
}

// Freshness records whether a Unit's cached fingerprint still matches.
type Freshness int

const (
	Fresh Freshness = iota
	Dirty
)

func (f Freshness) String() string {
	if f == Fresh {
		return "fresh"
	}
	return "dirty"
}
