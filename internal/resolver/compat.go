package resolver

import (
	semver "github.com/Masterminds/semver/v3"

	"github.com/forgepm/forge/internal/manifest"
)

// CompatNotice names a (package, constraint) pair that should surface a
// warning when resolved under a resolver Behavior other than the one the
// note was written for. This is the Open Question #1 decision recorded in
// DESIGN.md: rather than hardcoding one package's known incompatibility, the
// table is data a caller populates (e.g. from project config), and
// checkCompatNotices applies it uniformly to every resolved node.
type CompatNotice struct {
	Package    string
	Constraint string
	Behavior   manifest.ResolveBehavior
	Message    string
}

// checkCompatNotices returns the messages of every notice whose Package
// matches id.Name, whose Constraint matches id.Version, and whose Behavior
// differs from active (the note exists precisely because that other
// behavior resolves this package differently).
func checkCompatNotices(notices []CompatNotice, active manifest.ResolveBehavior, id manifest.PackageID) []string {
	if len(notices) == 0 {
		return nil
	}
	var out []string
	for _, n := range notices {
		if n.Package != id.Name || n.Behavior == active {
			continue
		}
		con, err := parseConstraint(n.Constraint)
		if err != nil {
			continue
		}
		sv, err := semver.NewVersion(id.Version)
		if err != nil {
			continue
		}
		if con.Check(sv) {
			out = append(out, n.Message)
		}
	}
	return out
}
