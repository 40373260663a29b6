package unitgraph

import (
	"sort"

	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/unit"
)

// RootUnit names one requested top-level build: a package plus the mode to
// compile it in (ModeBuild/ModeTest/ModeDoc/...). cmd/forge builds this list
// from the CLI invocation (e.g. "forge test" over the workspace members).
type RootUnit struct {
	Pkg        manifest.PackageID
	Mode       unit.CompileMode
	TargetName string // empty selects the package's primary target for Mode
}

// Planner lowers a manifest.Resolve into a Graph of unit.Unit nodes.
type Planner struct {
	manifests ManifestProvider
	host      unit.Kind
	target    unit.Kind
	profile   unit.Profile
}

func New(manifests ManifestProvider, host, target unit.Kind, profile unit.Profile) *Planner {
	return &Planner{manifests: manifests, host: host, target: target, profile: profile}
}

// Plan builds the full unit graph reachable from roots.
func (p *Planner) Plan(res *manifest.Resolve, roots []RootUnit) (*Graph, error) {
	g := newGraph()

	sorted := append([]RootUnit(nil), roots...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Pkg != sorted[j].Pkg {
			return manifest.Less(sorted[i].Pkg, sorted[j].Pkg)
		}
		return sorted[i].Mode < sorted[j].Mode
	})

	visiting := make(map[string]bool)
	for _, root := range sorted {
		m, err := p.manifests.Manifest(root.Pkg)
		if err != nil {
			return nil, errs.New(errs.FamilyPlan, errs.MissingRequiredFile, err.Error(), map[string]any{"package": root.Pkg.Name}).Wrap(err)
		}
		target, err := selectTarget(m, root.Mode, root.TargetName)
		if err != nil {
			return nil, err
		}
		if _, err := p.planUnit(g, res, root.Pkg, m, target, root.Mode, p.target, visiting); err != nil {
			return nil, err
		}
	}

	g.UpgradeArtifactEdges()

	if _, err := g.TopoOrder(); err != nil {
		return nil, err
	}
	return g, nil
}

// planUnit materializes (or reuses) the Unit for (pkg, target, mode, kind),
// then recurses into its dependency edges. visiting guards against
// reentering a unit currently being expanded higher on the stack, which
// would otherwise indicate a cycle undetectable by Key() alone (two units
// with the same key are definitionally the same node, so real cycles
// surface once added to the graph and are caught by Graph.TopoOrder).
func (p *Planner) planUnit(g *Graph, res *manifest.Resolve, pkgID manifest.PackageID, m manifest.Manifest, target manifest.Target, mode unit.CompileMode, kind unit.Kind, visiting map[string]bool) (int64, error) {
	node := res.Nodes[pkgID]
	u := unit.Unit{
		Pkg:      pkgID,
		Target:   target,
		Profile:  p.profile,
		Mode:     mode,
		Features: sortedFeatures(node.Features),
		Kind:     kind,
	}
	key := u.Key()
	if visiting[key] {
		return g.getOrAdd(u), nil // still being expanded higher on the stack
	}
	id := g.getOrAdd(u)
	visiting[key] = true
	defer delete(visiting, key)

	// A custom-build script runs before and produces inputs for the rest of
	// the package's units, modeled as a RunCustomBuild unit with an
	// artifact-All edge into every other unit of the same package.
	if cb, ok := m.CustomBuildTarget(); ok && target.Kind != manifest.TargetCustomBuild {
		cbUnit := unit.Unit{Pkg: pkgID, Target: cb, Profile: p.profile, Mode: unit.ModeRunCustomBuild, Features: u.Features, Kind: kind}
		cbID := g.getOrAdd(cbUnit)
		g.addEdge(id, cbID, unit.ArtifactAll, "")
	}

	deps := append([]manifest.ResolvedDep(nil), node.ResolvedDeps...)
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].DepName != deps[j].DepName {
			return deps[i].DepName < deps[j].DepName
		}
		return manifest.Less(deps[i].Pkg, deps[j].Pkg)
	})

	for _, dep := range deps {
		depManifest, err := p.manifests.Manifest(dep.Pkg)
		if err != nil {
			return 0, errs.New(errs.FamilyPlan, errs.MissingRequiredFile, err.Error(), map[string]any{"package": dep.Pkg.Name}).Wrap(err)
		}
		depTarget, ok := depManifest.LibTarget()
		if !ok {
			continue // a dependency with no library target contributes nothing to the graph
		}

		// A proc-macro is always executed by the host compiler, even when
		// the consumer is being built for a cross target.
		depKind := kind
		if depTarget.IsProcMacro() {
			depKind = p.host
		}

		depMode := unit.ModeBuild
		if mode == unit.ModeCheck || mode == unit.ModeCheckTest {
			depMode = unit.ModeCheck
		}

		depID, err := p.planUnit(g, res, dep.Pkg, depManifest, depTarget, depMode, depKind, visiting)
		if err != nil {
			return 0, err
		}

		artifactKind := unit.ArtifactMetadata
		if depTarget.ProducesUpstreamObject() || depMode == unit.ModeBuild && depTarget.IsProcMacro() {
			artifactKind = unit.ArtifactAll
		}
		g.addEdge(id, depID, artifactKind, dep.DepName)
	}

	return id, nil
}

func selectTarget(m manifest.Manifest, mode unit.CompileMode, name string) (manifest.Target, error) {
	if name != "" {
		for _, t := range m.Targets {
			if t.Name == name {
				return t, nil
			}
		}
		return manifest.Target{}, errs.New(errs.FamilyPlan, errs.DuplicateTarget,
			"target "+name+" not found in "+m.ID.Name, nil)
	}
	if mode == unit.ModeDoc || mode == unit.ModeDoctest || mode == unit.ModeDocscrape {
		if t, ok := m.LibTarget(); ok {
			return t, nil
		}
	}
	if t, ok := m.LibTarget(); ok {
		return t, nil
	}
	for _, t := range m.Targets {
		if t.Kind == manifest.TargetBin {
			return t, nil
		}
	}
	return manifest.Target{}, errs.New(errs.FamilyPlan, errs.MissingRequiredFile, m.ID.Name+" has no lib or bin target", nil)
}

func sortedFeatures(features map[string]bool) []string {
	out := make([]string, 0, len(features))
	for f, on := range features {
		if on {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
