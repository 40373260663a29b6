// Package resolver implements C2, the dependency resolver: backtracking
// version selection plus feature activation over a registry.Client index,
// generalized from the teacher's flat name->version Resolver
// (internal/packagemanager/resolver.go) to full PackageID identity and the
// Feature/Dep/DepFeature/weak propagation model spec.md §4.2 describes.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	semver "github.com/Masterminds/semver/v3"

	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/registry"
)

// Requirement is one root-level dependency to resolve, taken from the
// workspace manifests under resolution.
type Requirement struct {
	Name            string
	VersionReq      string
	Source          manifest.SourceID
	Kind            manifest.DependencyKind
	Features        []string
	DefaultFeatures bool
}

// Options controls one resolution run.
type Options struct {
	Behavior manifest.ResolveBehavior

	// PreferHigher picks the highest matching version first, matching
	// cargo's default; false tries lowest-first (used by "resolver
	// -Z minimal-versions"-equivalent tests).
	PreferHigher bool

	// IncludeDev resolves manifest.DepDevelopment edges; set for the
	// workspace root when running tests, left false for dependency
	// packages (dev-deps of a dependency are never built, per spec).
	IncludeDev bool

	// CompatNotices is the Open Question #diesel-compat hook: a generic
	// table of (package, constraint, behavior, message) checked against
	// every resolved node, instead of a hardcoded package rule.
	CompatNotices []CompatNotice

	// Pinned carries the previous lockfile's chosen version per package
	// name, used by Update (update.go) to implement cargo update's
	// minimal-change behavior: packages not named in an update request keep
	// their old version when it still satisfies every constraint.
	Pinned map[string]string
}

// Resolver resolves a set of root requirements into a manifest.Resolve.
type Resolver struct {
	client registry.Client
	opts   Options
}

func New(client registry.Client, opts Options) *Resolver {
	if opts.Behavior == 0 {
		opts.Behavior = manifest.BehaviorV2
	}
	return &Resolver{client: client, opts: opts}
}

// pin is one package's tentative or final resolution state.
type pin struct {
	id       manifest.PackageID
	summary  registry.IndexSummary
	features map[string]bool
}

type weakActivation struct {
	dep  registry.IndexRegistryDependency
	feat string
}

// session is the mutable backtracking state for one Resolve call.
type session struct {
	ctx       context.Context
	nodes     map[string]*pin // keyed by lowercase package name (single-pin-per-name; see DESIGN.md)
	builtDeps map[string]bool // optional deps that have been activated by someone
	checksums map[manifest.PackageID]string
	visiting  map[string]bool
	stack     []string
	notices   []string
}

type snapshot struct {
	nodes     map[string]*pin
	builtDeps map[string]bool
}

func (s *session) snapshot() snapshot {
	nodes := make(map[string]*pin, len(s.nodes))
	for k, p := range s.nodes {
		feat := make(map[string]bool, len(p.features))
		for f, v := range p.features {
			feat[f] = v
		}
		nodes[k] = &pin{id: p.id, summary: p.summary, features: feat}
	}
	built := make(map[string]bool, len(s.builtDeps))
	for k, v := range s.builtDeps {
		built[k] = v
	}
	return snapshot{nodes: nodes, builtDeps: built}
}

func (s *session) restore(snap snapshot) {
	s.nodes = snap.nodes
	s.builtDeps = snap.builtDeps
}

// Resolve computes a Resolve satisfying every root requirement, or a
// *errs.Error identifying the first unsatisfiable constraint, links
// collision or cycle encountered. The returned notices slice carries any
// CompatNotice messages triggered by the chosen versions.
func (r *Resolver) Resolve(ctx context.Context, roots []Requirement) (*manifest.Resolve, []string, error) {
	s := &session{
		ctx:       ctx,
		nodes:     make(map[string]*pin),
		builtDeps: make(map[string]bool),
		checksums: make(map[manifest.PackageID]string),
		visiting:  make(map[string]bool),
	}

	sorted := append([]Requirement(nil), roots...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, req := range sorted {
		if req.Kind == manifest.DepDevelopment && !r.opts.IncludeDev {
			continue
		}
		if err := r.resolveOne(s, req); err != nil {
			return nil, nil, err
		}
	}

	if err := r.checkLinksCollisions(s); err != nil {
		return nil, nil, err
	}

	return s.toResolve(r.opts.Behavior), s.notices, nil
}

func (r *Resolver) resolveOne(s *session, req Requirement) error {
	key := strings.ToLower(req.Name)

	if s.visiting[key] {
		return cycleError(s, key)
	}

	con, err := parseConstraint(req.VersionReq)
	if err != nil {
		return errs.New(errs.FamilyResolve, errs.NoMatchingVersion, err.Error(), map[string]any{"package": req.Name})
	}

	if p, ok := s.nodes[key]; ok {
		sv, err := semver.NewVersion(p.id.Version)
		if err != nil {
			return errs.New(errs.FamilyResolve, errs.NoMatchingVersion,
				fmt.Sprintf("%s: pinned version %q is not valid semver", req.Name, p.id.Version), nil)
		}
		if !con.Check(sv) {
			return errs.New(errs.FamilyResolve, errs.ConflictingRequirements,
				fmt.Sprintf("%s: already resolved to %s, which does not satisfy %s", req.Name, p.id.Version, req.VersionReq),
				map[string]any{"package": req.Name, "pinned": p.id.Version, "constraint": req.VersionReq})
		}
		return r.activate(s, p, req.Features, req.DefaultFeatures)
	}

	summaries, err := r.query(s.ctx, registry.Dep{Name: req.Name, Source: req.Source})
	if err != nil {
		return err
	}

	candidates := make([]registry.IndexSummary, 0, len(summaries))
	for _, sum := range summaries {
		if sum.Yanked {
			continue
		}
		candidates = append(candidates, sum)
	}
	sort.Slice(candidates, func(i, j int) bool {
		vi, erri := semver.NewVersion(candidates[i].Vers)
		vj, errj := semver.NewVersion(candidates[j].Vers)
		if erri != nil || errj != nil {
			return candidates[i].Vers < candidates[j].Vers
		}
		if r.opts.PreferHigher {
			return vi.GreaterThan(vj)
		}
		return vi.LessThan(vj)
	})

	if pinnedVer, ok := r.opts.Pinned[req.Name]; ok {
		for i, c := range candidates {
			if c.Vers == pinnedVer {
				candidates = append(candidates[:0:0], append([]registry.IndexSummary{c}, append(candidates[:i], candidates[i+1:]...)...)...)
				break
			}
		}
	}

	s.visiting[key] = true
	s.stack = append(s.stack, key)
	defer func() {
		s.visiting[key] = false
		s.stack = s.stack[:len(s.stack)-1]
	}()

	var lastErr error
	for _, cand := range candidates {
		sv, err := semver.NewVersion(cand.Vers)
		if err != nil {
			continue
		}
		if !con.Check(sv) {
			continue
		}

		snap := s.snapshot()
		nNotices := len(s.notices)
		id := manifest.PackageID{Name: cand.Name, Version: cand.Vers, Source: req.Source}
		p := &pin{id: id, summary: cand, features: make(map[string]bool)}
		s.nodes[key] = p
		s.checksums[id] = cand.Cksum

		if err := r.activate(s, p, req.Features, req.DefaultFeatures); err != nil {
			lastErr = err
			s.restore(snap)
			s.notices = s.notices[:nNotices]
			continue
		}
		s.notices = append(s.notices, checkCompatNotices(r.opts.CompatNotices, r.opts.Behavior, id)...)
		return nil
	}

	if lastErr != nil {
		return lastErr
	}
	return errs.New(errs.FamilyResolve, errs.NoMatchingVersion,
		fmt.Sprintf("no version of %s matches %s", req.Name, req.VersionReq),
		map[string]any{"package": req.Name, "constraint": req.VersionReq})
}

// activate turns on defaultFeatures/requested on p, then resolves every
// dependency edge those features require (spec.md §4.2 step 4): plain
// feature names recurse, "dep:x" turns on optional dependency x, and
// "x?/feat"/"x/feat" forward a feature onto dependency x (weak forms only
// once x is already built by someone else). Weak activations are deferred
// to a second pass so their effect does not depend on queue order.
func (r *Resolver) activate(s *session, p *pin, requested []string, defaultFeatures bool) error {
	queue := make([]string, 0, len(requested)+1)
	if defaultFeatures {
		if _, ok := p.summary.Features["default"]; ok {
			queue = append(queue, "default")
		}
	}
	queue = append(queue, requested...)

	var weak []weakActivation

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if p.features[name] {
			continue
		}
		p.features[name] = true

		values, ok := p.summary.Features[name]
		if !ok {
			values, ok = p.summary.Features2[name]
		}
		if !ok {
			if r.opts.Behavior == manifest.BehaviorV1 {
				if dep, found := findDep(p.summary.Deps, name); found && dep.Optional {
					if err := r.resolveDepEdge(s, p, dep, nil, dep.DefaultFeatures); err != nil {
						return err
					}
					continue
				}
			}
			return errs.New(errs.FamilyResolve, errs.NonExistentFeature,
				fmt.Sprintf("%s: feature %q does not exist", p.id.Name, name),
				map[string]any{"package": p.id.Name, "feature": name})
		}

		for _, raw := range values {
			fv := manifest.ParseFeatureValue(raw)
			switch fv.Kind {
			case manifest.FVFeature:
				queue = append(queue, fv.Feature)
			case manifest.FVDep:
				dep, found := findDep(p.summary.Deps, fv.Dep)
				if !found {
					return errs.New(errs.FamilyResolve, errs.NonExistentFeature,
						fmt.Sprintf("%s: feature %q names unknown dependency %q", p.id.Name, name, fv.Dep), nil)
				}
				if err := r.resolveDepEdge(s, p, dep, nil, dep.DefaultFeatures); err != nil {
					return err
				}
			case manifest.FVDepFeature:
				dep, found := findDep(p.summary.Deps, fv.Dep)
				if !found {
					return errs.New(errs.FamilyResolve, errs.NonExistentFeature,
						fmt.Sprintf("%s: feature %q names unknown dependency %q", p.id.Name, name, fv.Dep), nil)
				}
				if fv.Weak && dep.Optional {
					weak = append(weak, weakActivation{dep: dep, feat: fv.DepFeat})
					continue
				}
				if err := r.resolveDepEdge(s, p, dep, []string{fv.DepFeat}, dep.DefaultFeatures); err != nil {
					return err
				}
			}
		}
	}

	for _, dep := range p.summary.Deps {
		if dep.Optional {
			continue
		}
		if dep.Kind == "dev" && !r.opts.IncludeDev {
			continue
		}
		if err := r.resolveDepEdge(s, p, dep, nil, dep.DefaultFeatures); err != nil {
			return err
		}
	}

	for _, w := range weak {
		if !s.builtDeps[w.dep.Name] {
			continue
		}
		if err := r.resolveDepEdge(s, p, w.dep, []string{w.feat}, w.dep.DefaultFeatures); err != nil {
			return err
		}
	}

	return nil
}

func (r *Resolver) resolveDepEdge(s *session, parent *pin, dep registry.IndexRegistryDependency, extraFeatures []string, defaultFeatures bool) error {
	if dep.Kind == "dev" && !r.opts.IncludeDev {
		return nil
	}

	name := dep.Package
	if name == "" {
		name = dep.Name
	}

	src := parent.id.Source
	if dep.Registry != "" {
		src = manifest.SourceID{Kind: manifest.SourceRegistry, URL: dep.Registry}
	}

	req := Requirement{
		Name:            name,
		VersionReq:      dep.Req,
		Source:          src,
		Features:        append(append([]string(nil), dep.Features...), extraFeatures...),
		DefaultFeatures: defaultFeatures,
	}
	if err := r.resolveOne(s, req); err != nil {
		return err
	}
	s.builtDeps[dep.Name] = true
	return nil
}

func (r *Resolver) query(ctx context.Context, dep registry.Dep) ([]registry.IndexSummary, error) {
	for {
		res, err := r.client.Query(ctx, dep)
		if err != nil {
			return nil, err
		}
		if res.State == registry.Ready {
			return res.Summaries, nil
		}
		if err := r.client.BlockUntilReady(ctx); err != nil {
			return nil, err
		}
	}
}

// checkLinksCollisions enforces the one-native-library-per-links-key
// invariant from spec.md §4.2 (two distinct packages may not both declare
// the same `links` value in one resolution).
func (r *Resolver) checkLinksCollisions(s *session) error {
	owners := make(map[string]manifest.PackageID)
	for _, p := range s.nodes {
		if p.summary.Links == "" {
			continue
		}
		if prev, ok := owners[p.summary.Links]; ok {
			return errs.New(errs.FamilyResolve, errs.LinksCollision,
				fmt.Sprintf("multiple packages link against %q: %s and %s", p.summary.Links, prev.Name, p.id.Name),
				map[string]any{"links": p.summary.Links})
		}
		owners[p.summary.Links] = p.id
	}
	return nil
}

func (s *session) toResolve(behavior manifest.ResolveBehavior) *manifest.Resolve {
	nodes := make(map[manifest.PackageID]manifest.ResolvedNode, len(s.nodes))
	checksums := make(map[manifest.PackageID]string, len(s.checksums))
	for _, p := range s.nodes {
		var deps []manifest.ResolvedDep
		for _, d := range p.summary.Deps {
			if d.Optional && !s.builtDeps[d.Name] {
				continue
			}
			other, ok := s.nodes[strings.ToLower(depName(d))]
			if !ok {
				continue
			}
			deps = append(deps, manifest.ResolvedDep{DepName: d.Name, Pkg: other.id, Public: d.Public})
		}
		sort.Slice(deps, func(i, j int) bool {
			if deps[i].DepName != deps[j].DepName {
				return deps[i].DepName < deps[j].DepName
			}
			return manifest.Less(deps[i].Pkg, deps[j].Pkg)
		})
		nodes[p.id] = manifest.ResolvedNode{ResolvedDeps: deps, Features: p.features}
	}
	// Only pinned packages: a candidate rejected during backtracking
	// leaves its entry in s.checksums.
	for _, p := range s.nodes {
		if c, ok := s.checksums[p.id]; ok {
			checksums[p.id] = c
		}
	}
	return &manifest.Resolve{Nodes: nodes, Checksums: checksums, Behavior: behavior}
}

func depName(d registry.IndexRegistryDependency) string {
	if d.Package != "" {
		return d.Package
	}
	return d.Name
}

func findDep(deps []registry.IndexRegistryDependency, name string) (registry.IndexRegistryDependency, bool) {
	for _, d := range deps {
		if d.Name == name {
			return d, true
		}
	}
	return registry.IndexRegistryDependency{}, false
}

func cycleError(s *session, key string) error {
	idx := 0
	for i, k := range s.stack {
		if k == key {
			idx = i
			break
		}
	}
	path := append(append([]string(nil), s.stack[idx:]...), key)
	return errs.New(errs.FamilyResolve, errs.Cycle,
		fmt.Sprintf("dependency cycle: %s", strings.Join(path, " -> ")),
		map[string]any{"path": path})
}

// parseConstraint parses a version requirement, treating an empty string
// as "any version" (the teacher's parseConstraint, unchanged).
func parseConstraint(expr string) (*semver.Constraints, error) {
	if strings.TrimSpace(expr) == "" {
		return semver.NewConstraint(">=0.0.0")
	}
	return semver.NewConstraint(expr)
}
