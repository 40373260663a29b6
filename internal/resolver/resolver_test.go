package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/registry"
)

// fakeClient is an in-memory registry.Client returning Ready immediately,
// used so resolver tests exercise the real backtracking algorithm without
// touching disk or network.
type fakeClient struct {
	byName map[string][]registry.IndexSummary
}

func (f *fakeClient) Query(ctx context.Context, dep registry.Dep) (registry.QueryResult, error) {
	return registry.QueryResult{State: registry.Ready, Summaries: f.byName[dep.Name]}, nil
}
func (f *fakeClient) BlockUntilReady(ctx context.Context) error { return nil }
func (f *fakeClient) Download(ctx context.Context, id manifest.PackageID, cksum string) ([]byte, error) {
	return nil, nil
}
func (f *fakeClient) InvalidateCache()                                           {}
func (f *fakeClient) AddOverlay(source manifest.SourceID, directory string)      {}

func regSource() manifest.SourceID {
	return manifest.SourceID{Kind: manifest.SourceRegistry, URL: "https://example.test"}
}

func TestResolve_PicksHighestSatisfying(t *testing.T) {
	client := &fakeClient{byName: map[string][]registry.IndexSummary{
		"a": {
			{Name: "a", Vers: "1.0.0", Deps: []registry.IndexRegistryDependency{{Name: "b", Req: ">=1.0.0, <2.0.0"}}},
			{Name: "a", Vers: "1.1.0", Deps: []registry.IndexRegistryDependency{{Name: "b", Req: ">=1.1.0, <2.0.0"}}},
		},
		"b": {
			{Name: "b", Vers: "1.0.0"},
			{Name: "b", Vers: "1.2.0"},
		},
	}}
	r := New(client, Options{PreferHigher: true})

	res, _, err := r.Resolve(context.Background(), []Requirement{
		{Name: "a", VersionReq: ">=1.0.0", Source: regSource(), DefaultFeatures: true},
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	a := manifest.PackageID{Name: "a", Version: "1.1.0", Source: regSource()}
	b := manifest.PackageID{Name: "b", Version: "1.2.0", Source: regSource()}
	if _, ok := res.Nodes[a]; !ok {
		t.Fatalf("expected a@1.1.0 in resolution, got %+v", res.SortedPackageIDs())
	}
	if _, ok := res.Nodes[b]; !ok {
		t.Fatalf("expected b@1.2.0 in resolution, got %+v", res.SortedPackageIDs())
	}
}

func TestResolve_NoVersionMatchesTransitiveRequirement(t *testing.T) {
	client := &fakeClient{byName: map[string][]registry.IndexSummary{
		"a": {{Name: "a", Vers: "1.0.0", Deps: []registry.IndexRegistryDependency{{Name: "b", Req: "~1.0.0"}}}},
		"b": {{Name: "b", Vers: "2.0.0"}},
	}}
	r := New(client, Options{PreferHigher: true})

	_, _, err := r.Resolve(context.Background(), []Requirement{
		{Name: "a", VersionReq: ">=1.0.0", Source: regSource(), DefaultFeatures: true},
	})
	if err == nil {
		t.Fatalf("expected an error: no b satisfies ~1.0.0")
	}
	var e *errs.Error
	if !errors.As(err, &e) || e.Code != errs.NoMatchingVersion {
		t.Fatalf("expected NoMatchingVersion, got %v", err)
	}
}

func TestResolve_BacktracksOnConflict(t *testing.T) {
	// a@2.0.0 requires b>=2, which doesn't exist; a@1.0.0 requires b>=1,
	// which does. The resolver must backtrack from 2.0.0 to 1.0.0.
	client := &fakeClient{byName: map[string][]registry.IndexSummary{
		"a": {
			{Name: "a", Vers: "1.0.0", Deps: []registry.IndexRegistryDependency{{Name: "b", Req: ">=1.0.0, <2.0.0"}}},
			{Name: "a", Vers: "2.0.0", Deps: []registry.IndexRegistryDependency{{Name: "b", Req: ">=2.0.0"}}},
		},
		"b": {{Name: "b", Vers: "1.0.0"}},
	}}
	r := New(client, Options{PreferHigher: true})

	res, _, err := r.Resolve(context.Background(), []Requirement{
		{Name: "a", VersionReq: "*", Source: regSource(), DefaultFeatures: true},
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	a := manifest.PackageID{Name: "a", Version: "1.0.0", Source: regSource()}
	if _, ok := res.Nodes[a]; !ok {
		t.Fatalf("expected backtrack to a@1.0.0, got %+v", res.SortedPackageIDs())
	}
}

func TestResolve_CycleDetected(t *testing.T) {
	client := &fakeClient{byName: map[string][]registry.IndexSummary{
		"a": {{Name: "a", Vers: "1.0.0", Deps: []registry.IndexRegistryDependency{{Name: "b", Req: "*"}}}},
		"b": {{Name: "b", Vers: "1.0.0", Deps: []registry.IndexRegistryDependency{{Name: "a", Req: "*"}}}},
	}}
	r := New(client, Options{PreferHigher: true})

	_, _, err := r.Resolve(context.Background(), []Requirement{
		{Name: "a", VersionReq: "*", Source: regSource(), DefaultFeatures: true},
	})
	var e *errs.Error
	if !errors.As(err, &e) || e.Code != errs.Cycle {
		t.Fatalf("expected Cycle error, got %v", err)
	}
}

func TestResolve_FeatureGatedDependencyOnlyBuiltWhenActivated(t *testing.T) {
	client := &fakeClient{byName: map[string][]registry.IndexSummary{
		"a": {{
			Name: "a", Vers: "1.0.0",
			Deps:     []registry.IndexRegistryDependency{{Name: "serde", Req: "*", Optional: true}},
			Features: map[string][]string{"json": {"dep:serde"}},
		}},
		"serde": {{Name: "serde", Vers: "1.0.0"}},
	}}
	r := New(client, Options{PreferHigher: true})

	res, _, err := r.Resolve(context.Background(), []Requirement{
		{Name: "a", VersionReq: "*", Source: regSource()},
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	serde := manifest.PackageID{Name: "serde", Version: "1.0.0", Source: regSource()}
	if _, ok := res.Nodes[serde]; ok {
		t.Fatalf("serde should not be built: json feature was never requested")
	}

	res2, _, err := r.Resolve(context.Background(), []Requirement{
		{Name: "a", VersionReq: "*", Source: regSource(), Features: []string{"json"}},
	})
	if err != nil {
		t.Fatalf("resolve with json feature failed: %v", err)
	}
	if _, ok := res2.Nodes[serde]; !ok {
		t.Fatalf("serde should be built once json feature is requested")
	}
}
