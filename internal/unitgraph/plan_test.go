package unitgraph

import (
	"testing"

	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/unit"
)

type fakeManifests struct {
	byID map[manifest.PackageID]manifest.Manifest
}

func (f fakeManifests) Manifest(id manifest.PackageID) (manifest.Manifest, error) {
	m, ok := f.byID[id]
	if !ok {
		return manifest.Manifest{}, errFor(id)
	}
	return m, nil
}

type notFoundErr struct{ id manifest.PackageID }

func (e notFoundErr) Error() string { return "no manifest for " + e.id.String() }
func errFor(id manifest.PackageID) error { return notFoundErr{id} }

func src() manifest.SourceID {
	return manifest.SourceID{Kind: manifest.SourceRegistry, URL: "https://example.test"}
}

func libManifest(name, version string, deps ...manifest.ResolvedDep) (manifest.PackageID, manifest.Manifest) {
	id := manifest.PackageID{Name: name, Version: version, Source: src()}
	m := manifest.Manifest{
		ID:      id,
		Targets: []manifest.Target{{Name: name, Kind: manifest.TargetLib}},
	}
	return id, m
}

func hostKind() unit.Kind   { return unit.Kind{Host: true} }
func targetKind() unit.Kind { return unit.Kind{Host: false, Triple: "x86_64-unknown-linux-gnu"} }

func TestPlan_SimpleChain(t *testing.T) {
	leafID, leaf := libManifest("leaf", "1.0.0")
	rootID, root := libManifest("root", "1.0.0")

	res := &manifest.Resolve{Nodes: map[manifest.PackageID]manifest.ResolvedNode{
		rootID: {ResolvedDeps: []manifest.ResolvedDep{{DepName: "leaf", Pkg: leafID}}},
		leafID: {},
	}}

	p := New(fakeManifests{byID: map[manifest.PackageID]manifest.Manifest{rootID: root, leafID: leaf}},
		hostKind(), targetKind(), unit.Profile{Name: "dev"})

	g, err := p.Plan(res, []RootUnit{{Pkg: rootID, Mode: unit.ModeBuild}})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	order, err := g.TopoOrder()
	if err != nil {
		t.Fatalf("topo order failed: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("expected 2 units, got %d: %v", len(order), order)
	}
	if order[0].Pkg.Name != "leaf" || order[1].Pkg.Name != "root" {
		t.Fatalf("expected leaf before root, got %v", order)
	}
}

func TestPlan_CycleRejected(t *testing.T) {
	aID := manifest.PackageID{Name: "a", Version: "1.0.0", Source: src()}
	bID := manifest.PackageID{Name: "b", Version: "1.0.0", Source: src()}
	aM := manifest.Manifest{ID: aID, Targets: []manifest.Target{{Name: "a", Kind: manifest.TargetLib}}}
	bM := manifest.Manifest{ID: bID, Targets: []manifest.Target{{Name: "b", Kind: manifest.TargetLib}}}

	res := &manifest.Resolve{Nodes: map[manifest.PackageID]manifest.ResolvedNode{
		aID: {ResolvedDeps: []manifest.ResolvedDep{{DepName: "b", Pkg: bID}}},
		bID: {ResolvedDeps: []manifest.ResolvedDep{{DepName: "a", Pkg: aID}}},
	}}

	p := New(fakeManifests{byID: map[manifest.PackageID]manifest.Manifest{aID: aM, bID: bM}},
		hostKind(), targetKind(), unit.Profile{Name: "dev"})

	_, err := p.Plan(res, []RootUnit{{Pkg: aID, Mode: unit.ModeBuild}})
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	var e *errs.Error
	if !asErrsError(err, &e) || e.Code != errs.Cycle {
		t.Fatalf("expected Cycle error, got %v", err)
	}
}

// TestPlan_UpgradesMetadataEdgesBelowABinary covers Scenario 4: a binary
// a depending on lib b depending on lib c must plan a──All──>b──All──>c,
// not a──All──>b──Metadata──>c, since b's own edge into c would otherwise
// stay Metadata (c produces no upstream object itself) even though a needs
// c's real codegen transitively through b.
func TestPlan_UpgradesMetadataEdgesBelowABinary(t *testing.T) {
	cID, cM := libManifest("c", "1.0.0")
	bID, bM := libManifest("b", "1.0.0", manifest.ResolvedDep{DepName: "c", Pkg: cID})

	aID := manifest.PackageID{Name: "a", Version: "1.0.0", Source: src()}
	aM := manifest.Manifest{
		ID:      aID,
		Targets: []manifest.Target{{Name: "a", Kind: manifest.TargetBin}},
	}

	res := &manifest.Resolve{Nodes: map[manifest.PackageID]manifest.ResolvedNode{
		aID: {ResolvedDeps: []manifest.ResolvedDep{{DepName: "b", Pkg: bID}}},
		bID: {ResolvedDeps: []manifest.ResolvedDep{{DepName: "c", Pkg: cID}}},
		cID: {},
	}}

	p := New(fakeManifests{byID: map[manifest.PackageID]manifest.Manifest{aID: aM, bID: bM, cID: cM}},
		hostKind(), targetKind(), unit.Profile{Name: "dev"})

	g, err := p.Plan(res, []RootUnit{{Pkg: aID, Mode: unit.ModeBuild}})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	var aUnit, bUnit unit.Unit
	for _, u := range g.Units() {
		switch u.Pkg.Name {
		case "a":
			aUnit = u
		case "b":
			bUnit = u
		}
	}

	aToB := g.Dependencies(aUnit)
	if len(aToB) != 1 || aToB[0].Kind != unit.ArtifactAll {
		t.Fatalf("expected a->b to be an All edge, got %v", aToB)
	}
	bToC := g.Dependencies(bUnit)
	if len(bToC) != 1 || bToC[0].Kind != unit.ArtifactAll {
		t.Fatalf("expected b->c to be upgraded to an All edge, got %v", bToC)
	}
}

func asErrsError(err error, target **errs.Error) bool {
	if e, ok := err.(*errs.Error); ok {
		*target = e
		return true
	}
	return false
}
