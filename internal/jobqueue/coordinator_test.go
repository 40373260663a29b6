package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/forgepm/forge/internal/cache"
	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/unit"
	"github.com/forgepm/forge/internal/unitgraph"
)

type fakeManifests struct {
	byID map[manifest.PackageID]manifest.Manifest
}

func (f fakeManifests) Manifest(id manifest.PackageID) (manifest.Manifest, error) {
	return f.byID[id], nil
}

func src() manifest.SourceID {
	return manifest.SourceID{Kind: manifest.SourceRegistry, URL: "https://example.test"}
}

func lib(name string) (manifest.PackageID, manifest.Manifest) {
	id := manifest.PackageID{Name: name, Version: "1.0.0", Source: src()}
	return id, manifest.Manifest{ID: id, Targets: []manifest.Target{{Name: name, Kind: manifest.TargetLib}}}
}

// fakeRunner always succeeds instantly, recording which units it ran. Its
// Fingerprint always reports a fixed, input-independent value for u, which
// is enough to exercise the coordinator's Fresh/Dirty branching without a
// real filesystem snapshot.
type fakeRunner struct {
	ran chan unit.Unit
	// failNames causes Run to return an error for units whose package name
	// is in the set, to exercise failure propagation.
	failNames map[string]bool
}

func (r *fakeRunner) Fingerprint(ctx context.Context, u unit.Unit) (Fingerprint, error) {
	return Fingerprint{UnitKey: u.Key()}, nil
}

func (r *fakeRunner) Run(ctx context.Context, u unit.Unit, emit func(Message)) (cache.Artifact, Fingerprint, error) {
	if r.ran != nil {
		r.ran <- u
	}
	emit(Message{Kind: KindStdout, Text: "compiling " + u.Pkg.Name})
	if r.failNames[u.Pkg.Name] {
		return cache.Artifact{}, Fingerprint{}, errFakeRunner(u.Pkg.Name)
	}
	return cache.Artifact{Files: map[string][]byte{"lib.rlib": []byte("x")}}, Fingerprint{UnitKey: u.Key()}, nil
}

type errFakeRunner string

func (e errFakeRunner) Error() string { return "build failed: " + string(e) }

func buildGraph(t *testing.T, leafID, rootID manifest.PackageID, leaf, root manifest.Manifest) *unitgraph.Graph {
	t.Helper()
	res := &manifest.Resolve{Nodes: map[manifest.PackageID]manifest.ResolvedNode{
		rootID: {ResolvedDeps: []manifest.ResolvedDep{{DepName: "leaf", Pkg: leafID}}},
		leafID: {},
	}}
	p := unitgraph.New(fakeManifests{byID: map[manifest.PackageID]manifest.Manifest{rootID: root, leafID: leaf}},
		unit.Kind{Host: true}, unit.Kind{Host: true}, unit.Profile{Name: "dev"})
	g, err := p.Plan(res, []unitgraph.RootUnit{{Pkg: rootID, Mode: unit.ModeBuild}})
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	return g
}

func TestCoordinator_BuildsInDependencyOrder(t *testing.T) {
	leafID, leaf := lib("leaf")
	rootID, root := lib("root")
	g := buildGraph(t, leafID, rootID, leaf, root)

	store := cache.NewMemStore(16)
	ran := make(chan unit.Unit, 8)
	runner := &fakeRunner{ran: ran}
	coord := New(g, store, runner, NewLocalTokenPool(2), Options{Workers: 2, KeepGoing: false})

	go func() {
		for range coord.Output() {
		}
	}()
	go func() {
		for range coord.Priority() {
		}
	}()

	if err := coord.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	close(ran)

	order := make([]string, 0, 2)
	for u := range ran {
		order = append(order, u.Pkg.Name)
	}
	if len(order) != 2 || order[0] != "leaf" || order[1] != "root" {
		t.Fatalf("expected [leaf root], got %v", order)
	}
}

func TestCoordinator_FailurePropagatesToDependent(t *testing.T) {
	leafID, leaf := lib("leaf")
	rootID, root := lib("root")
	g := buildGraph(t, leafID, rootID, leaf, root)

	store := cache.NewMemStore(16)
	runner := &fakeRunner{failNames: map[string]bool{"leaf": true}}
	coord := New(g, store, runner, NewLocalTokenPool(2), Options{Workers: 2, KeepGoing: false})

	go func() {
		for range coord.Output() {
		}
	}()
	go func() {
		for range coord.Priority() {
		}
	}()

	err := coord.Run(context.Background())
	if err == nil {
		t.Fatalf("expected failure to propagate")
	}
}

func TestCoordinator_RecordsFreshnessCache(t *testing.T) {
	leafID, leaf := lib("leaf")
	_ = leafID
	_ = leaf
	store := cache.NewMemStore(4)
	u := unit.Unit{Pkg: manifest.PackageID{Name: "leaf", Version: "1.0.0", Source: src()}}
	fs := &freshnessStore{store: store}

	fp := Fingerprint{UnitKey: u.Key()}
	if err := fs.record(u, fp, cache.Artifact{Files: map[string][]byte{"a": []byte("1")}}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	fresh, art, err := fs.check(u, fp)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if fresh != unit.Fresh {
		t.Fatalf("expected Fresh, got %v", fresh)
	}
	if string(art.Files["a"]) != "1" {
		t.Fatalf("expected cached artifact contents preserved")
	}

	fresh, _, err = fs.check(u, Fingerprint{UnitKey: u.Key(), Files: []FileState{{Path: "x"}}})
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if fresh != unit.Dirty {
		t.Fatalf("expected Dirty once inputs change")
	}
}

// TestCoordinator_SkipsRunnerForFreshUnits is the P2 regression test: a
// second Run over a graph whose units are already recorded fresh must not
// invoke Runner.Run at all, and must report every unit via a KindFresh
// priority message instead of KindRun/KindFinish.
func TestCoordinator_SkipsRunnerForFreshUnits(t *testing.T) {
	leafID, leaf := lib("leaf")
	rootID, root := lib("root")
	g := buildGraph(t, leafID, rootID, leaf, root)

	store := cache.NewMemStore(16)
	fs := &freshnessStore{store: store}
	for _, u := range g.Units() {
		fp := Fingerprint{UnitKey: u.Key()}
		if err := fs.record(u, fp, cache.Artifact{Files: map[string][]byte{"lib.rlib": []byte("x")}}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	runner := &fakeRunner{ran: make(chan unit.Unit, 8)}
	coord := New(g, store, runner, NewLocalTokenPool(2), Options{Workers: 2, KeepGoing: false})

	var freshCount int
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range coord.Output() {
		}
	}()
	go func() {
		defer wg.Done()
		for m := range coord.Priority() {
			if m.Kind == KindFresh {
				freshCount++
			}
			if m.Kind == KindRun {
				t.Errorf("expected no KindRun for a fresh unit, got one for %s", m.Unit.Pkg.Name)
			}
		}
	}()

	if err := coord.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	wg.Wait()
	close(runner.ran)

	if freshCount != 2 {
		t.Fatalf("expected 2 fresh units reported, got %d", freshCount)
	}
	if n := len(runner.ran); n != 0 {
		t.Fatalf("expected Runner.Run to never be called, got %d calls", n)
	}
}

func TestReadyQueue_OrdersByCost(t *testing.T) {
	q := newReadyQueue(map[string]int{"a": 1, "b": 5, "c": 3})
	a := unit.Unit{Pkg: manifest.PackageID{Name: "a"}}
	b := unit.Unit{Pkg: manifest.PackageID{Name: "b"}}
	c := unit.Unit{Pkg: manifest.PackageID{Name: "c"}}
	q.costs = map[string]int{a.Key(): 1, b.Key(): 5, c.Key(): 3}
	q.push(a)
	q.push(b)
	q.push(c)

	first, _ := q.pop()
	if first.Pkg.Name != "b" {
		t.Fatalf("expected highest-cost unit first, got %s", first.Pkg.Name)
	}
}

func TestMain(m *testing.M) {
	// guard against a hung coordinator deadlocking the test binary
	go func() {
		time.Sleep(30 * time.Second)
		panic("jobqueue tests still running after 30s: coordinator likely deadlocked")
	}()
	m.Run()
}
