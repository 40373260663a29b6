package cli

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/registry"
)

// fetchingManifests implements unitgraph.ManifestProvider by downloading a
// dependency's archive through the registry.Client and reading its
// Cargo.toml back out, caching results for the lifetime of one command.
// This is CLI glue, not a core component: the core (internal/unitgraph)
// only ever consumes an already-loaded manifest.Manifest, per spec.md §1's
// scoping of manifest parsing to an external collaborator.
type fetchingManifests struct {
	client registry.Client

	mu    sync.Mutex
	cache map[manifest.PackageID]manifest.Manifest
	self  map[manifest.PackageID]manifest.Manifest // workspace members, already loaded
}

func newFetchingManifests(client registry.Client, self map[manifest.PackageID]manifest.Manifest) *fetchingManifests {
	return &fetchingManifests{client: client, cache: make(map[manifest.PackageID]manifest.Manifest), self: self}
}

func (f *fetchingManifests) Manifest(id manifest.PackageID) (manifest.Manifest, error) {
	if m, ok := f.self[id]; ok {
		return m, nil
	}

	f.mu.Lock()
	if m, ok := f.cache[id]; ok {
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()

	archive, err := f.client.Download(context.Background(), id, "")
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("downloading %s: %w", id, err)
	}
	raw, err := readManifestFromArchive(archive)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("reading manifest from %s: %w", id, err)
	}

	m, err := manifestFromTOML(id, raw)
	if err != nil {
		return manifest.Manifest{}, err
	}

	f.mu.Lock()
	f.cache[id] = m
	f.mu.Unlock()
	return m, nil
}

func readManifestFromArchive(archive []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("no Cargo.toml found in archive")
		}
		if err != nil {
			return nil, err
		}
		if strings.HasSuffix(hdr.Name, "/Cargo.toml") {
			return io.ReadAll(tr)
		}
	}
}

// manifestFromTOML builds a manifest.Manifest with a single inferred
// library target, sufficient to drive the planner/coordinator for CLI
// purposes; a full multi-target/workspace-inheritance loader is the
// external collaborator's job per spec.md §1.
func manifestFromTOML(id manifest.PackageID, raw []byte) (manifest.Manifest, error) {
	var doc tomlManifest
	md, err := toml.Decode(string(raw), &doc)
	if err != nil {
		return manifest.Manifest{}, err
	}

	var deps []manifest.Dependency
	for name, prim := range doc.Dependencies {
		d := manifest.Dependency{Name: name, Source: id.Source, Kind: manifest.DepNormal, DefaultFeatures: true}

		var asString string
		if err := md.PrimitiveDecode(prim, &asString); err == nil {
			d.VersionReq = asString
			deps = append(deps, d)
			continue
		}
		var table tomlDepTable
		if err := md.PrimitiveDecode(prim, &table); err == nil {
			d.VersionReq = table.Version
			d.Features = table.Features
			d.DefaultFeatures = table.DefaultFeatures
			d.Optional = table.Optional
			deps = append(deps, d)
		}
	}

	return manifest.Manifest{
		ID:           id,
		Dependencies: deps,
		Targets: []manifest.Target{{
			Name:       id.Name,
			Kind:       manifest.TargetLib,
			SourcePath: "src/lib.rs",
		}},
	}, nil
}
