// Package cli wires the five subcommands (build, resolve, lock, package,
// meta) to a workspace root directory. The manifest loader here is CLI
// glue, not a core component: spec.md §1 places on-disk TOML-to-struct
// parsing out of scope for the core, so this file is deliberately minimal
// (enough of Cargo.toml's shape to drive the resolver/packager from a real
// directory) rather than a fully general manifest reader.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/resolver"
)

type tomlPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

type tomlManifest struct {
	Package      tomlPackage `toml:"package"`
	Dependencies map[string]toml.Primitive `toml:"dependencies"`
}

type tomlDepTable struct {
	Version         string   `toml:"version"`
	Features        []string `toml:"features"`
	DefaultFeatures bool     `toml:"default-features"`
	Optional        bool     `toml:"optional"`
}

// LoadWorkspaceManifest reads root/Cargo.toml and returns its identity plus
// the root-level Requirements the resolver needs, defaulting every
// dependency to the single registry source.Source named by registryURL.
func LoadWorkspaceManifest(root, registryURL string) (manifest.PackageID, []resolver.Requirement, []byte, error) {
	path := filepath.Join(root, "Cargo.toml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return manifest.PackageID{}, nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc tomlManifest
	md, err := toml.Decode(string(raw), &doc)
	if err != nil {
		return manifest.PackageID{}, nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	src := manifest.SourceID{Kind: manifest.SourceRegistry, URL: registryURL}
	id := manifest.PackageID{Name: doc.Package.Name, Version: doc.Package.Version, Source: src}

	var reqs []resolver.Requirement
	for name, prim := range doc.Dependencies {
		req := resolver.Requirement{Name: name, Source: src, Kind: manifest.DepNormal, DefaultFeatures: true}

		var asString string
		if err := md.PrimitiveDecode(prim, &asString); err == nil {
			req.VersionReq = asString
			reqs = append(reqs, req)
			continue
		}

		var table tomlDepTable
		if err := md.PrimitiveDecode(prim, &table); err != nil {
			return manifest.PackageID{}, nil, nil, fmt.Errorf("dependency %q: %w", name, err)
		}
		req.VersionReq = table.Version
		req.Features = table.Features
		req.DefaultFeatures = table.DefaultFeatures
		reqs = append(reqs, req)
	}

	return id, reqs, raw, nil
}
