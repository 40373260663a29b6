package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/resolver"
)

// MetaCommand dumps the resolved dependency graph as JSON, the read-only
// metadata-command SPEC_FULL.md §5 adds (grounded on
// original_source/tests/testsuite/metadata.rs).
type MetaCommand struct{ *BaseCommand }

func NewMetaCommand() *MetaCommand {
	return &MetaCommand{NewBaseCommand("print the resolved dependency graph as JSON", "forge meta")}
}

type metaOutput struct {
	Root     string              `json:"root"`
	Packages []metaPackage       `json:"packages"`
	Patches  []manifest.PackageID `json:"unused_patches,omitempty"`
}

type metaPackage struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Checksum string `json:"checksum,omitempty"`
}

func (c *MetaCommand) Execute(ctx Context, args []string) error {
	rootID, reqs, _, err := LoadWorkspaceManifest(ctx.Root, ctx.RegistryURL)
	if err != nil {
		return err
	}

	opts := resolver.Options{Behavior: manifest.BehaviorV2, PreferHigher: true}
	res, _, err := resolver.New(ctx.Client, opts).Resolve(context.Background(), reqs)
	if err != nil {
		return fmt.Errorf("resolving: %w", err)
	}

	out := metaOutput{Root: rootID.String(), Patches: res.UnusedPatches}
	for _, id := range res.SortedPackageIDs() {
		out.Packages = append(out.Packages, metaPackage{Name: id.Name, Version: id.Version, Checksum: res.Checksums[id]})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
