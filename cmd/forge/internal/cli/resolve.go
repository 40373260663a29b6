package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/resolver"
)

// ResolveCommand runs C2 alone and prints the resulting dependency tree,
// grounded on the cargo_tree-equivalent SPEC_FULL.md §5 adds
// (resolver.RenderTree).
type ResolveCommand struct{ *BaseCommand }

func NewResolveCommand() *ResolveCommand {
	return &ResolveCommand{NewBaseCommand("resolve dependencies and print the tree", "forge resolve")}
}

func (c *ResolveCommand) Execute(ctx Context, args []string) error {
	rootID, reqs, _, err := LoadWorkspaceManifest(ctx.Root, ctx.RegistryURL)
	if err != nil {
		return err
	}

	opts := resolver.Options{Behavior: manifest.BehaviorV2, PreferHigher: true}
	res, notices, err := resolver.New(ctx.Client, opts).Resolve(context.Background(), reqs)
	if err != nil {
		return fmt.Errorf("resolving: %w", err)
	}
	for _, n := range notices {
		fmt.Fprintln(os.Stderr, n)
	}

	fmt.Print(resolver.RenderTree(res, []manifest.PackageID{rootID}))
	return nil
}
