package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/resolver"
)

// LockCommand resolves the workspace and writes Cargo.lock-equivalent
// bytes to the workspace root, per spec.md §4.2's "lockfile generation"
// output contract.
type LockCommand struct{ *BaseCommand }

func NewLockCommand() *LockCommand {
	return &LockCommand{NewBaseCommand("resolve dependencies and write the lockfile", "forge lock")}
}

func (c *LockCommand) Execute(ctx Context, args []string) error {
	_, reqs, _, err := LoadWorkspaceManifest(ctx.Root, ctx.RegistryURL)
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

	_, raw, err := resolver.GenerateLockfile(res)
	if err != nil {
		return fmt.Errorf("generating lockfile: %w", err)
	}

	path := filepath.Join(ctx.Root, "Cargo.lock")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Println("wrote", path)
	return nil
}
