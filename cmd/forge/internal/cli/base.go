// Package cli provides the thin dispatch layer between os.Args and forge's
// core components, grounded on the teacher's cmd/orizon/pkg/commands
// (BaseCommand/CommandHandler/Registry pattern), adapted from a
// package-registry CLI to a build-system one. Per-profile flag parsing
// stays deliberately simple (manual os.Args scanning, no flag framework)
// since spec.md §1 scopes "per-profile CLI flag parsing" out of the core.
package cli

import (
	"fmt"
	"os"

	"github.com/forgepm/forge/internal/cache"
	"github.com/forgepm/forge/internal/registry"
)

// Context carries the runtime services every subcommand needs, replacing
// the teacher's RegistryContext (Registry/SignatureStore) with forge's own
// C1-C5 services.
type Context struct {
	Client      registry.Client
	Store       cache.Store
	Root        string // workspace directory
	RegistryURL string
	Verbose     bool
	Workers     int
}

// CommandHandler is the subcommand contract, unchanged in shape from the
// teacher's types.CommandHandler.
type CommandHandler interface {
	Execute(ctx Context, args []string) error
	Description() string
	Usage() string
}

// BaseCommand provides the description/usage/exit plumbing every concrete
// command embeds, kept near-verbatim from the teacher's BaseCommand.
type BaseCommand struct {
	description string
	usage       string
}

func NewBaseCommand(description, usage string) *BaseCommand {
	return &BaseCommand{description: description, usage: usage}
}

func (c *BaseCommand) Description() string { return c.description }
func (c *BaseCommand) Usage() string       { return c.usage }

func (c *BaseCommand) PrintUsage() {
	fmt.Fprintf(os.Stderr, "%s\n", c.Usage())
}

func (c *BaseCommand) ExitWithError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
