// Command forge is the build-system CLI: a thin dispatcher over the
// resolver/unitgraph/jobqueue/packager core, grounded on the teacher's
// cmd/orizon/pkg (BaseCommand/CommandHandler/Registry dispatch pattern).
// Per-profile flag parsing is intentionally minimal (spec.md §1 scopes
// detailed CLI flag parsing out of the core).
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgepm/forge/cmd/forge/internal/cli"
	"github.com/forgepm/forge/internal/cache"
	"github.com/forgepm/forge/internal/config"
	"github.com/forgepm/forge/internal/registry"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	args := os.Args[2:]

	if name == "help" || name == "--help" || name == "-h" {
		printUsage()
		return
	}

	cfg := config.Resolve(flagLayer(args), config.EnvLayer(), config.Layer{}, config.Layer{})

	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	cacheDir := filepath.Join(root, ".forge", "cache")
	store, err := cache.NewFSStore(cacheDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: opening cache:", err)
		os.Exit(1)
	}

	var client registry.Client
	if cfg.Offline {
		client = registry.NewFileClient(filepath.Join(root, ".forge", "registry"))
	} else {
		client = registry.NewHTTPClient(cfg.RegistryURL, filepath.Join(root, ".forge", "registry-cache"))
	}

	ctx := cli.Context{
		Client:      client,
		Store:       store,
		Root:        root,
		RegistryURL: cfg.RegistryURL,
		Verbose:     hasFlag(args, "-v") || hasFlag(args, "--verbose"),
		Workers:     cfg.Jobs,
	}

	dispatch := cli.NewDispatch()
	if err := dispatch.Execute(name, ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("forge - package manager and build orchestrator")
	fmt.Println()
	cli.NewDispatch().PrintUsage()
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

// flagLayer reads the handful of global flags that affect config precedence
// (spec.md §6); everything else is parsed per-subcommand.
func flagLayer(args []string) config.Layer {
	var l config.Layer
	for i, a := range args {
		if a == "--jobs" && i+1 < len(args) {
			var n int
			fmt.Sscanf(args[i+1], "%d", &n)
			l.Jobs = n
		}
		if a == "--offline" {
			t := true
			l.Offline = &t
		}
		if a == "--registry" && i+1 < len(args) {
			l.RegistryURL = args[i+1]
		}
	}
	return l
}
