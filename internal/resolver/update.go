package resolver

import (
	"context"

	"github.com/forgepm/forge/internal/manifest"
)

// Update re-resolves roots with the minimal-change heuristic `cargo
// update`-equivalent behavior: every package present in previous keeps its
// locked version unless it is named in targets (or targets is empty, which
// means "update everything"). This is a feature the distilled spec dropped;
// original_source/ exposes it as its own subcommand, reproduced here as a
// thin wrapper over Resolve rather than a new algorithm.
func Update(ctx context.Context, r *Resolver, roots []Requirement, previous Lockfile, targets []string) (*manifest.Resolve, []string, error) {
	updating := make(map[string]bool, len(targets))
	for _, t := range targets {
		updating[t] = true
	}

	var pinned map[string]string
	if len(targets) > 0 {
		pinned = make(map[string]string, len(previous.Entries))
		for _, e := range previous.Entries {
			if !updating[e.Name] {
				pinned[e.Name] = e.Version
			}
		}
	}

	opts := r.opts
	opts.Pinned = pinned
	scoped := New(r.client, opts)
	return scoped.Resolve(ctx, roots)
}
