package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/forgepm/forge/internal/manifest"
)

// RenderTree formats res as an indented dependency tree rooted at each id in
// roots, in the style of `cargo tree` — a feature the distilled spec dropped
// and which `forge resolve` prints. Duplicate subtrees are abbreviated as
// "(*)" once a package has already been printed in full anywhere earlier in
// the output, across all roots, matching cargo's cycle/repeat handling.
func RenderTree(res *manifest.Resolve, roots []manifest.PackageID) string {
	var b strings.Builder
	seen := make(map[manifest.PackageID]bool)
	sortedRoots := append([]manifest.PackageID(nil), roots...)
	sort.Slice(sortedRoots, func(i, j int) bool { return manifest.Less(sortedRoots[i], sortedRoots[j]) })

	for _, root := range sortedRoots {
		renderNode(&b, res, root, nil, seen)
	}
	return b.String()
}

func renderNode(b *strings.Builder, res *manifest.Resolve, id manifest.PackageID, prefix []bool, seen map[manifest.PackageID]bool) {
	writePrefix(b, prefix)
	fmt.Fprintf(b, "%s v%s", id.Name, id.Version)

	if seen[id] {
		b.WriteString(" (*)\n")
		return
	}
	b.WriteString("\n")
	seen[id] = true

	node, ok := res.Nodes[id]
	if !ok {
		return
	}
	deps := append([]manifest.ResolvedDep(nil), node.ResolvedDeps...)
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].DepName != deps[j].DepName {
			return deps[i].DepName < deps[j].DepName
		}
		return manifest.Less(deps[i].Pkg, deps[j].Pkg)
	})
	for i, d := range deps {
		renderNode(b, res, d.Pkg, append(prefix, i == len(deps)-1), seen)
	}
}

func writePrefix(b *strings.Builder, prefix []bool) {
	for i, last := range prefix {
		isLastLevel := i == len(prefix)-1
		switch {
		case isLastLevel && last:
			b.WriteString("    ")
		case isLastLevel:
			b.WriteString("│   ")
		case last:
			b.WriteString("    ")
		default:
			b.WriteString("│   ")
		}
	}
	if len(prefix) > 0 {
		if prefix[len(prefix)-1] {
			b.WriteString("└── ")
		} else {
			b.WriteString("├── ")
		}
	}
}
