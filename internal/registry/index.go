// Package registry implements C1, the package registry client: a uniform
// read interface over registry sources with on-disk caching, the
// poll/Pending query protocol, and overlay composition used by the
// packager (C5).
package registry

import (
	"strings"
)

// IndexRegistryDependency is one dependency entry inside an index line, bit
// exact with spec.md §4.1.
type IndexRegistryDependency struct {
	Name            string   `json:"name"`
	Req             string   `json:"req"`
	Features        []string `json:"features"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          string   `json:"target,omitempty"`
	Kind            string   `json:"kind,omitempty"` // "normal" | "dev" | "build"
	Registry        string   `json:"registry,omitempty"`
	Package         string   `json:"package,omitempty"`
	Public          bool     `json:"public,omitempty"`
	Artifact        []string `json:"artifact,omitempty"`
	BindepTarget    string   `json:"bindep_target,omitempty"`
	Lib             bool     `json:"lib,omitempty"`
}

// IndexSummary is one published version, exactly the JSON object spec.md
// §4.1 mandates: one per line, newline terminated.
type IndexSummary struct {
	Name        string                    `json:"name"`
	Vers        string                    `json:"vers"`
	Deps        []IndexRegistryDependency `json:"deps"`
	Cksum       string                    `json:"cksum"` // sha256 hex, 64 chars
	Features    map[string][]string       `json:"features"`
	Features2   map[string][]string       `json:"features2,omitempty"`
	Yanked      bool                      `json:"yanked,omitempty"`
	Links       string                    `json:"links,omitempty"`
	RustVersion string                    `json:"rust_version,omitempty"`
	V           int                       `json:"v,omitempty"`
}

// MakeDepPath computes the index path for a (lowercased) package name, per
// spec.md §4.1:
//
//	1 letter:  1/<name>
//	2 letters: 2/<name>
//	3 letters: 3/<first-letter>/<name>
//	otherwise: <first-two>/<next-two>/<name>
func MakeDepPath(name string) string {
	lower := strings.ToLower(name)
	switch len(lower) {
	case 0:
		return lower
	case 1:
		return "1/" + lower
	case 2:
		return "2/" + lower
	case 3:
		return "3/" + lower[:1] + "/" + lower
	default:
		return lower[:2] + "/" + lower[2:4] + "/" + lower
	}
}
