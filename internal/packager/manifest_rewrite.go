package packager

import (
	"bytes"

	"github.com/BurntSushi/toml"

	"github.com/forgepm/forge/internal/errs"
)

// dependencyTables are the manifest tables whose entries may carry a local
// `path = "..."` key that must not survive into a published archive (spec.md
// §4.5 step 2b).
var dependencyTables = []string{"dependencies", "dev-dependencies", "build-dependencies"}

// rewriteManifest strips path-dependency fields from raw Cargo.toml bytes,
// leaving version/registry requirements intact, the same transformation
// prepare_for_publish performs in cargo_package/mod.rs. Decoding into a
// generic map rather than a typed struct mirrors the teacher pack's own
// Cargo.toml handling (matzehuels-stacktower's rust/cargo.go decodes
// dependency tables as map[string]any), since full manifest parsing is an
// external collaborator's job here, not this package's.
func rewriteManifest(raw []byte) ([]byte, error) {
	var doc map[string]any
	if _, err := toml.Decode(string(raw), &doc); err != nil {
		return nil, errs.New(errs.FamilyPackage, errs.MissingRequiredFile, "parse Cargo.toml", nil).Wrap(err)
	}

	for _, table := range dependencyTables {
		deps, ok := doc[table].(map[string]any)
		if !ok {
			continue
		}
		for name, v := range deps {
			entry, ok := v.(map[string]any)
			if !ok {
				continue // a bare version string ("foo = \"1\"") has no path to strip
			}
			delete(entry, "path")
			deps[name] = entry
		}
		doc[table] = deps
	}

	delete(doc, "workspace") // a published crate is never itself a workspace root

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, errs.New(errs.FamilyPackage, errs.MissingRequiredFile, "encode rewritten Cargo.toml", nil).Wrap(err)
	}
	return buf.Bytes(), nil
}
