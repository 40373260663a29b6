package packager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/registry"
)

// BuildOverlay materializes the scratch "local overlay registry" spec.md
// §4.5 step 4 describes: a directory holding the freshly built tarball
// named "<name>-<version>.crate" plus an index line for it, laid out
// exactly like internal/registry.FileClient expects so
// registry.Client.AddOverlay can point straight at dir.
func BuildOverlay(dir, name, version string, archive []byte, cksum string, deps []registry.IndexRegistryDependency, features map[string][]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.New(errs.FamilyPackage, errs.InvalidPath, "create overlay directory", nil).Wrap(err)
	}
	crate := filepath.Join(dir, fmt.Sprintf("%s-%s.crate", name, version))
	if err := os.WriteFile(crate, archive, 0o644); err != nil {
		return errs.New(errs.FamilyPackage, errs.InvalidPath, "write overlay archive", nil).Wrap(err)
	}
	summary := registry.IndexSummary{
		Name:     name,
		Vers:     version,
		Deps:     deps,
		Cksum:    cksum,
		Features: features,
	}
	if err := registry.WriteIndexLine(dir, summary); err != nil {
		return errs.New(errs.FamilyPackage, errs.InvalidPath, "write overlay index line", nil).Wrap(err)
	}
	return nil
}
