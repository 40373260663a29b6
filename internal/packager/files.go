package packager

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forgepm/forge/internal/errs"
)

// reservedNames mirrors cargo_package/mod.rs's restricted_names check: these
// may not appear anywhere in a packaged archive's file list.
var reservedNames = map[string]bool{
	"Cargo.toml.orig": true, // we generate this one; a disk file with the same name collides
}

// nonPortableChars are forbidden in archive paths per spec.md §4.5 (Windows
// path restrictions), warned about rather than rejected.
const nonPortableChars = `/\<>:"|?*`

// collectFiles lists every file Package should archive for root: VCS-tracked
// files minus excludes, deduplicated and sorted. Grounded on
// cargo_package/mod.rs's build_ar_list, simplified to a single VCS query
// instead of cargo's include/exclude glob cascade (glob-pattern manifest
// fields are an external-parser concern per internal/manifest's doc
// comment).
func collectFiles(ctx context.Context, root string, vcs VCS, excludes []string) ([]string, []string, error) {
	tracked, err := vcs.TrackedFiles(ctx, root)
	if err != nil {
		return nil, nil, errs.New(errs.FamilyPackage, errs.DirtyVcs, "list tracked files", nil).Wrap(err)
	}

	if tracked == nil {
		tracked, err = walkAll(root)
		if err != nil {
			return nil, nil, err
		}
	}

	excluded := make(map[string]bool, len(excludes))
	for _, e := range excludes {
		excluded[filepath.ToSlash(e)] = true
	}

	var files []string
	var warnings []string
	seen := make(map[string]bool)
	for _, f := range tracked {
		slash := filepath.ToSlash(f)
		if excluded[slash] || seen[slash] {
			continue
		}
		seen[slash] = true
		base := filepath.Base(slash)
		if reservedNames[base] {
			return nil, nil, errs.New(errs.FamilyPackage, errs.InvalidPath,
				base+" is a reserved file name and cannot be packaged", nil)
		}
		for _, comp := range strings.Split(slash, "/") {
			if strings.ContainsAny(comp, nonPortableChars) {
				warnings = append(warnings, slash+": path contains characters not portable across platforms")
				break
			}
		}
		files = append(files, slash)
	}
	sort.Strings(files)
	return files, warnings, nil
}

func walkAll(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	return out, err
}

// checkDirty enforces spec.md §4.5's VCS cleanliness gate unless the caller
// opted out via Options.
func checkDirty(ctx context.Context, root string, vcs VCS, opts Options) error {
	if opts.AllowNoVCS {
		return nil
	}
	modified, staged, err := vcs.Status(ctx, root)
	if err != nil {
		return errs.New(errs.FamilyPackage, errs.DirtyVcs, "check VCS status", nil).Wrap(err)
	}
	if len(modified) > 0 && !opts.AllowDirty {
		return errs.New(errs.FamilyPackage, errs.DirtyVcs,
			"uncommitted changes in "+strings.Join(modified, ", "), map[string]any{"paths": modified})
	}
	if len(staged) > 0 && !opts.AllowStaged {
		return errs.New(errs.FamilyPackage, errs.DirtyVcs,
			"staged but uncommitted changes in "+strings.Join(staged, ", "), map[string]any{"paths": staged})
	}
	return nil
}

func readFile(root, rel string) ([]byte, os.FileMode, error) {
	full := filepath.Join(root, filepath.FromSlash(rel))
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, 0, err
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, 0, err
	}
	return data, st.Mode().Perm(), nil
}
