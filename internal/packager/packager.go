// Package packager implements C5: building a reproducible source archive
// for one or more workspace members and verifying it builds against a local
// overlay registry. The teacher pack has no archive/publish code at all
// (internal/packagemanager publishes content-addressed blobs straight into
// its cache, never a tarball); this package is grounded on distr1-distri's
// cmd/distri/pack.go for the tar+gzip streaming idiom and on
// original_source/src/cargo/ops/cargo_package/mod.rs for the pipeline shape
// (file collection, manifest rewrite, overlay registry, lockfile
// regeneration, round-trip verification).
package packager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/manifest"
)

// Options controls the failure-mode opt-outs from spec.md §4.5.
type Options struct {
	AllowDirty  bool
	AllowStaged bool
	AllowNoVCS  bool
	DryRun      bool
	Excludes    []string
}

// Input names everything Package needs about one workspace member.
type Input struct {
	Root        string // package root on disk
	RawManifest []byte // verbatim Cargo.toml bytes
	Manifest    manifest.Manifest
}

// Result is one package's archive and its metadata.
type Result struct {
	Archive  []byte
	SHA256   string
	Warnings []string
	Files    []string // archive member paths, in archive order
}

// Packager runs the C5 pipeline for one or more workspace members.
type Packager struct {
	vcs VCS
}

func New(vcs VCS) *Packager {
	if vcs == nil {
		vcs = GitVCS{}
	}
	return &Packager{vcs: vcs}
}

// Package runs spec.md §4.5 steps 1-3: collect files, rewrite the manifest,
// stream the USTAR+gzip tarball and hash it. It does not regenerate the
// lockfile or verify the build: the caller composes those afterward from
// BuildOverlay, RegenerateLockfile and Verify (verify.go).
func (p *Packager) Package(ctx context.Context, in Input, opts Options) (*Result, error) {
	id := in.Manifest.ID
	if id.Name == "" || id.Version == "" {
		return nil, errs.New(errs.FamilyPackage, errs.MissingRequiredFile, "manifest has no [package] name/version", nil)
	}

	if err := checkDirty(ctx, in.Root, p.vcs, opts); err != nil {
		return nil, err
	}

	tracked, warnings, err := collectFiles(ctx, in.Root, p.vcs, opts.Excludes)
	if err != nil {
		return nil, err
	}

	if cb, ok := in.Manifest.CustomBuildTarget(); ok {
		if err := checkCustomBuildInRoot(cb.SourcePath); err != nil {
			return nil, err
		}
	}

	rewritten, err := rewriteManifest(in.RawManifest)
	if err != nil {
		return nil, err
	}

	files := make([]archiveFile, 0, len(tracked)+3)
	for _, rel := range tracked {
		data, mode, err := readFile(in.Root, rel)
		if err != nil {
			return nil, errs.New(errs.FamilyPackage, errs.MissingRequiredFile, "read "+rel, nil).Wrap(err)
		}
		files = append(files, archiveFile{Path: rel, Contents: data, Mode: uint32(mode)})
	}
	files = append(files,
		archiveFile{Path: "Cargo.toml", Contents: rewritten, Generated: true},
		archiveFile{Path: "Cargo.toml.orig", Contents: in.RawManifest, Generated: true},
	)

	if !opts.AllowNoVCS {
		if sha, pathInVCS, err := p.vcs.HeadCommit(ctx, in.Root); err == nil && sha != "" {
			info, err := marshalVCSInfo(sha, pathInVCS)
			if err != nil {
				return nil, err
			}
			files = append(files, archiveFile{Path: ".cargo_vcs_info.json", Contents: info, Generated: true})
		}
	}

	archive, err := buildArchive(id.Name, id.Version, files)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(archive)
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}

	return &Result{
		Archive:  archive,
		SHA256:   hex.EncodeToString(sum[:]),
		Warnings: warnings,
		Files:    paths,
	}, nil
}

// checkCustomBuildInRoot enforces spec.md §4.5's "custom-build source file
// outside the package root is an error" failure mode. Path traversal is
// rejected at the string level since Package only ever hands this the
// manifest-declared custom-build target path.
func checkCustomBuildInRoot(sourcePath string) error {
	if sourcePath == "" {
		return nil
	}
	if len(sourcePath) >= 1 && (sourcePath[0] == '/' || sourcePath[0] == '\\') {
		return errs.New(errs.FamilyPackage, errs.CustomBuildOutsideRoot,
			fmt.Sprintf("custom build script %q is outside the package root", sourcePath), nil)
	}
	for i := 0; i+2 < len(sourcePath); i++ {
		if sourcePath[i] == '.' && sourcePath[i+1] == '.' && (sourcePath[i+2] == '/' || sourcePath[i+2] == '\\') {
			return errs.New(errs.FamilyPackage, errs.CustomBuildOutsideRoot,
				fmt.Sprintf("custom build script %q escapes the package root", sourcePath), nil)
		}
	}
	return nil
}
