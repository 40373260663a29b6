package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgepm/forge/internal/cache"
	"github.com/forgepm/forge/internal/jobqueue"
	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/packager"
	"github.com/forgepm/forge/internal/resolver"
	"github.com/forgepm/forge/internal/unit"
)

// PackageCommand runs C5: collect tracked files, rewrite the manifest,
// stream a tar.gz, and (unless --no-verify) round-trip build it against an
// overlay registry, per spec.md §4.5.
type PackageCommand struct{ *BaseCommand }

func NewPackageCommand() *PackageCommand {
	return &PackageCommand{NewBaseCommand(
		"assemble a publishable archive from the workspace member",
		"forge package [--allow-dirty] [--allow-no-vcs] [--no-verify]")}
}

func (c *PackageCommand) Execute(ctx Context, args []string) error {
	id, _, raw, err := LoadWorkspaceManifest(ctx.Root, ctx.RegistryURL)
	if err != nil {
		return err
	}

	var vcs packager.VCS = packager.GitVCS{}
	opts := packager.Options{
		AllowDirty:  hasFlag(args, "--allow-dirty"),
		AllowNoVCS:  hasFlag(args, "--allow-no-vcs"),
		AllowStaged: hasFlag(args, "--allow-staged"),
	}
	if opts.AllowNoVCS {
		vcs = packager.NoVCS{}
	}

	m, err := manifestFromTOML(id, raw)
	if err != nil {
		return err
	}

	p := packager.New(vcs)
	result, err := p.Package(context.Background(), packager.Input{Root: ctx.Root, RawManifest: raw, Manifest: m}, opts)
	if err != nil {
		return fmt.Errorf("packaging: %w", err)
	}

	outDir := filepath.Join(ctx.Root, "target", "package")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	archivePath := filepath.Join(outDir, fmt.Sprintf("%s-%s.crate", id.Name, id.Version))
	if err := os.WriteFile(archivePath, result.Archive, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", archivePath, err)
	}

	fmt.Printf("packaged %s (%s, sha256:%s)\n", archivePath, byteSize(len(result.Archive)), result.SHA256)
	for _, w := range result.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}

	if hasFlag(args, "--no-verify") {
		return nil
	}
	return c.verify(ctx, id, m, raw, result)
}

func (c *PackageCommand) verify(ctx Context, id manifest.PackageID, m manifest.Manifest, raw []byte, result *packager.Result) error {
	overlayDir := filepath.Join(ctx.Root, "target", "package", "overlay")
	if err := packager.BuildOverlay(overlayDir, id.Name, id.Version, result.Archive, result.SHA256, nil, nil); err != nil {
		return fmt.Errorf("building overlay: %w", err)
	}
	ctx.Client.AddOverlay(id.Source, overlayDir)
	ctx.Client.InvalidateCache()

	resOpts := resolver.Options{Behavior: manifest.BehaviorV2, PreferHigher: true}
	roots := []resolver.Requirement{{Name: id.Name, VersionReq: "=" + id.Version, Source: id.Source, Kind: manifest.DepNormal, DefaultFeatures: true}}
	_, notices, err := packager.RegenerateLockfile(context.Background(), ctx.Client, resOpts, roots)
	if err != nil {
		return fmt.Errorf("regenerating lockfile against overlay: %w", err)
	}
	for _, n := range notices {
		fmt.Fprintln(os.Stderr, n)
	}

	manifests := packager.VerifyManifests{id: m}
	res := &manifest.Resolve{
		Nodes:     map[manifest.PackageID]manifest.ResolvedNode{id: {}},
		Checksums: map[manifest.PackageID]string{id: result.SHA256},
	}
	runner := &nopRunner{}
	store := cache.NewMemStore(0)
	workers := ctx.Workers
	if workers <= 0 {
		workers = 1
	}
	if err := packager.Verify(context.Background(), id, manifests, res, store, runner, jobqueue.NewLocalTokenPool(workers), workers); err != nil {
		return fmt.Errorf("verification build failed: %w", err)
	}

	fmt.Println("verified: archive builds cleanly against its own overlay")
	return nil
}

// nopRunner stands in for a real compiler invocation during package
// verification, matching demoCompilerCommand's placeholder role in
// BuildCommand: forge supplies no compiled-language front end itself.
type nopRunner struct{}

func (nopRunner) Fingerprint(ctx context.Context, u unit.Unit) (jobqueue.Fingerprint, error) {
	return jobqueue.Fingerprint{UnitKey: u.Key()}, nil
}

func (nopRunner) Run(ctx context.Context, u unit.Unit, emit func(jobqueue.Message)) (cache.Artifact, jobqueue.Fingerprint, error) {
	emit(jobqueue.Message{Kind: jobqueue.KindRun, Unit: u})
	return cache.Artifact{}, jobqueue.Fingerprint{UnitKey: u.Key()}, nil
}

func byteSize(n int) string {
	if n < 1024 {
		return fmt.Sprintf("%dB", n)
	}
	return fmt.Sprintf("%.1fKiB", float64(n)/1024)
}
