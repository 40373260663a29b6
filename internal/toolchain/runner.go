// Package toolchain adapts a single external compiler invocation per unit
// into a jobqueue.Runner, generalizing the teacher's internal/build/
// toolchain.go (Platform/CommandSpec/GoToolchain.BuildPackage) from a
// fixed "go build" invocation to a configurable compiler command driven by
// each unit's manifest.Target and unit.Profile.
package toolchain

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forgepm/forge/internal/cache"
	"github.com/forgepm/forge/internal/errs"
	"github.com/forgepm/forge/internal/jobqueue"
	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/unit"
)

// SourceLister enumerates the input files a Unit's fingerprint covers —
// normally every source file reachable from the target's SourcePath, an
// external loader's job since forge never parses the source language
// itself (spec.md §1 scopes forge to the build system, not a front end).
type SourceLister interface {
	Sources(pkgRoot string, t manifest.Target) ([]string, error)
}

// WalkSourceLister lists every regular file under the target's source
// directory, a conservative default suitable when a package has no
// finer-grained source manifest.
type WalkSourceLister struct{ Ext string }

func (w WalkSourceLister) Sources(pkgRoot string, t manifest.Target) ([]string, error) {
	dir := filepath.Dir(filepath.Join(pkgRoot, t.SourcePath))
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if w.Ext == "" || strings.HasSuffix(path, w.Ext) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// PackageRoots resolves a manifest.PackageID to its on-disk checkout, so
// CommandRunner can locate source files and run the compiler with the
// right working directory. Populated by whatever fetched/extracted the
// package (registry.Client.Download plus an on-disk cache, outside this
// package's concern).
type PackageRoots interface {
	Root(id manifest.PackageID) (string, error)
}

// CommandSpec describes one compiler invocation, generalizing the
// teacher's CommandSpec (internal/build/toolchain.go) from a hardcoded
// "go build ..." to an arbitrary compiler command.
type CommandSpec struct {
	Cmd     string
	Args    []string
	Env     map[string]string
	WorkDir string
}

// CommandBuilder builds the CommandSpec for one unit. Callers supply this
// rather than CommandRunner hardcoding a language, since forge's own tests
// exercise a fake "polyglot" compiler (spec.md's own framing: "no
// attachment intended to any real language").
type CommandBuilder func(u unit.Unit, pkgRoot string, outDir string) (CommandSpec, error)

// CommandRunner implements jobqueue.Runner by shelling out to an external
// compiler once per unit, grounded on the teacher's GoToolchain.BuildPackage
// (flag/ldflag assembly) and os/exec invocation pattern, generalized to a
// caller-supplied CommandBuilder instead of a fixed "go build" shape.
type CommandRunner struct {
	Roots   PackageRoots
	Sources SourceLister
	Build   CommandBuilder
	OutRoot string
}

var _ jobqueue.Runner = (*CommandRunner)(nil)

// Fingerprint computes a unit's current input fingerprint without invoking
// the compiler, so the coordinator can compare it against a cached one and
// decide Fresh-vs-Dirty (spec.md §4.4.1) before ever spawning a worker
// thread for the unit.
func (r *CommandRunner) Fingerprint(ctx context.Context, u unit.Unit) (jobqueue.Fingerprint, error) {
	_, sources, err := r.rootAndSources(u)
	if err != nil {
		return jobqueue.Fingerprint{}, err
	}
	fp, err := jobqueue.Snapshot(u, sources)
	if err != nil {
		return jobqueue.Fingerprint{}, errs.New(errs.FamilyExecution, errs.CompilerFailed,
			"fingerprinting "+u.String(), nil).Wrap(err)
	}
	return fp, nil
}

func (r *CommandRunner) rootAndSources(u unit.Unit) (string, []string, error) {
	pkgRoot, err := r.Roots.Root(u.Pkg)
	if err != nil {
		return "", nil, errs.New(errs.FamilyExecution, errs.CompilerFailed,
			"no checkout for "+u.Pkg.String(), nil).Wrap(err)
	}
	sources, err := r.Sources.Sources(pkgRoot, u.Target)
	if err != nil {
		return "", nil, errs.New(errs.FamilyExecution, errs.CompilerFailed,
			"listing sources for "+u.String(), nil).Wrap(err)
	}
	return pkgRoot, sources, nil
}

func (r *CommandRunner) Run(ctx context.Context, u unit.Unit, emit func(jobqueue.Message)) (cache.Artifact, jobqueue.Fingerprint, error) {
	pkgRoot, sources, err := r.rootAndSources(u)
	if err != nil {
		return cache.Artifact{}, jobqueue.Fingerprint{}, err
	}

	outDir := filepath.Join(r.OutRoot, u.Hash())
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return cache.Artifact{}, jobqueue.Fingerprint{}, errs.New(errs.FamilyExecution, errs.CompilerFailed,
			"creating output directory", nil).Wrap(err)
	}

	spec, err := r.Build(u, pkgRoot, outDir)
	if err != nil {
		return cache.Artifact{}, jobqueue.Fingerprint{}, errs.New(errs.FamilyExecution, errs.CompilerFailed,
			"building command for "+u.String(), nil).Wrap(err)
	}

	emit(jobqueue.Message{Kind: jobqueue.KindRun, Unit: u})

	cmd := exec.CommandContext(ctx, spec.Cmd, spec.Args...)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	} else {
		cmd.Dir = pkgRoot
	}
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return cache.Artifact{}, jobqueue.Fingerprint{}, errs.New(errs.FamilyExecution, errs.CompilerFailed, "stdout pipe", nil).Wrap(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return cache.Artifact{}, jobqueue.Fingerprint{}, errs.New(errs.FamilyExecution, errs.CompilerFailed, "stderr pipe", nil).Wrap(err)
	}

	if err := cmd.Start(); err != nil {
		return cache.Artifact{}, jobqueue.Fingerprint{}, errs.New(errs.FamilyExecution, errs.CompilerFailed,
			"starting compiler for "+u.String(), nil).Wrap(err)
	}

	warnings := 0
	streamLines(stdout, func(line string) { emit(jobqueue.Message{Kind: jobqueue.KindStdout, Unit: u, Text: line}) })
	streamLines(stderr, func(line string) {
		if strings.Contains(line, "warning:") {
			warnings++
		}
		emit(jobqueue.Message{Kind: jobqueue.KindDiagnostic, Unit: u, Text: line})
	})

	runErr := cmd.Wait()
	if warnings > 0 {
		emit(jobqueue.Message{Kind: jobqueue.KindWarningCount, Unit: u, Count: warnings})
	}
	if runErr != nil {
		return cache.Artifact{}, jobqueue.Fingerprint{}, errs.New(errs.FamilyExecution, errs.CompilerFailed,
			"compiling "+u.String(), map[string]any{"cmd": spec.Cmd}).Wrap(runErr)
	}

	fp, err := jobqueue.Snapshot(u, sources)
	if err != nil {
		return cache.Artifact{}, jobqueue.Fingerprint{}, errs.New(errs.FamilyExecution, errs.CompilerFailed,
			"fingerprinting "+u.String(), nil).Wrap(err)
	}

	artifact, err := collectOutputs(outDir)
	if err != nil {
		return cache.Artifact{}, jobqueue.Fingerprint{}, errs.New(errs.FamilyExecution, errs.CompilerFailed,
			"collecting outputs for "+u.String(), nil).Wrap(err)
	}

	return artifact, fp, nil
}

func streamLines(r interface{ Read([]byte) (int, error) }, handle func(string)) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		handle(sc.Text())
	}
}

func collectOutputs(outDir string) (cache.Artifact, error) {
	files := make(map[string][]byte)
	err := filepath.Walk(outDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(outDir, path)
		if err != nil {
			return err
		}
		files[rel] = data
		return nil
	})
	return cache.Artifact{Files: files}, err
}
