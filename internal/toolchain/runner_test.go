package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/forgepm/forge/internal/jobqueue"
	"github.com/forgepm/forge/internal/manifest"
	"github.com/forgepm/forge/internal/unit"
)

type fakeRoots struct{ dir string }

func (f fakeRoots) Root(id manifest.PackageID) (string, error) { return f.dir, nil }

func TestCommandRunner_RunsCompilerAndCollectsOutputs(t *testing.T) {
	pkgRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(pkgRoot, "lib.src"), []byte("pub fn pad() {}"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	outRoot := t.TempDir()

	u := unit.Unit{
		Pkg:    manifest.PackageID{Name: "leftpad", Version: "1.0.0"},
		Target: manifest.Target{Name: "leftpad", Kind: manifest.TargetLib, SourcePath: "lib.src"},
		Mode:   unit.ModeBuild,
	}

	r := &CommandRunner{
		Roots:   fakeRoots{dir: pkgRoot},
		Sources: WalkSourceLister{Ext: ".src"},
		OutRoot: outRoot,
		Build: func(u unit.Unit, pkgRoot, outDir string) (CommandSpec, error) {
			return CommandSpec{
				Cmd:  "sh",
				Args: []string{"-c", "echo building >&2; echo warning: unused variable >&2; echo 'compiled' > " + filepath.Join(outDir, "out.txt")},
			}, nil
		},
	}

	var msgs []jobqueue.Message
	emit := func(m jobqueue.Message) { msgs = append(msgs, m) }

	artifact, fp, err := r.Run(context.Background(), u, emit)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if string(artifact.Files["out.txt"]) != "compiled\n" {
		t.Errorf("expected collected output file, got %q", artifact.Files["out.txt"])
	}
	if fp.UnitKey != u.Key() {
		t.Errorf("expected fingerprint keyed to the unit, got %q", fp.UnitKey)
	}
	if len(fp.Files) != 1 {
		t.Errorf("expected exactly one fingerprinted source file, got %d", len(fp.Files))
	}

	var sawRun, sawWarningCount bool
	for _, m := range msgs {
		if m.Kind == jobqueue.KindRun {
			sawRun = true
		}
		if m.Kind == jobqueue.KindWarningCount && m.Count == 1 {
			sawWarningCount = true
		}
	}
	if !sawRun {
		t.Errorf("expected a KindRun message")
	}
	if !sawWarningCount {
		t.Errorf("expected a KindWarningCount message counting the one warning line")
	}
}

func TestCommandRunner_FingerprintMatchesPostRunSnapshot(t *testing.T) {
	pkgRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(pkgRoot, "lib.src"), []byte("pub fn pad() {}"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	outRoot := t.TempDir()

	u := unit.Unit{
		Pkg:    manifest.PackageID{Name: "leftpad", Version: "1.0.0"},
		Target: manifest.Target{Name: "leftpad", Kind: manifest.TargetLib, SourcePath: "lib.src"},
		Mode:   unit.ModeBuild,
	}
	r := &CommandRunner{
		Roots:   fakeRoots{dir: pkgRoot},
		Sources: WalkSourceLister{Ext: ".src"},
		OutRoot: outRoot,
		Build: func(u unit.Unit, pkgRoot, outDir string) (CommandSpec, error) {
			return CommandSpec{Cmd: "sh", Args: []string{"-c", "echo ok > " + filepath.Join(outDir, "out.txt")}}, nil
		},
	}

	before, err := r.Fingerprint(context.Background(), u)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	_, fp, err := r.Run(context.Background(), u, func(jobqueue.Message) {})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !before.Equal(fp) {
		t.Fatalf("expected a pre-run Fingerprint over unchanged sources to equal Run's own snapshot: %+v vs %+v", before, fp)
	}
}

func TestCommandRunner_CompilerFailurePropagates(t *testing.T) {
	pkgRoot := t.TempDir()
	os.WriteFile(filepath.Join(pkgRoot, "lib.src"), []byte("x"), 0o644)
	outRoot := t.TempDir()

	u := unit.Unit{
		Pkg:    manifest.PackageID{Name: "broken", Version: "1.0.0"},
		Target: manifest.Target{Name: "broken", Kind: manifest.TargetLib, SourcePath: "lib.src"},
		Mode:   unit.ModeBuild,
	}
	r := &CommandRunner{
		Roots:   fakeRoots{dir: pkgRoot},
		Sources: WalkSourceLister{Ext: ".src"},
		OutRoot: outRoot,
		Build: func(u unit.Unit, pkgRoot, outDir string) (CommandSpec, error) {
			return CommandSpec{Cmd: "sh", Args: []string{"-c", "exit 1"}}, nil
		},
	}

	if _, _, err := r.Run(context.Background(), u, func(jobqueue.Message) {}); err == nil {
		t.Fatalf("expected the non-zero exit to surface as an error")
	}
}
