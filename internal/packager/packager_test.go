package packager

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/forgepm/forge/internal/manifest"
)

// fakeVCS lets tests control tracked files and dirty state without shelling
// out to git.
type fakeVCS struct {
	tracked           []string
	modified, staged  []string
	sha, pathInRepo   string
}

func (f fakeVCS) TrackedFiles(ctx context.Context, root string) ([]string, error) {
	return f.tracked, nil
}
func (f fakeVCS) Status(ctx context.Context, root string) (modified, staged []string, err error) {
	return f.modified, f.staged, nil
}
func (f fakeVCS) HeadCommit(ctx context.Context, root string) (string, string, error) {
	return f.sha, f.pathInRepo, nil
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

const sampleManifest = `
[package]
name = "leftpad"
version = "1.0.0"

[dependencies]
serde = { version = "1", path = "../serde" }
log = "0.4"
`

func TestPackage_StreamsArchiveAndRewritesManifest(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/lib.rs":  "pub fn pad() {}",
		"Cargo.toml":  sampleManifest,
	})
	vcs := fakeVCS{tracked: []string{"src/lib.rs", "Cargo.toml"}, sha: "deadbeef", pathInRepo: "leftpad"}
	p := New(vcs)

	in := Input{
		Root:        root,
		RawManifest: []byte(sampleManifest),
		Manifest:    manifest.Manifest{ID: manifest.PackageID{Name: "leftpad", Version: "1.0.0"}},
	}
	res, err := p.Package(context.Background(), in, Options{})
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	if res.SHA256 == "" {
		t.Fatalf("expected a non-empty checksum")
	}

	entries := readTarGz(t, res.Archive)
	want := map[string]bool{
		"leftpad-1.0.0/src/lib.rs":            true,
		"leftpad-1.0.0/Cargo.toml":            true,
		"leftpad-1.0.0/Cargo.toml.orig":       true,
		"leftpad-1.0.0/.cargo_vcs_info.json":  true,
	}
	for name := range want {
		if _, ok := entries[name]; !ok {
			t.Errorf("missing archive entry %s", name)
		}
	}

	rewritten := entries["leftpad-1.0.0/Cargo.toml"]
	if bytes.Contains(rewritten, []byte("path")) {
		t.Errorf("rewritten manifest still contains a path dependency:\n%s", rewritten)
	}
	orig := entries["leftpad-1.0.0/Cargo.toml.orig"]
	if !bytes.Contains(orig, []byte("path = \"../serde\"")) {
		t.Errorf("Cargo.toml.orig should preserve the original path dependency verbatim")
	}
}

func TestPackage_RejectsUncommittedChangesUnlessAllowed(t *testing.T) {
	root := writeTree(t, map[string]string{"Cargo.toml": sampleManifest})
	vcs := fakeVCS{tracked: []string{"Cargo.toml"}, modified: []string{"Cargo.toml"}}
	p := New(vcs)
	in := Input{Root: root, RawManifest: []byte(sampleManifest), Manifest: manifest.Manifest{ID: manifest.PackageID{Name: "leftpad", Version: "1.0.0"}}}

	if _, err := p.Package(context.Background(), in, Options{}); err == nil {
		t.Fatalf("expected dirty-VCS error")
	}
	if _, err := p.Package(context.Background(), in, Options{AllowDirty: true}); err != nil {
		t.Fatalf("AllowDirty should bypass the check: %v", err)
	}
}

func TestPackage_RejectsReservedFileName(t *testing.T) {
	root := writeTree(t, map[string]string{
		"Cargo.toml":      sampleManifest,
		"Cargo.toml.orig": "stray file",
	})
	vcs := fakeVCS{tracked: []string{"Cargo.toml", "Cargo.toml.orig"}}
	p := New(vcs)
	in := Input{Root: root, RawManifest: []byte(sampleManifest), Manifest: manifest.Manifest{ID: manifest.PackageID{Name: "leftpad", Version: "1.0.0"}}}

	if _, err := p.Package(context.Background(), in, Options{}); err == nil {
		t.Fatalf("expected a reserved-name error")
	}
}

func TestCheckCustomBuildInRoot(t *testing.T) {
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"build.rs", false},
		{"scripts/build.rs", false},
		{"/etc/build.rs", true},
		{"../outside/build.rs", true},
	}
	for _, c := range cases {
		err := checkCustomBuildInRoot(c.path)
		if (err != nil) != c.wantErr {
			t.Errorf("checkCustomBuildInRoot(%q): err=%v, wantErr=%v", c.path, err, c.wantErr)
		}
	}
}

func readTarGz(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	tr := tar.NewReader(gr)
	out := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		contents, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read entry %s: %v", hdr.Name, err)
		}
		out[hdr.Name] = contents
	}
	return out
}
