package packager

import (
	"archive/tar"
	"bytes"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/forgepm/forge/internal/errs"
)

// archiveFile is one entry destined for the tarball. Generated is true for
// files forge produces itself (the rewritten manifest, the verbatim
// Cargo.toml.orig, the VCS info blob): those get a fixed mode and mtime=1 rather
// than their on-disk stat, matching spec.md §4.5 step 2c's platform-quirk
// workaround for zero-mtime entries.
type archiveFile struct {
	Path      string
	Contents  []byte
	Mode      uint32
	Generated bool
}

// genMtime is the fixed synthetic modification time cargo's tar() function
// assigns to generated archive members (`header.set_mtime(1)` in
// cargo_package/mod.rs) — not zero, since some historical tar readers treat
// mtime 0 as "undefined" and substitute the current time.
var genMtime = time.Unix(1, 0)

// buildArchive streams files into a gzip-compressed USTAR tarball whose
// single top-level directory is "<name>-<version>", grounded on distri's
// cmd/distri/pack.go (gzip.NewWriterLevel + tar.NewWriter + WriteHeader +
// io.Copy), swapping compress/gzip for the teacher pack's
// github.com/klauspost/compress/gzip (internal/cache's blob compression
// stays on the standard library's compress/gzip).
func buildArchive(name, version string, files []archiveFile) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, errs.New(errs.FamilyPackage, errs.ArchiveTooLarge, "open gzip writer", nil).Wrap(err)
	}
	tw := tar.NewWriter(gw)

	prefix := name + "-" + version + "/"
	for _, f := range files {
		mode := int64(f.Mode)
		mtime := time.Now()
		if f.Generated {
			mode = 0o644
			mtime = genMtime
		}
		hdr := &tar.Header{
			Name:     prefix + f.Path,
			Mode:     mode,
			Size:     int64(len(f.Contents)),
			ModTime:  mtime,
			Typeflag: tar.TypeReg,
			Format:   tar.FormatUSTAR,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, errs.New(errs.FamilyPackage, errs.InvalidPath, "write tar header for "+f.Path, nil).Wrap(err)
		}
		if _, err := tw.Write(f.Contents); err != nil {
			return nil, errs.New(errs.FamilyPackage, errs.InvalidPath, "write tar contents for "+f.Path, nil).Wrap(err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, errs.New(errs.FamilyPackage, errs.ArchiveTooLarge, "close tar writer", nil).Wrap(err)
	}
	if err := gw.Close(); err != nil {
		return nil, errs.New(errs.FamilyPackage, errs.ArchiveTooLarge, "close gzip writer", nil).Wrap(err)
	}
	return buf.Bytes(), nil
}
