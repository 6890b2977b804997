// Package archive reads and writes zstd-compressed package tarballs.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/adapters/repo"
	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

// zstdMagic is the frame header every package archive must start with.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Extractor unpacks package archives into per-package staging directories.
type Extractor struct {
	Logger     ports.Logger
	BufferSize int
}

// NewExtractor creates an Extractor using the configured streaming buffer.
func NewExtractor(log ports.Logger, cfg domain.Config) *Extractor {
	size := cfg.IOBufferSize
	if size < domain.MinIOBufferSize {
		size = domain.DefaultIOBufferSize
	}
	return &Extractor{Logger: log, BufferSize: size}
}

// Extract streams the archive into a staging directory under stagingRoot
// named after the package identity. The manifest is computed from the
// payload while writing and checked against the declared manifest.
func (e *Extractor) Extract(ctx context.Context, archivePath, stagingRoot string) (ports.ExtractResult, error) {
	tr, closeAll, err := e.openArchive(archivePath)
	if err != nil {
		return ports.ExtractResult{}, err
	}
	defer closeAll()

	if err := os.MkdirAll(stagingRoot, domain.DirPerm); err != nil {
		return ports.ExtractResult{}, zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}
	dir, err := os.MkdirTemp(stagingRoot, ".extract-*")
	if err != nil {
		return ports.ExtractResult{}, zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}

	var (
		rec      domain.PackageRecord
		declared domain.Manifest
		hasDecl  bool
		computed []domain.ManifestEntry
		script   string
	)

	buf := make([]byte, e.BufferSize)
	for {
		if err := ctx.Err(); err != nil {
			os.RemoveAll(dir)
			return ports.ExtractResult{}, zerr.Wrap(err, domain.ErrInterrupted.Error())
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			os.RemoveAll(dir)
			return ports.ExtractResult{}, zerr.Wrap(err, domain.ErrArchiveFormat.Error())
		}

		rel, err := safeRel(hdr.Name)
		if err != nil {
			os.RemoveAll(dir)
			return ports.ExtractResult{}, err
		}
		if rel == "." {
			continue
		}

		switch rel {
		case domain.MetadataPath:
			data, err := io.ReadAll(tr)
			if err != nil {
				os.RemoveAll(dir)
				return ports.ExtractResult{}, zerr.Wrap(err, domain.ErrArchiveFormat.Error())
			}
			if rec, err = repo.DecodeRecord(data); err != nil {
				os.RemoveAll(dir)
				return ports.ExtractResult{}, zerr.Wrap(err, domain.ErrArchiveFormat.Error())
			}
			continue
		case domain.ManifestPath:
			if err := json.NewDecoder(tr).Decode(&declared); err != nil {
				os.RemoveAll(dir)
				return ports.ExtractResult{}, zerr.Wrap(err, domain.ErrArchiveFormat.Error())
			}
			hasDecl = true
			continue
		case domain.SignaturePath:
			continue
		}

		entry, err := e.writeEntry(dir, rel, hdr, tr, buf)
		if err != nil {
			os.RemoveAll(dir)
			return ports.ExtractResult{}, err
		}
		if entry == nil {
			continue
		}
		computed = append(computed, *entry)
		if rel == domain.InstallScriptPath {
			script = domain.InstallScriptPath
		}
	}

	if rec.Name == "" {
		os.RemoveAll(dir)
		return ports.ExtractResult{}, zerr.With(domain.ErrArchiveFormat, "reason", "missing package metadata")
	}

	manifest, err := reconcile(rec, computed, declared, hasDecl)
	if err != nil {
		os.RemoveAll(dir)
		return ports.ExtractResult{}, err
	}

	final := filepath.Join(stagingRoot, rec.ID())
	if err := os.RemoveAll(final); err != nil {
		os.RemoveAll(dir)
		return ports.ExtractResult{}, zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}
	if err := os.Rename(dir, final); err != nil {
		os.RemoveAll(dir)
		return ports.ExtractResult{}, zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}
	if script != "" {
		script = filepath.Join(final, script)
	}

	return ports.ExtractResult{
		Record:        rec,
		Manifest:      manifest,
		StagingDir:    final,
		InstallScript: script,
	}, nil
}

// Peek parses metadata and manifest without writing any payload.
func (e *Extractor) Peek(ctx context.Context, archivePath string) (domain.PackageRecord, domain.Manifest, error) {
	tr, closeAll, err := e.openArchive(archivePath)
	if err != nil {
		return domain.PackageRecord{}, domain.Manifest{}, err
	}
	defer closeAll()

	var (
		rec      domain.PackageRecord
		manifest domain.Manifest
		haveRec  bool
		haveMan  bool
	)
	for !(haveRec && haveMan) {
		if err := ctx.Err(); err != nil {
			return domain.PackageRecord{}, domain.Manifest{}, zerr.Wrap(err, domain.ErrInterrupted.Error())
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.PackageRecord{}, domain.Manifest{}, zerr.Wrap(err, domain.ErrArchiveFormat.Error())
		}
		rel, err := safeRel(hdr.Name)
		if err != nil {
			return domain.PackageRecord{}, domain.Manifest{}, err
		}
		switch rel {
		case domain.MetadataPath:
			data, err := io.ReadAll(tr)
			if err != nil {
				return domain.PackageRecord{}, domain.Manifest{}, zerr.Wrap(err, domain.ErrArchiveFormat.Error())
			}
			if rec, err = repo.DecodeRecord(data); err != nil {
				return domain.PackageRecord{}, domain.Manifest{}, zerr.Wrap(err, domain.ErrArchiveFormat.Error())
			}
			haveRec = true
		case domain.ManifestPath:
			if err := json.NewDecoder(tr).Decode(&manifest); err != nil {
				return domain.PackageRecord{}, domain.Manifest{}, zerr.Wrap(err, domain.ErrArchiveFormat.Error())
			}
			haveMan = true
		}
	}
	if !haveRec {
		return domain.PackageRecord{}, domain.Manifest{}, zerr.With(domain.ErrArchiveFormat, "reason", "missing package metadata")
	}
	return rec, manifest, nil
}

// openArchive validates the zstd magic and returns a tar reader over the
// decompressed stream.
func (e *Extractor) openArchive(archivePath string) (*tar.Reader, func(), error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}

	magic := make([]byte, len(zstdMagic))
	if _, err := io.ReadFull(f, magic); err != nil || !bytes.Equal(magic, zstdMagic) {
		f.Close()
		return nil, nil, zerr.With(zerr.With(domain.ErrArchiveFormat, "file", filepath.Base(archivePath)), "reason", "not a zstd stream")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, nil, zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, zerr.Wrap(err, domain.ErrArchiveFormat.Error())
	}
	closeAll := func() {
		dec.Close()
		f.Close()
	}
	return tar.NewReader(dec), closeAll, nil
}

// writeEntry materializes one payload entry under dir and returns its
// manifest entry. Unsupported entry types are skipped.
func (e *Extractor) writeEntry(dir, rel string, hdr *tar.Header, r io.Reader, buf []byte) (*domain.ManifestEntry, error) {
	dest := filepath.Join(dir, rel)
	entry := domain.ManifestEntry{
		Path: rel,
		Mode: uint32(hdr.Mode),
		UID:  hdr.Uid,
		GID:  hdr.Gid,
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		entry.Kind = domain.EntryDir
		if err := secureMkdirAll(dir, rel); err != nil {
			return nil, err
		}
		if err := os.Chmod(dest, os.FileMode(hdr.Mode)); err != nil {
			return nil, zerr.Wrap(err, domain.ErrArchiveIO.Error())
		}
	case tar.TypeReg:
		entry.Kind = domain.EntryFile
		if err := secureMkdirAll(dir, path.Dir(rel)); err != nil {
			return nil, err
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return nil, zerr.Wrap(err, domain.ErrArchiveIO.Error())
		}
		hasher := sha256.New()
		written, err := io.CopyBuffer(io.MultiWriter(out, hasher), r, buf)
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return nil, zerr.Wrap(err, domain.ErrArchiveIO.Error())
		}
		entry.Size = written
		entry.SHA256 = hex.EncodeToString(hasher.Sum(nil))
	case tar.TypeSymlink:
		entry.Kind = domain.EntrySymlink
		entry.LinkTarget = hdr.Linkname
		sum := sha256.Sum256([]byte(hdr.Linkname))
		entry.SHA256 = hex.EncodeToString(sum[:])
		if err := secureMkdirAll(dir, path.Dir(rel)); err != nil {
			return nil, err
		}
		os.Remove(dest)
		if err := os.Symlink(hdr.Linkname, dest); err != nil {
			return nil, zerr.Wrap(err, domain.ErrArchiveIO.Error())
		}
	default:
		e.Logger.Warn("skipping unsupported archive entry", "path", rel, "type", int(hdr.Typeflag))
		return nil, nil
	}

	if err := chownIfRoot(dest, hdr.Uid, hdr.Gid); err != nil {
		return nil, err
	}
	return &entry, nil
}

// reconcile checks computed payload entries against the declared manifest
// and carries over keep flags.
func reconcile(rec domain.PackageRecord, computed []domain.ManifestEntry, declared domain.Manifest, hasDecl bool) (domain.Manifest, error) {
	if !hasDecl {
		return domain.Manifest{Entries: computed}, nil
	}

	byPath := map[string]domain.ManifestEntry{}
	for _, e := range computed {
		byPath[e.Path] = e
	}
	for _, want := range declared.Entries {
		if strings.HasPrefix(want.Path, ".lpm/") {
			continue
		}
		got, ok := byPath[want.Path]
		if !ok {
			return domain.Manifest{}, zerr.With(zerr.With(zerr.With(domain.ErrManifestMismatch,
				"package", rec.ID()), "path", want.Path), "reason", "declared entry missing from payload")
		}
		if want.Kind == domain.EntryFile && want.SHA256 != "" && want.SHA256 != got.SHA256 {
			return domain.Manifest{}, zerr.With(zerr.With(zerr.With(zerr.With(domain.ErrManifestMismatch,
				"package", rec.ID()), "path", want.Path), "expected", want.SHA256), "actual", got.SHA256)
		}
	}

	out := make([]domain.ManifestEntry, len(computed))
	copy(out, computed)
	for i := range out {
		if want, ok := declared.Lookup(out[i].Path); ok {
			out[i].Keep = want.Keep
		}
	}
	return domain.Manifest{Entries: out}, nil
}

// safeRel normalizes a tar entry name and rejects anything that would land
// outside the extraction root.
func safeRel(name string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(name, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", zerr.With(domain.ErrArchivePathEscape, "path", name)
	}
	return cleaned, nil
}

// secureMkdirAll creates rel's directory chain beneath root, refusing to
// traverse symlinks created by earlier entries.
func secureMkdirAll(root, rel string) error {
	if rel == "." || rel == "" {
		return nil
	}
	cur := root
	for _, part := range strings.Split(rel, "/") {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		switch {
		case err == nil && info.Mode()&os.ModeSymlink != 0:
			return zerr.With(zerr.With(domain.ErrArchivePathEscape, "path", rel), "reason", "write through symlink")
		case err == nil && !info.IsDir():
			return zerr.With(zerr.With(domain.ErrArchiveIO, "path", rel), "reason", "parent is not a directory")
		case err == nil:
			continue
		case os.IsNotExist(err):
			if err := os.Mkdir(cur, domain.DirPerm); err != nil {
				return zerr.Wrap(err, domain.ErrArchiveIO.Error())
			}
		default:
			return zerr.Wrap(err, domain.ErrArchiveIO.Error())
		}
	}
	return nil
}

func chownIfRoot(dest string, uid, gid int) error {
	if os.Geteuid() != 0 {
		return nil
	}
	if err := os.Lchown(dest, uid, gid); err != nil {
		return zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}
	return nil
}

var _ ports.Extractor = (*Extractor)(nil)
