package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/adapters/repo"
	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

// Builder packs a staged tree into a package archive, the inverse of
// Extractor.
type Builder struct {
	Logger     ports.Logger
	BufferSize int
}

// NewBuilder creates a Builder using the configured streaming buffer.
func NewBuilder(log ports.Logger, cfg domain.Config) *Builder {
	size := cfg.IOBufferSize
	if size < domain.MinIOBufferSize {
		size = domain.DefaultIOBufferSize
	}
	return &Builder{Logger: log, BufferSize: size}
}

// Build writes <outDir>/<id>.tar.zst containing the metadata, the manifest
// computed from dir, and the payload tree.
func (b *Builder) Build(ctx context.Context, dir string, rec domain.PackageRecord, outDir string) (string, error) {
	manifest, err := b.scan(dir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outDir, domain.DirPerm); err != nil {
		return "", zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}
	out := filepath.Join(outDir, rec.ID()+".tar.zst")
	f, err := os.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, domain.FilePerm)
	if err != nil {
		return "", zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return "", zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}
	tw := tar.NewWriter(zw)

	err = b.writeArchive(ctx, tw, dir, rec, manifest)
	if cErr := tw.Close(); err == nil {
		err = cErr
	}
	if cErr := zw.Close(); err == nil {
		err = cErr
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.Remove(out)
		return "", zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}
	return out, nil
}

// writeArchive emits the metadata files first so extraction can parse the
// record before the payload arrives.
func (b *Builder) writeArchive(ctx context.Context, tw *tar.Writer, dir string, rec domain.PackageRecord, manifest domain.Manifest) error {
	embedded := rec
	embedded.BlobName = ""
	embedded.BlobSize = 0
	embedded.BlobSHA256 = ""
	meta, err := repo.EncodeRecord(embedded)
	if err != nil {
		return err
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}

	if err := writeMemberFile(tw, domain.MetadataPath, meta); err != nil {
		return err
	}
	if err := writeMemberFile(tw, domain.ManifestPath, manifestJSON); err != nil {
		return err
	}
	if rec.Signature != "" {
		if err := writeMemberFile(tw, domain.SignaturePath, []byte(rec.Signature)); err != nil {
			return err
		}
	}

	buf := make([]byte, b.BufferSize)
	for _, entry := range manifest.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		full := filepath.Join(dir, entry.Path)
		info, err := os.Lstat(full)
		if err != nil {
			return err
		}
		var link string
		if entry.Kind == domain.EntrySymlink {
			link = entry.LinkTarget
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = entry.Path
		if entry.Kind == domain.EntryDir {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if entry.Kind != domain.EntryFile {
			continue
		}
		src, err := os.Open(full)
		if err != nil {
			return err
		}
		_, err = io.CopyBuffer(tw, src, buf)
		if cErr := src.Close(); err == nil {
			err = cErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// scan walks the staged tree and computes the manifest in lexical order.
func (b *Builder) scan(dir string) (domain.Manifest, error) {
	var manifest domain.Manifest
	err := filepath.WalkDir(dir, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, full)
		if err != nil {
			return err
		}
		if rel == "." || rel == ".lpm" || strings.HasPrefix(rel, ".lpm/") {
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := domain.ManifestEntry{
			Path: rel,
			Mode: uint32(info.Mode().Perm()),
			UID:  ownerUID(info),
			GID:  ownerGID(info),
		}
		switch {
		case info.IsDir():
			entry.Kind = domain.EntryDir
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return err
			}
			sum := sha256.Sum256([]byte(target))
			entry.Kind = domain.EntrySymlink
			entry.LinkTarget = target
			entry.SHA256 = hex.EncodeToString(sum[:])
		case info.Mode().IsRegular():
			sum, size, err := hashFile(full, b.BufferSize)
			if err != nil {
				return err
			}
			entry.Kind = domain.EntryFile
			entry.Size = size
			entry.SHA256 = sum
		default:
			b.Logger.Warn("skipping irregular file", "path", rel)
			return nil
		}
		manifest.Entries = append(manifest.Entries, entry)
		return nil
	})
	if err != nil {
		return domain.Manifest{}, zerr.Wrap(err, domain.ErrArchiveIO.Error())
	}
	return manifest, nil
}

func writeMemberFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     int64(domain.FilePerm),
		Size:     int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(data))
	return err
}

func hashFile(path string, bufSize int) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	hasher := sha256.New()
	buf := make([]byte, bufSize)
	size, err := io.CopyBuffer(hasher, f, buf)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

var _ ports.Builder = (*Builder)(nil)
