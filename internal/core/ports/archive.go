package ports

import (
	"context"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// ExtractResult is the outcome of unpacking one package archive.
type ExtractResult struct {
	// Record is the package record parsed from the archive metadata.
	Record domain.PackageRecord

	// Manifest lists every payload entry with sizes and digests.
	Manifest domain.Manifest

	// StagingDir is the directory holding the extracted payload tree.
	StagingDir string

	// InstallScript is the staged embedded install script path, empty when
	// the archive carries none.
	InstallScript string
}

// Extractor unpacks package archives into staging directories.
type Extractor interface {
	// Extract streams the archive at path into a staging directory under
	// stagingRoot and returns the parsed record and computed manifest.
	Extract(ctx context.Context, path, stagingRoot string) (ExtractResult, error)

	// Peek reads only the metadata and manifest from an archive without
	// extracting the payload.
	Peek(ctx context.Context, path string) (domain.PackageRecord, domain.Manifest, error)
}

// Builder produces package archives, the inverse of Extractor.
type Builder interface {
	// Build archives the tree at dir using the record's identity and
	// returns the path of the produced archive.
	Build(ctx context.Context, dir string, record domain.PackageRecord, outDir string) (string, error)
}
