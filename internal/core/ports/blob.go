package ports

import (
	"context"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// BlobStore is the content-addressed archive cache.
type BlobStore interface {
	// Fetch downloads all blobs referenced by the records in parallel and
	// verifies their digests. Present entries are not re-downloaded.
	Fetch(ctx context.Context, records []domain.PackageRecord) error

	// Path returns the local cache path for a digest. The second return
	// reports whether the blob is present.
	Path(sha256 string) (string, bool)

	// Put copies a local file into the cache under its digest.
	Put(ctx context.Context, file string) (string, error)

	// VerifySignature checks the record's detached signature against the
	// trusted keys.
	VerifySignature(record domain.PackageRecord) error

	// Evict removes every cached blob.
	Evict() error
}
