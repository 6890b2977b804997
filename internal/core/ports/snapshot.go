package ports

import (
	"context"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// Snapshotter captures and restores pre-transaction filesystem state.
type Snapshotter interface {
	// Create archives the existing subset of paths into a tarball and
	// records the snapshot. The returned snapshot carries its id.
	Create(ctx context.Context, tag string, paths []string) (domain.Snapshot, error)

	// Restore replays a snapshot into the target root, deleting in-flight
	// files on the new side first.
	Restore(ctx context.Context, id int64) error

	// List returns all snapshots, newest first.
	List(ctx context.Context) ([]domain.Snapshot, error)

	// Delete removes a snapshot archive and its row.
	Delete(ctx context.Context, id int64) error

	// Prune removes the oldest snapshots beyond the retention limit.
	Prune(ctx context.Context) error
}
