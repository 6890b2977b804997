package ports

import (
	"context"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// StateDB is the persistent installed-package and history store.
type StateDB interface {
	// Installed returns the record for a name, if installed.
	Installed(ctx context.Context, name string) (domain.InstalledRecord, bool, error)

	// AllInstalled returns every installed record ordered by name.
	AllInstalled(ctx context.Context) ([]domain.InstalledRecord, error)

	// Manifest returns the manifest for an installed package.
	Manifest(ctx context.Context, manifestID int64) (domain.Manifest, error)

	// RecordInstall upserts a package row with its manifest atomically and
	// returns the stored record.
	RecordInstall(ctx context.Context, rec domain.InstalledRecord, m domain.Manifest) (domain.InstalledRecord, error)

	// RemovePackage deletes a package row and its manifest atomically.
	RemovePackage(ctx context.Context, name string) error

	// Owner returns the installed package owning a path, if any.
	Owner(ctx context.Context, path string) (string, bool, error)

	// ReverseDependencies returns the names of installed packages whose
	// requires are satisfied by the named package.
	ReverseDependencies(ctx context.Context, name string) ([]string, error)

	// AppendHistory writes a journal row and returns its id.
	AppendHistory(ctx context.Context, e domain.HistoryEntry) (int64, error)

	// History returns the newest n journal rows, newest first. n <= 0
	// returns everything.
	History(ctx context.Context, n int) ([]domain.HistoryEntry, error)

	// Pins returns the stored pin state.
	Pins(ctx context.Context) (domain.Pins, error)

	// SetPin upserts a pin row; an empty constraint with kind hold is valid.
	SetPin(ctx context.Context, name string, kind domain.PinKind, c domain.Constraint) error

	// DeletePin removes a pin row.
	DeletePin(ctx context.Context, name string) error

	// AddSnapshot records a snapshot row and returns its id.
	AddSnapshot(ctx context.Context, s domain.Snapshot) (int64, error)

	// Snapshots returns all snapshot rows, newest first.
	Snapshots(ctx context.Context) ([]domain.Snapshot, error)

	// DeleteSnapshot removes a snapshot row.
	DeleteSnapshot(ctx context.Context, id int64) error

	// Close releases the underlying database handle.
	Close() error
}
