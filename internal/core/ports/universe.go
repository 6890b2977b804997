package ports

import (
	"context"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// Universe is the merged, read-optimized catalog of installable candidates
// and installed packages for one transaction.
type Universe interface {
	// Candidates returns all catalog entries for a name, best first.
	Candidates(name string) []domain.PackageRecord

	// Providers returns all records satisfying the dependency by name or
	// by a provides capability.
	Providers(dep domain.Dependency) []domain.PackageRecord

	// Installed returns the installed record for a name, if any.
	Installed(name string) (domain.InstalledRecord, bool)

	// AllInstalled returns every installed record.
	AllInstalled() []domain.InstalledRecord

	// Hash is a stable digest of (repos, installed set, pins) used to key
	// incremental solver state.
	Hash() uint64
}

// UniverseLoader builds the catalog for a transaction.
type UniverseLoader interface {
	// Load merges repository indexes and the installed database. Extra
	// records (for example from local archive files) join the catalog with
	// origin local-file.
	Load(ctx context.Context, extra []domain.PackageRecord) (Universe, error)
}
