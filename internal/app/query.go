package app

import (
	"context"
	"strings"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// List returns every installed package ordered by name.
func (a *App) List(ctx context.Context) ([]domain.InstalledRecord, error) {
	return a.state.AllInstalled(ctx)
}

// Files returns the manifest of an installed package.
func (a *App) Files(ctx context.Context, name string) (domain.Manifest, error) {
	rec, ok, err := a.state.Installed(ctx, name)
	if err != nil {
		return domain.Manifest{}, err
	}
	if !ok {
		return domain.Manifest{}, zerr.With(domain.ErrNotInstalled, "package", name)
	}
	return a.state.Manifest(ctx, rec.ManifestID)
}

// Owner returns the installed package owning a path. Absolute paths are
// resolved against the target root.
func (a *App) Owner(ctx context.Context, path string) (string, error) {
	rel := strings.TrimPrefix(path, "/")
	owner, ok, err := a.state.Owner(ctx, rel)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", zerr.With(domain.ErrPackageNotFound, "path", path)
	}
	return owner, nil
}

// History returns the newest n journal rows, everything when n <= 0.
func (a *App) History(ctx context.Context, n int) ([]domain.HistoryEntry, error) {
	return a.state.History(ctx, n)
}

// Snapshots returns all snapshots, newest first.
func (a *App) Snapshots(ctx context.Context) ([]domain.Snapshot, error) {
	return a.snaps.List(ctx)
}

// DeleteSnapshot removes one snapshot and its archive.
func (a *App) DeleteSnapshot(ctx context.Context, id int64) error {
	return a.snaps.Delete(ctx, id)
}

// PruneSnapshots removes snapshots beyond the retention limit.
func (a *App) PruneSnapshots(ctx context.Context) error {
	return a.snaps.Prune(ctx)
}

// Hold freezes a package against upgrades and removal.
func (a *App) Hold(ctx context.Context, name string) error {
	a.logger.Info("holding package", "package", name)
	return a.state.SetPin(ctx, name, domain.PinHold, domain.Constraint{})
}

// Unhold drops any pin on a package.
func (a *App) Unhold(ctx context.Context, name string) error {
	a.logger.Info("releasing pin", "package", name)
	return a.state.DeletePin(ctx, name)
}

// Prefer steers resolution of a package toward versions matching expr.
func (a *App) Prefer(ctx context.Context, name, expr string) error {
	c, err := domain.ParseConstraint(expr)
	if err != nil {
		return err
	}
	a.logger.Info("preferring constraint", "package", name, "constraint", c.String())
	return a.state.SetPin(ctx, name, domain.PinPrefer, c)
}

// Pins returns the effective pin state, pins.json merged with the
// database rows.
func (a *App) Pins(ctx context.Context) (domain.Pins, error) {
	dbPins, err := a.state.Pins(ctx)
	if err != nil {
		return domain.Pins{}, err
	}
	return mergePins(a.cfg.Pins, dbPins), nil
}
