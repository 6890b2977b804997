package app

import (
	"context"
	"os"
	"strings"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/engine/txn"
)

// Install resolves and installs the named packages. Arguments naming an
// existing archive file are sideloaded into the blob cache first.
func (a *App) Install(ctx context.Context, args []string, opts txn.Options) (domain.Plan, error) {
	var deps []domain.Dependency
	var locals []domain.PackageRecord

	for _, arg := range args {
		if isArchiveArg(arg) {
			rec, err := a.sideload(ctx, arg)
			if err != nil {
				return domain.Plan{}, err
			}
			locals = append(locals, rec)
			continue
		}
		dep, err := domain.ParseDependency(arg)
		if err != nil {
			return domain.Plan{}, err
		}
		deps = append(deps, dep)
	}

	return a.ctrl.Run(ctx, txn.Request{Install: deps, LocalFiles: locals}, opts)
}

// sideload copies a local archive into the cache and peeks its record. The
// record's blob digest is rewritten to the cached file's digest so the
// transaction resolves it from the cache.
func (a *App) sideload(ctx context.Context, path string) (domain.PackageRecord, error) {
	sha, err := a.blobs.Put(ctx, path)
	if err != nil {
		return domain.PackageRecord{}, err
	}
	cached, ok := a.blobs.Path(sha)
	if !ok {
		return domain.PackageRecord{}, zerr.With(domain.ErrFetchChecksum, "file", path)
	}

	rec, _, err := a.extractor.Peek(ctx, cached)
	if err != nil {
		return domain.PackageRecord{}, err
	}
	if !rec.CompatibleWith(a.cfg.Arch) {
		return domain.PackageRecord{}, zerr.With(zerr.With(zerr.With(domain.ErrArchIncompatible,
			"package", rec.Name), "arch", rec.Arch), "host", a.cfg.Arch)
	}

	rec.BlobSHA256 = sha
	rec.Origin = domain.OriginLocalFile
	a.logger.Info("sideloaded archive", "package", rec.NVR(), "file", path)
	return rec, nil
}

func isArchiveArg(arg string) bool {
	if !strings.HasSuffix(arg, ".zst") {
		return false
	}
	info, err := os.Stat(arg)
	return err == nil && info.Mode().IsRegular()
}

// Remove uninstalls the named packages.
func (a *App) Remove(ctx context.Context, names []string, opts txn.Options) (domain.Plan, error) {
	return a.ctrl.Run(ctx, txn.Request{Remove: names}, opts)
}

// Upgrade moves the named packages to their best candidates; with no names
// everything upgradable is upgraded.
func (a *App) Upgrade(ctx context.Context, names []string, opts txn.Options) (domain.Plan, error) {
	return a.ctrl.Run(ctx, txn.Request{Upgrade: names, UpgradeAll: len(names) == 0}, opts)
}

// Autoremove uninstalls every orphaned dependency.
func (a *App) Autoremove(ctx context.Context, opts txn.Options) (domain.Plan, error) {
	return a.ctrl.Autoremove(ctx, opts)
}

// Rollback restores a snapshot. id 0 restores the newest one.
func (a *App) Rollback(ctx context.Context, id int64, opts txn.Options) error {
	return a.ctrl.Rollback(ctx, id, opts)
}

// Orphans lists the packages Autoremove would uninstall.
func (a *App) Orphans(ctx context.Context) ([]string, error) {
	return a.ctrl.Orphans(ctx)
}
