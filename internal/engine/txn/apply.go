package txn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

// checkConflicts rejects installs whose payload collides with on-disk
// files owned by an unrelated package or by nobody. A byte-identical
// unowned file is adopted silently.
func (c *Controller) checkConflicts(ctx context.Context, plan domain.Plan, prep prepared, opts Options) error {
	if opts.Force {
		return nil
	}

	for _, op := range plan.Installs() {
		allowed := map[string]bool{op.Package.Name: true}
		if op.Previous != nil {
			allowed[op.Previous.Name] = true
		}
		for _, rep := range op.Replaces {
			allowed[rep.Name] = true
		}

		for _, entry := range prep.manifest[op.Package.Name].Entries {
			if entry.Kind == domain.EntryDir {
				continue
			}
			abs := filepath.Join(c.Config.Root, entry.Path)
			info, err := os.Lstat(abs)
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return zerr.Wrap(err, domain.ErrArchiveIO.Error())
			}

			owner, owned, err := c.State.Owner(ctx, entry.Path)
			if err != nil {
				return err
			}
			if owned {
				if allowed[owner] {
					continue
				}
				return zerr.With(zerr.With(zerr.With(domain.ErrFileConflict,
					"path", entry.Path), "package", op.Package.Name), "owner", owner)
			}

			if entry.Kind == domain.EntryFile && info.Mode().IsRegular() && entry.SHA256 != "" {
				sum, hashErr := fileSHA256(abs)
				if hashErr == nil && sum == entry.SHA256 {
					continue
				}
			}
			return zerr.With(zerr.With(domain.ErrFileConflict,
				"path", entry.Path), "package", op.Package.Name)
		}
	}
	return nil
}

// apply performs the plan's operations in order against the target root.
// Every operation updates the state database before the next one starts,
// so an abort mid-plan still rolls back from a consistent journal.
func (c *Controller) apply(ctx context.Context, plan domain.Plan, prep prepared, snapID int64) error {
	ctx, span := c.Tracer.Start(ctx, "txn.apply")
	var err error
	defer func() { span.End(err) }()

	stagingRoot := c.Layout.StagingDir(fmt.Sprintf("%d", snapID))
	if err = os.MkdirAll(stagingRoot, domain.DirPerm); err != nil {
		err = zerr.Wrap(err, domain.ErrArchiveIO.Error())
		return err
	}
	defer os.RemoveAll(stagingRoot)

	for _, op := range plan.Ops {
		if err = ctx.Err(); err != nil {
			err = zerr.Wrap(err, domain.ErrInterrupted.Error())
			return err
		}
		switch op.Kind {
		case domain.OpRemove:
			err = c.removePackage(ctx, op.Package.Name, snapID)
		case domain.OpInstall, domain.OpUpgrade:
			err = c.installOne(ctx, op, prep, stagingRoot, snapID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// installOne extracts one archive, places its payload, and records the
// result. Packages obsoleted by this install are removed first so their
// paths are free for the new payload.
func (c *Controller) installOne(ctx context.Context, op domain.Operation, prep prepared, stagingRoot string, snapID int64) error {
	name := op.Package.Name
	res, err := c.Archive.Extract(ctx, prep.blobPath[name], stagingRoot)
	if err != nil {
		return err
	}

	for _, rep := range op.Replaces {
		if err := c.removePackage(ctx, rep.Name, snapID); err != nil {
			return err
		}
	}

	var oldManifest domain.Manifest
	if op.Previous != nil {
		oldManifest, err = c.installedManifest(ctx, op.Previous.Name)
		if err != nil {
			return err
		}
	}

	manifest := res.Manifest
	if !prep.meta[name] {
		if err := c.placeFiles(ctx, res); err != nil {
			return err
		}
	}

	if op.Previous != nil {
		c.removeStalePaths(oldManifest, manifest)
	}

	if res.InstallScript != "" && !prep.meta[name] {
		if err := c.Hooks.RunInstallScript(ctx, res.InstallScript, op); err != nil {
			return err
		}
		if entry, ok := manifest.Lookup(domain.InstallScriptPath); !ok || !entry.Keep {
			os.Remove(filepath.Join(c.Config.Root, domain.InstallScriptPath))
			manifest = dropEntry(manifest, domain.InstallScriptPath)
		}
	}

	explicit := op.Explicit
	if op.Previous != nil && op.Previous.Explicit {
		explicit = true
	}
	rec := domain.InstalledRecord{
		PackageRecord: op.Package,
		InstallTime:   time.Now(),
		Explicit:      explicit,
	}
	if _, err := c.State.RecordInstall(ctx, rec, manifest); err != nil {
		return err
	}

	entry := domain.HistoryEntry{
		Kind:       domain.HistoryInstall,
		Package:    name,
		NewVersion: op.Package.Version.String(),
		SnapshotID: snapID,
		Details:    historyDetails(op),
	}
	if op.Kind == domain.OpUpgrade {
		entry.Kind = domain.HistoryUpgrade
		if op.Previous != nil {
			entry.OldVersion = op.Previous.Version.String()
		}
	}
	if _, err := c.State.AppendHistory(ctx, entry); err != nil {
		return err
	}

	c.Logger.Info("package installed", "package", name, "version", op.Package.NVR())
	return c.Hooks.RunLegacy(ctx, op)
}

// placeFiles moves the staged payload into the target root in manifest
// order. A regular file already on disk with the manifest digest is left
// untouched.
func (c *Controller) placeFiles(ctx context.Context, res ports.ExtractResult) error {
	for _, entry := range res.Manifest.Entries {
		if err := ctx.Err(); err != nil {
			return zerr.Wrap(err, domain.ErrInterrupted.Error())
		}
		abs := filepath.Join(c.Config.Root, entry.Path)
		staged := filepath.Join(res.StagingDir, entry.Path)

		switch entry.Kind {
		case domain.EntryDir:
			if err := os.MkdirAll(abs, os.FileMode(entry.Mode).Perm()); err != nil {
				return zerr.With(zerr.Wrap(err, domain.ErrArchiveIO.Error()), "path", entry.Path)
			}
		case domain.EntrySymlink:
			if err := os.MkdirAll(filepath.Dir(abs), domain.DirPerm); err != nil {
				return zerr.With(zerr.Wrap(err, domain.ErrArchiveIO.Error()), "path", entry.Path)
			}
			os.Remove(abs)
			if err := os.Symlink(entry.LinkTarget, abs); err != nil {
				return zerr.With(zerr.Wrap(err, domain.ErrArchiveIO.Error()), "path", entry.Path)
			}
		case domain.EntryFile:
			if entry.SHA256 != "" {
				if sum, err := fileSHA256(abs); err == nil && sum == entry.SHA256 {
					continue
				}
			}
			if err := os.MkdirAll(filepath.Dir(abs), domain.DirPerm); err != nil {
				return zerr.With(zerr.Wrap(err, domain.ErrArchiveIO.Error()), "path", entry.Path)
			}
			os.Remove(abs)
			if err := os.Rename(staged, abs); err != nil {
				return zerr.With(zerr.Wrap(err, domain.ErrArchiveIO.Error()), "path", entry.Path)
			}
			if err := os.Chmod(abs, os.FileMode(entry.Mode).Perm()); err != nil {
				return zerr.With(zerr.Wrap(err, domain.ErrArchiveIO.Error()), "path", entry.Path)
			}
		}
	}
	return nil
}

// removeStalePaths deletes previous-version paths the new manifest no
// longer ships. Keep entries and directories survive.
func (c *Controller) removeStalePaths(old, fresh domain.Manifest) {
	current := map[string]bool{}
	for _, e := range fresh.Entries {
		current[e.Path] = true
	}
	for i := len(old.Entries) - 1; i >= 0; i-- {
		e := old.Entries[i]
		if current[e.Path] || e.Keep {
			continue
		}
		abs := filepath.Join(c.Config.Root, e.Path)
		if e.Kind == domain.EntryDir {
			os.Remove(abs)
			continue
		}
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			c.Logger.Warn("removing stale path failed", "path", e.Path, "error", err.Error())
		}
	}
}

// removePackage deletes a package's payload in reverse manifest order and
// drops its database rows. Keep entries stay on disk; non-empty
// directories are left in place.
func (c *Controller) removePackage(ctx context.Context, name string, snapID int64) error {
	rec, ok, err := c.State.Installed(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return zerr.With(domain.ErrNotInstalled, "package", name)
	}
	manifest, err := c.State.Manifest(ctx, rec.ManifestID)
	if err != nil {
		return err
	}

	for i := len(manifest.Entries) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return zerr.Wrap(err, domain.ErrInterrupted.Error())
		}
		entry := manifest.Entries[i]
		if entry.Keep {
			continue
		}
		abs := filepath.Join(c.Config.Root, entry.Path)
		if entry.Kind == domain.EntryDir {
			os.Remove(abs)
			continue
		}
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			c.Logger.Warn("removing path failed", "package", name, "path", entry.Path, "error", err.Error())
		}
	}

	if err := c.State.RemovePackage(ctx, name); err != nil {
		return err
	}
	if _, err := c.State.AppendHistory(ctx, domain.HistoryEntry{
		Kind:       domain.HistoryRemove,
		Package:    name,
		OldVersion: rec.Version.String(),
		SnapshotID: snapID,
	}); err != nil {
		return err
	}
	c.Logger.Info("package removed", "package", name, "version", rec.NVR())
	return nil
}

func dropEntry(m domain.Manifest, path string) domain.Manifest {
	out := domain.Manifest{Entries: make([]domain.ManifestEntry, 0, len(m.Entries))}
	for _, e := range m.Entries {
		if e.Path != path {
			out.Entries = append(out.Entries, e)
		}
	}
	return out
}

func historyDetails(op domain.Operation) []byte {
	return []byte(fmt.Sprintf(`{"package":%q,"version":%q,"release":%d,"arch":%q,"repo":%q,"explicit":%t}`,
		op.Package.Name, op.Package.Version.String(), op.Package.Release,
		op.Package.Arch, op.Package.RepoName, op.Explicit))
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
