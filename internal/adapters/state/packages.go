package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// Installed returns the record for a name, if installed.
func (d *DB) Installed(ctx context.Context, name string) (domain.InstalledRecord, bool, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE name = ?`, name)
	rec, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InstalledRecord{}, false, nil
	}
	if err != nil {
		return domain.InstalledRecord{}, false, err
	}
	return rec, true, nil
}

// AllInstalled returns every installed record ordered by name.
func (d *DB) AllInstalled(ctx context.Context) ([]domain.InstalledRecord, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+packageColumns+` FROM packages ORDER BY name`)
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}
	defer rows.Close()

	var out []domain.InstalledRecord
	for rows.Next() {
		rec, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}
	return out, nil
}

// Manifest returns the manifest rows for a manifest id in insertion order.
func (d *DB) Manifest(ctx context.Context, manifestID int64) (domain.Manifest, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT path, kind, mode, uid, gid, size, sha256, link_target, keep
		 FROM files WHERE manifest_id = ? ORDER BY rowid`, manifestID)
	if err != nil {
		return domain.Manifest{}, zerr.Wrap(err, domain.ErrDB.Error())
	}
	defer rows.Close()

	var m domain.Manifest
	for rows.Next() {
		var e domain.ManifestEntry
		var keep int
		if err := rows.Scan(&e.Path, &e.Kind, &e.Mode, &e.UID, &e.GID, &e.Size, &e.SHA256, &e.LinkTarget, &keep); err != nil {
			return domain.Manifest{}, zerr.Wrap(err, domain.ErrDB.Error())
		}
		e.Keep = keep != 0
		m.Entries = append(m.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return domain.Manifest{}, zerr.Wrap(err, domain.ErrDB.Error())
	}
	return m, nil
}

// RecordInstall upserts a package row and its manifest in one transaction.
func (d *DB) RecordInstall(ctx context.Context, rec domain.InstalledRecord, m domain.Manifest) (domain.InstalledRecord, error) {
	if rec.InstallTime.IsZero() {
		rec.InstallTime = time.Now()
	}
	rec.Origin = domain.OriginInstalled

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		var oldManifest int64
		err := tx.QueryRowContext(ctx, `SELECT manifest_id FROM packages WHERE name = ?`, rec.Name).Scan(&oldManifest)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return zerr.Wrap(err, domain.ErrDB.Error())
		default:
			if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE manifest_id = ?`, oldManifest); err != nil {
				return zerr.Wrap(err, domain.ErrDB.Error())
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM provides_index WHERE name = ?`, rec.Name); err != nil {
			return zerr.Wrap(err, domain.ErrDB.Error())
		}

		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(manifest_id), 0) + 1 FROM packages`).Scan(&rec.ManifestID); err != nil {
			return zerr.Wrap(err, domain.ErrDB.Error())
		}

		explicit := 0
		if rec.Explicit {
			explicit = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO packages
			(name, version, release, arch, summary, homepage, license,
			 requires, provides, conflicts, obsoletes, recommends, suggests,
			 repo, explicit, install_time, manifest_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Name, rec.Version.String(), rec.Release, rec.Arch,
			rec.Summary, rec.Homepage, rec.License,
			depsJSON(rec.Requires), capsJSON(rec.Provides), depsJSON(rec.Conflicts),
			depsJSON(rec.Obsoletes), depsJSON(rec.Recommends), depsJSON(rec.Suggests),
			rec.RepoName, explicit, rec.InstallTime.Unix(), rec.ManifestID)
		if err != nil {
			return zerr.Wrap(err, domain.ErrDB.Error())
		}

		for _, e := range m.Entries {
			keep := 0
			if e.Keep {
				keep = 1
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO files (manifest_id, path, kind, mode, uid, gid, size, sha256, link_target, keep)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.ManifestID, e.Path, string(e.Kind), e.Mode, e.UID, e.GID, e.Size, e.SHA256, e.LinkTarget, keep)
			if err != nil {
				return zerr.Wrap(err, domain.ErrDB.Error())
			}
		}

		for _, cap := range rec.Provides {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO provides_index (capability, name) VALUES (?, ?)`, cap.Name, rec.Name); err != nil {
				return zerr.Wrap(err, domain.ErrDB.Error())
			}
		}
		return nil
	})
	if err != nil {
		return domain.InstalledRecord{}, err
	}
	return rec, nil
}

// RemovePackage deletes a package row, its manifest, and its capabilities.
func (d *DB) RemovePackage(ctx context.Context, name string) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		var manifestID int64
		err := tx.QueryRowContext(ctx, `SELECT manifest_id FROM packages WHERE name = ?`, name).Scan(&manifestID)
		if errors.Is(err, sql.ErrNoRows) {
			return zerr.With(domain.ErrNotInstalled, "package", name)
		}
		if err != nil {
			return zerr.Wrap(err, domain.ErrDB.Error())
		}
		for _, stmt := range []struct {
			query string
			arg   any
		}{
			{`DELETE FROM files WHERE manifest_id = ?`, manifestID},
			{`DELETE FROM provides_index WHERE name = ?`, name},
			{`DELETE FROM packages WHERE name = ?`, name},
		} {
			if _, err := tx.ExecContext(ctx, stmt.query, stmt.arg); err != nil {
				return zerr.Wrap(err, domain.ErrDB.Error())
			}
		}
		return nil
	})
}

// Owner returns the installed package owning a path.
func (d *DB) Owner(ctx context.Context, path string) (string, bool, error) {
	var name string
	err := d.db.QueryRowContext(ctx, `
		SELECT p.name FROM packages p
		JOIN files f ON f.manifest_id = p.manifest_id
		WHERE f.path = ? LIMIT 1`, path).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, zerr.Wrap(err, domain.ErrDB.Error())
	}
	return name, true, nil
}

// ReverseDependencies returns installed packages whose requirements the
// named package satisfies.
func (d *DB) ReverseDependencies(ctx context.Context, name string) ([]string, error) {
	target, ok, err := d.Installed(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, zerr.With(domain.ErrNotInstalled, "package", name)
	}

	all, err := d.AllInstalled(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rec := range all {
		if rec.Name == name {
			continue
		}
		for _, dep := range rec.Requires {
			if target.SatisfiesDependency(dep) {
				out = append(out, rec.Name)
				break
			}
		}
	}
	return out, nil
}

const packageColumns = `name, version, release, arch, summary, homepage, license,
	requires, provides, conflicts, obsoletes, recommends, suggests,
	repo, explicit, install_time, manifest_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (domain.InstalledRecord, error) {
	var (
		rec              domain.InstalledRecord
		version          string
		requires         string
		provides         string
		conflicts        string
		obsoletes        string
		recommends       string
		suggests         string
		explicit         int
		installTimestamp int64
	)
	err := row.Scan(&rec.Name, &version, &rec.Release, &rec.Arch,
		&rec.Summary, &rec.Homepage, &rec.License,
		&requires, &provides, &conflicts, &obsoletes, &recommends, &suggests,
		&rec.RepoName, &explicit, &installTimestamp, &rec.ManifestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InstalledRecord{}, err
		}
		return domain.InstalledRecord{}, zerr.Wrap(err, domain.ErrDB.Error())
	}

	if rec.Version, err = domain.ParseVersion(version); err != nil {
		return domain.InstalledRecord{}, zerr.Wrap(err, domain.ErrDB.Error())
	}
	if rec.Requires, err = parseDeps(requires); err != nil {
		return domain.InstalledRecord{}, err
	}
	if rec.Provides, err = parseCaps(provides); err != nil {
		return domain.InstalledRecord{}, err
	}
	if rec.Conflicts, err = parseDeps(conflicts); err != nil {
		return domain.InstalledRecord{}, err
	}
	if rec.Obsoletes, err = parseDeps(obsoletes); err != nil {
		return domain.InstalledRecord{}, err
	}
	if rec.Recommends, err = parseDeps(recommends); err != nil {
		return domain.InstalledRecord{}, err
	}
	if rec.Suggests, err = parseDeps(suggests); err != nil {
		return domain.InstalledRecord{}, err
	}
	rec.Explicit = explicit != 0
	rec.InstallTime = time.Unix(installTimestamp, 0)
	rec.Origin = domain.OriginInstalled
	return rec, nil
}

func depsJSON(deps []domain.Dependency) string {
	strs := make([]string, len(deps))
	for i, d := range deps {
		strs[i] = d.String()
	}
	data, _ := json.Marshal(strs)
	return string(data)
}

func capsJSON(caps []domain.Capability) string {
	strs := make([]string, len(caps))
	for i, c := range caps {
		strs[i] = c.String()
	}
	data, _ := json.Marshal(strs)
	return string(data)
}

func parseDeps(raw string) ([]domain.Dependency, error) {
	var strs []string
	if err := json.Unmarshal([]byte(raw), &strs); err != nil {
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}
	var out []domain.Dependency
	for _, s := range strs {
		dep, err := domain.ParseDependency(s)
		if err != nil {
			return nil, zerr.Wrap(err, domain.ErrDB.Error())
		}
		out = append(out, dep)
	}
	return out, nil
}

func parseCaps(raw string) ([]domain.Capability, error) {
	var strs []string
	if err := json.Unmarshal([]byte(raw), &strs); err != nil {
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}
	var out []domain.Capability
	for _, s := range strs {
		cap, err := domain.ParseCapability(s)
		if err != nil {
			return nil, zerr.Wrap(err, domain.ErrDB.Error())
		}
		out = append(out, cap)
	}
	return out, nil
}
