package state

import (
	"context"
	"encoding/json"
	"time"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// AppendHistory writes one journal row and returns its id.
func (d *DB) AppendHistory(ctx context.Context, e domain.HistoryEntry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO history (ts, kind, name, old_version, new_version, snapshot_id, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.Unix(), string(e.Kind), e.Package, e.OldVersion, e.NewVersion, e.SnapshotID, string(e.Details))
	if err != nil {
		return 0, zerr.Wrap(err, domain.ErrDB.Error())
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, zerr.Wrap(err, domain.ErrDB.Error())
	}
	return id, nil
}

// History returns the newest n rows, newest first. n <= 0 returns all rows.
func (d *DB) History(ctx context.Context, n int) ([]domain.HistoryEntry, error) {
	query := `SELECT id, ts, kind, name, old_version, new_version, snapshot_id, details
		FROM history ORDER BY id DESC`
	var args []any
	if n > 0 {
		query += ` LIMIT ?`
		args = append(args, n)
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			e       domain.HistoryEntry
			ts      int64
			details string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &e.Package, &e.OldVersion, &e.NewVersion, &e.SnapshotID, &details); err != nil {
			return nil, zerr.Wrap(err, domain.ErrDB.Error())
		}
		e.Timestamp = time.Unix(ts, 0)
		e.Details = []byte(details)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}
	return out, nil
}

// Pins returns the stored pin state.
func (d *DB) Pins(ctx context.Context) (domain.Pins, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name, kind, "constraint" FROM pins`)
	if err != nil {
		return domain.Pins{}, zerr.Wrap(err, domain.ErrDB.Error())
	}
	defer rows.Close()

	pins := domain.NewPins()
	for rows.Next() {
		var name, kind, expr string
		if err := rows.Scan(&name, &kind, &expr); err != nil {
			return domain.Pins{}, zerr.Wrap(err, domain.ErrDB.Error())
		}
		switch domain.PinKind(kind) {
		case domain.PinHold:
			pins.Hold[name] = struct{}{}
		case domain.PinPrefer:
			c, err := domain.ParseConstraint(expr)
			if err != nil {
				return domain.Pins{}, zerr.Wrap(err, domain.ErrDB.Error())
			}
			pins.Prefer[name] = c
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Pins{}, zerr.Wrap(err, domain.ErrDB.Error())
	}
	return pins, nil
}

// SetPin upserts a pin row.
func (d *DB) SetPin(ctx context.Context, name string, kind domain.PinKind, c domain.Constraint) error {
	expr := ""
	if kind == domain.PinPrefer {
		expr = c.String()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pins (name, kind, "constraint") VALUES (?, ?, ?)`,
		name, string(kind), expr)
	if err != nil {
		return zerr.Wrap(err, domain.ErrDB.Error())
	}
	return nil
}

// DeletePin removes a pin row.
func (d *DB) DeletePin(ctx context.Context, name string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM pins WHERE name = ?`, name); err != nil {
		return zerr.Wrap(err, domain.ErrDB.Error())
	}
	return nil
}

// AddSnapshot records a snapshot row and returns its id.
func (d *DB) AddSnapshot(ctx context.Context, s domain.Snapshot) (int64, error) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	paths, err := json.Marshal(s.Paths)
	if err != nil {
		return 0, zerr.Wrap(err, domain.ErrDB.Error())
	}
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO snapshots (ts, tag, archive, paths) VALUES (?, ?, ?, ?)`,
		s.Timestamp.Unix(), s.Tag, s.Archive, string(paths))
	if err != nil {
		return 0, zerr.Wrap(err, domain.ErrDB.Error())
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, zerr.Wrap(err, domain.ErrDB.Error())
	}
	return id, nil
}

// DeleteSnapshot removes a snapshot row.
func (d *DB) DeleteSnapshot(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return zerr.Wrap(err, domain.ErrDB.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return zerr.Wrap(err, domain.ErrDB.Error())
	}
	if n == 0 {
		return zerr.With(domain.ErrSnapshotNotFound, "id", id)
	}
	return nil
}

// Snapshots returns all snapshot rows, newest first.
func (d *DB) Snapshots(ctx context.Context) ([]domain.Snapshot, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, ts, tag, archive, paths FROM snapshots ORDER BY id DESC`)
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		var (
			s     domain.Snapshot
			ts    int64
			paths string
		)
		if err := rows.Scan(&s.ID, &ts, &s.Tag, &s.Archive, &paths); err != nil {
			return nil, zerr.Wrap(err, domain.ErrDB.Error())
		}
		s.Timestamp = time.Unix(ts, 0)
		if err := json.Unmarshal([]byte(paths), &s.Paths); err != nil {
			return nil, zerr.Wrap(err, domain.ErrDB.Error())
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, zerr.Wrap(err, domain.ErrDB.Error())
	}
	return out, nil
}
