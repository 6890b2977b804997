package state_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminositylinux/lpm/internal/adapters/logger"
	"github.com/luminositylinux/lpm/internal/adapters/state"
	"github.com/luminositylinux/lpm/internal/core/domain"
)

func openDB(t *testing.T) *state.DB {
	t.Helper()
	log := logger.New()
	log.SetOutput(io.Discard)
	db, err := state.Open(log, domain.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func installedRecord(t *testing.T, name, version string, deps ...string) domain.InstalledRecord {
	t.Helper()
	rec := domain.InstalledRecord{
		PackageRecord: domain.PackageRecord{
			Name:     name,
			Version:  domain.MustParseVersion(version),
			Release:  1,
			Arch:     "x86_64",
			Summary:  "test package",
			RepoName: "main",
		},
		Explicit: true,
	}
	for _, d := range deps {
		dep, err := domain.ParseDependency(d)
		require.NoError(t, err)
		rec.Requires = append(rec.Requires, dep)
	}
	return rec
}

func testManifest() domain.Manifest {
	return domain.Manifest{Entries: []domain.ManifestEntry{
		{Path: "usr/bin", Kind: domain.EntryDir, Mode: 0o755},
		{Path: "usr/bin/tool", Kind: domain.EntryFile, Mode: 0o755, Size: 42, SHA256: "abc123"},
		{Path: "usr/bin/t", Kind: domain.EntrySymlink, Mode: 0o777, LinkTarget: "tool", SHA256: "def456"},
	}}
}

func TestRecordInstallRoundTrip(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	ctx := context.Background()

	stored, err := db.RecordInstall(ctx, installedRecord(t, "tool", "1.0", "libz >= 1.2"), testManifest())
	require.NoError(t, err)
	assert.Positive(t, stored.ManifestID)
	assert.False(t, stored.InstallTime.IsZero())

	got, ok, err := db.Installed(ctx, "tool")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tool", got.Name)
	assert.Equal(t, "1.0", got.Version.String())
	assert.True(t, got.Explicit)
	assert.Equal(t, domain.OriginInstalled, got.Origin)
	require.Len(t, got.Requires, 1)
	assert.Equal(t, "libz >= 1.2", got.Requires[0].String())

	m, err := db.Manifest(ctx, got.ManifestID)
	require.NoError(t, err)
	assert.Equal(t, testManifest().Paths(), m.Paths())

	_, ok, err = db.Installed(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordInstallReplacesManifest(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	ctx := context.Background()

	_, err := db.RecordInstall(ctx, installedRecord(t, "tool", "1.0"), testManifest())
	require.NoError(t, err)

	newManifest := domain.Manifest{Entries: []domain.ManifestEntry{
		{Path: "usr/bin/tool2", Kind: domain.EntryFile, Mode: 0o755, Size: 7, SHA256: "fff"},
	}}
	stored, err := db.RecordInstall(ctx, installedRecord(t, "tool", "2.0"), newManifest)
	require.NoError(t, err)

	m, err := db.Manifest(ctx, stored.ManifestID)
	require.NoError(t, err)
	assert.Equal(t, []string{"usr/bin/tool2"}, m.Paths())

	owner, ok, err := db.Owner(ctx, "usr/bin/tool")
	require.NoError(t, err)
	assert.False(t, ok, "old manifest rows are gone, owner=%s", owner)

	all, err := db.AllInstalled(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "2.0", all[0].Version.String())
}

func TestOwnerLookup(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	ctx := context.Background()

	_, err := db.RecordInstall(ctx, installedRecord(t, "tool", "1.0"), testManifest())
	require.NoError(t, err)

	owner, ok, err := db.Owner(ctx, "usr/bin/tool")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tool", owner)

	_, ok, err = db.Owner(ctx, "etc/unowned")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemovePackage(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	ctx := context.Background()

	_, err := db.RecordInstall(ctx, installedRecord(t, "tool", "1.0"), testManifest())
	require.NoError(t, err)

	require.NoError(t, db.RemovePackage(ctx, "tool"))
	_, ok, err := db.Installed(ctx, "tool")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = db.Owner(ctx, "usr/bin/tool")
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, db.RemovePackage(ctx, "tool"), domain.ErrNotInstalled)
}

func TestReverseDependencies(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	ctx := context.Background()

	ssl := installedRecord(t, "openssl", "3.0")
	cap, err := domain.ParseCapability("libssl.so")
	require.NoError(t, err)
	ssl.Provides = []domain.Capability{cap}

	_, err = db.RecordInstall(ctx, ssl, domain.Manifest{})
	require.NoError(t, err)
	_, err = db.RecordInstall(ctx, installedRecord(t, "curl", "8.0", "libssl.so"), domain.Manifest{})
	require.NoError(t, err)
	_, err = db.RecordInstall(ctx, installedRecord(t, "app", "1.0", "openssl"), domain.Manifest{})
	require.NoError(t, err)
	_, err = db.RecordInstall(ctx, installedRecord(t, "loner", "1.0"), domain.Manifest{})
	require.NoError(t, err)

	deps, err := db.ReverseDependencies(ctx, "openssl")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"curl", "app"}, deps)

	_, err = db.ReverseDependencies(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrNotInstalled)
}

func TestHistoryJournal(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	ctx := context.Background()

	for i, kind := range []domain.HistoryKind{domain.HistoryInstall, domain.HistoryUpgrade, domain.HistoryRemove} {
		_, err := db.AppendHistory(ctx, domain.HistoryEntry{
			Timestamp:  time.Unix(int64(1000+i), 0),
			Kind:       kind,
			Package:    "tool",
			NewVersion: "1.0",
			Details:    []byte(`{"note":"x"}`),
		})
		require.NoError(t, err)
	}

	all, err := db.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.HistoryRemove, all[0].Kind, "newest first")
	assert.Equal(t, []byte(`{"note":"x"}`), all[0].Details)

	tail, err := db.History(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}

func TestPinsCRUD(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	ctx := context.Background()

	require.NoError(t, db.SetPin(ctx, "glibc", domain.PinHold, domain.Constraint{}))
	c, err := domain.ParseConstraint(">= 1.2")
	require.NoError(t, err)
	require.NoError(t, db.SetPin(ctx, "libz", domain.PinPrefer, c))

	pins, err := db.Pins(ctx)
	require.NoError(t, err)
	assert.True(t, pins.Held("glibc"))
	pref, ok := pins.Preference("libz")
	require.True(t, ok)
	assert.True(t, pref.Satisfies(domain.MustParseVersion("1.3")))

	require.NoError(t, db.DeletePin(ctx, "glibc"))
	pins, err = db.Pins(ctx)
	require.NoError(t, err)
	assert.False(t, pins.Held("glibc"))
}

func TestSnapshotRows(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	ctx := context.Background()

	first, err := db.AddSnapshot(ctx, domain.Snapshot{Tag: "txn-1", Archive: "snapshots/1.tar.zst", Paths: []string{"usr/bin/tool"}})
	require.NoError(t, err)
	second, err := db.AddSnapshot(ctx, domain.Snapshot{Tag: "txn-2", Archive: "snapshots/2.tar.zst"})
	require.NoError(t, err)

	snaps, err := db.Snapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, second, snaps[0].ID)
	assert.Equal(t, []string{"usr/bin/tool"}, snaps[1].Paths)

	require.NoError(t, db.DeleteSnapshot(ctx, first))
	snaps, err = db.Snapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}
