package snapshot_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminositylinux/lpm/internal/adapters/logger"
	"github.com/luminositylinux/lpm/internal/adapters/snapshot"
	"github.com/luminositylinux/lpm/internal/adapters/state"
	"github.com/luminositylinux/lpm/internal/core/domain"
)

func newManager(t *testing.T) (*snapshot.Manager, domain.Config) {
	t.Helper()
	log := logger.New()
	log.SetOutput(io.Discard)
	cfg := domain.DefaultConfig(t.TempDir())
	db, err := state.Open(log, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return snapshot.New(log, cfg, db), cfg
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

func TestCreateAndRestore(t *testing.T) {
	t.Parallel()

	m, cfg := newManager(t)
	ctx := context.Background()

	writeFile(t, cfg.Root, "usr/bin/tool", "old binary")
	writeFile(t, cfg.Root, "etc/tool.conf", "old config")
	require.NoError(t, os.Symlink("tool", filepath.Join(cfg.Root, "usr/bin/t")))

	paths := []string{"usr/bin/tool", "usr/bin/t", "etc/tool.conf", "usr/bin/newfile"}
	snap, err := m.Create(ctx, "txn-1", paths)
	require.NoError(t, err)
	assert.Positive(t, snap.ID)
	assert.Equal(t, "txn-1", snap.Tag)
	assert.ElementsMatch(t, paths, snap.Paths)

	writeFile(t, cfg.Root, "usr/bin/tool", "new binary")
	writeFile(t, cfg.Root, "usr/bin/newfile", "installed by transaction")
	require.NoError(t, os.Remove(filepath.Join(cfg.Root, "etc/tool.conf")))

	require.NoError(t, m.Restore(ctx, snap.ID))

	assert.Equal(t, "old binary", readFile(t, cfg.Root, "usr/bin/tool"))
	assert.Equal(t, "old config", readFile(t, cfg.Root, "etc/tool.conf"))
	target, err := os.Readlink(filepath.Join(cfg.Root, "usr/bin/t"))
	require.NoError(t, err)
	assert.Equal(t, "tool", target)
	_, err = os.Lstat(filepath.Join(cfg.Root, "usr/bin/newfile"))
	assert.True(t, os.IsNotExist(err), "files created after the snapshot are removed")
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	t.Parallel()

	m, _ := newManager(t)
	require.ErrorIs(t, m.Restore(context.Background(), 99), domain.ErrSnapshotNotFound)
}

func TestDeleteRemovesArchiveAndRow(t *testing.T) {
	t.Parallel()

	m, cfg := newManager(t)
	ctx := context.Background()

	writeFile(t, cfg.Root, "usr/bin/tool", "content")
	snap, err := m.Create(ctx, "txn-1", []string{"usr/bin/tool"})
	require.NoError(t, err)

	archive := filepath.Join(domain.NewLayout(cfg.Root).SnapshotDir(), snap.Archive)
	_, err = os.Stat(archive)
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, snap.ID))
	_, err = os.Stat(archive)
	assert.True(t, os.IsNotExist(err))

	snaps, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	require.ErrorIs(t, m.Delete(ctx, snap.ID), domain.ErrSnapshotNotFound)
}

func TestPruneKeepsNewest(t *testing.T) {
	t.Parallel()

	m, cfg := newManager(t)
	m.Config.MaxSnapshots = 2
	ctx := context.Background()

	writeFile(t, cfg.Root, "usr/bin/tool", "content")
	var ids []int64
	for _, tag := range []string{"txn-1", "txn-2", "txn-3", "txn-4"} {
		snap, err := m.Create(ctx, tag, []string{"usr/bin/tool"})
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}

	require.NoError(t, m.Prune(ctx))

	snaps, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, ids[3], snaps[0].ID)
	assert.Equal(t, ids[2], snaps[1].ID)
}

func TestCreateRecordsAbsentPaths(t *testing.T) {
	t.Parallel()

	m, cfg := newManager(t)
	ctx := context.Background()

	snap, err := m.Create(ctx, "pre-install", []string{"usr/bin/ghost"})
	require.NoError(t, err)

	writeFile(t, cfg.Root, "usr/bin/ghost", "new side")
	require.NoError(t, m.Restore(ctx, snap.ID))
	_, err = os.Lstat(filepath.Join(cfg.Root, "usr/bin/ghost"))
	assert.True(t, os.IsNotExist(err))
}
