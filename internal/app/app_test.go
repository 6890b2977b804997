package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminositylinux/lpm/internal/adapters/logger"
	"github.com/luminositylinux/lpm/internal/adapters/repo"
	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/engine/txn"
)

func newApp(t *testing.T) *App {
	t.Helper()
	log := logger.New()
	log.SetOutput(io.Discard)
	cfg := domain.DefaultConfig(t.TempDir())
	a, err := New(context.Background(), log, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func seedPackage(t *testing.T, a *App, name string, files map[string]string) domain.InstalledRecord {
	t.Helper()
	var manifest domain.Manifest
	for rel, content := range files {
		abs := filepath.Join(a.cfg.Root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
		sum, err := hashFile(abs)
		require.NoError(t, err)
		manifest.Entries = append(manifest.Entries, domain.ManifestEntry{
			Path: rel, Kind: domain.EntryFile, Mode: 0o644,
			Size: int64(len(content)), SHA256: sum,
		})
	}
	rec := domain.PackageRecord{
		Name:    name,
		Version: domain.MustParseVersion("1.0"),
		Release: 1,
		Arch:    a.cfg.Arch,
	}
	stored, err := a.state.RecordInstall(context.Background(),
		domain.InstalledRecord{PackageRecord: rec, Explicit: true}, manifest)
	require.NoError(t, err)
	return stored
}

func TestVerifyReportsOnlyMismatches(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	ctx := context.Background()
	seedPackage(t, a, "tool", map[string]string{
		"usr/bin/tool":  "binary",
		"etc/tool.conf": "config",
	})

	require.NoError(t, os.WriteFile(filepath.Join(a.cfg.Root, "etc/tool.conf"), []byte("edited by admin"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(a.cfg.Root, "usr/bin/tool")))

	results, err := a.Verify(ctx, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "etc/tool.conf", results[0].Path)
	assert.Equal(t, domain.VerifySizeMismatch, results[0].Status)
	assert.Equal(t, "usr/bin/tool", results[1].Path)
	assert.Equal(t, domain.VerifyMissing, results[1].Status)
}

func TestVerifyUnknownPackage(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	_, err := a.Verify(context.Background(), []string{"ghost"})
	assert.ErrorIs(t, err, domain.ErrNotInstalled)
}

func TestFilesAndOwner(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	ctx := context.Background()
	seedPackage(t, a, "tool", map[string]string{"usr/bin/tool": "binary"})

	manifest, err := a.Files(ctx, "tool")
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)
	assert.Equal(t, "usr/bin/tool", manifest.Entries[0].Path)

	owner, err := a.Owner(ctx, "/usr/bin/tool")
	require.NoError(t, err)
	assert.Equal(t, "tool", owner)

	_, err = a.Owner(ctx, "/usr/bin/ghost")
	assert.ErrorIs(t, err, domain.ErrPackageNotFound)

	_, err = a.Files(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotInstalled)
}

func TestPinLifecycle(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	ctx := context.Background()

	require.NoError(t, a.Hold(ctx, "kernel"))
	require.NoError(t, a.Prefer(ctx, "libc", "~= 2.38"))

	pins, err := a.Pins(ctx)
	require.NoError(t, err)
	assert.True(t, pins.Held("kernel"))
	c, ok := pins.Preference("libc")
	require.True(t, ok)
	assert.Equal(t, "~= 2.38", c.String())

	require.NoError(t, a.Unhold(ctx, "kernel"))
	pins, err = a.Pins(ctx)
	require.NoError(t, err)
	assert.False(t, pins.Held("kernel"))
}

func stageTree(t *testing.T, rec domain.PackageRecord, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	meta, err := repo.EncodeRecord(rec)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".lpm"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, domain.MetadataPath), meta, 0o644))
	for rel, content := range files {
		abs := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o755))
	}
	return dir
}

func TestBuildRoundTrip(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	ctx := context.Background()
	rec := domain.PackageRecord{
		Name:    "hello",
		Version: domain.MustParseVersion("2.1"),
		Release: 3,
		Arch:    a.cfg.Arch,
	}
	dir := stageTree(t, rec, map[string]string{"usr/bin/hello": "#!/bin/sh\necho hi\n"})

	out, err := a.Build(ctx, dir, t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, out)

	peeked, manifest, err := a.extractor.Peek(ctx, out)
	require.NoError(t, err)
	assert.True(t, peeked.SameIdentity(rec))
	_, ok := manifest.Lookup("usr/bin/hello")
	assert.True(t, ok)
}

func TestInstallSideloadsBuiltArchive(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	ctx := context.Background()
	rec := domain.PackageRecord{
		Name:    "hello",
		Version: domain.MustParseVersion("2.1"),
		Release: 1,
		Arch:    a.cfg.Arch,
	}
	dir := stageTree(t, rec, map[string]string{"usr/bin/hello": "hello binary"})
	out, err := a.Build(ctx, dir, t.TempDir())
	require.NoError(t, err)

	_, err = a.Install(ctx, []string{out}, txn.Options{NoVerify: true})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(a.cfg.Root, "usr/bin/hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello binary", string(data))

	rec2, ok, err := a.state.Installed(ctx, "hello")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rec2.Explicit)
	assert.Equal(t, "2.1", rec2.Version.String())
}

func TestInstallRejectsForeignArch(t *testing.T) {
	t.Parallel()

	a := newApp(t)
	ctx := context.Background()
	rec := domain.PackageRecord{
		Name:    "alien",
		Version: domain.MustParseVersion("1.0"),
		Release: 1,
		Arch:    "sparc64",
	}
	dir := stageTree(t, rec, map[string]string{"usr/bin/alien": "elf"})
	out, err := a.Build(ctx, dir, t.TempDir())
	require.NoError(t, err)

	_, err = a.Install(ctx, []string{out}, txn.Options{NoVerify: true})
	assert.ErrorIs(t, err, domain.ErrArchIncompatible)
}
