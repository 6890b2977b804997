package commands_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminositylinux/lpm/cmd/lpm/commands"
	"github.com/luminositylinux/lpm/internal/adapters/config"
	"github.com/luminositylinux/lpm/internal/adapters/logger"
	"github.com/luminositylinux/lpm/internal/adapters/repo"
	"github.com/luminositylinux/lpm/internal/app"
	"github.com/luminositylinux/lpm/internal/core/domain"
)

func provider(t *testing.T) commands.Provider {
	t.Helper()
	log := logger.New()
	log.SetOutput(io.Discard)
	return func(ctx context.Context, s commands.Settings) (*app.App, func(), error) {
		cfg, err := config.NewLoader(log, domain.NewLayout(s.Root)).Load()
		if err != nil {
			return nil, nil, err
		}
		a, err := app.New(ctx, log, cfg)
		if err != nil {
			return nil, nil, err
		}
		return a, func() { _ = a.Close() }, nil
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cli := commands.New(provider(t))
	var out, errOut bytes.Buffer
	cli.SetArgs(args)
	cli.SetOutput(&out, &errOut)
	cli.SetInput(strings.NewReader(stdin))
	err := cli.Execute(context.Background())
	return out.String(), err
}

func stageTree(t *testing.T, name, version string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	meta, err := repo.EncodeRecord(domain.PackageRecord{
		Name:    name,
		Version: domain.MustParseVersion(version),
		Release: 1,
	})
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

func buildArchive(t *testing.T, root, name, version string, files map[string]string) string {
	t.Helper()
	dir := stageTree(t, name, version, files)
	outDir := t.TempDir()
	out, err := execute(t, "", "build", dir, "-o", outDir, "--root", root)
	require.NoError(t, err)
	archive := strings.TrimSpace(out)
	require.FileExists(t, archive)
	return archive
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lpm version")
}

func TestListEmptyRoot(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "", "list", "--root", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestPinsLifecycle(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	_, err := execute(t, "", "pins", "hold", "kernel", "--root", root)
	require.NoError(t, err)
	_, err = execute(t, "", "pins", "prefer", "libc", "~= 2.38", "--root", root)
	require.NoError(t, err)

	out, err := execute(t, "", "pins", "list", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "kernel")
	assert.Contains(t, out, "hold")
	assert.Contains(t, out, "libc")
	assert.Contains(t, out, "~= 2.38")

	_, err = execute(t, "", "pins", "unhold", "kernel", "--root", root)
	require.NoError(t, err)
	out, err = execute(t, "", "pins", "list", "--root", root)
	require.NoError(t, err)
	assert.NotContains(t, out, "kernel")
}

func TestInstallDryRunPrintsPlan(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	archive := buildArchive(t, root, "hello", "2.1", map[string]string{"usr/bin/hello": "hi"})

	out, err := execute(t, "", "install", archive, "--root", root, "--dry-run", "--no-verify")
	require.NoError(t, err)
	assert.Contains(t, out, "install")
	assert.Contains(t, out, "hello")
	assert.NoFileExists(t, filepath.Join(root, "usr/bin/hello"))
}

func TestInstallPromptAborts(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	archive := buildArchive(t, root, "hello", "2.1", map[string]string{"usr/bin/hello": "hi"})

	out, err := execute(t, "n\n", "install", archive, "--root", root, "--no-verify")
	require.NoError(t, err)
	assert.Contains(t, out, "Proceed?")
	assert.Contains(t, out, "aborted")
	assert.NoFileExists(t, filepath.Join(root, "usr/bin/hello"))
}

func TestInstallWithYesAppliesChanges(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	archive := buildArchive(t, root, "hello", "2.1", map[string]string{"usr/bin/hello": "hi"})

	_, err := execute(t, "", "install", archive, "--root", root, "--no-verify", "--yes")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "usr/bin/hello"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	out, err := execute(t, "", "list", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "explicit")

	out, err = execute(t, "", "owner", "/usr/bin/hello", "--root", root)
	require.NoError(t, err)
	assert.Equal(t, "hello", strings.TrimSpace(out))
}

func TestUpgradeNothingToDo(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "", "upgrade", "--root", t.TempDir(), "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to do")
}

func TestVerifyCleanRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	archive := buildArchive(t, root, "hello", "2.1", map[string]string{"usr/bin/hello": "hi"})
	_, err := execute(t, "", "install", archive, "--root", root, "--no-verify", "--yes")
	require.NoError(t, err)

	out, err := execute(t, "", "verify", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "all files verified")
}

func TestHistoryRecordsInstall(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	archive := buildArchive(t, root, "hello", "2.1", map[string]string{"usr/bin/hello": "hi"})
	_, err := execute(t, "", "install", archive, "--root", root, "--no-verify", "--yes")
	require.NoError(t, err)

	out, err := execute(t, "", "history", "--root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "install")
	assert.Contains(t, out, "hello")
}
