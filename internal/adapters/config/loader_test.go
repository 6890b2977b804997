package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminositylinux/lpm/internal/adapters/config"
	"github.com/luminositylinux/lpm/internal/core/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	loader := config.NewLoader(nil, domain.NewLayout(root))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, domain.DefaultMaxSnapshots, cfg.MaxSnapshots)
	assert.Equal(t, domain.DefaultIOBufferSize, cfg.IOBufferSize)
	assert.Empty(t, cfg.Repos)
	assert.False(t, cfg.Pins.Held("anything"))
}

func TestLoadConfFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := domain.NewLayout(root)
	writeFile(t, layout.ConfFile(), `
# comment
ARCH=znver2
MAX_SNAPSHOTS=5
IO_BUFFER_SIZE=1024
FETCH_MAX_WORKERS=8
`)

	cfg, err := config.NewLoader(nil, layout).Load()
	require.NoError(t, err)
	assert.Equal(t, "znver2", cfg.Arch)
	assert.Equal(t, 5, cfg.MaxSnapshots)
	assert.Equal(t, 8, cfg.FetchMaxWorkers)
	assert.Equal(t, domain.MinIOBufferSize, cfg.IOBufferSize, "buffer size is floored")
}

func TestLoadConfRejectsBadValues(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := domain.NewLayout(root)
	writeFile(t, layout.ConfFile(), "MAX_SNAPSHOTS=many\n")

	_, err := config.NewLoader(nil, layout).Load()
	require.ErrorIs(t, err, domain.ErrConfigParse)
}

func TestLoadRepos(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := domain.NewLayout(root)
	writeFile(t, layout.ReposFile(), `[
  {"name": "extra", "url": "https://repo.example/extra", "priority": 20},
  {"name": "core", "url": "https://repo.example/core", "priority": 10},
  {"name": "off", "url": "https://repo.example/off", "priority": 5, "enabled": false}
]`)

	cfg, err := config.NewLoader(nil, layout).Load()
	require.NoError(t, err)
	require.Len(t, cfg.Repos, 3)
	assert.Equal(t, "off", cfg.Repos[0].Name)
	assert.False(t, cfg.Repos[0].Enabled)
	assert.Equal(t, "core", cfg.Repos[1].Name)
	assert.Equal(t, "extra", cfg.Repos[2].Name)
}

func TestLoadReposRejectsMalformed(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := domain.NewLayout(root)
	writeFile(t, layout.ReposFile(), `[{"url": "https://no.name"}]`)

	_, err := config.NewLoader(nil, layout).Load()
	require.ErrorIs(t, err, domain.ErrConfigParse)
}

func TestLoadPinsAndProtected(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	layout := domain.NewLayout(root)
	writeFile(t, layout.PinsFile(), `{"hold": ["bar"], "prefer": {"baz": "~=3.3"}}`)
	writeFile(t, layout.ProtectedFile(), `["glibc", "lpm"]`)

	cfg, err := config.NewLoader(nil, layout).Load()
	require.NoError(t, err)
	assert.True(t, cfg.Pins.Held("bar"))
	c, ok := cfg.Pins.Preference("baz")
	require.True(t, ok)
	assert.Equal(t, domain.OpCompatible, c.Op)
	assert.True(t, cfg.Protected.Contains("glibc"))
	assert.False(t, cfg.Protected.Contains("bash"))
}
