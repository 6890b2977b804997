package blob_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminositylinux/lpm/internal/adapters/blob"
	"github.com/luminositylinux/lpm/internal/adapters/logger"
	"github.com/luminositylinux/lpm/internal/core/domain"
)

func newStore(t *testing.T, cfg domain.Config) *blob.Store {
	t.Helper()
	log := logger.New()
	log.SetOutput(io.Discard)
	return blob.New(log, cfg)
}

func testRecord(repoName, blobName string, payload []byte) domain.PackageRecord {
	sum := sha256.Sum256(payload)
	return domain.PackageRecord{
		Name:       "pkg",
		Version:    domain.MustParseVersion("1.0"),
		Release:    1,
		Arch:       "x86_64",
		BlobName:   blobName,
		BlobSize:   int64(len(payload)),
		BlobSHA256: hex.EncodeToString(sum[:]),
		RepoName:   repoName,
	}
}

func TestFetchDownloadsAndCaches(t *testing.T) {
	t.Parallel()

	payload := []byte("zstd archive bytes")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	cfg := domain.DefaultConfig(t.TempDir())
	cfg.Repos = []domain.Repo{{Name: "main", URL: srv.URL, Enabled: true}}
	s := newStore(t, cfg)
	rec := testRecord("main", "pkg-1.0-1.x86_64.tar.zst", payload)

	require.NoError(t, s.Fetch(context.Background(), []domain.PackageRecord{rec}))

	path, present := s.Path(rec.BlobSHA256)
	require.True(t, present)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, s.Fetch(context.Background(), []domain.PackageRecord{rec}))
	assert.Equal(t, int32(1), hits.Load(), "cached blob is not downloaded again")
}

func TestFetchChecksumMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered content"))
	}))
	defer srv.Close()

	cfg := domain.DefaultConfig(t.TempDir())
	cfg.Repos = []domain.Repo{{Name: "main", URL: srv.URL, Enabled: true}}
	s := newStore(t, cfg)
	rec := testRecord("main", "pkg.tar.zst", []byte("expected content"))

	err := s.Fetch(context.Background(), []domain.PackageRecord{rec})
	require.ErrorIs(t, err, domain.ErrFetchChecksum)

	_, present := s.Path(rec.BlobSHA256)
	assert.False(t, present)
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	payload := []byte("eventually served")
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	cfg := domain.DefaultConfig(t.TempDir())
	cfg.Repos = []domain.Repo{{Name: "main", URL: srv.URL, Enabled: true}}
	s := newStore(t, cfg)
	rec := testRecord("main", "pkg.tar.zst", payload)

	require.NoError(t, s.Fetch(context.Background(), []domain.PackageRecord{rec}))
	assert.GreaterOrEqual(t, hits.Load(), int32(3))
}

func TestFetchNotFoundFailsFast(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := domain.DefaultConfig(t.TempDir())
	cfg.Repos = []domain.Repo{{Name: "main", URL: srv.URL, Enabled: true}}
	s := newStore(t, cfg)
	rec := testRecord("main", "absent.tar.zst", []byte("whatever"))

	err := s.Fetch(context.Background(), []domain.PackageRecord{rec})
	require.ErrorIs(t, err, domain.ErrFetchNetwork)
	assert.Equal(t, int32(1), hits.Load(), "4xx responses are not retried")
}

func TestFetchFromLocalRepository(t *testing.T) {
	t.Parallel()

	payload := []byte("local repo blob")
	repoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "pkg.tar.zst"), payload, 0o644))

	cfg := domain.DefaultConfig(t.TempDir())
	cfg.Repos = []domain.Repo{{Name: "local", URL: repoDir, Enabled: true}}
	s := newStore(t, cfg)
	rec := testRecord("local", "pkg.tar.zst", payload)

	require.NoError(t, s.Fetch(context.Background(), []domain.PackageRecord{rec}))
	_, present := s.Path(rec.BlobSHA256)
	assert.True(t, present)
}

func TestPutStoresUnderDigest(t *testing.T) {
	t.Parallel()

	payload := []byte("sideloaded archive")
	src := filepath.Join(t.TempDir(), "pkg.tar.zst")
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	s := newStore(t, domain.DefaultConfig(t.TempDir()))
	sha, err := s.Put(context.Background(), src)
	require.NoError(t, err)

	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), sha)
	path, present := s.Path(sha)
	require.True(t, present)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestEvictClearsCache(t *testing.T) {
	t.Parallel()

	payload := []byte("to be evicted")
	src := filepath.Join(t.TempDir(), "pkg.tar.zst")
	require.NoError(t, os.WriteFile(src, payload, 0o644))

	s := newStore(t, domain.DefaultConfig(t.TempDir()))
	sha, err := s.Put(context.Background(), src)
	require.NoError(t, err)

	require.NoError(t, s.Evict())
	_, present := s.Path(sha)
	assert.False(t, present)
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	payload := []byte("signed archive payload")
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	root := t.TempDir()
	cfg := domain.DefaultConfig(root)
	s := newStore(t, cfg)

	src := filepath.Join(t.TempDir(), "pkg.tar.zst")
	require.NoError(t, os.WriteFile(src, payload, 0o644))
	sha, err := s.Put(context.Background(), src)
	require.NoError(t, err)

	trustDir := domain.NewLayout(root).TrustDir()
	require.NoError(t, os.MkdirAll(trustDir, 0o755))
	keyFile := filepath.Join(trustDir, "builder.pub")
	require.NoError(t, os.WriteFile(keyFile, []byte(hex.EncodeToString(pub)), 0o644))

	rec := domain.PackageRecord{
		Name:       "pkg",
		Version:    domain.MustParseVersion("1.0"),
		Release:    1,
		Arch:       "x86_64",
		BlobSHA256: sha,
		Signature:  base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload)),
	}

	t.Run("valid signature passes", func(t *testing.T) {
		assert.NoError(t, s.VerifySignature(rec))
	})

	t.Run("forged signature fails", func(t *testing.T) {
		forged := rec
		forged.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, []byte("other payload")))
		assert.ErrorIs(t, s.VerifySignature(forged), domain.ErrSignatureInvalid)
	})

	t.Run("absent signature fails", func(t *testing.T) {
		unsigned := rec
		unsigned.Signature = ""
		assert.ErrorIs(t, s.VerifySignature(unsigned), domain.ErrSignatureMissing)
	})

	t.Run("no trusted keys fails", func(t *testing.T) {
		require.NoError(t, os.Remove(keyFile))
		defer func() {
			require.NoError(t, os.WriteFile(keyFile, []byte(hex.EncodeToString(pub)), 0o644))
		}()
		assert.ErrorIs(t, s.VerifySignature(rec), domain.ErrNoTrustedKeys)
	})
}
