// Package blob implements the content-addressed archive cache.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

// Store caches package blobs under <cache>/<first-two-hex>/<full-hex>.
type Store struct {
	Logger ports.Logger
	Config domain.Config
	Layout domain.Layout
	Client *http.Client

	mu      sync.Mutex
	perBlob map[string]*sync.Mutex
}

// New creates a Store rooted at the configured cache directory.
func New(log ports.Logger, cfg domain.Config) *Store {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &Store{
		Logger: log,
		Config: cfg,
		Layout: domain.NewLayout(cfg.Root),
		Client: &http.Client{
			Timeout:   cfg.FetchTimeout,
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
		perBlob: map[string]*sync.Mutex{},
	}
}

// Path returns the cache location for a digest and whether the blob exists.
func (s *Store) Path(sha string) (string, bool) {
	p := s.blobPath(sha)
	info, err := os.Stat(p)
	return p, err == nil && info.Mode().IsRegular()
}

// Fetch downloads the blobs of all records concurrently, skipping entries
// already present. The pool size follows FETCH_MAX_WORKERS.
func (s *Store) Fetch(ctx context.Context, records []domain.PackageRecord) error {
	workers := s.Config.FetchMaxWorkers
	if workers < 1 {
		workers = domain.DefaultFetchWorkers()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rec := range records {
		if rec.BlobSHA256 == "" {
			continue
		}
		g.Go(func() error { return s.fetchOne(ctx, rec) })
	}
	return g.Wait()
}

// fetchOne downloads a single blob with retry and atomic placement. The
// per-hash mutex guarantees at most one concurrent download per digest.
func (s *Store) fetchOne(ctx context.Context, rec domain.PackageRecord) error {
	unlock := s.lockBlob(rec.BlobSHA256)
	defer unlock()

	target := s.blobPath(rec.BlobSHA256)
	if _, present := s.Path(rec.BlobSHA256); present {
		s.Logger.Debug("blob cached", "package", rec.ID())
		return nil
	}

	source, err := s.sourceURL(rec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), domain.DirPerm); err != nil {
		return zerr.Wrap(err, domain.ErrFetchNetwork.Error())
	}

	part := target + ".part"
	attempt := func() error {
		if err := s.download(ctx, source, part, rec); err != nil {
			os.Remove(part)
			return err
		}
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), domain.DefaultFetchRetries-1), ctx)

	s.Logger.Info("fetching", "package", rec.ID(), "blob", rec.BlobName)
	if err := backoff.Retry(attempt, policy); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return zerr.With(domain.ErrFetchTimeout, "package", rec.ID())
		}
		if errors.Is(err, domain.ErrFetchChecksum) {
			return err
		}
		return zerr.With(zerr.Wrap(err, domain.ErrFetchNetwork.Error()), "package", rec.ID())
	}
	if err := os.Rename(part, target); err != nil {
		return zerr.Wrap(err, domain.ErrFetchNetwork.Error())
	}
	return nil
}

// download streams one blob into dest, hashing while writing, and validates
// size and digest before returning.
func (s *Store) download(ctx context.Context, source, dest string, rec domain.PackageRecord) error {
	var body io.ReadCloser
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := s.Client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err := fmt.Errorf("unexpected status %s", resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		body = resp.Body
	default:
		f, err := os.Open(strings.TrimPrefix(source, "file://"))
		if err != nil {
			return backoff.Permanent(err)
		}
		body = f
	}
	defer body.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, domain.FilePerm)
	if err != nil {
		return backoff.Permanent(err)
	}
	hasher := sha256.New()
	buf := make([]byte, s.bufferSize())
	written, err := io.CopyBuffer(io.MultiWriter(out, hasher), body, buf)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	if rec.BlobSize > 0 && written != rec.BlobSize {
		return fmt.Errorf("short read: got %d of %d bytes", written, rec.BlobSize)
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != rec.BlobSHA256 {
		return backoff.Permanent(zerr.With(zerr.With(zerr.With(domain.ErrFetchChecksum,
			"package", rec.ID()), "expected", rec.BlobSHA256), "actual", got))
	}
	return nil
}

// Put copies a local archive into the cache and returns its digest.
func (s *Store) Put(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", zerr.Wrap(err, domain.ErrFetchNetwork.Error())
	}
	defer f.Close()

	tmp, err := os.CreateTemp(s.Layout.CacheDir(), ".put-*")
	if err != nil {
		if mkErr := os.MkdirAll(s.Layout.CacheDir(), domain.DirPerm); mkErr != nil {
			return "", zerr.Wrap(mkErr, domain.ErrFetchNetwork.Error())
		}
		if tmp, err = os.CreateTemp(s.Layout.CacheDir(), ".put-*"); err != nil {
			return "", zerr.Wrap(err, domain.ErrFetchNetwork.Error())
		}
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	buf := make([]byte, s.bufferSize())
	_, err = io.CopyBuffer(io.MultiWriter(tmp, hasher), f, buf)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", zerr.Wrap(err, domain.ErrFetchNetwork.Error())
	}

	sha := hex.EncodeToString(hasher.Sum(nil))
	unlock := s.lockBlob(sha)
	defer unlock()

	target := s.blobPath(sha)
	if _, present := s.Path(sha); present {
		return sha, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), domain.DirPerm); err != nil {
		return "", zerr.Wrap(err, domain.ErrFetchNetwork.Error())
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", zerr.Wrap(err, domain.ErrFetchNetwork.Error())
	}
	return sha, nil
}

// Evict removes the entire cache directory.
func (s *Store) Evict() error {
	if err := os.RemoveAll(s.Layout.CacheDir()); err != nil {
		return zerr.Wrap(err, "failed to clean blob cache")
	}
	return os.MkdirAll(s.Layout.CacheDir(), domain.DirPerm)
}

// sourceURL resolves the download location of a record's blob from its
// repository entry.
func (s *Store) sourceURL(rec domain.PackageRecord) (string, error) {
	for _, repo := range s.Config.Repos {
		if repo.Name == rec.RepoName {
			return strings.TrimRight(repo.URL, "/") + "/" + rec.BlobName, nil
		}
	}
	return "", zerr.With(zerr.With(domain.ErrFetchNetwork, "package", rec.ID()), "repo", rec.RepoName)
}

func (s *Store) lockBlob(sha string) func() {
	s.mu.Lock()
	m, ok := s.perBlob[sha]
	if !ok {
		m = &sync.Mutex{}
		s.perBlob[sha] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *Store) blobPath(sha string) string {
	prefix := sha
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(s.Layout.CacheDir(), prefix, sha)
}

func (s *Store) bufferSize() int {
	if s.Config.IOBufferSize >= domain.MinIOBufferSize {
		return s.Config.IOBufferSize
	}
	return domain.DefaultIOBufferSize
}

var _ ports.BlobStore = (*Store)(nil)
