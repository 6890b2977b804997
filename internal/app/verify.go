package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// Verify checks installed files against their manifests. With no names
// every installed package is verified. Packages run concurrently; results
// are ordered by package then path and list only mismatches.
func (a *App) Verify(ctx context.Context, names []string) ([]domain.VerifyResult, error) {
	if len(names) == 0 {
		all, err := a.state.AllInstalled(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range all {
			names = append(names, rec.Name)
		}
	}

	var mu sync.Mutex
	var results []domain.VerifyResult

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.FetchMaxWorkers)
	for _, name := range names {
		g.Go(func() error {
			found, err := a.verifyPackage(ctx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Package != results[j].Package {
			return results[i].Package < results[j].Package
		}
		return results[i].Path < results[j].Path
	})
	return results, nil
}

func (a *App) verifyPackage(ctx context.Context, name string) ([]domain.VerifyResult, error) {
	rec, ok, err := a.state.Installed(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, zerr.With(domain.ErrNotInstalled, "package", name)
	}
	manifest, err := a.state.Manifest(ctx, rec.ManifestID)
	if err != nil {
		return nil, err
	}

	var out []domain.VerifyResult
	for _, entry := range manifest.Entries {
		if err := ctx.Err(); err != nil {
			return nil, zerr.Wrap(err, domain.ErrInterrupted.Error())
		}
		if status := a.verifyEntry(entry); status != domain.VerifyOK {
			out = append(out, domain.VerifyResult{Package: name, Path: entry.Path, Status: status})
		}
	}
	return out, nil
}

func (a *App) verifyEntry(entry domain.ManifestEntry) domain.VerifyStatus {
	abs := filepath.Join(a.cfg.Root, entry.Path)
	info, err := os.Lstat(abs)
	if os.IsNotExist(err) {
		return domain.VerifyMissing
	}
	if err != nil {
		return domain.VerifyMissing
	}

	switch entry.Kind {
	case domain.EntryDir:
		if !info.IsDir() {
			return domain.VerifyHashMismatch
		}
	case domain.EntrySymlink:
		target, err := os.Readlink(abs)
		if err != nil {
			return domain.VerifyHashMismatch
		}
		sum := sha256.Sum256([]byte(target))
		if hex.EncodeToString(sum[:]) != entry.SHA256 {
			return domain.VerifyHashMismatch
		}
	case domain.EntryFile:
		if !info.Mode().IsRegular() {
			return domain.VerifyHashMismatch
		}
		if info.Size() != entry.Size {
			return domain.VerifySizeMismatch
		}
		sum, err := hashFile(abs)
		if err != nil || sum != entry.SHA256 {
			return domain.VerifyHashMismatch
		}
	}
	return domain.VerifyOK
}

func hashFile(path string) (string, error) {
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
