package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/adapters/repo"
	"github.com/luminositylinux/lpm/internal/core/domain"
)

// Build packs a staged tree into a package archive. The tree must carry
// its record at .lpm/metadata.json; the archive lands in outDir named by
// the package identity.
func (a *App) Build(ctx context.Context, dir, outDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, domain.MetadataPath))
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, domain.ErrArchiveFormat.Error()), "dir", dir)
	}
	// Metadata without an arch is built for the configured host arch.
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err == nil {
		if arch, _ := fields["arch"].(string); arch == "" {
			fields["arch"] = a.cfg.Arch
			if patched, err := json.Marshal(fields); err == nil {
				data = patched
			}
		}
	}
	rec, err := repo.DecodeRecord(data)
	if err != nil {
		return "", err
	}

	out, err := a.builder.Build(ctx, dir, rec, outDir)
	if err != nil {
		return "", err
	}
	a.logger.Info("package built", "package", rec.NVR(), "archive", out)
	return out, nil
}
