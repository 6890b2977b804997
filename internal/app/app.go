// Package app implements the application layer over the transaction
// engine and the query surface of the state database.
package app

import (
	"context"

	"github.com/luminositylinux/lpm/internal/adapters/archive"
	"github.com/luminositylinux/lpm/internal/adapters/blob"
	"github.com/luminositylinux/lpm/internal/adapters/hooks"
	"github.com/luminositylinux/lpm/internal/adapters/lock"
	"github.com/luminositylinux/lpm/internal/adapters/repo"
	"github.com/luminositylinux/lpm/internal/adapters/snapshot"
	"github.com/luminositylinux/lpm/internal/adapters/state"
	"github.com/luminositylinux/lpm/internal/adapters/telemetry"
	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
	"github.com/luminositylinux/lpm/internal/engine/txn"
)

// App bundles the wired adapter set behind the operations the CLI calls.
type App struct {
	logger    ports.Logger
	cfg       domain.Config
	layout    domain.Layout
	state     ports.StateDB
	blobs     ports.BlobStore
	extractor ports.Extractor
	builder   ports.Builder
	snaps     ports.Snapshotter
	ctrl      *txn.Controller
}

// New opens the state database and wires every adapter for the configured
// target root. Pins stored in the database are merged into the effective
// configuration alongside those from pins.json.
func New(ctx context.Context, log ports.Logger, cfg domain.Config) (*App, error) {
	db, err := state.Open(log, cfg)
	if err != nil {
		return nil, err
	}
	dbPins, err := db.Pins(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	cfg.Pins = mergePins(cfg.Pins, dbPins)

	blobs := blob.New(log, cfg)
	extractor := archive.NewExtractor(log, cfg)
	snaps := snapshot.New(log, cfg, db)
	tracer := telemetry.NewOTelTracer("lpm")

	ctrl := txn.New(log, cfg, tracer, lock.New(log, cfg),
		repo.NewLoader(log, cfg, db), blobs, extractor,
		db, snaps, hooks.New(log, cfg))

	return &App{
		logger:    log,
		cfg:       cfg,
		layout:    domain.NewLayout(cfg.Root),
		state:     db,
		blobs:     blobs,
		extractor: extractor,
		builder:   archive.NewBuilder(log, cfg),
		snaps:     snaps,
		ctrl:      ctrl,
	}, nil
}

func mergePins(file, db domain.Pins) domain.Pins {
	merged := domain.NewPins()
	for _, pins := range []domain.Pins{file, db} {
		for name := range pins.Hold {
			merged.Hold[name] = struct{}{}
		}
		for name, c := range pins.Prefer {
			merged.Prefer[name] = c
		}
	}
	return merged
}

// Config returns the effective configuration the App was wired with.
func (a *App) Config() domain.Config { return a.cfg }

// Close releases the state database handle.
func (a *App) Close() error {
	return a.state.Close()
}

// Clean empties the blob cache.
func (a *App) Clean() error {
	a.logger.Info("cleaning blob cache")
	return a.blobs.Evict()
}
