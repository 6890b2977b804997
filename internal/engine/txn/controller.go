// Package txn drives the transaction state machine: lock, plan, fetch,
// snapshot, hooks, apply, commit, and rollback on failure.
package txn

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
	"github.com/luminositylinux/lpm/internal/engine/planner"
	"github.com/luminositylinux/lpm/internal/engine/solver"
)

// Request describes the package changes a transaction should perform.
type Request struct {
	Install    []domain.Dependency
	Remove     []string
	Upgrade    []string
	UpgradeAll bool

	// LocalFiles are records peeked from sideloaded archives whose blobs
	// are already in the cache.
	LocalFiles []domain.PackageRecord
}

// Options carry per-transaction flags.
type Options struct {
	DryRun   bool
	Force    bool
	NoVerify bool
	NoWait   bool
}

// Controller coordinates one transaction at a time over the adapter set.
type Controller struct {
	Logger  ports.Logger
	Config  domain.Config
	Tracer  ports.Tracer
	Locker  ports.Locker
	Loader  ports.UniverseLoader
	Session *solver.Session
	Blobs   ports.BlobStore
	Archive ports.Extractor
	State   ports.StateDB
	Snaps   ports.Snapshotter
	Hooks   ports.HookRunner

	Layout domain.Layout
}

// New wires a Controller for the configured target root.
func New(log ports.Logger, cfg domain.Config, tracer ports.Tracer, locker ports.Locker,
	loader ports.UniverseLoader, blobs ports.BlobStore, extractor ports.Extractor,
	state ports.StateDB, snaps ports.Snapshotter, hooks ports.HookRunner) *Controller {
	return &Controller{
		Logger:  log,
		Config:  cfg,
		Tracer:  tracer,
		Locker:  locker,
		Loader:  loader,
		Session: solver.NewSession(),
		Blobs:   blobs,
		Archive: extractor,
		State:   state,
		Snaps:   snaps,
		Hooks:   hooks,
		Layout:  domain.NewLayout(cfg.Root),
	}
}

// Run executes one full transaction and returns the applied plan. With
// DryRun the plan is computed and returned without fetching, snapshotting,
// or touching the filesystem.
func (c *Controller) Run(ctx context.Context, req Request, opts Options) (domain.Plan, error) {
	ctx, span := c.Tracer.Start(ctx, "txn.run")
	var runErr error
	defer func() { span.End(runErr) }()

	if runErr = c.Locker.Acquire(ctx, !opts.NoWait); runErr != nil {
		return domain.Plan{}, runErr
	}
	defer c.Locker.Release()

	plan, err := c.plan(ctx, req, opts)
	if err != nil {
		runErr = err
		return domain.Plan{}, runErr
	}
	if plan.IsEmpty() {
		runErr = domain.ErrNothingToDo
		return plan, runErr
	}
	span.SetAttr("operations", len(plan.Ops))

	if opts.DryRun {
		plan.DryRun = true
		c.Logger.Info("dry run, no changes applied", "plan", plan.Summary())
		return plan, nil
	}

	runErr = c.execute(ctx, plan, opts)
	return plan, runErr
}

// plan loads the universe, resolves the request, and validates the result
// against pins and the protected set.
func (c *Controller) plan(ctx context.Context, req Request, opts Options) (domain.Plan, error) {
	ctx, span := c.Tracer.Start(ctx, "txn.plan")
	var err error
	defer func() { span.End(err) }()

	universe, err := c.Loader.Load(ctx, req.LocalFiles)
	if err != nil {
		return domain.Plan{}, err
	}

	solverReq := solver.Request{
		Install:    req.Install,
		Remove:     req.Remove,
		Upgrade:    req.Upgrade,
		UpgradeAll: req.UpgradeAll,
		Force:      opts.Force,
	}
	for _, rec := range req.LocalFiles {
		dep, depErr := domain.ParseDependency(fmt.Sprintf("%s = %s", rec.Name, rec.Version))
		if depErr != nil {
			err = depErr
			return domain.Plan{}, err
		}
		solverReq.Install = append(solverReq.Install, dep)
	}

	res, err := c.Session.Resolve(universe, c.Config, solverReq)
	if err != nil {
		return domain.Plan{}, err
	}

	p := &planner.Planner{Universe: universe, Logger: c.Logger}
	plan := p.Build(res.Selected, solverReq.Install)

	if err = c.validate(plan, opts); err != nil {
		return domain.Plan{}, err
	}
	return plan, nil
}

// validate re-checks the plan against holds and the protected set. The
// solver already encodes both; this catches plans built from stale
// selections and gives force a single bypass point.
func (c *Controller) validate(plan domain.Plan, opts Options) error {
	if opts.Force {
		return nil
	}
	for _, op := range plan.Ops {
		name := op.Package.Name
		switch op.Kind {
		case domain.OpRemove:
			if c.Config.Protected.Contains(name) {
				return zerr.With(domain.ErrProtectedViolation, "package", name)
			}
			if c.Config.Pins.Held(name) {
				return zerr.With(domain.ErrPinViolation, "package", name)
			}
		case domain.OpUpgrade:
			if c.Config.Pins.Held(name) {
				return zerr.With(domain.ErrPinViolation, "package", name)
			}
		}
	}
	return nil
}

// execute runs the destructive phases. Any failure after the snapshot
// exists triggers a restore and an abort history row.
func (c *Controller) execute(ctx context.Context, plan domain.Plan, opts Options) error {
	prepared, err := c.fetch(ctx, plan, opts)
	if err != nil {
		return err
	}

	affected, err := c.affectedPaths(ctx, plan, prepared)
	if err != nil {
		return err
	}
	if err := c.checkConflicts(ctx, plan, prepared, opts); err != nil {
		return err
	}

	snap, err := c.snapshot(ctx, plan, affected)
	if err != nil {
		return err
	}

	hooks, err := c.Hooks.Discover()
	if err != nil {
		return c.abort(ctx, snap, err)
	}
	pre, err := c.Hooks.Match(hooks, plan, affected, domain.PreTransaction)
	if err != nil {
		return c.abort(ctx, snap, err)
	}
	if err := c.Hooks.Run(ctx, pre, domain.PreTransaction); err != nil {
		return c.abort(ctx, snap, err)
	}

	if err := c.apply(ctx, plan, prepared, snap.ID); err != nil {
		return c.abort(ctx, snap, err)
	}

	post, err := c.Hooks.Match(hooks, plan, affected, domain.PostTransaction)
	if err != nil {
		return c.abort(ctx, snap, err)
	}
	if err := c.Hooks.Run(ctx, post, domain.PostTransaction); err != nil {
		return c.abort(ctx, snap, err)
	}

	if err := c.Snaps.Prune(ctx); err != nil {
		c.Logger.Warn("snapshot prune failed", "error", err.Error())
	}
	c.Logger.Info("transaction committed", "plan", plan.Summary())
	return nil
}

// prepared holds the per-install data gathered before the apply phase.
type prepared struct {
	blobPath map[string]string          // package name -> cached archive
	manifest map[string]domain.Manifest // package name -> peeked manifest
	meta     map[string]bool            // package name -> meta-package
}

// fetch downloads and verifies every blob the plan installs, then peeks
// each archive for its manifest.
func (c *Controller) fetch(ctx context.Context, plan domain.Plan, opts Options) (prepared, error) {
	ctx, span := c.Tracer.Start(ctx, "txn.fetch")
	var err error
	defer func() { span.End(err) }()

	installs := plan.Installs()
	records := make([]domain.PackageRecord, 0, len(installs))
	for _, op := range installs {
		records = append(records, op.Package)
	}
	if err = c.Blobs.Fetch(ctx, records); err != nil {
		return prepared{}, err
	}

	prep := prepared{
		blobPath: map[string]string{},
		manifest: map[string]domain.Manifest{},
		meta:     map[string]bool{},
	}
	for _, op := range installs {
		rec := op.Package
		if !opts.NoVerify {
			if err = c.Blobs.VerifySignature(rec); err != nil {
				return prepared{}, err
			}
		}
		path, ok := c.Blobs.Path(rec.BlobSHA256)
		if !ok {
			err = zerr.With(domain.ErrFetchChecksum, "package", rec.Name)
			return prepared{}, err
		}
		peeked, manifest, peekErr := c.Archive.Peek(ctx, path)
		if peekErr != nil {
			err = peekErr
			return prepared{}, err
		}
		if !peeked.SameIdentity(rec) {
			err = zerr.With(zerr.With(domain.ErrArchiveFormat, "package", rec.Name), "archive", peeked.ID())
			return prepared{}, err
		}
		prep.blobPath[rec.Name] = path
		prep.manifest[rec.Name] = manifest
		prep.meta[rec.Name] = domain.IsMeta(manifest, peeked.Requires)
	}
	return prep, nil
}

// affectedPaths is the union of every manifest the transaction touches:
// new payloads, replaced versions, and removals.
func (c *Controller) affectedPaths(ctx context.Context, plan domain.Plan, prep prepared) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(paths []string) {
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}

	for _, op := range plan.Ops {
		switch op.Kind {
		case domain.OpInstall, domain.OpUpgrade:
			add(prep.manifest[op.Package.Name].Paths())
			if op.Previous != nil {
				m, err := c.installedManifest(ctx, op.Previous.Name)
				if err != nil {
					return nil, err
				}
				add(m.Paths())
			}
			for _, rep := range op.Replaces {
				m, err := c.installedManifest(ctx, rep.Name)
				if err != nil {
					return nil, err
				}
				add(m.Paths())
			}
		case domain.OpRemove:
			m, err := c.installedManifest(ctx, op.Package.Name)
			if err != nil {
				return nil, err
			}
			add(m.Paths())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (c *Controller) installedManifest(ctx context.Context, name string) (domain.Manifest, error) {
	rec, ok, err := c.State.Installed(ctx, name)
	if err != nil {
		return domain.Manifest{}, err
	}
	if !ok {
		return domain.Manifest{}, nil
	}
	return c.State.Manifest(ctx, rec.ManifestID)
}

func (c *Controller) snapshot(ctx context.Context, plan domain.Plan, affected []string) (domain.Snapshot, error) {
	ctx, span := c.Tracer.Start(ctx, "txn.snapshot")
	var err error
	defer func() { span.End(err) }()

	tag := fmt.Sprintf("txn-%d", time.Now().Unix())
	if s := plan.Summary(); s != "no changes" {
		tag = "pre-" + s
	}
	snap, err := c.Snaps.Create(ctx, tag, affected)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// abort restores the pre-transaction snapshot and records the failure.
// Restoration runs on a fresh context so a cancelled transaction still
// rolls back.
func (c *Controller) abort(ctx context.Context, snap domain.Snapshot, cause error) error {
	c.Logger.Warn("transaction failed, rolling back", "snapshot", snap.ID, "error", cause.Error())

	restoreCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := c.Snaps.Restore(restoreCtx, snap.ID); err != nil {
		return zerr.With(zerr.Wrap(cause, domain.ErrRollbackIncomplete.Error()), "snapshot", snap.ID)
	}

	if _, err := c.State.AppendHistory(restoreCtx, domain.HistoryEntry{
		Kind:       domain.HistoryAbort,
		SnapshotID: snap.ID,
		Details:    []byte(fmt.Sprintf(`{"error":%q}`, cause.Error())),
	}); err != nil {
		c.Logger.Warn("recording abort failed", "error", err.Error())
	}
	os.RemoveAll(c.Layout.StagingDir(fmt.Sprintf("%d", snap.ID)))
	return cause
}

// Rollback restores a snapshot outside a normal transaction. id 0 picks
// the newest snapshot.
func (c *Controller) Rollback(ctx context.Context, id int64, opts Options) error {
	ctx, span := c.Tracer.Start(ctx, "txn.rollback")
	var err error
	defer func() { span.End(err) }()

	if err = c.Locker.Acquire(ctx, !opts.NoWait); err != nil {
		return err
	}
	defer c.Locker.Release()

	if id == 0 {
		snaps, listErr := c.Snaps.List(ctx)
		if listErr != nil {
			err = listErr
			return err
		}
		if len(snaps) == 0 {
			err = domain.ErrSnapshotNotFound
			return err
		}
		id = snaps[0].ID
	}

	if err = c.Snaps.Restore(ctx, id); err != nil {
		return err
	}
	if _, histErr := c.State.AppendHistory(ctx, domain.HistoryEntry{
		Kind:       domain.HistoryRollback,
		SnapshotID: id,
	}); histErr != nil {
		c.Logger.Warn("recording rollback failed", "error", histErr.Error())
	}
	c.Logger.Info("snapshot restored", "snapshot", id)
	return nil
}

// Autoremove removes every orphan: non-explicit packages no explicit
// package reaches through its requirements.
func (c *Controller) Autoremove(ctx context.Context, opts Options) (domain.Plan, error) {
	orphans, err := c.Orphans(ctx)
	if err != nil {
		return domain.Plan{}, err
	}
	if len(orphans) == 0 {
		return domain.Plan{}, domain.ErrNothingToDo
	}
	return c.Run(ctx, Request{Remove: orphans}, opts)
}

// Orphans returns the removable non-explicit packages, sorted by name.
func (c *Controller) Orphans(ctx context.Context) ([]string, error) {
	all, err := c.State.AllInstalled(ctx)
	if err != nil {
		return nil, err
	}

	reachable := map[string]bool{}
	var mark func(rec domain.InstalledRecord)
	mark = func(rec domain.InstalledRecord) {
		if reachable[rec.Name] {
			return
		}
		reachable[rec.Name] = true
		for _, dep := range rec.Requires {
			for _, other := range all {
				if !reachable[other.Name] && other.SatisfiesDependency(dep) {
					mark(other)
				}
			}
		}
	}
	for _, rec := range all {
		if rec.Explicit {
			mark(rec)
		}
	}

	var orphans []string
	for _, rec := range all {
		if !reachable[rec.Name] {
			orphans = append(orphans, rec.Name)
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}
