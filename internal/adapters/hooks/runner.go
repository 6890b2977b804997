// Package hooks implements transaction hook discovery, matching, and
// execution, including legacy per-package script directories.
package hooks

import (
	"context"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/core/ports"
)

// Runner implements ports.HookRunner against the target root's hook
// directories.
type Runner struct {
	Logger ports.Logger
	Config domain.Config
	Layout domain.Layout
}

// New builds a Runner for the configured target root.
func New(log ports.Logger, cfg domain.Config) *Runner {
	return &Runner{Logger: log, Config: cfg, Layout: domain.NewLayout(cfg.Root)}
}

// Discover scans the hook directories once, admin overrides shadowing
// system hooks of the same name. The result is sorted by name.
func (r *Runner) Discover() ([]domain.Hook, error) {
	byName := map[string]domain.Hook{}
	for _, dir := range r.Layout.HookDirs() {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, zerr.Wrap(err, domain.ErrHookParse.Error())
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".hook") {
				continue
			}
			hook, err := parseHook(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, err
			}
			byName[hook.Name] = hook
		}
	}

	out := make([]domain.Hook, 0, len(byName))
	for _, hook := range byName {
		out = append(out, hook)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Match computes the hooks triggered by the plan for a phase, ordered by
// their Depends relations.
func (r *Runner) Match(hooks []domain.Hook, plan domain.Plan, affected []string, when domain.HookWhen) ([]domain.HookMatch, error) {
	var matched []domain.HookMatch
	for _, hook := range hooks {
		if hook.When != when {
			continue
		}
		targets := matchTargets(hook, plan, affected)
		if len(targets) == 0 {
			continue
		}
		matched = append(matched, domain.HookMatch{Hook: hook, Targets: targets})
	}
	return orderByDepends(matched)
}

func matchTargets(hook domain.Hook, plan domain.Plan, affected []string) []string {
	seen := map[string]bool{}
	var targets []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}

	for _, trigger := range hook.Triggers {
		switch trigger.Type {
		case domain.TriggerPackage:
			for _, op := range plan.Ops {
				if !containsKind(trigger.Operations, op.Kind) {
					continue
				}
				for _, glob := range trigger.Targets {
					if ok, _ := path.Match(glob, op.Package.Name); ok {
						add(op.Package.Name)
						break
					}
				}
			}
		case domain.TriggerPath:
			for _, p := range affected {
				for _, glob := range trigger.Targets {
					if ok, _ := path.Match(glob, p); ok {
						add(p)
						break
					}
				}
			}
		}
	}
	sort.Strings(targets)
	return targets
}

func containsKind(kinds []domain.OpKind, kind domain.OpKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// orderByDepends topologically sorts the matched hooks. Depends naming a
// hook that did not match this transaction is ignored.
func orderByDepends(matched []domain.HookMatch) ([]domain.HookMatch, error) {
	byName := map[string]domain.HookMatch{}
	for _, m := range matched {
		byName[m.Hook.Name] = m
	}

	indeg := map[string]int{}
	dependents := map[string][]string{}
	for _, m := range matched {
		indeg[m.Hook.Name] += 0
		for _, dep := range m.Hook.Depends {
			if _, ok := byName[dep]; !ok {
				continue
			}
			indeg[m.Hook.Name]++
			dependents[dep] = append(dependents[dep], m.Hook.Name)
		}
	}

	var ready []string
	for name, n := range indeg {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	out := make([]domain.HookMatch, 0, len(matched))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		out = append(out, byName[name])
		for _, next := range dependents[name] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
				sort.Strings(ready)
			}
		}
	}
	if len(out) != len(matched) {
		var stuck []string
		for name, n := range indeg {
			if n > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, zerr.With(domain.ErrHookCycle, "hooks", strings.Join(stuck, ", "))
	}
	return out, nil
}

// Run executes matched hooks sequentially. A nonzero exit aborts when the
// hook sets AbortOnFail, otherwise it is logged and execution continues.
func (r *Runner) Run(ctx context.Context, matches []domain.HookMatch, when domain.HookWhen) error {
	for _, m := range matches {
		hook := m.Hook
		r.Logger.Info("running hook", "hook", hook.Name, "when", string(when))

		cmd := exec.CommandContext(ctx, hook.Exec[0], hook.Exec[1:]...)
		cmd.Dir = r.Config.Root
		cmd.Env = append(os.Environ(),
			"LPM_HOOK_NAME="+hook.Name,
			"LPM_HOOK_WHEN="+string(when),
			"LPM_ROOT="+r.Config.Root,
		)
		if hook.NeedsTargets {
			cmd.Env = append(cmd.Env,
				"LPM_TARGETS="+strings.Join(m.Targets, "\n"),
				"LPM_TARGET_COUNT="+strconv.Itoa(len(m.Targets)),
			)
		}

		output, err := cmd.CombinedOutput()
		if len(output) > 0 {
			r.Logger.Debug("hook output", "hook", hook.Name, "output", strings.TrimSpace(string(output)))
		}
		if err != nil {
			if ctx.Err() != nil {
				return zerr.Wrap(ctx.Err(), domain.ErrInterrupted.Error())
			}
			if hook.AbortOnFail {
				return zerr.With(zerr.Wrap(err, domain.ErrHookExec.Error()), "hook", hook.Name)
			}
			r.Logger.Warn("hook failed, continuing", "hook", hook.Name, "error", err.Error())
		}
	}
	return nil
}

// RunLegacy executes legacy per-package scripts for one committed
// operation. Script failures are logged, never fatal.
func (r *Runner) RunLegacy(ctx context.Context, op domain.Operation) error {
	var dirName string
	switch op.Kind {
	case domain.OpInstall:
		dirName = "post_install.d"
	case domain.OpUpgrade:
		dirName = "post_upgrade.d"
	default:
		return nil
	}

	dir := r.Layout.LegacyScriptDir(dirName)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return zerr.Wrap(err, domain.ErrHookExec.Error())
	}

	env := append(os.Environ(),
		"LPM_PKG="+op.Package.Name,
		"LPM_VERSION="+op.Package.Version.String(),
		"LPM_RELEASE="+strconv.Itoa(op.Package.Release),
		"LPM_ROOT="+r.Config.Root,
	)
	if op.Kind == domain.OpUpgrade && op.Previous != nil {
		env = append(env,
			"LPM_PREVIOUS_VERSION="+op.Previous.Version.String(),
			"LPM_PREVIOUS_RELEASE="+strconv.Itoa(op.Previous.Release),
		)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		script := filepath.Join(dir, entry.Name())
		if err := ctx.Err(); err != nil {
			return zerr.Wrap(err, domain.ErrInterrupted.Error())
		}

		cmd := exec.CommandContext(ctx, script)
		cmd.Dir = r.Config.Root
		cmd.Env = env
		output, err := cmd.CombinedOutput()
		if len(output) > 0 {
			r.Logger.Debug("legacy script output", "script", entry.Name(), "output", strings.TrimSpace(string(output)))
		}
		if err != nil {
			if ctx.Err() != nil {
				return zerr.Wrap(ctx.Err(), domain.ErrInterrupted.Error())
			}
			r.Logger.Warn("legacy script failed, continuing", "script", entry.Name(), "package", op.Package.Name, "error", err.Error())
		}
	}
	return nil
}

// RunInstallScript executes a package's embedded install script. The
// script receives the new version as its first argument and, on upgrade,
// the previous version as its second. A nonzero exit aborts the
// transaction.
func (r *Runner) RunInstallScript(ctx context.Context, script string, op domain.Operation) error {
	action := "install"
	args := []string{op.Package.Version.String()}
	if op.Kind == domain.OpUpgrade {
		action = "upgrade"
		if op.Previous != nil {
			args = append(args, op.Previous.Version.String())
		}
	}

	cmd := exec.CommandContext(ctx, script, args...)
	cmd.Dir = r.Config.Root
	cmd.Env = append(os.Environ(),
		"LPM_INSTALL_ACTION="+action,
		"LPM_ROOT="+r.Config.Root,
	)
	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		r.Logger.Debug("install script output", "package", op.Package.Name, "output", strings.TrimSpace(string(output)))
	}
	if err != nil {
		if ctx.Err() != nil {
			return zerr.Wrap(ctx.Err(), domain.ErrInterrupted.Error())
		}
		return zerr.With(zerr.Wrap(err, domain.ErrHookExec.Error()), "package", op.Package.Name)
	}
	return nil
}

var _ ports.HookRunner = (*Runner)(nil)
