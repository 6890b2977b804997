package hooks_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminositylinux/lpm/internal/adapters/hooks"
	"github.com/luminositylinux/lpm/internal/adapters/logger"
	"github.com/luminositylinux/lpm/internal/core/domain"
)

func newRunner(t *testing.T) (*hooks.Runner, domain.Config) {
	t.Helper()
	log := logger.New()
	log.SetOutput(io.Discard)
	cfg := domain.DefaultConfig(t.TempDir())
	return hooks.New(log, cfg), cfg
}

func writeHook(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".hook"), []byte(content), 0o644))
}

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func installOp(name string) domain.Operation {
	return domain.Operation{
		Kind: domain.OpInstall,
		Package: domain.PackageRecord{
			Name:    name,
			Version: domain.MustParseVersion("1.0"),
			Release: 1,
			Arch:    "x86_64",
		},
	}
}

func TestDiscoverParsesAndOverrides(t *testing.T) {
	t.Parallel()

	r, cfg := newRunner(t)
	layout := domain.NewLayout(cfg.Root)

	writeHook(t, layout.SystemHookDir(), "fontcache", `
[Trigger]
Type = Path
Operation = Install
Operation = Upgrade
Target = usr/share/fonts/*

[Action]
Description = Rebuild font cache
When = PostTransaction
Exec = /usr/bin/fc-cache
NeedsTargets = yes
`)
	writeHook(t, layout.SystemHookDir(), "shadowed", `
[Trigger]
Type = Package
Operation = Remove
Target = *

[Action]
When = PreTransaction
Exec = /usr/bin/system-version
`)
	writeHook(t, layout.AdminHookDir(), "shadowed", `
[Trigger]
Type = Package
Operation = Remove
Target = *

[Action]
When = PreTransaction
Exec = /usr/bin/admin-version
AbortOnFail = yes
`)

	found, err := r.Discover()
	require.NoError(t, err)
	require.Len(t, found, 2)

	assert.Equal(t, "fontcache", found[0].Name)
	require.Len(t, found[0].Triggers, 1)
	assert.Equal(t, domain.TriggerPath, found[0].Triggers[0].Type)
	assert.Equal(t, []domain.OpKind{domain.OpInstall, domain.OpUpgrade}, found[0].Triggers[0].Operations)
	assert.Equal(t, domain.PostTransaction, found[0].When)
	assert.True(t, found[0].NeedsTargets)

	assert.Equal(t, "shadowed", found[1].Name)
	assert.Equal(t, []string{"/usr/bin/admin-version"}, found[1].Exec)
	assert.True(t, found[1].AbortOnFail)
}

func TestDiscoverRejectsMalformedHooks(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown key": `
[Trigger]
Type = Package
Operation = Install
Target = *
Color = red

[Action]
When = PostTransaction
Exec = /bin/true
`,
		"duplicate When": `
[Trigger]
Type = Package
Operation = Install
Target = *

[Action]
When = PostTransaction
When = PreTransaction
Exec = /bin/true
`,
		"missing Action": `
[Trigger]
Type = Package
Operation = Install
Target = *
`,
		"bad Operation": `
[Trigger]
Type = Package
Operation = Reinstall
Target = *

[Action]
When = PostTransaction
Exec = /bin/true
`,
		"trigger after Action": `
[Trigger]
Type = Package
Operation = Install
Target = *

[Action]
When = PostTransaction
Exec = /bin/true

[Trigger]
Type = Path
Operation = Install
Target = *
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r, cfg := newRunner(t)
			writeHook(t, domain.NewLayout(cfg.Root).SystemHookDir(), "broken", content)
			_, err := r.Discover()
			require.ErrorIs(t, err, domain.ErrHookParse)
		})
	}
}

func TestMatchFiltersByPhaseOperationAndGlob(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t)
	all := []domain.Hook{
		{
			Name: "pkg-post",
			When: domain.PostTransaction,
			Triggers: []domain.HookTrigger{{
				Type:       domain.TriggerPackage,
				Operations: []domain.OpKind{domain.OpInstall},
				Targets:    []string{"lib*"},
			}},
			Exec: []string{"/bin/true"},
		},
		{
			Name: "path-post",
			When: domain.PostTransaction,
			Triggers: []domain.HookTrigger{{
				Type:       domain.TriggerPath,
				Operations: []domain.OpKind{domain.OpInstall},
				Targets:    []string{"usr/share/fonts/*"},
			}},
			Exec: []string{"/bin/true"},
		},
		{
			Name: "pre-only",
			When: domain.PreTransaction,
			Triggers: []domain.HookTrigger{{
				Type:       domain.TriggerPackage,
				Operations: []domain.OpKind{domain.OpInstall},
				Targets:    []string{"*"},
			}},
			Exec: []string{"/bin/true"},
		},
	}
	plan := domain.Plan{Ops: []domain.Operation{installOp("libz"), installOp("app")}}
	affected := []string{"usr/share/fonts/dejavu.ttf", "usr/bin/app"}

	matches, err := r.Match(all, plan, affected, domain.PostTransaction)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "path-post", matches[0].Hook.Name)
	assert.Equal(t, []string{"usr/share/fonts/dejavu.ttf"}, matches[0].Targets)
	assert.Equal(t, "pkg-post", matches[1].Hook.Name)
	assert.Equal(t, []string{"libz"}, matches[1].Targets)
}

func TestMatchOrdersByDepends(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t)
	trigger := []domain.HookTrigger{{
		Type:       domain.TriggerPackage,
		Operations: []domain.OpKind{domain.OpInstall},
		Targets:    []string{"*"},
	}}
	all := []domain.Hook{
		{Name: "aaa", When: domain.PostTransaction, Triggers: trigger, Depends: []string{"zzz"}, Exec: []string{"/bin/true"}},
		{Name: "zzz", When: domain.PostTransaction, Triggers: trigger, Exec: []string{"/bin/true"}},
		{Name: "mmm", When: domain.PostTransaction, Triggers: trigger, Depends: []string{"absent"}, Exec: []string{"/bin/true"}},
	}
	plan := domain.Plan{Ops: []domain.Operation{installOp("tool")}}

	matches, err := r.Match(all, plan, nil, domain.PostTransaction)
	require.NoError(t, err)
	var order []string
	for _, m := range matches {
		order = append(order, m.Hook.Name)
	}
	assert.Equal(t, []string{"mmm", "zzz", "aaa"}, order)
}

func TestMatchRejectsDependencyCycle(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t)
	trigger := []domain.HookTrigger{{
		Type:       domain.TriggerPackage,
		Operations: []domain.OpKind{domain.OpInstall},
		Targets:    []string{"*"},
	}}
	all := []domain.Hook{
		{Name: "a", When: domain.PostTransaction, Triggers: trigger, Depends: []string{"b"}, Exec: []string{"/bin/true"}},
		{Name: "b", When: domain.PostTransaction, Triggers: trigger, Depends: []string{"a"}, Exec: []string{"/bin/true"}},
	}
	plan := domain.Plan{Ops: []domain.Operation{installOp("tool")}}

	_, err := r.Match(all, plan, nil, domain.PostTransaction)
	require.ErrorIs(t, err, domain.ErrHookCycle)
}

func TestRunExportsEnvironment(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t)
	out := filepath.Join(t.TempDir(), "env.txt")
	script := filepath.Join(t.TempDir(), "hook.sh")
	writeScript(t, script, `printf '%s|%s|%s|%s\n' "$LPM_HOOK_NAME" "$LPM_HOOK_WHEN" "$LPM_TARGET_COUNT" "$LPM_TARGETS" > `+out)

	matches := []domain.HookMatch{{
		Hook: domain.Hook{
			Name:         "envcheck",
			When:         domain.PostTransaction,
			Exec:         []string{script},
			NeedsTargets: true,
		},
		Targets: []string{"libz", "tool"},
	}}
	require.NoError(t, r.Run(context.Background(), matches, domain.PostTransaction))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	got := strings.TrimRight(string(data), "\n")
	assert.Equal(t, "envcheck|PostTransaction|2|libz\ntool", got)
}

func TestRunAbortOnFail(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t)
	failing := domain.Hook{Name: "failing", When: domain.PreTransaction, Exec: []string{"/bin/false"}}

	err := r.Run(context.Background(), []domain.HookMatch{{Hook: failing}}, domain.PreTransaction)
	require.NoError(t, err, "failures without AbortOnFail are logged only")

	failing.AbortOnFail = true
	err = r.Run(context.Background(), []domain.HookMatch{{Hook: failing}}, domain.PreTransaction)
	require.ErrorIs(t, err, domain.ErrHookExec)
}

func TestRunLegacyScripts(t *testing.T) {
	t.Parallel()

	r, cfg := newRunner(t)
	layout := domain.NewLayout(cfg.Root)
	out := filepath.Join(t.TempDir(), "legacy.txt")

	writeScript(t, filepath.Join(layout.LegacyScriptDir("post_upgrade.d"), "10-note"),
		`printf '%s %s-%s from %s-%s\n' "$LPM_PKG" "$LPM_VERSION" "$LPM_RELEASE" "$LPM_PREVIOUS_VERSION" "$LPM_PREVIOUS_RELEASE" > `+out)

	prev := domain.InstalledRecord{PackageRecord: domain.PackageRecord{
		Name:    "tool",
		Version: domain.MustParseVersion("1.0"),
		Release: 2,
		Arch:    "x86_64",
	}}
	op := domain.Operation{
		Kind: domain.OpUpgrade,
		Package: domain.PackageRecord{
			Name:    "tool",
			Version: domain.MustParseVersion("2.0"),
			Release: 1,
			Arch:    "x86_64",
		},
		Previous: &prev,
	}
	require.NoError(t, r.RunLegacy(context.Background(), op))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "tool 2.0-1 from 1.0-2\n", string(data))

	require.NoError(t, r.RunLegacy(context.Background(), domain.Operation{Kind: domain.OpRemove}))
}
