package ports

import (
	"context"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// HookRunner discovers, matches, and executes transaction hooks.
type HookRunner interface {
	// Discover scans the hook directories once and returns the parsed
	// hooks, admin overrides shadowing system hooks by name.
	Discover() ([]domain.Hook, error)

	// Match computes the hooks triggered by the plan for a phase, ordered
	// by their dependencies.
	Match(hooks []domain.Hook, plan domain.Plan, affected []string, when domain.HookWhen) ([]domain.HookMatch, error)

	// Run executes matched hooks sequentially.
	Run(ctx context.Context, matches []domain.HookMatch, when domain.HookWhen) error

	// RunLegacy executes legacy per-package scripts for one committed
	// operation.
	RunLegacy(ctx context.Context, op domain.Operation) error

	// RunInstallScript executes a package's embedded install script after
	// its files are placed.
	RunInstallScript(ctx context.Context, script string, op domain.Operation) error
}
