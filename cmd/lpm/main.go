// Package main is the entry point for the lpm package manager.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/luminositylinux/lpm/cmd/lpm/commands"
	"github.com/luminositylinux/lpm/internal/adapters/config"
	"github.com/luminositylinux/lpm/internal/adapters/logger"
	"github.com/luminositylinux/lpm/internal/app"
	"github.com/luminositylinux/lpm/internal/core/domain"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	// Once the first signal cancels ctx, restore default handling so a
	// second signal terminates the process immediately.
	go func() {
		<-ctx.Done()
		cancel()
	}()

	log := logger.New()
	log.SetOutput(stderr)

	cli := commands.New(func(ctx context.Context, s commands.Settings) (*app.App, func(), error) {
		log.SetJSON(s.JSON)
		log.SetVerbose(s.Verbose)
		cfg, err := config.NewLoader(log, domain.NewLayout(s.Root)).Load()
		if err != nil {
			return nil, nil, err
		}
		a, err := app.New(ctx, log, cfg)
		if err != nil {
			return nil, nil, err
		}
		return a, func() { _ = a.Close() }, nil
	})
	cli.SetArgs(args)
	cli.SetOutput(stdout, stderr)

	if err := cli.Execute(ctx); err != nil {
		log.Error("command failed", err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps well-known failures onto the documented exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInterrupted), errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, domain.ErrResolveUnsat):
		return 2
	case errors.Is(err, domain.ErrSignatureInvalid),
		errors.Is(err, domain.ErrSignatureMissing),
		errors.Is(err, domain.ErrNoTrustedKeys):
		return 3
	case errors.Is(err, domain.ErrProtectedViolation),
		errors.Is(err, domain.ErrPinViolation):
		return 4
	case errors.Is(err, domain.ErrLockHeld):
		return 5
	}
	return 1
}
