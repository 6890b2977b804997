package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/luminositylinux/lpm/internal/core/domain"
	"github.com/luminositylinux/lpm/internal/engine/txn"
)

func addTxnFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", false, "Resolve and print the plan without touching the system")
	cmd.Flags().BoolP("force", "f", false, "Override holds, protections, and file conflicts")
	cmd.Flags().Bool("no-verify", false, "Skip signature verification")
	cmd.Flags().Bool("no-wait", false, "Fail immediately if another transaction holds the lock")
}

func txnOptions(cmd *cobra.Command) txn.Options {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	force, _ := cmd.Flags().GetBool("force")
	noVerify, _ := cmd.Flags().GetBool("no-verify")
	noWait, _ := cmd.Flags().GetBool("no-wait")
	return txn.Options{DryRun: dryRun, Force: force, NoVerify: noVerify, NoWait: noWait}
}

// transact previews the plan, asks for confirmation unless --yes or
// --dry-run, and then runs the transaction for real.
func (c *CLI) transact(cmd *cobra.Command, run func(context.Context, txn.Options) (domain.Plan, error)) error {
	opts := txnOptions(cmd)
	out := cmd.OutOrStdout()

	if opts.DryRun {
		plan, err := run(cmd.Context(), opts)
		if errors.Is(err, domain.ErrNothingToDo) {
			_, _ = fmt.Fprintln(out, "nothing to do")
			return nil
		}
		if err != nil {
			return err
		}
		return c.printPlan(cmd, plan)
	}

	preview := opts
	preview.DryRun = true
	plan, err := run(cmd.Context(), preview)
	if errors.Is(err, domain.ErrNothingToDo) {
		_, _ = fmt.Fprintln(out, "nothing to do")
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.printPlan(cmd, plan); err != nil {
		return err
	}

	yes, _ := cmd.Flags().GetBool("yes")
	if !yes && !confirm(cmd.InOrStdin(), out) {
		_, _ = fmt.Fprintln(out, "aborted")
		return nil
	}

	_, err = run(cmd.Context(), opts)
	if errors.Is(err, domain.ErrNothingToDo) {
		_, _ = fmt.Fprintln(out, "nothing to do")
		return nil
	}
	return err
}

func confirm(in io.Reader, out io.Writer) bool {
	_, _ = fmt.Fprint(out, "Proceed? [y/N] ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func (c *CLI) printPlan(cmd *cobra.Command, plan domain.Plan) error {
	out := cmd.OutOrStdout()
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return writeJSON(out, planView(plan))
	}
	for _, op := range plan.Ops {
		switch op.Kind {
		case domain.OpUpgrade:
			_, _ = fmt.Fprintf(out, "upgrade  %s %s -> %s\n",
				op.Package.Name, op.Previous.NVR(), op.Package.NVR())
		case domain.OpRemove:
			_, _ = fmt.Fprintf(out, "remove   %s\n", op.Package.NVR())
		default:
			_, _ = fmt.Fprintf(out, "install  %s\n", op.Package.NVR())
		}
		for _, old := range op.Replaces {
			_, _ = fmt.Fprintf(out, "  replaces %s\n", old.NVR())
		}
	}
	_, _ = fmt.Fprintf(out, "%d install, %d remove\n", len(plan.Installs()), len(plan.Removes()))
	return nil
}

type planOpView struct {
	Kind     string   `json:"kind"`
	Package  string   `json:"package"`
	Version  string   `json:"version"`
	Previous string   `json:"previous,omitempty"`
	Replaces []string `json:"replaces,omitempty"`
}

func planView(plan domain.Plan) []planOpView {
	views := make([]planOpView, 0, len(plan.Ops))
	for _, op := range plan.Ops {
		v := planOpView{
			Kind:    string(op.Kind),
			Package: op.Package.Name,
			Version: op.Package.NVR(),
		}
		if op.Previous != nil {
			v.Previous = op.Previous.NVR()
		}
		for _, old := range op.Replaces {
			v.Replaces = append(v.Replaces, old.NVR())
		}
		views = append(views, v)
	}
	return views
}

func (c *CLI) newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <package|archive>...",
		Short: "Install packages from repositories or local archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			return c.transact(cmd, func(ctx context.Context, opts txn.Options) (domain.Plan, error) {
				return a.Install(ctx, args, opts)
			})
		},
	}
	addTxnFlags(cmd)
	return cmd
}

func (c *CLI) newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <package>...",
		Short: "Uninstall packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			return c.transact(cmd, func(ctx context.Context, opts txn.Options) (domain.Plan, error) {
				return a.Remove(ctx, args, opts)
			})
		},
	}
	addTxnFlags(cmd)
	return cmd
}

func (c *CLI) newUpgradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade [package...]",
		Short: "Upgrade packages, everything upgradable when none are named",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			return c.transact(cmd, func(ctx context.Context, opts txn.Options) (domain.Plan, error) {
				return a.Upgrade(ctx, args, opts)
			})
		},
	}
	addTxnFlags(cmd)
	return cmd
}

func (c *CLI) newAutoremoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoremove",
		Short: "Uninstall orphaned dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			return c.transact(cmd, func(ctx context.Context, opts txn.Options) (domain.Plan, error) {
				return a.Autoremove(ctx, opts)
			})
		},
	}
	addTxnFlags(cmd)
	return cmd
}

func (c *CLI) newRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback [snapshot-id]",
		Short: "Restore a snapshot, the newest one when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			var id int64
			if len(args) == 1 {
				id, err = strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid snapshot id %q", args[0])
				}
			}
			if err := a.Rollback(cmd.Context(), id, txnOptions(cmd)); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "rollback complete")
			return nil
		},
	}
	addTxnFlags(cmd)
	return cmd
}
