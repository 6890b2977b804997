package commands

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (c *CLI) newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage filesystem snapshots",
	}
	cmd.AddCommand(c.newSnapshotListCmd())
	cmd.AddCommand(c.newSnapshotDeleteCmd())
	cmd.AddCommand(c.newSnapshotPruneCmd())
	return cmd
}

func (c *CLI) newSnapshotListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			snaps, err := a.Snapshots(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(out, snaps)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, s := range snaps {
				_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d paths\n",
					s.ID, s.Timestamp.Format(time.RFC3339), s.Tag, len(s.Paths))
			}
			return tw.Flush()
		},
	}
}

func (c *CLI) newSnapshotDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a snapshot and its archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid snapshot id %q", args[0])
			}
			return a.DeleteSnapshot(cmd.Context(), id)
		},
	}
}

func (c *CLI) newSnapshotPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots beyond the retention limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			return a.PruneSnapshots(cmd.Context())
		},
	}
}
