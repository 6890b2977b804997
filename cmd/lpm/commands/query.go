package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *CLI) newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			recs, err := a.List(cmd.Context())
			if err != nil {
				return err
			}
			explicitOnly, _ := cmd.Flags().GetBool("explicit")
			if explicitOnly {
				kept := recs[:0]
				for _, rec := range recs {
					if rec.Explicit {
						kept = append(kept, rec)
					}
				}
				recs = kept
			}

			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				type row struct {
					Name        string    `json:"name"`
					Version     string    `json:"version"`
					Release     int       `json:"release"`
					Arch        string    `json:"arch"`
					Explicit    bool      `json:"explicit"`
					InstallTime time.Time `json:"install_time"`
				}
				rows := make([]row, 0, len(recs))
				for _, rec := range recs {
					rows = append(rows, row{
						Name:        rec.Name,
						Version:     rec.Version.String(),
						Release:     rec.Release,
						Arch:        rec.Arch,
						Explicit:    rec.Explicit,
						InstallTime: rec.InstallTime,
					})
				}
				return writeJSON(out, rows)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, rec := range recs {
				mark := ""
				if rec.Explicit {
					mark = "explicit"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s-%d\t%s\t%s\n",
					rec.Name, rec.Version.String(), rec.Release, rec.Arch, mark)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolP("explicit", "e", false, "Show only explicitly installed packages")
	return cmd
}

func (c *CLI) newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <package>",
		Short: "List the files owned by an installed package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			manifest, err := a.Files(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(out, manifest.Entries)
			}
			for _, entry := range manifest.Entries {
				_, _ = fmt.Fprintln(out, "/"+entry.Path)
			}
			return nil
		},
	}
}

func (c *CLI) newOwnerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "owner <path>",
		Short: "Show which installed package owns a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			owner, err := a.Owner(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(out, map[string]string{"path": args[0], "package": owner})
			}
			_, _ = fmt.Fprintln(out, owner)
			return nil
		},
	}
}

func (c *CLI) newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [package...]",
		Short: "Check installed files against their manifests",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			results, err := a.Verify(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(out, results)
			}
			if len(results) == 0 {
				_, _ = fmt.Fprintln(out, "all files verified")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, r := range results {
				_, _ = fmt.Fprintf(tw, "%s\t/%s\t%s\n", r.Package, r.Path, r.Status)
			}
			return tw.Flush()
		},
	}
}

func (c *CLI) newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [n]",
		Short: "Show the transaction journal, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			var limit int
			if len(args) == 1 {
				limit, err = strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid entry count %q", args[0])
				}
			}
			entries, err := a.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(out, entries)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					e.ID, e.Timestamp.Format(time.RFC3339), e.Kind,
					e.Package, historyVersions(e))
			}
			return tw.Flush()
		},
	}
}

func historyVersions(e domain.HistoryEntry) string {
	switch {
	case e.OldVersion != "" && e.NewVersion != "":
		return e.OldVersion + " -> " + e.NewVersion
	case e.NewVersion != "":
		return e.NewVersion
	default:
		return e.OldVersion
	}
}
