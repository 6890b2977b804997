package commands

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (c *CLI) newPinsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pins",
		Short: "Manage package holds and version preferences",
	}
	cmd.AddCommand(c.newPinsHoldCmd())
	cmd.AddCommand(c.newPinsUnholdCmd())
	cmd.AddCommand(c.newPinsPreferCmd())
	cmd.AddCommand(c.newPinsListCmd())
	return cmd
}

func (c *CLI) newPinsHoldCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hold <package>...",
		Short: "Freeze packages against upgrades and removal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := a.Hold(cmd.Context(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (c *CLI) newPinsUnholdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unhold <package>...",
		Short: "Release pins on packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			for _, name := range args {
				if err := a.Unhold(cmd.Context(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (c *CLI) newPinsPreferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prefer <package> <constraint>",
		Short: "Steer resolution toward versions matching a constraint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			return a.Prefer(cmd.Context(), args[0], args[1])
		},
	}
}

func (c *CLI) newPinsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the effective pin state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			pins, err := a.Pins(cmd.Context())
			if err != nil {
				return err
			}

			type row struct {
				Package    string `json:"package"`
				Kind       string `json:"kind"`
				Constraint string `json:"constraint,omitempty"`
			}
			var rows []row
			for name := range pins.Hold {
				rows = append(rows, row{Package: name, Kind: "hold"})
			}
			for name, constraint := range pins.Prefer {
				rows = append(rows, row{Package: name, Kind: "prefer", Constraint: constraint.String()})
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Package < rows[j].Package })

			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(out, rows)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, r := range rows {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Package, r.Kind, r.Constraint)
			}
			return tw.Flush()
		},
	}
}
