package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <staged-tree>",
		Short: "Pack a staged directory tree into a package archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.ensureApp(cmd)
			if err != nil {
				return err
			}
			outDir, _ := cmd.Flags().GetString("output")
			archive, err := a.Build(cmd.Context(), args[0], outDir)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), archive)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", ".", "Directory the archive is written to")
	return cmd
}
