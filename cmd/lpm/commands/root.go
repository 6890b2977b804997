// Package commands implements the CLI commands for the lpm package manager.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/luminositylinux/lpm/internal/app"
	"github.com/luminositylinux/lpm/internal/build"
)

// Settings carry the global flags a command was invoked with.
type Settings struct {
	Root    string
	JSON    bool
	Verbose bool
}

// Provider constructs the application for the given settings. The returned
// cleanup releases its resources after the command finishes.
type Provider func(ctx context.Context, s Settings) (*app.App, func(), error)

// CLI represents the command line interface for lpm.
type CLI struct {
	provider Provider
	rootCmd  *cobra.Command

	app     *app.App
	cleanup func()
}

// New creates a new CLI instance with the given application provider.
func New(provider Provider) *CLI {
	rootCmd := &cobra.Command{
		Use:           "lpm",
		Short:         "The Luminosity Linux package manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"{{.Name}} version {{.Version}} (commit: %s, date: %s)\n",
		build.Commit,
		build.Date,
	))
	rootCmd.InitDefaultVersionFlag()
	rootCmd.Flags().Lookup("version").Usage = "Print the application version"

	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	rootCmd.PersistentFlags().String("root", "/", "Target filesystem root to operate on")
	rootCmd.PersistentFlags().Bool("json", false, "Emit machine-readable JSON output")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolP("yes", "y", false, "Assume yes on confirmation prompts")

	c := &CLI{
		provider: provider,
		rootCmd:  rootCmd,
	}

	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		if c.cleanup != nil {
			c.cleanup()
			c.cleanup = nil
			c.app = nil
		}
	}

	rootCmd.AddCommand(c.newInstallCmd())
	rootCmd.AddCommand(c.newRemoveCmd())
	rootCmd.AddCommand(c.newUpgradeCmd())
	rootCmd.AddCommand(c.newAutoremoveCmd())
	rootCmd.AddCommand(c.newRollbackCmd())
	rootCmd.AddCommand(c.newListCmd())
	rootCmd.AddCommand(c.newFilesCmd())
	rootCmd.AddCommand(c.newOwnerCmd())
	rootCmd.AddCommand(c.newVerifyCmd())
	rootCmd.AddCommand(c.newHistoryCmd())
	rootCmd.AddCommand(c.newSnapshotCmd())
	rootCmd.AddCommand(c.newPinsCmd())
	rootCmd.AddCommand(c.newBuildCmd())
	rootCmd.AddCommand(c.newCleanCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// ensureApp builds the application on first use within a command.
func (c *CLI) ensureApp(cmd *cobra.Command) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	root, _ := cmd.Flags().GetString("root")
	jsonOut, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")

	a, cleanup, err := c.provider(cmd.Context(), Settings{Root: root, JSON: jsonOut, Verbose: verbose})
	if err != nil {
		return nil, err
	}
	c.app = a
	c.cleanup = cleanup
	return a, nil
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// SetInput sets the input stream for confirmation prompts. Used for testing.
func (c *CLI) SetInput(in io.Reader) {
	c.rootCmd.SetIn(in)
}
