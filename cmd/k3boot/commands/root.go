// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing, flag binding, and validation. Command execution is delegated
// to handler functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the k3boot CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "k3boot",
		Short: "Bootstrap a highly-available k3s cluster on fresh servers",
	}

	cmd.AddCommand(Bootstrap())
	cmd.AddCommand(Render())
	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}
