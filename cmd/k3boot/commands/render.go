package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/k3boot/k3boot/cmd/k3boot/handlers"
)

// Render returns the command that prints a node's k3s configuration, or the
// add-on manifest bundle with --addons.
//
// The join token is minted during bootstrap and is shown as a placeholder.
func Render() *cobra.Command {
	var (
		configPath string
		addons     bool
	)

	cmd := &cobra.Command{
		Use:   "render [node-name]",
		Short: "Print the k3s configuration a node would receive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addons {
				return handlers.RenderAddons(cmd.OutOrStdout(), configPath)
			}
			if len(args) != 1 {
				return errors.New("node name required unless --addons is given")
			}
			return handlers.Render(cmd.OutOrStdout(), configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "k3boot.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&addons, "addons", false, "Print the add-on bundle instead of a node config")

	return cmd
}
