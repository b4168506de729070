package commands

import (
	"github.com/spf13/cobra"

	"github.com/k3boot/k3boot/cmd/k3boot/handlers"
)

// Bootstrap returns the command that provisions the whole cluster.
//
// Optional flags:
//
//	--config, -c:        Path to cluster configuration YAML file (default: k3boot.yaml)
//	--ssh-key, -i:       Path to the SSH private key used to reach the nodes
//	--kubeconfig-out, -o: Where to write the admin kubeconfig
//
// Environment variables:
//
//	HCLOUD_TOKEN: Hetzner Cloud API token (enables address discovery)
func Bootstrap() *cobra.Command {
	var opts handlers.BootstrapOptions

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Install, initiate, and join all declared nodes",
		Long: `Turn the declared set of fresh servers into a running k3s cluster.

The first control plane node initiates the cluster and publishes the join
token; every other node waits for that token and then joins. Node failures
are isolated, but a failed initiation aborts the run.

Examples:
  # Bootstrap using k3boot.yaml in the current directory
  k3boot bootstrap -i ~/.ssh/id_ed25519

  # Bootstrap a specific cluster and keep the kubeconfig
  k3boot bootstrap -c production.yaml -i ~/.ssh/id_ed25519 -o prod-kubeconfig`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Bootstrap(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "k3boot.yaml", "Path to configuration file")
	cmd.Flags().StringVarP(&opts.SSHKeyPath, "ssh-key", "i", "", "Path to SSH private key")
	cmd.Flags().StringVarP(&opts.KubeconfigOut, "kubeconfig-out", "o", "", "Write the admin kubeconfig to this path")
	_ = cmd.MarkFlagRequired("ssh-key")

	return cmd
}
