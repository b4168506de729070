package bootstrap

import (
	"context"
	"net"
	"strconv"

	"github.com/k3boot/k3boot/internal/addons/k8sclient"
	"github.com/k3boot/k3boot/internal/sshexec"
)

// ImageInstaller installs the base OS on a raw node and requests a reboot.
// Implemented by install.Installer.
type ImageInstaller interface {
	Install(ctx context.Context, hostname string) error
}

// AddonApplier seeds cluster secrets and applies the one-time add-on
// bundle. Implemented by addons.Applier.
type AddonApplier interface {
	SeedSecrets(ctx context.Context) error
	Apply(ctx context.Context) error
}

// Deps are the injected capabilities of a run. The orchestrator core never
// opens connections itself.
type Deps struct {
	// Comms builds a Communicator for a node endpoint.
	Comms sshexec.Factory

	// Clients builds a cluster API client from kubeconfig bytes.
	Clients k8sclient.Factory

	// NewInstaller wraps a Communicator into an ImageInstaller.
	NewInstaller func(sshexec.Communicator) ImageInstaller

	// NewApplier builds the add-on applier for the initiated cluster.
	NewApplier func(sshexec.Communicator, k8sclient.Client) AddonApplier
}

// endpointHost strips an optional port from a node endpoint.
func endpointHost(endpoint string) string {
	if host, _, err := net.SplitHostPort(endpoint); err == nil {
		return host
	}
	return endpoint
}

// endpointSSHPort returns the endpoint's explicit port, or 22.
func endpointSSHPort(endpoint string) int {
	if _, port, err := net.SplitHostPort(endpoint); err == nil {
		if p, convErr := strconv.Atoi(port); convErr == nil {
			return p
		}
	}
	return 22
}
