// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command
// definitions in the commands package. Handlers are framework-agnostic and
// can be tested independently of the CLI framework.
package handlers

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/k3boot/k3boot/internal/addons"
	"github.com/k3boot/k3boot/internal/addons/k8sclient"
	"github.com/k3boot/k3boot/internal/bootstrap"
	"github.com/k3boot/k3boot/internal/config"
	"github.com/k3boot/k3boot/internal/install"
	"github.com/k3boot/k3boot/internal/inventory"
	"github.com/k3boot/k3boot/internal/report"
	"github.com/k3boot/k3boot/internal/sshexec"
)

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// loadConfigFile loads the cluster configuration.
	loadConfigFile = config.LoadFile

	// loadTimeouts reads the timeout overrides from the environment.
	loadTimeouts = config.LoadTimeouts

	// newSource picks the address resolver for the configuration.
	newSource = inventory.ForConfig

	// runBootstrap executes the orchestrated run.
	runBootstrap = func(ctx context.Context, cfg *config.Config, timeouts *config.Timeouts, deps bootstrap.Deps) (*bootstrap.Result, error) {
		return bootstrap.New(cfg, timeouts, deps).Run(ctx)
	}

	// readFile and writeFile wrap the filesystem (for testing injection).
	readFile  = os.ReadFile
	writeFile = os.WriteFile

	// stdout is where the run report goes.
	stdout io.Writer = os.Stdout
)

// BootstrapOptions carries the bootstrap command's flag values.
type BootstrapOptions struct {
	ConfigPath    string
	SSHKeyPath    string
	KubeconfigOut string
}

// Bootstrap provisions the declared cluster end to end.
//
// The workflow:
//  1. Load and validate the cluster configuration
//  2. Resolve node addresses, from the cloud API when a token is present
//  3. Run the orchestrator: install, initiate, join, apply add-ons
//  4. Write the admin kubeconfig if requested
//  5. Print the per-node report and derive the exit status
func Bootstrap(ctx context.Context, opts BootstrapOptions) error {
	cfg, err := loadConfigFile(opts.ConfigPath)
	if err != nil {
		return err
	}

	if err := newSource(cfg).Resolve(ctx, cfg); err != nil {
		return fmt.Errorf("failed to resolve node addresses: %w", err)
	}

	privateKey, err := readFile(opts.SSHKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read SSH key: %w", err)
	}

	timeouts := loadTimeouts()

	deps := bootstrap.Deps{
		Comms:   sshexec.NewFactory(cfg.SSHUser, privateKey, timeouts.SSHDial),
		Clients: k8sclient.NewFromKubeconfig,
		NewInstaller: func(comm sshexec.Communicator) bootstrap.ImageInstaller {
			return install.New(comm)
		},
		NewApplier: func(comm sshexec.Communicator, client k8sclient.Client) bootstrap.AddonApplier {
			return addons.New(comm, client, cfg)
		},
	}

	log.Printf("Bootstrapping cluster %s: %d control planes, %d agents",
		cfg.ClusterName, cfg.ControlPlaneCount(), cfg.AgentCount())

	result, err := runBootstrap(ctx, cfg, timeouts, deps)
	if err != nil {
		return err
	}

	if opts.KubeconfigOut != "" && len(result.Kubeconfig) > 0 {
		if err := writeFile(opts.KubeconfigOut, result.Kubeconfig, 0o600); err != nil {
			return fmt.Errorf("failed to write kubeconfig: %w", err)
		}
		log.Printf("Kubeconfig written to %s", opts.KubeconfigOut)
	}

	fmt.Fprint(stdout, report.Render(result))

	if report.ExitCode(result, cfg.FailsBelowQuorum()) != 0 {
		return fmt.Errorf("bootstrap of cluster %s failed", cfg.ClusterName)
	}
	return nil
}
