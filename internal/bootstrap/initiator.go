package bootstrap

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/k3boot/k3boot/internal/addons/k8sclient"
	"github.com/k3boot/k3boot/internal/config"
	"github.com/k3boot/k3boot/internal/readiness"
	"github.com/k3boot/k3boot/internal/render"
)

// kubeconfigPath is where k3s writes the admin kubeconfig on a server.
const kubeconfigPath = "/etc/rancher/k3s/k3s.yaml"

// Initiator brings the first control plane node to a running cluster and
// publishes the cluster token. Its failure aborts the whole bootstrap;
// quorum cannot exist without this node.
type Initiator struct {
	task
	clients k8sclient.Factory

	newApplier func(k8sclient.Client) AddonApplier
	barrier    *Barrier

	// applyAddons gates the one-time bundle apply cluster-wide.
	applyAddons func(ctx context.Context, applier AddonApplier) error
}

// Run executes the initiator state machine. Every error is terminal for
// the run except an add-on apply failure, which is recorded but does not
// invalidate the readiness already achieved.
func (in *Initiator) Run(ctx context.Context) error {
	node := in.state.Node

	if err := in.installAndReboot(ctx); err != nil {
		return err
	}

	token, err := NewClusterToken()
	if err != nil {
		return err
	}

	if err := in.writeNodeConfig(ctx, render.Input{
		Role:    config.RoleFirstControlPlane,
		Cluster: in.cfg,
		Node:    node,
		Token:   token,
	}); err != nil {
		return err
	}

	if err := in.state.To(PhaseInitializing); err != nil {
		return err
	}
	if err := in.startK3s(ctx, "server"); err != nil {
		return err
	}

	check := readiness.Check{Interval: in.timeouts.PollInterval, Timeout: in.timeouts.Init}
	if err := readiness.Wait(ctx, "control plane readiness endpoint", check, in.apiServerReady); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &InitTimeoutError{Node: node.Name, Err: err}
	}
	if err := in.state.To(PhaseAPIReady); err != nil {
		return err
	}

	kubeconfig, err := in.fetchKubeconfig(ctx)
	if err != nil {
		return err
	}

	client, err := in.clients(kubeconfig)
	if err != nil {
		return fmt.Errorf("node %s: failed to build cluster client: %w", node.Name, err)
	}

	applier := in.newApplier(client)

	if err := applier.SeedSecrets(ctx); err != nil {
		return fmt.Errorf("node %s: %w", node.Name, err)
	}
	if err := in.state.To(PhaseSecretsSeeded); err != nil {
		return err
	}

	// Add-on failure is surfaced in the report but the cluster identity
	// still gets published; joiners must not be held hostage by a broken
	// ingress manifest.
	if err := in.applyAddons(ctx, applier); err != nil {
		log.Printf("[%s] Add-on apply failed: %v", node.Name, err)
		in.state.RecordError(err)
	} else if err := in.state.To(PhaseAddonsApplied); err != nil {
		return err
	}

	readyCheck := readiness.Check{Interval: in.timeouts.PollInterval, Timeout: in.timeouts.NodeReady}
	err = readiness.Wait(ctx, fmt.Sprintf("node %s Ready condition", node.Name), readyCheck,
		func(ctx context.Context) bool {
			ready, _ := client.NodeReady(ctx, node.Name)
			return ready
		})
	if err != nil {
		return err
	}
	if err := in.state.To(PhaseReady); err != nil {
		return err
	}

	in.barrier.Publish(ClusterAccess{
		Token:      token,
		ServerURL:  fmt.Sprintf("https://%s:6443", node.PrivateIP),
		Kubeconfig: kubeconfig,
	})
	log.Printf("[%s] Cluster initiated, token published", node.Name)

	return nil
}

// fetchKubeconfig reads the admin kubeconfig off the node and rewrites the
// loopback server address to the node's reachable endpoint.
func (in *Initiator) fetchKubeconfig(ctx context.Context) ([]byte, error) {
	output, err := in.comm.Execute(ctx, "cat "+kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("node %s: failed to read kubeconfig: %w", in.state.Node.Name, err)
	}

	host := endpointHost(in.state.Node.Endpoint)
	rewritten := strings.Replace(output,
		"https://127.0.0.1:6443",
		fmt.Sprintf("https://%s:6443", host), 1)
	return []byte(rewritten), nil
}
