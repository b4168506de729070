package bootstrap

import (
	"context"
	"fmt"

	"github.com/k3boot/k3boot/internal/config"
	"github.com/k3boot/k3boot/internal/readiness"
	"github.com/k3boot/k3boot/internal/render"
)

// Joiner adds a control plane or agent node to an already-initiated
// cluster. Its one ordering dependency is the barrier: a join attempted
// before the token exists waits, it does not fail.
type Joiner struct {
	task
	barrier *Barrier

	// nodeReady observes the kubelet Ready condition through the shared
	// cluster client the orchestrator builds once the barrier opens.
	nodeReady func(ctx context.Context, name string) bool
}

// Run executes the joiner state machine. Failures are isolated to this
// node; the orchestrator records them without cancelling sibling tasks.
func (j *Joiner) Run(ctx context.Context) error {
	node := j.state.Node

	if err := j.installAndReboot(ctx); err != nil {
		return err
	}

	if err := j.state.To(PhaseAwaitingClusterToken); err != nil {
		return err
	}
	access, err := j.barrier.Wait(ctx)
	if err != nil {
		return fmt.Errorf("node %s: cluster initiation aborted before join: %w", node.Name, err)
	}
	if access.Token == "" {
		// The barrier only opens after the initiator published; an empty
		// token here is an ordering bug, not an environmental failure.
		return &JoinPreconditionError{Node: node.Name, Reason: "barrier opened without a token"}
	}

	if err := j.writeNodeConfig(ctx, render.Input{
		Role:      node.Role,
		Cluster:   j.cfg,
		Node:      node,
		Token:     access.Token,
		ServerURL: access.ServerURL,
	}); err != nil {
		return err
	}

	if err := j.state.To(PhaseJoining); err != nil {
		return err
	}
	if err := j.startK3s(ctx, joinRole(node.Role)); err != nil {
		return err
	}

	if node.Role.IsControlPlane() {
		check := readiness.Check{Interval: j.timeouts.PollInterval, Timeout: j.timeouts.Join}
		if err := readiness.Wait(ctx, fmt.Sprintf("node %s api readiness", node.Name), check, j.apiServerReady); err != nil {
			return err
		}
		if err := j.state.To(PhaseAPIReady); err != nil {
			return err
		}
	}

	readyCheck := readiness.Check{Interval: j.timeouts.PollInterval, Timeout: j.timeouts.NodeReady}
	err = readiness.Wait(ctx, fmt.Sprintf("node %s Ready condition", node.Name), readyCheck,
		func(ctx context.Context) bool {
			return j.nodeReady(ctx, node.Name)
		})
	if err != nil {
		return err
	}
	return j.state.To(PhaseReady)
}

// joinRole maps a joiner's config role to the k3s process role.
func joinRole(role config.Role) string {
	if role.IsControlPlane() {
		return "server"
	}
	return "agent"
}
