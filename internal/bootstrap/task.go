package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/k3boot/k3boot/internal/config"
	"github.com/k3boot/k3boot/internal/readiness"
	"github.com/k3boot/k3boot/internal/render"
	"github.com/k3boot/k3boot/internal/sshexec"
	"github.com/k3boot/k3boot/internal/util/retry"
)

// nodeConfigPath is where k3s reads its configuration on every node.
const nodeConfigPath = "/etc/rancher/k3s/config.yaml"

// installScript pipes the upstream installer; the role and channel select
// what gets set up.
const installScript = "curl -sfL https://get.k3s.io | INSTALL_K3S_CHANNEL=%s sh -s - %s"

// task carries the steps shared by the initiator and joiner machines.
type task struct {
	cfg       *config.Config
	timeouts  *config.Timeouts
	comm      sshexec.Communicator
	installer ImageInstaller
	state     *NodeState
}

// installAndReboot walks a node from bare metal to reachable-again:
// Installing -> Rebooting -> AwaitingReachable. Reachability is the one
// transient class that gets bounded retries; everything else fails fast.
func (t *task) installAndReboot(ctx context.Context) error {
	node := t.state.Node

	if err := t.state.To(PhaseInstalling); err != nil {
		return err
	}
	if err := t.installer.Install(ctx, node.Name); err != nil {
		return &InstallError{Node: node.Name, Err: err}
	}

	if err := t.state.To(PhaseRebooting); err != nil {
		return err
	}
	if err := t.state.To(PhaseAwaitingReachable); err != nil {
		return err
	}

	host := endpointHost(node.Endpoint)
	port := endpointSSHPort(node.Endpoint)
	check := readiness.Check{Interval: t.timeouts.PollInterval, Timeout: t.timeouts.Reboot}

	attempt := 0
	err := retry.Do(ctx, func() error {
		attempt++
		if attempt > 1 {
			t.state.AddRetry()
		}
		waitErr := readiness.Wait(ctx, fmt.Sprintf("node %s ssh reachability", node.Name), check,
			readiness.TCPPort(host, port))
		if waitErr != nil && ctx.Err() != nil {
			return retry.Fatal(waitErr)
		}
		return waitErr
	},
		retry.WithMaxAttempts(t.timeouts.RetryMaxAttempts),
		retry.WithInitialDelay(t.timeouts.RetryInitialDelay),
	)
	if err != nil {
		return &RebootTimeoutError{Node: node.Name, Err: err}
	}

	return nil
}

// writeNodeConfig renders and delivers the node's k3s configuration.
func (t *task) writeNodeConfig(ctx context.Context, in render.Input) error {
	content, err := render.NodeConfig(in)
	if err != nil {
		return &RenderError{Node: t.state.Node.Name, Err: err}
	}

	if err := t.comm.UploadFile(ctx, content, nodeConfigPath); err != nil {
		return fmt.Errorf("node %s: failed to write config: %w", t.state.Node.Name, err)
	}
	return t.state.To(PhaseConfigWritten)
}

// startK3s runs the upstream installer for the given role. The rendered
// config file drives all behavior; the script only selects server or agent.
func (t *task) startK3s(ctx context.Context, role string) error {
	cmd := fmt.Sprintf(installScript, t.cfg.Channel, role)
	log.Printf("[%s] Starting k3s %s...", t.state.Node.Name, role)
	if output, err := t.comm.Execute(ctx, cmd); err != nil {
		var exitErr *sshexec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("node %s: k3s installer exited %d: %s",
				t.state.Node.Name, exitErr.ExitCode, strings.TrimSpace(output))
		}
		return fmt.Errorf("node %s: k3s installer failed: %w", t.state.Node.Name, err)
	}
	return nil
}

// apiServerReady probes the raw readiness endpoint through the node's own
// kubectl; ready means the response body is exactly "ok".
func (t *task) apiServerReady(ctx context.Context) bool {
	output, err := t.comm.Execute(ctx, "kubectl get --raw /readyz")
	return err == nil && strings.TrimSpace(output) == "ok"
}
