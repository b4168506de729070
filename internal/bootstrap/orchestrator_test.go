package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"

	"github.com/k3boot/k3boot/internal/addons/k8sclient"
	"github.com/k3boot/k3boot/internal/config"
	"github.com/k3boot/k3boot/internal/sshexec"
)

const fakeKubeconfig = `apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://127.0.0.1:6443
  name: default
`

type fakeComm struct {
	mu       sync.Mutex
	commands []string
	uploads  map[string][]byte
	execErr  map[string]error
}

func newFakeComm() *fakeComm {
	return &fakeComm{uploads: map[string][]byte{}}
}

func (c *fakeComm) Execute(_ context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, cmd)
	for substr, err := range c.execErr {
		if strings.Contains(cmd, substr) {
			return "", err
		}
	}
	switch {
	case strings.Contains(cmd, "/readyz"):
		return "ok", nil
	case strings.HasPrefix(cmd, "cat "+kubeconfigPath):
		return fakeKubeconfig, nil
	}
	return "", nil
}

func (c *fakeComm) UploadFile(_ context.Context, content []byte, remotePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads[remotePath] = append([]byte(nil), content...)
	return nil
}

func (c *fakeComm) ran(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range c.commands {
		if strings.Contains(cmd, substr) {
			return true
		}
	}
	return false
}

func (c *fakeComm) uploaded(remotePath string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content, ok := c.uploads[remotePath]
	return content, ok
}

type fakeInstaller struct {
	harness *harness
}

func (i *fakeInstaller) Install(_ context.Context, hostname string) error {
	i.harness.mu.Lock()
	i.harness.installs = append(i.harness.installs, hostname)
	err := i.harness.installErr[hostname]
	delay := i.harness.installDelay[hostname]
	i.harness.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

type fakeApplier struct {
	seedCalls  atomic.Int32
	applyCalls atomic.Int32
	applyErr   error

	// applyBlocks makes Apply hang until its context expires.
	applyBlocks bool
}

func (a *fakeApplier) SeedSecrets(context.Context) error {
	a.seedCalls.Add(1)
	return nil
}

func (a *fakeApplier) Apply(ctx context.Context) error {
	a.applyCalls.Add(1)
	if a.applyBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return a.applyErr
}

type fakeClient struct{}

func (fakeClient) ApplySecret(context.Context, *corev1.Secret) error { return nil }
func (fakeClient) NodeReady(context.Context, string) (bool, error) { return true, nil }

// harness wires fakes behind the orchestrator's dependency seams. Every
// node endpoint points at a local listener so reachability probes pass
// without a network.
type harness struct {
	t *testing.T

	mu           sync.Mutex
	comms        map[string]*fakeComm
	installs     []string
	installErr   map[string]error
	installDelay map[string]time.Duration
	execErr      map[string]map[string]error

	applier     *fakeApplier
	kubeconfigs [][]byte
	listeners   []net.Listener
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:            t,
		comms:        map[string]*fakeComm{},
		installErr:   map[string]error{},
		installDelay: map[string]time.Duration{},
		execErr:      map[string]map[string]error{},
		applier:      &fakeApplier{},
	}
	t.Cleanup(func() {
		for _, l := range h.listeners {
			_ = l.Close()
		}
	})
	return h
}

// listen opens a local port the reachability probe can hit and returns its
// address as the node endpoint.
func (h *harness) listen() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(h.t, err)
	h.listeners = append(h.listeners, l)
	go func() {
		for {
			conn, acceptErr := l.Accept()
			if acceptErr != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return l.Addr().String()
}

func (h *harness) comm(endpoint string) *fakeComm {
	h.mu.Lock()
	defer h.mu.Unlock()
	comm, ok := h.comms[endpoint]
	if !ok {
		comm = newFakeComm()
		comm.execErr = h.execErr[endpoint]
		h.comms[endpoint] = comm
	}
	return comm
}

func (h *harness) deps() Deps {
	return Deps{
		Comms: func(endpoint string) (sshexec.Communicator, error) {
			return h.comm(endpoint), nil
		},
		Clients: func(kubeconfig []byte) (k8sclient.Client, error) {
			h.mu.Lock()
			h.kubeconfigs = append(h.kubeconfigs, kubeconfig)
			h.mu.Unlock()
			return fakeClient{}, nil
		},
		NewInstaller: func(sshexec.Communicator) ImageInstaller {
			return &fakeInstaller{harness: h}
		},
		NewApplier: func(sshexec.Communicator, k8sclient.Client) AddonApplier {
			return h.applier
		},
	}
}

func testTimeouts() *config.Timeouts {
	return &config.Timeouts{
		Reboot:            2 * time.Second,
		Init:              2 * time.Second,
		Join:              2 * time.Second,
		NodeReady:         2 * time.Second,
		AddonApply:        2 * time.Second,
		PollInterval:      10 * time.Millisecond,
		SSHDial:           time.Second,
		RetryMaxAttempts:  2,
		RetryInitialDelay: time.Millisecond,
	}
}

// testCluster declares three control planes and two agents, each reachable
// on its own local listener.
func testCluster(h *harness) *config.Config {
	cfg := &config.Config{
		ClusterName:        "testing",
		Channel:            "stable",
		FlannelInterface:   "ens10",
		MaxConcurrentNodes: 2,
		SSHUser:            "root",
	}
	roles := []config.Role{
		config.RoleFirstControlPlane,
		config.RoleControlPlane,
		config.RoleControlPlane,
		config.RoleAgent,
		config.RoleAgent,
	}
	for i, role := range roles {
		cfg.Nodes = append(cfg.Nodes, config.NodeSpec{
			Name:      fmt.Sprintf("node-%d", i),
			Role:      role,
			PrivateIP: fmt.Sprintf("10.0.1.%d", i+1),
			Endpoint:  h.listen(),
		})
	}
	return cfg
}

// tokenFromConfig pulls the join token out of a node's uploaded k3s config.
func tokenFromConfig(t *testing.T, comm *fakeComm) string {
	t.Helper()
	content, ok := comm.uploaded(nodeConfigPath)
	require.True(t, ok, "node config was never uploaded")
	var parsed struct {
		Token string `yaml:"token"`
	}
	require.NoError(t, yaml.Unmarshal(content, &parsed))
	return parsed.Token
}

func TestOrchestratorBootstrapsCluster(t *testing.T) {
	h := newHarness(t)
	cfg := testCluster(h)

	orch := New(cfg, testTimeouts(), h.deps())
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	for _, row := range result.Nodes {
		assert.Equal(t, PhaseReady, row.Phase, "node %s", row.Name)
		assert.NoError(t, row.Err, "node %s", row.Name)
	}
	assert.Equal(t, 3, result.ReadyControlPlanes)
	assert.Equal(t, 2, result.Quorum)
	assert.False(t, result.InitiatorFailed)
	assert.True(t, result.AddonsApplied)
	assert.False(t, result.Failed(true))
	assert.NotEmpty(t, result.Kubeconfig)

	assert.Equal(t, int32(1), h.applier.seedCalls.Load())
	assert.Equal(t, int32(1), h.applier.applyCalls.Load())

	// One token, minted by the initiator, observed by every joiner.
	token := tokenFromConfig(t, h.comm(cfg.Nodes[0].Endpoint))
	assert.Len(t, token, 64)
	for _, node := range cfg.Nodes[1:] {
		assert.Equal(t, token, tokenFromConfig(t, h.comm(node.Endpoint)), "node %s", node.Name)
	}
}

func TestOrchestratorJoinersBlockUntilInitiation(t *testing.T) {
	h := newHarness(t)
	cfg := testCluster(h)
	cfg.MaxConcurrentNodes = 5
	h.installDelay["node-0"] = 300 * time.Millisecond

	orch := New(cfg, testTimeouts(), h.deps())

	done := make(chan *Result, 1)
	go func() {
		result, err := orch.Run(context.Background())
		assert.NoError(t, err)
		done <- result
	}()

	// While the initiator is still installing, every joiner must park at
	// the token barrier: suspended, not failed, and never further along.
	deadline := time.Now().Add(250 * time.Millisecond)
	joinersParked := false
	for time.Now().Before(deadline) {
		parked := 0
		for _, state := range orch.States()[1:] {
			phase := state.Phase()
			require.NotEqual(t, PhaseFailed, phase, "joiner failed while initiator was delayed")
			require.LessOrEqual(t, phaseRank[phase], phaseRank[PhaseAwaitingClusterToken],
				"joiner advanced past the barrier before initiation")
			if phase == PhaseAwaitingClusterToken {
				parked++
			}
		}
		if parked == len(cfg.Nodes)-1 {
			joinersParked = true
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, joinersParked, "joiners never reached the token barrier during the delay")

	result := <-done
	for _, row := range result.Nodes {
		assert.Equal(t, PhaseReady, row.Phase, "node %s", row.Name)
	}
}

func TestOrchestratorInitiatorFailureAbortsJoiners(t *testing.T) {
	h := newHarness(t)
	cfg := testCluster(h)
	h.installErr["node-0"] = errors.New("installimage exited 1")

	orch := New(cfg, testTimeouts(), h.deps())
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.InitiatorFailed)
	assert.True(t, result.Failed(true))
	assert.Zero(t, result.ReadyControlPlanes)
	assert.Empty(t, result.Kubeconfig)
	assert.Zero(t, h.applier.applyCalls.Load())

	for _, row := range result.Nodes {
		assert.Equal(t, PhaseFailed, row.Phase, "node %s", row.Name)
		assert.Error(t, row.Err, "node %s", row.Name)
	}

	// No joiner got past the token barrier, so none wrote a config or
	// started k3s.
	for _, node := range cfg.Nodes[1:] {
		comm := h.comm(node.Endpoint)
		_, wroteConfig := comm.uploaded(nodeConfigPath)
		assert.False(t, wroteConfig, "node %s wrote config after aborted initiation", node.Name)
		assert.False(t, comm.ran("get.k3s.io"), "node %s started k3s after aborted initiation", node.Name)
	}
}

func TestOrchestratorJoinerFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	cfg := testCluster(h)
	// node-4 is an agent; its k3s install blows up.
	h.execErr[cfg.Nodes[4].Endpoint] = map[string]error{
		"get.k3s.io": errors.New("curl: (7) connection refused"),
	}

	orch := New(cfg, testTimeouts(), h.deps())
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.InitiatorFailed)
	assert.Equal(t, 3, result.ReadyControlPlanes)
	assert.False(t, result.Failed(true))

	for _, row := range result.Nodes {
		if row.Name == "node-4" {
			assert.Equal(t, PhaseFailed, row.Phase)
			assert.Error(t, row.Err)
			continue
		}
		assert.Equal(t, PhaseReady, row.Phase, "node %s", row.Name)
	}
}

func TestOrchestratorQuorumPolicy(t *testing.T) {
	h := newHarness(t)
	cfg := testCluster(h)
	// Two of three control planes fail to join; one survivor is below the
	// quorum of two.
	h.execErr[cfg.Nodes[1].Endpoint] = map[string]error{"get.k3s.io": errors.New("boom")}
	h.execErr[cfg.Nodes[2].Endpoint] = map[string]error{"get.k3s.io": errors.New("boom")}

	orch := New(cfg, testTimeouts(), h.deps())
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.InitiatorFailed)
	assert.Equal(t, 1, result.ReadyControlPlanes)
	assert.True(t, result.Failed(true))
	assert.False(t, result.Failed(false))
}

func TestOrchestratorAddonFailureIsRecordedNotFatal(t *testing.T) {
	h := newHarness(t)
	cfg := testCluster(h)
	h.applier.applyErr = errors.New("manifest rejected")

	orch := New(cfg, testTimeouts(), h.deps())
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.InitiatorFailed)
	assert.False(t, result.AddonsApplied)
	assert.False(t, result.Failed(true))
	assert.NotEmpty(t, result.Kubeconfig, "cluster identity must publish despite add-on failure")

	initiator := result.Nodes[0]
	assert.Equal(t, PhaseReady, initiator.Phase)
	assert.ErrorContains(t, initiator.Err, "manifest rejected")
}

func TestOrchestratorAddonApplyIsBounded(t *testing.T) {
	h := newHarness(t)
	cfg := testCluster(h)
	h.applier.applyBlocks = true

	timeouts := testTimeouts()
	timeouts.AddonApply = 50 * time.Millisecond

	orch := New(cfg, timeouts, h.deps())
	result, err := orch.Run(context.Background())
	require.NoError(t, err)

	// The hung apply is cut off by its deadline; the run still converges.
	assert.False(t, result.AddonsApplied)
	initiator := result.Nodes[0]
	assert.Equal(t, PhaseReady, initiator.Phase)
	assert.ErrorIs(t, initiator.Err, context.DeadlineExceeded)
}

func TestFetchKubeconfigRewritesLoopback(t *testing.T) {
	comm := newFakeComm()
	in := &Initiator{task: task{
		comm: comm,
		state: NewNodeState(config.NodeSpec{
			Name:     "node-0",
			Role:     config.RoleFirstControlPlane,
			Endpoint: "203.0.113.10",
		}),
	}}

	kubeconfig, err := in.fetchKubeconfig(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(kubeconfig), "https://203.0.113.10:6443")
	assert.NotContains(t, string(kubeconfig), "https://127.0.0.1:6443")
}

func TestEndpointHostAndPort(t *testing.T) {
	tests := []struct {
		endpoint string
		host     string
		port     int
	}{
		{"203.0.113.10", "203.0.113.10", 22},
		{"203.0.113.10:2222", "203.0.113.10", 2222},
		{"node.example.com", "node.example.com", 22},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.host, endpointHost(tt.endpoint))
		assert.Equal(t, tt.port, endpointSSHPort(tt.endpoint))
	}
}
