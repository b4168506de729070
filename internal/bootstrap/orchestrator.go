package bootstrap

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/k3boot/k3boot/internal/addons/k8sclient"
	"github.com/k3boot/k3boot/internal/config"
)

// NodeResult is one row of the final run report.
type NodeResult struct {
	Name    string
	Role    config.Role
	Phase   Phase
	Retries int
	Err     error
}

// Result aggregates a finished run for reporting and exit status.
type Result struct {
	Cluster string
	Nodes   []NodeResult

	Quorum             int
	ReadyControlPlanes int
	InitiatorFailed    bool
	AddonsApplied      bool

	// Kubeconfig is the admin kubeconfig, present when the cluster was
	// initiated.
	Kubeconfig []byte
}

// Failed reports whether the run must exit non-zero: the initiator failed,
// or the quorum policy is on and too few control planes reached Ready.
func (r *Result) Failed(failBelowQuorum bool) bool {
	if r.InitiatorFailed {
		return true
	}
	if failBelowQuorum && r.ReadyControlPlanes < r.Quorum {
		return true
	}
	return false
}

// Orchestrator runs one provisioning task per declared node, bounded by
// the configured concurrency, and enforces the single ordering barrier
// between the initiator and all joiners.
type Orchestrator struct {
	cfg      *config.Config
	timeouts *config.Timeouts
	deps     Deps

	barrier *Barrier
	states  []*NodeState

	// addonsApplied gates PostInstall to at most once per cluster.
	addonsApplied atomic.Bool

	clientOnce sync.Once
	client     k8sclient.Client
	clientErr  error
}

// New creates an orchestrator for the given cluster. The configuration
// must already be validated.
func New(cfg *config.Config, timeouts *config.Timeouts, deps Deps) *Orchestrator {
	states := make([]*NodeState, len(cfg.Nodes))
	for i, node := range cfg.Nodes {
		states[i] = NewNodeState(node)
	}
	return &Orchestrator{
		cfg:      cfg,
		timeouts: timeouts,
		deps:     deps,
		barrier:  NewBarrier(),
		states:   states,
	}
}

// States exposes the per-node records; the orchestrator reads them for the
// result, tests read them to observe progress.
func (o *Orchestrator) States() []*NodeState {
	return o.states
}

// Run provisions all nodes and returns the aggregated result. The returned
// error is nil even when individual nodes failed; callers decide the exit
// status from Result.Failed.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrentNodes)

	// The initiator is scheduled first so a tight concurrency limit can
	// never park it behind joiners waiting on its barrier.
	for _, state := range o.sortedStates() {
		g.Go(func() error {
			err := o.runNode(runCtx, state)
			if err != nil {
				state.Fail(err)
				log.Printf("[%s] %v", state.Node.Name, err)
				if state.Node.Role == config.RoleFirstControlPlane {
					// No cluster identity will ever exist; stop
					// every task at its next suspension point.
					cancel()
				}
			}
			return nil
		})
	}

	_ = g.Wait()

	return o.result(), ctx.Err()
}

// sortedStates returns the node states with the initiator first.
func (o *Orchestrator) sortedStates() []*NodeState {
	sorted := make([]*NodeState, 0, len(o.states))
	for _, s := range o.states {
		if s.Node.Role == config.RoleFirstControlPlane {
			sorted = append(sorted, s)
		}
	}
	for _, s := range o.states {
		if s.Node.Role != config.RoleFirstControlPlane {
			sorted = append(sorted, s)
		}
	}
	return sorted
}

// runNode builds and runs the state machine for one node.
func (o *Orchestrator) runNode(ctx context.Context, state *NodeState) error {
	node := state.Node

	comm, err := o.deps.Comms(node.Endpoint)
	if err != nil {
		return fmt.Errorf("node %s: %w", node.Name, err)
	}

	base := task{
		cfg:       o.cfg,
		timeouts:  o.timeouts,
		comm:      comm,
		installer: o.deps.NewInstaller(comm),
		state:     state,
	}

	if node.Role == config.RoleFirstControlPlane {
		initiator := &Initiator{
			task:    base,
			clients: o.deps.Clients,
			newApplier: func(client k8sclient.Client) AddonApplier {
				return o.deps.NewApplier(comm, client)
			},
			barrier:     o.barrier,
			applyAddons: o.applyAddonsOnce,
		}
		return initiator.Run(ctx)
	}

	joiner := &Joiner{
		task:      base,
		barrier:   o.barrier,
		nodeReady: o.nodeReady,
	}
	return joiner.Run(ctx)
}

// applyAddonsOnce runs the bundle apply at most once per cluster lifetime,
// bounded by the add-on apply timeout.
func (o *Orchestrator) applyAddonsOnce(ctx context.Context, applier AddonApplier) error {
	if !o.addonsApplied.CompareAndSwap(false, true) {
		return nil
	}
	applyCtx, cancel := context.WithTimeout(ctx, o.timeouts.AddonApply)
	defer cancel()
	if err := applier.Apply(applyCtx); err != nil {
		// Allow a later retry within the same process to re-attempt.
		o.addonsApplied.Store(false)
		return err
	}
	return nil
}

// clusterClient memoizes the shared cluster API client built from the
// barrier's kubeconfig.
func (o *Orchestrator) clusterClient() (k8sclient.Client, error) {
	o.clientOnce.Do(func() {
		if !o.barrier.Published() {
			o.clientErr = fmt.Errorf("cluster client requested before initiation")
			return
		}
		access, _ := o.barrier.Wait(context.Background())
		o.client, o.clientErr = o.deps.Clients(access.Kubeconfig)
	})
	return o.client, o.clientErr
}

// nodeReady is the joiner-side Ready observation.
func (o *Orchestrator) nodeReady(ctx context.Context, name string) bool {
	client, err := o.clusterClient()
	if err != nil {
		return false
	}
	ready, _ := client.NodeReady(ctx, name)
	return ready
}

// result collects the read-only per-node records into the run summary.
func (o *Orchestrator) result() *Result {
	res := &Result{
		Cluster:       o.cfg.ClusterName,
		Quorum:        o.cfg.Quorum(),
		AddonsApplied: o.addonsApplied.Load(),
	}

	for _, state := range o.states {
		phase := state.Phase()
		row := NodeResult{
			Name:    state.Node.Name,
			Role:    state.Node.Role,
			Phase:   phase,
			Retries: state.Retries(),
			Err:     state.Err(),
		}
		res.Nodes = append(res.Nodes, row)

		if state.Node.Role.IsControlPlane() && phase == PhaseReady {
			res.ReadyControlPlanes++
		}
		if state.Node.Role == config.RoleFirstControlPlane && phase == PhaseFailed {
			res.InitiatorFailed = true
		}
	}

	if o.barrier.Published() {
		access, _ := o.barrier.Wait(context.Background())
		res.Kubeconfig = access.Kubeconfig
	}

	return res
}
