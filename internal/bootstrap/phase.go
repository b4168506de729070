// Package bootstrap turns a set of freshly created, addressable nodes into
// a converged highly-available k3s cluster.
//
// The ordering logic lives in two state machines: the [Initiator] brings the
// first control plane node up and publishes the cluster token through a
// write-once [Barrier]; every [Joiner] blocks on that barrier before
// joining. The [Orchestrator] fans out one task per node and aggregates the
// per-node results.
package bootstrap

import (
	"fmt"
	"sync"

	"github.com/k3boot/k3boot/internal/config"
)

// Phase is a node's position in its provisioning state machine.
type Phase string

const (
	PhaseNotStarted           Phase = "NotStarted"
	PhaseInstalling           Phase = "Installing"
	PhaseRebooting            Phase = "Rebooting"
	PhaseAwaitingReachable    Phase = "AwaitingReachable"
	PhaseAwaitingClusterToken Phase = "AwaitingClusterToken"
	PhaseConfigWritten        Phase = "ConfigWritten"
	PhaseInitializing         Phase = "Initializing"
	PhaseJoining              Phase = "Joining"
	PhaseAPIReady             Phase = "APIReady"
	PhaseSecretsSeeded        Phase = "SecretsSeeded"
	PhaseAddonsApplied        Phase = "AddonsApplied"
	PhaseReady                Phase = "Ready"
	PhaseFailed               Phase = "Failed"
)

// phaseRank orders phases so transitions can be checked for monotonicity.
// Initiator and joiner phases share one scale; each machine only ever walks
// its own subset.
var phaseRank = map[Phase]int{
	PhaseNotStarted:           0,
	PhaseInstalling:           1,
	PhaseRebooting:            2,
	PhaseAwaitingReachable:    3,
	PhaseAwaitingClusterToken: 4,
	PhaseConfigWritten:        5,
	PhaseInitializing:         6,
	PhaseJoining:              6,
	PhaseAPIReady:             7,
	PhaseSecretsSeeded:        8,
	PhaseAddonsApplied:        9,
	PhaseReady:                10,
}

// NodeState is the mutable per-node record of a run. It is written only by
// the node's own task; the mutex exists so progress can be observed from
// outside without racing the owner.
type NodeState struct {
	Node config.NodeSpec

	mu      sync.Mutex
	phase   Phase
	err     error
	retries int
}

// NewNodeState creates the state record for one node's task.
func NewNodeState(node config.NodeSpec) *NodeState {
	return &NodeState{Node: node, phase: PhaseNotStarted}
}

// To advances the state machine. Phase regressions indicate an ordering bug
// in the caller and are rejected.
func (s *NodeState) To(next Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseFailed {
		return fmt.Errorf("node %s: cannot leave terminal phase %s", s.Node.Name, PhaseFailed)
	}
	if phaseRank[next] < phaseRank[s.phase] {
		return fmt.Errorf("node %s: phase regression %s -> %s", s.Node.Name, s.phase, next)
	}
	s.phase = next
	return nil
}

// Fail moves the node to the terminal Failed phase, keeping the cause.
// The first recorded error wins.
func (s *NodeState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseFailed
	if s.err == nil {
		s.err = err
	}
}

// RecordError keeps a non-fatal error without leaving the current phase.
func (s *NodeState) RecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// AddRetry counts one retried transient failure.
func (s *NodeState) AddRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
}

// Phase returns the current phase.
func (s *NodeState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err returns the recorded error, if any.
func (s *NodeState) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Retries returns the transient retry count.
func (s *NodeState) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}
