package bootstrap

import (
	"context"
	"sync"
)

// ClusterAccess is everything a joiner needs from the initiated cluster.
type ClusterAccess struct {
	// Token is the shared secret authorizing nodes to join.
	Token string
	// ServerURL is the initiator's API address on the private network.
	ServerURL string
	// Kubeconfig is the admin kubeconfig fetched from the initiator,
	// used for node readiness checks and secret seeding.
	Kubeconfig []byte
}

// Barrier is the write-once handoff from the initiator to all joiners.
// Publish closes the gate exactly once; Wait suspends until then. There is
// no other cross-task mutable state in a run.
type Barrier struct {
	once   sync.Once
	ch     chan struct{}
	access ClusterAccess
}

// NewBarrier creates an unpublished barrier.
func NewBarrier() *Barrier {
	return &Barrier{ch: make(chan struct{})}
}

// Publish stores the cluster access data and opens the barrier. Later calls
// are ignored; the access data is immutable once published.
func (b *Barrier) Publish(access ClusterAccess) {
	b.once.Do(func() {
		b.access = access
		close(b.ch)
	})
}

// Wait suspends until the barrier is published or the context is cancelled.
// A cancelled wait means the run was aborted before the cluster existed.
func (b *Barrier) Wait(ctx context.Context) (ClusterAccess, error) {
	select {
	case <-b.ch:
		return b.access, nil
	case <-ctx.Done():
		return ClusterAccess{}, ctx.Err()
	}
}

// Published reports whether the barrier is already open.
func (b *Barrier) Published() bool {
	select {
	case <-b.ch:
		return true
	default:
		return false
	}
}
