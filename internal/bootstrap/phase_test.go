package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k3boot/k3boot/internal/config"
)

func TestNodeStateAdvances(t *testing.T) {
	s := NewNodeState(config.NodeSpec{Name: "node-0"})
	require.Equal(t, PhaseNotStarted, s.Phase())

	for _, phase := range []Phase{
		PhaseInstalling, PhaseRebooting, PhaseAwaitingReachable,
		PhaseConfigWritten, PhaseInitializing, PhaseAPIReady,
		PhaseSecretsSeeded, PhaseAddonsApplied, PhaseReady,
	} {
		require.NoError(t, s.To(phase))
		assert.Equal(t, phase, s.Phase())
	}
}

func TestNodeStateRejectsRegression(t *testing.T) {
	s := NewNodeState(config.NodeSpec{Name: "node-0"})
	require.NoError(t, s.To(PhaseConfigWritten))

	err := s.To(PhaseInstalling)
	assert.ErrorContains(t, err, "phase regression")
	assert.Equal(t, PhaseConfigWritten, s.Phase())
}

func TestNodeStateFailedIsTerminal(t *testing.T) {
	s := NewNodeState(config.NodeSpec{Name: "node-0"})
	cause := errors.New("install exploded")
	s.Fail(cause)

	assert.Equal(t, PhaseFailed, s.Phase())
	assert.Equal(t, cause, s.Err())
	assert.Error(t, s.To(PhaseReady))

	// The first error wins.
	s.Fail(errors.New("later"))
	assert.Equal(t, cause, s.Err())
}

func TestNodeStateRecordsNonFatalError(t *testing.T) {
	s := NewNodeState(config.NodeSpec{Name: "node-0"})
	require.NoError(t, s.To(PhaseReady))

	cause := errors.New("add-on apply failed")
	s.RecordError(cause)
	assert.Equal(t, PhaseReady, s.Phase())
	assert.Equal(t, cause, s.Err())
}

func TestNodeStateCountsRetries(t *testing.T) {
	s := NewNodeState(config.NodeSpec{Name: "node-0"})
	s.AddRetry()
	s.AddRetry()
	assert.Equal(t, 2, s.Retries())
}

func TestBarrierPublishOnce(t *testing.T) {
	b := NewBarrier()
	assert.False(t, b.Published())

	b.Publish(ClusterAccess{Token: "first"})
	b.Publish(ClusterAccess{Token: "second"})
	assert.True(t, b.Published())

	access, err := b.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", access.Token)
}

func TestBarrierWaitBlocksUntilPublish(t *testing.T) {
	b := NewBarrier()

	var wg sync.WaitGroup
	tokens := make([]string, 3)
	for i := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			access, err := b.Wait(context.Background())
			assert.NoError(t, err)
			tokens[i] = access.Token
		}()
	}

	time.Sleep(20 * time.Millisecond)
	b.Publish(ClusterAccess{Token: "tok"})
	wg.Wait()

	for _, token := range tokens {
		assert.Equal(t, "tok", token)
	}
}

func TestBarrierWaitHonorsCancel(t *testing.T) {
	b := NewBarrier()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewClusterToken(t *testing.T) {
	first, err := NewClusterToken()
	require.NoError(t, err)
	second, err := NewClusterToken()
	require.NoError(t, err)

	assert.Len(t, first, 64)
	assert.Regexp(t, "^[0-9a-f]+$", first)
	assert.NotEqual(t, first, second)
}
