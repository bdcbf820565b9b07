package lease

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghanachitturi5678/gfsmaster/internal/state"
)

// fakeProposer applies commands directly to a Machine, standing in for
// a single-node raft log so the queue/freshness-check interplay can be
// tested without starting real consensus.
type fakeProposer struct {
	machine *state.Machine

	mu    sync.Mutex
	calls int
}

func (p *fakeProposer) Propose(cmd state.Command) (state.ApplyResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.machine.Apply(cmd), nil
}

func newTestManager(t *testing.T, clock *time.Time) (*Manager, *fakeProposer) {
	t.Helper()
	machine := state.NewMachine()
	proposer := &fakeProposer{machine: machine}
	m := NewManager(machine, proposer, 30*time.Second, nil, nil)
	m.now = func() time.Time { return *clock }
	t.Cleanup(m.Close)
	return m, proposer
}

func TestGrantSucceedsWhenFree(t *testing.T) {
	clock := time.Unix(1000, 0)
	m, _ := newTestManager(t, &clock)

	err := m.Grant("f", "client-1")
	require.NoError(t, err)

	l, ok := m.machine.Lease("f")
	require.True(t, ok)
	assert.Equal(t, "client-1", l.Holder)
}

func TestGrantFailsWhileHeld(t *testing.T) {
	clock := time.Unix(1000, 0)
	m, _ := newTestManager(t, &clock)

	require.NoError(t, m.Grant("f", "client-1"))
	err := m.Grant("f", "client-2")
	assert.ErrorIs(t, err, ErrAlreadyLeased)
}

func TestGrantSucceedsAfterExpiry(t *testing.T) {
	clock := time.Unix(1000, 0)
	m, _ := newTestManager(t, &clock)

	require.NoError(t, m.Grant("f", "client-1"))
	clock = clock.Add(31 * time.Second)

	err := m.Grant("f", "client-2")
	assert.NoError(t, err)
	l, _ := m.machine.Lease("f")
	assert.Equal(t, "client-2", l.Holder)
}

func TestConcurrentGrantsAreSerialized(t *testing.T) {
	clock := time.Unix(1000, 0)
	m, proposer := newTestManager(t, &clock)

	const n = 20
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Grant("contested", "client")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent grant on a fresh filename should win")
	assert.Equal(t, 1, proposer.calls, "only the winning grant should reach propose")
}

func TestReleaseIsIdempotent(t *testing.T) {
	clock := time.Unix(1000, 0)
	m, _ := newTestManager(t, &clock)

	assert.NoError(t, m.Release("never-leased"))

	require.NoError(t, m.Grant("f", "client-1"))
	assert.NoError(t, m.Release("f"))
	_, ok := m.machine.Lease("f")
	assert.False(t, ok)
}

func TestSweepExpiresStaleLeasesOnly(t *testing.T) {
	clock := time.Unix(1000, 0)
	m, _ := newTestManager(t, &clock)

	require.NoError(t, m.Grant("old", "client-1"))
	clock = clock.Add(31 * time.Second)
	require.NoError(t, m.Grant("fresh", "client-2"))

	m.sweepOnce()

	_, ok := m.machine.Lease("old")
	assert.False(t, ok, "lease past its TTL should be swept")
	_, ok = m.machine.Lease("fresh")
	assert.True(t, ok, "lease still within its TTL should survive the sweep")
}
