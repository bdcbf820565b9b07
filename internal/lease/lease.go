// Package lease implements the time-bounded exclusive file lease
// manager (C5): grant, release, and an expiry sweep that only the
// leader runs.
package lease

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meghanachitturi5678/gfsmaster/internal/metrics"
	"github.com/meghanachitturi5678/gfsmaster/internal/state"
)

// Proposer is the subset of internal/consensus.Log the lease manager
// needs. A narrow interface keeps this package testable without a
// real raft cluster.
type Proposer interface {
	Propose(cmd state.Command) (state.ApplyResult, error)
}

// request is one grant attempt waiting on the serialization point.
type request struct {
	filename string
	holder   string
	result   chan error
}

// Manager grants, releases, and expires file leases. Two concurrent
// lease requests for the same filename must not both observe
// "free" and both propose — spec §4.5 requires the check-then-propose
// sequence to be atomic with respect to other lease commands. Manager
// achieves that by routing every grant through a single goroutine
// (the "lease queue"): requests are serialized there before either one
// reaches Propose.
type Manager struct {
	machine  *state.Machine
	log      Proposer
	duration time.Duration
	now      func() time.Time
	logger   logrus.FieldLogger
	metrics  *metrics.Collectors

	requests chan request
	stop     chan struct{}
	done     chan struct{}
}

// NewManager returns a lease manager and starts its serialization
// goroutine. Call Close when the manager is no longer needed. collectors
// may be nil, which disables metrics updates (tests do this).
func NewManager(machine *state.Machine, log Proposer, duration time.Duration, collectors *metrics.Collectors, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager{
		machine:  machine,
		log:      log,
		duration: duration,
		now:      time.Now,
		logger:   logger,
		metrics:  collectors,
		requests: make(chan request),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.serve()
	return m
}

// refreshLeaseGauge publishes the current number of outstanding lease
// records. Called after every successful grant and release, and after
// any sweep that expired at least one lease, so the gauge never drifts
// from the state machine it mirrors.
func (m *Manager) refreshLeaseGauge() {
	if m.metrics == nil {
		return
	}
	m.metrics.LeasesActive.Set(float64(len(m.machine.Snapshot().Leases)))
}

// Grant attempts to acquire the lease on filename for holder. It
// returns ErrAlreadyLeased if the filename currently has an
// unexpired lease held by anyone.
func (m *Manager) Grant(filename, holder string) error {
	req := request{filename: filename, holder: holder, result: make(chan error, 1)}
	select {
	case m.requests <- req:
	case <-m.stop:
		return context.Canceled
	}
	return <-req.result
}

// Release drops the lease on filename, if any. Idempotent: it
// succeeds whether or not a lease existed.
func (m *Manager) Release(filename string) error {
	_, err := m.log.Propose(state.Command{
		Kind:     state.KindUnleaseFile,
		Filename: filename,
	})
	if err == nil {
		m.refreshLeaseGauge()
	}
	return err
}

// serve is the lease queue: the single serialization point between
// the freshness check and the propose call.
func (m *Manager) serve() {
	defer close(m.done)
	for {
		select {
		case req := <-m.requests:
			req.result <- m.grantLocked(req)
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) grantLocked(req request) error {
	if current, ok := m.machine.Lease(req.filename); ok && current.ExpiresAt > m.now().UnixNano() {
		return ErrAlreadyLeased
	}

	_, err := m.log.Propose(state.Command{
		Kind:      state.KindLeaseFile,
		Filename:  req.filename,
		Holder:    req.holder,
		ExpiresAt: m.now().Add(m.duration).UnixNano(),
	})
	if err == nil {
		m.refreshLeaseGauge()
	}
	return err
}

// RunSweep runs the lease expiry sweep until ctx is cancelled. It
// must only be started while this node is the leader (spec §4.5:
// "Non-leaders must not sweep"); internal/master starts and cancels it
// on leadership change.
func (m *Manager) RunSweep(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	snapshot := m.machine.Snapshot()
	now := m.now().UnixNano()
	expired := false
	for filename, l := range snapshot.Leases {
		if l.ExpiresAt >= now {
			continue
		}
		if _, err := m.log.Propose(state.Command{Kind: state.KindUnleaseFile, Filename: filename}); err != nil {
			m.logger.WithError(err).WithField("file", filename).Warn("lease sweep: failed to expire lease")
			continue
		}
		expired = true
	}
	if expired {
		m.refreshLeaseGauge()
	}
}

// Close stops the serialization goroutine.
func (m *Manager) Close() {
	close(m.stop)
	<-m.done
}
