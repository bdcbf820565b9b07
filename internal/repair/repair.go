// Package repair implements the periodic re-replication loop (C6): it
// scans chunks, finds under-replicated ones, pushes fresh copies to
// newly chosen targets, and records the result in the log.
package repair

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/meghanachitturi5678/gfsmaster/internal/membership"
	"github.com/meghanachitturi5678/gfsmaster/internal/metrics"
	"github.com/meghanachitturi5678/gfsmaster/internal/placement"
	"github.com/meghanachitturi5678/gfsmaster/internal/state"
)

// Proposer is the subset of internal/consensus.Log the repair loop
// needs.
type Proposer interface {
	Propose(cmd state.Command) (state.ApplyResult, error)
}

// Pusher moves chunk bytes from a source chunk server to a target.
// Satisfied by internal/chunkclient.Client; an interface here keeps
// the loop's retry/aggregation logic testable without real sockets.
type Pusher interface {
	Download(addr, filename, chunkID string) ([]byte, error)
	Replicate(addr, filename, chunkID string, data []byte) error
}

// backoffSchedule is the retry delay sequence for a single chunk
// server push within one repair cycle; exhausted attempts are left
// for the next cycle, per spec §7.
var backoffSchedule = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

// Loop is the leader-only repair task (C6).
type Loop struct {
	machine    *state.Machine
	tracker    *membership.Tracker
	log        Proposer
	pusher     Pusher
	replFactor int
	metrics    *metrics.Collectors
	logger     logrus.FieldLogger

	inFlight sync.Map // chunk id -> struct{}, per-chunk repair guard
}

// New returns a repair loop. The loop resolves each chunk id back to
// its owning filename (filenameForChunk), needed because the
// chunk-server protocol is keyed by (filename, chunk_id) rather than
// chunk id alone.
func New(machine *state.Machine, tracker *membership.Tracker, log Proposer, pusher Pusher, replicationFactor int, collectors *metrics.Collectors, logger logrus.FieldLogger) *Loop {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loop{
		machine:    machine,
		tracker:    tracker,
		log:        log,
		pusher:     pusher,
		replFactor: replicationFactor,
		metrics:    collectors,
		logger:     logger,
	}
}

// Run executes the scan-and-repair cycle every period until ctx is
// cancelled. internal/master starts and cancels this only while this
// node is the leader.
func (l *Loop) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

// filenameForChunk finds the owning filename of a chunk id by
// scanning the file map. The namespace is small relative to repair's
// own period, so a linear scan per cycle is acceptable; this keeps
// Machine's indexing free of a second reverse map solely for C6's
// sake.
func filenameForChunk(snapshot state.Snapshot, chunkID string) (string, bool) {
	for filename, chunks := range snapshot.FileChunks {
		for _, id := range chunks {
			if id == chunkID {
				return filename, true
			}
		}
	}
	return "", false
}

func (l *Loop) runOnce(ctx context.Context) {
	snapshot := l.machine.Snapshot()
	live := l.tracker.LiveSet()
	liveSet := placement.ExcludeSet(live...)
	replicaCounts := l.machine.ReplicaCounts()

	for chunkID, replicas := range snapshot.ChunkLocations {
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.repairChunk(ctx, snapshot, chunkID, replicas, liveSet, live, replicaCounts)
	}
}

func (l *Loop) repairChunk(ctx context.Context, snapshot state.Snapshot, chunkID string, replicas []string, liveSet map[string]struct{}, live []string, replicaCounts map[string]int) {
	if _, busy := l.inFlight.LoadOrStore(chunkID, struct{}{}); busy {
		return
	}
	defer l.inFlight.Delete(chunkID)

	alive := make([]string, 0, len(replicas))
	for _, r := range replicas {
		if _, ok := liveSet[r]; ok {
			alive = append(alive, r)
		}
	}

	if len(alive) >= l.replFactor {
		if len(alive) != len(replicas) {
			l.purgeDead(chunkID, alive)
		}
		return
	}

	if len(alive) == 0 {
		l.logger.WithField("chunk", chunkID).Warn("repair: chunk has zero live replicas, unrecoverable until a holder returns")
		return
	}

	filename, ok := filenameForChunk(snapshot, chunkID)
	if !ok {
		return
	}

	need := l.replFactor - len(alive)
	exclude := placement.ExcludeSet(replicas...)
	targets := placement.SelectTargets(live, replicaCounts, need, exclude)
	if len(targets) == 0 {
		l.logger.WithField("chunk", chunkID).Warn("repair: no healthy targets available this cycle")
		return
	}

	source := alive[0]
	data, err := l.pusher.Download(source, filename, chunkID)
	if err != nil {
		l.logger.WithError(err).WithField("chunk", chunkID).Warn("repair: failed to read source replica")
		return
	}

	var merr *multierror.Error
	pushed := make([]string, 0, len(targets))
	for _, target := range targets {
		if err := l.pushWithBackoff(ctx, source, target, filename, chunkID, data); err != nil {
			merr = multierror.Append(merr, err)
			if l.metrics != nil {
				l.metrics.RepairFailures.Inc()
			}
			continue
		}
		pushed = append(pushed, target)
	}

	if merr.ErrorOrNil() != nil {
		l.logger.WithError(merr).WithField("chunk", chunkID).Warn("repair: some targets unreachable, will retry next cycle")
	}
	if len(pushed) == 0 {
		return
	}

	newReplicas := append(append([]string{}, alive...), pushed...)
	if _, err := l.log.Propose(state.Command{
		Kind:     state.KindUpdateReplicas,
		ChunkID:  chunkID,
		Replicas: newReplicas,
	}); err != nil {
		l.logger.WithError(err).WithField("chunk", chunkID).Warn("repair: failed to commit updated replica set")
		return
	}
	if l.metrics != nil {
		l.metrics.RepairsTotal.Add(float64(len(pushed)))
	}
}

// purgeDead drops replicas that are no longer live from the recorded
// set, per spec §4.6 ("Dead replicas are also purged ... so the set
// reflects reality.").
func (l *Loop) purgeDead(chunkID string, alive []string) {
	if _, err := l.log.Propose(state.Command{
		Kind:     state.KindUpdateReplicas,
		ChunkID:  chunkID,
		Replicas: alive,
	}); err != nil {
		l.logger.WithError(err).WithField("chunk", chunkID).Warn("repair: failed to purge dead replicas")
	}
}

func (l *Loop) pushWithBackoff(ctx context.Context, source, target, filename, chunkID string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		if err := l.pusher.Replicate(target, filename, chunkID, data); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == len(backoffSchedule) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffSchedule[attempt]):
		}
	}
	return lastErr
}
