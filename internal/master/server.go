// Package master wires the replicated log, state machine, membership
// tracker, lease manager, repair loop, and request frontend into one
// running node, and owns the leadership-scoped lifecycle: the lease
// sweep and repair loop only run while this node is raft leader.
//
// This mirrors the teacher's MasterServer, which started its lease
// and cleanup goroutines once at construction; here those goroutines
// are started and stopped on every leadership change instead, since a
// replicated cluster has more than one node alive at a time and only
// the leader may run them (spec §9).
package master

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meghanachitturi5678/gfsmaster/internal/chunkclient"
	"github.com/meghanachitturi5678/gfsmaster/internal/config"
	"github.com/meghanachitturi5678/gfsmaster/internal/consensus"
	"github.com/meghanachitturi5678/gfsmaster/internal/frontend"
	"github.com/meghanachitturi5678/gfsmaster/internal/lease"
	"github.com/meghanachitturi5678/gfsmaster/internal/membership"
	"github.com/meghanachitturi5678/gfsmaster/internal/metrics"
	"github.com/meghanachitturi5678/gfsmaster/internal/repair"
	"github.com/meghanachitturi5678/gfsmaster/internal/state"
)

// Server is one master node: the replicated log, the state machine it
// drives, and every component built on top of them.
type Server struct {
	cfg config.Config

	machine *state.Machine
	log     *consensus.Log
	tracker *membership.Tracker
	leases  *lease.Manager
	repair  *repair.Loop
	front   *frontend.Server

	logger logrus.FieldLogger

	leadershipWG   sync.WaitGroup
	cancelLeading  context.CancelFunc
	leadershipDone chan struct{}
}

// New builds every component and binds them together. It opens the
// raft node, which binds the raft transport and starts raft, but does
// not start the frontend listener or the leadership watcher; call
// Start for that.
func New(cfg config.Config, nodeID, requestAddr string, bootstrap []consensus.Peer, collectors *metrics.Collectors, logger logrus.FieldLogger) (*Server, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	machine := state.NewMachine()

	raftLog, err := consensus.Open(consensus.Options{
		NodeID:         nodeID,
		BindAddr:       cfg.RaftBindAddr,
		DataDir:        cfg.DataDir,
		Bootstrap:      bootstrap,
		ProposeTimeout: cfg.ProposeTimeout,
		Logger:         logger.WithField("component", "consensus"),
	}, machine)
	if err != nil {
		return nil, err
	}

	tracker := membership.NewTracker(cfg.LivenessWindow, cfg.ChunkServers)
	leases := lease.NewManager(machine, raftLog, cfg.LeaseDuration, collectors, logger.WithField("component", "lease"))
	pusher := chunkclient.New(0)
	repairLoop := repair.New(machine, tracker, raftLog, pusher, cfg.ReplicationFactor, collectors, logger.WithField("component", "repair"))
	front := frontend.New(requestAddr, machine, tracker, raftLog, leases, cfg.ReplicationFactor, cfg.ChunkSize, collectors, logger.WithField("component", "frontend"))

	return &Server{
		cfg:     cfg,
		machine: machine,
		log:     raftLog,
		tracker: tracker,
		leases:  leases,
		repair:  repairLoop,
		front:   front,
		logger:  logger,
	}, nil
}

// Start begins serving client/chunk-server requests and begins
// watching for leadership changes. It returns the frontend's error if
// ListenAndServe fails within 50ms (for example, the bind fails), and
// nil otherwise; the accept loop and leadership watcher continue on
// background goroutines.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.front.ListenAndServe()
	}()

	s.leadershipDone = make(chan struct{})
	go s.watchLeadership()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// watchLeadership starts and stops the leader-only background tasks
// (lease sweep, repair loop) as raft leadership is gained and lost,
// per spec §9: "the leader's repair loop and lease sweep do not run on
// followers."
func (s *Server) watchLeadership() {
	defer close(s.leadershipDone)
	for leading := range s.log.LeaderCh() {
		if leading {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancelLeading = cancel
			s.leadershipWG.Add(2)
			go func() {
				defer s.leadershipWG.Done()
				s.leases.RunSweep(ctx, s.cfg.LeaseSweepPeriod)
			}()
			go func() {
				defer s.leadershipWG.Done()
				s.repair.Run(ctx, s.cfg.RepairPeriod)
			}()
			s.logger.Info("master: acquired leadership, started lease sweep and repair loop")
		} else if s.cancelLeading != nil {
			s.cancelLeading()
			s.cancelLeading = nil
			s.leadershipWG.Wait()
			s.logger.Info("master: lost leadership, stopped lease sweep and repair loop")
		}
	}
}

// Close shuts down the frontend, the leadership-scoped tasks, the
// lease manager's serialization goroutine, and the raft node, in that
// order so nothing is left trying to propose after raft stops.
func (s *Server) Close() error {
	_ = s.front.Close()
	if s.cancelLeading != nil {
		s.cancelLeading()
		s.leadershipWG.Wait()
	}
	s.leases.Close()
	return s.log.Shutdown()
}
