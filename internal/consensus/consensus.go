// Package consensus wraps hashicorp/raft behind the three operations
// the rest of the master needs: propose, leader, and subscribe. It is
// a thin layer — the interesting engineering is in how its callers
// (internal/lease, internal/repair, internal/frontend) use it, not in
// the wrapper itself.
package consensus

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/meghanachitturi5678/gfsmaster/internal/state"
)

// Peer identifies one member of the master group.
type Peer struct {
	ID   string
	Addr string // host:port for the raft transport
}

// Options configures a Log.
type Options struct {
	// NodeID is this node's raft server id (typically its own host:port).
	NodeID string

	// BindAddr is the host:port the raft TCP transport listens on.
	BindAddr string

	// DataDir holds the log store, stable store, and snapshots.
	DataDir string

	// Bootstrap lists the initial peer set. Only consulted on first
	// startup, when no log entries exist yet.
	Bootstrap []Peer

	// ProposeTimeout bounds how long Propose waits for a commit.
	ProposeTimeout time.Duration

	Logger logrus.FieldLogger
}

// Log is the replicated command log (C1).
type Log struct {
	raft    *raft.Raft
	machine *state.Machine
	timeout time.Duration
	logger  logrus.FieldLogger
}

// Open starts (or rejoins) a raft node backed by bolt-stored logs and
// file snapshots, per spec §4.1 ("Log is persistent; a node may
// restart and catch up from its log plus snapshots.").
func Open(opts Options, machine *state.Machine) (*Log, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("consensus: create data dir: %w", err)
	}

	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(opts.NodeID)
	cfg.Logger = hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Output: os.Stderr,
		Level:  hclog.Info,
	})

	logStorePath := filepath.Join(opts.DataDir, "raft-log.bolt")
	logStore, err := raftboltdb.New(raftboltdb.Options{Path: logStorePath})
	if err != nil {
		return nil, fmt.Errorf("consensus: open log store: %w", err)
	}

	snapStore, err := raft.NewFileSnapshotStore(opts.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("consensus: open snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", opts.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("consensus: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(opts.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("consensus: open transport: %w", err)
	}

	f := newFSM(machine)

	r, err := raft.NewRaft(cfg, f, logStore, logStore, snapStore, transport)
	if err != nil {
		return nil, fmt.Errorf("consensus: start raft: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, logStore, snapStore)
	if err != nil {
		return nil, fmt.Errorf("consensus: check existing state: %w", err)
	}
	if !hasState && len(opts.Bootstrap) > 0 {
		servers := make([]raft.Server, 0, len(opts.Bootstrap))
		for _, p := range opts.Bootstrap {
			servers = append(servers, raft.Server{
				ID:      raft.ServerID(p.ID),
				Address: raft.ServerAddress(p.Addr),
			})
		}
		future := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := future.Error(); err != nil {
			return nil, fmt.Errorf("consensus: bootstrap cluster: %w", err)
		}
	}

	timeout := opts.ProposeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Log{raft: r, machine: machine, timeout: timeout, logger: opts.Logger}, nil
}

// Propose submits a command and waits for it to commit and apply on
// this node. It fails with ErrNotLeader, ErrTimeout, or ErrLogError.
func (l *Log) Propose(cmd state.Command) (state.ApplyResult, error) {
	if l.raft.State() != raft.Leader {
		return state.ApplyResult{}, ErrNotLeader
	}

	data, err := msgpack.Marshal(cmd)
	if err != nil {
		return state.ApplyResult{}, fmt.Errorf("%w: encode command: %v", ErrLogError, err)
	}

	future := l.raft.Apply(data, l.timeout)
	done := make(chan error, 1)
	go func() { done <- future.Error() }()
	select {
	case err = <-done:
	case <-time.After(l.timeout):
		return state.ApplyResult{}, ErrTimeout
	}
	if err != nil {
		if err == raft.ErrLeadershipLost || err == raft.ErrNotLeader {
			return state.ApplyResult{}, ErrNotLeader
		}
		if err == raft.ErrEnqueueTimeout {
			return state.ApplyResult{}, ErrTimeout
		}
		return state.ApplyResult{}, fmt.Errorf("%w: %v", ErrLogError, err)
	}

	result, ok := future.Response().(state.ApplyResult)
	if !ok {
		return state.ApplyResult{}, fmt.Errorf("%w: unexpected apply response type", ErrLogError)
	}
	return result, nil
}

// LeaderInfo describes the current leader, if known.
type LeaderInfo struct {
	ID   string
	Addr string
}

// Leader returns the current leader's address and id, if any is known.
func (l *Log) Leader() (LeaderInfo, bool) {
	addr, id := l.raft.LeaderWithID()
	if addr == "" {
		return LeaderInfo{}, false
	}
	return LeaderInfo{ID: string(id), Addr: string(addr)}, true
}

// IsLeader reports whether this node is the current leader.
func (l *Log) IsLeader() bool {
	return l.raft.State() == raft.Leader
}

// LeaderCh returns raft's leadership-change notification channel. A
// leadership-scoped task (lease sweep, repair) should be started each
// time this channel yields true and cancelled each time it yields
// false, per spec §9.
func (l *Log) LeaderCh() <-chan bool {
	return l.raft.LeaderCh()
}

// Shutdown stops the raft node.
func (l *Log) Shutdown() error {
	return l.raft.Shutdown().Error()
}
