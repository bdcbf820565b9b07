// Package config holds the tunables that drive the master's control
// loops. Defaults match the constants table in the specification;
// every field except RaftBindAddr is overridable on the command line
// (cmd/gfsmaster derives RaftBindAddr from its port argument).
package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Config is the full set of runtime tunables for a master node.
type Config struct {
	// ChunkSize is the fixed granularity a file is split into.
	ChunkSize int64

	// ReplicationFactor is the target replica count per chunk.
	ReplicationFactor int

	// HeartbeatInterval is how often a chunk server is expected to ping.
	HeartbeatInterval time.Duration

	// LivenessWindow is how long a chunk server can go silent before
	// it is considered dead.
	LivenessWindow time.Duration

	// LeaseDuration is the TTL granted to a fresh file lease.
	LeaseDuration time.Duration

	// RepairPeriod is how often the leader scans for under-replication.
	RepairPeriod time.Duration

	// LeaseSweepPeriod is how often the leader expires stale leases.
	LeaseSweepPeriod time.Duration

	// ProposeTimeout bounds how long a write waits for commit.
	ProposeTimeout time.Duration

	// DataDir holds the raft log, stable store, and snapshots.
	DataDir string

	// RaftBindAddr is the host:port the consensus transport listens on.
	RaftBindAddr string

	// ChunkServers is the statically configured chunk-server universe
	// (invariant I3): the only identities the heartbeat handler and
	// placement engine will ever consider. It is supplied once at
	// process start and is immutable for the process lifetime; growing
	// the cluster means restarting every master node with an updated
	// list.
	ChunkServers []string
}

// Defaults returns the constants table from the specification.
func Defaults() Config {
	return Config{
		ChunkSize:         2048,
		ReplicationFactor: 2,
		HeartbeatInterval: 5 * time.Second,
		LivenessWindow:    15 * time.Second,
		LeaseDuration:     30 * time.Second,
		RepairPeriod:      15 * time.Second,
		LeaseSweepPeriod:  5 * time.Second,
		ProposeTimeout:    5 * time.Second,
		DataDir:           "gfsmaster-data",
	}
}

// BindFlags registers every tunable on fs, seeded with the given
// defaults. Call Defaults() first if the caller has no preference.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.Int64Var(&c.ChunkSize, "chunk-size", c.ChunkSize, "bytes per chunk")
	fs.IntVar(&c.ReplicationFactor, "replication-factor", c.ReplicationFactor, "target replicas per chunk")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "expected chunk server heartbeat period")
	fs.DurationVar(&c.LivenessWindow, "liveness-window", c.LivenessWindow, "silence duration before a server is dead")
	fs.DurationVar(&c.LeaseDuration, "lease-duration", c.LeaseDuration, "file lease TTL")
	fs.DurationVar(&c.RepairPeriod, "repair-period", c.RepairPeriod, "re-replication scan period")
	fs.DurationVar(&c.LeaseSweepPeriod, "lease-sweep-period", c.LeaseSweepPeriod, "lease expiry sweep period")
	fs.DurationVar(&c.ProposeTimeout, "propose-timeout", c.ProposeTimeout, "max time to wait for a command to commit")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory for the raft log, stable store, and snapshots")
	fs.StringArrayVar(&c.ChunkServers, "chunk-server", c.ChunkServers, "address of a chunk server in the static universe (repeatable); heartbeats and placement ignore any identity not listed here")
}

// NumChunks implements num_chunks(file_size) = ceil(file_size / CHUNK_SIZE).
func (c Config) NumChunks(fileSize int64) int {
	if fileSize <= 0 {
		return 0
	}
	n := fileSize / c.ChunkSize
	if fileSize%c.ChunkSize != 0 {
		n++
	}
	return int(n)
}
