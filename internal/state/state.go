// Package state implements the master's deterministic namespace and
// chunk-location state machine (C2). Apply is a pure function of the
// committed command stream: it never reads the wall clock, randomness,
// or the network, so that every replica that applies the same command
// sequence ends up byte-identical (invariant I6).
package state

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/vmihailenco/msgpack/v5"
)

// Lease is the per-file exclusive claim record.
type Lease struct {
	Holder    string `msgpack:"holder"`
	ExpiresAt int64  `msgpack:"expires_at"` // unix nanoseconds, set by the leader at propose time
}

// CommandKind tags the variants of a committed command.
type CommandKind string

// Command kinds, per spec §4.1.
const (
	KindAddFile        CommandKind = "add_file"
	KindLeaseFile      CommandKind = "lease_file"
	KindUnleaseFile    CommandKind = "unlease_file"
	KindUpdateReplicas CommandKind = "update_replicas"
)

// Command is the tagged union committed to the replicated log.
// Placement is carried inside AddFile so that every replica observes
// the same binding; placement decisions made from volatile membership
// are thus frozen into the log at propose time (spec §9).
type Command struct {
	Kind CommandKind `msgpack:"kind"`

	// AddFile fields.
	Filename  string              `msgpack:"filename,omitempty"`
	ChunkIDs  []string            `msgpack:"chunk_ids,omitempty"`
	Placement map[string][]string `msgpack:"placement,omitempty"` // chunk id -> servers

	// LeaseFile fields.
	Holder    string `msgpack:"holder,omitempty"`
	ExpiresAt int64  `msgpack:"expires_at,omitempty"`

	// UpdateReplicas fields.
	ChunkID  string   `msgpack:"chunk_id,omitempty"`
	Replicas []string `msgpack:"replicas,omitempty"`
}

// ApplyResult is handed back to the proposer after a command has been
// applied, so it can build a response without a second read lock.
type ApplyResult struct {
	Err error
}

// Machine is the replicated namespace and chunk-location state.
// Mutated only from the consensus apply callback, which is
// single-threaded per peer; every other access takes the read lock.
type Machine struct {
	mu sync.RWMutex

	// fileMap: filename -> ordered chunk ids.
	fileMap map[string][]string

	// chunkLocations: chunk id -> replica set (servers holding it).
	chunkLocations map[string]map[string]struct{}

	// leases: filename -> current lease, absent means free.
	leases map[string]Lease
}

// NewMachine returns an empty state machine.
func NewMachine() *Machine {
	return &Machine{
		fileMap:        make(map[string][]string),
		chunkLocations: make(map[string]map[string]struct{}),
		leases:         make(map[string]Lease),
	}
}

// Apply applies a single committed command. Apart from Restore, which
// replaces the whole state from a snapshot, it is the only function in
// this package that mutates Machine state, and it is what C1 calls, in
// commit order, from its subscribe callback.
func (m *Machine) Apply(cmd Command) ApplyResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd.Kind {
	case KindAddFile:
		return m.applyAddFile(cmd)
	case KindLeaseFile:
		return m.applyLeaseFile(cmd)
	case KindUnleaseFile:
		return m.applyUnleaseFile(cmd)
	case KindUpdateReplicas:
		return m.applyUpdateReplicas(cmd)
	default:
		return ApplyResult{Err: fmt.Errorf("state: unknown command kind %q", cmd.Kind)}
	}
}

// applyAddFile installs a new file if absent; idempotent if present,
// since the client already observed success at propose time.
func (m *Machine) applyAddFile(cmd Command) ApplyResult {
	if _, exists := m.fileMap[cmd.Filename]; exists {
		return ApplyResult{}
	}
	chunkIDs := make([]string, len(cmd.ChunkIDs))
	copy(chunkIDs, cmd.ChunkIDs)
	m.fileMap[cmd.Filename] = chunkIDs

	for _, chunkID := range chunkIDs {
		servers := cmd.Placement[chunkID]
		set := make(map[string]struct{}, len(servers))
		for _, s := range servers {
			set[s] = struct{}{}
		}
		m.chunkLocations[chunkID] = set
	}
	return ApplyResult{}
}

// applyLeaseFile unconditionally installs a lease. Conflict detection
// is the proposer's duty (spec §4.5); the apply step trusts the
// command it was handed.
func (m *Machine) applyLeaseFile(cmd Command) ApplyResult {
	m.leases[cmd.Filename] = Lease{Holder: cmd.Holder, ExpiresAt: cmd.ExpiresAt}
	return ApplyResult{}
}

// applyUnleaseFile deletes a lease if present. Idempotent.
func (m *Machine) applyUnleaseFile(cmd Command) ApplyResult {
	delete(m.leases, cmd.Filename)
	return ApplyResult{}
}

// applyUpdateReplicas overwrites a chunk's replica set. A no-op if the
// chunk id is unknown, since a stale repair proposal can race a
// (hypothetical, currently unsupported) deletion.
func (m *Machine) applyUpdateReplicas(cmd Command) ApplyResult {
	if _, ok := m.chunkLocations[cmd.ChunkID]; !ok {
		return ApplyResult{}
	}
	set := make(map[string]struct{}, len(cmd.Replicas))
	for _, s := range cmd.Replicas {
		set[s] = struct{}{}
	}
	m.chunkLocations[cmd.ChunkID] = set
	return ApplyResult{}
}

// Snapshot is a point-in-time, read-locked view handed to callers that
// need to reason about several pieces of state together (the repair
// loop's scan, the lease expiry sweep, and the lease gauge refresh).
type Snapshot struct {
	FileChunks     map[string][]string
	ChunkLocations map[string][]string
	Leases         map[string]Lease
}

// Snapshot takes the read lock and copies out everything needed so
// the caller can release the lock before doing any I/O or proposing,
// per the no-lock-across-propose liveness rule in spec §5.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fileChunks := make(map[string][]string, len(m.fileMap))
	for f, chunks := range m.fileMap {
		cp := make([]string, len(chunks))
		copy(cp, chunks)
		fileChunks[f] = cp
	}

	chunkLocations := make(map[string][]string, len(m.chunkLocations))
	for c, set := range m.chunkLocations {
		chunkLocations[c] = setToSortedSlice(set)
	}

	leases := make(map[string]Lease, len(m.leases))
	for f, l := range m.leases {
		leases[f] = l
	}

	return Snapshot{FileChunks: fileChunks, ChunkLocations: chunkLocations, Leases: leases}
}

// FileExists reports whether filename has been created.
func (m *Machine) FileExists(filename string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.fileMap[filename]
	return ok
}

// FileChunks returns the ordered chunk ids for filename.
func (m *Machine) FileChunks(filename string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks, ok := m.fileMap[filename]
	if !ok {
		return nil, false
	}
	cp := make([]string, len(chunks))
	copy(cp, chunks)
	return cp, true
}

// ListFiles returns every filename, sorted.
func (m *Machine) ListFiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.fileMap))
	for f := range m.fileMap {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}

// Lease returns the current lease for filename, if any.
func (m *Machine) Lease(filename string) (Lease, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leases[filename]
	return l, ok
}

// Replicas returns the current replica set for a chunk id.
func (m *Machine) Replicas(chunkID string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.chunkLocations[chunkID]
	if !ok {
		return nil, false
	}
	return setToSortedSlice(set), true
}

// ReplicaCounts returns, for every server named in any replica set,
// the number of chunk replicas it currently holds. Used by the
// placement engine to rank servers by load without taking the lock
// itself.
func (m *Machine) ReplicaCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, set := range m.chunkLocations {
		for server := range set {
			counts[server]++
		}
	}
	return counts
}

func setToSortedSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// persistentState is the msgpack-encoded snapshot payload. A portable,
// documented format is used instead of encoding/gob, which ties the
// snapshot to one language's runtime (spec §9).
type persistentState struct {
	FileMap        map[string][]string `msgpack:"file_map"`
	ChunkLocations map[string][]string `msgpack:"chunk_locations"`
	Leases         map[string]Lease    `msgpack:"leases"`
}

// raftSnapshot adapts Machine to raft.FSMSnapshot.
type raftSnapshot struct {
	data []byte
}

func (s *raftSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *raftSnapshot) Release() {}

// RaftSnapshot encodes the current state as a raft.FSMSnapshot; the
// consensus package's raft.FSM adapter returns it from Snapshot.
func (m *Machine) RaftSnapshot() (raft.FSMSnapshot, error) {
	snap := m.Snapshot()

	flatLocations := make(map[string][]string, len(snap.ChunkLocations))
	for c, servers := range snap.ChunkLocations {
		flatLocations[c] = servers
	}

	data, err := msgpack.Marshal(persistentState{
		FileMap:        snap.FileChunks,
		ChunkLocations: flatLocations,
		Leases:         snap.Leases,
	})
	if err != nil {
		return nil, fmt.Errorf("state: marshal snapshot: %w", err)
	}
	return &raftSnapshot{data: data}, nil
}

// Restore replaces all state with the snapshot; the consensus
// package's raft.FSM adapter calls it from its own Restore.
func (m *Machine) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("state: read snapshot: %w", err)
	}
	var ps persistentState
	if err := msgpack.Unmarshal(body, &ps); err != nil {
		return fmt.Errorf("state: unmarshal snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fileMap = ps.FileMap
	if m.fileMap == nil {
		m.fileMap = make(map[string][]string)
	}
	m.leases = ps.Leases
	if m.leases == nil {
		m.leases = make(map[string]Lease)
	}
	m.chunkLocations = make(map[string]map[string]struct{}, len(ps.ChunkLocations))
	for c, servers := range ps.ChunkLocations {
		set := make(map[string]struct{}, len(servers))
		for _, s := range servers {
			set[s] = struct{}{}
		}
		m.chunkLocations[c] = set
	}
	return nil
}
