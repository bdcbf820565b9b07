package state

import (
	"bytes"
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink is a minimal raft.SnapshotSink backed by an in-memory
// buffer, enough to exercise RaftSnapshot/Restore without a real
// file snapshot store.
type fakeSink struct {
	bytes.Buffer
}

func (s *fakeSink) ID() string    { return "test-snapshot" }
func (s *fakeSink) Cancel() error { return nil }
func (s *fakeSink) Close() error  { return nil }

func TestApplyAddFileIsDeterministicAcrossMachines(t *testing.T) {
	cmd := Command{
		Kind:     KindAddFile,
		Filename: "movie.mp4",
		ChunkIDs: []string{"movie.mp4_chunk_0", "movie.mp4_chunk_1"},
		Placement: map[string][]string{
			"movie.mp4_chunk_0": {"cs2", "cs1"},
			"movie.mp4_chunk_1": {"cs1"},
		},
	}

	a := NewMachine()
	b := NewMachine()
	a.Apply(cmd)
	b.Apply(cmd)

	assert.Equal(t, a.Snapshot(), b.Snapshot(), "two machines applying the same command must end up identical")
}

func TestApplyAddFileIsIdempotentOnReplay(t *testing.T) {
	m := NewMachine()
	cmd := Command{
		Kind:      KindAddFile,
		Filename:  "f",
		ChunkIDs:  []string{"f_chunk_0"},
		Placement: map[string][]string{"f_chunk_0": {"cs1"}},
	}
	m.Apply(cmd)
	m.Apply(cmd) // replay, e.g. after a crash before the commit index advanced

	chunks, ok := m.FileChunks("f")
	require.True(t, ok)
	assert.Equal(t, []string{"f_chunk_0"}, chunks)
}

func TestLeaseLifecycle(t *testing.T) {
	m := NewMachine()
	m.Apply(Command{Kind: KindLeaseFile, Filename: "f", Holder: "client-1", ExpiresAt: 100})

	l, ok := m.Lease("f")
	require.True(t, ok)
	assert.Equal(t, "client-1", l.Holder)
	assert.Equal(t, int64(100), l.ExpiresAt)

	m.Apply(Command{Kind: KindUnleaseFile, Filename: "f"})
	_, ok = m.Lease("f")
	assert.False(t, ok)
}

func TestUnleaseUnknownFileIsNoop(t *testing.T) {
	m := NewMachine()
	result := m.Apply(Command{Kind: KindUnleaseFile, Filename: "never-created"})
	assert.NoError(t, result.Err)
}

func TestUpdateReplicasOnUnknownChunkIsNoop(t *testing.T) {
	m := NewMachine()
	result := m.Apply(Command{Kind: KindUpdateReplicas, ChunkID: "ghost_chunk_0", Replicas: []string{"cs1"}})
	assert.NoError(t, result.Err)
	_, ok := m.Replicas("ghost_chunk_0")
	assert.False(t, ok)
}

func TestUpdateReplicasOverwritesSet(t *testing.T) {
	m := NewMachine()
	m.Apply(Command{
		Kind:      KindAddFile,
		Filename:  "f",
		ChunkIDs:  []string{"f_chunk_0"},
		Placement: map[string][]string{"f_chunk_0": {"cs1", "cs2"}},
	})
	m.Apply(Command{Kind: KindUpdateReplicas, ChunkID: "f_chunk_0", Replicas: []string{"cs3"}})

	replicas, ok := m.Replicas("f_chunk_0")
	require.True(t, ok)
	assert.Equal(t, []string{"cs3"}, replicas)
}

func TestListFilesIsSorted(t *testing.T) {
	m := NewMachine()
	for _, name := range []string{"zeta", "alpha", "mu"} {
		m.Apply(Command{Kind: KindAddFile, Filename: name, ChunkIDs: []string{name + "_chunk_0"}, Placement: map[string][]string{}})
	}
	names := m.ListFiles()
	sorted := append([]string{}, names...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, names)
}

func TestReplicaCountsAggregatesAcrossChunks(t *testing.T) {
	m := NewMachine()
	m.Apply(Command{
		Kind:     KindAddFile,
		Filename: "f",
		ChunkIDs: []string{"f_chunk_0", "f_chunk_1"},
		Placement: map[string][]string{
			"f_chunk_0": {"cs1", "cs2"},
			"f_chunk_1": {"cs1"},
		},
	})
	counts := m.ReplicaCounts()
	assert.Equal(t, 2, counts["cs1"])
	assert.Equal(t, 1, counts["cs2"])
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := NewMachine()
	m.Apply(Command{
		Kind:      KindAddFile,
		Filename:  "f",
		ChunkIDs:  []string{"f_chunk_0"},
		Placement: map[string][]string{"f_chunk_0": {"cs1"}},
	})
	m.Apply(Command{Kind: KindLeaseFile, Filename: "f", Holder: "client-1", ExpiresAt: 42})

	snap, err := m.RaftSnapshot()
	require.NoError(t, err)

	sink := &fakeSink{}
	require.NoError(t, snap.Persist(sink))

	restored := NewMachine()
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	assert.Equal(t, m.Snapshot(), restored.Snapshot())
}
