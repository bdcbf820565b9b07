package frontend

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meghanachitturi5678/gfsmaster/internal/consensus"
	"github.com/meghanachitturi5678/gfsmaster/internal/lease"
	"github.com/meghanachitturi5678/gfsmaster/internal/membership"
	"github.com/meghanachitturi5678/gfsmaster/internal/state"
	"github.com/meghanachitturi5678/gfsmaster/internal/wire"
)

// fakeLog stands in for internal/consensus.Log: it applies proposed
// commands straight to the machine, as if every propose committed
// instantly on a single-node cluster.
type fakeLog struct {
	machine  *state.Machine
	isLeader bool
	leader   consensus.LeaderInfo
}

func (f *fakeLog) Propose(cmd state.Command) (state.ApplyResult, error) {
	return f.machine.Apply(cmd), nil
}

func (f *fakeLog) Leader() (consensus.LeaderInfo, bool) {
	if f.leader.Addr == "" {
		return consensus.LeaderInfo{}, false
	}
	return f.leader, true
}

func (f *fakeLog) IsLeader() bool { return f.isLeader }

func newTestServer() (*Server, *fakeLog, *membership.Tracker) {
	machine := state.NewMachine()
	log := &fakeLog{machine: machine, isLeader: true}
	tracker := membership.NewTracker(time.Minute, nil)
	leases := lease.NewManager(machine, log, 30*time.Second, nil, nil)
	s := New("", machine, tracker, log, leases, 2, 1024, nil, nil)
	return s, log, tracker
}

func TestDispatchRedirectsWhenNotLeader(t *testing.T) {
	s, log, _ := newTestServer()
	log.isLeader = false
	log.leader = consensus.LeaderInfo{ID: "node-2", Addr: "10.0.0.2:9000"}

	resp := s.dispatch(wire.NewRequest(wire.CmdListFiles, nil))
	assert.Equal(t, wire.StatusRedirect, resp.Status)
	assert.Equal(t, "10.0.0.2", resp.Payload["leader_host"])
	assert.Equal(t, 9000, resp.Payload["leader_port"])
}

func TestUploadRejectsWhenNoCapacity(t *testing.T) {
	s, _, _ := newTestServer() // no chunk servers have heartbeated

	resp := s.dispatch(wire.NewRequest(wire.CmdUpload, map[string]interface{}{
		"filename":  "f",
		"file_size": int64(2048),
	}))
	assert.Equal(t, wire.StatusError, resp.Status)
	assert.Equal(t, "no capacity", resp.Payload["message"])
}

func TestUploadPlacesChunksAcrossLiveServers(t *testing.T) {
	s, _, tracker := newTestServer()
	tracker.Touch("cs1")
	tracker.Touch("cs2")
	tracker.Touch("cs3")

	resp := s.dispatch(wire.NewRequest(wire.CmdUpload, map[string]interface{}{
		"filename":  "f",
		"file_size": int64(2500), // chunkSize 1024 -> 3 chunks
	}))
	require.Equal(t, wire.StatusSuccess, resp.Status)

	chunks, ok := resp.Payload["chunks"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, chunks, 3)

	counts := map[string]int{}
	for _, v := range chunks {
		servers := v.([]string)
		assert.Len(t, servers, 2, "replication factor is 2")
		for _, srv := range servers {
			counts[srv]++
		}
	}
	for srv, c := range counts {
		assert.LessOrEqual(t, c, 2, "placement should not pile every chunk onto one server: %s got %d", srv, c)
	}
}

func TestUploadRejectsDuplicateFilename(t *testing.T) {
	s, _, tracker := newTestServer()
	tracker.Touch("cs1")
	tracker.Touch("cs2")

	req := wire.NewRequest(wire.CmdUpload, map[string]interface{}{"filename": "f", "file_size": int64(10)})
	first := s.dispatch(req)
	require.Equal(t, wire.StatusSuccess, first.Status)

	second := s.dispatch(req)
	assert.Equal(t, wire.StatusError, second.Status)
	assert.Equal(t, "already exists", second.Payload["message"])
}

func TestDownloadReturnsKnownFileChunks(t *testing.T) {
	s, _, tracker := newTestServer()
	tracker.Touch("cs1")
	tracker.Touch("cs2")
	s.dispatch(wire.NewRequest(wire.CmdUpload, map[string]interface{}{"filename": "f", "file_size": int64(10)}))

	resp := s.dispatch(wire.NewRequest(wire.CmdDownload, map[string]interface{}{"filename": "f"}))
	require.Equal(t, wire.StatusSuccess, resp.Status)
	chunkIDs, ok := resp.Payload["chunk_ids"].([]string)
	require.True(t, ok)
	assert.Len(t, chunkIDs, 1)
}

func TestDownloadUnknownFileIsError(t *testing.T) {
	s, _, _ := newTestServer()
	resp := s.dispatch(wire.NewRequest(wire.CmdDownload, map[string]interface{}{"filename": "ghost"}))
	assert.Equal(t, wire.StatusError, resp.Status)
}

func TestLeaseThenAlreadyLeased(t *testing.T) {
	s, _, tracker := newTestServer()
	tracker.Touch("cs1")
	tracker.Touch("cs2")
	s.dispatch(wire.NewRequest(wire.CmdUpload, map[string]interface{}{"filename": "f", "file_size": int64(10)}))

	req := wire.NewRequest(wire.CmdLease, map[string]interface{}{"filename": "f", "client_id": "client-1"})
	first := s.dispatch(req)
	require.Equal(t, wire.StatusSuccess, first.Status)

	second := s.dispatch(wire.NewRequest(wire.CmdLease, map[string]interface{}{"filename": "f", "client_id": "client-2"}))
	assert.Equal(t, wire.StatusError, second.Status)
	assert.Equal(t, "already leased", second.Payload["message"])
}

func TestUnleaseThenReLeaseSucceeds(t *testing.T) {
	s, _, tracker := newTestServer()
	tracker.Touch("cs1")
	tracker.Touch("cs2")
	s.dispatch(wire.NewRequest(wire.CmdUpload, map[string]interface{}{"filename": "f", "file_size": int64(10)}))
	s.dispatch(wire.NewRequest(wire.CmdLease, map[string]interface{}{"filename": "f", "client_id": "client-1"}))

	unleaseResp := s.dispatch(wire.NewRequest(wire.CmdUnlease, map[string]interface{}{"filename": "f"}))
	require.Equal(t, wire.StatusSuccess, unleaseResp.Status)

	resp := s.dispatch(wire.NewRequest(wire.CmdLease, map[string]interface{}{"filename": "f", "client_id": "client-2"}))
	assert.Equal(t, wire.StatusSuccess, resp.Status)
}

func TestProposeErrorRedirectsOnNotLeader(t *testing.T) {
	s, log, _ := newTestServer()
	log.leader = consensus.LeaderInfo{ID: "node-2", Addr: "10.0.0.2:9000"}

	resp := s.proposeError(errors.New("wrapped")) // direct call: exercise the switch, not the wrap
	assert.Equal(t, wire.StatusError, resp.Status)

	resp = s.proposeError(consensus.ErrNotLeader)
	assert.Equal(t, wire.StatusRedirect, resp.Status)
}

func TestListFilesReturnsSortedNames(t *testing.T) {
	s, _, tracker := newTestServer()
	tracker.Touch("cs1")
	tracker.Touch("cs2")
	for _, name := range []string{"zeta", "alpha"} {
		s.dispatch(wire.NewRequest(wire.CmdUpload, map[string]interface{}{"filename": name, "file_size": int64(1)}))
	}

	resp := s.dispatch(wire.NewRequest(wire.CmdListFiles, nil))
	require.Equal(t, wire.StatusSuccess, resp.Status)
	files := resp.Payload["files"].([]string)
	assert.Equal(t, []string{"alpha", "zeta"}, files)
}
