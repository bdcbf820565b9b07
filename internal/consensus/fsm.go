package consensus

import (
	"fmt"
	"io"

	"github.com/hashicorp/raft"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/meghanachitturi5678/gfsmaster/internal/state"
)

// fsm adapts the domain state machine to raft.FSM. Apply here is
// invoked by raft in strict commit order on every peer, which is what
// gives the rest of the master its "apply callback" (spec §4.1's
// subscribe contract).
type fsm struct {
	machine *state.Machine
}

func newFSM(machine *state.Machine) *fsm {
	return &fsm{machine: machine}
}

// Apply implements raft.FSM. It decodes the committed log entry and
// hands it to the domain state machine, never touching the clock,
// randomness, or the network itself.
func (f *fsm) Apply(entry *raft.Log) interface{} {
	var cmd state.Command
	if err := msgpack.Unmarshal(entry.Data, &cmd); err != nil {
		return state.ApplyResult{Err: fmt.Errorf("consensus: decode log entry: %w", err)}
	}
	return f.machine.Apply(cmd)
}

// Snapshot implements raft.FSM.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	return f.machine.RaftSnapshot()
}

// Restore implements raft.FSM.
func (f *fsm) Restore(rc io.ReadCloser) error {
	return f.machine.Restore(rc)
}
