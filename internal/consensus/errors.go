package consensus

import "errors"

// Errors surfaced by Propose, per spec §4.1.
var (
	// ErrNotLeader means this node cannot propose; see Log.Leader
	// for where to redirect the caller.
	ErrNotLeader = errors.New("consensus: not leader")

	// ErrTimeout means the command did not commit within the deadline.
	ErrTimeout = errors.New("consensus: commit timeout")

	// ErrLogError is the catch-all for consensus engine failures.
	ErrLogError = errors.New("consensus: log error")
)
