package state

import "errors"

// Error kinds surfaced to clients, per spec §7. NotLeader and
// CommitTimeout originate in internal/consensus, not here; this file
// covers the errors the state machine and its proposer-side callers
// can raise.
var (
	// ErrNotFound is returned for an unknown filename on download/list.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned for upload of an existing filename.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNoCapacity is returned when no live chunk servers exist at
	// upload time; the upload is rejected rather than committed with
	// empty placement.
	ErrNoCapacity = errors.New("no capacity")
)
