package lease

import "errors"

// ErrAlreadyLeased is returned when a fresh lease request targets a
// filename whose lease has not yet expired.
var ErrAlreadyLeased = errors.New("already leased")
