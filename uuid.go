package digs

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// UUID is a thin wrapper over github.com/google/uuid.UUID so callers never
// import the external package directly.
type UUID uuid.UUID

// NilUUID is the zero-value UUID.
var NilUUID UUID

// ParseUUID converts a string to a UUID, returning an error if it is not valid.
func ParseUUID(id string) (UUID, error) {
	u, err := uuid.Parse(id)
	return UUID(u), err
}

// NewUUID returns a new randomly generated UUID. Generation draws from the
// OS entropy pool and can transiently fail under extreme load; this retries
// with a 1ms backoff up to 10 times and panics only if every attempt fails.
func NewUUID() UUID {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return UUID(id)
		}
		time.Sleep(1 * time.Millisecond)
	}
	panic(err)
}

// IsNil reports whether the UUID equals the zero-value UUID.
func (id UUID) IsNil() bool {
	return bytes.Equal(id[:], NilUUID[:])
}

// String returns the canonical string representation of the UUID.
func (id UUID) String() string {
	return uuid.UUID(id).String()
}

// Compare returns -1 if x < y, 1 if x > y, and 0 if they are equal, useful
// for deterministic tie-breaking (e.g. lock contention ordering).
func (x UUID) Compare(y UUID) int {
	return bytes.Compare(x[:], y[:])
}
