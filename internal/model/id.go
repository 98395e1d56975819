package model

import "github.com/google/uuid"

// VmId is a time-ordered 128-bit identifier rendered as a 36-character
// canonical UUID (four hyphens). Chosen by the Manager; uniqueness within
// a worker is the Manager's responsibility.
type VmId string

// NewVmID mints a fresh, time-ordered VmId. uuid.NewV7 keeps ids roughly
// sortable by creation time.
func NewVmID() VmId {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system clock/rand source is broken beyond
		// repair; fall back to a random v4 rather than panicking the actor.
		id = uuid.New()
	}
	return VmId(id.String())
}

func (id VmId) String() string {
	return string(id)
}
