package model

// StatusKind is a VmStatus's tag. Failed carries a Reason; the others don't.
type StatusKind string

const (
	StatusCreating StatusKind = "creating"
	StatusRunning  StatusKind = "running"
	StatusPaused   StatusKind = "paused"
	StatusStopped  StatusKind = "stopped"
	StatusFailed   StatusKind = "failed"
)

// VmStatus is the VM lifecycle tagged variant. Initial state after a
// successful Create+Boot is Running; terminal state is Stopped.
type VmStatus struct {
	Kind   StatusKind `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// AsStr returns the canonical external string form.
func (s VmStatus) AsStr() string {
	return string(s.Kind)
}

func Creating() VmStatus { return VmStatus{Kind: StatusCreating} }
func Running() VmStatus  { return VmStatus{Kind: StatusRunning} }
func Paused() VmStatus   { return VmStatus{Kind: StatusPaused} }
func Stopped() VmStatus  { return VmStatus{Kind: StatusStopped} }
func Failed(reason string) VmStatus {
	return VmStatus{Kind: StatusFailed, Reason: reason}
}
