package model

// Metrics is a VM's point-in-time resource snapshot.
type Metrics struct {
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage uint64  `json:"memoryUsage"`
	NetRx       uint64  `json:"netRx"`
	NetTx       uint64  `json:"netTx"`
}

// VmInfo is the external snapshot projection of one live VM. Drift
// (desired != observed) is a derived predicate, never stored.
type VmInfo struct {
	Id           VmId     `json:"id"`
	WorkerId     string   `json:"workerId"`
	Status       VmStatus `json:"status"`
	DesiredHash  string   `json:"desiredHash"`
	ObservedHash string   `json:"observedHash"`
	Metrics      Metrics  `json:"metrics"`
}

// Drifted reports whether the VM's observed configuration differs from
// what was requested.
func (i VmInfo) Drifted() bool {
	return i.DesiredHash != i.ObservedHash
}

// WorkerInfo is the worker-level status snapshot.
type WorkerInfo struct {
	Id              string `json:"id"`
	Healthy         bool   `json:"healthy"`
	Generation      uint64 `json:"generation"`
	RunningVmsCount int    `json:"runningVmsCount"`
}
