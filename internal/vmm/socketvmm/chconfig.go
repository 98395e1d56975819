package socketvmm

// VmConfig is the native request body for PUT /api/v1/vm.create, shaped
// after the cloud-hypervisor REST API. Optional parts are pointers or
// omitempty fields; those BuildConfig leaves unset (such as Net) stay at
// their zero value and are omitted on the wire.
type VmConfig struct {
	CPUs    CPUsConfig     `json:"cpus"`
	Memory  MemoryConfig   `json:"memory"`
	Payload PayloadConfig  `json:"payload"`
	Disks   []DiskConfig   `json:"disks,omitempty"`
	Net     []NetConfig    `json:"net,omitempty"`
	Rng     *RngConfig     `json:"rng,omitempty"`
	Serial  *ConsoleConfig `json:"serial,omitempty"`
	Console *ConsoleConfig `json:"console,omitempty"`
}

type CPUsConfig struct {
	BootVcpus int `json:"boot_vcpus"`
	MaxVcpus  int `json:"max_vcpus"`
}

type MemoryConfig struct {
	Size int64 `json:"size"`
}

type PayloadConfig struct {
	Kernel  string  `json:"kernel"`
	Initrd  *string `json:"initramfs,omitempty"`
	Cmdline string  `json:"cmdline,omitempty"`
}

type DiskConfig struct {
	Path     string `json:"path"`
	Readonly bool   `json:"readonly"`
}

type NetConfig struct {
	Tap string `json:"tap,omitempty"`
	Mac string `json:"mac,omitempty"`
}

type RngConfig struct {
	Src string `json:"src"`
}

// ConsoleConfig models both serial and console, whose "mode" is the
// only field the default mapping cares about (Off / Null / Tty / File).
type ConsoleConfig struct {
	Mode string `json:"mode"`
}

// VmInfo is the native response body for GET /api/v1/vm.info.
type VmInfo struct {
	State  string   `json:"state"`
	Config VmConfig `json:"config"`
}

// VmCounters is the native response body for GET /api/v1/vm.counters.
type VmCounters struct {
	Block map[string]BlockCounters `json:"block,omitempty"`
	Net   map[string]NetCounters   `json:"net,omitempty"`
}

type BlockCounters struct {
	ReadBytes  uint64 `json:"read_bytes"`
	WriteBytes uint64 `json:"write_bytes"`
}

type NetCounters struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}
