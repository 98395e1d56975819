package model

import (
	"encoding/json"
	"fmt"
)

const bytesPerMB = 1048576

// VmSpec is the platform-agnostic description of one VM, produced upstream
// of the Manager. Immutable after construction.
type VmSpec struct {
	Toplevel              string   `json:"toplevel"`
	KernelPath            string   `json:"kernelPath"`
	InitrdPath            *string  `json:"initrdPath,omitempty"`
	DiskImagePath         string   `json:"diskImagePath"`
	Cmdline               string   `json:"cmdline"`
	CPU                   int      `json:"cpu"`
	MemoryMB              int      `json:"memoryMb"`
	NetworkAllowedDomains []string `json:"networkAllowedDomains"`
}

// ContentHash derives from Toplevel and is the VM's desired-state fingerprint.
func (s *VmSpec) ContentHash() string {
	return s.Toplevel
}

// MemoryBytes converts MemoryMB to bytes for the backend config translation.
func (s *VmSpec) MemoryBytes() int64 {
	return int64(s.MemoryMB) * bytesPerMB
}

// snakeCaseAliases are the rejected snake_case spellings of the wire keys.
// Presence of any of these in the incoming object is a hard rejection, even
// if the correct camelCase key is also present.
var snakeCaseAliases = []string{
	"kernel_path",
	"initrd_path",
	"disk_image_path",
	"memory_mb",
	"network_allowed_domains",
}

// UnmarshalJSON decodes only the camelCase wire form, rejecting
// snake_case key variants while tolerating and ignoring any other unknown
// key. Decoding first into a raw map (rather than json.Decoder with
// DisallowUnknownFields) is deliberate: DisallowUnknownFields would also
// reject legitimate unknown keys that should just be ignored.
func (s *VmSpec) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("vmspec: %w", err)
	}

	for _, alias := range snakeCaseAliases {
		if _, present := raw[alias]; present {
			return fmt.Errorf("vmspec: rejected snake_case key %q", alias)
		}
	}

	// wire has no UnmarshalJSON method, so this unmarshal uses encoding/json's
	// default struct decoding instead of recursing back into this method.
	type wire VmSpec
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("vmspec: %w", err)
	}

	if w.Toplevel == "" {
		return fmt.Errorf("vmspec: missing required field %q", "toplevel")
	}
	if w.KernelPath == "" {
		return fmt.Errorf("vmspec: missing required field %q", "kernelPath")
	}
	if w.DiskImagePath == "" {
		return fmt.Errorf("vmspec: missing required field %q", "diskImagePath")
	}
	if _, present := raw["cpu"]; !present {
		return fmt.Errorf("vmspec: missing required field %q", "cpu")
	}
	if w.CPU < 1 {
		return fmt.Errorf("vmspec: cpu must be >= 1, got %d", w.CPU)
	}
	if _, present := raw["memoryMb"]; !present {
		return fmt.Errorf("vmspec: missing required field %q", "memoryMb")
	}
	if w.MemoryMB < 1 {
		return fmt.Errorf("vmspec: memoryMb must be >= 1, got %d", w.MemoryMB)
	}
	if w.NetworkAllowedDomains == nil {
		w.NetworkAllowedDomains = []string{}
	}

	*s = VmSpec(w)
	return nil
}
