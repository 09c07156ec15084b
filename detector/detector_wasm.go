//go:build js && wasm

package detector

import (
	"errors"
	"fmt"
)

const (
	BudgetEnv  = "FLUXGRID_BUDGET_MB"
	AdapterEnv = "FLUXGRID_ADAPTER"
)

// ErrUnavailable is returned when no adapter can be opened.
var ErrUnavailable = errors.New("gpu unavailable")

// Report stub for WASM (types defined but not populated).
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"`
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	Recommended Recommendations   `json:"recommended"`
	Limits      Limits            `json:"limits"`
	Features    []string          `json:"features"`
	Env         map[string]string `json:"env,omitempty"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	WorkgroupX  uint32 `json:"workgroup_x"`
	BudgetBytes uint64 `json:"budget_bytes"`
	MaxSamples  int    `json:"max_samples"`
}

// DetectJSON reports that detection is not available in WASM builds.
func DetectJSON() (string, error) {
	return "", fmt.Errorf("%w: no adapter probing in WASM builds", ErrUnavailable)
}

// Detect reports that detection is not available in WASM builds.
func Detect() (*Report, error) {
	return nil, fmt.Errorf("%w: no adapter probing in WASM builds", ErrUnavailable)
}
