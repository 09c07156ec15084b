//go:build !(js && wasm)

// Package detector queries the WebGPU adapter and recommends dispatch and
// memory settings for grid kernels.
package detector

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// BudgetEnv overrides the device memory budget, in MiB.
const BudgetEnv = "FLUXGRID_BUDGET_MB"

// AdapterEnv selects an adapter whose name or vendor contains its value.
const AdapterEnv = "FLUXGRID_ADAPTER"

const defaultBudget = 128 * 1024 * 1024

// buffersPerKernel is the number of float32 buffers an element-wise grid
// kernel keeps alive at once: two operands, the result and its staging copy.
const buffersPerKernel = 4

// ErrUnavailable is returned when no adapter can be opened.
var ErrUnavailable = errors.New("gpu unavailable")

/* ---------- public API ---------- */

// Report is a portable summary of the current adapter/device caps.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"` // "native" or "wasm"
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
	// 1D workgroup size for element-wise grid kernels.
	WorkgroupX uint32 `json:"workgroup_x"`

	// Soft budget in bytes for operand, result and staging buffers.
	BudgetBytes uint64 `json:"budget_bytes"`

	// Largest number of samples (all batch slots, padding included) one
	// element-wise kernel may touch.
	MaxSamples int `json:"max_samples"`
}

// DetectJSON runs Detect and returns the JSON string.
func DetectJSON() (string, error) {
	rep, err := Detect()
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect queries the preferred adapter and synthesizes a report.
func Detect() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("%w: wgpu.CreateInstance returned nil", ErrUnavailable)
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: request adapter: %v", ErrUnavailable, err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: no adapter", ErrUnavailable)
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	lim := Limits{
		MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     limits.Limits.MaxBufferSize,
	}
	return &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      lim,
		Features:    feats,
		Recommended: Recommend(lim, budgetFromEnv()),
		Env:         pickEnv([]string{BudgetEnv, AdapterEnv}),
	}, nil
}

// Recommend derives kernel settings from device limits and a memory budget.
func Recommend(l Limits, budget uint64) Recommendations {
	wgX := chooseWorkgroup(l)
	return Recommendations{
		WorkgroupX:  wgX,
		BudgetBytes: budget,
		MaxSamples:  maxSamples(l, wgX, budget),
	}
}

/* ---------- helpers ---------- */

func chooseWorkgroup(l Limits) uint32 {
	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if c <= l.MaxComputeWorkgroupSizeX && c <= l.MaxComputeInvocationsPerWorkgroup {
			return c
		}
	}
	return 1
}

// maxSamples caps a kernel by the memory budget, the storage binding size
// and the number of workgroups one dispatch can launch.
func maxSamples(l Limits, wgX uint32, budget uint64) int {
	n := budget / (4 * buffersPerKernel)
	if b := l.MaxStorageBufferBindingSize / 4; b > 0 && b < n {
		n = b
	}
	if b := l.MaxBufferSize / 4; b > 0 && b < n {
		n = b
	}
	if d := uint64(l.MaxComputeWorkgroupsPerDimension) * uint64(wgX); d > 0 && d < n {
		n = d
	}
	return int(n)
}

func budgetFromEnv() uint64 {
	if mbStr := os.Getenv(BudgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			return uint64(mb) * 1024 * 1024
		}
	}
	return defaultBudget
}

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
