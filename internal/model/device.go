package model

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Device is the compute backend a session executes on.
type Device string

const (
	DeviceAuto Device = ""
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	// DeviceMPS is the Apple GPU, reached through the CoreML execution provider.
	DeviceMPS Device = "mps"
)

// probeOrder is the priority used when no device is configured.
var probeOrder = []Device{DeviceCUDA, DeviceMPS}

// ParseDevice accepts "", "auto", "cpu", "cuda", "gpu", "mps" and "coreml".
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DeviceAuto, nil
	case "cpu":
		return DeviceCPU, nil
	case "cuda", "gpu":
		return DeviceCUDA, nil
	case "mps", "coreml", "metal":
		return DeviceMPS, nil
	}
	return DeviceAuto, fmt.Errorf("invalid device %q, must be one of: cpu, cuda, mps", s)
}

// Prober reports whether a device can be used on this host.
type Prober interface {
	Available(d Device) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(d Device) bool

func (f ProberFunc) Available(d Device) bool { return f(d) }

// ResolveDevice picks the device a session runs on. An explicit request
// must be available; DeviceAuto probes CUDA, then the Apple GPU, then
// falls back to the CPU.
func ResolveDevice(requested Device, p Prober) (Device, error) {
	if requested == DeviceCPU {
		return DeviceCPU, nil
	}
	if requested != DeviceAuto {
		if !p.Available(requested) {
			log.Error().Str("device", string(requested)).Msg("Requested device is not available")
			return "", fmt.Errorf("%w: %s requested but not present", ErrDeviceUnavailable, requested)
		}
		log.Info().Str("device", string(requested)).Msg("Using specified device")
		return requested, nil
	}

	for _, d := range probeOrder {
		if p.Available(d) {
			log.Info().Str("device", string(d)).Msg("Auto-detected device")
			return d, nil
		}
	}
	log.Info().Str("device", string(DeviceCPU)).Msg("Auto-detected device")
	return DeviceCPU, nil
}
