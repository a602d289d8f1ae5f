package model

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

const probeTimeout = 5 * time.Second

// RuntimeProber checks the host hardware and whether the ONNX Runtime build
// carries the matching execution provider. The runtime is initialized on
// the first accelerator probe; a library that fails to load leaves only the
// CPU available.
type RuntimeProber struct {
	LibraryPath string
	DeviceID    int
}

func (p RuntimeProber) Available(d Device) bool {
	switch d {
	case DeviceCPU:
		return true
	case DeviceCUDA:
		return hasNvidiaGPU() && p.runtimeLoaded() && providerAppends(d, p.DeviceID)
	case DeviceMPS:
		return runtime.GOOS == "darwin" && p.runtimeLoaded() && providerAppends(d, 0)
	}
	return false
}

func (p RuntimeProber) runtimeLoaded() bool {
	if err := Initialize(p.LibraryPath); err != nil {
		log.Debug().Err(err).Msg("ONNX Runtime not loadable, accelerators disabled")
		return false
	}
	return true
}

// hasNvidiaGPU asks nvidia-smi for the device list.
func hasNvidiaGPU() bool {
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		log.Debug().Msg("nvidia-smi not found, CUDA probing disabled")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi", "-L").Output()
	if err != nil {
		log.Debug().Err(err).Msg("nvidia-smi failed")
		return false
	}
	return strings.Contains(string(out), "GPU")
}

func providerAppends(d Device, deviceID int) bool {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return false
	}
	defer opts.Destroy()

	if err := appendProvider(opts, d, deviceID); err != nil {
		log.Debug().Err(err).Str("device", string(d)).Msg("Execution provider not available")
		return false
	}
	return true
}

// appendProvider registers the execution provider for d. The CPU provider
// is always present and needs no registration.
func appendProvider(opts *ort.SessionOptions, d Device, deviceID int) error {
	switch d {
	case DeviceCPU:
		return nil
	case DeviceCUDA:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("cuda provider options: %w", err)
		}
		defer cudaOpts.Destroy()

		if err := cudaOpts.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
			return fmt.Errorf("cuda provider options: %w", err)
		}
		return opts.AppendExecutionProviderCUDA(cudaOpts)
	case DeviceMPS:
		// Flag 0 = default settings, Neural Engine + GPU
		return opts.AppendExecutionProviderCoreML(0)
	}
	return fmt.Errorf("unknown device %q", d)
}
