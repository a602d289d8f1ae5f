// Package memstat reports host, process and accelerator memory usage.
package memstat

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"github.com/rs/zerolog/log"
)

const mb = 1024 * 1024

// DeviceError is reported as the device type when no model is loaded.
const DeviceError = "error"

// Report is the memory snapshot returned by /memory.
type Report struct {
	SystemMemoryMB      float64 `json:"system_memory_mb"`
	SystemMemoryPercent float64 `json:"system_memory_percent"`
	ProcessRSSMB        float64 `json:"process_rss_mb"`
	GoHeapMB            float64 `json:"go_heap_mb"`
	DeviceType          string  `json:"device_type"`

	// MPSMemoryMB is always null: the CoreML provider exposes no allocator stats.
	MPSMemoryMB        *float64 `json:"mps_memory_mb"`
	CUDAMemoryMB       *float64 `json:"cuda_memory_mb"`
	ConfigMaxImageSize int      `json:"config_max_image_size"`
}

// GPUQuery returns the memory used on the GPU in MiB.
type GPUQuery func(ctx context.Context) (float64, error)

// Collector builds Reports.
type Collector struct {
	procRoot     string
	device       string
	maxImageSize int
	gpuQuery     GPUQuery
}

// NewCollector returns a Collector reading /proc and querying nvidia-smi
// when device is "cuda".
func NewCollector(device string, maxImageSize int) *Collector {
	return &Collector{
		procRoot:     procfs.DefaultMountPoint,
		device:       device,
		maxImageSize: maxImageSize,
		gpuQuery:     nvidiaSMIMemoryUsed,
	}
}

// Snapshot collects a Report. Individual sources that fail are logged and
// left at their zero value.
func (c *Collector) Snapshot(ctx context.Context) Report {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	r := Report{
		GoHeapMB:           float64(ms.HeapAlloc) / mb,
		DeviceType:         c.device,
		ConfigMaxImageSize: c.maxImageSize,
	}

	if used, percent, err := c.systemMemory(); err == nil {
		r.SystemMemoryMB = used
		r.SystemMemoryPercent = percent
	} else {
		log.Debug().Err(err).Msg("System memory unavailable, falling back to runtime stats")
		r.SystemMemoryMB = float64(ms.Sys) / mb
	}

	if rss, err := c.processRSS(); err == nil {
		r.ProcessRSSMB = rss
	} else {
		r.ProcessRSSMB = float64(ms.Sys) / mb
	}

	if c.device == "cuda" && c.gpuQuery != nil {
		if used, err := c.gpuQuery(ctx); err == nil {
			r.CUDAMemoryMB = &used
		} else {
			log.Debug().Err(err).Msg("CUDA memory query failed")
		}
	}

	return r
}

func (c *Collector) systemMemory() (float64, float64, error) {
	fs, err := procfs.NewFS(c.procRoot)
	if err != nil {
		return 0, 0, err
	}
	mi, err := fs.Meminfo()
	if err != nil {
		return 0, 0, err
	}
	if mi.MemTotal == nil || *mi.MemTotal == 0 {
		return 0, 0, fmt.Errorf("meminfo has no MemTotal")
	}

	total := *mi.MemTotal
	available := uint64(0)
	switch {
	case mi.MemAvailable != nil:
		available = *mi.MemAvailable
	case mi.MemFree != nil:
		available = *mi.MemFree
	}
	used := total - min(available, total)

	// meminfo reports kB
	return float64(used) / 1024, float64(used) / float64(total) * 100, nil
}

func (c *Collector) processRSS() (float64, error) {
	fs, err := procfs.NewFS(c.procRoot)
	if err != nil {
		return 0, err
	}
	p, err := fs.Self()
	if err != nil {
		return 0, err
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, err
	}
	return float64(stat.ResidentMemory()) / mb, nil
}

func nvidiaSMIMemoryUsed(ctx context.Context) (float64, error) {
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.used",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, err
	}
	return parseMemoryUsed(string(out))
}

// parseMemoryUsed reads the first GPU line of nvidia-smi CSV output.
func parseMemoryUsed(out string) (float64, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	v, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected nvidia-smi output %q: %w", line, err)
	}
	return v, nil
}
