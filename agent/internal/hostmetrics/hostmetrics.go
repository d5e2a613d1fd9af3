// Package hostmetrics samples host CPU, memory, and disk utilization
// for the agent, replacing the teacher's stubbed metrics.Collect (a
// zeroed struct with a TODO citing gopsutil) with a real sampler built
// on the dependency the teacher only ever declared.
package hostmetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sample is one point-in-time reading.
type Sample struct {
	CPUPercent      float64
	MemUsedPercent  float64
	DiskUsedPercent float64
}

// Sampler reads host utilization on demand. It holds no state of its
// own; DiskPath names the mount point to report on (typically the
// agent's run directory).
type Sampler struct {
	DiskPath string
}

// New builds a Sampler reporting on diskPath. An empty diskPath
// defaults to "/".
func New(diskPath string) *Sampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Sampler{DiskPath: diskPath}
}

// Sample takes one reading. CPU percent is measured over a short,
// blocking window (gopsutil's cpu.PercentWithContext with interval=0
// would otherwise return a meaningless instantaneous value on first
// call), so callers should not call Sample from a hot path.
func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return Sample{}, fmt.Errorf("hostmetrics: read cpu percent: %w", err)
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("hostmetrics: read virtual memory: %w", err)
	}

	du, err := disk.UsageWithContext(ctx, s.DiskPath)
	if err != nil {
		return Sample{}, fmt.Errorf("hostmetrics: read disk usage for %s: %w", s.DiskPath, err)
	}

	return Sample{
		CPUPercent:      cpuPercent,
		MemUsedPercent:  vm.UsedPercent,
		DiskUsedPercent: du.UsedPercent,
	}, nil
}
