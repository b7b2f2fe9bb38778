package sensor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"vagus/internal/logging"
)

// SystemSource samples host vitals via gopsutil.
type SystemSource struct {
	// DiskPath is the mount point measured for disk usage. Defaults to "/".
	DiskPath string
}

// NewSystemSource returns a source measuring the root filesystem.
func NewSystemSource() *SystemSource {
	return &SystemSource{DiskPath: "/"}
}

// Sample reads CPU, memory, and disk usage. A failure in any single probe
// fails the whole sample; callers treat that as "no new evidence".
func (s *SystemSource) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Timestamp:  time.Now(),
		GPUPercent: -1, // no portable GPU probe; left unavailable
	}

	// Interval 0 compares against the previous call instead of blocking.
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Snapshot{}, err
	}
	if len(cpuPercents) > 0 {
		snap.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.MemoryPercent = vm.UsedPercent

	path := s.DiskPath
	if path == "" {
		path = "/"
	}
	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return Snapshot{}, err
	}
	snap.DiskPercent = du.UsedPercent

	logging.For("sensor").Debug("sampled vitals",
		zap.Float64("cpu", snap.CPUPercent),
		zap.Float64("memory", snap.MemoryPercent),
		zap.Float64("disk", snap.DiskPercent),
	)
	return snap, nil
}
