// SPDX-License-Identifier: GPL-2.0-or-later

// Package system reports host resource usage.
package system

import (
	"context"
	"fmt"
	"time"

	"camrec/pkg/storage"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status is a host resource usage snapshot.
type Status struct {
	CPUUsage           int
	RAMUsage           int
	DiskUsage          int
	DiskUsageFormatted string
}

type cpuFunc func(context.Context, time.Duration, bool) ([]float64, error)
type ramFunc func() (*mem.VirtualMemoryStat, error)
type diskFunc func() (storage.DiskUsage, error)

// System samples cpu, ram and disk usage on demand.
type System struct {
	cpu  cpuFunc
	ram  ramFunc
	disk diskFunc

	sampleDuration time.Duration
}

func New(disk diskFunc) *System {
	return &System{
		cpu:  cpu.PercentWithContext,
		ram:  mem.VirtualMemory,
		disk: disk,

		sampleDuration: 500 * time.Millisecond,
	}
}

// Status blocks for the cpu sample duration.
func (s *System) Status(ctx context.Context) (Status, error) {
	cpuUsage, err := s.cpu(ctx, s.sampleDuration, false)
	if err != nil {
		return Status{}, fmt.Errorf("cpu usage: %w", err)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return Status{}, fmt.Errorf("ram usage: %w", err)
	}
	diskUsage, err := s.disk()
	if err != nil {
		return Status{}, fmt.Errorf("disk usage: %w", err)
	}

	return Status{
		CPUUsage:           int(cpuUsage[0]),
		RAMUsage:           int(ramUsage.UsedPercent),
		DiskUsage:          diskUsage.Percent,
		DiskUsageFormatted: diskUsage.Formatted,
	}, nil
}
