package sysmon

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskStats is the root filesystem usage summary.
type DiskStats struct {
	Path        string  `json:"path"`
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	AvailableGB float64 `json:"available_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// Disk returns usage for the given mount point.
func Disk(ctx context.Context, mount string) (*DiskStats, error) {
	usage, err := disk.UsageWithContext(ctx, mount)
	if err != nil {
		return nil, err
	}
	return &DiskStats{
		Path:        mount,
		TotalGB:     round1(float64(usage.Total) / (1 << 30)),
		UsedGB:      round1(float64(usage.Used) / (1 << 30)),
		AvailableGB: round1(float64(usage.Free) / (1 << 30)),
		UsedPercent: round1(usage.UsedPercent),
	}, nil
}
