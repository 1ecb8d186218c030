// Package sysmon reports host telemetry for the dashboard: top processes,
// disk usage, host info and GPU statistics.
package sysmon

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
)

const cmdlineDisplayLimit = 120

// ProcessInfo is one process row in the dashboard.
type ProcessInfo struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	Cmdline       string  `json:"cmdline"`
}

// ProcessReport holds the top consumers by CPU and by memory.
type ProcessReport struct {
	TopCPU    []ProcessInfo `json:"top_cpu"`
	TopMemory []ProcessInfo `json:"top_memory"`
	GPU       []GPUProcess  `json:"gpu_processes"`
}

// TopProcesses returns the top limit processes by CPU and memory, plus GPU
// compute processes when nvidia-smi is available. Unreadable processes are
// skipped.
func TopProcesses(ctx context.Context, limit int) (*ProcessReport, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var infos []ProcessInfo
	for _, p := range procs {
		cpu, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			continue
		}
		memPct, err := p.MemoryPercentWithContext(ctx)
		if err != nil {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		cmdline, _ := p.CmdlineWithContext(ctx)
		if cmdline == "" {
			cmdline = name
		}

		var memMB float64
		if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			memMB = round1(float64(memInfo.RSS) / (1024 * 1024))
		}

		infos = append(infos, ProcessInfo{
			PID:           p.Pid,
			Name:          name,
			CPUPercent:    round1(cpu),
			MemoryPercent: round1(float64(memPct)),
			MemoryMB:      memMB,
			Cmdline:       truncateCmdline(cmdline),
		})
	}

	report := &ProcessReport{
		TopCPU:    topBy(infos, limit, func(p ProcessInfo) float64 { return p.CPUPercent }),
		TopMemory: topBy(infos, limit, func(p ProcessInfo) float64 { return p.MemoryPercent }),
	}

	// GPU attribution is best effort; the host may have no NVIDIA tooling.
	if gpuProcs, err := GPUProcesses(ctx); err == nil {
		report.GPU = gpuProcs
	}

	return report, nil
}

// ProcessRunning reports whether any process cmdline matches pattern. Used
// for host services that run outside docker.
func ProcessRunning(ctx context.Context, pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false
	}
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}
		if re.MatchString(cmdline) {
			return true
		}
	}
	return false
}

// HostInfo is the machine summary shown on the info endpoint.
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	UptimeSeconds   uint64 `json:"uptime_seconds"`
}

// Host returns basic host information.
func Host(ctx context.Context) (*HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &HostInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		UptimeSeconds:   info.Uptime,
	}, nil
}

func topBy(infos []ProcessInfo, limit int, key func(ProcessInfo) float64) []ProcessInfo {
	sorted := make([]ProcessInfo, len(infos))
	copy(sorted, infos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return key(sorted[i]) > key(sorted[j])
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func truncateCmdline(cmdline string) string {
	cmdline = strings.TrimSpace(cmdline)
	if len(cmdline) <= cmdlineDisplayLimit {
		return cmdline
	}
	return cmdline[:cmdlineDisplayLimit] + "..."
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
