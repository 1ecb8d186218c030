package sysmon

import (
	"context"
	"fmt"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"time"
)

const nvidiaSmiTimeout = 10 * time.Second

// GPUStats is one GPU's telemetry sampled from nvidia-smi.
type GPUStats struct {
	Name               string  `json:"name"`
	MemoryUsedMB       int     `json:"memory_used_mb"`
	MemoryTotalMB      int     `json:"memory_total_mb"`
	UtilizationPercent int     `json:"utilization_percent"`
	TemperatureC       int     `json:"temperature_c"`
	PowerDrawW         float64 `json:"power_draw_w"`
}

// GPUProcess is one compute process currently on the GPU.
type GPUProcess struct {
	PID         int    `json:"pid"`
	GPUMemoryMB int    `json:"gpu_memory_mb"`
	Name        string `json:"name"`
}

// GPU queries nvidia-smi for the first GPU's stats.
func GPU(ctx context.Context) (*GPUStats, error) {
	ctx, cancel := context.WithTimeout(ctx, nvidiaSmiTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.used,memory.total,utilization.gpu,temperature.gpu,power.draw",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w", err)
	}

	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	stats, err := parseGPULine(line)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GPUProcesses queries nvidia-smi for compute processes.
func GPUProcesses(ctx context.Context) ([]GPUProcess, error) {
	ctx, cancel := context.WithTimeout(ctx, nvidiaSmiTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-compute-apps=pid,used_memory,process_name",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi failed: %w", err)
	}

	return parseGPUProcesses(string(out)), nil
}

func parseGPULine(line string) (*GPUStats, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 6 {
		return nil, fmt.Errorf("unexpected nvidia-smi output: %q", line)
	}
	return &GPUStats{
		Name:               strings.TrimSpace(parts[0]),
		MemoryUsedMB:       nvidiaInt(parts[1], 0),
		MemoryTotalMB:      nvidiaInt(parts[2], 0),
		UtilizationPercent: nvidiaInt(parts[3], 0),
		TemperatureC:       nvidiaInt(parts[4], 0),
		PowerDrawW:         nvidiaFloat(parts[5], 0),
	}, nil
}

func parseGPUProcesses(out string) []GPUProcess {
	var procs []GPUProcess
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, ",")
		if len(parts) < 3 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		procs = append(procs, GPUProcess{
			PID:         pid,
			GPUMemoryMB: nvidiaInt(parts[1], 0),
			Name:        path.Base(strings.TrimSpace(parts[2])),
		})
	}
	return procs
}

// nvidia-smi reports "N/A" or "[N/A]" for fields some GPUs do not expose.
func nvidiaField(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	v = strings.TrimPrefix(v, "[")
	v = strings.TrimSuffix(v, "]")
	if v == "" || strings.EqualFold(v, "N/A") {
		return "", false
	}
	return v, true
}

func nvidiaInt(raw string, def int) int {
	v, ok := nvidiaField(raw)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func nvidiaFloat(raw string, def float64) float64 {
	v, ok := nvidiaField(raw)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
