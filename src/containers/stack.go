package containers

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// StackStep records the outcome of one step of a stack operation.
type StackStep struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
}

// StackResult is the outcome of a stack update or restart.
type StackResult struct {
	Steps   []StackStep `json:"steps"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Version string      `json:"version,omitempty"`
}

// StackVersion returns the checked-out revision of a compose-managed stack
// directory, formatted as "<hash> <subject> (<age>)".
func StackVersion(ctx context.Context, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "-C", dir, "log", "-1", "--format=%h %s (%cr)").Output()
	if err != nil {
		return "", fmt.Errorf("failed to read stack version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// UpdateStack pulls the stack checkout and recreates its containers.
// Image rebuilds are out of scope: compose build does not work from inside a
// container, which is where this server normally runs.
func UpdateStack(ctx context.Context, dir string) *StackResult {
	result := &StackResult{Success: true}

	pull := runStep(ctx, dir, 60*time.Second, "git", "-C", dir, "pull", "origin", "main")
	pull.Name = "git_pull"
	result.Steps = append(result.Steps, pull)
	if pull.Status == "failed" {
		result.Success = false
		result.Error = "git pull failed"
		return result
	}

	// A failed down is not fatal: the stack may simply not be running.
	down := runStep(ctx, dir, 30*time.Second, "docker", "compose", "down")
	down.Name = "compose_down"
	result.Steps = append(result.Steps, down)

	up := runStep(ctx, dir, 180*time.Second, "docker", "compose", "up", "-d")
	up.Name = "restart"
	result.Steps = append(result.Steps, up)
	if up.Status == "failed" {
		result.Success = false
		result.Error = "container restart failed"
		return result
	}

	if version, err := StackVersion(ctx, dir); err == nil {
		result.Version = version
	}
	return result
}

// RestartStack restarts the stack's containers without pulling.
func RestartStack(ctx context.Context, dir string) *StackResult {
	result := &StackResult{Success: true}

	restart := runStep(ctx, dir, 60*time.Second, "docker", "compose", "restart")
	restart.Name = "restart"
	result.Steps = append(result.Steps, restart)
	if restart.Status == "failed" {
		result.Success = false
		result.Error = "compose restart failed"
	}
	return result
}

func runStep(ctx context.Context, dir string, timeout time.Duration, name string, args ...string) StackStep {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()

	step := StackStep{Output: strings.TrimSpace(string(out))}
	if err != nil {
		step.Status = "failed"
	} else {
		step.Status = "done"
	}
	return step
}
