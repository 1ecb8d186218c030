package containers

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/elee1766/stationd/src/config"
	"github.com/elee1766/stationd/src/sysmon"
)

// ServiceStatus is one managed service with its resolved state.
type ServiceStatus struct {
	Name        string `json:"name"`
	Container   string `json:"container,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
}

// Services resolves the status of every managed service. Container services
// ask docker; process services scan the host process table.
func (m *Manager) Services(ctx context.Context) []ServiceStatus {
	statuses := make([]ServiceStatus, 0, len(m.services))
	for _, svc := range m.services {
		statuses = append(statuses, ServiceStatus{
			Name:        svc.Name,
			Container:   svc.Container,
			Description: svc.Description,
			Status:      m.resolveStatus(ctx, svc),
		})
	}
	return statuses
}

func (m *Manager) resolveStatus(ctx context.Context, svc config.ManagedService) string {
	if svc.Process != "" {
		if sysmon.ProcessRunning(ctx, svc.Process) {
			return "running"
		}
		return "stopped"
	}

	status, err := m.ContainerStatus(ctx, svc.Container)
	if err != nil {
		if _, ok := err.(*NotFoundError); ok {
			return "not found"
		}
		m.logger.Warn("failed to resolve service status", "service", svc.Name, "error", err)
		return "error"
	}
	return status
}

// RestartService restarts a managed service by name. Process services are
// sent SIGTERM via pkill and rely on their supervisor to restart them;
// container services get a docker restart.
func (m *Manager) RestartService(ctx context.Context, name string) (string, error) {
	svc, ok := m.findService(name)
	if !ok {
		return "", fmt.Errorf("unknown service %q", name)
	}

	if svc.Process != "" {
		if err := signalProcess(ctx, svc.Process); err != nil {
			return "", fmt.Errorf("failed to restart %s: %w", name, err)
		}
		// Give the supervisor a moment to bring it back.
		select {
		case <-time.After(3 * time.Second):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return m.resolveStatus(ctx, svc), nil
	}

	if err := m.Action(ctx, svc.Container, "restart"); err != nil {
		return "", err
	}
	return "running", nil
}

// StopService stops a managed service by name.
func (m *Manager) StopService(ctx context.Context, name string) (string, error) {
	svc, ok := m.findService(name)
	if !ok {
		return "", fmt.Errorf("unknown service %q", name)
	}

	if svc.Process != "" {
		if err := signalProcess(ctx, svc.Process); err != nil {
			return "", fmt.Errorf("failed to stop %s: %w", name, err)
		}
		return m.resolveStatus(ctx, svc), nil
	}

	if err := m.Action(ctx, svc.Container, "stop"); err != nil {
		return "", err
	}
	return "stopped", nil
}

// StartService starts a managed service by name. Process services cannot be
// started from here: their supervisor lives on the host.
func (m *Manager) StartService(ctx context.Context, name string) (string, error) {
	svc, ok := m.findService(name)
	if !ok {
		return "", fmt.Errorf("unknown service %q", name)
	}

	if svc.Process != "" {
		return "", fmt.Errorf("service %q is a host process and must be started on the host", name)
	}

	if err := m.Action(ctx, svc.Container, "start"); err != nil {
		return "", err
	}
	return "running", nil
}

func (m *Manager) findService(name string) (config.ManagedService, bool) {
	for _, svc := range m.services {
		if svc.Name == name {
			return svc, true
		}
	}
	return config.ManagedService{}, false
}

func signalProcess(ctx context.Context, pattern string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// pkill exits 1 when nothing matched; that is not a failure here.
	err := exec.CommandContext(ctx, "pkill", "-f", pattern).Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil
		}
		return err
	}
	return nil
}
