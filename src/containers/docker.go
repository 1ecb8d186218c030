// Package containers proxies container lifecycle operations to the local
// docker daemon and maps containers onto the panel's managed-service list.
package containers

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/elee1766/stationd/src/config"
)

const stopTimeoutSeconds = 10

// NotFoundError is returned when the named container does not exist.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("container %q not found", e.Name)
}

// Container is one row of the container list.
type Container struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Status  string            `json:"status"`
	Image   string            `json:"image"`
	Service string            `json:"service,omitempty"`
	Ports   map[string]string `json:"ports,omitempty"`
}

// Detail is the inspect view of a single container.
type Detail struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Status  string            `json:"status"`
	Image   string            `json:"image"`
	Created string            `json:"created"`
	Ports   map[string]string `json:"ports,omitempty"`
	State   map[string]any    `json:"state"`
}

// Info is the docker daemon summary for the info endpoint.
type Info struct {
	DockerVersion     string  `json:"docker_version"`
	ContainersRunning int     `json:"containers_running"`
	ContainersTotal   int     `json:"containers_total"`
	Images            int     `json:"images"`
	MemoryTotalGB     float64 `json:"memory_total_gb"`
	CPUs              int     `json:"cpus"`
	OS                string  `json:"os"`
	Architecture      string  `json:"architecture"`
}

// Manager wraps the docker client for the panel's container endpoints.
type Manager struct {
	cli      *client.Client
	services []config.ManagedService
	logger   *slog.Logger
}

// New connects to the local docker daemon via the standard environment
// (DOCKER_HOST or the mounted socket).
func New(services []config.ManagedService, logger *slog.Logger) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cli:      cli,
		services: services,
		logger:   logger.With("component", "containers"),
	}, nil
}

func (m *Manager) Close() error {
	return m.cli.Close()
}

// Info returns daemon and host figures.
func (m *Manager) Info(ctx context.Context) (*Info, error) {
	info, err := m.cli.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker info failed: %w", err)
	}
	version, err := m.cli.ServerVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("docker version failed: %w", err)
	}
	return &Info{
		DockerVersion:     version.Version,
		ContainersRunning: info.ContainersRunning,
		ContainersTotal:   info.Containers,
		Images:            info.Images,
		MemoryTotalGB:     float64(info.MemTotal>>20) / 1024,
		CPUs:              info.NCPU,
		OS:                info.OperatingSystem,
		Architecture:      info.Architecture,
	}, nil
}

// List returns containers, annotated with the managed service they belong to.
func (m *Manager) List(ctx context.Context, all bool) ([]Container, error) {
	list, err := m.cli.ContainerList(ctx, types.ContainerListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]Container, 0, len(list))
	for _, c := range list {
		name := containerName(c.Names)
		result = append(result, Container{
			ID:      shortID(c.ID),
			Name:    name,
			Status:  c.State,
			Image:   c.Image,
			Service: m.serviceFor(name),
			Ports:   listPorts(c.Ports),
		})
	}
	return result, nil
}

// Get inspects a single container by name.
func (m *Manager) Get(ctx context.Context, name string) (*Detail, error) {
	c, err := m.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, &NotFoundError{Name: name}
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	state := map[string]any{}
	if c.State != nil {
		state["status"] = c.State.Status
		state["running"] = c.State.Running
		state["started_at"] = c.State.StartedAt
		state["exit_code"] = c.State.ExitCode
	}

	return &Detail{
		ID:      shortID(c.ID),
		Name:    strings.TrimPrefix(c.Name, "/"),
		Status:  containerStatus(c),
		Image:   c.Config.Image,
		Created: c.Created,
		Ports:   inspectPorts(c),
		State:   state,
	}, nil
}

// Action performs start, stop or restart on a container.
func (m *Manager) Action(ctx context.Context, name, action string) error {
	timeout := stopTimeoutSeconds
	stopOpts := container.StopOptions{Timeout: &timeout}

	var err error
	switch action {
	case "start":
		err = m.cli.ContainerStart(ctx, name, types.ContainerStartOptions{})
	case "stop":
		err = m.cli.ContainerStop(ctx, name, stopOpts)
	case "restart":
		err = m.cli.ContainerRestart(ctx, name, stopOpts)
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if err != nil {
		if client.IsErrNotFound(err) {
			return &NotFoundError{Name: name}
		}
		return fmt.Errorf("failed to %s container %s: %w", action, name, err)
	}
	m.logger.Info("container action", "container", name, "action", action)
	return nil
}

// Logs returns the last lines of a container's output, timestamped.
func (m *Manager) Logs(ctx context.Context, name string, lines int) (string, error) {
	rc, err := m.cli.ContainerLogs(ctx, name, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", &NotFoundError{Name: name}
		}
		return "", fmt.Errorf("failed to fetch logs: %w", err)
	}
	defer rc.Close()

	// Docker multiplexes stdout/stderr into one stream.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", fmt.Errorf("failed to demux logs: %w", err)
	}
	return buf.String(), nil
}

// ContainerStatus returns the bare status string for a named container.
func (m *Manager) ContainerStatus(ctx context.Context, name string) (string, error) {
	c, err := m.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", &NotFoundError{Name: name}
		}
		return "", err
	}
	return containerStatus(c), nil
}

// serviceFor maps a container name onto the managed-service list.
func (m *Manager) serviceFor(containerName string) string {
	for _, svc := range m.services {
		if svc.Container != "" && strings.Contains(containerName, svc.Container) {
			return svc.Name
		}
	}
	return ""
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func containerStatus(c types.ContainerJSON) string {
	if c.State == nil {
		return "unknown"
	}
	return c.State.Status
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func listPorts(ports []types.Port) map[string]string {
	if len(ports) == 0 {
		return nil
	}
	out := make(map[string]string, len(ports))
	for _, p := range ports {
		key := fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)
		if p.PublicPort != 0 {
			out[key] = fmt.Sprintf("%s:%d", p.IP, p.PublicPort)
		} else {
			out[key] = ""
		}
	}
	return out
}

func inspectPorts(c types.ContainerJSON) map[string]string {
	if c.NetworkSettings == nil || len(c.NetworkSettings.Ports) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.NetworkSettings.Ports))
	for port, bindings := range c.NetworkSettings.Ports {
		out[string(port)] = formatBindings(bindings)
	}
	return out
}

func formatBindings(bindings []nat.PortBinding) string {
	if len(bindings) == 0 {
		return ""
	}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, b.HostIP+":"+b.HostPort)
	}
	return strings.Join(parts, ",")
}
