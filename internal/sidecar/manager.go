// Package sidecar runs the pose estimation service as a Docker container next
// to the API server.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	stopTimeoutSecs = 10

	// Resource limits for the pose model.
	memoryLimitBytes = 2 * 1024 * 1024 * 1024 // 2GB
	cpuQuota         = 200000                 // 2 CPUs
	pidsLimit        = 256

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond
)

// Docker is the part of the Docker API the manager uses. *client.Client
// satisfies it.
type Docker interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error)
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	Close() error
}

// Config describes the pose container.
type Config struct {
	Image   string
	Name    string
	Network string
	Port    int
	// Runtime is "" for the default Docker runtime or "runsc" for gVisor.
	Runtime string
	// UploadDir is bind-mounted read-only at MountPath so the service can
	// read uploaded videos.
	UploadDir string
	MountPath string
	Env       map[string]string
}

// Manager keeps the pose container running.
type Manager struct {
	cli Docker
	cfg Config
	id  string
}

// NewDockerManager creates a manager backed by the local Docker daemon.
func NewDockerManager(cfg Config) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	runtime := cfg.Runtime
	if runtime == "" {
		runtime = "default"
	}
	slog.Info("Docker client initialized", "runtime", runtime)
	return NewManager(cli, cfg), nil
}

// NewManager creates a manager using the given Docker API.
func NewManager(cli Docker, cfg Config) *Manager {
	return &Manager{cli: cli, cfg: cfg}
}

// Ensure makes sure the network exists and the pose container is running.
// It returns the container id.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	if _, err := m.EnsureNetwork(ctx); err != nil {
		return "", err
	}

	inspect, err := m.cli.ContainerInspect(ctx, m.cfg.Name)
	switch {
	case err == nil:
		if inspect.State != nil && inspect.State.Running {
			slog.Info("Pose container already running", "container_id", inspect.ID)
			m.id = inspect.ID
			return inspect.ID, nil
		}
		slog.Info("Starting stopped pose container", "container_id", inspect.ID)
		startErr := m.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{})
		if startErr == nil {
			m.id = inspect.ID
			return inspect.ID, nil
		}
		slog.Warn("Failed to restart pose container, recreating", "error", startErr, "container_id", inspect.ID)
		if err := m.remove(ctx, inspect.ID); err != nil {
			return "", err
		}
	case !errdefs.IsNotFound(err):
		return "", fmt.Errorf("inspect container %s: %w", m.cfg.Name, err)
	}

	id, err := m.create(ctx)
	if err != nil {
		return "", err
	}
	m.id = id
	return id, nil
}

func (m *Manager) create(ctx context.Context) (string, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(m.cfg.Port))
	if err != nil {
		return "", fmt.Errorf("parse sidecar port %d: %w", m.cfg.Port, err)
	}

	config := &container.Config{
		Image:        m.cfg.Image,
		Env:          m.env(),
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       map[string]string{"app": "formtrack", "role": "pose"},
	}

	hostConfig := &container.HostConfig{
		Runtime:     m.cfg.Runtime,
		NetworkMode: container.NetworkMode(m.cfg.Network),
		// Published on loopback so a server running on the host can reach it.
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: port.Port()}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}
	if m.cfg.UploadDir != "" && m.cfg.MountPath != "" {
		source, err := filepath.Abs(m.cfg.UploadDir)
		if err != nil {
			return "", fmt.Errorf("resolve upload dir: %w", err)
		}
		hostConfig.Mounts = []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   source,
			Target:   m.cfg.MountPath,
			ReadOnly: true,
		}}
	}

	slog.Info("Creating pose container", "name", m.cfg.Name, "image", m.cfg.Image, "port", m.cfg.Port)

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, m.cfg.Name)
		if createErr == nil {
			break
		}

		if !isNameConflict(createErr) {
			return "", fmt.Errorf("create container: %w", createErr)
		}

		// A previous server may still be removing the old container.
		slog.Warn("Container name conflict during create, retrying",
			"container_name", m.cfg.Name,
			"attempt", i+1,
			"error", createErr,
		)
		if inspect, inspectErr := m.cli.ContainerInspect(ctx, m.cfg.Name); inspectErr == nil {
			if err := m.remove(ctx, inspect.ID); err != nil {
				slog.Warn("Failed to remove conflicting container before retry", "container_id", inspect.ID, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return "", fmt.Errorf("create container after retries: %w", createErr)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			slog.Warn("Failed to remove container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	slog.Info("Pose container created and started", "container_id", resp.ID)
	return resp.ID, nil
}

func (m *Manager) env() []string {
	vars := make([]string, 0, len(m.cfg.Env)+1)
	vars = append(vars, fmt.Sprintf("POSE_PORT=%d", m.cfg.Port))
	for k, v := range m.cfg.Env {
		vars = append(vars, fmt.Sprintf("%s=%s", k, v))
	}
	return vars
}

// Running reports whether the pose container is up.
func (m *Manager) Running(ctx context.Context) (bool, error) {
	inspect, err := m.cli.ContainerInspect(ctx, m.cfg.Name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", m.cfg.Name, err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Health returns an error unless the container is running.
func (m *Manager) Health(ctx context.Context) error {
	running, err := m.Running(ctx)
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("container %s is not running", m.cfg.Name)
	}
	return nil
}

// Stop stops and removes the pose container. It is idempotent.
func (m *Manager) Stop(ctx context.Context) error {
	target := m.id
	if target == "" {
		target = m.cfg.Name
	}
	return m.remove(ctx, target)
}

func (m *Manager) remove(ctx context.Context, containerID string) error {
	slog.Info("Stopping container", "container_id", containerID)

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Container already removed", "container_id", containerID)
			return nil
		}
		slog.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove", "container_id", containerID, "error", err)
			return nil
		}
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}

	slog.Info("Container stopped and removed", "container_id", containerID)
	return nil
}

// EnsureNetwork creates the bridge network if it doesn't exist.
func (m *Manager) EnsureNetwork(ctx context.Context) (string, error) {
	if m.cfg.Network == "" {
		return "", nil
	}
	networks, err := m.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list networks: %w", err)
	}
	for _, nw := range networks {
		if nw.Name == m.cfg.Network {
			slog.Debug("Pose network already exists", "network_id", nw.ID)
			return nw.ID, nil
		}
	}

	resp, err := m.cli.NetworkCreate(ctx, m.cfg.Network, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", m.cfg.Network, err)
	}
	slog.Info("Pose network created", "network_id", resp.ID, "name", m.cfg.Network)
	return resp.ID, nil
}

// Close releases the Docker client.
func (m *Manager) Close() error {
	return m.cli.Close()
}

func ptr[T any](v T) *T {
	return &v
}

// isNameConflict reports whether create failed because the container name is
// taken. Older daemons only say so in the message.
func isNameConflict(err error) bool {
	if errdefs.IsConflict(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "is already in use") || strings.Contains(msg, "conflict")
}
