package sidecar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeContainer struct {
	id      string
	running bool
	config  *container.Config
	host    *container.HostConfig
}

type fakeDocker struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	networks   []network.Summary
	startErr   error
	// createErr fails the next ContainerCreate once.
	createErr  error
	creates    int
	removed    []string
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{containers: make(map[string]*fakeContainer)}
}

func (f *fakeDocker) find(ref string) (string, *fakeContainer) {
	for name, c := range f.containers {
		if name == ref || c.id == ref {
			return name, c
		}
	}
	return "", nil
}

func (f *fakeDocker) ContainerInspect(_ context.Context, ref string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, c := f.find(ref)
	if c == nil {
		return container.InspectResponse{}, fmt.Errorf("no such container %s: %w", ref, errdefs.ErrNotFound)
	}
	return container.InspectResponse{ContainerJSONBase: &container.ContainerJSONBase{
		ID:    c.id,
		Name:  "/" + ref,
		State: &container.State{Running: c.running},
	}}, nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr; err != nil {
		f.createErr = nil
		return container.CreateResponse{}, err
	}
	if _, ok := f.containers[name]; ok {
		return container.CreateResponse{}, errors.New("Conflict. The container name is already in use")
	}
	f.creates++
	id := fmt.Sprintf("c%d", f.creates)
	f.containers[name] = &fakeContainer{id: id, config: config, host: host}
	return container.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) ContainerStart(_ context.Context, ref string, _ container.StartOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	_, c := f.find(ref)
	if c == nil {
		return errdefs.ErrNotFound
	}
	c.running = true
	return nil
}

func (f *fakeDocker) ContainerStop(_ context.Context, ref string, _ container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, c := f.find(ref)
	if c == nil {
		return errdefs.ErrNotFound
	}
	c.running = false
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, ref string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, c := f.find(ref)
	if c == nil {
		return errdefs.ErrNotFound
	}
	delete(f.containers, name)
	f.removed = append(f.removed, c.id)
	return nil
}

func (f *fakeDocker) NetworkList(_ context.Context, _ network.ListOptions) ([]network.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]network.Summary(nil), f.networks...), nil
}

func (f *fakeDocker) NetworkCreate(_ context.Context, name string, _ network.CreateOptions) (network.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "net-" + name
	f.networks = append(f.networks, network.Summary{Name: name, ID: id})
	return network.CreateResponse{ID: id}, nil
}

func (f *fakeDocker) Close() error { return nil }

func testConfig(t *testing.T) Config {
	return Config{
		Image:     "formtrack/pose:latest",
		Name:      "formtrack-pose",
		Network:   "formtrack-net",
		Port:      50061,
		UploadDir: t.TempDir(),
		MountPath: "/data/uploads",
		Env:       map[string]string{"MODEL_COMPLEXITY": "1"},
	}
}

func TestEnsureCreatesContainer(t *testing.T) {
	t.Parallel()

	docker := newFakeDocker()
	m := NewManager(docker, testConfig(t))

	id, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if id != "c1" {
		t.Errorf("id = %q, want c1", id)
	}
	if len(docker.networks) != 1 || docker.networks[0].Name != "formtrack-net" {
		t.Errorf("networks = %+v", docker.networks)
	}

	c := docker.containers["formtrack-pose"]
	if c == nil || !c.running {
		t.Fatalf("container not running: %+v", c)
	}
	port := nat.Port("50061/tcp")
	if _, ok := c.config.ExposedPorts[port]; !ok {
		t.Errorf("port not exposed: %+v", c.config.ExposedPorts)
	}
	if b := c.host.PortBindings[port]; len(b) != 1 || b[0].HostIP != "127.0.0.1" || b[0].HostPort != "50061" {
		t.Errorf("port bindings = %+v", c.host.PortBindings)
	}
	if len(c.host.Mounts) != 1 || !c.host.Mounts[0].ReadOnly || c.host.Mounts[0].Target != "/data/uploads" {
		t.Errorf("mounts = %+v", c.host.Mounts)
	}
	if string(c.host.NetworkMode) != "formtrack-net" {
		t.Errorf("network mode = %q", c.host.NetworkMode)
	}
}

func TestEnsureRetriesNameConflict(t *testing.T) {
	t.Parallel()

	docker := newFakeDocker()
	docker.createErr = fmt.Errorf("name taken: %w", errdefs.ErrConflict)
	m := NewManager(docker, testConfig(t))

	id, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if id != "c1" || docker.creates != 1 {
		t.Errorf("id = %q after %d creates, want c1 after 1", id, docker.creates)
	}
}

func TestEnsureFailsOnOtherCreateErrors(t *testing.T) {
	t.Parallel()

	docker := newFakeDocker()
	docker.createErr = errdefs.ErrInvalidArgument
	m := NewManager(docker, testConfig(t))

	if _, err := m.Ensure(context.Background()); !errdefs.IsInvalidArgument(err) {
		t.Errorf("Ensure error = %v, want the invalid argument error", err)
	}
	if docker.creates != 0 {
		t.Errorf("creates = %d, want no retry", docker.creates)
	}
}

func TestIsNameConflict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{errdefs.ErrConflict, true},
		{fmt.Errorf("create: %w", errdefs.ErrConflict), true},
		{errors.New(`Conflict. The container name "/formtrack-pose" is already in use`), true},
		{errdefs.ErrNotFound, false},
		{errors.New("no such image"), false},
	}
	for _, tt := range tests {
		if got := isNameConflict(tt.err); got != tt.want {
			t.Errorf("isNameConflict(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	t.Parallel()

	docker := newFakeDocker()
	m := NewManager(docker, testConfig(t))
	ctx := context.Background()

	first, err := m.Ensure(ctx)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	second, err := m.Ensure(ctx)
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if first != second || docker.creates != 1 {
		t.Errorf("ids %q/%q creates=%d", first, second, docker.creates)
	}
	if len(docker.networks) != 1 {
		t.Errorf("network created %d times", len(docker.networks))
	}
}

func TestEnsureRestartsStopped(t *testing.T) {
	t.Parallel()

	docker := newFakeDocker()
	docker.containers["formtrack-pose"] = &fakeContainer{id: "old"}
	m := NewManager(docker, testConfig(t))

	id, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if id != "old" || docker.creates != 0 {
		t.Errorf("id = %q creates = %d", id, docker.creates)
	}
}

func TestEnsureStartFailure(t *testing.T) {
	t.Parallel()

	docker := newFakeDocker()
	docker.startErr = errors.New("no such image")
	m := NewManager(docker, testConfig(t))

	if _, err := m.Ensure(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(docker.containers) != 0 {
		t.Errorf("failed container left behind: %v", docker.containers)
	}
}

func TestStopAndHealth(t *testing.T) {
	t.Parallel()

	docker := newFakeDocker()
	m := NewManager(docker, testConfig(t))
	ctx := context.Background()

	if err := m.Health(ctx); err == nil {
		t.Error("Health should fail before Ensure")
	}
	if _, err := m.Ensure(ctx); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := m.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if running, err := m.Running(ctx); err != nil || running {
		t.Errorf("Running = %v, %v after stop", running, err)
	}
	// Stopping again is a no-op.
	if err := m.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}
