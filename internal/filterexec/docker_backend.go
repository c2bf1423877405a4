package filterexec

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerBackend runs filters inside gVisor-jailed, network-isolated,
// read-only-rootfs containers built from a single filter-runner image that
// exposes a fixed entrypoint taking the filter name and args as
// command-line arguments, reading the input on stdin, and writing (result
// code, output attributes) to stdout.
type DockerBackend struct {
	image     string
	cpuNanos  int64
	memBytes  int64
	sandboxDir string
}

// NewDockerBackend returns a backend that runs the given image with the
// given resource quotas per sandbox (spec.md's sandbox design note: bounded CPU/memory per
// filter invocation so one runaway filter cannot starve the device).
func NewDockerBackend(image string, cpuNanos, memBytes int64) *DockerBackend {
	return &DockerBackend{image: image, cpuNanos: cpuNanos, memBytes: memBytes, sandboxDir: filepath.Join(os.TempDir(), "diamond-sandboxes")}
}

func (b *DockerBackend) client() (*client.Client, error) {
	return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
}

func (b *DockerBackend) Create(ctx context.Context) (*Sandbox, error) {
	cli, err := b.client()
	if err != nil {
		return nil, err
	}
	defer cli.Close()

	hostConfig := &container.HostConfig{
		Runtime:        "runsc", // gVisor
		NetworkMode:    "none",  // no network: filters never need it
		ReadonlyRootfs: true,
		Resources: container.Resources{
			NanoCPUs: b.cpuNanos,
			Memory:   b.memBytes,
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: b.image,
		Tty:   false,
		Cmd:   []string{"sleep", "infinity"},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("filterexec: create container: %w", err)
	}
	if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("filterexec: start container: %w", err)
	}
	return &Sandbox{ID: resp.ID, LastUsed: time.Now()}, nil
}

// Scrub wipes any leftover filter scratch data between invocations so
// output from one object can never leak into the next object's evaluation.
func (b *DockerBackend) Scrub(ctx context.Context, s *Sandbox) error {
	cli, err := b.client()
	if err != nil {
		return err
	}
	defer cli.Close()

	execConfig := types.ExecConfig{
		User:         "root",
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"/bin/sh", "-c", "rm -rf /tmp/filterdata/* 2>/dev/null; pkill -u filteruser 2>/dev/null; true"},
	}
	execID, err := cli.ContainerExecCreate(ctx, s.ID, execConfig)
	if err != nil {
		return fmt.Errorf("filterexec: scrub exec create: %w", err)
	}
	if err := cli.ContainerExecStart(ctx, execID.ID, types.ExecStartCheck{}); err != nil {
		return fmt.Errorf("filterexec: scrub exec start: %w", err)
	}
	return nil
}

func (b *DockerBackend) Destroy(ctx context.Context, s *Sandbox) error {
	cli, err := b.client()
	if err != nil {
		return err
	}
	defer cli.Close()

	if err := cli.ContainerRemove(ctx, s.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("filterexec: remove container: %w", err)
	}
	os.RemoveAll(filepath.Join(b.sandboxDir, s.ID))
	return nil
}

// Run executes filterName inside s, passing filterName and args as the
// runner entrypoint's arguments and input on its stdin, and reading its
// stdout as the filter's raw output
// bytes. The output's own framing (score followed by output attributes) is
// internal/ceval's concern, not the backend's; Run only distinguishes a
// clean exit (err == nil) from a sandbox/process failure.
func (b *DockerBackend) Run(ctx context.Context, s *Sandbox, filterName string, args []string, input []byte) ([]byte, error) {
	cli, err := b.client()
	if err != nil {
		return nil, err
	}
	defer cli.Close()

	cmd := append([]string{"/usr/local/bin/run-filter", filterName}, args...)
	execConfig := types.ExecConfig{
		User:         "filteruser",
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
	}

	execID, err := cli.ContainerExecCreate(ctx, s.ID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("filterexec: exec create: %w", err)
	}

	resp, err := cli.ContainerExecAttach(ctx, execID.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("filterexec: exec attach: %w", err)
	}
	defer resp.Close()

	if _, err := resp.Conn.Write(input); err != nil {
		return nil, fmt.Errorf("filterexec: write input: %w", err)
	}
	resp.CloseWrite()

	out, err := io.ReadAll(resp.Reader)
	if err != nil {
		return nil, fmt.Errorf("filterexec: read output: %w", err)
	}

	inspect, err := cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, fmt.Errorf("filterexec: exec inspect: %w", err)
	}
	if inspect.ExitCode != 0 {
		return nil, fmt.Errorf("filterexec: filter %q exited %d", filterName, inspect.ExitCode)
	}

	return out, nil
}
