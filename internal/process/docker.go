package process

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/coderunhq/coderun/internal/apperrors"
	"github.com/coderunhq/coderun/internal/logger"
)

// DockerSpawnConfig describes a container-based terminal spawn, used for
// CLIs whose Launcher entry selects the "docker" backend instead of a
// bare host PTY.
type DockerSpawnConfig struct {
	Image   string
	Command []string
	Env     []string
	WorkDir string
	Network string
}

// DockerLauncher is the secondary Process Manager backend: it runs a
// terminal's CLI inside a container instead of a host PTY.
type DockerLauncher struct {
	cli *client.Client
	log *logger.Logger
}

func NewDockerLauncher(log *logger.Logger) (*DockerLauncher, error) {
	if log == nil {
		log = logger.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLauncherSpawn, "docker client init failed", err)
	}
	return &DockerLauncher{cli: cli, log: log}, nil
}

// SpawnContainer starts a container running cfg.Command and returns its
// container id as the handle's SessionID. No PTY master is available
// for this backend; attach/logs streaming is an external-consumer
// concern.
func (d *DockerLauncher) SpawnContainer(ctx context.Context, terminalID string, cfg DockerSpawnConfig) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:      cfg.Image,
		Cmd:        cfg.Command,
		Env:        cfg.Env,
		WorkingDir: cfg.WorkDir,
		Tty:        true,
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(cfg.Network),
	}, nil, nil, "coderun-term-"+terminalID+"-"+uuid.NewString()[:8])
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeLauncherSpawn, "container create failed", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", apperrors.Wrap(apperrors.CodeLauncherSpawn, "container start failed", err)
	}

	d.log.Info("spawned docker terminal container")
	return resp.ID, nil
}

// Kill stops and removes the given container id, best-effort.
func (d *DockerLauncher) Kill(ctx context.Context, containerID string) error {
	timeout := 5
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	return d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// Logs returns a reader over the container's combined stdout/stderr.
func (d *DockerLauncher) Logs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
}
