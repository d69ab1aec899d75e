package container

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/dragosv/containertest/internal/engine"
	"github.com/dragosv/containertest/pkg/wait"
)

// terminateStopTimeout is the grace period Terminate grants the process
// before the forced remove.
const terminateStopTimeout = 10 * time.Second

// ErrPortNotMapped is returned by MappedPort when the engine has no host
// binding for the requested container port.
var ErrPortNotMapped = errors.New("container: port not mapped")

// MappedPort is the host-facing address of one exposed container port.
type MappedPort struct {
	IP   string
	Port int
}

// Addr formats the mapping as "ip:port".
func (m MappedPort) Addr() string {
	return m.IP + ":" + strconv.Itoa(m.Port)
}

// ExecResult is the outcome of one in-container command: the exit code
// and the combined stdout+stderr output.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Container is the live handle to one engine-side container. The running
// flag is a best-effort local cache; decisions that matter re-inspect.
type Container struct {
	ID    string
	Image string

	client         *engine.Client
	daemonHost     string
	waitingFor     wait.Strategy
	startupTimeout time.Duration
	isRunning      bool
	log            zerolog.Logger
}

// Start starts the container and blocks on its wait strategy. A wait
// failure propagates but leaves the running flag set: the container IS
// running, it just never announced readiness.
func (c *Container) Start(ctx context.Context) error {
	if err := c.client.ContainerStart(ctx, c.ID); err != nil {
		return err
	}
	c.isRunning = true
	c.log.Info().Str("image", c.Image).Msg("container started")

	if c.waitingFor == nil {
		return nil
	}
	if c.startupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.startupTimeout)
		defer cancel()
	}
	return c.waitingFor.WaitUntilReady(ctx, &waitTarget{c: c})
}

// Stop stops the container with the given grace period (engine default
// when negative) and clears the running flag.
func (c *Container) Stop(ctx context.Context, timeout time.Duration) error {
	seconds := -1
	if timeout >= 0 {
		seconds = int(timeout / time.Second)
	}
	if err := c.client.ContainerStop(ctx, c.ID, seconds); err != nil {
		return err
	}
	c.isRunning = false
	c.log.Info().Msg("container stopped")
	return nil
}

// Terminate stops and force-removes the container including its volumes.
// It is idempotent: a container that is already gone is not an error.
// Pair it with every successful create to avoid leaked containers.
func (c *Container) Terminate(ctx context.Context) error {
	var errs error
	if err := c.client.ContainerStop(ctx, c.ID, int(terminateStopTimeout/time.Second)); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stop: %w", err))
	}
	if err := c.client.ContainerRemove(ctx, c.ID, true, true); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("remove: %w", err))
	}
	c.isRunning = false
	if errs == nil {
		c.log.Info().Msg("container terminated")
	}
	return errs
}

// IsRunning reports the locally cached running flag.
func (c *Container) IsRunning() bool { return c.isRunning }

// Host returns the hostname mapped ports are reachable on.
func (c *Container) Host(_ context.Context) (string, error) {
	return c.daemonHost, nil
}

// MappedPort resolves an exposed port ("6379" or "6379/tcp") to its
// host-facing mapping. Every call re-inspects the container: mappings are
// derived on demand, never cached at start time.
func (c *Container) MappedPort(ctx context.Context, portSpec string) (MappedPort, error) {
	port := normalizePortSpec(portSpec)
	insp, err := c.client.ContainerInspect(ctx, c.ID)
	if err != nil {
		return MappedPort{}, err
	}
	if insp.NetworkSettings == nil {
		return MappedPort{}, fmt.Errorf("%w: %s", ErrPortNotMapped, port)
	}
	for _, binding := range insp.NetworkSettings.Ports[port] {
		if binding.HostPort == "" {
			continue
		}
		hostPort, err := strconv.Atoi(binding.HostPort)
		if err != nil {
			return MappedPort{}, fmt.Errorf("container: malformed host port %q for %s", binding.HostPort, port)
		}
		ip := binding.HostIP
		if ip == "" || ip == "0.0.0.0" || ip == "::" {
			ip = c.daemonHost
		}
		return MappedPort{IP: ip, Port: hostPort}, nil
	}
	return MappedPort{}, fmt.Errorf("%w: %s", ErrPortNotMapped, port)
}

// ContainerIP returns the container's IP on its first attached network.
func (c *Container) ContainerIP(ctx context.Context) (string, error) {
	insp, err := c.client.ContainerInspect(ctx, c.ID)
	if err != nil {
		return "", err
	}
	if insp.NetworkSettings != nil {
		for _, ep := range insp.NetworkSettings.Networks {
			if ep.IPAddress != "" {
				return ep.IPAddress, nil
			}
		}
	}
	return "", fmt.Errorf("container: no IP address for %s", c.ID)
}

// Logs fetches the container's full decoded stdout+stderr output.
func (c *Container) Logs(ctx context.Context) ([]byte, error) {
	return c.client.ContainerLogs(ctx, c.ID)
}

// Exec runs a command inside the container and blocks until it exits.
func (c *Container) Exec(ctx context.Context, cmd []string) (ExecResult, error) {
	if len(cmd) == 0 {
		return ExecResult{}, errors.New("container: exec needs a command")
	}
	code, output, err := c.client.Exec(ctx, c.ID, cmd)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{ExitCode: code, Output: output}, nil
}

// Inspect fetches the authoritative engine-side snapshot.
func (c *Container) Inspect(ctx context.Context) (*engine.ContainerInspect, error) {
	return c.client.ContainerInspect(ctx, c.ID)
}

// CopyToContainer writes content to an absolute path inside the running
// container with the given mode.
func (c *Container) CopyToContainer(ctx context.Context, content []byte, containerPath string, mode int64) error {
	return c.copyFile(ctx, File{Content: content, ContainerPath: containerPath, Mode: mode})
}

// CopyFileToContainer copies a host file to an absolute path inside the
// running container with the given mode.
func (c *Container) CopyFileToContainer(ctx context.Context, hostPath, containerPath string, mode int64) error {
	return c.copyFile(ctx, File{HostPath: hostPath, ContainerPath: containerPath, Mode: mode})
}

// waitTarget exposes the handle to the wait engine through the abstract
// capability interface, keeping pkg/wait free of this package's types.
type waitTarget struct {
	c *Container
}

func (t *waitTarget) Host(ctx context.Context) (string, error) {
	return t.c.Host(ctx)
}

func (t *waitTarget) MappedPort(ctx context.Context, port nat.Port) (int, error) {
	mapped, err := t.c.MappedPort(ctx, string(port))
	if err != nil {
		return 0, err
	}
	return mapped.Port, nil
}

func (t *waitTarget) Logs(ctx context.Context) ([]byte, error) {
	return t.c.Logs(ctx)
}

func (t *waitTarget) Exec(ctx context.Context, cmd []string) (int, string, error) {
	res, err := t.c.Exec(ctx, cmd)
	if err != nil {
		return 0, "", err
	}
	return res.ExitCode, res.Output, nil
}

// HealthStatus reports the engine health string, or "none" when the image
// configures no health check.
func (t *waitTarget) HealthStatus(ctx context.Context) (string, error) {
	insp, err := t.c.Inspect(ctx)
	if err != nil {
		return "", err
	}
	if insp.State.Health == nil {
		return wait.HealthStatusNone, nil
	}
	return insp.State.Health.Status, nil
}
