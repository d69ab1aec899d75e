package container

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dragosv/containertest/internal/engine"
	"github.com/dragosv/containertest/pkg/tarstream"
)

const (
	// hostOverrideEnv forces the hostname used to reach mapped ports.
	hostOverrideEnv = "CONTAINERTEST_HOST_OVERRIDE"
	// dockerHostEnv is the standard engine endpoint variable; unix://
	// values override the socket path, tcp:// values only contribute the
	// daemon hostname.
	dockerHostEnv = "DOCKER_HOST"

	defaultSocketPath = "/var/run/docker.sock"
	defaultDaemonHost = "localhost"

	labelManaged = "org.containertest"
	labelSession = "org.containertest.session"
)

// Provider owns the shared engine client and issues container handles.
// It must outlive every handle it issued.
type Provider struct {
	client     *engine.Client
	socketPath string
	daemonHost string
	sessionID  string
	log        zerolog.Logger
}

// Option customizes a Provider.
type Option func(*Provider)

// WithSocketPath overrides endpoint resolution with an explicit socket.
func WithSocketPath(path string) Option {
	return func(p *Provider) { p.socketPath = path }
}

// WithDaemonHost overrides the hostname mapped ports are reached on.
func WithDaemonHost(host string) Option {
	return func(p *Provider) { p.daemonHost = host }
}

// WithLogger sets the logger used by the provider and its handles.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Provider) { p.log = log }
}

// NewProvider resolves the engine endpoint from the environment (explicit
// options win) and returns a ready provider. Resolution happens once here,
// never per call.
func NewProvider(opts ...Option) (*Provider, error) {
	socketPath, daemonHost := resolveEndpoint()
	p := &Provider{
		socketPath: socketPath,
		daemonHost: daemonHost,
		sessionID:  uuid.NewString(),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.client = engine.New(p.socketPath, p.log)
	return p, nil
}

// resolveEndpoint picks the engine socket path and the daemon-facing host:
// the explicit host override wins, then a tcp:// DOCKER_HOST contributes
// its hostname, otherwise the platform default socket and localhost.
func resolveEndpoint() (socketPath, daemonHost string) {
	socketPath = defaultSocketPath
	daemonHost = defaultDaemonHost

	if v := os.Getenv(dockerHostEnv); v != "" {
		if u, err := url.Parse(v); err == nil {
			switch u.Scheme {
			case "unix":
				socketPath = u.Path
			case "tcp":
				if h := u.Hostname(); h != "" {
					daemonHost = h
				}
			}
		}
	}
	if v := os.Getenv(hostOverrideEnv); v != "" {
		daemonHost = v
	}
	return socketPath, daemonHost
}

// DaemonHost returns the hostname mapped ports are reachable on.
func (p *Provider) DaemonHost() string { return p.daemonHost }

// Ping checks connectivity to the engine.
func (p *Provider) Ping(ctx context.Context) error { return p.client.Ping(ctx) }

// CreateNetwork creates a labeled bridge network for cross-container
// traffic within a test.
func (p *Provider) CreateNetwork(ctx context.Context, name string) error {
	_, err := p.client.NetworkCreate(ctx, name, map[string]string{labelManaged: "true", labelSession: p.sessionID})
	return err
}

// RemoveNetwork removes a network; already-gone networks are a no-op.
func (p *Provider) RemoveNetwork(ctx context.Context, name string) error {
	return p.client.NetworkRemove(ctx, name)
}

// ContainerFromID wraps an already-existing engine container in a handle
// so it can be inspected, read or terminated. No engine call is made; the
// ID is not validated until first use.
func (p *Provider) ContainerFromID(id string) *Container {
	c := p.newHandle(id, Config{})
	c.isRunning = true
	return c
}

// Run creates and starts a container in one call. When the start phase
// fails (most commonly a readiness timeout) the created container is NOT
// destroyed: the handle is returned alongside the error so the caller can
// fetch logs, inspect state and clean up explicitly.
func (p *Provider) Run(ctx context.Context, cfg Config) (*Container, error) {
	c, err := p.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c.isRunning {
		// Reused container, already started and re-validated by Create.
		return c, nil
	}
	if err := c.Start(ctx); err != nil {
		return c, fmt.Errorf("container: start %s: %w", c.ID, err)
	}
	return c, nil
}

// Create creates a container from cfg without starting it. With
// cfg.Reuse set it resolves the configured name to an existing container
// first and re-validates its readiness instead of creating a duplicate.
func (p *Provider) Create(ctx context.Context, cfg Config) (*Container, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Reuse {
		if c, err := p.reuse(ctx, cfg); err != nil || c != nil {
			return c, err
		}
		// Nothing to reuse, fall through to a fresh create.
	}

	if err := p.pullIfNeeded(ctx, cfg); err != nil {
		return nil, err
	}

	req, err := p.buildCreateRequest(cfg)
	if err != nil {
		return nil, err
	}
	id, err := p.client.ContainerCreate(ctx, cfg.Name, req)
	if err != nil {
		return nil, err
	}
	p.log.Info().Str("container_id", id).Str("image", cfg.Image).Msg("container created")

	// The first network rode along in the create request; the rest are
	// joined one by one.
	for _, netName := range rest(cfg.Networks) {
		if err := p.client.NetworkConnect(ctx, netName, id, cfg.NetworkAliases[netName]); err != nil {
			return nil, fmt.Errorf("container: connect %s to network %s: %w", id, netName, err)
		}
	}

	c := p.newHandle(id, cfg)
	for _, f := range cfg.Files {
		if err := c.copyFile(ctx, f); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// reuse resolves cfg.Name to a live container, returning nil when there is
// none. A found container is wrapped as an already-started handle and its
// wait strategy re-run to confirm it is still ready.
func (p *Provider) reuse(ctx context.Context, cfg Config) (*Container, error) {
	found, err := p.client.FindContainerByName(ctx, cfg.Name)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, nil
	}

	p.log.Info().Str("container_id", found.ID).Str("name", cfg.Name).Msg("reusing existing container")
	c := p.newHandle(found.ID, cfg)
	c.isRunning = true
	if cfg.WaitingFor != nil {
		if err := cfg.WaitingFor.WaitUntilReady(ctx, &waitTarget{c: c}); err != nil {
			return c, fmt.Errorf("container: reused %s not ready: %w", found.ID, err)
		}
	}
	return c, nil
}

func (p *Provider) pullIfNeeded(ctx context.Context, cfg Config) error {
	if !cfg.AlwaysPull {
		exists, err := p.client.ImageExists(ctx, cfg.Image)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}
	p.log.Info().Str("image", cfg.Image).Msg("pulling image")
	return p.client.ImagePull(ctx, cfg.Image)
}

func (p *Provider) buildCreateRequest(cfg Config) (container.CreateRequest, error) {
	exposed := make(nat.PortSet, len(cfg.ExposedPorts))
	bindings := make(nat.PortMap, len(cfg.ExposedPorts))
	for _, spec := range cfg.ExposedPorts {
		port := normalizePortSpec(spec)
		if _, err := nat.NewPort(port.Proto(), port.Port()); err != nil {
			return container.CreateRequest{}, fmt.Errorf("container: invalid port spec %q: %w", spec, err)
		}
		exposed[port] = struct{}{}
		// Empty HostPort asks the engine for an ephemeral host port.
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}}
	}

	labels := map[string]string{
		labelManaged: "true",
		labelSession: p.sessionID,
	}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	hostConfig := &container.HostConfig{PortBindings: bindings}
	for _, m := range cfg.Mounts {
		switch m.Kind {
		case MountBind:
			bind := m.Source + ":" + m.Target
			if m.ReadOnly {
				bind += ":ro"
			}
			hostConfig.Binds = append(hostConfig.Binds, bind)
		case MountVolume:
			hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
				Type:     mount.TypeVolume,
				Source:   m.Source,
				Target:   m.Target,
				ReadOnly: m.ReadOnly,
			})
		case MountTmpfs:
			hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
				Type:   mount.TypeTmpfs,
				Target: m.Target,
			})
		default:
			return container.CreateRequest{}, fmt.Errorf("container: unknown mount kind %q", m.Kind)
		}
	}

	req := container.CreateRequest{
		Config: &container.Config{
			Image:        cfg.Image,
			Cmd:          strslice.StrSlice(cfg.Cmd),
			Entrypoint:   strslice.StrSlice(cfg.Entrypoint),
			Env:          cfg.Env,
			ExposedPorts: exposed,
			Labels:       labels,
		},
		HostConfig: hostConfig,
	}

	if len(cfg.Networks) > 0 {
		first := cfg.Networks[0]
		req.NetworkingConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				first: {Aliases: cfg.NetworkAliases[first]},
			},
		}
	}
	return req, nil
}

func (p *Provider) newHandle(id string, cfg Config) *Container {
	return &Container{
		ID:             id,
		Image:          cfg.Image,
		client:         p.client,
		daemonHost:     p.daemonHost,
		waitingFor:     cfg.WaitingFor,
		startupTimeout: cfg.StartupTimeout,
		log:            p.log.With().Str("container_id", id).Logger(),
	}
}

func rest(s []string) []string {
	if len(s) <= 1 {
		return nil
	}
	return s[1:]
}

// copyFile stages one File into the container through a single-entry tar
// archive uploaded to the parent directory of the destination.
func (c *Container) copyFile(ctx context.Context, f File) error {
	content := f.Content
	if f.HostPath != "" {
		var err error
		content, err = os.ReadFile(f.HostPath)
		if err != nil {
			return fmt.Errorf("container: read %s: %w", f.HostPath, err)
		}
	}
	mode := f.Mode
	if mode == 0 {
		mode = 0o644
	}
	dir, base := tarstream.SplitTarget(f.ContainerPath)
	archive, err := tarstream.Single(base, mode, content)
	if err != nil {
		return err
	}
	if err := c.client.CopyToContainer(ctx, c.ID, dir, archive); err != nil {
		return err
	}
	c.log.Debug().Str("path", f.ContainerPath).Int("bytes", len(content)).Msg("file copied into container")
	return nil
}
