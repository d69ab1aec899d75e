// Package container is the lifecycle orchestrator: it creates throwaway
// containers from a Config, attaches networks, starts them, runs their
// wait strategy and guarantees deterministic teardown.
package container

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/dragosv/containertest/pkg/wait"
)

// ErrReuseWithoutName rejects a reusable Config that carries no explicit
// name. It is raised before any engine call is made.
var ErrReuseWithoutName = errors.New("container: reuse requires an explicit container name")

// MountKind selects how a Mount is realized by the engine.
type MountKind string

const (
	MountBind   MountKind = "bind"
	MountVolume MountKind = "volume"
	MountTmpfs  MountKind = "tmpfs"
)

// Mount attaches a host path, named volume or tmpfs to the container.
type Mount struct {
	Kind     MountKind
	Source   string // host path or volume name; unused for tmpfs
	Target   string // absolute path inside the container
	ReadOnly bool
}

// File is injected into the container after creation, before readiness.
// Exactly one of HostPath and Content should be set.
type File struct {
	HostPath      string
	Content       []byte
	ContainerPath string // absolute destination path
	Mode          int64
}

// Config describes one container to create. It is treated as immutable
// for the duration of a single creation call.
type Config struct {
	Image          string
	Cmd            []string
	Entrypoint     []string
	Env            []string // KEY=VALUE pairs
	ExposedPorts   []string // "6379" or "6379/tcp"; protocol defaults to tcp
	Labels         map[string]string
	Name           string // optional; engine assigns one when empty
	WaitingFor     wait.Strategy
	Networks       []string
	NetworkAliases map[string][]string // network name -> aliases
	Mounts         []Mount
	Files          []File
	AlwaysPull     bool
	Reuse          bool
	StartupTimeout time.Duration // bounds Start including the wait strategy
}

func (c *Config) validate() error {
	if c.Image == "" {
		return errors.New("container: config has no image")
	}
	if c.Reuse && c.Name == "" {
		return ErrReuseWithoutName
	}
	for _, f := range c.Files {
		if f.ContainerPath == "" {
			return errors.New("container: file injection needs a container path")
		}
		if f.HostPath == "" && f.Content == nil {
			return fmt.Errorf("container: file %s has neither host path nor inline content", f.ContainerPath)
		}
	}
	for _, m := range c.Mounts {
		if m.Target == "" {
			return errors.New("container: mount needs a target path")
		}
		if m.Kind != MountTmpfs && m.Source == "" {
			return fmt.Errorf("container: %s mount to %s needs a source", m.Kind, m.Target)
		}
	}
	return nil
}

// normalizePortSpec appends "/tcp" to a bare port number. Specs that
// already carry a protocol are returned as-is, without allocating.
func normalizePortSpec(spec string) nat.Port {
	if strings.Contains(spec, "/") {
		return nat.Port(spec)
	}
	return nat.Port(spec + "/tcp")
}
