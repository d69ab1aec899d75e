package wait

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/docker/go-connections/nat"
)

// HostPortStrategy waits until a raw TCP connect to the mapped port
// succeeds. Host and port are resolved once before polling starts.
type HostPortStrategy struct {
	port         nat.Port
	timeout      time.Duration
	pollInterval time.Duration
}

// ForListeningPort waits for the given exposed port to accept TCP
// connections on its host mapping.
func ForListeningPort(port nat.Port) *HostPortStrategy {
	return &HostPortStrategy{port: port}
}

// WithTimeout overrides the default 60s deadline.
func (s *HostPortStrategy) WithTimeout(d time.Duration) *HostPortStrategy {
	s.timeout = d
	return s
}

// WithPollInterval overrides the default 100ms poll interval.
func (s *HostPortStrategy) WithPollInterval(d time.Duration) *HostPortStrategy {
	s.pollInterval = d
	return s
}

func (s *HostPortStrategy) WaitUntilReady(ctx context.Context, target Target) error {
	host, err := target.Host(ctx)
	if err != nil {
		return fmt.Errorf("wait for port: resolve host: %w", err)
	}
	mapped, err := target.MappedPort(ctx, s.port)
	if err != nil {
		return fmt.Errorf("wait for port: resolve mapped port %s: %w", s.port, err)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(mapped))

	interval := s.pollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return poll(ctx, fmt.Sprintf("wait for port %s", s.port), s.timeout, s.pollInterval, func(ctx context.Context) error {
		conn, err := net.DialTimeout("tcp", addr, interval)
		if err != nil {
			return notYet(err)
		}
		_ = conn.Close()
		return nil
	})
}

func (*HostPortStrategy) sealed() {}
