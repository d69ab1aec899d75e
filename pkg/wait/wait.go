// Package wait implements the readiness checks executed after a container
// starts. Each strategy is a bounded polling loop against the abstract
// Target capability, so the package stays independent of the concrete
// container handle and testable with a fake.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

var (
	// ErrTimeout is wrapped by every strategy whose deadline elapses
	// before its condition is met.
	ErrTimeout = errors.New("wait: timed out")

	// ErrNoHealthCheck is returned by the health strategy when the image
	// has no health check configured. It is a configuration problem, not
	// a timeout, and fails the wait immediately.
	ErrNoHealthCheck = errors.New("wait: container has no health check configured")
)

// errNotReady marks a poll attempt whose condition is not met yet.
var errNotReady = errors.New("wait: not ready")

// Target is the capability surface a strategy may probe. The lifecycle
// orchestrator passes an adapter over its container handle; tests pass
// fakes.
type Target interface {
	// Host returns the daemon-facing hostname mapped ports are reachable on.
	Host(ctx context.Context) (string, error)
	// MappedPort resolves an exposed container port to its host port.
	MappedPort(ctx context.Context, port nat.Port) (int, error)
	// Logs returns the container's full decoded log output so far.
	Logs(ctx context.Context) ([]byte, error)
	// Exec runs a command in the container, returning exit code and output.
	Exec(ctx context.Context, cmd []string) (int, string, error)
	// HealthStatus returns the engine health string, "none" when the
	// image defines no health check.
	HealthStatus(ctx context.Context) (string, error)
}

// Strategy is one readiness check. The set of implementations is closed;
// the unexported method keeps it from growing into a plugin interface.
type Strategy interface {
	WaitUntilReady(ctx context.Context, target Target) error

	sealed()
}

// poll runs check on a fixed interval until it succeeds, returns a
// permanent error, or the deadline elapses. A check signals "not yet" by
// returning a retryable error wrapping errNotReady.
func poll(ctx context.Context, name string, timeout, interval time.Duration, check func(ctx context.Context) error) error {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	backoff := retry.WithMaxDuration(timeout, retry.NewConstant(interval))
	err := retry.Do(ctx, backoff, check)
	if err == nil {
		return nil
	}
	if errors.Is(err, errNotReady) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s after %s: %w", name, timeout, ErrTimeout)
	}
	return err
}

// notYet wraps a cause as a retryable "condition not met" poll result.
func notYet(cause error) error {
	if cause == nil {
		cause = errNotReady
	}
	return retry.RetryableError(fmt.Errorf("%w: %w", errNotReady, cause))
}

// NoopStrategy reports readiness immediately and never touches the target.
type NoopStrategy struct{}

// Noop returns the no-op strategy.
func Noop() *NoopStrategy { return &NoopStrategy{} }

func (*NoopStrategy) WaitUntilReady(context.Context, Target) error { return nil }

func (*NoopStrategy) sealed() {}

// AllStrategy runs its children serially, each under its own timeout, and
// fails with the first child's failure without evaluating the rest. It
// imposes no aggregate deadline of its own.
type AllStrategy struct {
	children []Strategy
}

// ForAll composes strategies into a serial conjunction.
func ForAll(strategies ...Strategy) *AllStrategy {
	return &AllStrategy{children: strategies}
}

func (s *AllStrategy) WaitUntilReady(ctx context.Context, target Target) error {
	for _, child := range s.children {
		if err := child.WaitUntilReady(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

func (*AllStrategy) sealed() {}
