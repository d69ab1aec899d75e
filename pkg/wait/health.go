package wait

import (
	"context"
	"time"
)

// HealthStatusHealthy is the engine health string that satisfies the
// health strategy.
const HealthStatusHealthy = "healthy"

// HealthStatusNone is reported for images with no health check configured.
const HealthStatusNone = "none"

// HealthStrategy polls the container's health status until the engine
// reports it healthy. Using it against an image that configures no health
// check fails immediately with ErrNoHealthCheck rather than timing out.
type HealthStrategy struct {
	timeout      time.Duration
	pollInterval time.Duration
}

// ForHealthCheck waits for the image-defined health check to pass.
func ForHealthCheck() *HealthStrategy { return &HealthStrategy{} }

// WithTimeout overrides the default 60s deadline.
func (s *HealthStrategy) WithTimeout(d time.Duration) *HealthStrategy {
	s.timeout = d
	return s
}

// WithPollInterval overrides the default 100ms poll interval.
func (s *HealthStrategy) WithPollInterval(d time.Duration) *HealthStrategy {
	s.pollInterval = d
	return s
}

func (s *HealthStrategy) WaitUntilReady(ctx context.Context, target Target) error {
	return poll(ctx, "wait for healthy", s.timeout, s.pollInterval, func(ctx context.Context) error {
		status, err := target.HealthStatus(ctx)
		if err != nil {
			return notYet(err)
		}
		switch status {
		case HealthStatusHealthy:
			return nil
		case HealthStatusNone:
			return ErrNoHealthCheck
		default:
			// "starting" or "unhealthy": keep polling.
			return notYet(nil)
		}
	})
}

func (*HealthStrategy) sealed() {}
