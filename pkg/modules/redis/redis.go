// Package redis runs a throwaway Redis server for tests.
package redis

import (
	"context"
	"time"

	"github.com/dragosv/containertest/pkg/container"
	"github.com/dragosv/containertest/pkg/wait"
)

const (
	defaultImage = "redis:7-alpine"
	port         = "6379/tcp"
)

// Container wraps the generic handle with an endpoint helper.
type Container struct {
	*container.Container
}

type options struct {
	image  string
	custom []container.Customize
}

// Option customizes the redis container.
type Option func(*options)

// WithImage overrides the default redis image.
func WithImage(image string) Option {
	return func(o *options) { o.image = image }
}

// WithConfig applies an arbitrary customization to the generated Config.
func WithConfig(fn container.Customize) Option {
	return func(o *options) { o.custom = append(o.custom, fn) }
}

// Run starts a Redis container and blocks until it accepts connections.
func Run(ctx context.Context, opts ...Option) (*Container, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c, err := container.Run(ctx, buildConfig(o))
	if err != nil {
		return nil, err
	}
	return &Container{Container: c}, nil
}

func defaultOptions() options {
	return options{image: defaultImage}
}

func buildConfig(o options) container.Config {
	cfg := container.Config{
		Image:        o.image,
		ExposedPorts: []string{port},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithTimeout(time.Minute),
	}
	for _, fn := range o.custom {
		fn(&cfg)
	}
	return cfg
}

// Endpoint returns the host-facing "ip:port" address of the server.
func (c *Container) Endpoint(ctx context.Context) (string, error) {
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		return "", err
	}
	return mapped.Addr(), nil
}
