// Package minio runs a throwaway MinIO object store for tests.
package minio

import (
	"context"
	"time"

	"github.com/dragosv/containertest/pkg/container"
	"github.com/dragosv/containertest/pkg/wait"
)

const (
	defaultImage    = "minio/minio:latest"
	apiPort         = "9000/tcp"
	defaultUser     = "minioadmin"
	defaultPassword = "minioadmin"
)

// Container wraps the generic handle with endpoint and credential helpers.
type Container struct {
	*container.Container

	user     string
	password string
}

type options struct {
	image    string
	user     string
	password string
	custom   []container.Customize
}

// Option customizes the minio container.
type Option func(*options)

// WithImage overrides the default minio image.
func WithImage(image string) Option {
	return func(o *options) { o.image = image }
}

// WithCredentials sets the root user and password.
func WithCredentials(user, password string) Option {
	return func(o *options) { o.user = user; o.password = password }
}

// WithConfig applies an arbitrary customization to the generated Config.
func WithConfig(fn container.Customize) Option {
	return func(o *options) { o.custom = append(o.custom, fn) }
}

// Run starts a MinIO container and blocks until its health endpoint
// answers 200.
func Run(ctx context.Context, opts ...Option) (*Container, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c, err := container.Run(ctx, buildConfig(o))
	if err != nil {
		return nil, err
	}
	return &Container{Container: c, user: o.user, password: o.password}, nil
}

func defaultOptions() options {
	return options{image: defaultImage, user: defaultUser, password: defaultPassword}
}

func buildConfig(o options) container.Config {
	cfg := container.Config{
		Image: o.image,
		Cmd:   []string{"server", "/data"},
		Env: []string{
			"MINIO_ROOT_USER=" + o.user,
			"MINIO_ROOT_PASSWORD=" + o.password,
		},
		ExposedPorts: []string{apiPort},
		WaitingFor: wait.ForHTTP("/minio/health/live").
			WithPort(apiPort).
			WithExpectedStatus(200).
			WithTimeout(time.Minute),
	}
	for _, fn := range o.custom {
		fn(&cfg)
	}
	return cfg
}

// Endpoint returns the host-facing "ip:port" address of the S3 API.
func (c *Container) Endpoint(ctx context.Context) (string, error) {
	mapped, err := c.MappedPort(ctx, apiPort)
	if err != nil {
		return "", err
	}
	return mapped.Addr(), nil
}

// Credentials returns the root user and password.
func (c *Container) Credentials() (user, password string) {
	return c.user, c.password
}
