// Package postgres runs a throwaway PostgreSQL server for tests. It is
// pure glue over pkg/container: a canned image, env-derived credentials
// and a log wait strategy tuned to the postgres entrypoint.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dragosv/containertest/pkg/container"
	"github.com/dragosv/containertest/pkg/wait"
)

const (
	defaultImage    = "postgres:16-alpine"
	port            = "5432/tcp"
	defaultDatabase = "test"
	defaultUser     = "postgres"
	defaultPassword = "postgres"
)

// Container wraps the generic handle with connection-string helpers.
type Container struct {
	*container.Container

	database string
	user     string
	password string
}

type options struct {
	image    string
	database string
	user     string
	password string
	initSQL  []container.File
	custom   []container.Customize
}

// Option customizes the postgres container.
type Option func(*options)

// WithImage overrides the default postgres image.
func WithImage(image string) Option {
	return func(o *options) { o.image = image }
}

// WithDatabase sets the database created on first boot.
func WithDatabase(name string) Option {
	return func(o *options) { o.database = name }
}

// WithCredentials sets the superuser name and password.
func WithCredentials(user, password string) Option {
	return func(o *options) { o.user = user; o.password = password }
}

// WithInitScript stages a SQL script into the image's init directory so
// the entrypoint runs it during first boot.
func WithInitScript(name string, sql []byte) Option {
	return func(o *options) {
		o.initSQL = append(o.initSQL, container.File{
			Content:       sql,
			ContainerPath: "/docker-entrypoint-initdb.d/" + name,
			Mode:          0o644,
		})
	}
}

// WithConfig applies an arbitrary customization to the generated Config.
func WithConfig(fn container.Customize) Option {
	return func(o *options) { o.custom = append(o.custom, fn) }
}

// Run starts a PostgreSQL container and blocks until it accepts
// connections. The entrypoint restarts the server once after initdb, so
// readiness needs the second "ready to accept connections" line.
func Run(ctx context.Context, opts ...Option) (*Container, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c, err := container.Run(ctx, buildConfig(o))
	if err != nil {
		return nil, err
	}
	return &Container{Container: c, database: o.database, user: o.user, password: o.password}, nil
}

func defaultOptions() options {
	return options{
		image:    defaultImage,
		database: defaultDatabase,
		user:     defaultUser,
		password: defaultPassword,
	}
}

func buildConfig(o options) container.Config {
	cfg := container.Config{
		Image: o.image,
		Env: []string{
			"POSTGRES_DB=" + o.database,
			"POSTGRES_USER=" + o.user,
			"POSTGRES_PASSWORD=" + o.password,
		},
		ExposedPorts: []string{port},
		Files:        o.initSQL,
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithTimeout(2 * time.Minute),
	}
	for _, fn := range o.custom {
		fn(&cfg)
	}
	return cfg
}

// ConnectionString returns a postgres:// URL reaching the container from
// the host, with sslmode=disable.
func (c *Container) ConnectionString(ctx context.Context) (string, error) {
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		c.user, c.password, mapped.Addr(), c.database), nil
}
