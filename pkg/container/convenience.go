package container

import (
	"context"
	"sync"
)

// The package-level helpers run against one shared default provider so a
// test file can spin up a container in a single call. The provider is an
// ordinary explicitly-constructed instance, created on first use; the
// sync.Once makes concurrent first use safe.
var (
	defaultOnce     sync.Once
	defaultProvider *Provider
	defaultErr      error
)

// DefaultProvider returns the lazily-created shared provider.
func DefaultProvider() (*Provider, error) {
	defaultOnce.Do(func() {
		defaultProvider, defaultErr = NewProvider()
	})
	return defaultProvider, defaultErr
}

// Run creates and starts a container through the default provider. See
// Provider.Run for the error contract on start failures.
func Run(ctx context.Context, cfg Config) (*Container, error) {
	p, err := DefaultProvider()
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, cfg)
}

// Customize mutates a Config before it is submitted. Module wrappers
// accept these so callers can override the canned defaults.
type Customize func(*Config)

// RunWith starts a container from an image plus customizers, through the
// default provider.
func RunWith(ctx context.Context, image string, customize ...Customize) (*Container, error) {
	cfg := Config{Image: image}
	for _, fn := range customize {
		fn(&cfg)
	}
	return Run(ctx, cfg)
}
