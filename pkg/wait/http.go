package wait

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/docker/go-connections/nat"
)

// HTTPStrategy probes an HTTP endpoint on a mapped port until it answers
// with the expected status. The target URL is built once up front; every
// poll issues a fresh request with keep-alives disabled so a server still
// initializing cannot poison later polls with a stale connection.
type HTTPStrategy struct {
	path           string
	port           nat.Port
	expectedStatus int
	useTLS         bool
	method         string
	timeout        time.Duration
	pollInterval   time.Duration
}

// ForHTTP probes path on port 80/tcp with GET, accepting any 2xx status.
func ForHTTP(path string) *HTTPStrategy {
	return &HTTPStrategy{path: path, port: "80/tcp", method: http.MethodGet}
}

// WithPort sets the exposed container port to probe through.
func (s *HTTPStrategy) WithPort(port nat.Port) *HTTPStrategy {
	s.port = port
	return s
}

// WithExpectedStatus requires an exact status code instead of any 2xx.
func (s *HTTPStrategy) WithExpectedStatus(code int) *HTTPStrategy {
	s.expectedStatus = code
	return s
}

// WithTLS probes over https.
func (s *HTTPStrategy) WithTLS() *HTTPStrategy {
	s.useTLS = true
	return s
}

// WithMethod overrides the GET request method.
func (s *HTTPStrategy) WithMethod(method string) *HTTPStrategy {
	s.method = method
	return s
}

// WithTimeout overrides the default 60s deadline.
func (s *HTTPStrategy) WithTimeout(d time.Duration) *HTTPStrategy {
	s.timeout = d
	return s
}

// WithPollInterval overrides the default 100ms poll interval.
func (s *HTTPStrategy) WithPollInterval(d time.Duration) *HTTPStrategy {
	s.pollInterval = d
	return s
}

func (s *HTTPStrategy) WaitUntilReady(ctx context.Context, target Target) error {
	host, err := target.Host(ctx)
	if err != nil {
		return fmt.Errorf("wait for http: resolve host: %w", err)
	}
	mapped, err := target.MappedPort(ctx, s.port)
	if err != nil {
		return fmt.Errorf("wait for http: resolve mapped port %s: %w", s.port, err)
	}

	scheme := "http"
	if s.useTLS {
		scheme = "https"
	}
	probeURL := scheme + "://" + net.JoinHostPort(host, strconv.Itoa(mapped)) + s.path

	client := &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
	}

	return poll(ctx, fmt.Sprintf("wait for http %s %s", s.method, probeURL), s.timeout, s.pollInterval, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, s.method, probeURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			// Connection refused or reset while the server boots.
			return notYet(err)
		}
		_ = resp.Body.Close()

		if s.expectedStatus == 0 {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
		} else if resp.StatusCode == s.expectedStatus {
			return nil
		}
		return notYet(fmt.Errorf("status %d", resp.StatusCode))
	})
}

func (*HTTPStrategy) sealed() {}
