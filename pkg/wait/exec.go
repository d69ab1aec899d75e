package wait

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ExecStrategy runs a command inside the container every poll until it
// returns the expected exit code. A failed exec attempt (the container not
// accepting execs yet) and a wrong exit code both mean "not yet", never a
// hard failure.
type ExecStrategy struct {
	cmd          []string
	expectedCode int
	timeout      time.Duration
	pollInterval time.Duration
}

// ForExec waits for cmd to exit with code 0 inside the container.
func ForExec(cmd []string) *ExecStrategy {
	return &ExecStrategy{cmd: cmd}
}

// WithExitCode overrides the expected exit code.
func (s *ExecStrategy) WithExitCode(code int) *ExecStrategy {
	s.expectedCode = code
	return s
}

// WithTimeout overrides the default 60s deadline.
func (s *ExecStrategy) WithTimeout(d time.Duration) *ExecStrategy {
	s.timeout = d
	return s
}

// WithPollInterval overrides the default 100ms poll interval.
func (s *ExecStrategy) WithPollInterval(d time.Duration) *ExecStrategy {
	s.pollInterval = d
	return s
}

func (s *ExecStrategy) WaitUntilReady(ctx context.Context, target Target) error {
	return poll(ctx, fmt.Sprintf("wait for exec %q", strings.Join(s.cmd, " ")), s.timeout, s.pollInterval, func(ctx context.Context) error {
		code, _, err := target.Exec(ctx, s.cmd)
		if err != nil {
			return notYet(err)
		}
		if code != s.expectedCode {
			return notYet(fmt.Errorf("exit code %d, want %d", code, s.expectedCode))
		}
		return nil
	})
}

func (*ExecStrategy) sealed() {}
