package wait

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"
)

// LogStrategy waits until a pattern has appeared in the container log a
// configured number of times. The full log is re-fetched every poll.
type LogStrategy struct {
	pattern      string
	asRegexp     bool
	occurrences  int
	timeout      time.Duration
	pollInterval time.Duration
}

// ForLog waits for one occurrence of a substring in the log.
func ForLog(pattern string) *LogStrategy {
	return &LogStrategy{pattern: pattern, occurrences: 1}
}

// AsRegexp treats the pattern as a regular expression instead of a plain
// substring. Matches are counted non-overlapping, like the substring mode.
func (s *LogStrategy) AsRegexp() *LogStrategy {
	s.asRegexp = true
	return s
}

// WithOccurrence sets how many non-overlapping occurrences are required.
func (s *LogStrategy) WithOccurrence(n int) *LogStrategy {
	if n > 0 {
		s.occurrences = n
	}
	return s
}

// WithTimeout overrides the default 60s deadline.
func (s *LogStrategy) WithTimeout(d time.Duration) *LogStrategy {
	s.timeout = d
	return s
}

// WithPollInterval overrides the default 100ms poll interval.
func (s *LogStrategy) WithPollInterval(d time.Duration) *LogStrategy {
	s.pollInterval = d
	return s
}

func (s *LogStrategy) WaitUntilReady(ctx context.Context, target Target) error {
	var re *regexp.Regexp
	if s.asRegexp {
		var err error
		re, err = regexp.Compile(s.pattern)
		if err != nil {
			return fmt.Errorf("wait for log: bad pattern %q: %w", s.pattern, err)
		}
	}

	return poll(ctx, fmt.Sprintf("wait for log %q", s.pattern), s.timeout, s.pollInterval, func(ctx context.Context) error {
		logs, err := target.Logs(ctx)
		if err != nil {
			return notYet(err)
		}
		var count int
		if re != nil {
			count = len(re.FindAll(logs, s.occurrences))
		} else {
			count = bytes.Count(logs, []byte(s.pattern))
		}
		if count < s.occurrences {
			return notYet(fmt.Errorf("pattern seen %d/%d times", count, s.occurrences))
		}
		return nil
	})
}

func (*LogStrategy) sealed() {}
