// Package validate checks from the target host that the proxied application
// answers on port 80.
package validate

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/hoist/internal/remote"
)

// ProbeCommand asks curl for the status code only. The trailing "|| true"
// keeps connection failures (code 000) from turning into command errors.
const ProbeCommand = `curl -s -o /dev/null -w '%{http_code}' --max-time 10 http://localhost:80 || true`

const DefaultInterval = 3 * time.Second

// NotRespondingError is returned when the final probe does not return an
// accepted status code.
type NotRespondingError struct {
	Code   int
	Output string
}

func (e *NotRespondingError) Error() string {
	if e.Code == 0 {
		return "app not responding (no HTTP response)"
	}
	return fmt.Sprintf("app not responding (HTTP %d)", e.Code)
}

// Validator probes the application through Nginx.
type Validator struct {
	// AcceptCodes defaults to 200 only.
	AcceptCodes []int
	Attempts    int
	Interval    time.Duration
}

func (v *Validator) accepted(code int) bool {
	if len(v.AcceptCodes) == 0 {
		return code == 200
	}
	return slices.Contains(v.AcceptCodes, code)
}

// Validate returns the accepted status code or the last failure.
func (v *Validator) Validate(ctx context.Context, r remote.Runner) (int, error) {
	attempts := max(v.Attempts, 1)
	interval := v.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	var last error
	for i := range attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(interval):
			}
		}

		out, err := r.Run(ctx, ProbeCommand)
		if err != nil {
			return 0, fmt.Errorf("probe app: %w", err)
		}
		code := ParseCode(out)
		if v.accepted(code) {
			return code, nil
		}
		last = &NotRespondingError{Code: code, Output: strings.TrimSpace(out)}
	}
	return 0, last
}

// ParseCode extracts the status code curl printed. Anything unparsable is 0.
func ParseCode(out string) int {
	s := strings.TrimSpace(out)
	if len(s) > 3 {
		s = s[len(s)-3:]
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return code
}
