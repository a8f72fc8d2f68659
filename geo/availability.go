package geo

import (
	"context"
	"time"
)

// DefaultProbeTimeout bounds one availability probe.
const DefaultProbeTimeout = 5 * time.Second

// Checker probes whether the external tool is installed and runnable.
// Every call spawns a fresh probe; results are never cached.
type Checker struct {
	cmd     Command
	timeout time.Duration
}

// NewChecker creates a Checker. A non-positive timeout selects DefaultProbeTimeout.
func NewChecker(cmd Command, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Checker{cmd: cmd, timeout: timeout}
}

// Available reports whether "<tool> -v" exits with status zero.
func (c *Checker) Available(ctx context.Context) bool {
	return c.Check(ctx) == nil
}

// Check runs the version probe and returns a TOOL_UNAVAILABLE error
// describing why the tool cannot be used.
func (c *Checker) Check(ctx context.Context) error {
	if c == nil {
		return newError(ErrorCodeToolUnavailable, "geo: availability checker is nil", false, nil)
	}
	execCtx, cancel := withDefaultTimeout(ctx, c.timeout)
	defer cancel()

	// Stdout and Stderr stay nil so os/exec points them at the null
	// device; failing to open it surfaces as a Start error.
	cmd := c.cmd.build(execCtx, VersionArg)

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		details := map[string]any{"command": c.cmd.path()}
		if execCtx.Err() != nil {
			details["timeout"] = c.timeout.String()
		}
		if cmd.ProcessState != nil {
			details["exit_code"] = cmd.ProcessState.ExitCode()
		}
		err = withErrorDetails(
			newError(ErrorCodeToolUnavailable, "geo: "+c.cmd.path()+" "+VersionArg+" failed", false, err),
			details,
		)
	}
	emitProbeObservation(ProbeObservation{
		Tool:      c.cmd.path(),
		Available: err == nil,
		Duration:  time.Since(start),
		ErrorCode: Code(err),
	})
	return err
}
