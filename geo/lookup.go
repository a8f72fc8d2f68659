package geo

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultOutputCapacity bounds how much tool stdout one lookup keeps.
	DefaultOutputCapacity = 1024
	// DefaultLookupTimeout bounds one lookup when the caller sets no deadline.
	DefaultLookupTimeout = 10 * time.Second
)

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	Command        Command
	Timeout        time.Duration
	OutputCapacity int
	Retry          RetryPolicy
}

// Invoker runs the external tool once per lookup and extracts the
// location descriptor from its output.
type Invoker struct {
	cmd      Command
	timeout  time.Duration
	capacity int
	retry    RetryPolicy
}

// NewInvoker creates an Invoker, filling defaults for zero values.
func NewInvoker(cfg InvokerConfig) *Invoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLookupTimeout
	}
	if cfg.OutputCapacity <= 0 {
		cfg.OutputCapacity = DefaultOutputCapacity
	}
	return &Invoker{
		cmd:      cfg.Command,
		timeout:  cfg.Timeout,
		capacity: cfg.OutputCapacity,
		retry:    cfg.Retry,
	}
}

// Lookup runs "<tool> <ip>" and writes the location descriptor into out.
// out is only written on success.
func (i *Invoker) Lookup(ctx context.Context, ip string, out *Buffer) error {
	ip, err := i.validate(ip, out)
	if err != nil {
		return err
	}

	var (
		start    = time.Now()
		lastSize int
		overflow bool
		location string
	)
	attempts, err := runWithRetry(ctx, i.retry, i.cmd.path(), func(parent context.Context, _ int) error {
		raw, overflowed, err := i.invokeAttempt(parent, ip)
		lastSize, overflow = len(raw), overflowed
		if err != nil {
			return err
		}
		location, err = ParseLocation(raw)
		return err
	})
	if err == nil {
		err = out.Set(location)
	}

	emitLookupObservation(LookupObservation{
		Tool:       i.cmd.path(),
		Attempts:   attempts,
		Duration:   time.Since(start),
		OutputSize: lastSize,
		Overflowed: overflow,
		Success:    err == nil,
		ErrorCode:  Code(err),
	})
	if err != nil {
		if geoErr, ok := errorFrom(err); ok {
			withErrorDetails(geoErr, map[string]any{"ip": ip, "attempts": attempts})
		}
		return err
	}
	return nil
}

// validate returns ip with surrounding whitespace removed; the trimmed
// value is what the tool receives.
func (i *Invoker) validate(ip string, out *Buffer) (string, error) {
	if i == nil {
		return "", newError(ErrorCodeInvalidRequest, "geo: invoker is nil", false, nil)
	}
	if out == nil {
		return "", newError(ErrorCodeInvalidRequest, "geo: output buffer is nil", false, nil)
	}
	clean := strings.TrimSpace(ip)
	if clean == "" {
		return "", newError(ErrorCodeInvalidRequest, "geo: ip is required", false, nil)
	}
	if strings.HasPrefix(clean, "-") {
		return "", newError(ErrorCodeInvalidRequest, "geo: ip must not start with '-'", false, nil)
	}
	return clean, nil
}

// invokeAttempt spawns one child and returns its captured stdout. The
// child is always reaped before returning.
func (i *Invoker) invokeAttempt(parent context.Context, ip string) ([]byte, bool, error) {
	execCtx, cancel := withDefaultTimeout(parent, i.timeout)
	defer cancel()

	capture := newBoundedCapture(i.capacity)
	cmd := i.cmd.build(execCtx, ip)
	cmd.Stdout = capture

	if err := cmd.Start(); err != nil {
		if ctxErr := execCtx.Err(); ctxErr != nil {
			return nil, false, contextError(ctxErr)
		}
		return nil, false, withErrorDetails(
			newError(ErrorCodeSpawnFailed, "geo: start "+i.cmd.path(), false, err),
			map[string]any{"command": i.cmd.path()},
		)
	}
	waitErr := cmd.Wait()

	raw, err := attemptOutcome(capture.Bytes(), waitErr, execCtx.Err())
	if err != nil {
		if geoErr, ok := errorFrom(err); ok && geoErr.Code == ErrorCodeTimeout {
			withErrorDetails(geoErr, map[string]any{"timeout": i.timeout.String()})
		}
		return nil, false, err
	}
	return raw, capture.Overflowed(), nil
}

// attemptOutcome decides one attempt from the captured stdout, the Wait
// error and the attempt context's error. The context only matters when
// Wait failed: a child that exited cleanly keeps its output even if the
// deadline passed right after.
func attemptOutcome(raw []byte, waitErr, ctxErr error) ([]byte, error) {
	if waitErr == nil {
		return raw, nil
	}
	if ctxErr != nil {
		return nil, contextError(ctxErr)
	}

	var exitErr *exec.ExitError
	isExit := errors.As(waitErr, &exitErr)
	// ErrWaitDelay means the tool exited but something it started kept
	// stdout open; what was captured before the pipe closed still counts.
	if !isExit && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return nil, newError(ErrorCodeTransportFailure, "geo: read tool output", true, waitErr)
	}
	// The exit status alone does not decide the lookup; only a missing
	// descriptor does.
	if _, parseErr := ParseLocation(raw); parseErr != nil {
		geoErr, _ := errorFrom(parseErr)
		geoErr.Cause = waitErr
		if isExit {
			withErrorDetails(geoErr, map[string]any{"exit_code": exitErr.ExitCode()})
		}
		return nil, geoErr
	}
	return raw, nil
}

func contextError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorCodeTimeout, "geo: lookup timed out", true, err)
	}
	return newError(ErrorCodeCanceled, "geo: lookup canceled", false, err)
}
