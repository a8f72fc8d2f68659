package geo

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInvokerLookup(t *testing.T) {
	invoker := NewInvoker(InvokerConfig{Command: helperCommand("ok", nil)})
	out := NewBuffer(64)

	if err := invoker.Lookup(context.Background(), "1.2.3.4", out); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got := out.String(); got != "City of 1.2.3.4" {
		t.Fatalf("city = %q, want %q", got, "City of 1.2.3.4")
	}
}

func TestInvokerLookupFixedOutput(t *testing.T) {
	invoker := NewInvoker(InvokerConfig{Command: helperCommand("fixed", map[string]string{
		"NALI_HELPER_OUTPUT": "1.2.3.4 [San Francisco, US] extra",
	})})
	out := NewBuffer(64)

	if err := invoker.Lookup(context.Background(), "1.2.3.4", out); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got := out.String(); got != "San Francisco, US" {
		t.Fatalf("city = %q, want %q", got, "San Francisco, US")
	}
}

func TestInvokerLookupFailures(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		output   string
		wantCode string
	}{
		{name: "no marker", mode: "fixed", output: "1.2.3.4 somewhere", wantCode: ErrorCodeNoLocationMarker},
		{name: "unterminated", mode: "fixed", output: "1.2.3.4 [somewhere", wantCode: ErrorCodeUnterminatedLocation},
		{name: "empty", mode: "empty", wantCode: ErrorCodeEmptyOutput},
		{name: "non-zero exit without output", mode: "fail", wantCode: ErrorCodeEmptyOutput},
		{name: "descriptor past capture capacity", mode: "flood", wantCode: ErrorCodeNoLocationMarker},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			invoker := NewInvoker(InvokerConfig{Command: helperCommand(tc.mode, map[string]string{
				"NALI_HELPER_OUTPUT": tc.output,
			})})
			out := NewBuffer(64)
			_ = out.Set("untouched")

			err := invoker.Lookup(context.Background(), "1.2.3.4", out)
			if err == nil {
				t.Fatal("Lookup() error = nil, want non-nil")
			}
			if code := Code(err); code != tc.wantCode {
				t.Fatalf("Code(err) = %q, want %q (err=%v)", code, tc.wantCode, err)
			}
			if out.String() != "untouched" {
				t.Fatalf("buffer written on failure: %q", out.String())
			}
		})
	}
}

func TestInvokerLookupNonZeroExitWithLocation(t *testing.T) {
	invoker := NewInvoker(InvokerConfig{Command: helperCommand("fail-with-location", nil)})
	out := NewBuffer(64)

	if err := invoker.Lookup(context.Background(), "8.8.8.8", out); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if out.String() != "Partial Place" {
		t.Fatalf("city = %q, want Partial Place", out.String())
	}
}

func TestInvokerLookupBoundedWrite(t *testing.T) {
	long := strings.Repeat("x", 600)
	invoker := NewInvoker(InvokerConfig{Command: helperCommand("fixed", map[string]string{
		"NALI_HELPER_OUTPUT": "1.2.3.4 [" + long + "]",
	})})

	t.Run("truncate", func(t *testing.T) {
		out := NewBuffer(32)
		if err := invoker.Lookup(context.Background(), "1.2.3.4", out); err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if out.Len() != 32 || !out.Truncated() {
			t.Fatalf("Len() = %d truncated=%v, want 32 true", out.Len(), out.Truncated())
		}
	})

	t.Run("error", func(t *testing.T) {
		out := NewBufferWithPolicy(32, OverflowError)
		err := invoker.Lookup(context.Background(), "1.2.3.4", out)
		if code := Code(err); code != ErrorCodeBufferOverflow {
			t.Fatalf("Code(err) = %q, want %q", code, ErrorCodeBufferOverflow)
		}
		if out.Len() != 0 {
			t.Fatalf("Len() = %d, want 0", out.Len())
		}
	})
}

func TestInvokerLookupTimeout(t *testing.T) {
	invoker := NewInvoker(InvokerConfig{
		Command: helperCommand("hang", nil),
		Timeout: 200 * time.Millisecond,
	})

	start := time.Now()
	err := invoker.Lookup(context.Background(), "1.2.3.4", NewBuffer(64))
	if code := Code(err); code != ErrorCodeTimeout {
		t.Fatalf("Code(err) = %q, want %q (err=%v)", code, ErrorCodeTimeout, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("errors.Is(err, DeadlineExceeded) = false for %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Lookup() took %s, want bounded by timeout", elapsed)
	}
}

func TestInvokerLookupCanceled(t *testing.T) {
	invoker := NewInvoker(InvokerConfig{Command: helperCommand("hang", nil)})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	err := invoker.Lookup(ctx, "1.2.3.4", NewBuffer(64))
	if code := Code(err); code != ErrorCodeCanceled {
		t.Fatalf("Code(err) = %q, want %q", code, ErrorCodeCanceled)
	}
}

func TestInvokerLookupRetriesTimeouts(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "calls")
	invoker := NewInvoker(InvokerConfig{
		Command: helperCommand("hang-first", map[string]string{"NALI_HELPER_COUNT_FILE": countFile}),
		Timeout: time.Second,
		Retry:   RetryPolicy{MaxAttempts: 2},
	})
	out := NewBuffer(64)

	if err := invoker.Lookup(context.Background(), "9.9.9.9", out); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if out.String() != "City of 9.9.9.9" {
		t.Fatalf("city = %q, want City of 9.9.9.9", out.String())
	}
	data, err := os.ReadFile(countFile)
	if err != nil {
		t.Fatalf("read count file: %v", err)
	}
	if calls := strings.Count(string(data), "\n"); calls != 2 {
		t.Fatalf("tool invoked %d times, want 2", calls)
	}
}

func TestInvokerLookupSpawnFailure(t *testing.T) {
	invoker := NewInvoker(InvokerConfig{Command: Command{Path: filepath.Join(t.TempDir(), "missing-nali")}})
	err := invoker.Lookup(context.Background(), "1.2.3.4", NewBuffer(64))
	if code := Code(err); code != ErrorCodeSpawnFailed {
		t.Fatalf("Code(err) = %q, want %q", code, ErrorCodeSpawnFailed)
	}
	if IsRetryable(err) {
		t.Fatal("spawn failure should not be retryable")
	}
}

func TestInvokerLookupValidation(t *testing.T) {
	invoker := NewInvoker(InvokerConfig{Command: helperCommand("ok", nil)})

	for _, ip := range []string{"", "   ", "-v", "--help"} {
		if err := invoker.Lookup(context.Background(), ip, NewBuffer(8)); Code(err) != ErrorCodeInvalidRequest {
			t.Fatalf("Lookup(%q) code = %q, want %q", ip, Code(err), ErrorCodeInvalidRequest)
		}
	}
	if err := invoker.Lookup(context.Background(), "1.2.3.4", nil); Code(err) != ErrorCodeInvalidRequest {
		t.Fatalf("Lookup(nil buffer) code = %q, want %q", Code(err), ErrorCodeInvalidRequest)
	}

	var nilInvoker *Invoker
	if err := nilInvoker.Lookup(context.Background(), "1.2.3.4", NewBuffer(8)); Code(err) != ErrorCodeInvalidRequest {
		t.Fatalf("nil invoker code = %q, want %q", Code(err), ErrorCodeInvalidRequest)
	}
}

func TestBoundedCapture(t *testing.T) {
	capture := newBoundedCapture(4)
	n, err := capture.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write() = %d, %v; want 6, nil", n, err)
	}
	if got := string(capture.Bytes()); got != "abcd" {
		t.Fatalf("Bytes() = %q, want abcd", got)
	}
	if !capture.Overflowed() {
		t.Fatal("Overflowed() = false, want true")
	}
}

func TestInvokerLookupTrimsIP(t *testing.T) {
	invoker := NewInvoker(InvokerConfig{Command: helperCommand("ok", nil)})
	out := NewBuffer(64)

	if err := invoker.Lookup(context.Background(), " 1.2.3.4\n", out); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got := out.String(); got != "City of 1.2.3.4" {
		t.Fatalf("city = %q, want %q", got, "City of 1.2.3.4")
	}
}

func TestInvokerLookupToolLeavesStdoutOpen(t *testing.T) {
	invoker := NewInvoker(InvokerConfig{Command: helperCommand("orphan-stdout", nil)})
	out := NewBuffer(64)

	start := time.Now()
	if err := invoker.Lookup(context.Background(), "1.2.3.4", out); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got := out.String(); got != "Lingering Place" {
		t.Fatalf("city = %q, want %q", got, "Lingering Place")
	}
	if elapsed := time.Since(start); elapsed > DefaultLookupTimeout/2 {
		t.Fatalf("lookup took %s, want bounded by the wait delay", elapsed)
	}
}

func TestAttemptOutcome(t *testing.T) {
	located := []byte("1.2.3.4 [Oslo] extra")
	unlocated := []byte("1.2.3.4 nothing")

	tests := []struct {
		name     string
		raw      []byte
		waitErr  error
		ctxErr   error
		wantCode string
	}{
		{name: "clean exit", raw: located},
		{name: "clean exit after deadline", raw: located, ctxErr: context.DeadlineExceeded},
		{name: "wait delay with location", raw: located, waitErr: exec.ErrWaitDelay},
		{name: "wait delay without location", raw: unlocated, waitErr: exec.ErrWaitDelay, wantCode: ErrorCodeNoLocationMarker},
		{name: "pipe failure", raw: located, waitErr: errors.New("broken pipe"), wantCode: ErrorCodeTransportFailure},
		{name: "killed at deadline", raw: located, waitErr: errors.New("signal: killed"), ctxErr: context.DeadlineExceeded, wantCode: ErrorCodeTimeout},
		{name: "killed on cancel", raw: located, waitErr: errors.New("signal: killed"), ctxErr: context.Canceled, wantCode: ErrorCodeCanceled},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := attemptOutcome(tc.raw, tc.waitErr, tc.ctxErr)
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("attemptOutcome() error = %v", err)
				}
				if string(raw) != string(tc.raw) {
					t.Fatalf("raw = %q, want %q", raw, tc.raw)
				}
				return
			}
			if got := Code(err); got != tc.wantCode {
				t.Fatalf("code = %q, want %q (err=%v)", got, tc.wantCode, err)
			}
			if tc.waitErr == exec.ErrWaitDelay && !errors.Is(err, exec.ErrWaitDelay) {
				t.Fatalf("error = %v, want wait delay as cause", err)
			}
		})
	}
}
