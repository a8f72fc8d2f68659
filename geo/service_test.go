package geo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeChecker struct {
	err   error
	calls atomic.Int32
}

func (f *fakeChecker) Check(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type fakeLocator struct {
	city  string
	err   error
	calls atomic.Int32
}

func (f *fakeLocator) Lookup(_ context.Context, _ string, out *Buffer) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	return out.Set(f.city)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServiceResolve(t *testing.T) {
	svc := NewService(ServiceConfig{
		Checker: &fakeChecker{},
		Locator: &fakeLocator{city: "Lisbon"},
		Logger:  discardLogger(),
	})
	rec := NewRecord(16, OverflowTruncate)

	if err := svc.Resolve(context.Background(), "1.2.3.4", rec); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if rec.Continent.String() != Placeholder || rec.Country.String() != Placeholder {
		t.Fatalf("continent/country = %q/%q, want placeholders", rec.Continent.String(), rec.Country.String())
	}
	if rec.City.String() != "Lisbon" {
		t.Fatalf("city = %q, want Lisbon", rec.City.String())
	}
}

func TestServiceResolveUnavailableNeverLooksUp(t *testing.T) {
	checker := &fakeChecker{err: newError(ErrorCodeToolUnavailable, "missing", false, nil)}
	locator := &fakeLocator{city: "unused"}
	svc := NewService(ServiceConfig{Checker: checker, Locator: locator, Logger: discardLogger()})

	for _, ip := range []string{"1.2.3.4", "::1", "not-an-ip", ""} {
		err := svc.Resolve(context.Background(), ip, NewRecord(16, OverflowTruncate))
		if !errors.Is(err, ErrToolUnavailable) {
			t.Fatalf("Resolve(%q) error = %v, want ErrToolUnavailable", ip, err)
		}
	}
	if got := locator.calls.Load(); got != 0 {
		t.Fatalf("locator calls = %d, want 0", got)
	}
}

func TestServiceResolveUnavailableNeverSpawnsLookup(t *testing.T) {
	observer := &recordingObserver{}
	SetObserver(observer)
	t.Cleanup(func() { SetObserver(nil) })

	svc := NewService(ServiceConfig{
		Checker: NewChecker(helperCommand("unavailable", nil), 0),
		Locator: NewInvoker(InvokerConfig{Command: helperCommand("unavailable", nil)}),
		Logger:  discardLogger(),
	})
	err := svc.Resolve(context.Background(), "1.2.3.4", NewRecord(16, OverflowTruncate))
	if !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("Resolve() error = %v, want ErrToolUnavailable", err)
	}
	if len(observer.lookups) != 0 {
		t.Fatalf("lookup observations = %d, want 0", len(observer.lookups))
	}
}

func TestServiceResolveLookupFailure(t *testing.T) {
	svc := NewService(ServiceConfig{
		Checker: &fakeChecker{},
		Locator: &fakeLocator{err: newError(ErrorCodeNoLocationMarker, "no marker", false, nil)},
		Logger:  discardLogger(),
	})

	err := svc.Resolve(context.Background(), "1.2.3.4", NewRecord(16, OverflowTruncate))
	if !errors.Is(err, ErrCityLookupFailed) {
		t.Fatalf("Resolve() error = %v, want ErrCityLookupFailed", err)
	}
	if !errors.Is(err, ErrLookupFailed) {
		t.Fatalf("Resolve() error = %v, want wrapped ErrLookupFailed", err)
	}
	if Code(err) != ErrorCodeCityLookupFailed {
		t.Fatalf("Code(err) = %q, want %q", Code(err), ErrorCodeCityLookupFailed)
	}
	if Reason(err) != ErrorCodeNoLocationMarker {
		t.Fatalf("Reason(err) = %q, want %q", Reason(err), ErrorCodeNoLocationMarker)
	}
}

func TestServiceResolveRejectsMissingBuffers(t *testing.T) {
	svc := NewService(ServiceConfig{Checker: &fakeChecker{}, Locator: &fakeLocator{}, Logger: discardLogger()})
	for _, rec := range []*Record{nil, {City: NewBuffer(4)}} {
		if err := svc.Resolve(context.Background(), "1.2.3.4", rec); Code(err) != ErrorCodeInvalidRequest {
			t.Fatalf("Resolve() code = %q, want %q", Code(err), ErrorCodeInvalidRequest)
		}
	}
}

func TestServiceLookupWithProcess(t *testing.T) {
	svc := NewService(ServiceConfig{
		Checker:       NewChecker(helperCommand("ok", nil), 0),
		Locator:       NewInvoker(InvokerConfig{Command: helperCommand("ok", nil)}),
		FieldCapacity: 8,
		Logger:        discardLogger(),
	})

	loc, err := svc.Lookup(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if loc.City != "City of " || !loc.Truncated {
		t.Fatalf("Lookup() = %+v, want city truncated to 8 bytes", loc)
	}
	if loc.Continent != Placeholder || loc.Country != Placeholder {
		t.Fatalf("Lookup() = %+v, want placeholder continent/country", loc)
	}
}

func TestServiceConcurrentResolvesDoNotInterfere(t *testing.T) {
	svc := NewService(ServiceConfig{
		Checker: NewChecker(helperCommand("ok", nil), 0),
		Locator: NewInvoker(InvokerConfig{Command: helperCommand("ok", nil)}),
		Logger:  discardLogger(),
	})

	ips := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"}
	results := make([]Location, len(ips))
	errs := make([]error, len(ips))

	var wg sync.WaitGroup
	for i, ip := range ips {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Lookup(context.Background(), ip)
		}()
	}
	wg.Wait()

	for i, ip := range ips {
		if errs[i] != nil {
			t.Fatalf("Lookup(%s) error = %v", ip, errs[i])
		}
		if want := "City of " + ip; results[i].City != want {
			t.Fatalf("Lookup(%s) city = %q, want %q", ip, results[i].City, want)
		}
	}
}

func TestServiceEnsureReady(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		exitCode := -1
		svc := NewService(ServiceConfig{
			Checker: &fakeChecker{},
			Logger:  discardLogger(),
			Exit:    func(code int) { exitCode = code },
		})
		svc.EnsureReady(context.Background())
		if exitCode != -1 {
			t.Fatalf("exit called with %d, want no exit", exitCode)
		}
	})

	t.Run("unavailable terminates", func(t *testing.T) {
		exitCode := -1
		svc := NewService(ServiceConfig{
			Checker: &fakeChecker{err: newError(ErrorCodeToolUnavailable, "missing", false, nil)},
			Logger:  discardLogger(),
			Exit:    func(code int) { exitCode = code },
		})
		svc.EnsureReady(context.Background())
		if exitCode != ExitToolUnavailable {
			t.Fatalf("exit code = %d, want %d", exitCode, ExitToolUnavailable)
		}
	})

	t.Run("no checker", func(t *testing.T) {
		exitCode := -1
		svc := NewService(ServiceConfig{Logger: discardLogger(), Exit: func(code int) { exitCode = code }})
		svc.EnsureReady(context.Background())
		if exitCode != ExitToolUnavailable {
			t.Fatalf("exit code = %d, want %d", exitCode, ExitToolUnavailable)
		}
	})
}

func TestServiceResolveStrictBufferRejectsPlaceholder(t *testing.T) {
	locator := &fakeLocator{city: "Lisbon"}
	svc := NewService(ServiceConfig{Checker: &fakeChecker{}, Locator: locator, Logger: discardLogger()})

	err := svc.Resolve(context.Background(), "1.2.3.4", NewRecord(0, OverflowError))
	if !errors.Is(err, ErrCityLookupFailed) {
		t.Fatalf("Resolve() error = %v, want ErrCityLookupFailed", err)
	}
	if got := Reason(err); got != ErrorCodeBufferOverflow {
		t.Fatalf("reason = %q, want %q", got, ErrorCodeBufferOverflow)
	}
	if got := locator.calls.Load(); got != 0 {
		t.Fatalf("locator calls = %d, want 0", got)
	}
}
