package geo

import (
	"context"
	"log/slog"
	"os"
)

const (
	// Placeholder is written to the continent and country fields. The tool
	// only reports a free-form location, so these are not derived.
	Placeholder = " "
	// DefaultFieldCapacity is the per-field capacity used by Service.Lookup.
	DefaultFieldCapacity = 256
	// ExitToolUnavailable is the process exit code used by EnsureReady.
	ExitToolUnavailable = 3
)

// AvailabilityChecker reports whether the tool can be used.
type AvailabilityChecker interface {
	Check(ctx context.Context) error
}

// CityLocator resolves the city field for one IP.
type CityLocator interface {
	Lookup(ctx context.Context, ip string, out *Buffer) error
}

// Record holds the three caller-owned output buffers filled by Resolve.
type Record struct {
	Continent *Buffer
	Country   *Buffer
	City      *Buffer
}

// NewRecord allocates a record whose fields share one capacity and policy.
func NewRecord(capacity int, policy OverflowPolicy) *Record {
	return &Record{
		Continent: NewBufferWithPolicy(capacity, policy),
		Country:   NewBufferWithPolicy(capacity, policy),
		City:      NewBufferWithPolicy(capacity, policy),
	}
}

// Location is a value copy of a resolved Record.
type Location struct {
	Continent string `json:"continent"`
	Country   string `json:"country"`
	City      string `json:"city"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Location copies the record's contents.
func (r *Record) Location() Location {
	if r == nil {
		return Location{}
	}
	return Location{
		Continent: r.Continent.String(),
		Country:   r.Country.String(),
		City:      r.City.String(),
		Truncated: r.Continent.Truncated() || r.Country.Truncated() || r.City.Truncated(),
	}
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Checker AvailabilityChecker
	Locator CityLocator

	// FieldCapacity and Overflow shape records allocated by Lookup.
	FieldCapacity int
	Overflow      OverflowPolicy

	Logger *slog.Logger
	// Exit terminates the process from EnsureReady. Defaults to os.Exit.
	Exit func(code int)
}

// Service is the public geolocation entry point.
type Service struct {
	checker       AvailabilityChecker
	locator       CityLocator
	fieldCapacity int
	overflow      OverflowPolicy
	logger        *slog.Logger
	exit          func(code int)
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.FieldCapacity <= 0 {
		cfg.FieldCapacity = DefaultFieldCapacity
	}
	if cfg.Overflow == "" {
		cfg.Overflow = OverflowTruncate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	return &Service{
		checker:       cfg.Checker,
		locator:       cfg.Locator,
		fieldCapacity: cfg.FieldCapacity,
		overflow:      cfg.Overflow,
		logger:        cfg.Logger,
		exit:          cfg.Exit,
	}
}

// Ready runs the availability check without side effects on the process.
func (s *Service) Ready(ctx context.Context) error {
	if s == nil || s.checker == nil {
		return newError(ErrorCodeToolUnavailable, "geo: service has no availability checker", false, nil)
	}
	return s.checker.Check(ctx)
}

// EnsureReady is the startup gate: when the tool is unusable it logs the
// reason and terminates the process with ExitToolUnavailable.
func (s *Service) EnsureReady(ctx context.Context) {
	err := s.Ready(ctx)
	if err == nil {
		return
	}
	s.logger.Error("unable to find the nali geolocation program; install it and make sure it is on PATH",
		"error", err,
	)
	s.exit(ExitToolUnavailable)
}

// Resolve checks availability, writes the placeholder continent and
// country, and looks up the city into rec.City. Failures are either
// TOOL_UNAVAILABLE, INVALID_REQUEST for missing buffers, or
// CITY_LOOKUP_FAILED whose Reason names the underlying code (including
// BUFFER_OVERFLOW from a strict buffer).
func (s *Service) Resolve(ctx context.Context, ip string, rec *Record) error {
	if rec == nil || rec.Continent == nil || rec.Country == nil || rec.City == nil {
		return newError(ErrorCodeInvalidRequest, "geo: record buffers are required", false, nil)
	}
	if err := s.Ready(ctx); err != nil {
		return err
	}
	if s.locator == nil {
		return newError(ErrorCodeCityLookupFailed, "geo: service has no city locator", false, nil)
	}

	if err := rec.Continent.Set(Placeholder); err != nil {
		return newError(ErrorCodeCityLookupFailed, "geo: continent buffer rejected placeholder", false, err)
	}
	if err := rec.Country.Set(Placeholder); err != nil {
		return newError(ErrorCodeCityLookupFailed, "geo: country buffer rejected placeholder", false, err)
	}
	if err := s.locator.Lookup(ctx, ip, rec.City); err != nil {
		s.logger.Debug("city lookup failed", "ip", ip, "reason", Reason(err), "error", err)
		return newError(ErrorCodeCityLookupFailed, "geo: city lookup for "+ip+" failed", IsRetryable(err), err)
	}
	s.logger.Debug("resolved location", "ip", ip, "city", rec.City.String())
	return nil
}

// Lookup resolves ip into a freshly allocated record and returns its values.
func (s *Service) Lookup(ctx context.Context, ip string) (Location, error) {
	if s == nil {
		return Location{}, newError(ErrorCodeInvalidRequest, "geo: service is nil", false, nil)
	}
	rec := NewRecord(s.fieldCapacity, s.overflow)
	if err := s.Resolve(ctx, ip, rec); err != nil {
		return Location{}, err
	}
	return rec.Location(), nil
}
