package geo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultWatchSchedule probes the tool every five minutes.
const DefaultWatchSchedule = "*/5 * * * *"

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// ParseSchedule parses a five-field UTC cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// HealthEvent is one monitor probe result.
type HealthEvent struct {
	Previous  *bool
	Available bool
	CheckedAt time.Time
	Err       error
}

// Changed reports whether availability differs from the previous probe.
// The first probe always counts as a change.
func (e HealthEvent) Changed() bool {
	return e.Previous == nil || *e.Previous != e.Available
}

// HealthEventHandler handles monitor events.
type HealthEventHandler func(event HealthEvent)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Checker  AvailabilityChecker
	Schedule string
	Now      func() time.Time
	OnEvent  HealthEventHandler
}

// Monitor probes tool availability on a cron schedule and reports each
// result. It keeps the last result only to flag transitions.
type Monitor struct {
	checker  AvailabilityChecker
	schedule cron.Schedule
	now      func() time.Time
	onEvent  HealthEventHandler

	mu     sync.Mutex
	last   *bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Checker == nil {
		return nil, errors.New("geo: monitor checker is nil")
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultWatchSchedule
	}
	schedule, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(HealthEvent) {}
	}
	return &Monitor{
		checker:  cfg.Checker,
		schedule: schedule,
		now:      cfg.Now,
		onEvent:  cfg.OnEvent,
	}, nil
}

// Start probes once immediately and then on every schedule tick.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("geo: monitor is nil")
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.RunOnce(loopCtx)
		for {
			wait := m.schedule.Next(m.now()).Sub(m.now())
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
				m.RunOnce(loopCtx)
			}
		}
	}()

	return nil
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one probe and reports it.
func (m *Monitor) RunOnce(ctx context.Context) HealthEvent {
	err := m.checker.Check(ctx)
	available := err == nil

	m.mu.Lock()
	event := HealthEvent{
		Previous:  m.last,
		Available: available,
		CheckedAt: m.now(),
		Err:       err,
	}
	m.last = &available
	m.mu.Unlock()

	m.onEvent(event)
	return event
}
