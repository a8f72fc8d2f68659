package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/petal-labs/naligeo/config"
	"github.com/petal-labs/naligeo/geo"
	"github.com/petal-labs/naligeo/history"
	geootel "github.com/petal-labs/naligeo/otel"
)

// loadConfig reads the configuration selected by --config.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	cfg, path, err := config.Load(explicit)
	if err != nil {
		return config.Config{}, exitError(exitConfig, "%v", err)
	}
	if path != "" {
		newLogger(cmd).Debug("loaded config", "path", path)
	}
	return cfg, nil
}

// newLogger builds a text logger on stderr honoring --verbose and --quiet.
func newLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")

	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// components is the wired geolocation stack for one command run.
type components struct {
	checker  *geo.Checker
	invoker  *geo.Invoker
	service  *geo.Service
	history  *history.SQLiteStore // nil when history is disabled
	logger   *slog.Logger
	shutdown geootel.ShutdownFunc

	// gateCode records the exit code requested by Service.EnsureReady.
	gateCode int
}

func buildComponents(ctx context.Context, cmd *cobra.Command, cfg config.Config, withHistory bool) (*components, error) {
	logger := newLogger(cmd)
	c := &components{logger: logger}

	shutdown, err := geootel.SetupTracing(ctx, geootel.TracingConfig{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	c.shutdown = shutdown

	observer, err := geootel.NewGlobalObserver()
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("initializing geolocation observability: %w", err)
	}
	geo.SetObserver(observer)

	c.checker = geo.NewChecker(cfg.Command(), cfg.Tool.ProbeTimeout)
	c.invoker = geo.NewInvoker(geo.InvokerConfig{
		Command:        cfg.Command(),
		Timeout:        cfg.Lookup.Timeout,
		OutputCapacity: cfg.Lookup.OutputCapacity,
		Retry:          cfg.Lookup.Retry,
	})
	c.service = geo.NewService(geo.ServiceConfig{
		Checker:       c.checker,
		Locator:       c.invoker,
		FieldCapacity: cfg.Lookup.FieldCapacity,
		Overflow:      cfg.Overflow(),
		Logger:        logger,
		Exit:          func(code int) { c.gateCode = code },
	})

	if withHistory && cfg.History.Path != "" {
		store, err := history.NewSQLiteStore(history.SQLiteStoreConfig{
			DSN:            cfg.History.Path,
			RetentionAge:   cfg.History.RetentionAge,
			RetentionCount: cfg.History.RetentionCount,
			PruneInterval:  cfg.History.PruneInterval,
		})
		if err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		c.history = store
	}
	return c, nil
}

// ensureReady runs the startup gate. A missing tool ends the command with
// exitToolUnavailable once deferred cleanup has run.
func (c *components) ensureReady(ctx context.Context) error {
	c.service.EnsureReady(ctx)
	if c.gateCode != 0 {
		return exitError(c.gateCode, "nali is not available")
	}
	return nil
}

// Close releases the history store and flushes telemetry.
func (c *components) Close(ctx context.Context) error {
	geo.SetObserver(nil)
	var err error
	if c.history != nil {
		err = multierr.Append(err, c.history.Close())
	}
	if c.shutdown != nil {
		err = multierr.Append(err, c.shutdown(ctx))
	}
	return err
}
