package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/petal-labs/naligeo/server"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the geolocation HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "Listen port (default from config)")
	cmd.Flags().String("host", "", "Listen host (default from config)")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().Duration("read-timeout", 0, "HTTP read timeout (default from config)")
	cmd.Flags().Duration("write-timeout", 0, "HTTP write timeout (default from config)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	host := cfg.Server.Host
	if cmd.Flags().Changed("host") {
		host, _ = cmd.Flags().GetString("host")
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port, _ = cmd.Flags().GetInt("port")
	}
	readTimeout := cfg.Server.ReadTimeout
	if cmd.Flags().Changed("read-timeout") {
		readTimeout, _ = cmd.Flags().GetDuration("read-timeout")
	}
	writeTimeout := cfg.Server.WriteTimeout
	if cmd.Flags().Changed("write-timeout") {
		writeTimeout, _ = cmd.Flags().GetDuration("write-timeout")
	}
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")

	comps, err := buildComponents(cmd.Context(), cmd, cfg, true)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() {
		if closeErr := comps.Close(context.Background()); closeErr != nil && err == nil {
			err = exitError(exitRuntime, "shutdown error: %v", closeErr)
		}
	}()

	if err := comps.ensureReady(cmd.Context()); err != nil {
		return err
	}

	// A nil *SQLiteStore must not become a non-nil interface.
	var store server.HistoryStore
	if comps.history != nil {
		store = comps.history
	}
	apiServer := server.NewServer(server.ServerConfig{
		Service:    comps.service,
		History:    store,
		CORSOrigin: corsOrigin,
		Logger:     comps.logger,
	})

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	// Signal handling
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		comps.logger.Info("naligeo listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		comps.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
			shutdownErr = multierr.Append(shutdownErr, serveErr)
		}
		if shutdownErr != nil {
			return exitError(exitRuntime, "shutdown error: %v", shutdownErr)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
