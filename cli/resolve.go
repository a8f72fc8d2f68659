package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/petal-labs/naligeo/geo"
	"github.com/petal-labs/naligeo/history"
)

const defaultResolveConcurrency = 4

// NewResolveCmd creates the "resolve" subcommand.
func NewResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <ip>...",
		Short: "Resolve IP addresses to locations",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runResolve,
	}

	cmd.Flags().Int("concurrency", defaultResolveConcurrency, "Maximum concurrent nali lookups")
	cmd.Flags().Bool("json", false, "Print results as JSON")
	cmd.Flags().Bool("no-history", false, "Do not record lookups in the history store")

	return cmd
}

type resolveResult struct {
	IP string `json:"ip"`
	geo.Location
	Error   *resolveError `json:"error,omitempty"`
	elapsed time.Duration
	err     error
}

type resolveError struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	asJSON, _ := cmd.Flags().GetBool("json")
	noHistory, _ := cmd.Flags().GetBool("no-history")
	if concurrency <= 0 {
		return exitError(exitConfig, "--concurrency must be positive")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	comps, err := buildComponents(ctx, cmd, cfg, !noHistory)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() {
		_ = comps.Close(context.Background())
	}()

	if err := comps.ensureReady(ctx); err != nil {
		return err
	}

	results := resolveAll(ctx, comps.service, trimIPs(args), concurrency)

	if comps.history != nil {
		for _, result := range results {
			entry := history.EntryFor(result.IP, result.Location, result.err, result.elapsed)
			if _, err := comps.history.Append(ctx, entry); err != nil {
				comps.logger.Warn("history append failed", "ip", result.IP, "error", err)
			}
		}
	}

	if err := printResults(cmd, results, asJSON); err != nil {
		return exitError(exitRuntime, "writing results: %v", err)
	}

	failed := 0
	for _, result := range results {
		if result.err != nil {
			failed++
			comps.logger.Error("lookup failed", "ip", result.IP, "code", result.Error.Code, "reason", result.Error.Reason)
		}
	}
	if failed > 0 {
		return exitError(exitLookupFailed, "%d of %d lookup(s) failed", failed, len(results))
	}
	return nil
}

// resolveAll looks up every ip with at most limit lookups in flight and
// returns the results in input order. One failure does not stop the rest.
func resolveAll(ctx context.Context, svc *geo.Service, ips []string, limit int) []resolveResult {
	results := make([]resolveResult, len(ips))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, ip := range ips {
		g.Go(func() error {
			start := time.Now()
			loc, err := svc.Lookup(ctx, ip)
			result := resolveResult{IP: ip, Location: loc, elapsed: time.Since(start), err: err}
			if err != nil {
				code := geo.Code(err)
				if code == "" {
					code = geo.ErrorCodeCityLookupFailed
				}
				result.Error = &resolveError{Code: code, Reason: geo.Reason(err), Message: err.Error()}
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func printResults(cmd *cobra.Command, results []resolveResult, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, result := range results {
		if result.err != nil {
			if _, err := fmt.Fprintf(out, "%s\terror: %s (%s)\n", result.IP, result.Error.Code, result.Error.Reason); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", result.IP, result.Continent, result.Country, result.City); err != nil {
			return err
		}
	}
	return nil
}

func trimIPs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		out = append(out, strings.TrimSpace(arg))
	}
	return out
}
