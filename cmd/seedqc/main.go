// Command seedqc operates the seed-quality measurement engine: it prints the
// record dashboard, replays operation files against the configured store and
// serves metrics with a scheduled dashboard log.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"seedqc/internal/app"
	"seedqc/internal/config"
	"seedqc/internal/scheduler"
	"seedqc/pkg/logger"
)

var exitFunc = os.Exit

const usage = `usage: seedqc [-env file] <command> [args]

commands:
  dashboard          print record counts per kind and state as JSON
  replay <file>      apply a JSON-lines file of operations ("-" reads stdin)
  serve              expose /metrics and /debug/vars and log the dashboard on schedule

Set SEEDQC_TRACE_FILE to append operation spans as JSON lines.
`

func main() {
	code := cli(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("seedqc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { _, _ = fmt.Fprint(stderr, usage) }
	envFile := fs.String("env", "", "optional .env file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	base, err := logger.New(cfg.Log.Level)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = base.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "dashboard", "replay", "serve":
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", command)
		fs.Usage()
		return 2
	}

	a, err := app.Build(ctx, cfg, base)
	if err != nil {
		base.Error("failed to build service", zap.Error(err))
		return 1
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			base.Error("failed to close store", zap.Error(err))
		}
	}()

	switch command {
	case "dashboard":
		err = runDashboard(ctx, a, stdout)
	case "replay":
		err = runReplay(ctx, a, rest, stdin, stdout)
	case "serve":
		err = runServe(ctx, a, cfg)
	}
	if err != nil {
		base.Error("command failed", zap.String("command", command), zap.Error(err))
		return 1
	}
	return 0
}

func runDashboard(ctx context.Context, a *app.App, stdout io.Writer) error {
	summary, err := a.Service.Dashboard(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

var errReplayFailures = errors.New("replay finished with failures")

func runReplay(ctx context.Context, a *app.App, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("replay expects exactly one file argument")
	}
	in := stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	report, err := app.Replay(ctx, a.Service, in)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%w: %d of %d", errReplayFailures, len(report.Failures), len(report.Failures)+report.Applied)
	}
	return nil
}

func runServe(ctx context.Context, a *app.App, cfg *config.Config) error {
	sched := scheduler.NewScheduler(cfg.Dashboard.Cron, a.Service, logger.Named(a.Logger, "scheduler"))
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	srv := &http.Server{
		Addr:         cfg.Metrics.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("metrics server starting", zap.String("addr", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
