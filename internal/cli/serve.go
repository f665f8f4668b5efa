package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/relance/internal/clock"
	"github.com/roach88/relance/internal/config"
	"github.com/roach88/relance/internal/debounce"
	"github.com/roach88/relance/internal/engine"
	"github.com/roach88/relance/internal/metrics"
)

// shutdownTimeout bounds how long in-flight HTTP requests may take once a
// shutdown begins.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string // overrides listen from the configuration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation service",
		Long: `Run the reconciliation service.

Every booking write accepted over HTTP is queued and reconciled in the
background. The configuration file, when given, is watched: a reload
applies its switches and cooldown to the next pass and re-reads the rules
from rules_dir. Edits to rule files alone take effect on the next
configuration reload; a rule set that fails to compile is logged and the
running one is kept.

Endpoints:
  PUT    /bookings/{id}          upsert a booking document
  DELETE /bookings/{id}          delete a booking (tasks follow)
  POST   /bookings/{id}/repair   forced pass
  GET    /bookings/{id}/tasks    list tasks
  DELETE /bookings/{id}/tasks    remove automatic tasks
  GET    /metrics                Prometheus metrics

The service runs until interrupted (Ctrl-C or SIGTERM).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides listen)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	out := opts.formatter(cmd)

	// The service logs at Info unless --verbose asked for more
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), logLevel))

	var (
		src   config.Source
		watch *config.FileSource
	)
	if opts.ConfigPath != "" {
		fs, err := config.NewFileSource(opts.ConfigPath)
		if err != nil {
			return out.Fail(ExitCommandError, ErrCodeConfig, err)
		}
		src, watch = fs, fs
	}

	cfg := config.Default()
	if src != nil {
		cfg = src.Current()
	}
	guard := debounce.New(clock.System{}, cfg.Cooldown, debounce.WithSweepInterval(cfg.SweepInterval))
	m := metrics.New()

	e, err := openEnv(out, opts.RootOptions, src, engine.WithGuard(guard), engine.WithMetrics(m))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := e.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database ready", "driver", e.cfg.Store.Driver)

	listen := e.cfg.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeServe, fmt.Errorf("listen %s: %w", listen, err))
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	if watch != nil {
		watch.OnChange(func(c *config.Config) {
			guard.SetCooldown(c.Cooldown)
			reloadCatalog(e.rec, c.RulesDir)
			slog.Info("configuration reloaded",
				"enabled", c.Enabled,
				"cooldown", c.Cooldown,
				"disabled_tenants", len(c.DisabledTenants),
			)
		})
		if err := watch.Start(ctx); err != nil {
			ln.Close()
			return out.Fail(ExitCommandError, ErrCodeConfig, err)
		}
		defer watch.Stop()
	}

	guard.Start(ctx)
	defer guard.Stop()

	dispatcher := engine.NewDispatcher(e.rec)
	unsubscribe := e.store.Subscribe(dispatcher.Handle)
	defer unsubscribe()

	srv := &http.Server{
		Handler:           newAdminMux(e.store, e.rec, m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Detached from gctx: Stop lets queued events drain first
		return dispatcher.Run(context.WithoutCancel(gctx))
	})
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer dispatcher.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("service starting",
		"listen", ln.Addr().String(),
		"rules", e.rec.Catalog().Len(),
		"catalog", e.rec.Catalog().Digest(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", ln.Addr())

	if err := g.Wait(); err != nil {
		return out.Fail(ExitFailure, ErrCodeServe, err)
	}

	slog.Info("service stopped gracefully", "pending", dispatcher.Pending())
	return nil
}

// reloadCatalog swaps in the rules of dir ("" for the built-in rules).
// A rule set that fails to load keeps the running catalog.
func reloadCatalog(rec *engine.Reconciler, dir string) bool {
	cat, err := loadCatalog(dir)
	if err != nil {
		slog.Error("rules reload failed, keeping current rules", "rules_dir", dir, "error", err)
		return false
	}
	if cat.Digest() == rec.Catalog().Digest() {
		return false
	}
	rec.SetCatalog(cat)
	slog.Info("rules reloaded",
		"rules_dir", dir,
		"rules", cat.Len(),
		"catalog", cat.Digest(),
	)
	return true
}
