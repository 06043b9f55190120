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
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pagegraph/internal/engine"
	"github.com/roach88/pagegraph/internal/live"
	"github.com/roach88/pagegraph/internal/metrics"
	"github.com/roach88/pagegraph/internal/runner"
)

const (
	livePath       = "/__live"
	metricsPath    = "/metrics"
	pageDataPrefix = "/page-data/"

	shutdownTimeout = 5 * time.Second
)

// DevelopOptions holds flags for the develop command.
type DevelopOptions struct {
	*RootOptions
	EngineOverrides
	Addr string

	// ready, when set, receives the bound listener address. Tests use it
	// with Addr "127.0.0.1:0".
	ready chan<- string
}

// NewDevelopCommand creates the develop command.
func NewDevelopCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DevelopOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "develop",
		Short: "Serve live query results while templates and data change",
		Long: `Start the engine in develop mode with a live-update server.

Only pages a browser is viewing run when their data changes; other dirty
pages wait until a client opens them. Results and query errors are pushed
to connected clients over a websocket.

Endpoints:
  /__live       websocket for live clients
  /page-data/   result files
  /metrics      prometheus metrics

Templates are polled for changes at develop.pollInterval.

Example:
  pagegraph develop
  pagegraph develop --addr localhost:9000 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevelop(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "maximum queries running at once (default from config)")
	cmd.Flags().StringVarP(&opts.OutputDir, "out", "o", "", "output directory (default from config)")

	return cmd
}

func runDevelop(opts *DevelopOptions, cmd *cobra.Command) error {
	logger := opts.logger()

	p, err := LoadProject(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load project", err)
	}
	window, err := p.Config.Develop.Window()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	poll, err := p.Config.Develop.Poll()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	addr := p.Config.Develop.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	// The hub feeds path activations to an engine that needs the hub as its
	// live channel, so the engine is bound after construction.
	var eng *engine.Engine
	hub := live.NewHub(live.SinkFunc(func(ev engine.Event) bool {
		return eng.Enqueue(ev)
	}), live.WithLogger(logger), live.WithMetrics(m))
	defer hub.Close()

	s, err := openSession(ctx, p, runner.ModeDevelop, opts.EngineOverrides, logger,
		engine.WithLive(hub),
		engine.WithMetrics(m),
		engine.WithBatchWindow(window),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	eng = s.engine
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Error("error closing database", "error", cerr)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle(livePath, hub)
	mux.Handle(metricsPath, metrics.Handler(reg))
	mux.Handle(pageDataPrefix, http.StripPrefix(pageDataPrefix, http.FileServer(http.Dir(s.out.Root()))))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving http://%s (live updates on %s)\n", ln.Addr(), livePath)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.ready != nil {
		opts.ready <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	if poll > 0 {
		g.Go(func() error {
			pollTemplates(gctx, p.Site.Root, p.Site.Components(), poll, eng, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "develop server error", err)
	}

	// Run has returned, so the checkpoint is taken in this goroutine.
	if err := eng.Checkpoint(context.Background()); err != nil {
		logger.Error("failed to save state", "error", err)
	}
	logger.Info("develop server stopped")
	return nil
}

// pollTemplates enqueues TemplateChanged whenever a template's modification
// time or size changes. It returns when ctx is done.
func pollTemplates(ctx context.Context, root string, components []string, every time.Duration, sink live.Sink, logger *slog.Logger) {
	type stamp struct {
		mod  time.Time
		size int64
	}
	read := func(component string) (stamp, bool) {
		info, err := os.Stat(filepath.Join(root, component))
		if err != nil {
			return stamp{}, false
		}
		return stamp{mod: info.ModTime(), size: info.Size()}, true
	}

	seen := make(map[string]stamp, len(components))
	for _, c := range components {
		seen[c], _ = read(c)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, c := range components {
			cur, _ := read(c)
			if cur == seen[c] {
				continue
			}
			seen[c] = cur
			logger.Debug("template changed", "component", c)
			if !sink.Enqueue(engine.TemplateChanged(c)) {
				return
			}
		}
	}
}
