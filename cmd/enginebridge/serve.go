package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vango-dev/enginebridge/internal/config"
	"github.com/vango-dev/enginebridge/pkg/middleware"
	"github.com/vango-dev/enginebridge/pkg/nativehost"
	"github.com/vango-dev/enginebridge/pkg/platform"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

type serveOptions struct {
	addr     string
	dir      string
	engine   string
	delay    time.Duration
	logLevel string
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a native host with headless engine runtimes",
		Long: `Run a native host that exposes views over websocket at
/views/{id}/ws. Views are embedded on first connection with a headless
runtime that echoes every message sent to its targets back as events.

Examples:
  enginebridge serve
  enginebridge serve --addr=:9000 --engine=unreal
  enginebridge serve --config=deploy --delay=200ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().StringVarP(&opts.dir, "config", "c", ".", "Directory containing enginebridge.json")
	cmd.Flags().StringVarP(&opts.engine, "engine", "e", "", "Engine type for provisioned views: unity or unreal")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "Simulated embedding delay")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	return cmd
}

// buildServer assembles the native host from a config file.
func buildServer(cfg *config.Config, opts serveOptions) (*nativehost.Server, error) {
	logger := newLogger(opts.logLevel)

	if opts.addr != "" {
		cfg.Server.Address = opts.addr
	}
	if opts.engine != "" {
		cfg.Controller.EngineType = opts.engine
	}
	if opts.delay > 0 {
		cfg.Server.EmbedDelay = config.Duration(opts.delay)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}

	var regOpts []platform.RegistryOption
	regOpts = append(regOpts, platform.WithLogger(logger))
	sc := cfg.NativeServer(logger)

	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := middleware.NewMetrics(
			middleware.WithNamespace(cfg.Metrics.Namespace),
			middleware.WithSubsystem("host"),
			middleware.WithRegistry(promReg),
		)
		regOpts = append(regOpts,
			platform.OnRegister(func(int64) { m.RecordViewCreated() }),
			platform.OnUnregister(func(int64) { m.RecordViewDisposed() }),
		)
		sc.Metrics = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	}

	ec := cfg.Embedder(logger)
	ec.Handler.Store = st
	registry := platform.NewRegistry(regOpts...)
	return nativehost.NewServer(registry, nativehost.NewEmbedder(ec), sc), nil
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := loadConfig(opts.dir)
	if err != nil {
		return err
	}
	srv, err := buildServer(cfg, opts)
	if err != nil {
		return err
	}

	sc := srv.Config()
	success("Native host on %s (%s)", sc.Address, protocol.EngineType(cfg.Controller.EngineType))
	info("views:   ws://%s/views/{id}/ws", displayAddr(sc.Address))
	if sc.Metrics != nil {
		info("metrics: http://%s%s", displayAddr(sc.Address), sc.MetricsPath)
	}
	if cfg.Store.Type != config.StoreNone {
		info("store:   %s", cfg.Store.Type)
	}
	return srv.Run(ctx)
}

func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
