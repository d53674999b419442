package main

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

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/authchain/internal/epochbus"
	"github.com/polisai/authchain/pkg/config"
	"github.com/polisai/authchain/pkg/registry"
	"github.com/polisai/authchain/pkg/telemetry"
)

const (
	gracefulShutdownTimeout  = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the configuration file and refresh the module registry on change",
		Long: `watch keeps the module registry in sync with the configuration file. Each
change advances the registry epoch; when redis is configured the refresh is
announced to every other process sharing the channel. Prometheus metrics are
served on the configured metrics address.`,
		RunE: runWatch,
	}
	cmd.Flags().Duration("debounce", config.DefaultDebounce, "Quiet period before a reload")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New("watch requires --config")
	}
	debounce, _ := cmd.Flags().GetDuration("debounce")

	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Environment:  os.Getenv("AUTHCHAIN_ENVIRONMENT"),
		ResourceTags: map[string]string{"app_context": cfg.AppContext, "layer": cfg.Layer},
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	manager, _, err := newManager(ctx, cfg, path, logger)
	if err != nil {
		return err
	}
	metrics.RecordRegistryReload(manager.Epoch(), nil)
	// Successful refreshes are recorded here so remote ones count too.
	manager.OnRefresh(func(epoch uint64) {
		metrics.RecordRegistryReload(epoch, nil)
	})

	refresh := manager.Refresh
	if cfg.Redis.Addr != "" {
		bus, err := startBus(ctx, cfg, manager, logger)
		if err != nil {
			return err
		}
		refresh = bus.Refresh
	}

	reload := func(ctx context.Context) error {
		err := refresh(ctx)
		if err != nil {
			metrics.RecordRegistryReload(manager.Epoch(), err)
		}
		return err
	}

	watcher, err := config.NewWatcher(path, reload, logger, config.WithDebounce(debounce))
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()

	server := startMetricsServer(cfg.Metrics.Address, metrics, logger)
	defer shutdownServer(server, logger)

	logger.Info("authchain watching configuration",
		"config_path", path,
		"app_context", cfg.AppContext,
		"epoch", manager.Epoch(),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func startBus(ctx context.Context, cfg *config.Config, manager *registry.Manager, logger *slog.Logger) (*epochbus.Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	bus, err := epochbus.New(client, manager, epochbus.Options{
		Channel:    cfg.Redis.Channel,
		AppContext: cfg.AppContext,
		Logger:     logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := bus.Start(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", cfg.Redis.Channel, err)
	}
	go func() {
		<-bus.Done()
		_ = client.Close()
	}()
	return bus, nil
}

// newMetricsHandler serves the prometheus registry and a health probe.
func newMetricsHandler(metrics *telemetry.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return otelhttp.NewHandler(mux, "authchain.metrics")
}

func startMetricsServer(addr string, metrics *telemetry.Metrics, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           newMetricsHandler(metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Error("metrics server listen error", "error", err)
			return
		}
		logger.Info("metrics server listening", "address", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return server
}

func shutdownServer(server *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
}
