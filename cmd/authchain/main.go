// Package main is the entry point for the authchain binary. It inspects
// message policies, dry-runs configured auth contexts and runs the
// configuration watcher.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/polisai/authchain/pkg/authcontext"
	"github.com/polisai/authchain/pkg/config"
	"github.com/polisai/authchain/pkg/logging"
	"github.com/polisai/authchain/pkg/modules"
	"github.com/polisai/authchain/pkg/policy"
	"github.com/polisai/authchain/pkg/registry"
	"github.com/polisai/authchain/pkg/telemetry"
)

const (
	defaultLogLevel = "info"
	serviceName     = "authchain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for authchain.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "authchain",
		Short: "Pluggable authentication module chains",
		Long: `authchain resolves, initializes and runs ordered chains of pluggable
authentication modules per auth context.

Example:
  authchain policy --source sender --recipient before-content
  authchain check -c authchain.yaml --auth-context admin -H "Authorization: Bearer $TOKEN"
  authchain watch -c authchain.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newPolicyCmd(), newProfileCmd(), newCheckCmd(), newWatchCmd())
	return rootCmd
}

// loadConfig reads the --config file and applies the --log-level flag.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	level, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if level != "" {
		cfg.Logging.Level = level
	}
	return cfg, path, nil
}

// runtime wires the registry and auth configs for one configuration file.
type runtime struct {
	manager *registry.Manager
	server  *authcontext.ServerConfig
	client  *authcontext.ClientConfig
}

// newManager builds the module registry. With a config path the registry,
// its return_null_contexts setting and the returned delegate all follow
// reloads of the file.
func newManager(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger) (*registry.Manager, policy.Delegate, error) {
	reg := modules.NewRegistry()
	config.RegisterParsers(reg)

	var source registry.Source
	delegate := cfg.PolicyDelegate()
	if path != "" {
		fileSource := config.NewFileSource(path, reg, logger)
		source = fileSource
		delegate = fileSource.Delegate()
	} else {
		entries, err := cfg.Modules(reg)
		if err != nil {
			return nil, nil, err
		}
		source = registry.StaticSource(entries)
	}

	manager, err := registry.NewManager(ctx, registry.ManagerOptions{
		Source:             source,
		Loader:             reg,
		Logger:             logger,
		ReturnNullContexts: cfg.ReturnNullContexts,
		AppContext:         cfg.AppContext,
	})
	if err != nil {
		return nil, nil, err
	}
	return manager, delegate, nil
}

func newRuntime(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger, metrics *telemetry.Metrics) (*runtime, error) {
	manager, delegate, err := newManager(ctx, cfg, path, logger)
	if err != nil {
		return nil, err
	}

	opts := authcontext.Options{
		Layer:      cfg.Layer,
		AppContext: cfg.AppContext,
		Manager:    manager,
		Delegate:   delegate,
		Resolver:   policy.NewHandlerResolver(cfg.HandlerConfig(), logger),
		Logger:     logger,
		Metrics:    metrics,
	}
	server, err := authcontext.NewServerConfig(opts)
	if err != nil {
		return nil, err
	}
	client, err := authcontext.NewClientConfig(opts)
	if err != nil {
		return nil, err
	}

	return &runtime{manager: manager, server: server, client: client}, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := cfg.LoggingOptions()
	opts.Output = os.Stderr
	return logging.SetupLogger(opts)
}
