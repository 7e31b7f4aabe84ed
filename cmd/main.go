package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"lift-robot-bridge/internal/api"
	"lift-robot-bridge/internal/auth"
	"lift-robot-bridge/internal/binding"
	"lift-robot-bridge/internal/config"
	"lift-robot-bridge/internal/elevator"
	"lift-robot-bridge/internal/governor"
	"lift-robot-bridge/internal/logging"
	"lift-robot-bridge/internal/topology"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "lift-robot-bridge",
	Short: "Lift Robot Bridge - Connect service robots to the elevator cloud",
	Long: `A gateway that lets service robots call elevators through the
vendor's cloud APIs. The bridge exposes a simple signed HTTP API to robots
and translates each operation onto the elevator real-time protocol, with
rate limiting, idempotent call replay and door-hold lease management.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logging.Initialize(cfg.LogLevel)
	if cfg.LogFile != "" {
		if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
			logger.WithError(err).Warn("Failed to set up file logging, using stdout")
		}
	}

	if !cfg.HasCredentials() {
		logger.Warn("Cloud client credentials not configured, elevator calls will fail")
	}

	tokens := auth.NewTokenManager(auth.TokenManagerConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		SafetyMargin: time.Duration(cfg.TokenSafetyMarginSec) * time.Second,
	}, logging.NewComponentLogger(logger, "auth"))

	fetcher := topology.NewHTTPFetcher(cfg.TopologyURL, tokens, logging.NewComponentLogger(logger, "topology"))
	topoCache := topology.NewCache(fetcher, logging.NewComponentLogger(logger, "topology"))

	var store governor.Store
	if cfg.RedisAddr != "" {
		redisStore, err := governor.NewRedisStore(governor.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		store = redisStore
		logger.WithField("addr", cfg.RedisAddr).Info("Using redis call governor store")
	} else {
		store = governor.NewMemoryStore()
	}

	gov := governor.New(store, governor.Config{
		Window:         cfg.RateLimitWindow(),
		MaxCalls:       cfg.RateLimitMaxCalls,
		IdempotencyTTL: cfg.IdempotencyTTL(),
	}, logging.NewComponentLogger(logger, "governor"))

	var bindings elevator.BindingAuthority
	if cfg.BindingDSN != "" {
		bindingStore, err := binding.Open(cfg.BindingDriver, cfg.BindingDSN, logging.NewComponentLogger(logger, "binding"))
		if err != nil {
			return fmt.Errorf("failed to open binding store: %w", err)
		}
		defer bindingStore.Close()
		bindings = bindingStore
	} else {
		logger.Warn("No binding store configured, all lifts treated as bound")
	}

	service := elevator.NewService(cfg, logging.NewComponentLogger(logger, "elevator"), tokens, topoCache, gov, bindings)

	server := api.NewServer(cfg, logging.NewComponentLogger(logger, "api"), service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Start(ctx)
}
