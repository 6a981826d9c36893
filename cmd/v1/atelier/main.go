// Command atelier runs the collaboration session broker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atelierhq/atelier/internal/v1/bus"
	"github.com/atelierhq/atelier/internal/v1/config"
	"github.com/atelierhq/atelier/internal/v1/credentials"
	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/protocol"
	"github.com/atelierhq/atelier/internal/v1/relay"
	"github.com/atelierhq/atelier/internal/v1/room"
	"github.com/atelierhq/atelier/internal/v1/server"
	"github.com/atelierhq/atelier/internal/v1/tracing"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "atelier",
		Short:         "Real-time collaboration session broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStartCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the broker version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "atelier %s (protocol %s)\n", version, protocol.Version)
		},
	}
}

func newStartCmd() *cobra.Command {
	var (
		port       string
		hostname   string
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, configFile, port, hostname)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&port, "port", config.DefaultPort, "listen port")
	cmd.Flags().StringVar(&hostname, "hostname", "localhost", "listen hostname")
	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
	return cmd
}

// loadConfig assembles configuration with flag > file > env > default
// precedence and validates the result, reporting every problem at once.
func loadConfig(cmd *cobra.Command, configFile, port, hostname string) (*config.Config, error) {
	// Best-effort .env for local development.
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFile(configFile)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			return nil, err
		}
	} else {
		cfg = config.Load()
	}

	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("hostname") {
		cfg.Hostname = hostname
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "configuration invalid:")
		for _, err := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", err)
		}
		return nil, fmt.Errorf("%d configuration error(s)", len(errs))
	}

	return cfg, nil
}

func run(cfg *config.Config) error {
	if err := logging.Initialize(cfg.LogLevel, cfg.Development()); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info(ctx, "starting broker",
		zap.String("version", version),
		zap.String("protocol", protocol.Version),
		zap.String("config", cfg.Redacted()))

	if cfg.TracingEnabled {
		shutdown, err := tracing.Init(ctx, "atelier-broker", cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("initialize tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				logging.Error(flushCtx, "tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	var events *bus.Service
	if cfg.BusEnabled() {
		var err error
		events, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			// Lifecycle mirroring is optional; rooms work without it.
			logging.Warn(ctx, "event bus unreachable, running single-instance", zap.Error(err))
			events = nil
		}
	} else {
		logging.Info(ctx, "running single-instance, no event bus configured")
	}
	defer func() { _ = events.Close() }()

	creds := credentials.New(cfg.JWTPrivateKey)
	rly := relay.New()
	rooms := room.NewManager(creds, rly, events)
	rly.AttachRooms(rooms)
	broker := server.New(cfg, creds, rly, rooms, events)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broker.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logging.Error(ctx, "broker exited with error", zap.Error(err))
		return err
	}
	return nil
}
