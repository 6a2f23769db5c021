package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	mcpadapter "github.com/tjfontaine/agent-router/internal/adapters/tools/mcp"
	"github.com/tjfontaine/agent-router/internal/tools/demo"
	"github.com/tjfontaine/agent-router/pkg/router"
)

var version = "dev"

func main() {
	var (
		configPath string
		logLevel   string
		demoTools  bool
	)

	cmd := &cobra.Command{
		Use:          "router",
		Short:        "Run the agent router HTTP service",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, logLevel, demoTools)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&demoTools, "demo-tools", false, "serve the built-in demo tools in-process")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, logLevel string, demoTools bool) error {
	// Load .env file if it exists
	_ = godotenv.Load()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	opts := []router.Option{
		router.WithFileConfig(configPath),
		router.WithLogger(logger),
	}
	if demoTools {
		opts = append(opts, router.WithToolClient(
			mcpadapter.NewInProcess("demo", demo.NewServer(version), mcpadapter.WithLogger(logger))))
	}

	r, err := router.New(opts...)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping router")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	return nil
}
