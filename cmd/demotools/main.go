// Command demotools serves the demo weather and time tools over MCP, on both
// the streamable HTTP transport (/mcp) and the SSE transport (/sse).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/agent-router/internal/tools/demo"
)

var version = "dev"

func main() {
	var addr string

	cmd := &cobra.Command{
		Use:          "demotools",
		Short:        "Serve demo MCP tools for the agent router",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8090", "listen address")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, addr string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	mcpServer := demo.NewServer(version)
	streamable := server.NewStreamableHTTPServer(mcpServer)
	sse := server.NewSSEServer(mcpServer)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/mcp", streamable)
	r.Handle("/sse", sse)
	r.Handle("/message", sse)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("demo tools listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(
		sse.Shutdown(shutdownCtx),
		srv.Shutdown(shutdownCtx),
	)
}
