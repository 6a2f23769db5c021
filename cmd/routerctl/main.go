// Command routerctl is a command-line client for the agent router API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts clientOptions

	root := &cobra.Command{
		Use:          "routerctl",
		Short:        "Ask questions and inspect traces on an agent router",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "server", envOr("ROUTER_URL", "http://localhost:8080"), "router base URL")
	root.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("ROUTER_API_KEY"), "API key")
	root.PersistentFlags().BoolVar(&opts.raw, "json", false, "print raw JSON")

	root.AddCommand(
		newAskCommand(&opts),
		newTraceCommand(&opts),
		newTracesCommand(&opts),
		newToolsCommand(&opts),
		newCancelCommand(&opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
