package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	c := &client{}

	root := &cobra.Command{
		Use:   "davectl",
		Short: "davectl - race control ticket bot management CLI",
		Long: `davectl talks to a running daved over its HTTP API.

Environment:
  DAVE_API_URL   Daemon URL (default: http://localhost:8080)
  DAVE_API_KEY   API key for authentication`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.baseURL, "url", envOr("DAVE_API_URL", "http://localhost:8080"), "daved API URL")
	root.PersistentFlags().StringVar(&c.apiKey, "key", os.Getenv("DAVE_API_KEY"), "API key")

	root.AddCommand(healthCmd(c))
	root.AddCommand(ticketsCmd(c))
	root.AddCommand(archiveCmd(c))
	root.AddCommand(logsCmd(c))
	root.AddCommand(configCmd())
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
