// Package main provides the saline CLI entrypoint: the API server plus a
// handful of maintenance commands for sessions and memory.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/salinechat/saline/common/version"
	"github.com/salinechat/saline/internal/saline/app"
	"github.com/salinechat/saline/internal/saline/config"
	"github.com/salinechat/saline/internal/saline/fault"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "saline",
		Short: "Self-hosted single-user LLM chat",
		Long: `Saline is a self-hosted chat front-end over a hosted LLM gateway.
It keeps every session, persona, and the long-term memory document as plain
files, so the whole state is greppable and trivially backed up.

Run 'saline serve' to start the API server.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "saline.yaml",
		"path to the server configuration file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(personasCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadApp builds the full application from the server config and settings.
// Shared by every command that touches the data directory.
func loadApp() (*app.App, config.Server, error) {
	server, err := config.LoadServer(configPath)
	if err != nil {
		return nil, server, err
	}
	config.SetupLogging(server.Log.Level, server.Log.Format)

	settingsPath := filepath.Join(server.DataDir, "config.json")
	settings, err := config.Load(settingsPath)
	if fault.IsNotFound(err) {
		return nil, server, fmt.Errorf(
			"no settings found at %s — create it with at least {\"OPENROUTER_API_KEY\": \"...\", \"MODEL\": \"...\"}",
			settingsPath)
	}
	if err != nil {
		return nil, server, err
	}

	a, err := app.New(server, settings, settingsPath)
	if err != nil {
		return nil, server, err
	}
	return a, server, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("saline", version.Info())
		},
	}
}
