// ABOUTME: Entry point for wbot-gateway, the multi-account session gateway
// ABOUTME: Builds the cobra command tree and resolves the config path

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
          _           _
__      _| |__   ___ | |_
\ \ /\ / / '_ \ / _ \| __|
 \ V  V /| |_) | (_) | |_
  \_/\_/ |_.__/ \___/ \__|  gateway
`

// getConfigPath returns the path to the gateway config file.
// Priority: WBOT_CONFIG env var > XDG_CONFIG_HOME/wbot/gateway.yaml > ~/.config/wbot/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "wbot", "gateway.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "wbot-gateway",
		Short:         "Multi-account WhatsApp session gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $WBOT_CONFIG or ~/.config/wbot/gateway.yaml)")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return getConfigPath()
	}

	rootCmd.AddCommand(
		newServeCmd(resolve),
		newInitCmd(resolve),
		newTokenCmd(resolve),
		newAccountCmd(resolve),
		newHealthCmd(resolve),
	)
	return rootCmd
}

// wrapConfigErr wraps config errors with the path that failed.
func wrapConfigErr(path string, err error) error {
	return fmt.Errorf("loading config %s: %w", path, err)
}
