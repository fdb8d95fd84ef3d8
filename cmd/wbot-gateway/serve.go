// ABOUTME: serve command that runs the gateway until interrupted
// ABOUTME: Prints the startup banner and wires the configured logger

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-wbot/internal/config"
	"github.com/2389/coven-wbot/internal/gateway"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configPath()

			// Print banner
			cyan := color.New(color.FgCyan)
			cyan.Print(banner)

			gray := color.New(color.FgHiBlack)
			gray.Printf("    version: %s\n\n", version)

			cfg, err := config.Load(path)
			if err != nil {
				return wrapConfigErr(path, err)
			}

			logger := setupLogger(cfg.Logging)

			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			green.Print("    ▶ ")
			fmt.Printf("Config:    %s\n", path)
			green.Print("    ▶ ")
			fmt.Printf("Engine:    %s\n", cfg.Engine.Name)
			green.Print("    ▶ ")
			fmt.Printf("Database:  %s\n", cfg.Database.Path)
			if !cfg.Tailscale.Enabled {
				green.Print("    ▶ ")
				fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
			}

			if cfg.Tailscale.Enabled {
				green.Print("    ▶ ")
				fmt.Printf("Tailscale: ")
				cyan.Print(cfg.Tailscale.Hostname)
				if cfg.Tailscale.Funnel {
					yellow.Print(" [funnel]")
				}
				if cfg.Tailscale.Ephemeral {
					gray.Print(" (ephemeral)")
				}
				fmt.Println()
			}
			if cfg.Auth.JWTSecret == "" {
				yellow.Println("    ! HTTP auth disabled, requests are scoped by X-Company-ID")
			}
			fmt.Println()

			logger.Info("starting wbot-gateway",
				"config", path,
				"http_addr", cfg.Server.HTTPAddr,
				"engine", cfg.Engine.Name,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}
