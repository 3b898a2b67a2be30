// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avfield/kittifetch/internal/server"
	"github.com/avfield/kittifetch/pkg/kittiraw"
)

func newServeCmd(ro *RootOpts) *cobra.Command {
	var (
		addr      string
		port      int
		dataRoot  string
		transport string
		baseURL   string
		endpoint  string
		retries   int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for browser-driven fetch runs",
		Long: `Start an HTTP server that provides:
  - REST API for starting and tracking fetch runs
  - WebSocket for live progress updates
  - Web dashboard for browser-based monitoring

The target root is configured server-side only (not via API) for safety.

Example:
  kittifetch serve
  kittifetch serve --port 3000
  kittifetch serve --output /mnt/datasets/KITTI/raw`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Root precedence: flag, then environment, then the per-user default.
			root := strings.TrimSpace(dataRoot)
			if root == "" {
				root = strings.TrimSpace(os.Getenv("KITTI_DATA_ROOT"))
			}
			if root == "" {
				root = kittiraw.DefaultRoot()
			}

			cfg := server.Config{
				Addr:      addr,
				Port:      port,
				DataRoot:  root,
				Transport: transport,
				BaseURL:   baseURL,
				Endpoint:  endpoint,
				Retries:   retries,
				LogLevel:  ro.LogLevel,
			}

			srv := server.New(cfg)

			// Handle shutdown signals
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			fmt.Println()
			fmt.Println("╭────────────────────────────────────────────╮")
			fmt.Println("│         🚗  KITTI Raw Data Fetcher         │")
			fmt.Println("│               Web Server Mode              │")
			fmt.Println("╰────────────────────────────────────────────╯")
			fmt.Println()

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0", "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVarP(&dataRoot, "output", "o", "", "Target root for the dataset tree (default $KITTI_DATA_ROOT or the per-user data dir)")
	cmd.Flags().StringVar(&transport, "transport", kittiraw.TransportHTTPS, "Archive transport: https or s3")
	cmd.Flags().StringVar(&baseURL, "base-url", kittiraw.DefaultBaseURL, "Base URL archives are fetched from")
	cmd.Flags().StringVar(&endpoint, "s3-endpoint", "", "Custom S3 endpoint (mirrors), s3 transport only")
	cmd.Flags().IntVar(&retries, "retries", 0, "Retry attempts per archive on transient failures")

	return cmd
}
