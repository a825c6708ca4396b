package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/filestore/config"
	"github.com/shashiranjanraj/filestore/internal/server"
)

var (
	serveAddr      string
	serveCORS      string
	serveRateLimit int
)

// filestore serve: serve files over HTTP until SIGINT/SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the file server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStorage(ctx)
		if err != nil {
			return err
		}

		addr := serveAddr
		if addr == "" {
			addr = ":" + config.AppPort()
		}

		var origins []string
		if serveCORS != "" {
			origins = strings.Split(serveCORS, ",")
		}

		srv := server.New(st, server.Options{
			CORSOrigins: origins,
			RateLimit:   serveRateLimit,
			RateWindow:  time.Minute,
		})
		return srv.Run(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default :$APP_PORT)")
	serveCmd.Flags().StringVar(&serveCORS, "cors", "", "comma-separated origins allowed to read files, or *")
	serveCmd.Flags().IntVar(&serveRateLimit, "rate-limit", 0, "requests per minute per client IP (0 = unlimited)")
}
