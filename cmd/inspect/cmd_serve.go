// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInspect/services/inspect"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var (
		addr      string
		noStore   bool
		debugGin  bool
		rateLimit float64
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspection HTTP API",
		Long: `Serve the inspection API under /v1/inspect and Prometheus metrics at /metrics.

Endpoints:
  POST   /v1/inspect/namespaces
  POST   /v1/inspect/members
  GET    /v1/inspect/reports
  GET    /v1/inspect/reports/:id
  DELETE /v1/inspect/reports/:id
  GET    /v1/inspect/health`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.HTTP.Addr = addr
			}
			if cmd.Flags().Changed("rate-limit") {
				a.cfg.HTTP.RateLimit = rateLimit
			}
			if debugGin {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			svc, release, err := a.service(!noStore)
			if err != nil {
				return err
			}
			defer release()

			srv := &http.Server{
				Addr:              a.cfg.HTTP.Addr,
				Handler:           inspect.NewRouter(svc),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting inspection server", slog.String("address", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down inspection server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "Requests per second, 0 disables (overrides config)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Disable the report store")
	cmd.Flags().BoolVar(&debugGin, "debug", false, "Run gin in debug mode")
	return cmd
}
