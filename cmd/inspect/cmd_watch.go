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
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInspect/services/inspect"
	"github.com/AleutianAI/AleutianInspect/services/inspect/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		debounce time.Duration
		label    string
		noSave   bool
	)
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Re-inspect members whenever sources, binaries or project files change",
		Long: `Run the members inspection on <dir>, then again after every burst of changes
to .cs, .vb, .dll, .exe, .csproj or .vbproj files. Each run is saved to the
report store unless --no-save is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			svc, release, err := a.service(!noSave)
			if err != nil {
				return err
			}
			defer release()

			w, err := watch.New(root,
				watch.WithDebounce(debounce),
				watch.WithExclude(a.cfg.Exclude),
				watch.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			run := func(ctx context.Context, changed []string) {
				if len(changed) > 0 {
					a.logger.Info("changes detected", slog.Int("files", len(changed)), slog.String("first", changed[0]))
				}
				rep, err := svc.Scan(ctx, inspect.OperationMembers, root)
				if err != nil {
					a.logger.Error("inspection failed", slog.String("error", err.Error()))
					return
				}
				var reportID string
				if !noSave {
					meta, err := svc.Save(ctx, rep, label)
					if err != nil {
						a.logger.Error("saving report failed", slog.String("error", err.Error()))
					} else {
						reportID = meta.ID
					}
				}
				printSummary(cmd.ErrOrStderr(), rep, reportID)
			}

			run(ctx, nil)
			return w.Run(ctx, run)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before re-inspecting")
	cmd.Flags().StringVar(&label, "label", "watch", "Label stored with each report")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not persist reports")
	return cmd
}
