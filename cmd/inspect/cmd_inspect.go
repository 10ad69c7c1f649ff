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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInspect/services/inspect"
)

// inspectCmd builds the namespaces and members commands.
func (a *app) inspectCmd(op inspect.Operation, short string) *cobra.Command {
	var (
		save   bool
		label  string
		output string
		pretty bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   string(op) + " <path>",
		Short: short,
		Long: short + `.

<path> is a .cs, .vb, .dll or .exe file, or a directory scanned recursively.
Generated files (Name.g.cs) are skipped. In a directory, a file that cannot
be parsed or loaded is reported on stderr and skipped; a single file that
fails aborts the command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := a.service(save)
			if err != nil {
				return err
			}
			defer release()

			rep, err := svc.Scan(cmd.Context(), op, args[0])
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			if err := writeJSON(out, rep.Payload(), pretty); err != nil {
				return fmt.Errorf("writing payload: %w", err)
			}

			var reportID string
			if save {
				meta, err := svc.Save(cmd.Context(), rep, label)
				if err != nil {
					return err
				}
				reportID = meta.ID
			}
			if !quiet {
				printSummary(cmd.ErrOrStderr(), rep, reportID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Persist the result in the report store")
	cmd.Flags().StringVar(&label, "label", "", "Label stored with a saved report")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write JSON to a file instead of stdout")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent JSON even when not writing to a terminal")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the summary")
	return cmd
}
