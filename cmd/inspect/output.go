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
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianInspect/services/inspect"
)

var (
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	labelStyle = lipgloss.NewStyle().Faint(true)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeJSON writes v to w, indented when forced or when w is a terminal.
func writeJSON(w io.Writer, v any, pretty bool) error {
	return inspect.Encode(w, v, pretty || isTerminal(w))
}

// printSummary writes a one-line summary of rep and one line per failure.
func printSummary(w io.Writer, rep *inspect.Report, reportID string) {
	parts := []string{
		fmt.Sprintf("%d files", rep.Files),
	}
	switch rep.Operation {
	case inspect.OperationNamespaces:
		parts = append(parts, fmt.Sprintf("%d namespaces", len(rep.Namespaces)))
	case inspect.OperationMembers:
		parts = append(parts,
			fmt.Sprintf("%d members", len(rep.Members.Methods)),
			fmt.Sprintf("%d dependencies", len(rep.Members.Dependencies)),
			fmt.Sprintf("%d edges", len(rep.Members.CallGraph.Edges)),
			fmt.Sprintf("%d/%d mapped", rep.Mapped, rep.Mapped+rep.Unmapped),
		)
	}
	parts = append(parts, rep.Duration.Round(time.Millisecond).String())

	head := okStyle.Render(string(rep.Operation))
	if rep.Failed() > 0 {
		head = warnStyle.Render(string(rep.Operation))
		parts = append(parts, warnStyle.Render(fmt.Sprintf("%d failed", rep.Failed())))
	}
	if reportID != "" {
		parts = append(parts, labelStyle.Render("report "+reportID))
	}
	fmt.Fprintf(w, "%s %s\n", head, strings.Join(parts, "  "))

	if rep.Failures != nil {
		for _, err := range rep.Failures.Errors {
			fmt.Fprintf(w, "  %s %s\n", warnStyle.Render("skipped"), err)
		}
	}
}
