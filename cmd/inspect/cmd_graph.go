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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInspect/services/inspect/callgraph"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

func (a *app) graphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Call-graph commands",
	}

	var (
		reportID string
		scanName string
	)
	export := &cobra.Command{
		Use:   "export [path]",
		Short: "Export a call graph to Neo4j",
		Long: `Export the call graph of <path>, or of a saved members report, to Neo4j as
:Member nodes joined by :CALLS relationships. A previous export under the
same scan name is replaced. The scan name defaults to the absolute scan root.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.Neo4j.Enabled() {
				return errNoNeo4j
			}
			if (reportID == "") == (len(args) == 0) {
				return fmt.Errorf("give either a path or --report")
			}

			graph, root, err := a.loadGraph(cmd, reportID, args)
			if err != nil {
				return err
			}
			if scanName == "" {
				scanName = root
			}

			exporter, err := callgraph.NewNeo4jExporter(cmd.Context(),
				a.cfg.Neo4j.URI, a.cfg.Neo4j.User, a.cfg.Neo4j.Password,
				callgraph.WithDatabase(a.cfg.Neo4j.Database),
				callgraph.WithExportLogger(a.logger),
			)
			if err != nil {
				return err
			}
			defer exporter.Close(cmd.Context())

			if err := exporter.Export(cmd.Context(), scanName, graph); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d nodes and %d edges as %q\n", len(graph.Nodes), len(graph.Edges), scanName)
			return nil
		},
	}
	export.Flags().StringVar(&reportID, "report", "", "Export a saved members report instead of scanning")
	export.Flags().StringVar(&scanName, "scan", "", "Scan name separating exports")

	cmd.AddCommand(export)
	return cmd
}

// loadGraph returns the call graph and scan root of a saved report or of a
// fresh members scan.
func (a *app) loadGraph(cmd *cobra.Command, reportID string, args []string) (schema.CallGraph, string, error) {
	if reportID != "" {
		st, err := a.openStore()
		if err != nil {
			return schema.CallGraph{}, "", err
		}
		defer st.Close()
		p, meta, err := st.LoadMembers(cmd.Context(), reportID)
		if err != nil {
			return schema.CallGraph{}, "", err
		}
		return p.CallGraph, meta.Root, nil
	}

	svc, release, err := a.service(false)
	if err != nil {
		return schema.CallGraph{}, "", err
	}
	defer release()
	p, err := svc.InspectMembers(cmd.Context(), args[0])
	if err != nil {
		return schema.CallGraph{}, "", err
	}
	root, err := filepath.Abs(args[0])
	if err != nil {
		return schema.CallGraph{}, "", err
	}
	return p.CallGraph, root, nil
}
