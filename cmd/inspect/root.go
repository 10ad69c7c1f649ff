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
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/AleutianInspect/services/inspect"
	"github.com/AleutianAI/AleutianInspect/services/inspect/config"
	"github.com/AleutianAI/AleutianInspect/services/inspect/store"
)

// app holds the state shared by every command.
type app struct {
	configPath string
	verbose    bool
	trace      bool
	otlp       string
	workers    int
	exclude    []string
	references []string

	cfg            *config.Config
	logger         *slog.Logger
	shutdownTracer func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect C# and Visual Basic codebases and CLI assemblies",
		Long: `inspect normalizes declarations, imports and calls from C# and Visual Basic
sources and from compiled CLI assemblies into one JSON schema, classifies
every call as internal or external, and correlates source members with
their compiled counterparts.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level")
	flags.BoolVar(&a.trace, "trace", false, "Print OpenTelemetry spans to stderr")
	flags.StringVar(&a.otlp, "otlp-endpoint", "", "Export spans over OTLP/gRPC to host:port")
	flags.IntVarP(&a.workers, "workers", "w", 0, "Maximum files processed at once (overrides config)")
	flags.StringSliceVar(&a.exclude, "exclude", nil, "Additional exclude glob patterns")
	flags.StringSliceVar(&a.references, "reference", nil, "Additional reference assemblies or directories")

	root.AddCommand(
		a.inspectCmd(inspect.OperationNamespaces, "List the namespaces declared under a path"),
		a.inspectCmd(inspect.OperationMembers, "Emit members, dependencies, calls, call graph and mappings"),
		a.serveCmd(),
		a.watchCmd(),
		a.reportsCmd(),
		a.graphCmd(),
	)
	return root
}

// setup configures logging, tracing and configuration for every command.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	if a.trace || a.otlp != "" {
		if err := a.setupTracing(cmd.Context(), cmd.ErrOrStderr()); err != nil {
			return err
		}
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = a.workers
	}
	cfg.Exclude = append(cfg.Exclude, a.exclude...)
	cfg.References = append(cfg.References, a.references...)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// setupTracing installs a tracer provider exporting to the OTLP collector
// at --otlp-endpoint when set, and pretty-printing to w otherwise.
func (a *app) setupTracing(ctx context.Context, w io.Writer) error {
	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if a.otlp != "" {
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(a.otlp),
			otlptracegrpc.WithInsecure(),
		)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return fmt.Errorf("creating span exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	a.shutdownTracer = tp.Shutdown
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.shutdownTracer == nil {
		return nil
	}
	return a.shutdownTracer(cmd.Context())
}

// openStore opens the report store configured for this run.
func (a *app) openStore() (*store.Store, error) {
	dir, err := a.cfg.StoreDir()
	if err != nil {
		return nil, err
	}
	return store.Open(dir, a.logger)
}

// service builds the inspection service, with a report store when
// persist is set. The returned function releases the store.
func (a *app) service(persist bool) (*inspect.Service, func(), error) {
	opts := []inspect.Option{inspect.WithLogger(a.logger)}
	release := func() {}
	if persist {
		st, err := a.openStore()
		if err != nil {
			return nil, release, err
		}
		opts = append(opts, inspect.WithStore(st))
		release = func() {
			if err := st.Close(); err != nil {
				a.logger.Warn("closing report store failed", slog.String("error", err.Error()))
			}
		}
	}
	svc, err := inspect.NewService(a.cfg, opts...)
	if err != nil {
		release()
		return nil, func() {}, err
	}
	return svc, release, nil
}

var errNoNeo4j = errors.New("neo4j export not configured: set neo4j.uri or INSPECT_NEO4J_URI")
