// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inspect scans a codebase of C# and Visual Basic sources and CLI
// binaries and produces its namespaces, members, dependencies, call graph
// and source to assembly mappings.
//
// A scan discovers files, prepares each one (parse or load) on a bounded
// worker pool, builds one semantic model over the whole batch, normalizes
// every file against it, and merges the results in discovery order.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianInspect/services/inspect/aggregate"
	"github.com/AleutianAI/AleutianInspect/services/inspect/config"
	"github.com/AleutianAI/AleutianInspect/services/inspect/discover"
	"github.com/AleutianAI/AleutianInspect/services/inspect/index"
	"github.com/AleutianAI/AleutianInspect/services/inspect/normalize"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
	"github.com/AleutianAI/AleutianInspect/services/inspect/store"
)

var tracer = otel.Tracer("aleutian.inspect")

var (
	// ErrNotFound is returned when the requested path does not exist.
	ErrNotFound = discover.ErrNotFound

	// ErrInvalidInput is returned for a file with an unrecognized extension
	// and for an unknown operation.
	ErrInvalidInput = discover.ErrInvalidInput

	// ErrStoreDisabled is returned by report operations when the service
	// has no report store.
	ErrStoreDisabled = errors.New("report store not configured")
)

// Operation names an inspection entry point.
type Operation string

const (
	OperationNamespaces Operation = "namespaces"
	OperationMembers    Operation = "members"
)

// Report is the outcome of one scan.
type Report struct {
	Operation Operation
	Root      string
	IsDir     bool

	// Files is the number of files discovered.
	Files int

	// Namespaces is set by OperationNamespaces, never nil then.
	Namespaces []schema.NamespaceEntry

	// Members is set by OperationMembers.
	Members *schema.MembersPayload

	Stats    aggregate.Stats
	Mapped   int
	Unmapped int

	// Failures collects per-file failures. They never reach the payload.
	Failures *multierror.Error

	Duration time.Duration
}

// Failed returns the number of files that contributed nothing.
func (r *Report) Failed() int {
	if r.Failures == nil {
		return 0
	}
	return len(r.Failures.Errors)
}

// Payload returns the serializable result of the report's operation.
func (r *Report) Payload() any {
	if r.Operation == OperationNamespaces {
		return r.Namespaces
	}
	return r.Members
}

// Service runs inspections.
//
// Thread Safety:
//
//	Safe for concurrent use. Scans share only the reference module cache.
type Service struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *normalize.Registry
	cache    *normalize.ReferenceCache
	catalog  *index.Catalog
	store    *store.Store
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStore enables report persistence.
func WithStore(st *store.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// NewService creates a service from a validated configuration.
//
// Inputs:
//
//	cfg - Configuration. Nil uses config.Default().
//	opts - Options.
//
// Outputs:
//
//	*Service - The service.
//	error - Non-nil if the configuration is invalid or the framework
//	catalog cannot be loaded.
func NewService(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	cache, err := normalize.NewReferenceCache(cfg.ReferenceCacheSize)
	if err != nil {
		return nil, err
	}
	catalog, err := index.DefaultCatalog()
	if err != nil {
		return nil, fmt.Errorf("loading framework catalog: %w", err)
	}
	s.cache = cache
	s.catalog = catalog
	s.registry = normalize.NewRegistry(
		normalize.WithLogger(s.logger),
		normalize.WithMaxFileSize(cfg.MaxFileSize),
		normalize.WithModuleCache(cache),
	)
	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Store returns the report store, nil when persistence is disabled.
func (s *Service) Store() *store.Store {
	return s.store
}

// InspectNamespaces returns the namespaces declared under path.
//
// Description:
//
//	Each (module, namespace) pair appears once, first occurrence in
//	discovery order winning. An empty directory yields an empty slice.
//
// Outputs:
//
//	[]schema.NamespaceEntry - Never nil when error is nil.
//	error - ErrNotFound, ErrInvalidInput, a single-file failure, or the
//	context error.
func (s *Service) InspectNamespaces(ctx context.Context, path string) ([]schema.NamespaceEntry, error) {
	rep, err := s.Scan(ctx, OperationNamespaces, path)
	if err != nil {
		return nil, err
	}
	return rep.Namespaces, nil
}

// InspectMembers returns the members payload for path.
//
// Outputs:
//
//	*schema.MembersPayload - Never nil when error is nil.
//	error - ErrNotFound, ErrInvalidInput, a single-file failure, or the
//	context error.
func (s *Service) InspectMembers(ctx context.Context, path string) (*schema.MembersPayload, error) {
	rep, err := s.Scan(ctx, OperationMembers, path)
	if err != nil {
		return nil, err
	}
	return rep.Members, nil
}

// Scan runs one inspection and returns its full report.
//
// Description:
//
//	A directory scan is best-effort: a file that cannot be parsed, loaded
//	or normalized contributes nothing and is recorded in Failures. A
//	single-file scan is all-or-nothing and returns that failure instead.
//	The configured timeout bounds the whole scan.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (s *Service) Scan(ctx context.Context, op Operation, path string) (rep *Report, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "inspect.Scan", trace.WithAttributes(
		attribute.String("operation", string(op)),
		attribute.String("path", path),
	))
	defer func() {
		recordScan(string(op), time.Since(start).Seconds(), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if op != OperationNamespaces && op != OperationMembers {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, op)
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	found, err := discover.Discover(ctx, path, s.cfg.DiscoverOptions())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("files", len(found.Files)), attribute.Bool("is_dir", found.IsDir))

	rep = &Report{Operation: op, Root: found.Root, IsDir: found.IsDir, Files: len(found.Files)}
	units, err := s.prepare(ctx, found.Files, rep)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}

	switch op {
	case OperationNamespaces:
		s.namespaces(units, rep)
	case OperationMembers:
		if err := s.members(ctx, found.Files, units, rep); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", path, err)
		}
	}

	if !found.IsDir && rep.Failed() > 0 {
		return nil, rep.Failures.Errors[0]
	}
	rep.Duration = time.Since(start)

	span.SetAttributes(attribute.Int("failed", rep.Failed()))
	s.logger.Info("scan complete",
		slog.String("operation", string(op)),
		slog.String("root", rep.Root),
		slog.Int("files", rep.Files),
		slog.Int("failed", rep.Failed()),
		slog.Duration("duration", rep.Duration),
	)
	return rep, nil
}

func (s *Service) prepare(ctx context.Context, files []discover.File, rep *Report) ([]*normalize.Unit, error) {
	ctx, span := tracer.Start(ctx, "inspect.prepare")
	defer span.End()

	units := make([]*normalize.Unit, len(files))
	err := aggregate.RunOrdered(ctx, len(files), s.cfg.Workers,
		func(ctx context.Context, i int) (*normalize.Unit, error) {
			n, ok := s.registry.ForKind(files[i].Kind)
			if !ok {
				return nil, fmt.Errorf("%w: no normalizer for %s", ErrInvalidInput, files[i].RelPath)
			}
			return n.Prepare(ctx, files[i])
		},
		func(i int, u *normalize.Unit, err error) {
			if err != nil {
				s.fail(rep, files[i], err)
				return
			}
			units[i] = u
		})
	return units, err
}

func (s *Service) namespaces(units []*normalize.Unit, rep *Report) {
	merger := aggregate.NewMerger()
	for _, u := range units {
		if u == nil {
			continue
		}
		n, _ := s.registry.ForKind(u.File.Kind)
		merger.AddNamespaces(n.Namespaces(u))
		recordFile(string(u.File.Kind), nil)
	}
	rep.Namespaces = merger.Namespaces()
}

func (s *Service) members(ctx context.Context, files []discover.File, units []*normalize.Unit, rep *Report) error {
	b := index.NewBuilder(index.WithLogger(s.logger))
	b.AddCatalog(s.catalog)
	s.addReferences(b, files)
	for _, u := range units {
		if u != nil {
			u.Contribute(b)
		}
	}
	model, err := b.Build(ctx)
	if err != nil {
		return err
	}

	merger := aggregate.NewMerger()
	err = aggregate.RunOrdered(ctx, len(units), s.cfg.Workers,
		func(ctx context.Context, i int) (*normalize.Result, error) {
			u := units[i]
			if u == nil {
				return nil, nil
			}
			n, _ := s.registry.ForKind(u.File.Kind)
			return n.Normalize(ctx, u, model)
		},
		func(i int, r *normalize.Result, err error) {
			if units[i] == nil {
				return
			}
			if err != nil {
				s.fail(rep, files[i], err)
				return
			}
			recordFile(string(files[i].Kind), nil)
			merger.Add(r)
		})
	if err != nil {
		return err
	}

	payload, corr := merger.Members(ctx)
	rep.Members = payload
	rep.Stats = merger.Stats()
	rep.Mapped = corr.Mapped
	rep.Unmapped = corr.Unmapped
	recordMembers(rep.Stats, corr)
	return nil
}

// addReferences loads the configured reference modules into the model.
// A module that is also being scanned is skipped; it joins the model as a
// unit. Load failures are logged and do not fail the scan.
func (s *Service) addReferences(b *index.Builder, files []discover.File) {
	scanned := make(map[string]bool)
	for _, f := range files {
		if f.Kind != discover.KindBinary {
			continue
		}
		if abs, err := filepath.Abs(f.Path); err == nil {
			scanned[abs] = true
		}
	}

	for _, p := range s.referencePaths() {
		if abs, err := filepath.Abs(p); err == nil && scanned[abs] {
			continue
		}
		mod, err := s.cache.Load(p)
		if err != nil {
			s.logger.Warn("reference module skipped",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		b.AddModule(mod)
	}
}

// referencePaths expands reference directories into the binaries directly
// inside them.
func (s *Service) referencePaths() []string {
	var paths []string
	for _, ref := range s.cfg.References {
		info, err := os.Stat(ref)
		if err != nil {
			s.logger.Warn("reference path skipped", slog.String("path", ref), slog.String("error", err.Error()))
			continue
		}
		if !info.IsDir() {
			paths = append(paths, ref)
			continue
		}
		entries, err := os.ReadDir(ref)
		if err != nil {
			s.logger.Warn("reference directory skipped", slog.String("path", ref), slog.String("error", err.Error()))
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && discover.Classify(e.Name()) == discover.KindBinary {
				paths = append(paths, filepath.Join(ref, e.Name()))
			}
		}
	}
	return paths
}

func (s *Service) fail(rep *Report, f discover.File, err error) {
	recordFile(string(f.Kind), err)
	s.logger.Warn("file skipped",
		slog.String("path", f.RelPath),
		slog.String("kind", string(f.Kind)),
		slog.String("error", err.Error()),
	)
	rep.Failures = multierror.Append(rep.Failures, fmt.Errorf("%s: %w", f.RelPath, err))
}

// Save persists a report's payload.
func (s *Service) Save(ctx context.Context, rep *Report, label string) (*store.Metadata, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	if rep.Operation == OperationNamespaces {
		return s.store.SaveNamespaces(ctx, rep.Root, label, rep.Namespaces)
	}
	return s.store.SaveMembers(ctx, rep.Root, label, rep.Members)
}

// Encode writes v as JSON. Optional fields are omitted, not written as null.
func Encode(w io.Writer, v any, indent bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
