// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize turns parsed source units and loaded CLI modules into
// the canonical records of the schema package.
//
// Normalization runs in two phases per batch. Prepare parses or loads each
// file independently. Once every prepared unit has contributed to the batch
// semantic model, Normalize emits the file's records against that model.
package normalize

import (
	"context"
	"log/slog"
	"path"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianInspect/services/inspect/ast"
	"github.com/AleutianAI/AleutianInspect/services/inspect/classify"
	"github.com/AleutianAI/AleutianInspect/services/inspect/clrmeta"
	"github.com/AleutianAI/AleutianInspect/services/inspect/discover"
	"github.com/AleutianAI/AleutianInspect/services/inspect/index"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

var tracer = otel.Tracer("aleutian.inspect.normalize")

// Normalizer handles one file kind.
//
// Implementations must be safe for concurrent use.
type Normalizer interface {
	// Kind returns the file kind handled.
	Kind() discover.Kind

	// Prepare parses or loads f. A failure affects only this file.
	Prepare(ctx context.Context, f discover.File) (*Unit, error)

	// Namespaces lists the namespaces the unit declares, in declaration
	// order, possibly with duplicates.
	Namespaces(u *Unit) []schema.NamespaceEntry

	// Normalize emits the unit's records, resolving names against model.
	Normalize(ctx context.Context, u *Unit, model *index.Model) (*Result, error)
}

// Unit is one prepared file. Exactly one of Source and Module is set.
type Unit struct {
	File   discover.File
	Source *ast.Unit
	Module *clrmeta.Module
}

// Contribute adds the unit's declarations to a model builder.
func (u *Unit) Contribute(b *index.Builder) {
	switch {
	case u.Source != nil:
		b.AddUnit(u.Source)
	case u.Module != nil:
		b.AddModule(u.Module)
	}
}

// Result holds the records normalized from one file.
type Result struct {
	File         discover.File
	Namespaces   []schema.NamespaceEntry
	Members      []schema.MemberRecord
	Dependencies []schema.Dependency

	// Calls holds every classified invocation, internal and external.
	Calls []classify.Call

	// Assembly is set for binary modules.
	Assembly *schema.AssemblyInformation

	// AssemblyName is the manifest assembly name of a binary module.
	AssemblyName string
}

// Registry selects a Normalizer by file extension.
//
// Thread Safety:
//
//	Register must not be called concurrently with For.
type Registry struct {
	byKind map[discover.Kind]Normalizer
}

// NewRegistry returns a registry with the C#, Visual Basic and binary
// normalizers registered.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{byKind: make(map[discover.Kind]Normalizer)}
	r.Register(NewCSharp(opts...))
	r.Register(NewVisualBasic(opts...))
	r.Register(NewBinary(opts...))
	return r
}

// Register adds or replaces the normalizer for n.Kind().
func (r *Registry) Register(n Normalizer) {
	r.byKind[n.Kind()] = n
}

// For returns the normalizer for a file name or a bare extension (".cs").
func (r *Registry) For(name string) (Normalizer, bool) {
	n, ok := r.byKind[discover.Classify(name)]
	return n, ok
}

// ForKind returns the normalizer for a file kind.
func (r *Registry) ForKind(kind discover.Kind) (Normalizer, bool) {
	n, ok := r.byKind[kind]
	return n, ok
}

// Option configures the normalizers.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	maxFileSize int64
	cache       *ReferenceCache
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default(), maxFileSize: ast.DefaultMaxFileSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMaxFileSize sets the largest source file accepted.
func WithMaxFileSize(bytes int64) Option {
	return func(o *options) {
		if bytes > 0 {
			o.maxFileSize = bytes
		}
	}
}

// WithModuleCache makes the binary normalizer load modules through cache.
func WithModuleCache(cache *ReferenceCache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

func moduleName(f discover.File) string {
	return path.Base(f.RelPath)
}
