// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianInspect/services/inspect/ast"
	"github.com/AleutianAI/AleutianInspect/services/inspect/classify"
	"github.com/AleutianAI/AleutianInspect/services/inspect/discover"
	"github.com/AleutianAI/AleutianInspect/services/inspect/index"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// SourceNormalizer normalizes one source language.
//
// Description:
//
//	Every member whose resolved accessibility is not private becomes a
//	MemberRecord with resolved display types. Every using/Imports clause
//	becomes a Dependency. Every invocation in every member, private ones
//	included, is resolved and classified.
//
// Thread Safety:
//
//	Safe for concurrent use.
type SourceNormalizer struct {
	kind   discover.Kind
	parser ast.Parser
	logger *slog.Logger
}

// NewCSharp returns the C# normalizer.
func NewCSharp(opts ...Option) *SourceNormalizer {
	o := newOptions(opts)
	return &SourceNormalizer{
		kind:   discover.KindCSharp,
		parser: ast.NewCSharpParser(ast.WithCSharpMaxFileSize(o.maxFileSize)),
		logger: o.logger,
	}
}

// NewVisualBasic returns the Visual Basic normalizer.
func NewVisualBasic(opts ...Option) *SourceNormalizer {
	o := newOptions(opts)
	return &SourceNormalizer{
		kind:   discover.KindVB,
		parser: ast.NewVBParser(ast.WithVBMaxFileSize(o.maxFileSize)),
		logger: o.logger,
	}
}

// Kind implements Normalizer.
func (n *SourceNormalizer) Kind() discover.Kind {
	return n.kind
}

// Prepare reads and parses the file.
func (n *SourceNormalizer) Prepare(ctx context.Context, f discover.File) (*Unit, error) {
	ctx, span := tracer.Start(ctx, "normalize.Prepare", trace.WithAttributes(
		attribute.String("path", f.RelPath),
		attribute.String("kind", string(n.kind)),
	))
	defer span.End()

	content, err := os.ReadFile(f.Path)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("reading %s: %w", f.RelPath, err)
	}
	u, err := n.parser.Parse(ctx, content, f.RelPath)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("parsing %s: %w", f.RelPath, err)
	}
	for _, msg := range u.Errors {
		n.logger.Debug("syntax error", slog.String("path", f.RelPath), slog.String("error", msg))
	}
	span.SetAttributes(attribute.Int("types", len(u.Types)))
	return &Unit{File: f, Source: u}, nil
}

// Namespaces returns the declared namespaces, keyed by the file's module.
func (n *SourceNormalizer) Namespaces(u *Unit) []schema.NamespaceEntry {
	if u.Source == nil {
		return nil
	}
	module := moduleName(u.File)
	out := make([]schema.NamespaceEntry, 0, len(u.Source.Namespaces))
	for _, ns := range u.Source.Namespaces {
		out = append(out, schema.NamespaceEntry{Module: module, Name: ns.Name})
	}
	return out
}

// Normalize implements Normalizer.
func (n *SourceNormalizer) Normalize(ctx context.Context, u *Unit, model *index.Model) (*Result, error) {
	if u.Source == nil {
		return nil, fmt.Errorf("%s: not a source unit", u.File.RelPath)
	}
	ctx, span := tracer.Start(ctx, "normalize.Source", trace.WithAttributes(attribute.String("path", u.File.RelPath)))
	defer span.End()

	src := u.Source
	res := &Result{
		File:         u.File,
		Namespaces:   n.Namespaces(u),
		Dependencies: n.dependencies(u.File, src, model),
	}
	classifier := classify.NewClassifier(model)
	for _, d := range src.Types {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, md := range d.Members {
			scope := model.ScopeFor(src, d, md)
			if md.Access != ast.AccessPrivate {
				res.Members = append(res.Members, n.member(u.File, d, md, scope, model))
			}
			caller := classify.Caller{
				Path:      u.File.RelPath,
				Assembly:  u.File.Assembly,
				Module:    moduleName(u.File),
				Namespace: d.Namespace,
				ClassName: d.ClassName(),
				Member:    md.Name,
			}
			for _, inv := range md.Invocations {
				res.Calls = append(res.Calls, classifier.Classify(caller, inv, scope))
			}
		}
	}
	span.SetAttributes(
		attribute.Int("members", len(res.Members)),
		attribute.Int("dependencies", len(res.Dependencies)),
		attribute.Int("calls", len(res.Calls)),
	)
	return res, nil
}

func (n *SourceNormalizer) member(f discover.File, d *ast.TypeDecl, md *ast.MemberDecl, scope *index.Scope, model *index.Model) schema.MemberRecord {
	rec := schema.MemberRecord{
		Kind:             md.Kind,
		Path:             f.RelPath,
		FileName:         f.Name(),
		Assembly:         f.Assembly,
		Module:           moduleName(f),
		Namespace:        d.Namespace,
		ClassName:        d.ClassName(),
		Attributes:       schema.JoinModifiers(md.Modifiers),
		Name:             md.Name,
		Line:             md.Line,
		Column:           md.Column,
		CustomAttributes: md.Attributes,
		IsStatic:         md.IsStatic,
		Origin:           schema.OriginSource,
	}

	typeText := md.Type
	if typeText == "" {
		typeText = "void"
	}
	ret := model.ResolveType(typeText, scope)
	if md.Kind.HasReturnType() {
		rec.ReturnType = ret.Display
	} else {
		rec.ValueType = ret.Display
	}
	rec.ReturnTypeFullName = ret.FullName

	fulls := make([]string, len(md.Params))
	for i, p := range md.Params {
		ref := model.ResolveType(p.Type, scope)
		full := ref.FullName
		if isByRef(p.Modifier) {
			full += "&"
		}
		fulls[i] = full
		param := schema.Parameter{
			Name:               p.Name,
			Type:               schema.TitleCase(ref.Display),
			IsGenericParameter: ref.IsGenericParameter,
		}
		if ref.Resolved {
			param.TypeFullName = full
		}
		rec.Parameters = append(rec.Parameters, param)
	}

	rec.Signature = schema.CanonicalSignature(schema.SignatureParts{
		Namespace:    d.Namespace,
		ClassName:    d.MetadataClassName(),
		MemberName:   md.Name,
		GenericArity: len(md.TypeParams),
		ParamTypes:   fulls,
		ReturnType:   ret.FullName,
	})
	return rec
}

func isByRef(modifier string) bool {
	switch modifier {
	case "ref", "out", "in":
		return true
	}
	return false
}

// dependencies emits one Dependency per import clause. A clause resolving
// to a namespace is reported under the namespace containing it, with its
// child namespaces; one resolving to a type under the type's namespace;
// anything else by its literal text.
func (n *SourceNormalizer) dependencies(f discover.File, src *ast.Unit, model *index.Model) []schema.Dependency {
	out := make([]schema.Dependency, 0, len(src.Usings))
	for _, us := range src.Usings {
		dep := schema.Dependency{
			Path:     f.RelPath,
			FileName: f.Name(),
			Assembly: f.Assembly,
			Module:   moduleName(f),
			Alias:    us.Alias,
			Line:     us.Line,
			Column:   us.Column,
		}
		ns, t := model.ResolveImport(us, model.UnitScope(src, us.Scope))
		switch {
		case ns != nil:
			if p := ns.Parent(); p != nil {
				dep.Namespace = p.FullName
			}
			dep.Name = ns.Name
			dep.NamespaceMembers = ns.ChildNames()
		case t != nil:
			dep.Namespace = t.Namespace
			dep.Name = t.ClassName
		default:
			text := strings.TrimPrefix(us.Name, "global::")
			if i := strings.LastIndexByte(text, '.'); i >= 0 {
				dep.Namespace, dep.Name = text[:i], text[i+1:]
			} else {
				dep.Name = text
			}
		}
		out = append(out, dep)
	}
	return out
}
