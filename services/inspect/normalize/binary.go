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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianInspect/services/inspect/clrmeta"
	"github.com/AleutianAI/AleutianInspect/services/inspect/discover"
	"github.com/AleutianAI/AleutianInspect/services/inspect/index"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// BinaryNormalizer normalizes compiled CLI modules.
//
// Description:
//
//	Only exported types are enumerated, and of those only the public
//	members declared on the type itself. Accessor methods are folded into
//	their properties and events. Records carry no path, line or column.
//
// Thread Safety:
//
//	Safe for concurrent use.
type BinaryNormalizer struct {
	logger *slog.Logger
	cache  *ReferenceCache
}

// NewBinary returns the binary normalizer.
func NewBinary(opts ...Option) *BinaryNormalizer {
	o := newOptions(opts)
	return &BinaryNormalizer{logger: o.logger, cache: o.cache}
}

// Kind implements Normalizer.
func (n *BinaryNormalizer) Kind() discover.Kind {
	return discover.KindBinary
}

// Prepare loads the module's metadata.
func (n *BinaryNormalizer) Prepare(ctx context.Context, f discover.File) (*Unit, error) {
	_, span := tracer.Start(ctx, "normalize.Prepare", trace.WithAttributes(
		attribute.String("path", f.RelPath),
		attribute.String("kind", string(discover.KindBinary)),
	))
	defer span.End()

	var (
		mod *clrmeta.Module
		err error
	)
	if n.cache != nil {
		mod, err = n.cache.Load(f.Path)
	} else {
		mod, err = clrmeta.Open(f.Path)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("loading module %s: %w", f.RelPath, err)
	}
	span.SetAttributes(attribute.Int("types", len(mod.Types)))
	return &Unit{File: f, Module: mod}, nil
}

// Namespaces returns the distinct namespaces of the exported types.
func (n *BinaryNormalizer) Namespaces(u *Unit) []schema.NamespaceEntry {
	if u.Module == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []schema.NamespaceEntry
	for _, td := range u.Module.Types {
		ns := td.TopNamespace()
		if ns == "" || seen[ns] || !td.IsExported() {
			continue
		}
		seen[ns] = true
		out = append(out, schema.NamespaceEntry{Module: u.Module.FileName, Name: ns})
	}
	return out
}

// Normalize implements Normalizer. The model is not consulted: metadata
// names are already fully qualified.
func (n *BinaryNormalizer) Normalize(ctx context.Context, u *Unit, _ *index.Model) (*Result, error) {
	mod := u.Module
	if mod == nil {
		return nil, fmt.Errorf("%s: not a binary unit", u.File.RelPath)
	}
	_, span := tracer.Start(ctx, "normalize.Binary", trace.WithAttributes(attribute.String("path", u.File.RelPath)))
	defer span.End()

	res := &Result{
		File:         u.File,
		Namespaces:   n.Namespaces(u),
		Assembly:     &schema.AssemblyInformation{Name: mod.BaseName(), Version: mod.Version()},
		AssemblyName: mod.AssemblyName,
	}
	// The TypeDef table is module-local: types of referenced modules appear
	// only as TypeRefs and never contribute records.
	for _, td := range mod.Types {
		if !td.IsExported() {
			continue
		}
		res.Members = append(res.Members, binaryMembers(mod, td)...)
	}
	span.SetAttributes(attribute.Int("members", len(res.Members)))
	return res, nil
}

func binaryMembers(mod *clrmeta.Module, td *clrmeta.TypeDef) []schema.MemberRecord {
	base := schema.MemberRecord{
		FileName:  mod.FileName,
		Assembly:  mod.AssemblyName,
		Module:    mod.FileName,
		Namespace: td.TopNamespace(),
		ClassName: td.ClassName(),
		Origin:    schema.OriginBinary,
	}
	sig := func(name string, arity int, params []*clrmeta.TypeSig, ret *clrmeta.TypeSig) string {
		return schema.CanonicalSignature(schema.SignatureParts{
			Namespace:    base.Namespace,
			ClassName:    base.ClassName,
			MemberName:   name,
			GenericArity: arity,
			ParamTypes:   fullNames(params),
			ReturnType:   ret.FullName(),
		})
	}

	var out []schema.MemberRecord
	for _, md := range td.Methods {
		if md.Accessor || !md.Flags.IsPublic() {
			continue
		}
		rec := base
		rec.Kind = schema.MemberKindMethod
		if md.IsConstructor() {
			rec.Kind = schema.MemberKindConstructor
		}
		rec.Name = md.Name
		rec.Attributes = md.Flags.String()
		rec.ReturnType = md.Signature.Return.DisplayName()
		rec.ReturnTypeFullName = md.Signature.Return.FullName()
		rec.Parameters = parameters(md.Signature.Params, md.ParamNames)
		rec.CustomAttributes = md.CustomAttributes
		rec.IsStatic = md.Flags&clrmeta.MethodStatic != 0
		rec.MetadataToken = md.Token
		rec.Signature = sig(md.Name, md.Signature.GenericParamCount, md.Signature.Params, md.Signature.Return)
		out = append(out, rec)
	}
	for _, p := range td.Properties {
		acc, ok := publicAccessor(p.Accessors())
		if !ok {
			continue
		}
		rec := base
		rec.Kind = schema.MemberKindProperty
		rec.Name = p.Name
		rec.Attributes = p.Flags.String()
		rec.ValueType = p.Type.DisplayName()
		rec.ReturnTypeFullName = p.Type.FullName()
		rec.Parameters = parameters(p.Params, acc.ParamNames)
		rec.CustomAttributes = p.CustomAttributes
		rec.IsStatic = acc.Flags&clrmeta.MethodStatic != 0
		rec.MetadataToken = p.Token
		rec.Signature = sig(p.Name, 0, p.Params, p.Type)
		out = append(out, rec)
	}
	for _, f := range td.Fields {
		if !f.Flags.IsPublic() || f.Flags&clrmeta.FieldRTSpecialName != 0 {
			continue
		}
		rec := base
		rec.Kind = schema.MemberKindField
		rec.Name = f.Name
		rec.Attributes = f.Flags.String()
		rec.ValueType = f.Type.DisplayName()
		rec.ReturnTypeFullName = f.Type.FullName()
		rec.CustomAttributes = f.CustomAttributes
		rec.IsStatic = f.Flags&clrmeta.FieldStatic != 0
		rec.MetadataToken = f.Token
		rec.Signature = sig(f.Name, 0, nil, f.Type)
		out = append(out, rec)
	}
	for _, e := range td.Events {
		acc, ok := publicAccessor(e.Accessors())
		if !ok {
			continue
		}
		rec := base
		rec.Kind = schema.MemberKindEvent
		rec.Name = e.Name
		rec.Attributes = e.Flags.String()
		rec.ValueType = e.Type.DisplayName()
		rec.ReturnTypeFullName = e.Type.FullName()
		rec.CustomAttributes = e.CustomAttributes
		rec.IsStatic = acc.Flags&clrmeta.MethodStatic != 0
		rec.MetadataToken = e.Token
		rec.Signature = sig(e.Name, 0, nil, e.Type)
		out = append(out, rec)
	}
	return out
}

func publicAccessor(accessors []*clrmeta.MethodDef) (*clrmeta.MethodDef, bool) {
	for _, a := range accessors {
		if a.Flags.IsPublic() {
			return a, true
		}
	}
	return nil, false
}

// parameters pairs signature types with declared names. Accessor name lists
// may be longer (setters carry the value parameter last).
func parameters(types []*clrmeta.TypeSig, names []string) []schema.Parameter {
	if len(types) == 0 {
		return nil
	}
	out := make([]schema.Parameter, len(types))
	for i, t := range types {
		full := t.FullName()
		out[i] = schema.Parameter{Type: full, TypeFullName: full, IsGenericParameter: t.IsGenericParameter()}
		if i < len(names) {
			out[i].Name = names[i]
		}
	}
	return out
}

func fullNames(types []*clrmeta.TypeSig) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.FullName()
	}
	return out
}
