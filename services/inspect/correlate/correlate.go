// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package correlate pairs source-declared members with the compiled members
// they produce, by canonical signature.
package correlate

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

var tracer = otel.Tracer("aleutian.inspect.correlate")

// Module is one compiled module of a batch with its binary-derived records.
type Module struct {
	// FileName is the module's file name (Acme.Orders.dll).
	FileName string

	// Assembly is the assembly name from the manifest.
	Assembly string

	Members []schema.MemberRecord
}

// BaseName returns the file name without its extension.
func (m *Module) BaseName() string {
	return strings.TrimSuffix(m.FileName, path.Ext(m.FileName))
}

// Pairing is a module plus the indices of the source members that
// plausibly produced it.
type Pairing struct {
	Module  *Module
	Sources []int
}

// Result is the outcome of one correlation run.
type Result struct {
	// Mappings has one entry per (source member, paired module), and one
	// unmapped entry for a source member paired with no module. Order
	// follows the source members.
	Mappings []schema.SourceAssemblyMapping

	Mapped   int
	Unmapped int
}

// Pair groups source members with the modules they plausibly built.
//
// Description:
//
//	A source member with a known assembly (project grouping) pairs with
//	every module whose assembly name or file base name equals it, ignoring
//	case. A source member without one pairs by its file's base name
//	(Program.cs with Program.exe). Binary-derived members in sources are
//	ignored.
//
// Outputs:
//
//	[]Pairing - One per module with at least one source member, in module
//	order. Source indices are ascending.
func Pair(modules []*Module, sources []schema.MemberRecord) []Pairing {
	var out []Pairing
	for _, m := range modules {
		p := Pairing{Module: m}
		for i := range sources {
			if sources[i].Origin != schema.OriginSource {
				continue
			}
			if pairs(m, &sources[i]) {
				p.Sources = append(p.Sources, i)
			}
		}
		if len(p.Sources) > 0 {
			out = append(out, p)
		}
	}
	return out
}

func pairs(m *Module, s *schema.MemberRecord) bool {
	if s.Assembly != "" {
		return strings.EqualFold(s.Assembly, m.Assembly) || strings.EqualFold(s.Assembly, m.BaseName())
	}
	base := strings.TrimSuffix(s.FileName, path.Ext(s.FileName))
	return base != "" && strings.EqualFold(base, m.BaseName())
}

// Correlate maps every source member of the batch onto the compiled modules.
//
// Description:
//
//	Matching is exact equality of canonical signatures. When several
//	members of one module share a signature, the one with the lowest
//	metadata token wins. A source member with no match, or with no paired
//	module at all, yields a mapping with IsMapped false and an empty
//	assembly signature. Misses are never errors.
//
// Inputs:
//
//	ctx - Used for tracing only.
//	modules - Compiled modules of the batch.
//	sources - Every member record of the batch; binary-derived ones are skipped.
//
// Outputs:
//
//	*Result - Never nil.
//
// Thread Safety:
//
//	Safe for concurrent use; inputs are not modified.
func Correlate(ctx context.Context, modules []*Module, sources []schema.MemberRecord) *Result {
	_, span := tracer.Start(ctx, "correlate.Correlate")
	defer span.End()

	bySig := make([]map[string]*schema.MemberRecord, len(modules))
	for i, m := range modules {
		bySig[i] = signatureIndex(m)
	}
	modIndex := make(map[*Module]int, len(modules))
	for i, m := range modules {
		modIndex[m] = i
	}

	paired := make(map[int][]*Module)
	for _, p := range Pair(modules, sources) {
		for _, si := range p.Sources {
			paired[si] = append(paired[si], p.Module)
		}
	}

	res := &Result{Mappings: []schema.SourceAssemblyMapping{}}
	for i := range sources {
		s := &sources[i]
		if s.Origin != schema.OriginSource {
			continue
		}
		mods := paired[i]
		if len(mods) == 0 {
			res.add(unmapped(s))
			continue
		}
		for _, m := range mods {
			mp := unmapped(s)
			mp.AssemblyName = m.Assembly
			mp.ModuleName = m.FileName
			if b, ok := bySig[modIndex[m]][s.Signature]; ok {
				mp.IsMapped = true
				mp.AssemblySignature = b.Signature
				mp.AssemblyMetadataToken = b.MetadataToken
				mp.SourceMetadataToken = b.MetadataToken
				mp.AssemblyID = AssemblyID(m.FileName, b.MetadataToken)
			}
			res.add(mp)
		}
	}
	span.SetAttributes(
		attribute.Int("modules", len(modules)),
		attribute.Int("mapped", res.Mapped),
		attribute.Int("unmapped", res.Unmapped),
	)
	return res
}

func (r *Result) add(m schema.SourceAssemblyMapping) {
	r.Mappings = append(r.Mappings, m)
	if m.IsMapped {
		r.Mapped++
	} else {
		r.Unmapped++
	}
}

// signatureIndex keys a module's members by signature, keeping the lowest
// metadata token on collisions.
func signatureIndex(m *Module) map[string]*schema.MemberRecord {
	idx := make(map[string]*schema.MemberRecord, len(m.Members))
	for i := range m.Members {
		b := &m.Members[i]
		if b.Signature == "" {
			continue
		}
		if cur, ok := idx[b.Signature]; ok && cur.MetadataToken <= b.MetadataToken {
			continue
		}
		idx[b.Signature] = b
	}
	return idx
}

func unmapped(s *schema.MemberRecord) schema.SourceAssemblyMapping {
	return schema.SourceAssemblyMapping{
		SourceID:        s.NodeID(),
		SourcePath:      s.Path,
		SourceLine:      s.Line,
		SourceColumn:    s.Column,
		SourceSignature: s.Signature,
		MemberType:      s.Kind,
		MemberName:      s.Name,
		ClassName:       s.ClassName,
		Namespace:       s.Namespace,
	}
}

// AssemblyID formats the identity of a compiled member: module:0xTOKEN.
func AssemblyID(module string, token uint32) string {
	return fmt.Sprintf("%s:0x%08X", module, token)
}
