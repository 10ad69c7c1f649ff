// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianInspect/services/inspect/ast"
	"github.com/AleutianAI/AleutianInspect/services/inspect/clrmeta"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

var tracer = otel.Tracer("aleutian.inspect.index")

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger used while building.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// Builder collects the inputs of one batch and builds its Model.
//
// Description:
//
//	Inputs may be added in any order. Build registers catalogs first, then
//	modules, then source units, so a type declared in source and also read
//	from a module is one Type carrying both locations, named the way the
//	source declares it. Types a module only references are registered last,
//	as open metadata types, when nothing else declares them.
//
// Thread Safety:
//
//	Builder is not safe for concurrent use.
type Builder struct {
	logger   *slog.Logger
	catalogs []*Catalog
	modules  []*clrmeta.Module
	units    []*ast.Unit
}

// NewBuilder returns an empty builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddCatalog adds framework types known without their modules.
func (b *Builder) AddCatalog(c *Catalog) {
	if c != nil {
		b.catalogs = append(b.catalogs, c)
	}
}

// AddModule adds a loaded CLI module.
func (b *Builder) AddModule(m *clrmeta.Module) {
	if m != nil {
		b.modules = append(b.modules, m)
	}
}

// AddUnit adds a parsed source unit.
func (b *Builder) AddUnit(u *ast.Unit) {
	if u != nil {
		b.units = append(b.units, u)
	}
}

// Build resolves every input into a Model.
//
// Outputs:
//
//	*Model - The immutable model. Never nil when error is nil.
//	error - Non-nil only if ctx is done.
func (b *Builder) Build(ctx context.Context) (*Model, error) {
	ctx, span := tracer.Start(ctx, "index.Build", trace.WithAttributes(
		attribute.Int("catalogs", len(b.catalogs)),
		attribute.Int("modules", len(b.modules)),
		attribute.Int("units", len(b.units)),
	))
	defer span.End()

	m := &Model{
		global:     newNamespace("", nil),
		namespaces: make(map[string]*Namespace),
		types:      make(map[string]*Type),
		extensions: make(map[string][]*Member),
	}

	for _, c := range b.catalogs {
		m.addCatalog(c)
	}
	for _, mod := range b.modules {
		m.addModule(mod)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decls := make(map[*ast.TypeDecl]*Type)
	for _, u := range b.units {
		m.addUnitTypes(u, decls)
	}
	for _, mod := range b.modules {
		m.addTypeRefs(mod)
	}

	names := make([]string, 0, len(m.types))
	for name := range m.types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.resolveBases(m.types[name])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, u := range b.units {
		m.addUnitMembers(u, decls)
	}

	span.SetAttributes(attribute.Int("types", len(m.types)), attribute.Int("namespaces", len(m.namespaces)))
	b.logger.Debug("semantic model built",
		slog.Int("types", len(m.types)),
		slog.Int("namespaces", len(m.namespaces)),
		slog.Int("units", len(b.units)),
		slog.Int("modules", len(b.modules)),
	)
	return m, nil
}

func (m *Model) addCatalog(c *Catalog) {
	for _, a := range c.Assemblies {
		for _, ns := range a.Namespaces {
			m.ensureNamespace(ns, LocMetadata)
		}
		for _, ct := range a.Types {
			ns, name, arity := splitMetadataName(ct.Name)
			m.ensureNamespace(ns, LocMetadata)
			t := m.ensureType(ns, name, arity)
			t.Loc |= LocMetadata
			t.open = true
			t.IsValueType = ct.ValueType
			t.IsInterface = ct.Interface
			t.IsStatic = ct.Static
			if t.Module == "" {
				t.Module = a.Name
			}
			for _, base := range ct.Bases {
				t.baseNames = append(t.baseNames, baseRef{text: base})
			}
			for _, cm := range ct.Members {
				mem := t.addMember(&Member{
					Name:        cm.Name,
					Kind:        cm.Kind,
					TypeName:    cm.Returns,
					Variadic:    true,
					IsStatic:    cm.Static,
					IsExtension: cm.Extension,
					Module:      a.Name,
					Loc:         LocMetadata,
				})
				if cm.Extension {
					mem.ExtendsType = ct.Extends
					m.extensions[mem.Name] = append(m.extensions[mem.Name], mem)
				}
			}
		}
	}
}

func (m *Model) addModule(mod *clrmeta.Module) {
	registered := make(map[*clrmeta.TypeDef]*Type, len(mod.Types))
	var register func(td *clrmeta.TypeDef) *Type
	register = func(td *clrmeta.TypeDef) *Type {
		if t, ok := registered[td]; ok {
			return t
		}
		name, arity := splitArity(td.Name)
		var t *Type
		if td.Enclosing != nil {
			t = m.ensureNested(register(td.Enclosing), name, arity)
		} else {
			m.ensureNamespace(td.Namespace, LocMetadata)
			t = m.ensureType(td.Namespace, name, arity)
		}
		registered[td] = t
		t.Loc |= LocMetadata
		t.IsValueType = t.IsValueType || td.IsValueType()
		t.IsInterface = t.IsInterface || td.IsInterface()
		t.IsStatic = t.IsStatic || td.IsStatic()
		if t.Module == "" {
			t.Module = mod.FileName
		}
		if len(t.TypeParams) == 0 {
			t.TypeParams = td.GenericParams
		}
		if td.Extends != "" {
			t.baseNames = append(t.baseNames, baseRef{text: td.Extends})
		}
		return t
	}

	for _, td := range mod.Types {
		t := register(td)
		for _, md := range td.Methods {
			if md.Accessor {
				continue
			}
			kind := schema.MemberKindMethod
			if md.IsConstructor() {
				kind = schema.MemberKindConstructor
			}
			n := len(md.Signature.Params)
			mem := t.addMember(&Member{
				Name:        md.Name,
				Kind:        kind,
				TypeName:    md.Signature.Return.FullName(),
				ParamCount:  n,
				Required:    n,
				IsStatic:    md.Flags&clrmeta.MethodStatic != 0,
				IsExtension: md.IsExtension(),
				Module:      mod.FileName,
				Token:       md.Token,
				Loc:         LocMetadata,
			})
			if mem.IsExtension && n > 0 {
				mem.ExtendsType = genericDefinition(md.Signature.Params[0].FullName())
				m.extensions[mem.Name] = append(m.extensions[mem.Name], mem)
			}
		}
		for _, p := range td.Properties {
			static := false
			if acc := p.Accessors(); len(acc) > 0 {
				static = acc[0].Flags&clrmeta.MethodStatic != 0
			}
			t.addMember(&Member{
				Name:       p.Name,
				Kind:       schema.MemberKindProperty,
				TypeName:   p.Type.FullName(),
				ParamCount: len(p.Params),
				Required:   len(p.Params),
				IsStatic:   static,
				Module:     mod.FileName,
				Token:      p.Token,
				Loc:        LocMetadata,
			})
		}
		for _, f := range td.Fields {
			if f.Flags&clrmeta.FieldRTSpecialName != 0 {
				continue
			}
			t.addMember(&Member{
				Name:     f.Name,
				Kind:     schema.MemberKindField,
				TypeName: f.Type.FullName(),
				IsStatic: f.Flags&clrmeta.FieldStatic != 0,
				Module:   mod.FileName,
				Token:    f.Token,
				Loc:      LocMetadata,
			})
		}
		for _, e := range td.Events {
			static := false
			if acc := e.Accessors(); len(acc) > 0 {
				static = acc[0].Flags&clrmeta.MethodStatic != 0
			}
			t.addMember(&Member{
				Name:     e.Name,
				Kind:     schema.MemberKindEvent,
				TypeName: e.Type.FullName(),
				IsStatic: static,
				Module:   mod.FileName,
				Token:    e.Token,
				Loc:      LocMetadata,
			})
		}
	}
}

// addTypeRefs registers the types mod references but no catalog, module or
// source unit declares. They are open: any member looked up on them is
// synthesized with a metadata location.
func (m *Model) addTypeRefs(mod *clrmeta.Module) {
	if len(mod.TypeRefs) == 0 {
		return
	}
	valueTypes := signatureValueTypes(mod)
	claim := func(t *Type, assembly string) {
		if t.Loc != 0 {
			return
		}
		t.Loc = LocMetadata
		t.open = true
		t.Module = assembly
		t.IsValueType = valueTypes[t.FullName]
	}
	for _, ref := range mod.TypeRefs {
		if m.TypeByFullName(ref.FullName) != nil {
			continue
		}
		parts := strings.Split(ref.FullName, "+")
		ns, name, arity := splitMetadataName(parts[0])
		m.ensureNamespace(ns, LocMetadata)
		t := m.ensureType(ns, name, arity)
		claim(t, ref.Assembly)
		for _, p := range parts[1:] {
			name, arity := splitArity(p)
			t = m.ensureNested(t, name, arity)
			claim(t, ref.Assembly)
		}
	}
}

// signatureValueTypes collects the type names mod's signatures encode as
// value types. A TypeRef row alone does not say.
func signatureValueTypes(mod *clrmeta.Module) map[string]bool {
	out := make(map[string]bool)
	var walk func(s *clrmeta.TypeSig)
	walk = func(s *clrmeta.TypeSig) {
		if s == nil {
			return
		}
		if s.Kind == clrmeta.ElemValueType {
			out[s.Name] = true
		}
		walk(s.Elem)
		for _, a := range s.Args {
			walk(a)
		}
	}
	for _, td := range mod.Types {
		for _, md := range td.Methods {
			walk(md.Signature.Return)
			for _, p := range md.Signature.Params {
				walk(p)
			}
		}
		for _, f := range td.Fields {
			walk(f.Type)
		}
		for _, p := range td.Properties {
			walk(p.Type)
			for _, pp := range p.Params {
				walk(pp)
			}
		}
		for _, e := range td.Events {
			walk(e.Type)
		}
	}
	return out
}

func (m *Model) addUnitTypes(u *ast.Unit, decls map[*ast.TypeDecl]*Type) {
	for _, nd := range u.Namespaces {
		m.ensureNamespace(nd.Name, LocSource)
	}
	module := path.Base(u.FilePath)
	for _, d := range u.Types {
		var t *Type
		if d.Outer != nil {
			outer, ok := decls[d.Outer]
			if !ok {
				continue
			}
			t = m.ensureNested(outer, d.Name, len(d.TypeParams))
		} else {
			m.ensureNamespace(d.Namespace, LocSource)
			t = m.ensureType(d.Namespace, d.Name, len(d.TypeParams))
		}
		decls[d] = t
		if t.Loc&LocSource == 0 {
			t.ClassName = d.ClassName()
			t.Module = module
		}
		t.Loc |= LocSource
		t.IsValueType = t.IsValueType || d.Kind.IsValueType()
		t.IsInterface = t.IsInterface || d.Kind == ast.TypeKindInterface
		t.IsStatic = t.IsStatic || d.IsStatic()
		t.IsModule = t.IsModule || d.Kind == ast.TypeKindModule
		t.TypeParams = d.AllTypeParams()
		scope := newTypeScope(u, d, t)
		for _, base := range d.BaseTypes {
			t.baseNames = append(t.baseNames, baseRef{text: base, scope: scope})
		}
	}
}

func (m *Model) resolveBases(t *Type) {
	seen := make(map[*Type]bool, len(t.baseNames))
	for _, ref := range t.baseNames {
		var base *Type
		if ref.scope == nil {
			base = m.TypeByFullName(genericDefinition(ref.text))
		} else {
			base = m.resolveTypeRef(ref.text, ref.scope).Type
		}
		if base == nil || base == t || seen[base] {
			continue
		}
		seen[base] = true
		t.bases = append(t.bases, base)
	}
}

func (m *Model) addUnitMembers(u *ast.Unit, decls map[*ast.TypeDecl]*Type) {
	module := path.Base(u.FilePath)
	for _, d := range u.Types {
		t, ok := decls[d]
		if !ok {
			continue
		}
		for _, md := range d.Members {
			scope := m.ScopeFor(u, d, md)
			mem := &Member{
				Name:        md.Name,
				Kind:        md.Kind,
				TypeName:    m.memberTypeName(md, scope),
				ParamCount:  len(md.Params),
				IsStatic:    md.IsStatic,
				IsExtension: md.IsExtension,
				Module:      module,
				Loc:         LocSource,
			}
			for i, p := range md.Params {
				if isParamArray(p.Modifier) && i == len(md.Params)-1 {
					mem.Variadic = true
					continue
				}
				if !p.HasDefault {
					mem.Required++
				}
			}
			mem = t.addMember(mem)
			if md.IsExtension && len(md.Params) > 0 && mem.ExtendsType == "" {
				mem.ExtendsType = genericDefinition(m.ResolveType(md.Params[0].Type, scope).FullName)
				m.extensions[mem.Name] = append(m.extensions[mem.Name], mem)
			}
		}
	}
}

func (m *Model) memberTypeName(md *ast.MemberDecl, scope *Scope) string {
	if md.Kind == schema.MemberKindConstructor || md.Type == "" {
		return "System.Void"
	}
	return m.ResolveType(md.Type, scope).FullName
}

func isParamArray(modifier string) bool {
	return modifier == "params" || strings.EqualFold(modifier, "ParamArray")
}

// splitMetadataName splits Ns.Name`N into its parts.
func splitMetadataName(full string) (namespace, name string, arity int) {
	name = full
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		namespace, name = full[:i], full[i+1:]
	}
	name, arity = splitArity(name)
	return namespace, name, arity
}

// splitArity splits List`1 into List and 1.
func splitArity(name string) (string, int) {
	i := strings.LastIndexByte(name, '`')
	if i < 0 {
		return name, 0
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return name, 0
	}
	return name[:i], n
}
