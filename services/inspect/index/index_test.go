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
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInspect/services/inspect/ast"
	"github.com/AleutianAI/AleutianInspect/services/inspect/clrmeta"
	"github.com/AleutianAI/AleutianInspect/services/inspect/clrmeta/imagetest"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

func usings(names ...string) []ast.Using {
	out := make([]ast.Using, len(names))
	for i, n := range names {
		out[i] = ast.Using{Name: n, Line: i + 1, Column: 1}
	}
	return out
}

// orderUnit is a hand-built C# unit:
//
//	namespace Acme.Orders {
//	  public class OrderService {
//	    public bool Submit(int id, string note = null) { ... }
//	    public OrderService GetService() { ... }
//	    public void Run(List<string> lines) { ... }
//	    public class Line { public int Quantity; }
//	  }
//	  public class Repository<TEntity> { public void Add(TEntity e) {} }
//	  public static class OrderExtensions { public static decimal Total(this OrderService s) {} }
//	}
func orderUnit() (*ast.Unit, *ast.TypeDecl, *ast.MemberDecl) {
	svc := &ast.TypeDecl{Name: "OrderService", Namespace: "Acme.Orders", Kind: ast.TypeKindClass, Access: ast.AccessPublic}
	line := &ast.TypeDecl{Name: "Line", Namespace: "Acme.Orders", Outer: svc, Kind: ast.TypeKindClass, Access: ast.AccessPublic}
	line.Members = []*ast.MemberDecl{{Kind: schema.MemberKindField, Name: "Quantity", Type: "int", Access: ast.AccessPublic}}
	run := &ast.MemberDecl{
		Kind: schema.MemberKindMethod, Name: "Run", Type: "void", Access: ast.AccessPublic,
		Params: []ast.Param{{Name: "lines", Type: "List<string>"}},
		Locals: map[string]string{"repo": "Repository<Line>", "sb": "StringBuilder", "total": "var"},
	}
	svc.Members = []*ast.MemberDecl{
		{Kind: schema.MemberKindMethod, Name: "Submit", Type: "bool", Access: ast.AccessPublic,
			Params: []ast.Param{{Name: "id", Type: "int"}, {Name: "note", Type: "string", HasDefault: true}}},
		{Kind: schema.MemberKindMethod, Name: "GetService", Type: "OrderService", Access: ast.AccessPublic},
		{Kind: schema.MemberKindProperty, Name: "Current", Type: "Line", Access: ast.AccessPublic},
		run,
	}
	repo := &ast.TypeDecl{Name: "Repository", Namespace: "Acme.Orders", Kind: ast.TypeKindClass, TypeParams: []string{"TEntity"}}
	repo.Members = []*ast.MemberDecl{{Kind: schema.MemberKindMethod, Name: "Add", Type: "void",
		Params: []ast.Param{{Name: "e", Type: "TEntity"}}}}
	ext := &ast.TypeDecl{Name: "OrderExtensions", Namespace: "Acme.Orders", Kind: ast.TypeKindClass, Modifiers: []string{"public", "static"}}
	ext.Members = []*ast.MemberDecl{{Kind: schema.MemberKindMethod, Name: "Total", Type: "decimal", IsStatic: true, IsExtension: true,
		Params: []ast.Param{{Name: "s", Type: "OrderService", Modifier: "this"}}}}

	u := &ast.Unit{
		FilePath:   "src/Orders/OrderService.cs",
		Language:   ast.LanguageCSharp,
		Usings:     usings("System", "System.Collections.Generic", "System.Linq", "System.Text"),
		Namespaces: []ast.NamespaceDecl{{Name: "Acme.Orders", Line: 6, Column: 1}},
		Types:      []*ast.TypeDecl{svc, line, repo, ext},
	}
	return u, svc, run
}

func buildModel(t *testing.T, units []*ast.Unit, modules ...*clrmeta.Module) *Model {
	t.Helper()
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	b := NewBuilder()
	b.AddCatalog(cat)
	for _, m := range modules {
		b.AddModule(m)
	}
	for _, u := range units {
		b.AddUnit(u)
	}
	m, err := b.Build(context.Background())
	require.NoError(t, err)
	return m
}

func TestDefaultCatalog(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	require.NotEmpty(t, cat.Assemblies)
	for _, a := range cat.Assemblies {
		for _, ct := range a.Types {
			for _, cm := range ct.Members {
				assert.NotEmpty(t, cm.Kind, "%s.%s", ct.Name, cm.Name)
			}
		}
	}

	_, err = ParseCatalog([]byte("assemblies:\n  - types: []\n"))
	assert.Error(t, err)
}

func TestBuild_Namespaces(t *testing.T) {
	u, _, _ := orderUnit()
	m := buildModel(t, []*ast.Unit{u})

	assert.Equal(t, []string{"Orders"}, m.ChildNamespaces("Acme"))
	assert.Subset(t, m.ChildNamespaces("System"), []string{"Collections", "IO", "Linq", "Text", "Threading"})
	assert.Nil(t, m.ChildNamespaces("No.Such"))

	ns := m.Namespace("Acme.Orders")
	require.NotNil(t, ns)
	assert.Equal(t, LocSource, ns.Loc)
	assert.Equal(t, "Acme", ns.Parent().FullName)
	assert.Equal(t, LocMetadata, m.Namespace("System.Linq").Loc)
}

func TestBuild_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder().Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveType(t *testing.T) {
	u, svc, run := orderUnit()
	m := buildModel(t, []*ast.Unit{u})
	s := m.ScopeFor(u, svc, run)

	tests := []struct {
		text     string
		full     string
		display  string
		resolved bool
	}{
		{"int", "System.Int32", "int", true},
		{"string[]", "System.String[]", "string[]", true},
		{"int?", "System.Nullable`1[System.Int32]", "int?", true},
		{"string?", "System.String", "string?", true},
		{"List<int>", "System.Collections.Generic.List`1[System.Int32]", "System.Collections.Generic.List<int>", true},
		{"Dictionary<string, List<int>>", "System.Collections.Generic.Dictionary`2[System.String,System.Collections.Generic.List`1[System.Int32]]",
			"System.Collections.Generic.Dictionary<string, System.Collections.Generic.List<int>>", true},
		{"OrderService", "Acme.Orders.OrderService", "Acme.Orders.OrderService", true},
		{"Line", "Acme.Orders.OrderService+Line", "Acme.Orders.OrderService.Line", true},
		{"OrderService.Line", "Acme.Orders.OrderService+Line", "Acme.Orders.OrderService.Line", true},
		{"Repository<Line>", "Acme.Orders.Repository`1[Acme.Orders.OrderService+Line]", "Acme.Orders.Repository<Acme.Orders.OrderService.Line>", true},
		{"global::System.String", "System.String", "System.String", true},
		{"(int, string)", "System.ValueTuple`2[System.Int32,System.String]", "(int, string)", true},
		{"int[,]", "System.Int32[,]", "int[,]", true},
		{"Widget", "Widget", "Widget", false},
		{"Acme.Widgets.Widget<int>", "Acme.Widgets.Widget`1[System.Int32]", "Acme.Widgets.Widget<int>", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			ref := m.ResolveType(tt.text, s)
			assert.Equal(t, tt.full, ref.FullName)
			assert.Equal(t, tt.display, ref.Display)
			assert.Equal(t, tt.resolved, ref.Resolved)
		})
	}
}

func TestResolveType_GenericParameters(t *testing.T) {
	u, _, _ := orderUnit()
	m := buildModel(t, []*ast.Unit{u})
	repo := u.Types[2]

	s := m.ScopeFor(u, repo, &ast.MemberDecl{Name: "Map", TypeParams: []string{"TOut"}})
	ref := m.ResolveType("TEntity", s)
	assert.Equal(t, "!0", ref.FullName)
	assert.Equal(t, "TEntity", ref.Display)
	assert.True(t, ref.IsGenericParameter)

	ref = m.ResolveType("List<TOut>", s)
	assert.Equal(t, "System.Collections.Generic.List`1[!!0]", ref.FullName)
	assert.False(t, ref.IsGenericParameter)
}

func TestResolveType_VisualBasic(t *testing.T) {
	u := &ast.Unit{
		FilePath: "Billing/Invoice.vb",
		Language: ast.LanguageVB,
		Usings:   usings("System.Collections.Generic"),
		Types:    []*ast.TypeDecl{{Name: "Invoice", Namespace: "Billing", Kind: ast.TypeKindClass}},
	}
	m := buildModel(t, []*ast.Unit{u})
	s := m.ScopeFor(u, u.Types[0], nil)

	ref := m.ResolveType("Integer", s)
	assert.Equal(t, "System.Int32", ref.FullName)
	assert.Equal(t, "Integer", ref.Display)

	ref = m.ResolveType("List(Of String)", s)
	assert.Equal(t, "System.Collections.Generic.List`1[System.String]", ref.FullName)
	assert.Equal(t, "System.Collections.Generic.List(Of String)", ref.Display)

	ref = m.ResolveType("invoice()", s)
	assert.Equal(t, "Billing.Invoice[]", ref.FullName)

	ref = m.ResolveType("Date", s)
	assert.Equal(t, "System.DateTime", ref.FullName)
}

func TestResolveNamespaceAndImport(t *testing.T) {
	u, svc, _ := orderUnit()
	u.Usings = append(u.Usings, ast.Using{Name: "System.Collections.Generic", Alias: "Coll"}, ast.Using{Name: "System.Console", Static: true})
	m := buildModel(t, []*ast.Unit{u})
	s := m.ScopeFor(u, svc, nil)

	ns := m.ResolveNamespace("System.Collections", s)
	require.NotNil(t, ns)
	assert.Equal(t, []string{"Generic"}, ns.ChildNames())

	assert.Equal(t, "System.Collections.Generic", m.ResolveNamespace("Coll", s).FullName)
	assert.Equal(t, "Acme.Orders", m.ResolveNamespace("Orders", &Scope{Namespace: "Acme"}).FullName)
	assert.Nil(t, m.ResolveNamespace("Contoso", s))

	gotNS, gotType := m.ResolveImport(ast.Using{Name: "System.Linq"}, s)
	require.NotNil(t, gotNS)
	assert.Nil(t, gotType)

	gotNS, gotType = m.ResolveImport(ast.Using{Name: "System.Console", Static: true}, s)
	assert.Nil(t, gotNS)
	require.NotNil(t, gotType)
	assert.Equal(t, "System.Console", gotType.FullName)

	gotNS, gotType = m.ResolveImport(ast.Using{Name: "Contoso.Missing"}, s)
	assert.Nil(t, gotNS)
	assert.Nil(t, gotType)
}

func TestResolveInvocation(t *testing.T) {
	u, svc, run := orderUnit()
	m := buildModel(t, []*ast.Unit{u})
	s := m.ScopeFor(u, svc, run)

	tests := []struct {
		name     string
		inv      ast.Invocation
		wantID   string
		source   bool
		metadata bool
		ext      bool
	}{
		{"framework static", ast.Invocation{Receiver: "Console", Name: "WriteLine", Arguments: []string{`"x"`}},
			"System.Console.WriteLine", false, true, false},
		{"qualified framework static", ast.Invocation{Receiver: "System.Console", Name: "WriteLine"},
			"System.Console.WriteLine", false, true, false},
		{"own method", ast.Invocation{Name: "Submit", Arguments: []string{"1"}},
			"Acme.Orders.OrderService.Submit", true, false, false},
		{"this receiver", ast.Invocation{Receiver: "this", Name: "GetService"},
			"Acme.Orders.OrderService.GetService", true, false, false},
		{"local of generic source type", ast.Invocation{Receiver: "repo", Name: "Add", Arguments: []string{"x"}},
			"Acme.Orders.Repository.Add", true, false, false},
		{"call chain", ast.Invocation{Receiver: "GetService()", Name: "Submit", Arguments: []string{"2"}},
			"Acme.Orders.OrderService.Submit", true, false, false},
		{"source extension", ast.Invocation{Receiver: "GetService()", Name: "Total"},
			"Acme.Orders.OrderExtensions.Total", true, false, true},
		{"framework extension on parameter", ast.Invocation{Receiver: "lines", Name: "Where", Arguments: []string{"l => l != null"}},
			"System.Linq.Enumerable.Where", false, true, true},
		{"open framework type", ast.Invocation{Receiver: "sb", Name: "Clear"},
			"System.Text.StringBuilder.Clear", false, true, false},
		{"object creation", ast.Invocation{Receiver: "new StringBuilder()", Name: "Append", Arguments: []string{`"a"`}},
			"System.Text.StringBuilder.Append", false, true, false},
		{"string literal", ast.Invocation{Receiver: `"a,b"`, Name: "Split"},
			"System.String.Split", false, true, false},
		{"inherited object member", ast.Invocation{Receiver: "Current", Name: "ToString"},
			"System.Object.ToString", false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.ResolveInvocation(tt.inv, s)
			require.True(t, res.Resolved(), "unresolved %+v", tt.inv)
			assert.Equal(t, tt.wantID, res.Member.ID())
			assert.Equal(t, tt.source, res.Member.HasSource())
			assert.Equal(t, tt.metadata, res.Member.HasMetadata())
			assert.Equal(t, tt.ext, res.Extension)
			assert.False(t, res.NotInvocable)
		})
	}
}

func TestResolveInvocation_Unresolved(t *testing.T) {
	u, svc, run := orderUnit()
	m := buildModel(t, []*ast.Unit{u})
	s := m.ScopeFor(u, svc, run)

	for _, inv := range []ast.Invocation{
		{Name: "Frobnicate"},
		{Receiver: "widget", Name: "Spin"},
		{Receiver: "total", Name: "Round"},
		{Receiver: "Contoso.Client", Name: "Send"},
	} {
		res := m.ResolveInvocation(inv, s)
		assert.False(t, res.Resolved(), "%+v", inv)
	}
}

func TestResolveInvocation_Overloads(t *testing.T) {
	u, svc, run := orderUnit()
	svc.Members = append(svc.Members,
		&ast.MemberDecl{Kind: schema.MemberKindMethod, Name: "Log", Type: "void", Params: []ast.Param{{Name: "a", Type: "string"}}},
		&ast.MemberDecl{Kind: schema.MemberKindMethod, Name: "Log", Type: "void", Params: []ast.Param{{Name: "a", Type: "string"}, {Name: "b", Type: "int"}}},
	)
	m := buildModel(t, []*ast.Unit{u})
	s := m.ScopeFor(u, svc, run)

	res := m.ResolveInvocation(ast.Invocation{Name: "Log", Arguments: []string{`"x"`, "1"}}, s)
	require.True(t, res.Resolved())
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 2, res.Member.ParamCount)

	res = m.ResolveInvocation(ast.Invocation{Name: "Log", Arguments: []string{"a", "b", "c"}}, s)
	require.True(t, res.Resolved())
	assert.Equal(t, 1, res.Member.ParamCount, "no overload accepts three arguments, first candidate wins")

	res = m.ResolveInvocation(ast.Invocation{Name: "Submit", Arguments: []string{"1"}}, s)
	require.True(t, res.Resolved())
	assert.Equal(t, 1, res.Member.Required)
}

func TestResolveInvocation_VisualBasic(t *testing.T) {
	report := &ast.TypeDecl{Name: "Report", Namespace: "Billing", Kind: ast.TypeKindClass}
	render := &ast.MemberDecl{Kind: schema.MemberKindMethod, Name: "Render", Type: "String",
		Locals: map[string]string{"builder": "StringBuilder"}}
	report.Members = []*ast.MemberDecl{
		{Kind: schema.MemberKindField, Name: "items", Type: "List(Of String)"},
		render,
	}
	helpers := &ast.TypeDecl{Name: "Helpers", Namespace: "Billing", Kind: ast.TypeKindModule}
	helpers.Members = []*ast.MemberDecl{{Kind: schema.MemberKindMethod, Name: "Pad", Type: "String", IsStatic: true,
		Params: []ast.Param{{Name: "s", Type: "String"}}}}
	u := &ast.Unit{
		FilePath: "Billing/Report.vb",
		Language: ast.LanguageVB,
		Usings:   usings("System.Text", "System.Collections.Generic"),
		Types:    []*ast.TypeDecl{report, helpers},
	}
	m := buildModel(t, []*ast.Unit{u})
	s := m.ScopeFor(u, report, render)

	res := m.ResolveInvocation(ast.Invocation{Receiver: "Me", Name: "items", Arguments: []string{"0"}}, s)
	require.True(t, res.Resolved())
	assert.True(t, res.NotInvocable)

	res = m.ResolveInvocation(ast.Invocation{Name: "pad", Arguments: []string{"x"}}, s)
	require.True(t, res.Resolved())
	assert.Equal(t, "Billing.Helpers.Pad", res.Member.ID())
	assert.False(t, res.NotInvocable)

	res = m.ResolveInvocation(ast.Invocation{Receiver: "BUILDER", Name: "append"}, s)
	require.True(t, res.Resolved())
	assert.Equal(t, "System.Text.StringBuilder.Append", res.Member.ID())
}

func TestBuild_Modules(t *testing.T) {
	img := imagetest.Bytes(&imagetest.Assembly{
		Name: "Contoso.Client",
		Types: []*imagetest.Type{{
			Namespace: "Contoso",
			Name:      "Client",
			Flags:     imagetest.TypePublic,
			Extends:   "System.Object",
			Methods: []*imagetest.Method{
				imagetest.Ctor(),
				{Name: "Send", Flags: imagetest.PublicMethod, Return: "bool", Params: []imagetest.Param{{Name: "body", Type: "string"}}},
			},
			Properties: []*imagetest.Property{{Name: "Timeout", Type: "int", Get: true, Set: true, AccessorFlags: imagetest.PublicMethod}},
		}},
	})
	mod, err := clrmeta.Read(bytes.NewReader(img), "Contoso.Client.dll")
	require.NoError(t, err)

	u, svc, run := orderUnit()
	run.Locals["client"] = "Contoso.Client"
	m := buildModel(t, []*ast.Unit{u}, mod)
	s := m.ScopeFor(u, svc, run)

	client := m.TypeByFullName("Contoso.Client")
	require.NotNil(t, client)
	assert.Equal(t, "Contoso.Client.dll", client.Module)
	assert.Equal(t, LocMetadata, client.Loc)
	assert.Empty(t, client.Members("get_Timeout"), "accessors are not members")
	require.Len(t, client.Members("Timeout"), 1)
	assert.Equal(t, "System.Int32", client.Members("Timeout")[0].TypeName)

	res := m.ResolveInvocation(ast.Invocation{Receiver: "client", Name: "Send", Arguments: []string{`"hi"`}}, s)
	require.True(t, res.Resolved())
	assert.Equal(t, "Contoso.Client.Send", res.Member.ID())
	assert.Equal(t, "Contoso.Client.dll", res.Member.Module)
	assert.NotZero(t, res.Member.Token)
	assert.True(t, res.Member.HasMetadata())
	assert.False(t, res.Member.HasSource())
	assert.False(t, res.Member.Synthetic())
}

func TestBuild_SourceAndMetadataMerge(t *testing.T) {
	img := imagetest.Bytes(&imagetest.Assembly{
		Name: "Acme.Orders",
		Types: []*imagetest.Type{{
			Namespace:     "Acme.Orders",
			Name:          "Repository`1",
			Flags:         imagetest.TypePublic,
			Extends:       "System.Object",
			GenericParams: []string{"TEntity"},
			Methods: []*imagetest.Method{
				{Name: "Add", Flags: imagetest.PublicMethod, Return: "void", Params: []imagetest.Param{{Name: "e", Type: "!0"}}},
			},
		}},
	})
	mod, err := clrmeta.Read(bytes.NewReader(img), "Acme.Orders.dll")
	require.NoError(t, err)

	u, svc, run := orderUnit()
	m := buildModel(t, []*ast.Unit{u}, mod)

	repo := m.TypeByFullName("Acme.Orders.Repository`1")
	require.NotNil(t, repo)
	assert.Equal(t, LocSource|LocMetadata, repo.Loc)
	assert.Equal(t, "Repository", repo.ClassName)

	res := m.ResolveInvocation(ast.Invocation{Receiver: "repo", Name: "Add", Arguments: []string{"x"}}, m.ScopeFor(u, svc, run))
	require.True(t, res.Resolved())
	assert.True(t, res.Member.HasSource())
	assert.True(t, res.Member.HasMetadata())
	assert.Equal(t, "Acme.Orders.Repository.Add", res.Member.ID())
}

func TestBuild_TypeRefs(t *testing.T) {
	img := imagetest.Bytes(&imagetest.Assembly{
		Name:       "Acme.Api",
		References: []string{"Contoso.Http"},
		Types: []*imagetest.Type{{
			Namespace: "Acme.Api",
			Name:      "Gateway",
			Flags:     imagetest.TypePublic,
			Extends:   "System.Object",
			Methods: []*imagetest.Method{
				{Name: "Send", Flags: imagetest.PublicMethod, Return: "valuetype Contoso.Http.Status", Params: []imagetest.Param{
					{Name: "client", Type: "Contoso.Http.Client"},
					{Name: "opts", Type: "Contoso.Http.Client+Options"},
					{Name: "svc", Type: "Acme.Orders.OrderService"},
				}},
			},
		}},
	})
	mod, err := clrmeta.Read(bytes.NewReader(img), "Acme.Api.dll")
	require.NoError(t, err)

	u, svc, run := orderUnit()
	u.Usings = append(u.Usings, ast.Using{Name: "Contoso.Http"})
	run.Locals["client"] = "Client"
	m := buildModel(t, []*ast.Unit{u}, mod)
	s := m.ScopeFor(u, svc, run)

	client := m.TypeByFullName("Contoso.Http.Client")
	require.NotNil(t, client)
	assert.Equal(t, LocMetadata, client.Loc)
	assert.Equal(t, "Contoso.Http", client.Module)
	assert.True(t, client.open)
	assert.False(t, client.IsValueType)
	assert.True(t, m.TypeByFullName("Contoso.Http.Status").IsValueType)
	assert.Equal(t, LocMetadata, m.Namespace("Contoso.Http").Loc)

	ref := m.ResolveType("Client.Options", s)
	assert.True(t, ref.Resolved)
	assert.Equal(t, "Contoso.Http.Client+Options", ref.FullName)

	orders := m.TypeByFullName("Acme.Orders.OrderService")
	assert.Equal(t, LocSource, orders.Loc, "a referenced source type stays source-located")
	assert.False(t, orders.open)

	res := m.ResolveInvocation(ast.Invocation{Receiver: "client", Name: "Dispose"}, s)
	require.True(t, res.Resolved())
	assert.Equal(t, "Contoso.Http.Client.Dispose", res.Member.ID())
	assert.Equal(t, "Contoso.Http", res.Member.Module)
	assert.True(t, res.Member.Synthetic())
	assert.False(t, res.Member.HasSource())
}

func TestTypeByFullName(t *testing.T) {
	u, _, _ := orderUnit()
	m := buildModel(t, []*ast.Unit{u})

	assert.Equal(t, "System.Collections.Generic.List`1", m.TypeByFullName("System.Collections.Generic.List`1[System.Int32]").FullName)
	assert.Equal(t, "System.Array", m.TypeByFullName("System.Int32[]").FullName)
	assert.Equal(t, "System.Array", m.TypeByFullName("System.Int32[,]").FullName)
	assert.Equal(t, "Acme.Orders.OrderService+Line", m.TypeByFullName("Acme.Orders.OrderService+Line").FullName)
	assert.Nil(t, m.TypeByFullName(""))
	assert.Nil(t, m.TypeByFullName("Nope"))
}

func TestSplitArity(t *testing.T) {
	name, arity := splitArity("Dictionary`2")
	assert.Equal(t, "Dictionary", name)
	assert.Equal(t, 2, arity)

	name, arity = splitArity("Plain")
	assert.Equal(t, "Plain", name)
	assert.Zero(t, arity)

	ns, name, arity := splitMetadataName("System.Collections.Generic.List`1")
	assert.Equal(t, "System.Collections.Generic", ns)
	assert.Equal(t, "List", name)
	assert.Equal(t, 1, arity)
}

func TestExpressionType(t *testing.T) {
	u, svc, run := orderUnit()
	m := buildModel(t, []*ast.Unit{u})
	s := m.ScopeFor(u, svc, run)

	tests := map[string]string{
		`"text"`:              "System.String",
		"42":                  "System.Int32",
		"-3":                  "System.Int32",
		"4.5":                 "System.Double",
		"10m":                 "System.Decimal",
		"7L":                  "System.Int64",
		"true":                "System.Boolean",
		"'c'":                 "System.Char",
		"lines":               "System.Collections.Generic.List`1[System.String]",
		"repo":                "Acme.Orders.Repository`1[Acme.Orders.OrderService+Line]",
		"this":                "Acme.Orders.OrderService",
		"GetService()":        "Acme.Orders.OrderService",
		"Current":             "Acme.Orders.OrderService+Line",
		"Current.Quantity":    "System.Int32",
		"new StringBuilder()": "System.Text.StringBuilder",
		"total":               "",
		"OrderService":        "",
		"unknown.Value":       "",
	}
	for expr, want := range tests {
		assert.Equal(t, want, m.ExpressionType(expr, s), expr)
	}
}
