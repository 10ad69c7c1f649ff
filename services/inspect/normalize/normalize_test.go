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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInspect/services/inspect/clrmeta"
	"github.com/AleutianAI/AleutianInspect/services/inspect/clrmeta/imagetest"
	"github.com/AleutianAI/AleutianInspect/services/inspect/discover"
	"github.com/AleutianAI/AleutianInspect/services/inspect/index"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

const orderServiceSource = `using System;
using System.Collections.Generic;
using Col = System.Collections;

namespace Acme.Orders
{
    public class OrderService
    {
        private readonly List<string> _items = new List<string>();

        public OrderService(int capacity)
        {
        }

        public string Name { get; set; }

        public int Count(string prefix, int limit = 10)
        {
            var buffer = new Dictionary<string, int>();
            Helper(prefix);
            Console.WriteLine(prefix);
            return _items.Count;
        }

        private void Helper(string value)
        {
        }

        public T Echo<T>(T value) => value;

        public class Line
        {
            void Hidden() { }
        }
    }

    internal static class Extensions
    {
        public static int Twice(this int value) => value * 2;
    }
}
`

func sampleAssembly() *imagetest.Assembly {
	return &imagetest.Assembly{
		Name:        "Acme.Orders",
		Version:     [4]uint16{2, 1, 0, 0},
		FileVersion: [4]uint16{2, 1, 7, 42},
		Types: []*imagetest.Type{
			{
				Namespace: "Acme.Orders",
				Name:      "OrderService",
				Flags:     imagetest.TypePublic,
				Extends:   "System.Object",
				Methods: []*imagetest.Method{
					imagetest.Ctor(imagetest.Param{Name: "name", Type: "string"}),
					{Name: "Submit", Flags: imagetest.PublicMethod, Return: "bool",
						Params: []imagetest.Param{{Name: "id", Type: "int"}, {Name: "lines", Type: "System.Collections.Generic.List`1<string>"}}},
					{Name: "Find", Flags: imagetest.PublicMethod, Return: "!!0",
						GenericParams: []string{"T"}, Params: []imagetest.Param{{Name: "key", Type: "string&"}}},
					{Name: "Reset", Flags: imagetest.MethodPrivate | imagetest.MethodHideBySig, Return: "void"},
				},
				Fields: []*imagetest.Field{
					{Name: "MaxLines", Flags: imagetest.FieldPublic | imagetest.FieldStatic | imagetest.FieldLiteral, Type: "int"},
					{Name: "_cache", Flags: imagetest.FieldPrivate, Type: "object[]"},
				},
				Properties: []*imagetest.Property{
					{Name: "Count", Type: "int", Get: true, AccessorFlags: imagetest.PublicMethod},
				},
				Events: []*imagetest.Event{
					{Name: "Submitted", Type: "System.EventHandler", AccessorFlags: imagetest.PublicMethod},
				},
				Nested: []*imagetest.Type{
					{Name: "Secret", Flags: imagetest.TypeNestedPriv, Extends: "System.Object",
						Methods: []*imagetest.Method{{Name: "Leak", Flags: imagetest.PublicMethod, Return: "void"}}},
				},
			},
			{
				Namespace: "Acme.Orders.Pricing",
				Name:      "Level",
				Flags:     imagetest.TypePublic | imagetest.TypeSealed,
				Extends:   "System.Enum",
				Fields: []*imagetest.Field{
					{Name: "value__", Flags: imagetest.FieldPublic | imagetest.FieldRTSpecial, Type: "int"},
					{Name: "Gold", Flags: imagetest.FieldPublic | imagetest.FieldStatic | imagetest.FieldLiteral, Type: "Acme.Orders.Pricing.Level"},
				},
			},
			{
				Namespace: "Acme.Orders.Internal",
				Name:      "Scratch",
				Flags:     0,
				Extends:   "System.Object",
				Methods:   []*imagetest.Method{{Name: "Run", Flags: imagetest.PublicMethod, Return: "void"}},
			},
		},
	}
}

func byName(t *testing.T, members []schema.MemberRecord, name string) schema.MemberRecord {
	t.Helper()
	for _, m := range members {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("member %s not found", name)
	return schema.MemberRecord{}
}

func buildModel(t *testing.T, units ...*Unit) *index.Model {
	t.Helper()
	cat, err := index.DefaultCatalog()
	require.NoError(t, err)
	b := index.NewBuilder()
	b.AddCatalog(cat)
	for _, u := range units {
		u.Contribute(b)
	}
	m, err := b.Build(context.Background())
	require.NoError(t, err)
	return m
}

func writeSource(t *testing.T) discover.File {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "src", "OrderService.cs")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(orderServiceSource), 0o644))
	return discover.File{Path: path, RelPath: "src/OrderService.cs", Kind: discover.KindCSharp, Assembly: "Acme.Orders"}
}

func TestRegistry_For(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		want discover.Kind
	}{
		{"Program.cs", discover.KindCSharp},
		{"Module1.VB", discover.KindVB},
		{"Acme.Orders.dll", discover.KindBinary},
		{"tool.exe", discover.KindBinary},
		{".cs", discover.KindCSharp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := r.For(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.want, n.Kind())
		})
	}

	_, ok := r.For("README.md")
	assert.False(t, ok)

	n, ok := r.ForKind(discover.KindVB)
	require.True(t, ok)
	assert.Equal(t, discover.KindVB, n.Kind())
}

func TestSourceNormalizer_Normalize(t *testing.T) {
	ctx := context.Background()
	f := writeSource(t)
	n := NewCSharp()

	u, err := n.Prepare(ctx, f)
	require.NoError(t, err)
	require.NotNil(t, u.Source)

	res, err := n.Normalize(ctx, u, buildModel(t, u))
	require.NoError(t, err)

	t.Run("namespaces", func(t *testing.T) {
		assert.Equal(t, []schema.NamespaceEntry{{Module: "OrderService.cs", Name: "Acme.Orders"}}, res.Namespaces)
	})

	t.Run("private members are skipped", func(t *testing.T) {
		names := make([]string, 0, len(res.Members))
		for _, m := range res.Members {
			names = append(names, m.Name)
		}
		assert.ElementsMatch(t, []string{".ctor", "Name", "Count", "Echo", "Twice"}, names)
	})

	t.Run("method", func(t *testing.T) {
		count := byName(t, res.Members, "Count")
		assert.Equal(t, schema.MemberKindMethod, count.Kind)
		assert.Equal(t, "src/OrderService.cs", count.Path)
		assert.Equal(t, "OrderService.cs", count.FileName)
		assert.Equal(t, "Acme.Orders", count.Assembly)
		assert.Equal(t, "OrderService.cs", count.Module)
		assert.Equal(t, "Acme.Orders", count.Namespace)
		assert.Equal(t, "OrderService", count.ClassName)
		assert.Equal(t, "Public", count.Attributes)
		assert.Equal(t, "int", count.ReturnType)
		assert.Equal(t, 17, count.Line)
		assert.Equal(t, 9, count.Column)
		assert.Equal(t, []schema.Parameter{
			{Name: "prefix", Type: "String", TypeFullName: "System.String"},
			{Name: "limit", Type: "Int", TypeFullName: "System.Int32"},
		}, count.Parameters)
		assert.Equal(t, "Acme.Orders.OrderService.Count(System.String,System.Int32):System.Int32", count.Signature)
		assert.Equal(t, schema.OriginSource, count.Origin)
	})

	t.Run("property", func(t *testing.T) {
		name := byName(t, res.Members, "Name")
		assert.Equal(t, schema.MemberKindProperty, name.Kind)
		assert.Equal(t, "string", name.ValueType)
		assert.Empty(t, name.ReturnType)
	})

	t.Run("constructor", func(t *testing.T) {
		ctor := byName(t, res.Members, ".ctor")
		assert.Equal(t, schema.MemberKindConstructor, ctor.Kind)
		assert.Equal(t, "Acme.Orders.OrderService..ctor(System.Int32):System.Void", ctor.Signature)
	})

	t.Run("generic method", func(t *testing.T) {
		echo := byName(t, res.Members, "Echo")
		require.Len(t, echo.Parameters, 1)
		assert.True(t, echo.Parameters[0].IsGenericParameter)
		assert.Equal(t, "Acme.Orders.OrderService.Echo<1>(!!0):!!0", echo.Signature)
	})

	t.Run("extension method", func(t *testing.T) {
		twice := byName(t, res.Members, "Twice")
		assert.Equal(t, "Extensions", twice.ClassName)
		assert.True(t, twice.IsStatic)
		assert.Equal(t, "Acme.Orders.Extensions.Twice(System.Int32):System.Int32", twice.Signature)
	})

	t.Run("dependencies", func(t *testing.T) {
		require.Len(t, res.Dependencies, 3)

		system := res.Dependencies[0]
		assert.Equal(t, "", system.Namespace)
		assert.Equal(t, "System", system.Name)
		assert.Contains(t, system.NamespaceMembers, "Collections")
		assert.Equal(t, 1, system.Line)

		generic := res.Dependencies[1]
		assert.Equal(t, "System.Collections", generic.Namespace)
		assert.Equal(t, "Generic", generic.Name)
		assert.Empty(t, generic.NamespaceMembers)

		alias := res.Dependencies[2]
		assert.Equal(t, "System", alias.Namespace)
		assert.Equal(t, "Collections", alias.Name)
		assert.Equal(t, "Col", alias.Alias)
		assert.Equal(t, []string{"Generic"}, alias.NamespaceMembers)
	})

	t.Run("calls", func(t *testing.T) {
		var calls []schema.MethodCallEdge
		for i := range res.Calls {
			if res.Calls[i].Caller.Member == "Count" {
				calls = append(calls, res.Calls[i].Edge())
			}
		}
		require.Len(t, calls, 2)

		assert.Equal(t, "Acme.Orders.OrderService.Count", calls[0].SourceID)
		assert.Equal(t, "Acme.Orders.OrderService.Helper", calls[0].TargetID)
		assert.Equal(t, schema.CallTypeInternal, calls[0].CallType)
		assert.Equal(t, "src/OrderService.cs:20:13", calls[0].CallLocation)

		assert.Equal(t, "System.Console.WriteLine", calls[1].TargetID)
		assert.Equal(t, schema.CallTypeExternal, calls[1].CallType)
		assert.Equal(t, []string{"System.String"}, calls[1].Arguments)
	})
}

func TestSourceNormalizer_PrepareErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewCSharp().Prepare(ctx, discover.File{Path: filepath.Join(t.TempDir(), "Missing.cs"), RelPath: "Missing.cs"})
	assert.ErrorIs(t, err, os.ErrNotExist)

	f := writeSource(t)
	_, err = NewCSharp(WithMaxFileSize(16)).Prepare(ctx, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "src/OrderService.cs")
}

func TestSourceNormalizer_RejectsBinaryUnit(t *testing.T) {
	_, err := NewCSharp().Normalize(context.Background(), &Unit{File: discover.File{RelPath: "x.dll"}, Module: &clrmeta.Module{}}, nil)
	assert.Error(t, err)
}

func TestBinaryNormalizer_Normalize(t *testing.T) {
	ctx := context.Background()
	path := imagetest.WriteFile(t, t.TempDir(), "Acme.Orders.dll", sampleAssembly())
	f := discover.File{Path: path, RelPath: "bin/Acme.Orders.dll", Kind: discover.KindBinary, Assembly: "Acme.Orders"}

	n := NewBinary()
	u, err := n.Prepare(ctx, f)
	require.NoError(t, err)
	require.NotNil(t, u.Module)

	res, err := n.Normalize(ctx, u, nil)
	require.NoError(t, err)

	assert.Equal(t, &schema.AssemblyInformation{Name: "Acme.Orders", Version: "2.1.7.42"}, res.Assembly)
	assert.Equal(t, []schema.NamespaceEntry{
		{Module: "Acme.Orders.dll", Name: "Acme.Orders"},
		{Module: "Acme.Orders.dll", Name: "Acme.Orders.Pricing"},
	}, res.Namespaces)

	names := make([]string, 0, len(res.Members))
	for _, m := range res.Members {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []string{".ctor", "Submit", "Find", "Count", "MaxLines", "Submitted", "Gold"}, names)

	t.Run("method", func(t *testing.T) {
		submit := byName(t, res.Members, "Submit")
		assert.Equal(t, schema.MemberKindMethod, submit.Kind)
		assert.Empty(t, submit.Path)
		assert.Zero(t, submit.Line)
		assert.Equal(t, "Acme.Orders.dll", submit.FileName)
		assert.Equal(t, "Acme.Orders.dll", submit.Module)
		assert.Equal(t, "Acme.Orders", submit.Assembly)
		assert.Equal(t, "Boolean", submit.ReturnType)
		assert.Contains(t, submit.Attributes, "Public")
		assert.Equal(t, []schema.Parameter{
			{Name: "id", Type: "System.Int32", TypeFullName: "System.Int32"},
			{Name: "lines", Type: "System.Collections.Generic.List`1[System.String]", TypeFullName: "System.Collections.Generic.List`1[System.String]"},
		}, submit.Parameters)
		assert.Equal(t, "Acme.Orders.OrderService.Submit(System.Int32,System.Collections.Generic.List`1[System.String]):System.Boolean", submit.Signature)
		assert.Equal(t, uint32(0x06000000), submit.MetadataToken&0xFF000000)
		assert.Equal(t, schema.OriginBinary, submit.Origin)
	})

	t.Run("generic method", func(t *testing.T) {
		find := byName(t, res.Members, "Find")
		assert.Equal(t, "Acme.Orders.OrderService.Find<1>(System.String&):!!0", find.Signature)
	})

	t.Run("constructor", func(t *testing.T) {
		ctor := byName(t, res.Members, ".ctor")
		assert.Equal(t, schema.MemberKindConstructor, ctor.Kind)
		assert.Equal(t, "Acme.Orders.OrderService..ctor(System.String):System.Void", ctor.Signature)
	})

	t.Run("property and field", func(t *testing.T) {
		count := byName(t, res.Members, "Count")
		assert.Equal(t, schema.MemberKindProperty, count.Kind)
		assert.Equal(t, "Int32", count.ValueType)
		assert.Equal(t, "Acme.Orders.OrderService.Count():System.Int32", count.Signature)

		maxLines := byName(t, res.Members, "MaxLines")
		assert.Equal(t, schema.MemberKindField, maxLines.Kind)
		assert.True(t, maxLines.IsStatic)
	})

	t.Run("event", func(t *testing.T) {
		ev := byName(t, res.Members, "Submitted")
		assert.Equal(t, schema.MemberKindEvent, ev.Kind)
		assert.Equal(t, "EventHandler", ev.ValueType)
	})
}

func TestBinaryNormalizer_RenamedModule(t *testing.T) {
	ctx := context.Background()
	path := imagetest.WriteFile(t, t.TempDir(), "Orders.Renamed.dll", sampleAssembly())
	f := discover.File{Path: path, RelPath: "Orders.Renamed.dll", Kind: discover.KindBinary}

	n := NewBinary()
	u, err := n.Prepare(ctx, f)
	require.NoError(t, err)
	require.Equal(t, "Acme.Orders.dll", u.Module.Name)
	require.NotEmpty(t, u.Module.TypeRefs)

	res, err := n.Normalize(ctx, u, nil)
	require.NoError(t, err)
	require.Len(t, res.Members, 7)
	for _, m := range res.Members {
		assert.Equal(t, "Orders.Renamed.dll", m.Module)
		assert.True(t, strings.HasPrefix(m.Namespace, "Acme.Orders"), m.Namespace)
	}
}

func TestBinaryNormalizer_PrepareErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.dll")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := NewBinary().Prepare(context.Background(), discover.File{Path: path, RelPath: "broken.dll"})
	assert.ErrorIs(t, err, clrmeta.ErrNotCLIImage)
	assert.Contains(t, err.Error(), "loading module broken.dll")
}

func TestReferenceCache(t *testing.T) {
	cache, err := NewReferenceCache(0)
	require.NoError(t, err)

	dir := t.TempDir()
	path := imagetest.WriteFile(t, dir, "Acme.Orders.dll", sampleAssembly())

	first, err := cache.Load(path)
	require.NoError(t, err)
	second, err := cache.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())

	a := sampleAssembly()
	a.Version = [4]uint16{3, 0, 0, 0}
	a.FileVersion = [4]uint16{}
	imagetest.WriteFile(t, dir, "Acme.Orders.dll", a)
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	reloaded, err := cache.Load(path)
	require.NoError(t, err)
	assert.NotSame(t, first, reloaded)
	assert.Equal(t, "3.0.0.0", reloaded.Version())

	cache.Purge()
	assert.Zero(t, cache.Len())

	_, err = cache.Load(filepath.Join(dir, "missing.dll"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBinaryNormalizer_UsesCache(t *testing.T) {
	cache, err := NewReferenceCache(4)
	require.NoError(t, err)
	path := imagetest.WriteFile(t, t.TempDir(), "Acme.Orders.dll", sampleAssembly())
	f := discover.File{Path: path, RelPath: "Acme.Orders.dll", Kind: discover.KindBinary}

	n := NewBinary(WithModuleCache(cache))
	u1, err := n.Prepare(context.Background(), f)
	require.NoError(t, err)
	u2, err := n.Prepare(context.Background(), f)
	require.NoError(t, err)
	assert.Same(t, u1.Module, u2.Module)
}
