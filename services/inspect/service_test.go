// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inspect

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInspect/services/inspect/clrmeta/imagetest"
	"github.com/AleutianAI/AleutianInspect/services/inspect/config"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
	"github.com/AleutianAI/AleutianInspect/services/inspect/store"
)

const calcSource = `using System;

namespace Acme
{
    public class Calc
    {
        public int M()
        {
            Helper();
            Console.WriteLine("done");
            return 1;
        }

        private void Helper()
        {
        }
    }
}
`

func calcAssembly() *imagetest.Assembly {
	return &imagetest.Assembly{
		Name:        "Calc",
		Version:     [4]uint16{1, 0, 0, 0},
		FileVersion: [4]uint16{1, 2, 3, 4},
		Types: []*imagetest.Type{{
			Namespace: "Acme",
			Name:      "Calc",
			Flags:     imagetest.TypePublic,
			Extends:   "System.Object",
			Methods: []*imagetest.Method{
				imagetest.Ctor(),
				{Name: "M", Flags: imagetest.PublicMethod, Return: "int"},
				{Name: "Helper", Flags: imagetest.MethodPrivate | imagetest.MethodHideBySig, Return: "void"},
			},
		}},
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestService(t *testing.T, cfg *config.Config, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	svc, err := NewService(cfg, opts...)
	require.NoError(t, err)
	return svc
}

func memberNames(p *schema.MembersPayload) []string {
	names := make([]string, 0, len(p.Methods))
	for _, m := range p.Methods {
		names = append(names, m.Name)
	}
	return names
}

func TestNewService_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 0
	_, err := NewService(cfg)
	require.Error(t, err)
}

func TestInspectMembers_SourceAndBinary(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Calc.cs", calcSource)
	imagetest.WriteFile(t, dir, "Calc.dll", calcAssembly())

	svc := newTestService(t, nil)
	rep, err := svc.Scan(context.Background(), OperationMembers, dir)
	require.NoError(t, err)
	require.Zero(t, rep.Failed())
	p := rep.Members

	t.Run("members", func(t *testing.T) {
		assert.Equal(t, []string{"M", ".ctor", "M"}, memberNames(p))
		assert.Equal(t, "Calc.cs", p.Methods[0].Path)
		assert.Equal(t, 7, p.Methods[0].Line)
		assert.Empty(t, p.Methods[1].Path)
		assert.NotContains(t, memberNames(p), "Helper")
	})

	t.Run("assembly information", func(t *testing.T) {
		require.Len(t, p.AssemblyInformation, 1)
		assert.Equal(t, "Calc", p.AssemblyInformation[0].Name)
		assert.Equal(t, "1.2.3.4", p.AssemblyInformation[0].Version)
	})

	t.Run("calls", func(t *testing.T) {
		require.Len(t, p.MethodCalls, 1)
		assert.Equal(t, "System.Console.WriteLine", p.MethodCalls[0].CalledMember)
		assert.False(t, p.MethodCalls[0].IsInternal)

		require.Len(t, p.CallGraph.Edges, 2)
		assert.Equal(t, "Acme.Calc.M", p.CallGraph.Edges[0].SourceID)
		assert.Equal(t, "Acme.Calc.Helper", p.CallGraph.Edges[0].TargetID)
		assert.Equal(t, schema.CallTypeInternal, p.CallGraph.Edges[0].CallType)
		assert.Equal(t, schema.CallTypeExternal, p.CallGraph.Edges[1].CallType)

		require.Len(t, p.CallGraph.Nodes, 1)
		assert.Equal(t, "Acme.Calc.M", p.CallGraph.Nodes[0].ID)
	})

	t.Run("correlation", func(t *testing.T) {
		require.Len(t, p.SourceAssemblyMapping, 1)
		m := p.SourceAssemblyMapping[0]
		assert.True(t, m.IsMapped)
		assert.Equal(t, "Acme.Calc.M():System.Int32", m.SourceSignature)
		assert.Equal(t, m.SourceSignature, m.AssemblySignature)
		assert.Equal(t, 1, rep.Mapped)
		assert.Zero(t, rep.Unmapped)
	})

	t.Run("stats", func(t *testing.T) {
		assert.Equal(t, 2, rep.Stats.Files)
		assert.Equal(t, 1, rep.Stats.Calls[schema.CallTypeInternal])
		assert.Equal(t, 1, rep.Stats.Calls[schema.CallTypeExternal])
	})
}

func TestInspectMembers_WithoutBinaryIsUnmapped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Calc.cs", calcSource)

	p, err := newTestService(t, nil).InspectMembers(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, p.SourceAssemblyMapping, 1)
	assert.False(t, p.SourceAssemblyMapping[0].IsMapped)
	assert.Empty(t, p.SourceAssemblyMapping[0].AssemblySignature)
	assert.Empty(t, p.AssemblyInformation)
}

func TestInspectNamespaces_Dedup(t *testing.T) {
	dir := t.TempDir()
	shared := func(name string, types ...string) *imagetest.Assembly {
		a := &imagetest.Assembly{Name: name, Version: [4]uint16{1, 0, 0, 0}}
		for _, tn := range types {
			a.Types = append(a.Types, &imagetest.Type{Namespace: "Shared", Name: tn, Flags: imagetest.TypePublic, Extends: "System.Object"})
		}
		return a
	}
	imagetest.WriteFile(t, dir, "A.dll", shared("A", "One", "Two"))
	imagetest.WriteFile(t, dir, "B.dll", shared("B", "Three"))
	writeFile(t, dir, "src/Twice.cs", "namespace Shared { public class X { } }\nnamespace Shared { public class Y { } }\n")

	got, err := newTestService(t, nil).InspectNamespaces(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []schema.NamespaceEntry{
		{Module: "A.dll", Name: "Shared"},
		{Module: "B.dll", Name: "Shared"},
		{Module: "Twice.cs", Name: "Shared"},
	}, got)
}

func TestInspect_Errors(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("not found", func(t *testing.T) {
		_, err := svc.InspectMembers(ctx, filepath.Join(dir, "missing"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unrecognized extension", func(t *testing.T) {
		path := writeFile(t, dir, "notes.txt", "hello")
		_, err := svc.InspectNamespaces(ctx, path)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("unknown operation", func(t *testing.T) {
		_, err := svc.Scan(ctx, Operation("types"), dir)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("empty directory", func(t *testing.T) {
		empty := t.TempDir()
		ns, err := svc.InspectNamespaces(ctx, empty)
		require.NoError(t, err)
		assert.NotNil(t, ns)
		assert.Empty(t, ns)

		p, err := svc.InspectMembers(ctx, empty)
		require.NoError(t, err)
		assert.Equal(t, schema.NewMembersPayload(), p)
	})
}

func TestInspect_UnitFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Calc.cs", calcSource)
	broken := writeFile(t, dir, "broken.dll", "not an image")
	svc := newTestService(t, nil)
	ctx := context.Background()

	t.Run("directory scan is best effort", func(t *testing.T) {
		rep, err := svc.Scan(ctx, OperationMembers, dir)
		require.NoError(t, err)
		assert.Equal(t, 1, rep.Failed())
		assert.Contains(t, rep.Failures.Errors[0].Error(), "broken.dll")
		assert.Equal(t, []string{"M"}, memberNames(rep.Members))
	})

	t.Run("single file scan is all or nothing", func(t *testing.T) {
		_, err := svc.InspectMembers(ctx, broken)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken.dll")
	})
}

func TestInspectMembers_Superset(t *testing.T) {
	dir := t.TempDir()
	x := writeFile(t, dir, "X.cs", "namespace Acme { public class X { public void A() { } public int B; } }\n")
	y := writeFile(t, dir, "Y.cs", "namespace Acme { public class Y { public string C { get; set; } } }\n")
	svc := newTestService(t, nil)
	ctx := context.Background()

	all, err := svc.InspectMembers(ctx, dir)
	require.NoError(t, err)
	px, err := svc.InspectMembers(ctx, x)
	require.NoError(t, err)
	py, err := svc.InspectMembers(ctx, y)
	require.NoError(t, err)

	assert.Equal(t, append(append([]schema.MemberRecord{}, px.Methods...), py.Methods...), all.Methods)
}

func TestInspectMembers_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Calc.cs", calcSource)
	imagetest.WriteFile(t, dir, "Calc.dll", calcAssembly())
	svc := newTestService(t, nil)

	encode := func() []byte {
		p, err := svc.InspectMembers(context.Background(), dir)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, p, false))
		return buf.Bytes()
	}
	assert.Equal(t, encode(), encode())
}

func TestInspectMembers_References(t *testing.T) {
	refDir := t.TempDir()
	imagetest.WriteFile(t, refDir, "Lib.dll", &imagetest.Assembly{
		Name:    "Lib",
		Version: [4]uint16{1, 0, 0, 0},
		Types: []*imagetest.Type{{
			Namespace: "Acme.Lib",
			Name:      "Util",
			Flags:     imagetest.TypePublic | imagetest.TypeStatic,
			Extends:   "System.Object",
			Methods: []*imagetest.Method{
				{Name: "Do", Flags: imagetest.PublicMethod | imagetest.MethodStatic, Return: "void"},
			},
		}},
	})
	dir := t.TempDir()
	writeFile(t, dir, "App.cs", "using Acme.Lib;\n\nnamespace Acme\n{\n    public class App\n    {\n        public void Run()\n        {\n            Util.Do();\n        }\n    }\n}\n")

	cfg := config.Default()
	cfg.References = []string{refDir}
	p, err := newTestService(t, cfg).InspectMembers(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"Run"}, memberNames(p))
	assert.Empty(t, p.AssemblyInformation)
	require.Len(t, p.MethodCalls, 1)
	assert.Equal(t, "Acme.Lib.Util.Do", p.MethodCalls[0].CalledMember)
	require.Len(t, p.CallGraph.Edges, 1)
	assert.Equal(t, schema.CallTypeExternal, p.CallGraph.Edges[0].CallType)
}

const apiSource = `using Newtonsoft.Json.Linq;
using System.Net.Http;

namespace Acme
{
    public class Api
    {
        public JObject Get(HttpClient client)
        {
            client.Dispose();
            return null;
        }
    }
}
`

func TestInspectMembers_ReferencedTypesCorrelate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Api.cs", apiSource)
	imagetest.WriteFile(t, dir, "Api.dll", &imagetest.Assembly{
		Name:       "Api",
		Version:    [4]uint16{1, 0, 0, 0},
		References: []string{"System.Net.Http"},
		Types: []*imagetest.Type{{
			Namespace: "Acme",
			Name:      "Api",
			Flags:     imagetest.TypePublic,
			Extends:   "System.Object",
			Methods: []*imagetest.Method{
				imagetest.Ctor(),
				{Name: "Get", Flags: imagetest.PublicMethod, Return: "Newtonsoft.Json.Linq.JObject",
					Params: []imagetest.Param{{Name: "client", Type: "System.Net.Http.HttpClient"}}},
			},
		}},
	})

	rep, err := newTestService(t, nil).Scan(context.Background(), OperationMembers, dir)
	require.NoError(t, err)
	require.Zero(t, rep.Failed())
	p := rep.Members

	require.Len(t, p.SourceAssemblyMapping, 1)
	m := p.SourceAssemblyMapping[0]
	assert.True(t, m.IsMapped)
	assert.Equal(t, "Acme.Api.Get(System.Net.Http.HttpClient):Newtonsoft.Json.Linq.JObject", m.SourceSignature)
	assert.Equal(t, m.SourceSignature, m.AssemblySignature)

	require.Len(t, p.MethodCalls, 1)
	assert.Equal(t, "System.Net.Http.HttpClient.Dispose", p.MethodCalls[0].CalledMember)
	assert.Equal(t, "System.Net.Http", p.MethodCalls[0].TargetAssembly)
	require.Len(t, p.CallGraph.Edges, 1)
	assert.Equal(t, schema.CallTypeExternal, p.CallGraph.Edges[0].CallType)
}

const svcSource = `using System;

namespace Acme.E
{
    public class Svc
    {
        private string _n;

        public string Name
        {
            get => _n;
            set { Console.WriteLine(value); }
        }

        public void Do()
        {
            Local();
            void Local() { }
        }
    }
}
`

func TestInspectMembers_LocalFunctionsAndAccessors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Svc.cs", svcSource)

	p, err := newTestService(t, nil).InspectMembers(context.Background(), dir)
	require.NoError(t, err)

	edges := make(map[string]schema.MethodCallEdge)
	for _, e := range p.CallGraph.Edges {
		edges[e.TargetID] = e
	}
	require.Len(t, edges, 2)

	local, ok := edges["Acme.E.Svc.Do.Local"]
	require.True(t, ok, "edges: %+v", p.CallGraph.Edges)
	assert.Equal(t, "Acme.E.Svc.Do", local.SourceID)
	assert.Equal(t, schema.CallTypeInternal, local.CallType)
	assert.True(t, local.IsInternal)

	write, ok := edges["System.Console.WriteLine"]
	require.True(t, ok, "edges: %+v", p.CallGraph.Edges)
	assert.Equal(t, "Acme.E.Svc.Name", write.SourceID)
	assert.Equal(t, []string{"System.String"}, write.Arguments)
	assert.Equal(t, []string{"value"}, write.ArgumentExpressions)

	require.Len(t, p.MethodCalls, 1)
	assert.Equal(t, "System.Console.WriteLine", p.MethodCalls[0].CalledMember)
}

func TestService_Save(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Calc.cs", calcSource)
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		svc := newTestService(t, nil)
		rep, err := svc.Scan(ctx, OperationNamespaces, dir)
		require.NoError(t, err)
		_, err = svc.Save(ctx, rep, "")
		assert.ErrorIs(t, err, ErrStoreDisabled)
	})

	t.Run("members", func(t *testing.T) {
		st, err := store.OpenInMemory(slog.New(slog.DiscardHandler))
		require.NoError(t, err)
		defer st.Close()
		svc := newTestService(t, nil, WithStore(st))

		rep, err := svc.Scan(ctx, OperationMembers, dir)
		require.NoError(t, err)
		meta, err := svc.Save(ctx, rep, "ci")
		require.NoError(t, err)
		assert.Equal(t, store.KindMembers, meta.Kind)
		assert.Equal(t, rep.Root, meta.Root)

		loaded, _, err := st.LoadMembers(ctx, meta.ID)
		require.NoError(t, err)
		assert.Equal(t, memberNames(rep.Members), memberNames(loaded))
	})
}

func TestEncode_OmitsOptionalFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, schema.MemberRecord{Kind: schema.MemberKindMethod, Name: "M"}, false))
	assert.Equal(t, `{"kind":"Method","name":"M","isStatic":false}`+"\n", buf.String())
}
