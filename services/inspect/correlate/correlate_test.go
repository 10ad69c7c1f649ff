// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package correlate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInspect/services/inspect/clrmeta/imagetest"
	"github.com/AleutianAI/AleutianInspect/services/inspect/discover"
	"github.com/AleutianAI/AleutianInspect/services/inspect/index"
	"github.com/AleutianAI/AleutianInspect/services/inspect/normalize"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

func source(file, assembly, name, sig string) schema.MemberRecord {
	return schema.MemberRecord{
		Kind:      schema.MemberKindMethod,
		Path:      "src/" + file,
		FileName:  file,
		Assembly:  assembly,
		Namespace: "Acme",
		ClassName: "Calc",
		Name:      name,
		Line:      3,
		Column:    5,
		Signature: sig,
		Origin:    schema.OriginSource,
	}
}

func binary(name, sig string, token uint32) schema.MemberRecord {
	return schema.MemberRecord{
		Kind:          schema.MemberKindMethod,
		Namespace:     "Acme",
		ClassName:     "Calc",
		Name:          name,
		Signature:     sig,
		MetadataToken: token,
		Origin:        schema.OriginBinary,
	}
}

func TestPair(t *testing.T) {
	calc := &Module{FileName: "Calc.dll", Assembly: "Acme.Calc"}
	tool := &Module{FileName: "Tool.exe", Assembly: "Tool"}
	sources := []schema.MemberRecord{
		source("Calc.cs", "", "A", "a"),
		source("Helpers.cs", "acme.calc", "B", "b"),
		source("Program.cs", "Tool", "C", "c"),
		source("Stray.cs", "", "D", "d"),
		binary("E", "e", 1),
	}

	pairs := Pair([]*Module{calc, tool}, sources)
	require.Len(t, pairs, 2)
	assert.Same(t, calc, pairs[0].Module)
	assert.Equal(t, []int{0, 1}, pairs[0].Sources)
	assert.Same(t, tool, pairs[1].Module)
	assert.Equal(t, []int{2}, pairs[1].Sources)

	assert.Empty(t, Pair([]*Module{{FileName: "Other.dll"}}, sources))
}

func TestCorrelate(t *testing.T) {
	const sig = "Acme.Calc.M():System.Int32"
	mod := &Module{
		FileName: "Calc.dll",
		Assembly: "Calc",
		Members: []schema.MemberRecord{
			binary("M", sig, 0x06000004),
			binary("M", sig, 0x06000002),
			binary("N", "Acme.Calc.N():System.Void", 0x06000003),
		},
	}
	sources := []schema.MemberRecord{
		source("Calc.cs", "", "M", sig),
		source("Calc.cs", "", "P", "Acme.Calc.P(System.String):System.Void"),
	}

	res := Correlate(context.Background(), []*Module{mod}, sources)
	require.Len(t, res.Mappings, 2)
	assert.Equal(t, 1, res.Mapped)
	assert.Equal(t, 1, res.Unmapped)

	assert.Equal(t, schema.SourceAssemblyMapping{
		SourceID:              "Acme.Calc.M",
		SourcePath:            "src/Calc.cs",
		SourceLine:            3,
		SourceColumn:          5,
		SourceSignature:       sig,
		SourceMetadataToken:   0x06000002,
		AssemblyMetadataToken: 0x06000002,
		AssemblyName:          "Calc",
		ModuleName:            "Calc.dll",
		AssemblyID:            "Calc.dll:0x06000002",
		AssemblySignature:     sig,
		MemberType:            schema.MemberKindMethod,
		MemberName:            "M",
		ClassName:             "Calc",
		Namespace:             "Acme",
		IsMapped:              true,
	}, res.Mappings[0])

	miss := res.Mappings[1]
	assert.False(t, miss.IsMapped)
	assert.Equal(t, "Acme.Calc.P(System.String):System.Void", miss.SourceSignature)
	assert.Empty(t, miss.AssemblySignature)
	assert.Zero(t, miss.SourceMetadataToken)
	assert.Equal(t, "Calc.dll", miss.ModuleName)
}

func TestCorrelate_NoModules(t *testing.T) {
	sources := []schema.MemberRecord{source("Calc.cs", "", "M", "Acme.Calc.M():System.Int32"), binary("X", "x", 1)}

	res := Correlate(context.Background(), nil, sources)
	require.Len(t, res.Mappings, 1)
	assert.False(t, res.Mappings[0].IsMapped)
	assert.Empty(t, res.Mappings[0].ModuleName)
	assert.Equal(t, 0, res.Mapped)
	assert.Equal(t, 1, res.Unmapped)
}

func TestCorrelate_Empty(t *testing.T) {
	res := Correlate(context.Background(), nil, nil)
	assert.NotNil(t, res.Mappings)
	assert.Empty(t, res.Mappings)
}

func TestAssemblyID(t *testing.T) {
	assert.Equal(t, "Acme.dll:0x0600000A", AssemblyID("Acme.dll", 0x0600000a))
}

// normalizeBatch runs the normalizers over the files the way a scan does and
// returns the modules and every member record.
func normalizeBatch(t *testing.T, files []discover.File) ([]*Module, []schema.MemberRecord) {
	t.Helper()
	ctx := context.Background()
	reg := normalize.NewRegistry()

	cat, err := index.DefaultCatalog()
	require.NoError(t, err)
	b := index.NewBuilder()
	b.AddCatalog(cat)

	units := make([]*normalize.Unit, len(files))
	for i, f := range files {
		n, ok := reg.ForKind(f.Kind)
		require.True(t, ok)
		u, err := n.Prepare(ctx, f)
		require.NoError(t, err)
		u.Contribute(b)
		units[i] = u
	}
	model, err := b.Build(ctx)
	require.NoError(t, err)

	var (
		modules []*Module
		members []schema.MemberRecord
	)
	for i, u := range units {
		n, _ := reg.ForKind(files[i].Kind)
		res, err := n.Normalize(ctx, u, model)
		require.NoError(t, err)
		members = append(members, res.Members...)
		if u.Module != nil {
			modules = append(modules, &Module{FileName: u.Module.FileName, Assembly: u.Module.AssemblyName, Members: res.Members})
		}
	}
	return modules, members
}

func TestCorrelate_SourceAndBinary(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Calc.cs")
	require.NoError(t, os.WriteFile(src, []byte("namespace Acme\n{\n    public class Calc\n    {\n        public int M() { return 1; }\n    }\n}\n"), 0o644))
	dll := imagetest.WriteFile(t, dir, "Calc.dll", &imagetest.Assembly{
		Name:    "Calc",
		Version: [4]uint16{1, 0, 0, 0},
		Types: []*imagetest.Type{{
			Namespace: "Acme",
			Name:      "Calc",
			Flags:     imagetest.TypePublic,
			Extends:   "System.Object",
			Methods:   []*imagetest.Method{imagetest.Ctor(), {Name: "M", Flags: imagetest.PublicMethod, Return: "int"}},
		}},
	})
	srcFile := discover.File{Path: src, RelPath: "Calc.cs", Kind: discover.KindCSharp}
	dllFile := discover.File{Path: dll, RelPath: "Calc.dll", Kind: discover.KindBinary, Index: 1}

	t.Run("paired", func(t *testing.T) {
		modules, members := normalizeBatch(t, []discover.File{srcFile, dllFile})
		res := Correlate(context.Background(), modules, members)

		require.Len(t, res.Mappings, 1)
		m := res.Mappings[0]
		assert.True(t, m.IsMapped)
		assert.Equal(t, "Acme.Calc.M():System.Int32", m.SourceSignature)
		assert.Equal(t, m.SourceSignature, m.AssemblySignature)
		assert.Equal(t, "Calc.dll", m.ModuleName)
		assert.Equal(t, 5, m.SourceLine)
	})

	t.Run("binary removed", func(t *testing.T) {
		modules, members := normalizeBatch(t, []discover.File{srcFile})
		res := Correlate(context.Background(), modules, members)

		require.Len(t, res.Mappings, 1)
		assert.False(t, res.Mappings[0].IsMapped)
		assert.Equal(t, "Acme.Calc.M():System.Int32", res.Mappings[0].SourceSignature)
		assert.Empty(t, res.Mappings[0].AssemblySignature)
	})
}
