// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discover

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func relPaths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := map[string]Kind{
		"Program.cs":         KindCSharp,
		"Module1.VB":         KindVB,
		"lib/Acme.Core.dll":  KindBinary,
		"tool.EXE":           KindBinary,
		"README.md":          KindUnknown,
		"Acme.csproj":        KindUnknown,
		"noextension":        KindUnknown,
		"archive.dll.backup": KindUnknown,
	}
	for name, want := range tests {
		assert.Equal(t, want, Classify(name), name)
	}
	assert.Equal(t, []string{".cs", ".dll", ".exe", ".vb"}, Extensions())
}

func TestIsGenerated(t *testing.T) {
	assert.True(t, IsGenerated("obj/Debug/App.g.cs"))
	assert.True(t, IsGenerated("Resources.G.VB"))
	assert.False(t, IsGenerated("Program.cs"))
	assert.False(t, IsGenerated("Config.gen.cs"))
	assert.False(t, IsGenerated("g.cs"))
}

func TestIsProjectFile(t *testing.T) {
	assert.True(t, IsProjectFile("src/Acme.csproj"))
	assert.True(t, IsProjectFile("Legacy.VBPROJ"))
	assert.False(t, IsProjectFile("Acme.sln"))
}

func TestDiscover_Directory(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/Orders/Orders.csproj":       `<Project><PropertyGroup><AssemblyName>Acme.Orders</AssemblyName></PropertyGroup></Project>`,
		"src/Orders/OrderService.cs":     "class A {}",
		"src/Orders/Models/Line.cs":      "class B {}",
		"src/Orders/Form.g.cs":           "class C {}",
		"src/Billing/Billing.vbproj":     `<Project><PropertyGroup><OutputType>Library</OutputType></PropertyGroup></Project>`,
		"src/Billing/Invoice.vb":         "Class D\nEnd Class",
		"src/Loose.cs":                   "class E {}",
		"bin/Acme.Orders.dll":            "MZ",
		"docs/readme.md":                 "# docs",
		".git/objects/ab/cdef.cs":        "not source",
		"src/Orders/obj/Temp/Ignored.cs": "class F {}",
	})

	res, err := Discover(context.Background(), root, Options{Exclude: []string{".git", "**/obj"}})
	require.NoError(t, err)
	assert.True(t, res.IsDir)
	assert.Equal(t, []string{
		"bin/Acme.Orders.dll",
		"src/Billing/Invoice.vb",
		"src/Loose.cs",
		"src/Orders/Models/Line.cs",
		"src/Orders/OrderService.cs",
	}, relPaths(res.Files))

	byPath := make(map[string]File)
	for i, f := range res.Files {
		assert.Equal(t, i, f.Index)
		byPath[f.RelPath] = f
	}
	assert.Equal(t, KindBinary, byPath["bin/Acme.Orders.dll"].Kind)
	assert.Empty(t, byPath["bin/Acme.Orders.dll"].Assembly)
	assert.Equal(t, "Billing", byPath["src/Billing/Invoice.vb"].Assembly)
	assert.Equal(t, "Acme.Orders", byPath["src/Orders/Models/Line.cs"].Assembly)
	assert.Equal(t, "Acme.Orders", byPath["src/Orders/OrderService.cs"].Assembly)
	assert.Empty(t, byPath["src/Loose.cs"].Assembly)
	assert.Equal(t, "OrderService.cs", byPath["src/Orders/OrderService.cs"].Name())
}

func TestDiscover_ExplicitProjects(t *testing.T) {
	root := writeTree(t, map[string]string{
		"App/App.csproj":   "<Project/>",
		"App/Main.cs":      "",
		"App/Shared/Io.cs": "",
	})
	res, err := Discover(context.Background(), root, Options{
		Projects: []Project{{Assembly: "Acme.Shared", Patterns: []string{"**/Shared/*.cs"}}},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
	assert.Equal(t, "App", res.Files[0].Assembly)
	assert.Equal(t, "Acme.Shared", res.Files[1].Assembly)
}

func TestDiscover_SingleFile(t *testing.T) {
	root := writeTree(t, map[string]string{"Program.cs": "class P {}", "notes.txt": "x", "App.g.cs": ""})

	res, err := Discover(context.Background(), filepath.Join(root, "Program.cs"), Options{})
	require.NoError(t, err)
	assert.False(t, res.IsDir)
	require.Len(t, res.Files, 1)
	assert.Equal(t, "Program.cs", res.Files[0].RelPath)
	assert.Equal(t, KindCSharp, res.Files[0].Kind)
	assert.Equal(t, root, res.Root)

	res, err = Discover(context.Background(), filepath.Join(root, "App.g.cs"), Options{})
	require.NoError(t, err)
	assert.Len(t, res.Files, 1, "an explicitly named generated file is still scanned")

	_, err = Discover(context.Background(), filepath.Join(root, "notes.txt"), Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDiscover_Errors(t *testing.T) {
	_, err := Discover(context.Background(), filepath.Join(t.TempDir(), "missing"), Options{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Discover(context.Background(), t.TempDir(), Options{Exclude: []string{"[unterminated"}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	root := writeTree(t, map[string]string{"a.cs": ""})
	_, err = Discover(ctx, root, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscover_EmptyDirectory(t *testing.T) {
	res, err := Discover(context.Background(), t.TempDir(), Options{})
	require.NoError(t, err)
	assert.NotNil(t, res.Files)
	assert.Empty(t, res.Files)
}

func TestProjectAssembly(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a/A.csproj": `<Project><PropertyGroup><AssemblyName>$(MSBuildProjectName).Core</AssemblyName></PropertyGroup></Project>`,
		"b/B.vbproj": `not xml <<<`,
	})
	assert.Equal(t, "A", projectAssembly(filepath.Join(root, "a", "A.csproj")))
	assert.Equal(t, "B", projectAssembly(filepath.Join(root, "b", "B.vbproj")))
	assert.Equal(t, "C", projectAssembly(filepath.Join(root, "c", "C.csproj")))
}
