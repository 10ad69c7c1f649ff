// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discover finds the files an inspection request covers and groups
// source files into the assemblies they compile to.
package discover

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

var (
	// ErrNotFound is returned when the requested path does not exist.
	ErrNotFound = errors.New("path not found")

	// ErrInvalidInput is returned for a single file with an unrecognized
	// extension and for invalid discovery options.
	ErrInvalidInput = errors.New("invalid input")
)

// Kind is the kind of a recognized file.
type Kind string

const (
	KindUnknown Kind = ""
	KindBinary  Kind = "binary"
	KindCSharp  Kind = "csharp"
	KindVB      Kind = "vb"
)

// IsSource reports whether the kind is a source language.
func (k Kind) IsSource() bool {
	return k == KindCSharp || k == KindVB
}

var kindsByExt = map[string]Kind{
	".dll": KindBinary,
	".exe": KindBinary,
	".cs":  KindCSharp,
	".vb":  KindVB,
}

var projectExts = map[string]bool{
	".csproj": true,
	".vbproj": true,
}

// Classify maps a file name to its kind by extension, case-insensitively.
func Classify(name string) Kind {
	return kindsByExt[strings.ToLower(filepath.Ext(name))]
}

// IsProjectFile reports whether name is a .csproj or .vbproj file.
func IsProjectFile(name string) bool {
	return projectExts[strings.ToLower(filepath.Ext(name))]
}

// Extensions returns the recognized extensions in sorted order.
func Extensions() []string {
	out := make([]string, 0, len(kindsByExt))
	for ext := range kindsByExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// IsGenerated reports whether name follows the generated-file convention
// Name.g.<ext> (Form1.g.cs, Resources.g.vb).
func IsGenerated(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	ext := filepath.Ext(base)
	return ext != "" && strings.HasSuffix(strings.TrimSuffix(base, ext), ".g")
}

// File is one discovered file.
type File struct {
	// Path is the path on disk.
	Path string

	// RelPath is the slash-separated path relative to the scan root. For a
	// single-file request it is the file's base name.
	RelPath string

	Kind Kind

	// Assembly is the assembly the file belongs to: the project grouping for
	// source files, empty when unknown and for binaries.
	Assembly string

	// Index is the discovery order.
	Index int
}

// Name returns the base name of the file.
func (f File) Name() string {
	return path.Base(f.RelPath)
}

// Project is an explicit source grouping: source files whose relative path
// matches any pattern belong to Assembly.
type Project struct {
	Assembly string   `yaml:"assembly" json:"assembly" validate:"required"`
	Patterns []string `yaml:"patterns" json:"patterns" validate:"required,min=1"`
}

// Options configures discovery.
type Options struct {
	// Exclude holds glob patterns matched against relative paths. A matching
	// directory is not descended into.
	Exclude []string

	// Projects override project-file grouping; the first match wins.
	Projects []Project
}

// Validate reports the first pattern that does not compile.
func (o Options) Validate() error {
	if _, err := compileGlobs(o.Exclude); err != nil {
		return err
	}
	_, err := compileProjects(o.Projects)
	return err
}

// Result is the outcome of a discovery.
type Result struct {
	// Root is the scanned directory, or the file's directory for a
	// single-file request.
	Root string

	// IsDir is set when the request named a directory.
	IsDir bool

	// Files are in discovery order: lexical walk order.
	Files []File
}

type projectDir struct {
	dir      string
	assembly string
}

type projectGlob struct {
	assembly string
	globs    []glob.Glob
}

// Discover resolves path into the files to inspect.
//
// Description:
//
//	A directory is walked recursively in lexical order. Files with a
//	recognized extension are returned unless generated (Name.g.<ext>) or
//	excluded. Source files are grouped under the deepest enclosing
//	.csproj/.vbproj, named by its AssemblyName element or base name, unless
//	an explicit project pattern matches first. A single file must have a
//	recognized extension.
//
// Outputs:
//
//	*Result - Never nil when error is nil. An empty directory yields no files.
//	error - ErrNotFound, ErrInvalidInput, or a walk failure.
//
// Thread Safety:
//
//	Safe for concurrent use.
func Discover(ctx context.Context, root string, opts Options) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}

	projects, err := compileProjects(opts.Projects)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		kind := Classify(root)
		if kind == KindUnknown {
			return nil, fmt.Errorf("%w: unrecognized extension %q", ErrInvalidInput, filepath.Ext(root))
		}
		f := File{Path: root, RelPath: filepath.Base(root), Kind: kind}
		if kind.IsSource() {
			f.Assembly = matchProject(projects, f.RelPath)
		}
		return &Result{Root: filepath.Dir(root), Files: []File{f}}, nil
	}

	exclude, err := compileGlobs(opts.Exclude)
	if err != nil {
		return nil, err
	}

	res := &Result{Root: root, IsDir: true, Files: []File{}}
	var projectDirs []projectDir
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if os.IsPermission(walkErr) {
				return nil
			}
			return walkErr
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if matchAny(exclude, rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if IsProjectFile(p) {
			projectDirs = append(projectDirs, projectDir{dir: path.Dir(rel), assembly: projectAssembly(p)})
			return nil
		}
		kind := Classify(p)
		if kind == KindUnknown || IsGenerated(p) {
			return nil
		}
		res.Files = append(res.Files, File{Path: p, RelPath: rel, Kind: kind})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	for i := range res.Files {
		f := &res.Files[i]
		f.Index = i
		if !f.Kind.IsSource() {
			continue
		}
		if a := matchProject(projects, f.RelPath); a != "" {
			f.Assembly = a
			continue
		}
		f.Assembly = enclosingProject(projectDirs, f.RelPath)
	}
	return res, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidInput, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func compileProjects(projects []Project) ([]projectGlob, error) {
	out := make([]projectGlob, 0, len(projects))
	for _, p := range projects {
		globs, err := compileGlobs(p.Patterns)
		if err != nil {
			return nil, err
		}
		out = append(out, projectGlob{assembly: p.Assembly, globs: globs})
	}
	return out, nil
}

func matchAny(globs []glob.Glob, rel string) bool {
	for _, g := range globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func matchProject(projects []projectGlob, rel string) string {
	for _, p := range projects {
		if matchAny(p.globs, rel) {
			return p.assembly
		}
	}
	return ""
}

// enclosingProject returns the assembly of the deepest project directory
// containing rel. Ties at one depth go to the first project found.
func enclosingProject(dirs []projectDir, rel string) string {
	best, bestLen := "", -1
	for _, d := range dirs {
		if d.dir != "." && !strings.HasPrefix(rel, d.dir+"/") {
			continue
		}
		n := len(d.dir)
		if d.dir == "." {
			n = 0
		}
		if n > bestLen {
			best, bestLen = d.assembly, n
		}
	}
	return best
}

type projectXML struct {
	PropertyGroups []struct {
		AssemblyName string `xml:"AssemblyName"`
	} `xml:"PropertyGroup"`
}

// projectAssembly returns the AssemblyName of an MSBuild project file, or
// the file's base name when the element is absent or the file is unreadable.
func projectAssembly(p string) string {
	name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	data, err := os.ReadFile(p)
	if err != nil {
		return name
	}
	var proj projectXML
	if err := xml.Unmarshal(data, &proj); err != nil {
		return name
	}
	for _, g := range proj.PropertyGroups {
		if a := strings.TrimSpace(g.AssemblyName); a != "" && !strings.Contains(a, "$(") {
			return a
		}
	}
	return name
}
