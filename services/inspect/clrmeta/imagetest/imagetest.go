// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package imagetest writes small synthetic CLI images for tests.
//
// The images carry a PE32 header, a CLI header, ECMA-335 metadata with the
// tables the readers in this repository decode, and optionally a version
// resource. They contain no IL and cannot be executed.
//
// Types in signatures are written as strings:
//
//	System.Int32, int, string     primitives (runtime or C# names)
//	System.Collections.Generic.List`1<System.String>
//	T[]  T[,]  T&  T*             arrays, by-ref and pointers
//	!0  !!0                       type and method generic parameters
//	valuetype Acme.Point          force a value-type reference
package imagetest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Assembly describes the image to write.
type Assembly struct {
	Name        string
	Version     [4]uint16
	FileVersion [4]uint16 // zero for no version resource
	References  []string  // defaults to System.Runtime
	Types       []*Type
}

// Type is a TypeDef.
type Type struct {
	Namespace     string
	Name          string
	Flags         uint32
	Extends       string
	GenericParams []string
	Attributes    []string
	Nested        []*Type
	Methods       []*Method
	Fields        []*Field
	Properties    []*Property
	Events        []*Event
}

// Method is a MethodDef. A method without the static flag gets HASTHIS.
type Method struct {
	Name          string
	Flags         uint16
	Return        string
	Params        []Param
	GenericParams []string
	Attributes    []string
}

// Param is one method or indexer parameter.
type Param struct {
	Name string
	Type string
}

// Field is a field definition.
type Field struct {
	Name  string
	Flags uint16
	Type  string
}

// Property gets get_/set_ accessor methods with AccessorFlags.
type Property struct {
	Name          string
	Type          string
	Params        []Param
	Get, Set      bool
	AccessorFlags uint16
}

// Event gets add_/remove_ accessor methods with AccessorFlags.
type Event struct {
	Name          string
	Type          string
	AccessorFlags uint16
}

// Flag values used by tests.
const (
	TypePublic       uint32 = 0x01
	TypeNestedPublic uint32 = 0x02
	TypeNestedPriv   uint32 = 0x03
	TypeInterface    uint32 = 0x20 | 0x80
	TypeAbstract     uint32 = 0x80
	TypeSealed       uint32 = 0x100
	TypeStatic       uint32 = TypeAbstract | TypeSealed

	MethodPrivate     uint16 = 0x0001
	MethodAssembly    uint16 = 0x0003
	MethodFamily      uint16 = 0x0004
	MethodPublic      uint16 = 0x0006
	MethodStatic      uint16 = 0x0010
	MethodVirtual     uint16 = 0x0040
	MethodHideBySig   uint16 = 0x0080
	MethodAbstract    uint16 = 0x0400
	MethodSpecialName uint16 = 0x0800
	MethodRTSpecial   uint16 = 0x1000

	FieldPrivate   uint16 = 0x0001
	FieldPublic    uint16 = 0x0006
	FieldStatic    uint16 = 0x0010
	FieldLiteral   uint16 = 0x0040
	FieldRTSpecial uint16 = 0x0400 | 0x0200
)

// PublicMethod is the flag set of an ordinary public instance method.
const PublicMethod = MethodPublic | MethodHideBySig

// Ctor returns a public instance constructor.
func Ctor(params ...Param) *Method {
	return &Method{
		Name:   ".ctor",
		Flags:  MethodPublic | MethodHideBySig | MethodSpecialName | MethodRTSpecial,
		Return: "void",
		Params: params,
	}
}

// WriteFile writes the image to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name string, a *Assembly) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Bytes(a), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

// Bytes renders the image.
func Bytes(a *Assembly) []byte {
	w := newWriter(a)
	md := w.metadata()
	return buildPE(md, a.FileVersion)
}

const (
	tModule          = 0x00
	tTypeRef         = 0x01
	tTypeDef         = 0x02
	tField           = 0x04
	tMethodDef       = 0x06
	tParam           = 0x08
	tMemberRef       = 0x0A
	tCustomAttribute = 0x0C
	tEventMap        = 0x12
	tEvent           = 0x14
	tPropertyMap     = 0x15
	tProperty        = 0x17
	tMethodSemantics = 0x18
	tTypeSpec        = 0x1B
	tAssembly        = 0x20
	tAssemblyRef     = 0x23
	tNestedClass     = 0x29
	tGenericParam    = 0x2A
)

// Column widths with wide heaps and small table indexes.
var widths = map[int][]int{
	tModule:          {2, 4, 4, 4, 4},
	tTypeRef:         {2, 4, 4},
	tTypeDef:         {4, 4, 4, 2, 2, 2},
	tField:           {2, 4, 4},
	tMethodDef:       {4, 2, 2, 4, 4, 2},
	tParam:           {2, 2, 4},
	tMemberRef:       {2, 4, 4},
	tCustomAttribute: {2, 2, 4},
	tEventMap:        {2, 2},
	tEvent:           {2, 4, 2},
	tPropertyMap:     {2, 2},
	tProperty:        {2, 4, 4},
	tMethodSemantics: {2, 2, 2},
	tTypeSpec:        {4},
	tAssembly:        {4, 2, 2, 2, 2, 4, 4, 4, 4},
	tAssemblyRef:     {2, 2, 2, 2, 4, 4, 4, 4, 4},
	tNestedClass:     {2, 2},
	tGenericParam:    {2, 2, 2, 4},
}

type writer struct {
	a       *Assembly
	strings bytes.Buffer
	strIdx  map[string]uint32
	blobs   bytes.Buffer
	rows    map[int][][]uint32

	typeDefs   map[string]int // full name -> row
	valueTypes map[string]bool
	typeRefs   map[string]int
	attrCtors  map[string]int // attribute type -> MemberRef row
}

func newWriter(a *Assembly) *writer {
	w := &writer{
		a:          a,
		strIdx:     map[string]uint32{},
		rows:       map[int][][]uint32{},
		typeDefs:   map[string]int{},
		valueTypes: map[string]bool{},
		typeRefs:   map[string]int{},
		attrCtors:  map[string]int{},
	}
	w.strings.WriteByte(0)
	w.blobs.WriteByte(0)
	return w
}

func (w *writer) str(s string) uint32 {
	if s == "" {
		return 0
	}
	if i, ok := w.strIdx[s]; ok {
		return i
	}
	i := uint32(w.strings.Len())
	w.strings.WriteString(s)
	w.strings.WriteByte(0)
	w.strIdx[s] = i
	return i
}

func (w *writer) blob(b []byte) uint32 {
	i := uint32(w.blobs.Len())
	w.blobs.Write(compress(uint32(len(b))))
	w.blobs.Write(b)
	return i
}

func (w *writer) add(tab int, cols ...uint32) int {
	w.rows[tab] = append(w.rows[tab], cols)
	return len(w.rows[tab])
}

type flatType struct {
	t     *Type
	outer *flatType
	row   int
}

func (f *flatType) fullName() string {
	if f.outer != nil {
		return f.outer.fullName() + "+" + f.t.Name
	}
	if f.t.Namespace == "" {
		return f.t.Name
	}
	return f.t.Namespace + "." + f.t.Name
}

func (w *writer) metadata() []byte {
	a := w.a
	refs := a.References
	if len(refs) == 0 {
		refs = []string{"System.Runtime"}
	}
	for _, r := range refs {
		w.add(tAssemblyRef, 4, 0, 0, 0, 0, 0, w.str(r), 0, 0)
	}
	w.add(tModule, 0, w.str(a.Name+".dll"), 1, 0, 0)
	w.add(tAssembly, 0x8004, uint32(a.Version[0]), uint32(a.Version[1]), uint32(a.Version[2]), uint32(a.Version[3]), 0, 0, w.str(a.Name), 0)

	// Rows for <Module> then every type depth-first.
	var flat []*flatType
	var walk func(ts []*Type, outer *flatType)
	walk = func(ts []*Type, outer *flatType) {
		for _, t := range ts {
			f := &flatType{t: t, outer: outer, row: len(flat) + 2}
			flat = append(flat, f)
			w.typeDefs[f.fullName()] = f.row
			if t.Extends == "System.ValueType" || t.Extends == "System.Enum" {
				w.valueTypes[f.fullName()] = true
			}
			walk(t.Nested, f)
		}
	}
	walk(a.Types, nil)

	nextField, nextMethod, nextParam := 1, 1, 1
	w.add(tTypeDef, 0, w.str("<Module>"), 0, 0, uint32(nextField), uint32(nextMethod))

	type semantic struct{ sem, method, assoc uint32 }
	var sems []semantic
	var nested [][2]uint32
	var genericParams [][4]uint32
	type attr struct {
		parent uint32
		name   string
	}
	var attrs []attr

	for _, f := range flat {
		t := f.t
		ns := t.Namespace
		if f.outer != nil {
			ns = ""
		}
		var extends uint32
		if t.Extends != "" {
			extends = w.typeDefOrRef(t.Extends)
		}
		w.add(tTypeDef, t.Flags, w.str(t.Name), w.str(ns), extends, uint32(nextField), uint32(nextMethod))
		if f.outer != nil {
			nested = append(nested, [2]uint32{uint32(f.row), uint32(f.outer.row)})
		}
		for i, gp := range t.GenericParams {
			genericParams = append(genericParams, [4]uint32{uint32(i), 0, uint32(f.row) << 1, w.str(gp)})
		}
		for _, name := range t.Attributes {
			attrs = append(attrs, attr{uint32(f.row)<<5 | 3, name})
		}

		for _, fd := range t.Fields {
			sig := []byte{0x06}
			sig = w.encodeType(sig, fd.Type)
			w.add(tField, uint32(fd.Flags), w.str(fd.Name), w.blob(sig))
			nextField++
		}

		addMethod := func(m *Method) int {
			conv := byte(0x20)
			if m.Flags&MethodStatic != 0 {
				conv = 0
			}
			sig := []byte{conv}
			if len(m.GenericParams) > 0 {
				sig[0] |= 0x10
				sig = append(sig, compress(uint32(len(m.GenericParams)))...)
			}
			sig = append(sig, compress(uint32(len(m.Params)))...)
			sig = w.encodeType(sig, m.Return)
			for _, p := range m.Params {
				sig = w.encodeType(sig, p.Type)
			}
			row := w.add(tMethodDef, 0, 0, uint32(m.Flags), w.str(m.Name), w.blob(sig), uint32(nextParam))
			for i, p := range m.Params {
				w.add(tParam, 0, uint32(i+1), w.str(p.Name))
				nextParam++
			}
			for i, gp := range m.GenericParams {
				genericParams = append(genericParams, [4]uint32{uint32(i), 0, uint32(row)<<1 | 1, w.str(gp)})
			}
			for _, name := range m.Attributes {
				attrs = append(attrs, attr{uint32(row) << 5, name})
			}
			nextMethod++
			return row
		}
		for _, m := range t.Methods {
			addMethod(m)
		}

		if len(t.Properties) > 0 {
			w.add(tPropertyMap, uint32(f.row), uint32(len(w.rows[tProperty])+1))
			for _, p := range t.Properties {
				conv := byte(0x08)
				if p.AccessorFlags&MethodStatic == 0 {
					conv |= 0x20
				}
				sig := append([]byte{conv}, compress(uint32(len(p.Params)))...)
				sig = w.encodeType(sig, p.Type)
				for _, pp := range p.Params {
					sig = w.encodeType(sig, pp.Type)
				}
				prop := w.add(tProperty, 0, w.str(p.Name), w.blob(sig))
				flags := p.AccessorFlags | MethodSpecialName | MethodHideBySig
				if p.Get {
					m := addMethod(&Method{Name: "get_" + p.Name, Flags: flags, Return: p.Type, Params: p.Params})
					sems = append(sems, semantic{0x02, uint32(m), uint32(prop)<<1 | 1})
				}
				if p.Set {
					params := append(append([]Param{}, p.Params...), Param{Name: "value", Type: p.Type})
					m := addMethod(&Method{Name: "set_" + p.Name, Flags: flags, Return: "void", Params: params})
					sems = append(sems, semantic{0x01, uint32(m), uint32(prop)<<1 | 1})
				}
			}
		}
		if len(t.Events) > 0 {
			w.add(tEventMap, uint32(f.row), uint32(len(w.rows[tEvent])+1))
			for _, e := range t.Events {
				ev := w.add(tEvent, 0, w.str(e.Name), w.typeDefOrRef(e.Type))
				flags := e.AccessorFlags | MethodSpecialName | MethodHideBySig
				params := []Param{{Name: "value", Type: e.Type}}
				add := addMethod(&Method{Name: "add_" + e.Name, Flags: flags, Return: "void", Params: params})
				rm := addMethod(&Method{Name: "remove_" + e.Name, Flags: flags, Return: "void", Params: params})
				sems = append(sems, semantic{0x08, uint32(add), uint32(ev) << 1}, semantic{0x10, uint32(rm), uint32(ev) << 1})
			}
		}
	}

	for _, s := range sems {
		w.add(tMethodSemantics, s.sem, s.method, s.assoc)
	}
	for _, n := range nested {
		w.add(tNestedClass, n[0], n[1])
	}
	for _, g := range genericParams {
		w.add(tGenericParam, g[0], g[1], g[2], g[3])
	}
	for _, at := range attrs {
		w.add(tCustomAttribute, at.parent, uint32(w.attributeCtor(at.name))<<3|3, w.blob([]byte{1, 0, 0, 0}))
	}

	return w.root()
}

// attributeCtor returns the MemberRef row of the attribute's parameterless
// constructor.
func (w *writer) attributeCtor(name string) int {
	if row, ok := w.attrCtors[name]; ok {
		return row
	}
	var parent uint32
	if row, ok := w.typeDefs[name]; ok {
		parent = uint32(row) << 3
	} else {
		parent = uint32(w.typeRef(name))<<3 | 1
	}
	row := w.add(tMemberRef, parent, w.str(".ctor"), w.blob([]byte{0x20, 0, 0x01}))
	w.attrCtors[name] = row
	return row
}

func (w *writer) typeRef(name string) int {
	if row, ok := w.typeRefs[name]; ok {
		return row
	}
	var scope, ns, simple uint32
	if i := strings.LastIndexByte(name, '+'); i >= 0 {
		scope = uint32(w.typeRef(name[:i]))<<2 | 3
		simple = w.str(name[i+1:])
	} else {
		scope = 1<<2 | 2
		if j := strings.LastIndexByte(name, '.'); j >= 0 {
			ns, simple = w.str(name[:j]), w.str(name[j+1:])
		} else {
			simple = w.str(name)
		}
	}
	row := w.add(tTypeRef, scope, simple, ns)
	w.typeRefs[name] = row
	return row
}

// typeDefOrRef returns a coded TypeDefOrRef index for a plain or generic
// type name; generic instantiations become TypeSpecs.
func (w *writer) typeDefOrRef(name string) uint32 {
	if strings.ContainsAny(name, "<[!&*") {
		row := w.add(tTypeSpec, w.blob(w.encodeType(nil, name)))
		return uint32(row)<<2 | 2
	}
	name = strings.TrimPrefix(name, "valuetype ")
	if row, ok := w.typeDefs[name]; ok {
		return uint32(row) << 2
	}
	return uint32(w.typeRef(name))<<2 | 1
}

var primitives = map[string]byte{
	"void": 0x01, "bool": 0x02, "char": 0x03, "sbyte": 0x04, "byte": 0x05,
	"short": 0x06, "ushort": 0x07, "int": 0x08, "uint": 0x09, "long": 0x0A,
	"ulong": 0x0B, "float": 0x0C, "double": 0x0D, "string": 0x0E,
	"nint": 0x18, "nuint": 0x19, "object": 0x1C,

	"System.Void": 0x01, "System.Boolean": 0x02, "System.Char": 0x03,
	"System.SByte": 0x04, "System.Byte": 0x05, "System.Int16": 0x06,
	"System.UInt16": 0x07, "System.Int32": 0x08, "System.UInt32": 0x09,
	"System.Int64": 0x0A, "System.UInt64": 0x0B, "System.Single": 0x0C,
	"System.Double": 0x0D, "System.String": 0x0E, "System.IntPtr": 0x18,
	"System.UIntPtr": 0x19, "System.Object": 0x1C,
}

var externalValueTypes = map[string]bool{
	"System.DateTime": true, "System.Decimal": true, "System.Guid": true,
	"System.TimeSpan": true, "System.Nullable`1": true,
	"System.Threading.CancellationToken": true,
}

func (w *writer) isValueType(name string) bool {
	return w.valueTypes[name] || externalValueTypes[name]
}

// encodeType appends the signature encoding of s to sig.
func (w *writer) encodeType(sig []byte, s string) []byte {
	s = strings.TrimSpace(s)
	forceVT := strings.HasPrefix(s, "valuetype ")
	s = strings.TrimPrefix(s, "valuetype ")
	switch {
	case strings.HasSuffix(s, "&"):
		return w.encodeType(append(sig, 0x10), s[:len(s)-1])
	case strings.HasSuffix(s, "*"):
		return w.encodeType(append(sig, 0x0F), s[:len(s)-1])
	case strings.HasSuffix(s, "]"):
		open := strings.LastIndexByte(s, '[')
		rank := strings.Count(s[open:], ",") + 1
		if rank == 1 {
			return w.encodeType(append(sig, 0x1D), s[:open])
		}
		sig = w.encodeType(append(sig, 0x14), s[:open])
		sig = append(sig, compress(uint32(rank))...)
		return append(sig, 0, 0)
	case strings.HasPrefix(s, "!!"):
		n, _ := strconv.Atoi(s[2:])
		return append(append(sig, 0x1E), compress(uint32(n))...)
	case strings.HasPrefix(s, "!"):
		n, _ := strconv.Atoi(s[1:])
		return append(append(sig, 0x13), compress(uint32(n))...)
	}
	if p, ok := primitives[s]; ok {
		return append(sig, p)
	}
	if i := strings.IndexByte(s, '<'); i >= 0 && strings.HasSuffix(s, ">") {
		name := s[:i]
		args := splitArgs(s[i+1 : len(s)-1])
		kind := byte(0x12)
		if forceVT || w.isValueType(name) {
			kind = 0x11
		}
		sig = append(sig, 0x15, kind)
		sig = append(sig, compress(w.typeDefOrRef(name))...)
		sig = append(sig, compress(uint32(len(args)))...)
		for _, a := range args {
			sig = w.encodeType(sig, a)
		}
		return sig
	}
	kind := byte(0x12)
	if forceVT || w.isValueType(s) {
		kind = 0x11
	}
	sig = append(sig, kind)
	return append(sig, compress(w.typeDefOrRef(s))...)
}

func splitArgs(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func compress(v uint32) []byte {
	switch {
	case v < 0x80:
		return []byte{byte(v)}
	case v < 0x4000:
		return []byte{byte(v>>8) | 0x80, byte(v)}
	default:
		return []byte{byte(v>>24) | 0xC0, byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// root assembles the metadata root with its five streams.
func (w *writer) root() []byte {
	var tbl bytes.Buffer
	le := binary.LittleEndian
	var valid uint64
	for tab := range w.rows {
		valid |= 1 << uint(tab)
	}
	binary.Write(&tbl, le, uint32(0))
	tbl.Write([]byte{2, 0, 0x07, 1})
	binary.Write(&tbl, le, valid)
	binary.Write(&tbl, le, uint64(0))
	for tab := 0; tab < 64; tab++ {
		if valid&(1<<uint(tab)) != 0 {
			binary.Write(&tbl, le, uint32(len(w.rows[tab])))
		}
	}
	for tab := 0; tab < 64; tab++ {
		for _, row := range w.rows[tab] {
			for c, v := range row {
				switch widths[tab][c] {
				case 2:
					binary.Write(&tbl, le, uint16(v))
				case 4:
					binary.Write(&tbl, le, v)
				default:
					panic(fmt.Sprintf("imagetest: width for table 0x%02x col %d", tab, c))
				}
			}
		}
	}

	streams := []struct {
		name string
		data []byte
	}{
		{"#~", tbl.Bytes()},
		{"#Strings", w.strings.Bytes()},
		{"#US", []byte{0}},
		{"#GUID", bytes.Repeat([]byte{0xAB}, 16)},
		{"#Blob", w.blobs.Bytes()},
	}

	version := pad4([]byte("v4.0.30319\x00"))
	headerSize := 16 + len(version) + 4
	for _, s := range streams {
		headerSize += 8 + len(pad4([]byte(s.name+"\x00")))
	}

	var out bytes.Buffer
	binary.Write(&out, le, uint32(0x424A5342))
	binary.Write(&out, le, uint16(1))
	binary.Write(&out, le, uint16(1))
	binary.Write(&out, le, uint32(0))
	binary.Write(&out, le, uint32(len(version)))
	out.Write(version)
	binary.Write(&out, le, uint16(0))
	binary.Write(&out, le, uint16(len(streams)))
	offset := headerSize
	for _, s := range streams {
		size := len(pad4(s.data))
		binary.Write(&out, le, uint32(offset))
		binary.Write(&out, le, uint32(size))
		out.Write(pad4([]byte(s.name + "\x00")))
		offset += size
	}
	for _, s := range streams {
		out.Write(pad4(s.data))
	}
	return out.Bytes()
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}
