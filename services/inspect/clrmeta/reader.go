// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clrmeta

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	cliHeaderDirectory = 14
	resourceDirectory  = 2
	metadataSignature  = 0x424A5342
	fixedFileInfoMagic = 0xFEEF04BD
)

// Open reads the module at path.
//
// Outputs:
//
//	*Module - The decoded module.
//	error - ErrNotCLIImage or ErrCorruptMetadata (wrapped), or an I/O error.
func Open(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, filepath.Base(path))
}

// Read decodes a module from r. fileName is recorded as Module.FileName.
func Read(r io.ReaderAt, fileName string) (mod *Module, err error) {
	defer func() {
		// Bounds are checked throughout; this guards against corrupt images
		// that slip past those checks.
		if p := recover(); p != nil {
			mod, err = nil, fmt.Errorf("%w: %v", ErrCorruptMetadata, p)
		}
	}()

	img, err := pe.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCLIImage, err)
	}
	defer img.Close()

	cliDir, ok := dataDirectory(img, cliHeaderDirectory)
	if !ok || cliDir.VirtualAddress == 0 {
		return nil, fmt.Errorf("%w: no CLI header", ErrNotCLIImage)
	}
	cli, err := readRVA(img, cliDir.VirtualAddress, 72)
	if err != nil {
		return nil, fmt.Errorf("%w: CLI header: %v", ErrCorruptMetadata, err)
	}
	mdRVA := binary.LittleEndian.Uint32(cli[8:])
	mdSize := binary.LittleEndian.Uint32(cli[12:])
	md, err := readRVA(img, mdRVA, mdSize)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrCorruptMetadata, err)
	}

	root, err := parseMetadataRoot(md)
	if err != nil {
		return nil, err
	}
	ts, err := parseTables(root.streams["#~"], root.streams["#Strings"], root.streams["#Blob"])
	if err != nil {
		return nil, err
	}

	mod = &Module{FileName: fileName, RuntimeVersion: root.version}
	b := &modelBuilder{ts: ts, mod: mod}
	if err := b.build(); err != nil {
		return nil, err
	}
	mod.FileVersion = fileVersion(img)
	return mod, nil
}

func dataDirectory(img *pe.File, i int) (pe.DataDirectory, bool) {
	switch oh := img.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		if int(oh.NumberOfRvaAndSizes) > i {
			return oh.DataDirectory[i], true
		}
	case *pe.OptionalHeader64:
		if int(oh.NumberOfRvaAndSizes) > i {
			return oh.DataDirectory[i], true
		}
	}
	return pe.DataDirectory{}, false
}

func sectionFor(img *pe.File, rva uint32) *pe.Section {
	for _, s := range img.Sections {
		size := s.VirtualSize
		if s.Size > size {
			size = s.Size
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+size {
			return s
		}
	}
	return nil
}

func readRVA(img *pe.File, rva, size uint32) ([]byte, error) {
	s := sectionFor(img, rva)
	if s == nil {
		return nil, fmt.Errorf("rva 0x%x not mapped", rva)
	}
	off := rva - s.VirtualAddress
	if uint64(off)+uint64(size) > uint64(s.Size) {
		return nil, fmt.Errorf("rva 0x%x+%d beyond section %s", rva, size, s.Name)
	}
	buf := make([]byte, size)
	if _, err := s.ReadAt(buf, int64(off)); err != nil {
		return nil, err
	}
	return buf, nil
}

type metadataRoot struct {
	version string
	streams map[string][]byte
}

// parseMetadataRoot reads the metadata root and stream headers (II.24.2.1).
func parseMetadataRoot(md []byte) (*metadataRoot, error) {
	if len(md) < 20 || binary.LittleEndian.Uint32(md) != metadataSignature {
		return nil, fmt.Errorf("%w: bad metadata signature", ErrCorruptMetadata)
	}
	vlen := int(binary.LittleEndian.Uint32(md[12:]))
	pos := 16 + vlen
	if pos+4 > len(md) {
		return nil, fmt.Errorf("%w: metadata root truncated", ErrCorruptMetadata)
	}
	root := &metadataRoot{
		version: string(bytes.TrimRight(md[16:16+vlen], "\x00")),
		streams: make(map[string][]byte),
	}
	count := int(binary.LittleEndian.Uint16(md[pos+2:]))
	pos += 4
	for i := 0; i < count; i++ {
		if pos+8 > len(md) {
			return nil, fmt.Errorf("%w: stream header truncated", ErrCorruptMetadata)
		}
		off := int(binary.LittleEndian.Uint32(md[pos:]))
		size := int(binary.LittleEndian.Uint32(md[pos+4:]))
		pos += 8
		end := bytes.IndexByte(md[pos:], 0)
		if end < 0 {
			return nil, fmt.Errorf("%w: stream name unterminated", ErrCorruptMetadata)
		}
		name := string(md[pos : pos+end])
		pos += (end + 4) &^ 3
		if off+size > len(md) {
			return nil, fmt.Errorf("%w: stream %s out of range", ErrCorruptMetadata, name)
		}
		if name == "#-" {
			name = "#~"
		}
		root.streams[name] = md[off : off+size]
	}
	if root.streams["#~"] == nil {
		return nil, fmt.Errorf("%w: no table stream", ErrCorruptMetadata)
	}
	return root, nil
}

// fileVersion scans the resource section for a VS_FIXEDFILEINFO block.
func fileVersion(img *pe.File) string {
	dir, ok := dataDirectory(img, resourceDirectory)
	if !ok || dir.VirtualAddress == 0 || dir.Size == 0 {
		return ""
	}
	data, err := readRVA(img, dir.VirtualAddress, dir.Size)
	if err != nil {
		return ""
	}
	var magic [4]byte
	binary.LittleEndian.PutUint32(magic[:], fixedFileInfoMagic)
	i := bytes.Index(data, magic[:])
	if i < 0 || i+16 > len(data) {
		return ""
	}
	ms := binary.LittleEndian.Uint32(data[i+8:])
	ls := binary.LittleEndian.Uint32(data[i+12:])
	return fmt.Sprintf("%d.%d.%d.%d", ms>>16, ms&0xFFFF, ls>>16, ls&0xFFFF)
}

// modelBuilder turns decoded tables into the Module object model.
type modelBuilder struct {
	ts  *tables
	mod *Module

	types       []*TypeDef   // by TypeDef row-1
	methods     []*MethodDef // by MethodDef row-1
	methodOwner []*TypeDef
	fields      []*FieldDef
	properties  []*PropertyDef
	events      []*EventDef

	pendingMethodParams map[int][]string
}

func token(tab, row int) uint32 {
	return uint32(tab)<<24 | uint32(row)
}

func (b *modelBuilder) build() error {
	ts := b.ts
	if ts.t[tabModule].rows > 0 {
		b.mod.Name = ts.str(ts.t[tabModule].get(1, 1))
	}
	if a := &ts.t[tabAssembly]; a.rows > 0 {
		b.mod.AssemblyName = ts.str(a.get(1, 7))
		b.mod.AssemblyVersion = fmt.Sprintf("%d.%d.%d.%d", a.get(1, 1), a.get(1, 2), a.get(1, 3), a.get(1, 4))
	}
	for row := 1; row <= ts.t[tabAssemblyRef].rows; row++ {
		b.mod.AssemblyRefs = append(b.mod.AssemblyRefs, ts.str(ts.t[tabAssemblyRef].get(row, 6)))
	}

	b.readTypeRefs()
	b.readTypes()
	b.readNesting()
	b.readExtends()
	b.readGenericParams()
	if err := b.readMethods(); err != nil {
		return err
	}
	if err := b.readFields(); err != nil {
		return err
	}
	if err := b.readProperties(); err != nil {
		return err
	}
	b.readEvents()
	b.readSemantics()
	b.readCustomAttributes()
	b.nameSignatureParams()

	for _, t := range b.types {
		if t.Name == "<Module>" {
			continue
		}
		b.mod.Types = append(b.mod.Types, t)
	}
	return nil
}

func (b *modelBuilder) readTypes() {
	td := &b.ts.t[tabTypeDef]
	b.types = make([]*TypeDef, td.rows)
	for row := 1; row <= td.rows; row++ {
		b.types[row-1] = &TypeDef{
			Token:     token(tabTypeDef, row),
			Flags:     TypeAttributes(td.get(row, 0)),
			Name:      b.ts.str(td.get(row, 1)),
			Namespace: b.ts.str(td.get(row, 2)),
		}
	}
}

func (b *modelBuilder) readTypeRefs() {
	tr := &b.ts.t[tabTypeRef]
	for row := 1; row <= tr.rows; row++ {
		name := b.typeRefName(row, 0)
		if name == "" {
			continue
		}
		b.mod.TypeRefs = append(b.mod.TypeRefs, TypeRef{
			FullName: name,
			Assembly: b.typeRefAssembly(row, 0),
		})
	}
}

// typeRefAssembly follows nested TypeRef scopes out to the AssemblyRef.
func (b *modelBuilder) typeRefAssembly(row, depth int) string {
	tr := &b.ts.t[tabTypeRef]
	if row < 1 || row > tr.rows || depth > maxSigDepth {
		return ""
	}
	scopeTab, scopeRow := decodeCoded(ciResolutionScope, tr.get(row, 0))
	switch scopeTab {
	case tabTypeRef:
		return b.typeRefAssembly(scopeRow, depth+1)
	case tabAssemblyRef:
		if ar := &b.ts.t[tabAssemblyRef]; scopeRow >= 1 && scopeRow <= ar.rows {
			return b.ts.str(ar.get(scopeRow, 6))
		}
	}
	return ""
}

// readExtends runs after nesting is known so TypeDef base names are full.
func (b *modelBuilder) readExtends() {
	td := &b.ts.t[tabTypeDef]
	for row := 1; row <= td.rows; row++ {
		if ext := td.get(row, 3); ext != 0 {
			tab, r := decodeCoded(ciTypeDefOrRef, ext)
			if tab == tabTypeSpec {
				if spec, err := (&sigReader{b: b.typeSpec(r), res: b}).typ(); err == nil {
					b.types[row-1].Extends = spec.FullName()
				}
				continue
			}
			b.types[row-1].Extends, _ = b.typeName(tab, r)
		}
	}
}

func (b *modelBuilder) readNesting() {
	nc := &b.ts.t[tabNestedClass]
	for row := 1; row <= nc.rows; row++ {
		nested, enclosing := int(nc.get(row, 0)), int(nc.get(row, 1))
		if nested >= 1 && nested <= len(b.types) && enclosing >= 1 && enclosing <= len(b.types) && nested != enclosing {
			b.types[nested-1].Enclosing = b.types[enclosing-1]
		}
	}
}

func (b *modelBuilder) readGenericParams() {
	gp := &b.ts.t[tabGenericParam]
	type entry struct {
		number int
		name   string
	}
	typeParams := make(map[int][]entry)
	methodParams := make(map[int][]entry)
	for row := 1; row <= gp.rows; row++ {
		e := entry{number: int(gp.get(row, 0)), name: b.ts.str(gp.get(row, 3))}
		tab, owner := decodeCoded(ciTypeOrMethodDef, gp.get(row, 2))
		switch tab {
		case tabTypeDef:
			typeParams[owner] = append(typeParams[owner], e)
		case tabMethodDef:
			methodParams[owner] = append(methodParams[owner], e)
		}
	}
	names := func(es []entry) []string {
		sort.Slice(es, func(i, j int) bool { return es[i].number < es[j].number })
		out := make([]string, len(es))
		for i, e := range es {
			out[i] = e.name
		}
		return out
	}
	for row, es := range typeParams {
		if row >= 1 && row <= len(b.types) {
			b.types[row-1].GenericParams = names(es)
		}
	}
	b.pendingMethodParams = make(map[int][]string, len(methodParams))
	for row, es := range methodParams {
		b.pendingMethodParams[row] = names(es)
	}
}

func (b *modelBuilder) readMethods() error {
	ts := b.ts
	md := &ts.t[tabMethodDef]
	b.methods = make([]*MethodDef, md.rows)
	b.methodOwner = make([]*TypeDef, md.rows)
	for row := 1; row <= md.rows; row++ {
		m := &MethodDef{
			Token:         token(tabMethodDef, row),
			ImplFlags:     uint16(md.get(row, 1)),
			Flags:         MethodAttributes(md.get(row, 2)),
			Name:          ts.str(md.get(row, 3)),
			GenericParams: b.pendingMethodParams[row],
		}
		sig, err := (&sigReader{b: ts.blob(md.get(row, 4)), res: b}).methodSig()
		if err != nil {
			return fmt.Errorf("method %s: %w", m.Name, err)
		}
		m.Signature = sig
		m.ParamNames = make([]string, len(sig.Params))
		b.methods[row-1] = m
	}

	// Parameter names by sequence number.
	pt := &ts.t[tabParam]
	for row := 1; row <= md.rows; row++ {
		start := int(md.get(row, 5))
		end := ts.rangeEnd(tabMethodDef, 5, row, tabParam)
		m := b.methods[row-1]
		for p := max(start, 1); p < end && p <= pt.rows; p++ {
			seq := int(pt.get(p, 1))
			if seq >= 1 && seq <= len(m.ParamNames) {
				m.ParamNames[seq-1] = ts.str(pt.get(p, 2))
			}
		}
	}

	td := &ts.t[tabTypeDef]
	for row := 1; row <= td.rows; row++ {
		start := int(td.get(row, 5))
		end := ts.rangeEnd(tabTypeDef, 5, row, tabMethodDef)
		for i := max(start, 1); i < end && i <= md.rows; i++ {
			b.types[row-1].Methods = append(b.types[row-1].Methods, b.methods[i-1])
			b.methodOwner[i-1] = b.types[row-1]
		}
	}
	return nil
}

func (b *modelBuilder) readFields() error {
	ts := b.ts
	fd := &ts.t[tabField]
	b.fields = make([]*FieldDef, fd.rows)
	for row := 1; row <= fd.rows; row++ {
		f := &FieldDef{
			Token: token(tabField, row),
			Flags: FieldAttributes(fd.get(row, 0)),
			Name:  ts.str(fd.get(row, 1)),
		}
		typ, err := (&sigReader{b: ts.blob(fd.get(row, 2)), res: b}).fieldSig()
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		f.Type = typ
		b.fields[row-1] = f
	}
	td := &ts.t[tabTypeDef]
	for row := 1; row <= td.rows; row++ {
		start := int(td.get(row, 4))
		end := ts.rangeEnd(tabTypeDef, 4, row, tabField)
		for i := max(start, 1); i < end && i <= fd.rows; i++ {
			b.types[row-1].Fields = append(b.types[row-1].Fields, b.fields[i-1])
		}
	}
	return nil
}

func (b *modelBuilder) readProperties() error {
	ts := b.ts
	pt := &ts.t[tabProperty]
	b.properties = make([]*PropertyDef, pt.rows)
	for row := 1; row <= pt.rows; row++ {
		p := &PropertyDef{
			Token: token(tabProperty, row),
			Flags: PropertyAttributes(pt.get(row, 0)),
			Name:  ts.str(pt.get(row, 1)),
		}
		raw := ts.blob(pt.get(row, 2))
		if len(raw) == 0 || raw[0]&0x0F != sigProperty {
			return fmt.Errorf("%w: property %s signature", ErrCorruptMetadata, p.Name)
		}
		sig, err := (&sigReader{b: raw, res: b}).methodSig()
		if err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
		p.Type, p.Params = sig.Return, sig.Params
		b.properties[row-1] = p
	}
	pm := &ts.t[tabPropertyMap]
	for row := 1; row <= pm.rows; row++ {
		parent := int(pm.get(row, 0))
		if parent < 1 || parent > len(b.types) {
			continue
		}
		start := int(pm.get(row, 1))
		end := ts.rangeEnd(tabPropertyMap, 1, row, tabProperty)
		for i := max(start, 1); i < end && i <= pt.rows; i++ {
			b.types[parent-1].Properties = append(b.types[parent-1].Properties, b.properties[i-1])
		}
	}
	return nil
}

func (b *modelBuilder) readEvents() {
	ts := b.ts
	et := &ts.t[tabEvent]
	b.events = make([]*EventDef, et.rows)
	for row := 1; row <= et.rows; row++ {
		e := &EventDef{
			Token: token(tabEvent, row),
			Flags: EventAttributes(et.get(row, 0)),
			Name:  ts.str(et.get(row, 1)),
		}
		tab, r := decodeCoded(ciTypeDefOrRef, et.get(row, 2))
		if tab == tabTypeSpec {
			if spec, err := (&sigReader{b: b.typeSpec(r), res: b}).typ(); err == nil {
				e.Type = spec
			}
		} else if name, vt := b.typeName(tab, r); name != "" {
			kind := ElemClass
			if vt {
				kind = ElemValueType
			}
			e.Type = &TypeSig{Kind: kind, Name: name}
		}
		b.events[row-1] = e
	}
	em := &ts.t[tabEventMap]
	for row := 1; row <= em.rows; row++ {
		parent := int(em.get(row, 0))
		if parent < 1 || parent > len(b.types) {
			continue
		}
		start := int(em.get(row, 1))
		end := ts.rangeEnd(tabEventMap, 1, row, tabEvent)
		for i := max(start, 1); i < end && i <= et.rows; i++ {
			b.types[parent-1].Events = append(b.types[parent-1].Events, b.events[i-1])
		}
	}
}

func (b *modelBuilder) readSemantics() {
	ms := &b.ts.t[tabMethodSemantics]
	for row := 1; row <= ms.rows; row++ {
		sem := ms.get(row, 0)
		mi := int(ms.get(row, 1))
		if mi < 1 || mi > len(b.methods) {
			continue
		}
		m := b.methods[mi-1]
		tab, r := decodeCoded(ciHasSemantics, ms.get(row, 2))
		switch {
		case tab == tabProperty && r >= 1 && r <= len(b.properties):
			p := b.properties[r-1]
			switch {
			case sem&semGetter != 0:
				p.Getter = m
			case sem&semSetter != 0:
				p.Setter = m
			}
			m.Accessor = true
		case tab == tabEvent && r >= 1 && r <= len(b.events):
			e := b.events[r-1]
			switch {
			case sem&semAddOn != 0:
				e.Adder = m
			case sem&semRemoveOn != 0:
				e.Remover = m
			}
			m.Accessor = sem&(semAddOn|semRemoveOn|semFire|semOther) != 0
		}
	}
}

func (b *modelBuilder) readCustomAttributes() {
	ts := b.ts
	ca := &ts.t[tabCustomAttribute]
	for row := 1; row <= ca.rows; row++ {
		name := b.attributeTypeName(ca.get(row, 1))
		if name == "" {
			continue
		}
		tab, r := decodeCoded(ciHasCustomAttribute, ca.get(row, 0))
		switch {
		case tab == tabTypeDef && r >= 1 && r <= len(b.types):
			b.types[r-1].CustomAttributes = append(b.types[r-1].CustomAttributes, name)
		case tab == tabMethodDef && r >= 1 && r <= len(b.methods):
			b.methods[r-1].CustomAttributes = append(b.methods[r-1].CustomAttributes, name)
		case tab == tabField && r >= 1 && r <= len(b.fields):
			b.fields[r-1].CustomAttributes = append(b.fields[r-1].CustomAttributes, name)
		case tab == tabProperty && r >= 1 && r <= len(b.properties):
			b.properties[r-1].CustomAttributes = append(b.properties[r-1].CustomAttributes, name)
		case tab == tabEvent && r >= 1 && r <= len(b.events):
			b.events[r-1].CustomAttributes = append(b.events[r-1].CustomAttributes, name)
		}
	}
}

// attributeTypeName names the type owning an attribute constructor.
func (b *modelBuilder) attributeTypeName(v uint32) string {
	tab, r := decodeCoded(ciCustomAttributeType, v)
	switch tab {
	case tabMethodDef:
		if r >= 1 && r <= len(b.methodOwner) && b.methodOwner[r-1] != nil {
			return b.methodOwner[r-1].FullName()
		}
	case tabMemberRef:
		mr := &b.ts.t[tabMemberRef]
		parentTab, pr := decodeCoded(ciMemberRefParent, mr.get(r, 0))
		switch parentTab {
		case tabTypeRef, tabTypeDef:
			name, _ := b.typeName(parentTab, pr)
			return name
		case tabTypeSpec:
			if spec, err := (&sigReader{b: b.typeSpec(pr), res: b}).typ(); err == nil {
				return spec.Name
			}
		}
	}
	return ""
}

// nameSignatureParams attaches declared generic parameter names to Var and
// MVar nodes in every signature.
func (b *modelBuilder) nameSignatureParams() {
	for _, t := range b.types {
		typeParams := t.GenericParams
		for outer := t.Enclosing; len(typeParams) == 0 && outer != nil; outer = outer.Enclosing {
			typeParams = outer.GenericParams
		}
		for _, m := range t.Methods {
			nameGenericParams(m.Signature.Return, typeParams, m.GenericParams)
			for _, p := range m.Signature.Params {
				nameGenericParams(p, typeParams, m.GenericParams)
			}
		}
		for _, f := range t.Fields {
			nameGenericParams(f.Type, typeParams, nil)
		}
		for _, p := range t.Properties {
			nameGenericParams(p.Type, typeParams, nil)
			for _, pp := range p.Params {
				nameGenericParams(pp, typeParams, nil)
			}
		}
		for _, e := range t.Events {
			nameGenericParams(e.Type, typeParams, nil)
		}
	}
}

// typeName implements typeResolver for TypeDef and TypeRef rows.
func (b *modelBuilder) typeName(tab, row int) (string, bool) {
	switch tab {
	case tabTypeDef:
		if row >= 1 && row <= len(b.types) {
			t := b.types[row-1]
			return t.FullName(), t.IsValueType()
		}
	case tabTypeRef:
		return b.typeRefName(row, 0), false
	}
	return "", false
}

func (b *modelBuilder) typeRefName(row, depth int) string {
	tr := &b.ts.t[tabTypeRef]
	if row < 1 || row > tr.rows || depth > maxSigDepth {
		return ""
	}
	name := b.ts.str(tr.get(row, 1))
	ns := b.ts.str(tr.get(row, 2))
	scopeTab, scopeRow := decodeCoded(ciResolutionScope, tr.get(row, 0))
	if scopeTab == tabTypeRef && scopeRow != 0 {
		return b.typeRefName(scopeRow, depth+1) + "+" + name
	}
	if ns == "" {
		return name
	}
	return ns + "." + name
}

// typeSpec implements typeResolver.
func (b *modelBuilder) typeSpec(row int) []byte {
	ts := &b.ts.t[tabTypeSpec]
	if row < 1 || row > ts.rows {
		return nil
	}
	return b.ts.blob(ts.get(row, 0))
}

// IsAccessorName reports whether name follows accessor naming.
func IsAccessorName(name string) bool {
	for _, p := range []string{"get_", "set_", "add_", "remove_", "raise_"} {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
