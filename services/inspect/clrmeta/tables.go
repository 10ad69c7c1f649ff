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
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Table ids from ECMA-335 II.22.
const (
	tabModule                 = 0x00
	tabTypeRef                = 0x01
	tabTypeDef                = 0x02
	tabFieldPtr               = 0x03
	tabField                  = 0x04
	tabMethodPtr              = 0x05
	tabMethodDef              = 0x06
	tabParamPtr               = 0x07
	tabParam                  = 0x08
	tabInterfaceImpl          = 0x09
	tabMemberRef              = 0x0A
	tabConstant               = 0x0B
	tabCustomAttribute        = 0x0C
	tabFieldMarshal           = 0x0D
	tabDeclSecurity           = 0x0E
	tabClassLayout            = 0x0F
	tabFieldLayout            = 0x10
	tabStandAloneSig          = 0x11
	tabEventMap               = 0x12
	tabEventPtr               = 0x13
	tabEvent                  = 0x14
	tabPropertyMap            = 0x15
	tabPropertyPtr            = 0x16
	tabProperty               = 0x17
	tabMethodSemantics        = 0x18
	tabMethodImpl             = 0x19
	tabModuleRef              = 0x1A
	tabTypeSpec               = 0x1B
	tabImplMap                = 0x1C
	tabFieldRVA               = 0x1D
	tabENCLog                 = 0x1E
	tabENCMap                 = 0x1F
	tabAssembly               = 0x20
	tabAssemblyProcessor      = 0x21
	tabAssemblyOS             = 0x22
	tabAssemblyRef            = 0x23
	tabAssemblyRefProcessor   = 0x24
	tabAssemblyRefOS          = 0x25
	tabFile                   = 0x26
	tabExportedType           = 0x27
	tabManifestResource       = 0x28
	tabNestedClass            = 0x29
	tabGenericParam           = 0x2A
	tabMethodSpec             = 0x2B
	tabGenericParamConstraint = 0x2C
	numTables                 = 0x2D
)

// unused marks a coded index tag with no table.
const unused = -1

type codedKind int

const (
	ciTypeDefOrRef codedKind = iota
	ciHasConstant
	ciHasCustomAttribute
	ciHasFieldMarshal
	ciHasDeclSecurity
	ciMemberRefParent
	ciHasSemantics
	ciMethodDefOrRef
	ciMemberForwarded
	ciImplementation
	ciCustomAttributeType
	ciResolutionScope
	ciTypeOrMethodDef
)

// codedTables lists the tables each coded index can reference, in tag order.
var codedTables = map[codedKind][]int{
	ciTypeDefOrRef:    {tabTypeDef, tabTypeRef, tabTypeSpec},
	ciHasConstant:     {tabField, tabParam, tabProperty},
	ciHasFieldMarshal: {tabField, tabParam},
	ciHasCustomAttribute: {
		tabMethodDef, tabField, tabTypeRef, tabTypeDef, tabParam, tabInterfaceImpl,
		tabMemberRef, tabModule, tabDeclSecurity, tabProperty, tabEvent, tabStandAloneSig,
		tabModuleRef, tabTypeSpec, tabAssembly, tabAssemblyRef, tabFile, tabExportedType,
		tabManifestResource, tabGenericParam, tabGenericParamConstraint, tabMethodSpec,
	},
	ciHasDeclSecurity:     {tabTypeDef, tabMethodDef, tabAssembly},
	ciMemberRefParent:     {tabTypeDef, tabTypeRef, tabModuleRef, tabMethodDef, tabTypeSpec},
	ciHasSemantics:        {tabEvent, tabProperty},
	ciMethodDefOrRef:      {tabMethodDef, tabMemberRef},
	ciMemberForwarded:     {tabField, tabMethodDef},
	ciImplementation:      {tabFile, tabAssemblyRef, tabExportedType},
	ciCustomAttributeType: {unused, unused, tabMethodDef, tabMemberRef, unused},
	ciResolutionScope:     {tabModule, tabModuleRef, tabAssemblyRef, tabTypeRef},
	ciTypeOrMethodDef:     {tabTypeDef, tabMethodDef},
}

type colKind int

const (
	colFixed colKind = iota
	colString
	colGUID
	colBlob
	colIndex
	colCoded
)

type colSpec struct {
	kind  colKind
	size  int // colFixed only
	table int // colIndex only
	coded codedKind
}

func fixed(n int) colSpec          { return colSpec{kind: colFixed, size: n} }
func str() colSpec                 { return colSpec{kind: colString} }
func guid() colSpec                { return colSpec{kind: colGUID} }
func blob() colSpec                { return colSpec{kind: colBlob} }
func index(table int) colSpec      { return colSpec{kind: colIndex, table: table} }
func coded(kind codedKind) colSpec { return colSpec{kind: colCoded, coded: kind} }

// tableSchemas describes the columns of every table in id order.
var tableSchemas = [numTables][]colSpec{
	tabModule:                 {fixed(2), str(), guid(), guid(), guid()},
	tabTypeRef:                {coded(ciResolutionScope), str(), str()},
	tabTypeDef:                {fixed(4), str(), str(), coded(ciTypeDefOrRef), index(tabField), index(tabMethodDef)},
	tabFieldPtr:               {index(tabField)},
	tabField:                  {fixed(2), str(), blob()},
	tabMethodPtr:              {index(tabMethodDef)},
	tabMethodDef:              {fixed(4), fixed(2), fixed(2), str(), blob(), index(tabParam)},
	tabParamPtr:               {index(tabParam)},
	tabParam:                  {fixed(2), fixed(2), str()},
	tabInterfaceImpl:          {index(tabTypeDef), coded(ciTypeDefOrRef)},
	tabMemberRef:              {coded(ciMemberRefParent), str(), blob()},
	tabConstant:               {fixed(2), coded(ciHasConstant), blob()},
	tabCustomAttribute:        {coded(ciHasCustomAttribute), coded(ciCustomAttributeType), blob()},
	tabFieldMarshal:           {coded(ciHasFieldMarshal), blob()},
	tabDeclSecurity:           {fixed(2), coded(ciHasDeclSecurity), blob()},
	tabClassLayout:            {fixed(2), fixed(4), index(tabTypeDef)},
	tabFieldLayout:            {fixed(4), index(tabField)},
	tabStandAloneSig:          {blob()},
	tabEventMap:               {index(tabTypeDef), index(tabEvent)},
	tabEventPtr:               {index(tabEvent)},
	tabEvent:                  {fixed(2), str(), coded(ciTypeDefOrRef)},
	tabPropertyMap:            {index(tabTypeDef), index(tabProperty)},
	tabPropertyPtr:            {index(tabProperty)},
	tabProperty:               {fixed(2), str(), blob()},
	tabMethodSemantics:        {fixed(2), index(tabMethodDef), coded(ciHasSemantics)},
	tabMethodImpl:             {index(tabTypeDef), coded(ciMethodDefOrRef), coded(ciMethodDefOrRef)},
	tabModuleRef:              {str()},
	tabTypeSpec:               {blob()},
	tabImplMap:                {fixed(2), coded(ciMemberForwarded), str(), index(tabModuleRef)},
	tabFieldRVA:               {fixed(4), index(tabField)},
	tabENCLog:                 {fixed(4), fixed(4)},
	tabENCMap:                 {fixed(4)},
	tabAssembly:               {fixed(4), fixed(2), fixed(2), fixed(2), fixed(2), fixed(4), blob(), str(), str()},
	tabAssemblyProcessor:      {fixed(4)},
	tabAssemblyOS:             {fixed(4), fixed(4), fixed(4)},
	tabAssemblyRef:            {fixed(2), fixed(2), fixed(2), fixed(2), fixed(4), blob(), str(), str(), blob()},
	tabAssemblyRefProcessor:   {fixed(4), index(tabAssemblyRef)},
	tabAssemblyRefOS:          {fixed(4), fixed(4), fixed(4), index(tabAssemblyRef)},
	tabFile:                   {fixed(4), str(), blob()},
	tabExportedType:           {fixed(4), fixed(4), str(), str(), coded(ciImplementation)},
	tabManifestResource:       {fixed(4), fixed(4), str(), coded(ciImplementation)},
	tabNestedClass:            {index(tabTypeDef), index(tabTypeDef)},
	tabGenericParam:           {fixed(2), fixed(2), coded(ciTypeOrMethodDef), str()},
	tabMethodSpec:             {coded(ciMethodDefOrRef), blob()},
	tabGenericParamConstraint: {index(tabGenericParam), coded(ciTypeDefOrRef)},
}

// table is one decoded metadata table. Rows are 1-based.
type table struct {
	rows    int
	rowSize int
	offsets []int
	sizes   []int
	data    []byte
}

func (t *table) get(row, col int) uint32 {
	if row < 1 || row > t.rows {
		return 0
	}
	off := (row-1)*t.rowSize + t.offsets[col]
	switch t.sizes[col] {
	case 1:
		return uint32(t.data[off])
	case 2:
		return uint32(binary.LittleEndian.Uint16(t.data[off:]))
	default:
		return binary.LittleEndian.Uint32(t.data[off:])
	}
}

// tables holds the #~ stream plus the heaps it indexes.
type tables struct {
	t       [numTables]table
	strings []byte
	blobs   []byte
}

const (
	heapStringsWide = 0x01
	heapGUIDWide    = 0x02
	heapBlobWide    = 0x04
	heapExtraData   = 0x40
)

// parseTables decodes a #~ (or #-) stream.
func parseTables(stream, strs, blobs []byte) (*tables, error) {
	if len(stream) < 24 {
		return nil, fmt.Errorf("%w: table stream too short", ErrCorruptMetadata)
	}
	heapSizes := stream[6]
	valid := binary.LittleEndian.Uint64(stream[8:])
	pos := 24

	ts := &tables{strings: strs, blobs: blobs}
	for id := 0; id < 64; id++ {
		if valid&(1<<uint(id)) == 0 {
			continue
		}
		if pos+4 > len(stream) {
			return nil, fmt.Errorf("%w: truncated row counts", ErrCorruptMetadata)
		}
		rows := int(binary.LittleEndian.Uint32(stream[pos:]))
		pos += 4
		if id >= numTables {
			return nil, fmt.Errorf("%w: unknown table 0x%02x", ErrCorruptMetadata, id)
		}
		ts.t[id].rows = rows
	}
	if heapSizes&heapExtraData != 0 {
		pos += 4
	}

	heapSize := func(wide byte) int {
		if heapSizes&wide != 0 {
			return 4
		}
		return 2
	}
	indexSize := func(tab int) int {
		if ts.t[tab].rows > 0xFFFF {
			return 4
		}
		return 2
	}
	codedSize := func(kind codedKind) int {
		targets := codedTables[kind]
		tagBits := bits.Len(uint(len(targets) - 1))
		maxRows := 0
		for _, tab := range targets {
			if tab != unused && ts.t[tab].rows > maxRows {
				maxRows = ts.t[tab].rows
			}
		}
		if maxRows < 1<<(16-tagBits) {
			return 2
		}
		return 4
	}

	for id := 0; id < numTables; id++ {
		tab := &ts.t[id]
		schema := tableSchemas[id]
		tab.offsets = make([]int, len(schema))
		tab.sizes = make([]int, len(schema))
		for c, col := range schema {
			var size int
			switch col.kind {
			case colFixed:
				size = col.size
			case colString:
				size = heapSize(heapStringsWide)
			case colGUID:
				size = heapSize(heapGUIDWide)
			case colBlob:
				size = heapSize(heapBlobWide)
			case colIndex:
				size = indexSize(col.table)
			case colCoded:
				size = codedSize(col.coded)
			}
			tab.offsets[c] = tab.rowSize
			tab.sizes[c] = size
			tab.rowSize += size
		}
		n := tab.rows * tab.rowSize
		if pos+n > len(stream) {
			return nil, fmt.Errorf("%w: table 0x%02x overruns stream", ErrCorruptMetadata, id)
		}
		tab.data = stream[pos : pos+n]
		pos += n
	}
	return ts, nil
}

// decodeCoded splits a coded index into table id and 1-based row.
func decodeCoded(kind codedKind, value uint32) (tab int, row int) {
	targets := codedTables[kind]
	tagBits := uint(bits.Len(uint(len(targets) - 1)))
	tag := int(value & (1<<tagBits - 1))
	if tag >= len(targets) {
		return unused, 0
	}
	return targets[tag], int(value >> tagBits)
}

func (ts *tables) str(offset uint32) string {
	if int(offset) >= len(ts.strings) {
		return ""
	}
	s := ts.strings[offset:]
	for i, b := range s {
		if b == 0 {
			return string(s[:i])
		}
	}
	return string(s)
}

func (ts *tables) blob(offset uint32) []byte {
	if int(offset) >= len(ts.blobs) {
		return nil
	}
	b := ts.blobs[offset:]
	n, size, ok := decompress(b)
	if !ok || size+int(n) > len(b) {
		return nil
	}
	return b[size : size+int(n)]
}

// decompress reads an ECMA-335 compressed unsigned integer and returns the
// value and the number of bytes consumed.
func decompress(b []byte) (value uint32, size int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, true
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, false
		}
		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, true
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, false
		}
		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, true
	default:
		return 0, 0, false
	}
}

// rangeEnd returns the exclusive end of a list run that starts at the value
// of column col in row, given the next row's start (or the target table end).
func (ts *tables) rangeEnd(owner, col, row, target int) int {
	if row < ts.t[owner].rows {
		return int(ts.t[owner].get(row+1, col))
	}
	return ts.t[target].rows + 1
}
