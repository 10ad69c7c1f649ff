// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package imagetest

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
)

const (
	fileAlign    = 0x200
	sectionAlign = 0x2000
	headerSize   = 0x200
	textRVA      = 0x2000
	cliHeaderLen = 72
)

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

// buildPE wraps metadata in a PE32 DLL with a .text section holding the CLI
// header and metadata, plus a .rsrc section when a file version is set.
func buildPE(md []byte, fileVersion [4]uint16) []byte {
	le := binary.LittleEndian

	var text bytes.Buffer
	binary.Write(&text, le, uint32(cliHeaderLen))
	binary.Write(&text, le, uint16(2))
	binary.Write(&text, le, uint16(5))
	binary.Write(&text, le, uint32(textRVA+cliHeaderLen))
	binary.Write(&text, le, uint32(len(md)))
	binary.Write(&text, le, uint32(1)) // ILONLY
	text.Write(make([]byte, cliHeaderLen-text.Len()))
	text.Write(md)

	var rsrc []byte
	if fileVersion != [4]uint16{} {
		var r bytes.Buffer
		r.Write(make([]byte, 16))
		binary.Write(&r, le, uint32(0xFEEF04BD))
		binary.Write(&r, le, uint32(0x00010000))
		binary.Write(&r, le, uint32(fileVersion[0])<<16|uint32(fileVersion[1]))
		binary.Write(&r, le, uint32(fileVersion[2])<<16|uint32(fileVersion[3]))
		r.Write(make([]byte, 36))
		rsrc = r.Bytes()
	}

	type section struct {
		name string
		data []byte
		rva  uint32
		flag uint32
	}
	sections := []section{{name: ".text", data: text.Bytes(), rva: textRVA, flag: 0x60000020}}
	if rsrc != nil {
		rva := alignUp(textRVA+uint32(text.Len()), sectionAlign)
		sections = append(sections, section{name: ".rsrc", data: rsrc, rva: rva, flag: 0x40000040})
	}
	last := sections[len(sections)-1]
	imageSize := alignUp(last.rva+uint32(len(last.data)), sectionAlign)

	var out bytes.Buffer
	dos := make([]byte, 0x80)
	dos[0], dos[1] = 'M', 'Z'
	le.PutUint32(dos[0x3c:], 0x80)
	out.Write(dos)
	out.WriteString("PE\x00\x00")

	binary.Write(&out, le, pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_I386,
		NumberOfSections:     uint16(len(sections)),
		SizeOfOptionalHeader: uint16(binary.Size(pe.OptionalHeader32{})),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE | pe.IMAGE_FILE_DLL,
	})

	oh := pe.OptionalHeader32{
		Magic:                       0x10b,
		MajorLinkerVersion:          11,
		SizeOfCode:                  alignUp(uint32(text.Len()), fileAlign),
		BaseOfCode:                  textRVA,
		ImageBase:                   0x10000000,
		SectionAlignment:            sectionAlign,
		FileAlignment:               fileAlign,
		MajorOperatingSystemVersion: 4,
		MajorSubsystemVersion:       4,
		SizeOfImage:                 imageSize,
		SizeOfHeaders:               headerSize,
		Subsystem:                   pe.IMAGE_SUBSYSTEM_WINDOWS_CUI,
		SizeOfStackReserve:          0x100000,
		SizeOfStackCommit:           0x1000,
		SizeOfHeapReserve:           0x100000,
		SizeOfHeapCommit:            0x1000,
		NumberOfRvaAndSizes:         16,
	}
	oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR] = pe.DataDirectory{VirtualAddress: textRVA, Size: cliHeaderLen}
	if rsrc != nil {
		oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_RESOURCE] = pe.DataDirectory{VirtualAddress: sections[1].rva, Size: uint32(len(rsrc))}
	}
	binary.Write(&out, le, oh)

	offset := uint32(headerSize)
	offsets := make([]uint32, len(sections))
	for i, s := range sections {
		var name [8]uint8
		copy(name[:], s.name)
		raw := alignUp(uint32(len(s.data)), fileAlign)
		offsets[i] = offset
		binary.Write(&out, le, pe.SectionHeader32{
			Name:             name,
			VirtualSize:      uint32(len(s.data)),
			VirtualAddress:   s.rva,
			SizeOfRawData:    raw,
			PointerToRawData: offset,
			Characteristics:  s.flag,
		})
		offset += raw
	}
	for i, s := range sections {
		out.Write(make([]byte, int(offsets[i])-out.Len()))
		out.Write(s.data)
	}
	out.Write(make([]byte, int(offset)-out.Len()))
	return out.Bytes()
}
