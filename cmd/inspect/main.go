// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// inspect scans C# and Visual Basic sources and CLI assemblies and prints
// their namespaces, members, dependencies, call graph and source to
// assembly mappings as JSON.
//
// Usage:
//
//	inspect namespaces <path>
//	inspect members <path> [--save] [--label L] [-o file]
//	inspect serve [--addr :8089]
//	inspect watch <dir>
//	inspect reports list|show|delete
//	inspect graph export <path> | --report <id>
//
// Exit codes:
//
//	0 - success
//	1 - any failure
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
