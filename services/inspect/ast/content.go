// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// checkContent applies the checks shared by every parser and returns the
// content with any byte order mark removed.
func checkContent(ctx context.Context, content []byte, filePath string, maxFileSize int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}
	if int64(len(content)) > maxFileSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), maxFileSize)
	}
	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}
	return content, nil
}

func newUnit(filePath, language string, content []byte) *Unit {
	hash := sha256.Sum256(content)
	return &Unit{
		FilePath:      filePath,
		Language:      language,
		Hash:          hex.EncodeToString(hash[:]),
		ParsedAtMilli: time.Now().UnixMilli(),
		Usings:        make([]Using, 0),
		Namespaces:    make([]NamespaceDecl, 0),
		Types:         make([]*TypeDecl, 0),
		Errors:        make([]string, 0),
	}
}

// splitTopLevel splits s on sep where sep is not nested inside brackets,
// parentheses, braces or angle brackets. Parts are trimmed and empty parts
// dropped.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				if p := strings.TrimSpace(s[start:i]); p != "" {
					parts = append(parts, p)
				}
				start = i + 1
			}
		}
	}
	if p := strings.TrimSpace(s[start:]); p != "" {
		parts = append(parts, p)
	}
	return parts
}

// joinNamespace appends name to an enclosing namespace.
func joinNamespace(outer, name string) string {
	switch {
	case outer == "":
		return name
	case name == "":
		return outer
	default:
		return outer + "." + name
	}
}

// resolveAccess maps a modifier set to an accessibility, returning def when
// no access modifier is present. Matching is case-insensitive so Visual Basic
// keywords map the same way (Friend is internal).
func resolveAccess(mods []string, def Accessibility) Accessibility {
	var public, protected, internal, private bool
	for _, m := range mods {
		switch strings.ToLower(m) {
		case "public":
			public = true
		case "protected":
			protected = true
		case "internal", "friend":
			internal = true
		case "private":
			private = true
		}
	}
	switch {
	case public:
		return AccessPublic
	case protected && internal:
		return AccessProtectedInternal
	case private && protected:
		return AccessPrivateProtected
	case protected:
		return AccessProtected
	case internal:
		return AccessInternal
	case private:
		return AccessPrivate
	default:
		return def
	}
}

// splitArguments splits an argument list on top-level commas. Split points
// are found in masked, which has string literal contents blanked, and
// applied to raw.
func splitArguments(raw, masked string) []string {
	var args []string
	depth := 0
	start := 0
	for i := 0; i < len(masked); i++ {
		switch masked[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(raw[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(raw[start:]); last != "" || len(args) > 0 {
		args = append(args, last)
	}
	return args
}
