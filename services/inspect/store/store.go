// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists inspection reports in BadgerDB as gzip-compressed
// JSON with listable metadata.
package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// ErrReportNotFound is returned for an unknown report id.
var ErrReportNotFound = errors.New("report not found")

// BadgerDB key layout.
const (
	keyPrefixReport = "inspect:report:"
	keySuffixData   = ":data"
	keySuffixMeta   = ":meta"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// Kind names the operation that produced a report.
type Kind string

const (
	KindNamespaces Kind = "namespaces"
	KindMembers    Kind = "members"
)

// Metadata describes a stored report.
type Metadata struct {
	ID             string `json:"id"`
	Kind           Kind   `json:"kind"`
	Root           string `json:"root"`
	Label          string `json:"label,omitempty"`
	CreatedAtMilli int64  `json:"createdAtMilli"`

	Namespaces   int `json:"namespaces,omitempty"`
	Members      int `json:"members,omitempty"`
	Dependencies int `json:"dependencies,omitempty"`
	Calls        int `json:"calls,omitempty"`
	Mappings     int `json:"mappings,omitempty"`

	CompressedSize int64 `json:"compressedSize"`

	// ContentHash is the SHA256 of the uncompressed payload. Equal hashes
	// mean byte-identical payloads.
	ContentHash string `json:"contentHash"`
}

// Store saves and loads reports.
//
// Key Schema:
//
//	inspect:report:{id}:data → gzip(JSON(payload))
//	inspect:report:{id}:meta → JSON(Metadata)
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type Store struct {
	db     *badger.DB
	owned  bool
	logger *slog.Logger
	now    func() time.Time
}

// New wraps an opened database. The caller keeps ownership of db.
func New(db *badger.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Open opens or creates a store in dir. Close releases it.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions(dir).WithLogger(nil), logger)
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil), logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening report store %s: %w", opts.Dir, err)
	}
	s, err := New(db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// SaveNamespaces stores a namespaces report.
func (s *Store) SaveNamespaces(ctx context.Context, root, label string, entries []schema.NamespaceEntry) (*Metadata, error) {
	meta := &Metadata{Kind: KindNamespaces, Root: root, Label: label, Namespaces: len(entries)}
	return s.save(ctx, meta, entries)
}

// SaveMembers stores a members report.
func (s *Store) SaveMembers(ctx context.Context, root, label string, p *schema.MembersPayload) (*Metadata, error) {
	if p == nil {
		return nil, fmt.Errorf("payload must not be nil")
	}
	meta := &Metadata{
		Kind:         KindMembers,
		Root:         root,
		Label:        label,
		Members:      len(p.Methods),
		Dependencies: len(p.Dependencies),
		Calls:        len(p.MethodCalls),
		Mappings:     len(p.SourceAssemblyMapping),
	}
	return s.save(ctx, meta, p)
}

func (s *Store) save(ctx context.Context, meta *Metadata, payload any) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling report: %w", err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("compressing report: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	meta.ID = uuid.NewString()
	meta.CreatedAtMilli = s.now().UnixMilli()
	meta.CompressedSize = int64(compressed.Len())
	meta.ContentHash = hashBytes(data)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(meta.ID), compressed.Bytes()); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(meta.ID), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing report to badger: %w", err)
	}

	s.logger.Info("report saved",
		slog.String("report_id", meta.ID),
		slog.String("kind", string(meta.Kind)),
		slog.String("root", meta.Root),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load returns a report's metadata and its uncompressed JSON payload.
func (s *Store) Load(ctx context.Context, id string) (*Metadata, json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if id == "" {
		return nil, nil, fmt.Errorf("%w: empty id", ErrReportNotFound)
	}

	var compressed, metaJSON []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(id))
		if err != nil {
			return err
		}
		if compressed, err = item.ValueCopy(nil); err != nil {
			return err
		}
		item, err = txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		metaJSON, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading report %s: %w", id, err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", id, err)
	}
	gr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing report %s: %w", id, err)
	}
	defer gr.Close()
	data, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading report %s: %w", id, err)
	}
	if meta.ContentHash != "" && meta.ContentHash != hashBytes(data) {
		return nil, nil, fmt.Errorf("integrity check failed for report %s", id)
	}
	return &meta, data, nil
}

// LoadMembers loads a members report.
func (s *Store) LoadMembers(ctx context.Context, id string) (*schema.MembersPayload, *Metadata, error) {
	meta, data, err := s.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if meta.Kind != KindMembers {
		return nil, nil, fmt.Errorf("report %s is a %s report", id, meta.Kind)
	}
	var p schema.MembersPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling report %s: %w", id, err)
	}
	return &p, meta, nil
}

// List returns report metadata newest first. A non-empty root keeps only
// reports of that root; limit <= 0 uses DefaultListLimit.
func (s *Store) List(ctx context.Context, root string, limit int) ([]*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	results := []*Metadata{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixReport)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}
			var meta Metadata
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &meta) }); err != nil {
				s.logger.Warn("skipping corrupt report metadata", slog.String("key", key), slog.String("error", err.Error()))
				continue
			}
			if root != "" && meta.Root != root {
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].CreatedAtMilli != results[j].CreatedAtMilli {
			return results[i].CreatedAtMilli > results[j].CreatedAtMilli
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a report.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(dataKey(id)); err != nil {
			return err
		}
		return txn.Delete(metaKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrReportNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("deleting report %s: %w", id, err)
	}
	s.logger.Info("report deleted", slog.String("report_id", id))
	return nil
}

func dataKey(id string) []byte { return []byte(keyPrefixReport + id + keySuffixData) }
func metaKey(id string) []byte { return []byte(keyPrefixReport + id + keySuffixMeta) }

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
