// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Static serves partition definitions from an in-memory snapshot, typically
// loaded from the product's partition-definitions YAML export.
//
// Thread Safety:
//
//	Safe for concurrent use. Reload swaps the snapshot atomically under a
//	write lock; lookups take a read lock.
type Static struct {
	mu    sync.RWMutex
	parts map[string]Partition
}

// document is the on-disk file shape.
type document struct {
	Partitions []Partition `yaml:"partitions"`
}

// NewStatic builds a registry from literal partitions (tests, embedded config).
func NewStatic(parts ...Partition) (*Static, error) {
	s := &Static{}
	if err := s.replace(parts); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFile reads and parses a partition definitions file.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read partition definitions: %w", err)
	}
	s := &Static{}
	if err := s.Reload(data); err != nil {
		return nil, fmt.Errorf("parse partition definitions %s: %w", path, err)
	}
	return s, nil
}

// Reload parses a YAML document and swaps the snapshot. On parse or
// validation failure the previous snapshot stays in place.
func (s *Static) Reload(data []byte) error {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode partitions yaml: %w", err)
	}
	return s.replace(doc.Partitions)
}

func (s *Static) replace(parts []Partition) error {
	next := make(map[string]Partition, len(parts))
	for _, p := range parts {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := next[p.Key]; dup {
			return fmt.Errorf("duplicate partition key %q", p.Key)
		}
		next[p.Key] = p
	}
	s.mu.Lock()
	s.parts = next
	s.mu.Unlock()
	return nil
}

// ResolvePartition implements Registry.
func (s *Static) ResolvePartition(ctx context.Context, key string) (Partition, error) {
	if err := ctx.Err(); err != nil {
		return Partition{}, err
	}
	s.mu.RLock()
	p, ok := s.parts[key]
	s.mu.RUnlock()
	if !ok {
		return Partition{}, fmt.Errorf("category key %q: %w", key, ErrPartitionNotFound)
	}
	return p, nil
}

// Keys lists the defined category keys in sorted order.
func (s *Static) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.parts))
	for k := range s.parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns the current partitions keyed-order sorted, for display.
func (s *Static) Snapshot() []Partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Partition, 0, len(s.parts))
	for _, p := range s.parts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
