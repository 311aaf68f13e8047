// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package registry resolves category partition definitions.
//
// A partition is the authoritative, mutually-exclusive and collectively-
// exhaustive value set for one classification key (for example channel:
// email, social, search, other). The planner never infers partition
// membership from what happens to be cached; it asks this registry, and a
// registry that cannot answer is treated as proof of incompleteness by the
// caller, never as permission to assume completeness.
package registry

import (
	"context"
	"errors"
	"fmt"
)

// ErrPartitionNotFound marks a category key the registry does not define.
var ErrPartitionNotFound = errors.New("partition not found")

// Partition is the authoritative definition of one category key.
type Partition struct {
	// Key is the classification key, e.g. "channel".
	Key string `yaml:"key" json:"key"`

	// Values are the enumerated partition members.
	Values []string `yaml:"values" json:"values"`

	// Residual names a declared catch-all bucket ("other"). Empty means the
	// enumerated values are exhaustive on their own. A declared residual
	// counts toward the authoritative set: a cache without it is incomplete.
	Residual string `yaml:"residual,omitempty" json:"residual,omitempty"`

	// AllowUncategorized explicitly permits an uncategorized cache entry to
	// satisfy a subset (AnyOf) query over this key. Off by default; the
	// product enables it only for keys whose uncategorized rollup is defined
	// to equal the partition total.
	AllowUncategorized bool `yaml:"allow_uncategorized,omitempty" json:"allow_uncategorized,omitempty"`
}

// Authoritative returns the full value set completeness is judged against:
// the enumerated values plus the residual bucket when one is declared.
func (p Partition) Authoritative() []string {
	out := make([]string, 0, len(p.Values)+1)
	seen := make(map[string]struct{}, len(p.Values)+1)
	for _, v := range p.Values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if p.Residual != "" {
		if _, dup := seen[p.Residual]; !dup {
			out = append(out, p.Residual)
		}
	}
	return out
}

// Contains reports whether value is a member of the authoritative set.
func (p Partition) Contains(value string) bool {
	for _, v := range p.Values {
		if v == value {
			return true
		}
	}
	return p.Residual != "" && p.Residual == value
}

// Validate rejects structurally unusable definitions.
func (p Partition) Validate() error {
	if p.Key == "" {
		return fmt.Errorf("partition with empty key")
	}
	if len(p.Values) == 0 {
		return fmt.Errorf("partition %q has no values", p.Key)
	}
	seen := make(map[string]struct{}, len(p.Values))
	for _, v := range p.Values {
		if v == "" {
			return fmt.Errorf("partition %q has an empty value", p.Key)
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("partition %q repeats value %q", p.Key, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

// Registry answers authoritative partition lookups.
//
// Implementations must return ErrPartitionNotFound (possibly wrapped) for
// unknown keys and a different error for infrastructure failures; callers
// distinguish the two when deciding between InvalidIntent and conservative
// degradation.
type Registry interface {
	ResolvePartition(ctx context.Context, key string) (Partition, error)
}
