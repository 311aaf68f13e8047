// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package intent turns raw chart queries into canonical, validated intents.
//
// An intent is the unit the plan builder works on: one item key, one
// time-aggregation mode, one resolved date range, one category constraint,
// and the signature fingerprinting the exact adapter query spec. Intents are
// normalized fresh for every build and never cached across builds.
package intent

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/graphsheet/seriessync/services/planner/series"
)

// ErrInvalidIntent marks caller errors: malformed ranges, unknown modes,
// unparseable filters, or constraints over category keys the registry
// declares nonexistent. Wrapped with detail by the normalizer.
var ErrInvalidIntent = errors.New("invalid intent")

// ConstraintKind enumerates the category constraint forms.
type ConstraintKind string

const (
	// ConstraintNone queries the uncategorized series.
	ConstraintNone ConstraintKind = "none"

	// ConstraintFixed pins one category value (channel=email).
	ConstraintFixed ConstraintKind = "fixed"

	// ConstraintAnyOf queries a subset of category values.
	ConstraintAnyOf ConstraintKind = "any_of"
)

// Constraint is the category dimension of an intent.
type Constraint struct {
	Kind   ConstraintKind `json:"kind"`
	Key    string         `json:"key,omitempty"`
	Value  string         `json:"value,omitempty"`
	Values []string       `json:"values,omitempty"`

	// AllowUncategorized mirrors the registry partition's explicit opt-in
	// for satisfying an AnyOf query from an uncategorized entry. Captured at
	// normalize time so classification needs no extra lookup.
	AllowUncategorized bool `json:"allow_uncategorized,omitempty"`
}

// NoConstraint returns the uncategorized constraint.
func NoConstraint() Constraint {
	return Constraint{Kind: ConstraintNone}
}

// FixedConstraint pins key=value.
func FixedConstraint(key, value string) Constraint {
	return Constraint{Kind: ConstraintFixed, Key: key, Value: value}
}

// AnyOfConstraint queries a value subset; values are deduped and sorted for
// canonical representation.
func AnyOfConstraint(key string, values ...string) Constraint {
	seen := make(map[string]struct{}, len(values))
	uniq := make([]string, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		uniq = append(uniq, v)
	}
	sort.Strings(uniq)
	return Constraint{Kind: ConstraintAnyOf, Key: key, Values: uniq}
}

// String renders the constraint the way filters are written:
// "", "channel=email", "channel in (email,social)".
func (c Constraint) String() string {
	switch c.Kind {
	case ConstraintFixed:
		return c.Key + "=" + c.Value
	case ConstraintAnyOf:
		return c.Key + " in (" + strings.Join(c.Values, ",") + ")"
	default:
		return ""
	}
}

// Validate rejects structurally broken constraints.
func (c Constraint) Validate() error {
	switch c.Kind {
	case ConstraintNone:
		return nil
	case ConstraintFixed:
		if c.Key == "" || c.Value == "" {
			return fmt.Errorf("fixed constraint needs key and value")
		}
		return nil
	case ConstraintAnyOf:
		if c.Key == "" || len(c.Values) == 0 {
			return fmt.Errorf("any_of constraint needs key and a non-empty value set")
		}
		return nil
	default:
		return fmt.Errorf("unknown constraint kind %q", c.Kind)
	}
}

// Intent is one canonical, validated fetch intent.
//
// Constraint and Mode are immutable for the lifetime of a plan build.
// QuerySpec rides along for the transport; Signature is its canonical
// fingerprint and is what coverage decisions compare.
type Intent struct {
	ItemKey    string         `json:"item_key"`
	Mode       series.Mode    `json:"mode"`
	Range      series.Range   `json:"range"`
	Constraint Constraint     `json:"constraint"`
	Signature  string         `json:"signature"`
	QuerySpec  map[string]any `json:"query_spec,omitempty"`
}

// Identity is the intent's stable key: two intents with equal identity ask
// for exactly the same data. Used to carry per-item verdicts (terminal
// failures) across plan rebuilds within one run.
func (in Intent) Identity() string {
	return in.ItemKey + "|" + string(in.Mode) + "|" + in.Range.String() + "|" +
		in.Signature + "|" + in.Constraint.String()
}

// RawQuery is the wire shape the chart editor (or CLI) submits. The yaml
// tags let the CLI read the same shape from a query file.
type RawQuery struct {
	// ItemKey identifies the fetchable target, e.g. "github.stars".
	ItemKey string `json:"item_key" yaml:"item_key" binding:"required"`

	// Mode is "window" or "cohort"; empty defaults to window.
	Mode string `json:"mode" yaml:"mode"`

	// Range is the textual range: "2025-01-01..2025-03-31", "last-90d",
	// or "since-2025-01-01" (resolved against the injected reference now).
	Range string `json:"range" yaml:"range" binding:"required"`

	// Filter is the category expression: "", "channel=email",
	// or "channel in (email,social)".
	Filter string `json:"filter" yaml:"filter"`

	// QuerySpec carries the adapter query parameters; its canonical
	// fingerprint becomes the intent signature.
	QuerySpec map[string]any `json:"query_spec" yaml:"query_spec"`
}
