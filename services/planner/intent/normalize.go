// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/graphsheet/seriessync/pkg/validation"
	"github.com/graphsheet/seriessync/services/planner/registry"
	"github.com/graphsheet/seriessync/services/planner/series"
)

// Normalize turns a raw query into a canonical Intent.
//
// Description:
//
//	Resolves relative and open-ended ranges against the injected now (never
//	wall clock), parses the category filter, cross-checks Fixed/AnyOf
//	constraints against the registry, and fingerprints the query spec into
//	the signature. Pure except for the registry lookup; no side effects.
//
// Inputs:
//
//	raw - the submitted query.
//	now - the caller's reference instant; relative ranges resolve to its
//	      UTC calendar date.
//	reg - the partition registry. A key the registry declares nonexistent
//	      invalidates the intent; a registry that fails for other reasons
//	      does not (completeness proving degrades conservatively later).
//
// Outputs:
//
//	Intent - the canonical intent.
//	error  - wraps ErrInvalidIntent for caller errors.
func Normalize(ctx context.Context, raw RawQuery, now time.Time, reg registry.Registry) (Intent, error) {
	itemKey, err := validation.SanitizeItemKey(raw.ItemKey)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	mode := series.ModeWindow
	if raw.Mode != "" {
		mode, err = series.ParseMode(raw.Mode)
		if err != nil {
			return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
		}
	}

	rng, err := ResolveRange(raw.Range, now)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	constraint, err := ParseFilter(raw.Filter)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	constraint, err = checkConstraint(ctx, constraint, reg)
	if err != nil {
		return Intent{}, err
	}

	sig, err := Fingerprint(raw.QuerySpec)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	return Intent{
		ItemKey:    itemKey,
		Mode:       mode,
		Range:      rng,
		Constraint: constraint,
		Signature:  sig,
		QuerySpec:  raw.QuerySpec,
	}, nil
}

// NormalizeAll normalizes a batch, failing fast on the first invalid query.
func NormalizeAll(ctx context.Context, raws []RawQuery, now time.Time, reg registry.Registry) ([]Intent, error) {
	if len(raws) == 0 {
		return nil, fmt.Errorf("%w: no queries", ErrInvalidIntent)
	}
	intents := make([]Intent, 0, len(raws))
	for i, raw := range raws {
		it, err := Normalize(ctx, raw, now, reg)
		if err != nil {
			return nil, fmt.Errorf("query %d (%s): %w", i, raw.ItemKey, err)
		}
		intents = append(intents, it)
	}
	return intents, nil
}

// ResolveRange parses a textual range against the reference now.
//
// Forms:
//
//	"2025-01-01..2025-03-31" - absolute, inclusive.
//	"last-90d"               - the 90 dates ending at now's UTC date.
//	"since-2025-01-01"       - from the date through now's UTC date.
func ResolveRange(expr string, now time.Time) (series.Range, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return series.Range{}, fmt.Errorf("empty range")
	}
	today := series.DateOf(now)

	switch {
	case strings.Contains(expr, ".."):
		parts := strings.SplitN(expr, "..", 2)
		start, err := series.ParseDate(strings.TrimSpace(parts[0]))
		if err != nil {
			return series.Range{}, err
		}
		end, err := series.ParseDate(strings.TrimSpace(parts[1]))
		if err != nil {
			return series.Range{}, err
		}
		return series.NewRange(start, end)

	case strings.HasPrefix(expr, "last-") && strings.HasSuffix(expr, "d"):
		nStr := strings.TrimSuffix(strings.TrimPrefix(expr, "last-"), "d")
		n, err := strconv.Atoi(nStr)
		if err != nil || n <= 0 {
			return series.Range{}, fmt.Errorf("bad relative range %q", expr)
		}
		return series.NewRange(today.AddDays(-(n - 1)), today)

	case strings.HasPrefix(expr, "since-"):
		start, err := series.ParseDate(strings.TrimPrefix(expr, "since-"))
		if err != nil {
			return series.Range{}, err
		}
		return series.NewRange(start, today)

	default:
		return series.Range{}, fmt.Errorf("unrecognized range %q", expr)
	}
}

// ParseFilter parses a category filter expression into a Constraint.
func ParseFilter(expr string) (Constraint, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return NoConstraint(), nil
	}

	if open := strings.Index(expr, " in ("); open > 0 && strings.HasSuffix(expr, ")") {
		key := strings.TrimSpace(expr[:open])
		list := expr[open+len(" in (") : len(expr)-1]
		var values []string
		for _, v := range strings.Split(list, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				return Constraint{}, fmt.Errorf("empty value in filter %q", expr)
			}
			values = append(values, v)
		}
		if err := validation.ValidateCategoryToken(key); err != nil {
			return Constraint{}, err
		}
		if err := validation.ValidateCategoryTokens(values); err != nil {
			return Constraint{}, err
		}
		return AnyOfConstraint(key, values...), nil
	}

	if eq := strings.Index(expr, "="); eq > 0 {
		key := strings.TrimSpace(expr[:eq])
		value := strings.TrimSpace(expr[eq+1:])
		if err := validation.ValidateCategoryToken(key); err != nil {
			return Constraint{}, err
		}
		if err := validation.ValidateCategoryToken(value); err != nil {
			return Constraint{}, err
		}
		return FixedConstraint(key, value), nil
	}

	return Constraint{}, fmt.Errorf("unparseable filter %q", expr)
}

// checkConstraint cross-checks Fixed/AnyOf constraints against the registry.
//
// A key the registry declares nonexistent, or a value outside the partition,
// is a caller error. A registry that fails for infrastructure reasons leaves
// the constraint as-is: the prover treats unresolvable partitions as
// incomplete, which is the conservative direction.
func checkConstraint(ctx context.Context, c Constraint, reg registry.Registry) (Constraint, error) {
	if c.Kind == ConstraintNone {
		return c, nil
	}

	part, err := reg.ResolvePartition(ctx, c.Key)
	if errors.Is(err, registry.ErrPartitionNotFound) {
		return Constraint{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if err != nil {
		return c, nil
	}

	switch c.Kind {
	case ConstraintFixed:
		if !part.Contains(c.Value) {
			return Constraint{}, fmt.Errorf("%w: value %q not in partition %q",
				ErrInvalidIntent, c.Value, c.Key)
		}
	case ConstraintAnyOf:
		for _, v := range c.Values {
			if !part.Contains(v) {
				return Constraint{}, fmt.Errorf("%w: value %q not in partition %q",
					ErrInvalidIntent, v, c.Key)
			}
		}
		c.AllowUncategorized = part.AllowUncategorized
	}
	return c, nil
}

// Fingerprint computes the query signature: the hex sha256 of the canonical
// JSON encoding of the adapter query spec. encoding/json sorts map keys, so
// semantically identical specs fingerprint identically.
func Fingerprint(spec map[string]any) (string, error) {
	if spec == nil {
		spec = map[string]any{}
	}
	canonical, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("fingerprint query spec: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
