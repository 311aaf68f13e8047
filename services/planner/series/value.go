// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package series

import "fmt"

// Mode is the time-aggregation semantics of a fetchable item.
//
// Window mode holds one point value per date. Cohort mode holds a curve per
// date: the metric's path at increasing day offsets from that cohort date.
// The two are mutually exclusive; a window cache row never satisfies a
// cohort query and vice versa.
type Mode string

const (
	// ModeWindow aggregates one point value per calendar date.
	ModeWindow Mode = "window"

	// ModeCohort tracks a per-day-offset curve for each cohort date.
	ModeCohort Mode = "cohort"
)

// ParseMode validates a textual mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeWindow, ModeCohort:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Valid reports whether m is one of the two known modes.
func (m Mode) Valid() bool {
	return m == ModeWindow || m == ModeCohort
}

// Shape is the structural form of a persisted value.
//
// Shape is derived from the payload itself, never from a textual marker.
// Mode isolation hangs off this: a row claiming "cohort" in its marker but
// holding a point payload is not usable for either mode.
type Shape int

const (
	// ShapeEmpty means the value carries no payload at all.
	ShapeEmpty Shape = iota

	// ShapePoint is a single point value (window mode).
	ShapePoint

	// ShapeCurve is a per-day-offset curve (cohort mode).
	ShapeCurve
)

func (s Shape) String() string {
	switch s {
	case ShapePoint:
		return "point"
	case ShapeCurve:
		return "curve"
	default:
		return "empty"
	}
}

// ModeOf maps a shape to the mode it can satisfy.
func (s Shape) ModeOf() (Mode, bool) {
	switch s {
	case ShapePoint:
		return ModeWindow, true
	case ShapeCurve:
		return ModeCohort, true
	default:
		return "", false
	}
}

// Value is the numeric payload of one cache entry.
//
// Exactly one of Point or Curve is set on a well-formed value; the payload's
// shape, not any marker next to it, decides which mode it can serve.
type Value struct {
	Point *float64  `json:"point,omitempty"`
	Curve []float64 `json:"curve,omitempty"`
}

// PointValue builds a window-mode value.
func PointValue(v float64) Value {
	return Value{Point: &v}
}

// CurveValue builds a cohort-mode value. The slice is day-offset indexed:
// vs[0] is the cohort date itself.
func CurveValue(vs ...float64) Value {
	return Value{Curve: vs}
}

// Shape returns the structural form of the value. A value carrying both a
// point and a curve is malformed and reported as empty so that callers
// degrade it to Missing rather than guessing.
func (v Value) Shape() Shape {
	switch {
	case v.Point != nil && len(v.Curve) > 0:
		return ShapeEmpty
	case len(v.Curve) > 0:
		return ShapeCurve
	case v.Point != nil:
		return ShapePoint
	default:
		return ShapeEmpty
	}
}

// MatchesMode reports whether the value's own shape can serve mode m.
func (v Value) MatchesMode(m Mode) bool {
	sm, ok := v.Shape().ModeOf()
	return ok && sm == m
}
