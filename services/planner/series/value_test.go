// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// Tests for value shapes and mode isolation at the entry level.

package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestValueShape derives the shape from the payload structure.
func TestValueShape(t *testing.T) {
	assert.Equal(t, ShapePoint, PointValue(42).Shape())
	assert.Equal(t, ShapeCurve, CurveValue(1, 2, 3).Shape())
	assert.Equal(t, ShapeEmpty, Value{}.Shape())

	// Zero is a real point value, not an empty payload.
	assert.Equal(t, ShapePoint, PointValue(0).Shape())

	// A payload carrying both forms is malformed and treated as empty.
	v := PointValue(1)
	v.Curve = []float64{1, 2}
	assert.Equal(t, ShapeEmpty, v.Shape())
}

// TestShapeModeOf maps shapes to the modes they serve.
func TestShapeModeOf(t *testing.T) {
	m, ok := ShapePoint.ModeOf()
	assert.True(t, ok)
	assert.Equal(t, ModeWindow, m)

	m, ok = ShapeCurve.ModeOf()
	assert.True(t, ok)
	assert.Equal(t, ModeCohort, m)

	_, ok = ShapeEmpty.ModeOf()
	assert.False(t, ok)
}

// TestParseMode accepts the two known modes and nothing else.
func TestParseMode(t *testing.T) {
	m, err := ParseMode("window")
	assert.NoError(t, err)
	assert.Equal(t, ModeWindow, m)

	m, err = ParseMode("cohort")
	assert.NoError(t, err)
	assert.Equal(t, ModeCohort, m)

	_, err = ParseMode("weekly")
	assert.Error(t, err)
	_, err = ParseMode("")
	assert.Error(t, err)
}

// TestEntryUsableFor enforces shape-first mode isolation.
func TestEntryUsableFor(t *testing.T) {
	point := Entry{
		ItemKey:     "github.stars",
		Date:        NewDate(2025, time.November, 3),
		Value:       PointValue(120),
		RetrievedAt: time.Date(2025, time.November, 4, 8, 0, 0, 0, time.UTC),
	}

	t.Run("shape decides when marker absent", func(t *testing.T) {
		assert.True(t, point.UsableFor(ModeWindow))
		assert.False(t, point.UsableFor(ModeCohort))
	})

	t.Run("marker matching shape is fine", func(t *testing.T) {
		e := point
		e.Mode = ModeWindow
		assert.True(t, e.UsableFor(ModeWindow))
	})

	t.Run("marker contradicting shape vetoes both modes", func(t *testing.T) {
		e := point
		e.Mode = ModeCohort // lying marker on a point payload
		assert.False(t, e.UsableFor(ModeCohort))
		assert.False(t, e.UsableFor(ModeWindow))
	})

	t.Run("curve payload never serves window intents", func(t *testing.T) {
		e := point
		e.Value = CurveValue(1, 2, 3)
		e.Mode = ""
		assert.True(t, e.UsableFor(ModeCohort))
		assert.False(t, e.UsableFor(ModeWindow))
	})

	t.Run("empty payload serves nothing", func(t *testing.T) {
		e := point
		e.Value = Value{}
		assert.False(t, e.UsableFor(ModeWindow))
		assert.False(t, e.UsableFor(ModeCohort))
	})
}

// TestEntryCategorized is trivial but pins the uncategorized convention.
func TestEntryCategorized(t *testing.T) {
	e := Entry{ItemKey: "campaign.spend"}
	assert.False(t, e.Categorized())
	e.CategoryKey, e.CategoryValue = "channel", "email"
	assert.True(t, e.Categorized())
}
