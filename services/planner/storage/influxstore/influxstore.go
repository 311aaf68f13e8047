// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package influxstore persists the series cache in InfluxDB 2.x.
//
// Layout: measurement "series_cache", one series per slot — tags item, mode,
// and category ("<key>=<value>" or "-"), point timestamp the date at
// midnight UTC. Writing a point into an existing slot overwrites its fields,
// which is exactly the merge contract. Fields carry the payload (point or
// JSON curve), the query signature, and the retrieval stamp.
//
// Item keys are validated before Flux interpolation; category tokens and
// modes come from validated intents, so tag values never need escaping.
package influxstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/graphsheet/seriessync/pkg/validation"
	"github.com/graphsheet/seriessync/services/planner/series"
	"github.com/graphsheet/seriessync/services/planner/storage"
)

const measurement = "series_cache"

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string `json:"url" yaml:"url" validate:"required,url"`
	Token  string `json:"token" yaml:"token" validate:"required"`
	Org    string `json:"org" yaml:"org" validate:"required"`
	Bucket string `json:"bucket" yaml:"bucket" validate:"required"`
}

// Store implements the planner's cache contract on InfluxDB.
type Store struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
	log    *slog.Logger
}

// New connects to InfluxDB. The connection is lazy; a bad URL or token
// surfaces on the first read or write.
func New(cfg Config, log *slog.Logger) (*Store, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url, token, org, and bucket are all required")
	}
	if log == nil {
		log = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Store{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
		log:    log,
	}, nil
}

// Close releases the client's idle connections.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// ReadEntries queries one item over the range, pivoted so each row carries
// all fields for one slot.
func (s *Store) ReadEntries(ctx context.Context, itemKey string, r series.Range) ([]series.Entry, error) {
	key, err := validation.SanitizeItemKey(itemKey)
	if err != nil {
		return nil, fmt.Errorf("refusing to query with invalid item key: %w", err)
	}

	query := fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.item == "%s")
		  |> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"], desc: false)
	`, s.bucket,
		r.Start.Time().Format(time.RFC3339),
		r.End.AddDays(1).Time().Format(time.RFC3339),
		measurement, key)

	result, err := s.query.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query cache for %s: %w", storage.ErrUnavailable, key, err)
	}
	if result == nil {
		return nil, nil
	}

	var out []series.Entry
	for result.Next() {
		e, err := entryFromRecord(key, result.Record())
		if err != nil {
			s.log.Warn("skipping malformed cache row",
				"item_key", key,
				"time", result.Record().Time(),
				"error", err.Error())
			continue
		}
		out = append(out, e)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("%w: read cache rows for %s: %w", storage.ErrUnavailable, key, result.Err())
	}
	return out, nil
}

// MergeOverwrite writes one point per entry with the blocking API. Influx
// replaces fields for an existing (series, timestamp) pair, which gives the
// slot-overwrite semantics for free.
func (s *Store) MergeOverwrite(ctx context.Context, itemKey string, entries []series.Entry) error {
	key, err := validation.SanitizeItemKey(itemKey)
	if err != nil {
		return fmt.Errorf("refusing to write with invalid item key: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(entries))
	for _, e := range entries {
		e.ItemKey = key
		p, err := pointFromEntry(e)
		if err != nil {
			return fmt.Errorf("encode entry for %s on %s: %w", key, e.Date, err)
		}
		points = append(points, p)
	}
	if err := s.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("%w: write cache points for %s: %w", storage.ErrUnavailable, key, err)
	}
	return nil
}

func pointFromEntry(e series.Entry) (*write.Point, error) {
	fields := map[string]interface{}{
		"signature": e.Signature,
	}
	if !e.RetrievedAt.IsZero() {
		fields["retrieved_at"] = e.RetrievedAt.UTC().Format(time.RFC3339Nano)
	}

	switch e.Value.Shape() {
	case series.ShapePoint:
		fields["point"] = *e.Value.Point
	case series.ShapeCurve:
		curve, err := json.Marshal(e.Value.Curve)
		if err != nil {
			return nil, fmt.Errorf("encode curve: %w", err)
		}
		fields["curve"] = string(curve)
	default:
		return nil, errors.New("entry has no usable payload shape")
	}

	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"item":     e.ItemKey,
			"mode":     string(e.Mode),
			"category": categoryTag(e),
		},
		fields,
		e.Date.Time(),
	), nil
}

func entryFromRecord(itemKey string, rec *query.FluxRecord) (series.Entry, error) {
	e := series.Entry{
		ItemKey: itemKey,
		Date:    series.DateOf(rec.Time()),
	}

	mode, _ := rec.ValueByKey("mode").(string)
	e.Mode = series.Mode(mode)

	category, _ := rec.ValueByKey("category").(string)
	if category != "" && category != "-" {
		k, v, ok := strings.Cut(category, "=")
		if !ok {
			return series.Entry{}, fmt.Errorf("unparseable category tag %q", category)
		}
		e.CategoryKey, e.CategoryValue = k, v
	}

	if sig, ok := rec.ValueByKey("signature").(string); ok {
		e.Signature = sig
	}
	if raw, ok := rec.ValueByKey("retrieved_at").(string); ok && raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return series.Entry{}, fmt.Errorf("unparseable retrieved_at %q", raw)
		}
		e.RetrievedAt = at
	}

	point, hasPoint := rec.ValueByKey("point").(float64)
	curveRaw, hasCurve := rec.ValueByKey("curve").(string)
	switch {
	case hasPoint && hasCurve && curveRaw != "":
		// A slot that flipped payload shape upstream; unusable either way.
		return series.Entry{}, errors.New("slot carries both point and curve fields")
	case hasPoint:
		e.Value = series.PointValue(point)
	case hasCurve && curveRaw != "":
		var curve []float64
		if err := json.Unmarshal([]byte(curveRaw), &curve); err != nil {
			return series.Entry{}, fmt.Errorf("decode curve: %w", err)
		}
		e.Value = series.CurveValue(curve...)
	default:
		return series.Entry{}, errors.New("slot carries no payload field")
	}

	return e, nil
}

func categoryTag(e series.Entry) string {
	if !e.Categorized() {
		return "-"
	}
	return e.CategoryKey + "=" + e.CategoryValue
}
