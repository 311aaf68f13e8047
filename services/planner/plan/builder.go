// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package plan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/graphsheet/seriessync/services/planner/coverage"
	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/series"
)

var builderTracer = otel.Tracer("graphsheet.planner.plan")

// EntryReader is the slice of the storage contract the builder needs: a
// snapshot read of one item over one range.
type EntryReader interface {
	ReadEntries(ctx context.Context, itemKey string, r series.Range) ([]series.Entry, error)
}

// SourceResolver answers whether any transport source serves an item key.
// Items without a source are planned as unfetchable instead of being sent
// to an executor that can only fail them.
type SourceResolver interface {
	Resolve(itemKey string) (string, bool)
}

// BuilderConfig bounds the per-item fan-out.
type BuilderConfig struct {
	// Workers caps concurrent item builds. Items are independent: each one
	// is a snapshot read plus pure classification.
	Workers int

	Log *slog.Logger
}

// DefaultBuilderConfig returns sane production defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{Workers: 8}
}

// Builder turns normalized intents plus the current cache snapshot into a
// plan. Build never writes: planning and acting are separate steps, and a
// plan can be shown, archived, or diffed before anything is fetched.
type Builder struct {
	store      EntryReader
	classifier *coverage.Classifier
	resolver   SourceResolver
	workers    int
	log        *slog.Logger
}

// NewBuilder wires a Builder. A nil resolver treats every item key as
// fetchable, which is what library and test callers usually want.
func NewBuilder(store EntryReader, classifier *coverage.Classifier, resolver SourceResolver, cfg BuilderConfig) *Builder {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultBuilderConfig().Workers
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Builder{
		store:      store,
		classifier: classifier,
		resolver:   resolver,
		workers:    cfg.Workers,
		log:        cfg.Log,
	}
}

// Build produces the plan for the given intents against the current cache
// snapshot, with now as the reference instant for staleness and timestamps.
//
// Description:
//
//	Each intent is resolved, read, and classified independently on a
//	bounded worker group, then the items are assembled in canonical order.
//	The result is a pure function of (cache snapshot, intents, now).
//
// Inputs:
//   - ctx: cancels in-flight reads and registry lookups.
//   - intents: normalized intents; order does not affect the output.
//   - now: injected reference instant. Callers pass the same value to the
//     executor so retrieval stamps line up with the plan.
//
// Outputs:
//   - *Plan: items sorted, windows minimal and sorted.
//   - error: the first store failure; a partial plan is never returned.
func (b *Builder) Build(ctx context.Context, intents []intent.Intent, now time.Time) (*Plan, error) {
	ctx, span := builderTracer.Start(ctx, "plan.build")
	defer span.End()
	span.SetAttributes(attribute.Int("intents", len(intents)))
	started := time.Now()

	items := make([]Item, len(intents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, it := range intents {
		i, it := i, it
		g.Go(func() error {
			item, err := b.buildItem(gctx, it, now)
			if err != nil {
				return fmt.Errorf("plan item %s: %w", it.ItemKey, err)
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	sortItems(items)
	p := &Plan{
		SchemaVersion: SchemaVersion,
		CreatedAt:     now.UTC(),
		ReferenceNow:  now.UTC(),
		Items:         items,
	}

	fetch, covered, unfetchable := p.Counts()
	plansBuiltTotal.Inc()
	planItemsTotal.WithLabelValues(string(ClassFetch)).Add(float64(fetch))
	planItemsTotal.WithLabelValues(string(ClassCovered)).Add(float64(covered))
	planItemsTotal.WithLabelValues(string(ClassUnfetchable)).Add(float64(unfetchable))
	planBuildDuration.Observe(time.Since(started).Seconds())

	b.log.Info("plan built",
		"items", len(p.Items),
		"fetch", fetch,
		"covered", covered,
		"unfetchable", unfetchable,
		"windows", p.WindowCount())
	return p, nil
}

func (b *Builder) buildItem(ctx context.Context, it intent.Intent, now time.Time) (Item, error) {
	if b.resolver != nil {
		if _, ok := b.resolver.Resolve(it.ItemKey); !ok {
			return Item{
				Intent:         it,
				Classification: ClassUnfetchable,
				Reason:         ReasonNoConnection,
			}, nil
		}
	}

	entries, err := b.store.ReadEntries(ctx, it.ItemKey, it.Range)
	if err != nil {
		return Item{}, fmt.Errorf("read cache: %w", err)
	}

	cov := b.classifier.Classify(ctx, it, entries, now)
	item := Item{
		Intent:         it,
		Windows:        coverage.WindowsFor(cov),
		Fresh:          cov.Fresh,
		Diagnostics:    cov.Diagnostics,
		Classification: ClassCovered,
	}
	if len(item.Windows) > 0 {
		item.Classification = ClassFetch
	}
	return item, nil
}
