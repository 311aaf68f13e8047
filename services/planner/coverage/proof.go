// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coverage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/graphsheet/seriessync/services/planner/registry"
	"github.com/graphsheet/seriessync/services/planner/series"
)

// Proof failure reasons. These end up in plan explanations, so keep them
// short and stable.
const (
	// ProofRegistryUnresolved: the registry could not answer for the
	// category key. Completeness is unknowable, so the proof fails.
	ProofRegistryUnresolved = "registry-unresolved"

	// ProofUnknownKey: the registry has no partition under this key.
	ProofUnknownKey = "unknown-category-key"

	// ProofMissingValues: one or more authoritative values have no entry.
	ProofMissingValues = "missing-values"

	// ProofMixedSignatures: the observed slices disagree on signature, so
	// summing them would mix query shapes.
	ProofMixedSignatures = "mixed-signatures"

	// ProofNoObserved: nothing categorized under this key was found.
	ProofNoObserved = "no-observed-values"
)

// ObservedSlice is one cached categorized entry as the prover sees it:
// which value it covers, under what signature, retrieved when.
type ObservedSlice struct {
	Value       string
	Signature   string
	RetrievedAt time.Time
}

// PartitionProof is the explicit verdict on whether a set of categorized
// slices reconstructs a total. Both flags must hold for the total to be
// trustworthy; everything else is detail for explanations.
type PartitionProof struct {
	// Complete: every authoritative (or requested) value is present.
	Complete bool `json:"complete"`

	// Homogeneous: all observed slices share one signature.
	Homogeneous bool `json:"homogeneous"`

	// MissingValues lists the values with no observed slice, sorted.
	MissingValues []string `json:"missing_values,omitempty"`

	// Signature is the shared signature when Homogeneous and non-empty.
	Signature string `json:"signature,omitempty"`

	// Reason names the first failure when the proof does not hold.
	Reason string `json:"reason,omitempty"`
}

// Holds reports whether the proof permits treating the slices as a total.
func (p PartitionProof) Holds() bool {
	return p.Complete && p.Homogeneous
}

// Prover checks categorized cache slices against the partition registry.
//
// The prover never guesses: if the registry cannot be resolved, the proof
// fails closed. Returning a false "complete" here would let a fetch plan
// skip dates whose totals silently miss a slice of traffic, which is the one
// failure mode this whole package exists to prevent.
type Prover struct {
	registry registry.Registry
}

// NewProver returns a Prover backed by the given registry.
func NewProver(reg registry.Registry) *Prover {
	return &Prover{registry: reg}
}

// Prove checks the observed slices for one category key against the
// registry's authoritative value list.
func (p *Prover) Prove(ctx context.Context, categoryKey string, observed []ObservedSlice) PartitionProof {
	part, err := p.registry.ResolvePartition(ctx, categoryKey)
	if err != nil {
		reason := ProofRegistryUnresolved
		if errors.Is(err, registry.ErrPartitionNotFound) {
			reason = ProofUnknownKey
		}
		partitionProofsTotal.WithLabelValues(reason).Inc()
		proof := proveValues(nil, observed)
		proof.Complete = false
		proof.Reason = reason
		return proof
	}
	proof := proveValues(part.Authoritative(), observed)
	partitionProofsTotal.WithLabelValues(proofOutcome(proof)).Inc()
	return proof
}

// ProveSubset checks observed slices against an explicit requested value
// set instead of the registry. Used for "any of" constraints, where the
// intent itself names the values that must all be present.
func (p *Prover) ProveSubset(requested []string, observed []ObservedSlice) PartitionProof {
	proof := proveValues(requested, observed)
	partitionProofsTotal.WithLabelValues(proofOutcome(proof)).Inc()
	return proof
}

// proveValues is the pure core: required value set vs observed slices.
// A nil required set only computes homogeneity; Complete stays false.
func proveValues(required []string, observed []ObservedSlice) PartitionProof {
	var proof PartitionProof

	if len(observed) == 0 {
		proof.MissingValues = sortedCopy(required)
		proof.Reason = ProofNoObserved
		return proof
	}

	have := make(map[string]bool, len(observed))
	proof.Homogeneous = true
	proof.Signature = observed[0].Signature
	for _, o := range observed {
		have[o.Value] = true
		if o.Signature != proof.Signature {
			proof.Homogeneous = false
		}
	}
	if !proof.Homogeneous {
		proof.Signature = ""
	}

	for _, v := range required {
		if !have[v] {
			proof.MissingValues = append(proof.MissingValues, v)
		}
	}
	sort.Strings(proof.MissingValues)

	proof.Complete = required != nil && len(proof.MissingValues) == 0
	switch {
	case !proof.Complete:
		proof.Reason = ProofMissingValues
	case !proof.Homogeneous:
		proof.Reason = ProofMixedSignatures
	}
	return proof
}

func proofOutcome(p PartitionProof) string {
	if p.Holds() {
		return "holds"
	}
	return p.Reason
}

func sortedCopy(vs []string) []string {
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, len(vs))
	copy(out, vs)
	sort.Strings(out)
	return out
}

// observedSlices projects cache entries into the prover's view.
func observedSlices(entries []series.Entry) []ObservedSlice {
	out := make([]ObservedSlice, 0, len(entries))
	for _, e := range entries {
		out = append(out, ObservedSlice{
			Value:       e.CategoryValue,
			Signature:   e.Signature,
			RetrievedAt: e.RetrievedAt,
		})
	}
	return out
}

// partitionRetrievedAt is the effective retrieval time of a reconstructed
// total: the oldest constituent. Any unknown constituent makes the whole
// total unknown.
func partitionRetrievedAt(observed []ObservedSlice) time.Time {
	var oldest time.Time
	for i, o := range observed {
		if o.RetrievedAt.IsZero() {
			return time.Time{}
		}
		if i == 0 || o.RetrievedAt.Before(oldest) {
			oldest = o.RetrievedAt
		}
	}
	return oldest
}
