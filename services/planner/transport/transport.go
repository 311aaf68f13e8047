// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transport fetches series windows from upstream providers.
//
// The executor cares about exactly one distinction: can this failure heal on
// a later attempt (transient) or not (terminal). Rate limits and provider
// hiccups are transient; a provider telling us the request itself is wrong
// is terminal. That classification lives here, next to the HTTP code that
// produces it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/graphsheet/seriessync/services/planner/series"
)

// ErrNoConnection means no source serves the item key. Planning marks such
// items unfetchable up front; hitting this during execution means the
// routing table changed underneath the plan.
var ErrNoConnection = errors.New("no transport source for item")

// WindowRequest is one upstream call: one item, one contiguous date span.
type WindowRequest struct {
	ItemKey   string         `json:"item_key"`
	Mode      series.Mode    `json:"mode"`
	Start     series.Date    `json:"start"`
	End       series.Date    `json:"end"`
	Filter    string         `json:"filter,omitempty"`
	QuerySpec map[string]any `json:"query_spec,omitempty"`
}

// Transport executes one fetch window. Implementations must be safe for
// concurrent use; the executor fans windows of different items out in
// parallel.
type Transport interface {
	FetchWindow(ctx context.Context, req WindowRequest) ([]series.Entry, error)
}

// Resolver maps an item key to the upstream endpoint that serves it.
type Resolver interface {
	Resolve(itemKey string) (string, bool)
}

// Error is a fetch failure with an upstream status attached.
type Error struct {
	// Status is the HTTP status, or zero for failures before a response.
	Status int

	// Transient says whether a later attempt can succeed.
	Transient bool

	// Body is a short snippet of the upstream response, for logs.
	Body string

	// Err is the underlying cause for status-less failures.
	Err error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		kind := "terminal"
		if e.Transient {
			kind = "transient"
		}
		return fmt.Sprintf("upstream status %d (%s): %s", e.Status, kind, e.Body)
	}
	return fmt.Sprintf("upstream unreachable: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify says whether an HTTP status is worth retrying on a later run:
// 429 and 5xx heal with time, everything else non-2xx is a request the
// provider has rejected for good.
func Classify(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// NewStatusError builds an Error for a non-2xx response.
func NewStatusError(status int, body string) *Error {
	return &Error{Status: status, Transient: Classify(status), Body: body}
}

// IsTransient reports whether a fetch failure may heal on a later attempt.
// Status-carrying errors answer for themselves; a missing source is
// terminal; anything else (dial failures, timeouts, truncated responses)
// is assumed transient.
func IsTransient(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Transient
	}
	if errors.Is(err, ErrNoConnection) {
		return false
	}
	return true
}

// Rule routes item keys with a given prefix to an endpoint URL. An empty
// prefix is the catch-all.
type Rule struct {
	Prefix string `json:"prefix" yaml:"prefix"`
	URL    string `json:"url" yaml:"url" validate:"required,url"`
}

// StaticResolver routes by longest matching prefix.
type StaticResolver struct {
	rules []Rule
}

// NewStaticResolver copies and orders the rules; longer prefixes win.
func NewStaticResolver(rules ...Rule) *StaticResolver {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &StaticResolver{rules: sorted}
}

// Resolve returns the endpoint for the first (longest) matching prefix.
func (r *StaticResolver) Resolve(itemKey string) (string, bool) {
	for _, rule := range r.rules {
		if strings.HasPrefix(itemKey, rule.Prefix) {
			return rule.URL, true
		}
	}
	return "", false
}
