// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/time/rate"

	"github.com/graphsheet/seriessync/services/planner/series"
)

// maxErrorBody bounds how much of an upstream error response we keep.
const maxErrorBody = 2048

// HTTPClient is the injectable HTTP surface, so tests swap transports
// without a server.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// GatewayConfig tunes upstream behavior.
type GatewayConfig struct {
	// Timeout bounds one window call, independent of the run's context.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// RateLimit is the request budget in calls per second across all
	// upstreams. Zero disables limiting.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// RateBurst is the limiter's burst allowance.
	RateBurst int `json:"rate_burst" yaml:"rate_burst"`

	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// DefaultGatewayConfig matches the providers' published fair-use limits.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Timeout:   30 * time.Second,
		RateLimit: 4,
		RateBurst: 8,
		UserAgent: "seriessync/1",
	}
}

// Gateway is the production Transport: one JSON POST per window to the
// endpoint the resolver picks for the item.
//
// The upstream bearer token lives in a memguard enclave and is decrypted
// only for the moment the request headers are built, so a heap dump between
// fetches does not leak it.
type Gateway struct {
	client    HTTPClient
	resolver  Resolver
	limiter   *rate.Limiter
	token     *memguard.Enclave
	timeout   time.Duration
	userAgent string
	log       *slog.Logger
}

// NewGateway wires a Gateway. token may be nil for unauthenticated
// providers; when given, it is sealed immediately and the caller's copy is
// wiped.
func NewGateway(client HTTPClient, resolver Resolver, token []byte, cfg GatewayConfig, log *slog.Logger) *Gateway {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		client:    client,
		resolver:  resolver,
		timeout:   cfg.Timeout,
		userAgent: cfg.UserAgent,
		log:       log,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if len(token) > 0 {
		g.token = memguard.NewEnclave(token)
	}
	return g
}

// fetchResponse is the provider wire format.
type fetchResponse struct {
	Entries []fetchRow `json:"entries"`
}

type fetchRow struct {
	Date          series.Date `json:"date"`
	Point         *float64    `json:"point,omitempty"`
	Curve         []float64   `json:"curve,omitempty"`
	CategoryKey   string      `json:"category_key,omitempty"`
	CategoryValue string      `json:"category_value,omitempty"`
}

// FetchWindow POSTs the window request and maps the provider rows to cache
// entries. Mode, signature, and retrieval stamps are the executor's job;
// the gateway only carries what the provider said.
func (g *Gateway) FetchWindow(ctx context.Context, req WindowRequest) ([]series.Entry, error) {
	endpoint, ok := g.resolver.Resolve(req.ItemKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, req.ItemKey)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode window request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build window request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.userAgent != "" {
		httpReq.Header.Set("User-Agent", g.userAgent)
	}
	if g.token != nil {
		buf, err := g.token.Open()
		if err != nil {
			return nil, fmt.Errorf("open token enclave: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+buf.String())
		defer buf.Destroy()
	}

	started := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		upstreamRequestsTotal.WithLabelValues("error").Inc()
		return nil, &Error{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	upstreamRequestDuration.Observe(time.Since(started).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := NewStatusError(resp.StatusCode, string(snippet))
		g.log.Warn("upstream fetch failed",
			"item_key", req.ItemKey,
			"window", req.Start.String()+".."+req.End.String(),
			"status", resp.StatusCode,
			"transient", err.Transient)
		return nil, err
	}

	var decoded fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Transient: true, Err: fmt.Errorf("decode provider response: %w", err)}
	}

	entries := make([]series.Entry, 0, len(decoded.Entries))
	for _, row := range decoded.Entries {
		e := series.Entry{
			ItemKey:       req.ItemKey,
			Date:          row.Date,
			CategoryKey:   row.CategoryKey,
			CategoryValue: row.CategoryValue,
		}
		switch {
		case row.Point != nil:
			e.Value = series.PointValue(*row.Point)
		case row.Curve != nil:
			e.Value = series.CurveValue(row.Curve...)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
