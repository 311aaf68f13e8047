// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/graphsheet/seriessync/pkg/ux"
	"github.com/graphsheet/seriessync/services/planner"
	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/series"
)

const (
	// DefaultServiceHost and DefaultServicePort match the plannerd
	// default listen address.
	DefaultServiceHost = "localhost"
	DefaultServicePort = 8095

	// defaultTimeout bounds quick calls (plan, registry, health).
	// Converge runs get a budget-aware timeout instead.
	defaultTimeout = 30 * time.Second
)

// serviceBaseURL returns the planner service address.
func serviceBaseURL() string {
	// 1. Priority: Environment Variable (Used by Tests & Docker overrides)
	if url := os.Getenv("SERIESSYNC_SERVICE_URL"); url != "" {
		return strings.TrimRight(url, "/")
	}
	// 2. Default: Standard Host/Port
	return fmt.Sprintf("http://%s:%d", DefaultServiceHost, DefaultServicePort)
}

// APIError is a non-2xx response from the planner service, carrying the
// service's structured error body when one was sent.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Response is the decoded error body; zero-valued if the body was
	// not the service error shape.
	Response planner.ErrorResponse
}

// Error returns a formatted error message.
func (e *APIError) Error() string {
	if e.Response.Error != "" {
		return fmt.Sprintf("service error (status %d, %s): %s",
			e.StatusCode, e.Response.Code, e.Response.Error)
	}
	return fmt.Sprintf("service error (status %d)", e.StatusCode)
}

// postJSON sends payload to the service path and decodes the response
// into out. A nil out discards the body.
func postJSON(path string, payload any, out any, timeout time.Duration) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	// Use a client with a timeout to prevent hanging on a dead service
	client := &http.Client{Timeout: timeout}

	url := serviceBaseURL() + path
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reaching %s: %w", url, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// getJSON fetches the service path and decodes the response into out.
func getJSON(path string, out any) error {
	client := &http.Client{Timeout: defaultTimeout}

	url := serviceBaseURL() + path
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("reaching %s: %w", url, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		// Best effort: the body may not be the structured shape.
		_ = json.Unmarshal(body, &apiErr.Response)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// queryFileDoc is the shape of a --file queries document.
type queryFileDoc struct {
	Queries []intent.RawQuery `yaml:"queries" json:"queries"`
}

// loadQueries assembles the query list from either --file or the
// positional item key plus the query flags.
func loadQueries(args []string) ([]intent.RawQuery, error) {
	if queryFile != "" {
		data, err := os.ReadFile(queryFile)
		if err != nil {
			return nil, fmt.Errorf("reading query file: %w", err)
		}
		var doc queryFileDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing query file: %w", err)
		}
		if len(doc.Queries) == 0 {
			return nil, fmt.Errorf("query file %s has no queries", queryFile)
		}
		return doc.Queries, nil
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("an item key argument or --file is required")
	}
	if queryRange == "" {
		return nil, fmt.Errorf("--range is required, e.g. --range last-90d")
	}
	return []intent.RawQuery{{
		ItemKey: args[0],
		Mode:    queryMode,
		Range:   queryRange,
		Filter:  queryFilter,
	}}, nil
}

// parseReferenceNow resolves the --now flag. Empty means "let the
// service use its clock".
func parseReferenceNow() (*time.Time, error) {
	if referenceNow == "" {
		return nil, nil
	}
	if d, err := time.Parse(series.DateLayout, referenceNow); err == nil {
		t := d.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, referenceNow)
	if err != nil {
		return nil, fmt.Errorf("--now must be YYYY-MM-DD or RFC3339: %w", err)
	}
	t = t.UTC()
	return &t, nil
}

// fail reports a command failure and exits. Run handlers use it for
// errors that leave nothing to render.
func fail(context string, err error) {
	ux.Error(fmt.Sprintf("%s: %v", context, err))
	os.Exit(1)
}

// printJSON renders v as indented JSON for --json output.
func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail("encoding output", err)
	}
	fmt.Println(string(data))
}
