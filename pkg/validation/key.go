// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for security-critical values.
//
// Item keys and category tokens flow into database queries (Flux string
// interpolation, Badger key prefixes) and into gateway request paths.
// Validating them at the boundary prevents injection through query text
// and keeps storage keys parseable.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// itemKeyPattern matches namespaced series keys.
// Allows: lowercase letters, digits, segments joined by dots, hyphens and
// underscores inside a segment ("github.stars", "notion.page_views",
// "ads.spend-daily"). Max length: 64 characters.
var itemKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*(\.[a-z0-9][a-z0-9_\-]*)*$`)

// categoryTokenPattern matches category keys and values.
// Same alphabet as a key segment, no dots. Max length: 32 characters.
var categoryTokenPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]*$`)

// ValidateItemKey validates a series item key to prevent Flux injection.
//
// Valid keys:
//   - 1-64 characters
//   - lowercase letters, digits, underscores, hyphens
//   - dot-separated namespace segments, no leading/trailing/double dots
//
// Example:
//
//	if err := validation.ValidateItemKey(key); err != nil {
//	    return nil, fmt.Errorf("invalid item key: %w", err)
//	}
//	// Safe to interpolate into a Flux filter
func ValidateItemKey(key string) error {
	if key == "" {
		return fmt.Errorf("item key cannot be empty")
	}
	if len(key) > 64 {
		return fmt.Errorf("item key too long: %d chars (max 64)", len(key))
	}
	if !itemKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid item key format: %q (lowercase alphanumeric segments joined by dots)", key)
	}
	return nil
}

// SanitizeItemKey normalizes and validates an item key.
// Returns the lowercase trimmed key if valid.
func SanitizeItemKey(key string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if err := ValidateItemKey(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateCategoryToken validates a category key or value.
//
// Category tokens become storage tags and Flux filter operands; the alphabet
// is deliberately narrower than item keys (no dots, max 32 chars).
func ValidateCategoryToken(token string) error {
	if token == "" {
		return fmt.Errorf("category token cannot be empty")
	}
	if len(token) > 32 {
		return fmt.Errorf("category token too long: %d chars (max 32)", len(token))
	}
	if !categoryTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid category token: %q (lowercase alphanumeric, _ or -)", token)
	}
	return nil
}

// ValidateCategoryTokens validates a batch of category values.
// Returns an error listing every invalid token if any fail.
func ValidateCategoryTokens(tokens []string) error {
	var invalid []string
	for _, tok := range tokens {
		if err := ValidateCategoryToken(tok); err != nil {
			invalid = append(invalid, tok)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid category tokens: %v", invalid)
	}
	return nil
}
