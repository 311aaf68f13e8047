// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package planner

import (
	"context"
	"errors"
	"net/http"

	"github.com/graphsheet/seriessync/services/planner/intent"
	"github.com/graphsheet/seriessync/services/planner/storage"
)

// ErrorResponse is the error payload for all planner endpoints.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`

	// Code is a machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context.
	Details string `json:"details,omitempty"`
}

// statusFor maps a service error to an HTTP status and error code. The
// fallback code names the operation that failed.
//
// Invalid intents are the caller's problem; an unavailable store is ours
// and retryable, so it answers 503 rather than 500.
func statusFor(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, intent.ErrInvalidIntent):
		return http.StatusBadRequest, "INVALID_INTENT"
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, fallback
	}
}
