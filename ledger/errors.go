// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in ledger error bodies.
const (
	CodeUnauthorized      = "unauthorized"
	CodeNotFound          = "not_found"
	CodeInsufficientFunds = "insufficient_funds"
	CodeAlreadyTerminal   = "already_terminal"
	CodeInvalidRequest    = "invalid_request"
	CodeInternal          = "internal"
)

// APIError is a structured error response from the ledger service.
//
//	var apiErr *ledger.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == ledger.CodeInsufficientFunds { ... }
type APIError struct {
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`

	// Status is set on already_terminal responses.
	Status Status `json:"status,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Is maps error codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeNotFound
	case ErrInsufficientFunds:
		return e.Code == CodeInsufficientFunds
	case ErrInvalidRequest:
		return e.Code == CodeInvalidRequest
	case ErrAuth:
		return e.Code == CodeUnauthorized
	}
	return false
}

// apiErrorFor converts a sentinel-wrapping error from Memory into the
// response the HTTP surface sends.
func apiErrorFor(err error) *APIError {
	switch {
	case errors.Is(err, ErrAuth):
		return &APIError{Code: CodeUnauthorized, Message: err.Error(), StatusCode: http.StatusUnauthorized}
	case errors.Is(err, ErrNotFound):
		return &APIError{Code: CodeNotFound, Message: err.Error(), StatusCode: http.StatusNotFound}
	case errors.Is(err, ErrInsufficientFunds):
		return &APIError{Code: CodeInsufficientFunds, Message: err.Error(), StatusCode: http.StatusPaymentRequired}
	case errors.Is(err, ErrInvalidRequest):
		return &APIError{Code: CodeInvalidRequest, Message: err.Error(), StatusCode: http.StatusBadRequest}
	}
	return &APIError{Code: CodeInternal, Message: err.Error(), StatusCode: http.StatusInternalServerError}
}
