// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bureau-foundation/switchboard/delegation"
	"github.com/bureau-foundation/switchboard/registry"
)

// Error codes carried in error bodies.
const (
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeInvalidRequest = "invalid_request"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Code    string `json:"errcode"`
	Message string `json:"error"`

	// Reason is set for authorization failures.
	Reason delegation.Reason `json:"reason,omitempty"`

	// Problems lists every validation failure.
	Problems []string `json:"problems,omitempty"`
}

func abortWith(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, ErrorBody{Code: code, Message: err.Error()})
}

// fail maps a component error onto a response.
func (a *API) fail(c *gin.Context, err error) {
	var (
		authErr       *delegation.AuthorizationError
		validationErr *registry.ValidationError
	)
	switch {
	case errors.As(err, &authErr):
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorBody{Code: CodeForbidden, Message: err.Error(), Reason: authErr.Reason})
	case errors.As(err, &validationErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{Code: CodeInvalidRequest, Message: err.Error(), Problems: validationErr.Problems})
	case errors.Is(err, delegation.ErrRateLimited):
		c.Header("Retry-After", "1")
		abortWith(c, http.StatusTooManyRequests, CodeRateLimited, err)
	case errors.Is(err, delegation.ErrNoGrant), errors.Is(err, registry.ErrNotFound):
		abortWith(c, http.StatusNotFound, CodeNotFound, err)
	case errors.Is(err, delegation.ErrNotOptedIn), errors.Is(err, delegation.ErrSelfDelegation):
		abortWith(c, http.StatusConflict, CodeConflict, err)
	default:
		a.logger.Error("request failed", "path", c.FullPath(), "error", err)
		abortWith(c, http.StatusInternalServerError, CodeInternal, errors.New("internal error"))
	}
}
