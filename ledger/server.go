// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bureau-foundation/switchboard/lib/ref"
)

const principalKey = "ledger_principal"

// Handler serves the ledger HTTP API backed by m:
//
//	POST /v1/accounts                            create account
//	PUT  /v1/accounts/:principal/credentials     set sealed credential
//	GET  /v1/accounts/:principal/balance         fetch balance
//	POST /v1/transactions                        open transaction
//	POST /v1/transactions/:token/confirm         confirm
//	POST /v1/transactions/:token/cancel          cancel
//
// Requests other than account creation and a first credential set
// authenticate with "Authorization: Bearer <credential>".
func (m *Memory) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery())

	v1 := engine.Group("/v1")
	v1.POST("/accounts", m.handleCreateAccount)
	v1.PUT("/accounts/:principal/credentials", m.handleUpdateCredentials)

	authenticated := v1.Group("", m.authenticate)
	authenticated.GET("/accounts/:principal/balance", m.handleBalance)
	authenticated.POST("/transactions", m.handleOpen)
	authenticated.POST("/transactions/:token/confirm", m.handleSettle(StatusCompleted))
	authenticated.POST("/transactions/:token/cancel", m.handleSettle(StatusCancelled))
	return engine
}

func (m *Memory) authenticate(c *gin.Context) {
	credential, ok := bearer(c)
	if !ok {
		abortWith(c, &AuthError{Reason: "missing bearer credential"})
		return
	}
	principal, err := m.Authenticate([]byte(credential))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Set(principalKey, principal)
	c.Next()
}

func (m *Memory) handleCreateAccount(c *gin.Context) {
	var request struct {
		Principal ref.Principal `json:"principal"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWith(c, errors.Join(ErrInvalidRequest, err))
		return
	}
	account, err := m.CreateAccount(c.Request.Context(), request.Principal)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (m *Memory) handleUpdateCredentials(c *gin.Context) {
	principal, err := ref.ParsePrincipal(c.Param("principal"))
	if err != nil {
		abortWith(c, errors.Join(ErrInvalidRequest, err))
		return
	}
	// The first credential bootstraps the account; replacing one
	// requires proving possession of the current credential.
	if m.hasCredential(principal) {
		credential, ok := bearer(c)
		if !ok {
			abortWith(c, &AuthError{Reason: "replacing a credential requires the current one"})
			return
		}
		caller, err := m.Authenticate([]byte(credential))
		if err != nil {
			abortWith(c, err)
			return
		}
		if caller != principal {
			abortWith(c, &AuthError{Reason: "credential belongs to another principal"})
			return
		}
	}

	var request struct {
		Sealed string `json:"sealed"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWith(c, errors.Join(ErrInvalidRequest, err))
		return
	}
	if err := m.UpdateSealedCredential(principal, request.Sealed); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (m *Memory) handleBalance(c *gin.Context) {
	principal, err := ref.ParsePrincipal(c.Param("principal"))
	if err != nil {
		abortWith(c, errors.Join(ErrInvalidRequest, err))
		return
	}
	if caller := callerOf(c); caller != principal {
		abortWith(c, &AuthError{Reason: "balances are private to their owner"})
		return
	}
	account, err := m.Balance(c.Request.Context(), principal)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (m *Memory) handleOpen(c *gin.Context) {
	var request OpenRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWith(c, errors.Join(ErrInvalidRequest, err))
		return
	}
	transaction, err := m.open(callerOf(c), request)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, transaction)
}

func (m *Memory) handleSettle(target Status) gin.HandlerFunc {
	return func(c *gin.Context) {
		ack, err := m.settle(callerOf(c), c.Param("token"), target)
		if err != nil {
			abortWith(c, err)
			return
		}
		if ack.AlreadyTerminal {
			c.JSON(http.StatusConflict, &APIError{
				Code:    CodeAlreadyTerminal,
				Message: "transaction is already " + string(ack.Status),
				Status:  ack.Status,
			})
			return
		}
		c.JSON(http.StatusOK, ack)
	}
}

func callerOf(c *gin.Context) ref.Principal {
	principal, _ := c.Get(principalKey)
	caller, _ := principal.(ref.Principal)
	return caller
}

func bearer(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	credential, found := strings.CutPrefix(header, "Bearer ")
	if !found || credential == "" {
		return "", false
	}
	return credential, true
}

func abortWith(c *gin.Context, err error) {
	apiErr := apiErrorFor(err)
	c.AbortWithStatusJSON(apiErr.StatusCode, apiErr)
}
