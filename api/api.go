// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package api serves the delegation surface over HTTP:
//
//	POST   /v1/delegation/opt-in                              opt the caller in
//	GET    /v1/delegation/status/:principal                   delegation status (own, or routers the caller owns)
//	GET    /v1/routers/:owner/:router                         router and its services
//	GET    /v1/routers/:owner/:router/delegation              active grant
//	PUT    /v1/routers/:owner/:router/delegation              grant (owner)
//	DELETE /v1/routers/:owner/:router/delegation              revoke (owner or delegate)
//	GET    /v1/routers/:owner/:router/delegation/eligible     eligible delegates (owner)
//	POST   /v1/routers/:owner/:router/actions                 delegate action
//	GET    /v1/routers/:owner/:router/audit                   audit log (owner or delegate)
//
// The caller is named by the X-Switchboard-Principal header, which the
// fronting proxy sets after authenticating the request. Delegate
// actions additionally carry the grant's access token as
// "Authorization: Bearer <token>".
//
// Errors are JSON bodies {"errcode": ..., "error": ...}, the same shape
// the ledger uses.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/switchboard/audit"
	"github.com/bureau-foundation/switchboard/delegation"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/registry"
	"github.com/bureau-foundation/switchboard/statuscache"
	"github.com/bureau-foundation/switchboard/transport"
)

// DefaultMetricsPath is where Prometheus metrics are served when
// Config.MetricsPath is empty.
const DefaultMetricsPath = "/metrics"

// Config wires the API to its backing components.
type Config struct {
	Registry  *registry.Registry
	Authority *delegation.Authority
	Gateway   *delegation.Gateway
	Audit     *audit.Log
	Status    *statuscache.Cache

	// Gatherer, when set, is exposed at MetricsPath.
	Gatherer    prometheus.Gatherer
	MetricsPath string

	Logger *slog.Logger
}

// API is the delegation HTTP surface.
type API struct {
	registry  *registry.Registry
	authority *delegation.Authority
	gateway   *delegation.Gateway
	audit     *audit.Log
	status    *statuscache.Cache
	logger    *slog.Logger

	gatherer    prometheus.Gatherer
	metricsPath string
}

// New validates config and returns an API.
func New(config Config) (*API, error) {
	var missing []error
	if config.Registry == nil {
		missing = append(missing, errors.New("api: Registry is required"))
	}
	if config.Authority == nil {
		missing = append(missing, errors.New("api: Authority is required"))
	}
	if config.Gateway == nil {
		missing = append(missing, errors.New("api: Gateway is required"))
	}
	if config.Audit == nil {
		missing = append(missing, errors.New("api: Audit is required"))
	}
	if config.Status == nil {
		missing = append(missing, errors.New("api: Status is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	metricsPath := config.MetricsPath
	if metricsPath == "" {
		metricsPath = DefaultMetricsPath
	}
	return &API{
		registry:    config.Registry,
		authority:   config.Authority,
		gateway:     config.Gateway,
		audit:       config.Audit,
		status:      config.Status,
		logger:      logger,
		gatherer:    config.Gatherer,
		metricsPath: metricsPath,
	}, nil
}

// Handler returns the routed gin engine.
func (a *API) Handler() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), a.logRequests)

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if a.gatherer != nil {
		engine.GET(a.metricsPath, gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/v1", requirePrincipal)
	v1.POST("/delegation/opt-in", a.handleOptIn)
	v1.GET("/delegation/status/:principal", a.handleStatus)

	routers := v1.Group("/routers/:owner/:router", parseRouter)
	routers.GET("", a.handleRouter)
	routers.GET("/delegation", a.handleActiveGrant)
	routers.PUT("/delegation", a.handleGrant)
	routers.DELETE("/delegation", a.handleRevoke)
	routers.GET("/delegation/eligible", a.handleEligible)
	routers.POST("/actions", a.handleAction)
	routers.GET("/audit", a.handleAudit)
	return engine
}

func (a *API) logRequests(c *gin.Context) {
	started := time.Now()
	c.Next()
	a.logger.Debug("request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(started),
	)
}

const (
	principalKey = "switchboard_principal"
	routerKey    = "switchboard_router"
)

func requirePrincipal(c *gin.Context) {
	header := c.GetHeader(transport.HeaderPrincipal)
	if header == "" {
		abortWith(c, http.StatusUnauthorized, CodeUnauthorized, fmt.Errorf("missing %s header", transport.HeaderPrincipal))
		return
	}
	principal, err := ref.ParsePrincipal(header)
	if err != nil {
		abortWith(c, http.StatusUnauthorized, CodeUnauthorized, err)
		return
	}
	c.Set(principalKey, principal)
	c.Next()
}

func parseRouter(c *gin.Context) {
	owner, err := ref.ParsePrincipal(c.Param("owner"))
	if err != nil {
		abortWith(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	router, err := ref.NewRouter(owner, c.Param("router"))
	if err != nil {
		abortWith(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	c.Set(routerKey, router)
	c.Next()
}

func callerOf(c *gin.Context) ref.Principal {
	value, _ := c.Get(principalKey)
	principal, _ := value.(ref.Principal)
	return principal
}

func routerOf(c *gin.Context) ref.Router {
	value, _ := c.Get(routerKey)
	router, _ := value.(ref.Router)
	return router
}

func (a *API) handleOptIn(c *gin.Context) {
	caller := callerOf(c)
	if err := a.authority.OptIn(c.Request.Context(), caller); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": caller, "opted_in": true})
}

func (a *API) handleStatus(c *gin.Context) {
	principal, err := ref.ParsePrincipal(c.Param("principal"))
	if err != nil {
		abortWith(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	status, err := a.status.Get(c.Request.Context(), principal)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, visibleStatus(status, callerOf(c)))
}

// visibleStatus is the part of status viewer may see: all of it for
// the principal itself, otherwise only the routers viewer owns.
func visibleStatus(status delegation.Status, viewer ref.Principal) delegation.Status {
	if viewer == status.Principal {
		return status
	}
	visible := delegation.Status{Principal: status.Principal, DelegatedRouters: []ref.Router{}}
	for _, router := range status.DelegatedRouters {
		if router.Owner() == viewer {
			visible.DelegatedRouters = append(visible.DelegatedRouters, router)
		}
	}
	visible.IsDelegate = len(visible.DelegatedRouters) > 0
	return visible
}

func (a *API) handleRouter(c *gin.Context) {
	router, err := a.registry.Get(c.Request.Context(), routerOf(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	// Drafts are private to their owner.
	if !router.Published && callerOf(c) != router.Ref.Owner() {
		a.fail(c, fmt.Errorf("%w: %s", registry.ErrNotFound, router.Ref))
		return
	}
	c.JSON(http.StatusOK, router)
}

func (a *API) handleActiveGrant(c *gin.Context) {
	router := routerOf(c)
	caller := callerOf(c)
	grant, err := a.authority.ActiveGrant(c.Request.Context(), router)
	if err != nil {
		a.fail(c, err)
		return
	}
	if caller != router.Owner() && caller != grant.Delegate {
		a.fail(c, &delegation.AuthorizationError{Reason: delegation.ReasonNotParty, Detail: router.String()})
		return
	}
	c.JSON(http.StatusOK, redact(grant, caller))
}

func (a *API) handleGrant(c *gin.Context) {
	var request struct {
		Delegate ref.Principal `json:"delegate"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		abortWith(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	caller := callerOf(c)
	grant, err := a.authority.Grant(c.Request.Context(), caller, routerOf(c), request.Delegate)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, redact(grant, caller))
}

func (a *API) handleRevoke(c *gin.Context) {
	if err := a.authority.Revoke(c.Request.Context(), callerOf(c), routerOf(c)); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleEligible(c *gin.Context) {
	eligible, err := a.authority.EligibleDelegates(c.Request.Context(), callerOf(c), routerOf(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delegates": eligible})
}

func (a *API) handleAction(c *gin.Context) {
	token, ok := bearer(c)
	if !ok {
		abortWith(c, http.StatusUnauthorized, CodeUnauthorized, errors.New("missing bearer access token"))
		return
	}
	var action delegation.Action
	if err := c.ShouldBindJSON(&action); err != nil {
		abortWith(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	receipt, err := a.gateway.Apply(c.Request.Context(), routerOf(c), callerOf(c), token, action)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// AuditEntry is an audit entry with its payload decoded.
type AuditEntry struct {
	audit.Entry
	Changes []registry.AppliedChange `json:"changes"`
}

func (a *API) handleAudit(c *gin.Context) {
	router := routerOf(c)
	caller := callerOf(c)
	if caller != router.Owner() {
		grant, err := a.authority.ActiveGrant(c.Request.Context(), router)
		if err != nil || grant.Delegate != caller {
			a.fail(c, &delegation.AuthorizationError{Reason: delegation.ReasonNotParty, Detail: router.String()})
			return
		}
	}

	limit := audit.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			abortWith(c, http.StatusBadRequest, CodeInvalidRequest, fmt.Errorf("limit must be a positive integer, got %q", raw))
			return
		}
		limit = parsed
	}

	entries, err := a.audit.List(c.Request.Context(), router, limit)
	if err != nil {
		a.fail(c, err)
		return
	}
	decoded := make([]AuditEntry, 0, len(entries))
	for _, entry := range entries {
		var payload delegation.AuditPayload
		if err := entry.DecodePayload(&payload); err != nil {
			a.fail(c, err)
			return
		}
		decoded = append(decoded, AuditEntry{Entry: entry, Changes: payload.Changes})
	}
	c.JSON(http.StatusOK, gin.H{"entries": decoded})
}

// redact strips the access token unless viewer is the delegate.
func redact(grant *delegation.Grant, viewer ref.Principal) *delegation.Grant {
	if viewer == grant.Delegate {
		return grant
	}
	copied := *grant
	copied.AccessToken = ""
	return &copied
}

func bearer(c *gin.Context) (string, bool) {
	token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}
