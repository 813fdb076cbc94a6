// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpserver runs an http.Handler on a TCP listener with a
// context-driven lifecycle: Serve blocks until the context is
// cancelled, then drains in-flight requests.
//
// "switchboard serve" uses it to host the delegation API and the
// metrics endpoint.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownTimeout applies when Config.ShutdownTimeout is zero.
const DefaultShutdownTimeout = 10 * time.Second

// Config configures a Server.
type Config struct {
	// Address is the TCP listen address ("127.0.0.1:8680", ":0").
	// Required.
	Address string

	// Handler serves every request. Required.
	Handler http.Handler

	// ShutdownTimeout bounds how long Serve waits for active requests
	// after the context is cancelled.
	ShutdownTimeout time.Duration

	// Logger is required.
	Logger *slog.Logger
}

// Server serves HTTP until its context is cancelled.
type Server struct {
	address         string
	handler         http.Handler
	logger          *slog.Logger
	shutdownTimeout time.Duration

	// ready is closed once the listener is bound; addr is valid after.
	ready chan struct{}
	addr  net.Addr
}

// New validates config and returns a Server. Call Serve to start it.
func New(config Config) (*Server, error) {
	if config.Address == "" {
		return nil, errors.New("httpserver: Address is required")
	}
	if config.Handler == nil {
		return nil, errors.New("httpserver: Handler is required")
	}
	if config.Logger == nil {
		return nil, errors.New("httpserver: Logger is required")
	}
	timeout := config.ShutdownTimeout
	if timeout == 0 {
		timeout = DefaultShutdownTimeout
	}
	return &Server{
		address:         config.Address,
		handler:         config.Handler,
		logger:          config.Logger,
		shutdownTimeout: timeout,
		ready:           make(chan struct{}),
	}, nil
}

// Ready is closed once the server is bound and accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the resolved listen address. Only valid after Ready is
// closed; with port 0 it carries the port the kernel assigned.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Serve binds the listener and serves until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("httpserver: listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("http server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http server shutdown failed", "error", err)
		return fmt.Errorf("httpserver: shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
