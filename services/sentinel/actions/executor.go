// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package actions dispatches the side effects chosen by the decision
// pipeline: urgent email, chat alerts and ERP status updates.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Kind selects an action backend.
type Kind string

const (
	KindEmail Kind = "email"
	KindChat  Kind = "chat"
	KindERP   Kind = "erp"
)

// Status strings returned by dispatchers.
const (
	StatusEmailSent = "Email Sent"
	StatusDryRun    = "Dry-Run Sent"
	StatusChatSent  = "Chat Sent"
	StatusDryChat   = "Dry-Run Chat"
	StatusERPSent   = "ERP Updated"
	StatusDryERP    = "Dry-Run ERP"
)

// ErrUnknownKind is returned for a kind with no registered dispatcher.
var ErrUnknownKind = errors.New("no dispatcher registered for action kind")

// Executor performs an action and returns a human-readable status.
type Executor interface {
	Dispatch(ctx context.Context, kind Kind, target, message string) (string, error)
}

// Dispatcher handles a single kind.
type Dispatcher interface {
	Send(ctx context.Context, target, message string) (string, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, target, message string) (string, error)

// Send implements Dispatcher.
func (f DispatcherFunc) Send(ctx context.Context, target, message string) (string, error) {
	return f(ctx, target, message)
}

// =============================================================================
// Router
// =============================================================================

// Router routes Dispatch calls to per-kind dispatchers. Kinds without a
// dispatcher fall back to a dry-run that only logs.
//
// Thread Safety: safe for concurrent use.
type Router struct {
	mu          sync.RWMutex
	dispatchers map[Kind]Dispatcher
	dryRun      bool
	logger      *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDispatcher registers d for kind.
func WithDispatcher(kind Kind, d Dispatcher) RouterOption {
	return func(r *Router) {
		if d != nil {
			r.dispatchers[kind] = d
		}
	}
}

// WithStrict disables the dry-run fallback; unknown kinds return
// ErrUnknownKind.
func WithStrict() RouterOption {
	return func(r *Router) {
		r.dryRun = false
	}
}

// WithRouterLogger sets the logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRouter builds a router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		dispatchers: make(map[Kind]Dispatcher),
		dryRun:      true,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the dispatcher for kind.
func (r *Router) Register(kind Kind, d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchers[kind] = d
}

// Dispatch implements Executor.
func (r *Router) Dispatch(ctx context.Context, kind Kind, target, message string) (string, error) {
	r.mu.RLock()
	d, ok := r.dispatchers[kind]
	r.mu.RUnlock()

	if !ok {
		if !r.dryRun {
			return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
		}
		return r.dryRunSend(kind, target, message), nil
	}

	status, err := d.Send(ctx, target, message)
	if err != nil {
		r.logger.Error("Action dispatch failed",
			slog.String("kind", string(kind)),
			slog.String("target", target),
			slog.String("error", err.Error()))
		return status, fmt.Errorf("dispatch %s to %s: %w", kind, target, err)
	}
	r.logger.Info("Action dispatched",
		slog.String("kind", string(kind)),
		slog.String("target", target),
		slog.String("status", status))
	return status, nil
}

func (r *Router) dryRunSend(kind Kind, target, message string) string {
	r.logger.Info("Dry-run action",
		slog.String("kind", string(kind)),
		slog.String("target", target),
		slog.String("message", message))
	switch kind {
	case KindChat:
		return StatusDryChat
	case KindERP:
		return StatusDryERP
	default:
		return StatusDryRun
	}
}

var _ Executor = (*Router)(nil)
