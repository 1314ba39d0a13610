/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logctx carries sync run identifiers on a context.Context so every
// log line of a run can be correlated.
package logctx

import (
	"context"
	"strconv"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for logging fields.
const (
	// ContextKeyRunID identifies one sync pass.
	ContextKeyRunID contextKey = "run_id"

	// ContextKeyReport is the report being synced.
	ContextKeyReport contextKey = "report"

	// ContextKeyWindow is the query window, rendered as its filters.
	ContextKeyWindow contextKey = "window"

	// ContextKeyAttempt is the 1-based attempt number of a report run.
	ContextKeyAttempt contextKey = "attempt"

	// ContextKeyHook names a post-processing hook.
	ContextKeyHook contextKey = "hook"
)

var allContextKeys = []contextKey{
	ContextKeyRunID,
	ContextKeyReport,
	ContextKeyWindow,
	ContextKeyAttempt,
	ContextKeyHook,
}

// WithRunID returns a new context with the run ID set.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// WithReport returns a new context with the report name set.
func WithReport(ctx context.Context, report string) context.Context {
	return context.WithValue(ctx, ContextKeyReport, report)
}

// WithWindow returns a new context with the window set.
func WithWindow(ctx context.Context, window string) context.Context {
	return context.WithValue(ctx, ContextKeyWindow, window)
}

// WithAttempt returns a new context with the attempt number set.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, ContextKeyAttempt, strconv.Itoa(attempt))
}

// WithHook returns a new context with the hook name set.
func WithHook(ctx context.Context, hook string) context.Context {
	return context.WithValue(ctx, ContextKeyHook, hook)
}

func value(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RunID extracts the run ID from the context.
func RunID(ctx context.Context) string { return value(ctx, ContextKeyRunID) }

// Report extracts the report name from the context.
func Report(ctx context.Context) string { return value(ctx, ContextKeyReport) }

// Window extracts the window from the context.
func Window(ctx context.Context) string { return value(ctx, ContextKeyWindow) }

// Values returns the non-empty context fields as alternating key-value pairs,
// in a fixed order.
func Values(ctx context.Context) []any {
	var values []any
	for _, key := range allContextKeys {
		if s := value(ctx, key); s != "" {
			values = append(values, string(key), s)
		}
	}
	return values
}

// LoggerWithContext returns a logr logger enriched with all context values.
func LoggerWithContext(log logr.Logger, ctx context.Context) logr.Logger {
	values := Values(ctx)
	if len(values) == 0 {
		return log
	}
	return log.WithValues(values...)
}

// Sugared returns a zap logger enriched with all context values.
func Sugared(log *zap.SugaredLogger, ctx context.Context) *zap.SugaredLogger {
	values := Values(ctx)
	if len(values) == 0 {
		return log
	}
	return log.With(values...)
}
