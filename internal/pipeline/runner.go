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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/altairalabs/reportsync/internal/reports"
	"github.com/altairalabs/reportsync/internal/tracing"
	"github.com/altairalabs/reportsync/pkg/logctx"
	"github.com/altairalabs/reportsync/pkg/metrics"
)

// ErrFatal marks a pass failure the scheduler must not retry, such as an
// unreachable warehouse.
var ErrFatal = errors.New("fatal sync error")

// Connector opens and closes the warehouse handle around a pass.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
}

// Hook runs once after every pass, whatever the report outcomes.
type Hook interface {
	Name() string
	Run(ctx context.Context) error
}

// PassResult summarises one pass.
type PassResult struct {
	RunID    string
	Reports  []Result
	Hooks    map[string]error
	Duration time.Duration
}

// Failed returns the names of reports that failed.
func (r PassResult) Failed() []string {
	var names []string
	for _, res := range r.Reports {
		if res.Err != nil {
			names = append(names, res.Report)
		}
	}
	return names
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHooks appends post-pass hooks, run in order.
func WithHooks(hooks ...Hook) RunnerOption {
	return func(r *Runner) { r.hooks = append(r.hooks, hooks...) }
}

// WithRunnerMetrics records pass metrics.
func WithRunnerMetrics(m *metrics.SyncMetrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithRunnerTracing records pass spans.
func WithRunnerTracing(t *tracing.Provider) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(log *zap.SugaredLogger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// WithRunID overrides run id generation.
func WithRunID(gen func() string) RunnerOption {
	return func(r *Runner) { r.newID = gen }
}

// Runner executes full passes over the enabled reports of a catalog.
type Runner struct {
	catalog   *reports.Catalog
	processor *Processor
	connector Connector
	hooks     []Hook
	metrics   *metrics.SyncMetrics
	tracer    *tracing.Provider
	newID     func() string
	log       *zap.SugaredLogger
}

// NewRunner creates a runner.
func NewRunner(catalog *reports.Catalog, processor *Processor, connector Connector, opts ...RunnerOption) *Runner {
	r := &Runner{
		catalog:   catalog,
		processor: processor,
		connector: connector,
		newID:     uuid.NewString,
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunPass connects, syncs every enabled report in catalog order, runs the
// hooks and disconnects. A report failure never stops the pass; it is
// reported in the result. The returned error wraps ErrFatal when the
// warehouse cannot be reached, or is ctx's error on cancellation.
func (r *Runner) RunPass(ctx context.Context) (PassResult, error) {
	start := time.Now()
	res := PassResult{RunID: r.newID(), Hooks: map[string]error{}}
	defs := r.catalog.Enabled()

	ctx = logctx.WithRunID(ctx, res.RunID)
	ctx, span := r.tracer.StartPassSpan(ctx, res.RunID, len(defs))
	defer span.End()
	log := logctx.Sugared(r.log, ctx)

	log.Infow("starting sync pass", "reports", len(defs))
	if err := r.connector.Connect(ctx); err != nil {
		err = fmt.Errorf("%w: connect warehouse: %w", ErrFatal, err)
		tracing.RecordError(span, err)
		return res, err
	}
	defer func() {
		if err := r.connector.Close(); err != nil {
			log.Warnw("failed to close warehouse connection", "error", err)
		}
	}()

	for i, def := range defs {
		if err := ctx.Err(); err != nil {
			log.Warnw("pass cancelled", "completed", i, "reports", len(defs))
			tracing.RecordError(span, err)
			return res, err
		}
		log.Infow("starting report", "report", def.Name, "position", fmt.Sprintf("%d/%d", i+1, len(defs)))
		res.Reports = append(res.Reports, r.processor.Process(ctx, def))
	}

	r.runHooks(ctx, &res)

	res.Duration = time.Since(start)
	r.metrics.RecordPass(res.Duration)
	failed := res.Failed()
	if len(failed) > 0 {
		log.Warnw("sync pass finished with failures", "failed", failed, "duration", res.Duration)
	} else {
		log.Infow("sync pass finished", "duration", res.Duration)
	}
	tracing.SetSuccess(span)
	return res, nil
}

func (r *Runner) runHooks(ctx context.Context, res *PassResult) {
	for _, h := range r.hooks {
		if ctx.Err() != nil {
			return
		}
		hctx := logctx.WithHook(ctx, h.Name())
		hctx, span := r.tracer.StartHookSpan(hctx, h.Name())
		err := h.Run(hctx)
		res.Hooks[h.Name()] = err
		r.metrics.RecordHook(h.Name(), err)
		if err != nil {
			tracing.RecordError(span, err)
			logctx.Sugared(r.log, hctx).Errorw("post-processing hook failed", "error", err)
		} else {
			tracing.SetSuccess(span)
		}
		span.End()
	}
}
