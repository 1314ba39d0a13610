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

// Package pipeline runs report syncs: one Processor run per report with
// retries, and a Runner that drives a full pass over the catalog.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/altairalabs/reportsync/internal/archive"
	"github.com/altairalabs/reportsync/internal/loader"
	"github.com/altairalabs/reportsync/internal/planner"
	"github.com/altairalabs/reportsync/internal/reports"
	"github.com/altairalabs/reportsync/internal/syncstate"
	"github.com/altairalabs/reportsync/internal/tracing"
	"github.com/altairalabs/reportsync/internal/transform"
	"github.com/altairalabs/reportsync/internal/upstream"
	"github.com/altairalabs/reportsync/pkg/logctx"
	"github.com/altairalabs/reportsync/pkg/metrics"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 10 * time.Second
)

// PageSource yields upstream pages for a window.
type PageSource interface {
	Pages(ctx context.Context, endpoint string, w reports.QueryWindow, paginated bool) iter.Seq2[upstream.Page, error]
	PageBatches(ctx context.Context, endpoint string, w reports.QueryWindow, fanout int, handle func([]upstream.Page) error) error
}

// Stager opens staging sessions.
type Stager interface {
	Begin(ctx context.Context, def reports.Definition, plan planner.Plan) (loader.Session, error)
}

// Config tunes the processor.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// Location is the timezone windows are planned in.
	Location *time.Location
	// DryRun leaves sync state untouched.
	DryRun bool
}

// DefaultConfig returns the default processor settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		Location:    time.UTC,
	}
}

// Result summarises one report run.
type Result struct {
	Report   string
	State    State
	Attempts int
	FirstRun bool
	Windows  int
	Pages    int
	Rows     int64
	// Empty is set when nothing was fetched and the destination was left as is.
	Empty    bool
	Duration time.Duration
	Err      error
}

// Succeeded reports whether the run finished without error.
func (r Result) Succeeded() bool { return r.Err == nil && r.State == StateDone }

// Option configures a Processor.
type Option func(*Processor)

// WithArchive stores every fetched page.
func WithArchive(a *archive.Archiver) Option {
	return func(p *Processor) { p.archive = a }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithTracing records spans.
func WithTracing(t *tracing.Provider) Option {
	return func(p *Processor) { p.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Processor) { p.log = log }
}

// Processor syncs one report at a time.
type Processor struct {
	source      PageSource
	stager      Stager
	store       syncstate.Store
	cfg         Config
	transformer transform.Transformer
	archive     *archive.Archiver
	metrics     *metrics.SyncMetrics
	tracer      *tracing.Provider
	now         func() time.Time
	log         *zap.SugaredLogger
}

// NewProcessor creates a processor.
func NewProcessor(source PageSource, stager Stager, store syncstate.Store, cfg Config, opts ...Option) *Processor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	p := &Processor{
		source: source,
		stager: stager,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.transformer = transform.Transformer{Now: p.now}
	return p
}

// run is the mutable progress of one attempt.
type run struct {
	state State
	plan  planner.Plan
	pages int
	rows  int64
	empty bool
}

// Process syncs def, retrying the whole run up to MaxAttempts times. Errors
// are returned in the Result, never panics.
func (p *Processor) Process(ctx context.Context, def reports.Definition) Result {
	start := p.now()
	ctx = logctx.WithReport(ctx, def.Name)
	ctx, span := p.tracer.StartReportSpan(ctx, def.Name, def.Table, string(def.InsertMode))
	defer span.End()
	log := logctx.Sugared(p.log, ctx)

	res := Result{Report: def.Name, State: StatePending}
	var last *run
	operation := func() error {
		res.Attempts++
		p.metrics.RecordAttempt(def.Name)
		actx := logctx.WithAttempt(ctx, res.Attempts)
		logctx.Sugared(p.log, actx).Infow("processing report",
			"maxAttempts", p.cfg.MaxAttempts, "table", def.Table, "mode", def.InsertMode)

		r := &run{state: StatePending}
		last = r
		err := p.attempt(actx, def, r)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryDelay), uint64(p.cfg.MaxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		log.Warnw("report attempt failed, retrying",
			"attempt", res.Attempts, "maxAttempts", p.cfg.MaxAttempts, "retryIn", wait, "error", err)
	})

	if last != nil {
		res.FirstRun = last.plan.FirstRun
		res.Windows = len(last.plan.Windows)
		res.Pages = last.pages
		res.Rows = last.rows
		res.Empty = last.empty
		res.State = last.state
	}
	res.Duration = p.now().Sub(start)
	tracing.AddAttempts(span, res.Attempts)

	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		res.Err = err
		res.State = StateFailed
		outcome = metrics.OutcomeFailed
		tracing.RecordError(span, err)
		log.Errorw("report failed, moving on", "attempts", res.Attempts, "error", err)
	case res.Empty:
		outcome = metrics.OutcomeEmpty
		tracing.SetSuccess(span)
		log.Infow("report fetched no rows", "attempts", res.Attempts)
	default:
		tracing.SetSuccess(span)
		log.Infow("report completed", "attempts", res.Attempts, "rows", res.Rows,
			"windows", res.Windows, "duration", res.Duration)
	}
	p.metrics.RecordReport(def.Name, outcome, res.Duration)
	p.metrics.RecordRows(def.Name, res.Rows)
	return res
}

// attempt performs one complete run: plan, stage every window, commit, and
// persist sync state.
func (p *Processor) attempt(ctx context.Context, def reports.Definition, r *run) (err error) {
	log := logctx.Sugared(p.log, ctx)
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during %s run: %v", def.Name, rec)
			log.Errorw("recovered panic", "panic", rec, "stack", string(debug.Stack()))
		}
		if err != nil {
			r.state = StateFailed
		}
	}()

	st, err := p.store.Get(ctx, def.Name)
	if err != nil {
		return fmt.Errorf("read sync state: %w", err)
	}
	r.plan = planner.Build(def, st, p.now().In(p.cfg.Location))
	span := trace.SpanFromContext(ctx)
	tracing.AddPlan(span, len(r.plan.Windows), r.plan.FirstRun)
	log.Infow("planned run", "firstRun", r.plan.FirstRun, "windows", len(r.plan.Windows),
		"from", r.plan.From(), "to", r.plan.To())

	p.transition(log, r, StateFetching)
	sess, err := p.stager.Begin(ctx, def, r.plan)
	if errors.Is(err, loader.ErrDestinationMissing) {
		log.Warnw("destination missing, replanning as a full backfill")
		r.plan = planner.Build(def, syncstate.Default(), p.now().In(p.cfg.Location))
		tracing.AddPlan(span, len(r.plan.Windows), r.plan.FirstRun)
		sess, err = p.stager.Begin(ctx, def, r.plan)
	}
	if err != nil {
		return fmt.Errorf("begin staging: %w", err)
	}
	// Every exit before Commit is a failure or a panic.
	committing := false
	defer func() {
		if !committing {
			sess.Abort(context.WithoutCancel(ctx))
		}
	}()

	for i, w := range r.plan.Windows {
		if err := p.window(ctx, def, sess, r, i+1, w); err != nil {
			return fmt.Errorf("window %s: %w", w, err)
		}
	}
	r.rows = sess.Rows()

	p.transition(log, r, StateFinalizing)
	committing = true
	err = sess.Commit(ctx)
	if errors.Is(err, loader.ErrNothingLoaded) {
		r.empty = true
		p.transition(log, r, StateDone)
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if p.cfg.DryRun {
		p.transition(log, r, StateDone)
		return nil
	}
	current, err := p.store.Get(ctx, def.Name)
	if err != nil {
		return fmt.Errorf("read sync state: %w", err)
	}
	if resetDuring(st, current) {
		log.Warnw("sync state was reset during the run, keeping the reset")
		p.transition(log, r, StateDone)
		return nil
	}
	next := syncstate.State{
		IsFirstRun: false,
		LastFrom:   r.plan.From(),
		LastTo:     r.plan.To(),
		UpdatedAt:  p.now().UTC(),
	}
	if err := p.store.Set(ctx, def.Name, next); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	p.transition(log, r, StateDone)
	return nil
}

// resetDuring reports whether the stored state was reset after before was
// read at the start of a run.
func resetDuring(before, current syncstate.State) bool {
	if !current.IsFirstRun {
		return false
	}
	return !before.IsFirstRun || !current.UpdatedAt.Equal(before.UpdatedAt)
}

// window fetches one query window and writes its pages to staging in order.
func (p *Processor) window(ctx context.Context, def reports.Definition, sess loader.Session, r *run, index int, w reports.QueryWindow) error {
	label := w.String()
	ctx = logctx.WithWindow(ctx, label)
	ctx, span := p.tracer.StartWindowSpan(ctx, label)
	defer span.End()
	log := logctx.Sugared(p.log, ctx)

	pages, rows := 0, sess.Rows()
	handle := func(batch []upstream.Page) error {
		for _, pg := range batch {
			pages++
			r.pages++
			if len(pg.Records) == 0 {
				continue
			}
			ref := archive.PageRef{
				RunID:  logctx.RunID(ctx),
				Report: def.Name,
				Date:   p.now(),
				Window: index,
				Page:   pg.Number,
			}
			if err := p.archive.WritePage(ctx, ref, pg.Records); err != nil {
				log.Warnw("failed to archive page", "page", pg.Number, "error", err)
			}
			p.transition(log, r, StateLoading)
			if err := sess.Write(ctx, p.transformer.Apply(def, w, pg.Records)); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if def.Paginated && def.Concurrency > 1 {
		err = p.source.PageBatches(ctx, def.Endpoint, w, def.Concurrency, handle)
	} else {
		err = p.pageByPage(ctx, def, w, handle)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	tracing.AddLoadResult(span, pages, sess.Rows()-rows)
	tracing.SetSuccess(span)
	log.Debugw("window loaded", "pages", pages, "rows", sess.Rows()-rows)
	return nil
}

func (p *Processor) pageByPage(ctx context.Context, def reports.Definition, w reports.QueryWindow, handle func([]upstream.Page) error) error {
	for pg, err := range p.source.Pages(ctx, def.Endpoint, w, def.Paginated) {
		if err != nil {
			return err
		}
		if err := handle([]upstream.Page{pg}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) transition(log *zap.SugaredLogger, r *run, to State) {
	if r.state == to {
		return
	}
	log.Debugw("report state changed", "from", r.state, "to", to)
	r.state = to
}
