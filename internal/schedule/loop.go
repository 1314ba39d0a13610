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

package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/altairalabs/reportsync/internal/pipeline"
	"github.com/altairalabs/reportsync/pkg/metrics"
)

// DefaultSchedule runs a pass at the top of every hour.
const DefaultSchedule = "0 * * * *"

// ParseSchedule parses a standard five-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// PassFunc runs one sync pass.
type PassFunc func(ctx context.Context) error

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the logger.
func WithLoopLogger(log *zap.SugaredLogger) LoopOption {
	return func(l *Loop) { l.log = log }
}

// WithLoopMetrics publishes the gate state.
func WithLoopMetrics(m *metrics.SyncMetrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) { l.now = now }
}

// WithSleep overrides the wait between passes. sleep returns false when ctx
// ended before d elapsed.
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) LoopOption {
	return func(l *Loop) { l.sleep = sleep }
}

// Loop runs passes on a cron schedule inside a Gate until its context ends.
type Loop struct {
	gate    Gate
	tick    cron.Schedule
	pass    PassFunc
	log     *zap.SugaredLogger
	metrics *metrics.SyncMetrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) bool
}

// NewLoop creates a loop.
func NewLoop(gate Gate, tick cron.Schedule, pass PassFunc, opts ...LoopOption) *Loop {
	l := &Loop{
		gate:  gate,
		tick:  tick,
		pass:  pass,
		log:   zap.NewNop().Sugar(),
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run blocks until ctx is cancelled, which returns nil, or a pass fails
// with pipeline.ErrFatal, which is returned. Other pass errors are logged.
func (l *Loop) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		now := l.now()
		open := l.gate.Allowed(now)
		l.metrics.SetGateOpen(open)

		if !open {
			wait := l.gate.UntilNextStart(now)
			l.log.Infow("outside allowed hours, waiting", "wait", wait.Round(time.Second),
				"resumeAt", now.Add(wait).In(l.gate.local(now).Location()).Format(time.RFC3339))
			if !l.sleep(ctx, wait) {
				break
			}
			continue
		}

		if err := l.pass(ctx); err != nil {
			if errors.Is(err, pipeline.ErrFatal) {
				l.log.Errorw("fatal pass error, stopping", "error", err)
				return err
			}
			if ctx.Err() != nil {
				break
			}
			l.log.Errorw("sync pass failed", "error", err)
		}

		after := l.now()
		next := l.tick.Next(after)
		l.log.Infow("waiting for next pass", "next", next.Format(time.RFC3339))
		if !l.sleep(ctx, next.Sub(after)) {
			break
		}
	}
	l.log.Infow("schedule loop stopped")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
