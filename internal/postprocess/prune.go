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

package postprocess

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Pruner deletes archived pages older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, report string, cutoff time.Time) (int, error)
}

// ArchivePrune removes archived pages past their retention.
type ArchivePrune struct {
	pruner    Pruner
	reports   []string
	retention time.Duration
	now       func() time.Time
	log       *zap.SugaredLogger
}

// NewArchivePrune returns a hook that prunes each report's archive to
// retentionDays. It returns nil when pruner is nil or retention is off.
func NewArchivePrune(pruner Pruner, reports []string, retentionDays int, log *zap.SugaredLogger) *ArchivePrune {
	if pruner == nil || retentionDays <= 0 {
		return nil
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ArchivePrune{
		pruner:    pruner,
		reports:   reports,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		log:       log,
	}
}

// Name implements pipeline.Hook.
func (a *ArchivePrune) Name() string { return "archive-prune" }

// Run prunes every report, continuing past failures.
func (a *ArchivePrune) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-a.retention)
	var errs []error
	total := 0
	for _, report := range a.reports {
		n, err := a.pruner.Prune(ctx, report, cutoff)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("prune %s: %w", report, err))
		}
	}
	a.log.Infow("archive pruned", "deleted", total, "cutoff", cutoff.Format(time.DateOnly))
	return errors.Join(errs...)
}
