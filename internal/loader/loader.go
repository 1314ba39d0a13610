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

// Package loader writes a report run into a staging table and only then
// replaces the destination, so readers never see a half-loaded table.
package loader

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/altairalabs/reportsync/internal/planner"
	"github.com/altairalabs/reportsync/internal/reports"
	"github.com/altairalabs/reportsync/internal/transform"
)

// ErrNothingLoaded is returned by Commit when no staging table was built.
// The destination is left untouched; it is not a failure.
var ErrNothingLoaded = errors.New("nothing loaded")

// ErrDestinationMissing is returned by Begin when an incremental run finds
// neither the destination nor a staging table to recover it from. Only a
// full backfill can rebuild the destination.
var ErrDestinationMissing = errors.New("destination table missing for incremental run")

// Warehouse is the subset of warehouse.Client the loader drives.
type Warehouse interface {
	CreateTable(ctx context.Context, table string, cols []string) error
	AddColumns(ctx context.Context, table string, cols []string) error
	DropTable(ctx context.Context, table string) error
	RenameTable(ctx context.Context, from, to string) error
	SwapTables(ctx context.Context, a, b string) error
	DuplicateTable(ctx context.Context, src, dst string) error
	TableExists(ctx context.Context, table string) (bool, error)
	TableColumns(ctx context.Context, table string) ([]string, error)
	DeleteDateRange(ctx context.Context, table, field string, format reports.DateFormat, r reports.DateRange) (int64, error)
	InsertRows(ctx context.Context, table string, cols []string, rows []reports.Record, batchSize int) (int64, error)
	BulkLoad(ctx context.Context, table string, cols []string, rows []reports.Record, batchSize int) (int64, error)
}

// Session stages one report run.
type Session interface {
	// Write appends transformed records to staging.
	Write(ctx context.Context, records []reports.Record) error
	// Commit replaces the destination with staging.
	Commit(ctx context.Context) error
	// Abort drops staging. Errors are logged, not returned.
	Abort(ctx context.Context)
	// Rows is the number of rows written so far.
	Rows() int64
}

// Config holds loader settings.
type Config struct {
	// AtomicSwap finalizes with ALTER TABLE ... SWAP WITH when the
	// destination exists, instead of drop then rename.
	AtomicSwap bool
	// DryRun counts rows without touching the warehouse.
	DryRun bool
}

// Loader opens staging sessions.
type Loader struct {
	wh     Warehouse
	config Config
	log    *zap.SugaredLogger
}

// New creates a loader.
func New(wh Warehouse, cfg Config, log *zap.SugaredLogger) *Loader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Loader{wh: wh, config: cfg, log: log}
}

// Begin prepares staging for a run of def planned as plan. Any leftover
// staging table from an earlier run is dropped. For an incremental upsert the
// destination is copied into staging and the plan's window is cleared.
//
// A commit interrupted between dropping the destination and renaming staging
// leaves staging as the only complete copy. An incremental Begin promotes it
// back to the destination before anything else.
func (l *Loader) Begin(ctx context.Context, def reports.Definition, plan planner.Plan) (Session, error) {
	log := l.log.With("report", def.Name, "table", def.Table)
	if l.config.DryRun {
		log.Infow("dry run, warehouse untouched")
		return &dryRunSession{}, nil
	}

	s := &session{
		wh:      l.wh,
		def:     def,
		staging: def.StagingTable(),
		swap:    l.config.AtomicSwap,
		log:     log,
	}
	incremental := def.IsUpsert() && plan.Incremental()
	if incremental {
		if err := l.ensureDestination(ctx, s); err != nil {
			return nil, err
		}
	}
	if err := l.wh.DropTable(ctx, s.staging); err != nil {
		return nil, fmt.Errorf("drop stale staging: %w", err)
	}
	if !incremental {
		return s, nil
	}

	if err := l.wh.DuplicateTable(ctx, def.Table, s.staging); err != nil {
		return nil, err
	}
	s.created = true
	s.merge = true
	cols, err := l.wh.TableColumns(ctx, s.staging)
	if err != nil {
		s.Abort(ctx)
		return nil, err
	}
	s.columns = cols
	deleted, err := l.wh.DeleteDateRange(ctx, s.staging, def.Upsert.DateField, def.Upsert.DateFormat, plan.Bounds)
	if err != nil {
		s.Abort(ctx)
		return nil, err
	}
	log.Infow("cleared window in staging copy", "from", plan.From(), "to", plan.To(), "deleted", deleted)
	return s, nil
}

// ensureDestination makes sure the destination exists for an incremental
// run, promoting a surviving staging table when it does not.
func (l *Loader) ensureDestination(ctx context.Context, s *session) error {
	exists, err := l.wh.TableExists(ctx, s.def.Table)
	if err != nil || exists {
		return err
	}
	staged, err := l.wh.TableExists(ctx, s.staging)
	if err != nil {
		return err
	}
	if !staged {
		return ErrDestinationMissing
	}
	s.log.Warnw("destination missing, promoting staging left by an interrupted commit", "staging", s.staging)
	if err := l.wh.RenameTable(ctx, s.staging, s.def.Table); err != nil {
		return fmt.Errorf("promote staging: %w", err)
	}
	return nil
}

type session struct {
	wh      Warehouse
	def     reports.Definition
	staging string
	swap    bool
	log     *zap.SugaredLogger

	created bool
	// merge is set when staging started as a copy of the destination.
	merge   bool
	columns []string
	rows    int64
}

func (s *session) Rows() int64 { return s.rows }

func (s *session) Write(ctx context.Context, records []reports.Record) error {
	if len(records) == 0 {
		return nil
	}
	if !s.created {
		cols := transform.Columns(records)
		if err := s.wh.CreateTable(ctx, s.staging, cols); err != nil {
			return err
		}
		s.created = true
		s.columns = cols
	} else if fresh := transform.NewColumns(s.columns, records); len(fresh) > 0 {
		if err := s.wh.AddColumns(ctx, s.staging, fresh); err != nil {
			return err
		}
		s.log.Infow("added columns to staging", "columns", fresh)
		s.columns = append(s.columns, fresh...)
	}

	var (
		n   int64
		err error
	)
	switch s.def.LoadMethod {
	case reports.BulkInsert:
		n, err = s.wh.BulkLoad(ctx, s.staging, s.columns, records, s.def.BatchSize)
	default:
		n, err = s.wh.InsertRows(ctx, s.staging, s.columns, records, s.def.BatchSize)
	}
	s.rows += n
	return err
}

func (s *session) Commit(ctx context.Context) error {
	if !s.created {
		s.log.Infow("no rows fetched, destination left untouched")
		return ErrNothingLoaded
	}
	if s.merge && s.rows == 0 {
		s.log.Infow("incremental run fetched no rows, finalizing cleared window")
	}

	if s.swap {
		exists, err := s.wh.TableExists(ctx, s.def.Table)
		if err != nil {
			return err
		}
		if exists {
			if err := s.wh.SwapTables(ctx, s.staging, s.def.Table); err != nil {
				return err
			}
			if err := s.wh.DropTable(ctx, s.staging); err != nil {
				s.log.Warnw("failed to drop swapped-out table", "error", err)
			}
			s.log.Infow("swapped staging into destination", "rows", s.rows)
			return nil
		}
	}

	if err := s.wh.DropTable(ctx, s.def.Table); err != nil {
		return err
	}
	if err := s.wh.RenameTable(ctx, s.staging, s.def.Table); err != nil {
		s.log.Errorw("destination dropped but staging not renamed, staging kept", "staging", s.staging, "error", err)
		return err
	}
	s.log.Infow("replaced destination with staging", "rows", s.rows)
	return nil
}

func (s *session) Abort(ctx context.Context) {
	if err := s.wh.DropTable(ctx, s.staging); err != nil {
		s.log.Warnw("failed to drop staging table", "error", err)
	}
}

type dryRunSession struct {
	rows int64
}

func (d *dryRunSession) Write(_ context.Context, records []reports.Record) error {
	d.rows += int64(len(records))
	return nil
}

func (d *dryRunSession) Commit(context.Context) error {
	if d.rows == 0 {
		return ErrNothingLoaded
	}
	return nil
}

func (d *dryRunSession) Abort(context.Context) {}

func (d *dryRunSession) Rows() int64 { return d.rows }
