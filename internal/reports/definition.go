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

// Package reports defines the static description of every AppFolio report
// the service synchronizes: where it is fetched from, how its query windows
// are shaped and how it lands in the warehouse.
package reports

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/samber/lo"
)

// InsertMode controls how a report's rows replace or merge with the
// destination table.
type InsertMode string

const (
	// Replace rebuilds the destination from every fetched row.
	Replace InsertMode = "replace"
	// AppendOnly loads fetched rows into a fresh staging table and swaps it in.
	AppendOnly InsertMode = "append"
	// UpsertByDateWindow replaces only the rows inside the planned date window.
	UpsertByDateWindow InsertMode = "upsert"
)

// LoadMethod selects how rows are written into staging.
type LoadMethod string

const (
	// BatchInsert issues parameterized multi-row INSERT statements.
	BatchInsert LoadMethod = "batch"
	// BulkInsert stages a CSV file and runs COPY INTO.
	BulkInsert LoadMethod = "bulk"
)

// Defaults applied by Normalize.
const (
	DefaultBatchSize   = 50000
	MaxConcurrency     = 15
	DefaultTablePrefix = "appfolio_"
	StagingSuffix      = "_staging"
)

// Record is one report row as decoded from the API: JSON scalars or nil.
type Record = map[string]any

// UpsertSpec describes the destination column that identifies which date
// window a row belongs to.
type UpsertSpec struct {
	// DateField is the destination column compared against the window.
	DateField string `json:"dateField"`
	// DateFormat is the representation of DateField in the destination.
	DateFormat DateFormat `json:"dateFormat"`
}

// Definition is the immutable description of one report.
type Definition struct {
	Name        string            `json:"name"`
	Endpoint    string            `json:"endpoint"`
	Table       string            `json:"table"`
	InsertMode  InsertMode        `json:"insertMode"`
	LoadMethod  LoadMethod        `json:"loadMethod"`
	Filters     map[string]string `json:"filters,omitempty"`
	Params      Params            `json:"-"`
	Upsert      *UpsertSpec       `json:"upsert,omitempty"`
	Paginated   bool              `json:"paginated"`
	BatchSize   int               `json:"batchSize"`
	Concurrency int               `json:"concurrency"`
	Disabled    bool              `json:"disabled,omitempty"`
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

// Normalize fills defaults for unset fields.
func (d Definition) Normalize() Definition {
	if d.Endpoint == "" {
		d.Endpoint = d.Name
	}
	if d.Table == "" {
		d.Table = DefaultTablePrefix + d.Name
	}
	if d.LoadMethod == "" {
		d.LoadMethod = BatchInsert
	}
	if d.BatchSize <= 0 {
		d.BatchSize = DefaultBatchSize
	}
	if d.Concurrency > MaxConcurrency {
		d.Concurrency = MaxConcurrency
	}
	if d.Params == nil {
		d.Params = StaticParams{}
	}
	return d
}

// Validate checks the definition for internal consistency.
func (d Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !identifierPattern.MatchString(d.Table) {
		errs = append(errs, fmt.Errorf("table %q is not a valid identifier", d.Table))
	}
	switch d.InsertMode {
	case Replace, AppendOnly:
	case UpsertByDateWindow:
		if d.Upsert == nil || d.Upsert.DateField == "" || d.Upsert.DateFormat.IsZero() {
			errs = append(errs, errors.New("upsert mode requires upsert.dateField and upsert.dateFormat"))
		} else if !identifierPattern.MatchString(d.Upsert.DateField) {
			errs = append(errs, fmt.Errorf("upsert date field %q is not a valid identifier", d.Upsert.DateField))
		}
		if k := d.Params.Kind(); k != KindDailySnapshot && k != KindMonthRange {
			errs = append(errs, fmt.Errorf("upsert mode needs dated windows, got %s parameters", k))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown insert mode %q", d.InsertMode))
	}
	switch d.LoadMethod {
	case BatchInsert, BulkInsert:
	default:
		errs = append(errs, fmt.Errorf("unknown load method %q", d.LoadMethod))
	}
	if d.Concurrency < 0 {
		errs = append(errs, errors.New("concurrency must not be negative"))
	}
	if d.Params != nil {
		if err := d.Params.validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("report %s: %w", d.Name, err)
	}
	return nil
}

// StagingTable is the scratch table loaded before the destination is swapped.
func (d Definition) StagingTable() string {
	return d.Table + StagingSuffix
}

// IsUpsert reports whether the definition merges by date window.
func (d Definition) IsUpsert() bool {
	return d.InsertMode == UpsertByDateWindow
}

// BaseFilters returns the static filters in key order.
func (d Definition) BaseFilters() []Filter {
	keys := lo.Keys(d.Filters)
	sort.Strings(keys)
	return lo.Map(keys, func(k string, _ int) Filter {
		return Filter{Key: k, Value: d.Filters[k]}
	})
}

// ParamKind tags the shape of a report's query parameters.
type ParamKind string

const (
	KindStatic        ParamKind = "static"
	KindDailySnapshot ParamKind = "daily_snapshot"
	KindMonthRange    ParamKind = "month_range"
	KindMonthEnd      ParamKind = "month_end"
)

// Params is the closed set of parameter shapes a report can have.
type Params interface {
	Kind() ParamKind
	validate() error
}

// StaticParams sends only the base filters, once per run.
type StaticParams struct{}

func (StaticParams) Kind() ParamKind { return KindStatic }
func (StaticParams) validate() error { return nil }

// DailySnapshotParams queries one day at a time by setting DateField.
type DailySnapshotParams struct {
	DateField string
	// Start is the first day fetched on a first run.
	Start time.Time
}

func (DailySnapshotParams) Kind() ParamKind { return KindDailySnapshot }

func (p DailySnapshotParams) validate() error {
	if p.DateField == "" || p.Start.IsZero() {
		return errors.New("daily snapshot parameters need dateField and start")
	}
	return nil
}

// MonthRangeParams queries a from/to span.
type MonthRangeParams struct {
	FromField string
	ToField   string
	Start     time.Time
	// ChunkMonths sizes first-run windows.
	ChunkMonths int
	// LookbackMonths sizes the single incremental window.
	LookbackMonths int
}

func (MonthRangeParams) Kind() ParamKind { return KindMonthRange }

func (p MonthRangeParams) validate() error {
	if p.FromField == "" || p.ToField == "" || p.Start.IsZero() {
		return errors.New("month range parameters need fromField, toField and start")
	}
	if p.ChunkMonths <= 0 || p.LookbackMonths < 0 {
		return errors.New("month range parameters need a positive chunk size and a non-negative lookback")
	}
	return nil
}

// MonthEndParams sets ToField to the end of the current month, or of the
// current year when EndOfYear is set.
type MonthEndParams struct {
	ToField   string
	Format    DateFormat
	EndOfYear bool
}

func (MonthEndParams) Kind() ParamKind { return KindMonthEnd }

func (p MonthEndParams) validate() error {
	if p.ToField == "" {
		return errors.New("month end parameters need toField")
	}
	return nil
}
