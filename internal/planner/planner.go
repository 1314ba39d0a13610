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

// Package planner turns a report definition and its sync state into the
// ordered list of upstream queries for one run.
package planner

import (
	"time"

	"github.com/altairalabs/reportsync/internal/reports"
	"github.com/altairalabs/reportsync/internal/syncstate"
)

// IncrementalCutoffDay is the last day of the month on which an incremental
// daily snapshot still re-fetches the whole previous month.
const IncrementalCutoffDay = 14

// Plan is the set of windows for one report run.
type Plan struct {
	Windows []reports.QueryWindow
	// FirstRun is true when the plan performs a full backfill.
	FirstRun bool
	// Bounds spans every window of an incremental plan. Zero on a first run.
	Bounds reports.DateRange
}

// From is the MM/DD/YYYY start of Bounds, empty on a first run.
func (p Plan) From() string {
	if p.FirstRun || p.Bounds.IsZero() {
		return ""
	}
	return reports.USDate.Format(p.Bounds.From)
}

// To is the MM/DD/YYYY end of Bounds, empty on a first run.
func (p Plan) To() string {
	if p.FirstRun || p.Bounds.IsZero() {
		return ""
	}
	return reports.USDate.Format(p.Bounds.To)
}

// Incremental reports whether the plan merges a bounded window.
func (p Plan) Incremental() bool {
	return !p.FirstRun && !p.Bounds.IsZero()
}

// Build plans a run of def. now must already be in the service timezone.
// Reports that do not merge by date window always rebuild their whole
// destination, so they are planned as first runs regardless of state.
func Build(def reports.Definition, st syncstate.State, now time.Time) Plan {
	today := reports.Day(now)
	firstRun := st.IsFirstRun || !def.IsUpsert()
	base := def.BaseFilters()

	switch p := def.Params.(type) {
	case reports.DailySnapshotParams:
		return dailySnapshot(base, p, today, firstRun)
	case reports.MonthRangeParams:
		return monthRange(base, p, today, firstRun)
	case reports.MonthEndParams:
		end := reports.LastOfMonth(today)
		if p.EndOfYear {
			end = time.Date(today.Year(), time.December, 31, 0, 0, 0, 0, today.Location())
		}
		format := p.Format
		if format.IsZero() {
			format = reports.USDate
		}
		w := reports.QueryWindow{Filters: with(base, reports.Filter{Key: p.ToField, Value: format.Format(end)})}
		return Plan{Windows: []reports.QueryWindow{w}, FirstRun: firstRun}
	default:
		return Plan{Windows: []reports.QueryWindow{{Filters: base}}, FirstRun: firstRun}
	}
}

func dailySnapshot(base []reports.Filter, p reports.DailySnapshotParams, today time.Time, firstRun bool) Plan {
	var span reports.DateRange
	if firstRun {
		start := time.Date(p.Start.Year(), p.Start.Month(), p.Start.Day(), 0, 0, 0, 0, today.Location())
		span = reports.NewDateRange(start, today)
	} else {
		start := reports.FirstOfMonth(today)
		if today.Day() <= IncrementalCutoffDay {
			start = start.AddDate(0, -1, 0)
		}
		span = reports.NewDateRange(start, today)
	}

	days := span.Days()
	windows := make([]reports.QueryWindow, 0, len(days))
	for _, d := range days {
		windows = append(windows, reports.QueryWindow{
			Filters: with(base, reports.Filter{Key: p.DateField, Value: reports.USDate.Format(d)}),
			AsOf:    d,
		})
	}

	plan := Plan{Windows: windows, FirstRun: firstRun}
	if !firstRun {
		plan.Bounds = span
	}
	return plan
}

func monthRange(base []reports.Filter, p reports.MonthRangeParams, today time.Time, firstRun bool) Plan {
	if !firstRun {
		start := reports.FirstOfMonth(today).AddDate(0, -p.LookbackMonths, 0)
		span := reports.NewDateRange(start, today)
		return Plan{
			Windows: []reports.QueryWindow{rangeWindow(base, p, span)},
			Bounds:  span,
		}
	}

	var windows []reports.QueryWindow
	start := time.Date(p.Start.Year(), p.Start.Month(), p.Start.Day(), 0, 0, 0, 0, today.Location())
	for !start.After(today) {
		end := start.AddDate(0, p.ChunkMonths, -1)
		if end.After(today) {
			end = today
		}
		windows = append(windows, rangeWindow(base, p, reports.NewDateRange(start, end)))
		start = end.AddDate(0, 0, 1)
	}
	return Plan{Windows: windows, FirstRun: true}
}

func rangeWindow(base []reports.Filter, p reports.MonthRangeParams, r reports.DateRange) reports.QueryWindow {
	from, to := r.Format(reports.USDate)
	return reports.QueryWindow{
		Filters: with(base,
			reports.Filter{Key: p.FromField, Value: from},
			reports.Filter{Key: p.ToField, Value: to},
		),
		Range: &r,
	}
}

// with copies base and appends extra so windows never share a backing array.
func with(base []reports.Filter, extra ...reports.Filter) []reports.Filter {
	out := make([]reports.Filter, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
