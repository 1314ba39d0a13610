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

// Package transform normalizes report records into warehouse-ready rows.
package transform

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/altairalabs/reportsync/internal/reports"
)

// Columns added to every row.
const (
	FetchedAtColumn = "fetched_at"
	AsOfDateColumn  = "as_of_date"
	// DigitPrefix is prepended to keys that would not be valid identifiers.
	DigitPrefix = "field_"
)

// TimestampLayout renders fetched_at in ISO-8601 UTC with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Transformer rewrites records. The zero value uses time.Now.
type Transformer struct {
	Now func() time.Time
}

func (t Transformer) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// Apply returns transformed copies of records. It never fails: nil values
// pass through and unrecognized shapes are left untouched.
func (t Transformer) Apply(def reports.Definition, w reports.QueryWindow, records []reports.Record) []reports.Record {
	if len(records) == 0 {
		return nil
	}
	fetchedAt := t.now().UTC().Format(TimestampLayout)

	var asOf string
	if def.IsUpsert() && def.Upsert != nil {
		if d, ok := w.Date(); ok {
			asOf = def.Upsert.DateFormat.Format(d)
		}
	}

	out := make([]reports.Record, len(records))
	for i, rec := range records {
		row := make(reports.Record, len(rec)+2)
		for k, v := range rec {
			row[ColumnName(k)] = v
		}
		row[FetchedAtColumn] = fetchedAt
		if asOf != "" {
			row[AsOfDateColumn] = asOf
		}
		out[i] = row
	}
	return out
}

// ColumnName maps an upstream key to its destination column name.
func ColumnName(key string) string {
	if key != "" && key[0] >= '0' && key[0] <= '9' {
		return DigitPrefix + key
	}
	return key
}

// Columns returns the union of keys across records. Keys of the first record
// come first, sorted, followed by each later record's unseen keys, sorted.
func Columns(records []reports.Record) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, rec := range records {
		cols = appendNew(cols, seen, rec)
	}
	return cols
}

// NewColumns returns the keys of records not already in known, in the same
// order Columns would produce them.
func NewColumns(known []string, records []reports.Record) []string {
	seen := make(map[string]struct{}, len(known))
	for _, c := range known {
		seen[c] = struct{}{}
	}
	var cols []string
	for _, rec := range records {
		cols = appendNew(cols, seen, rec)
	}
	return cols
}

// appendNew appends the keys of rec missing from seen, sorted, and marks them.
func appendNew(cols []string, seen map[string]struct{}, rec reports.Record) []string {
	fresh := lo.Filter(lo.Keys(rec), func(k string, _ int) bool {
		_, ok := seen[k]
		return !ok
	})
	slices.Sort(fresh)
	for _, k := range fresh {
		seen[k] = struct{}{}
	}
	return append(cols, fresh...)
}
