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

package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/reportsync/internal/reports"
)

var fixed = Transformer{Now: func() time.Time {
	return time.Date(2024, time.March, 5, 14, 7, 9, 123456789, time.FixedZone("MST", -7*3600))
}}

func replaceDef() reports.Definition {
	return reports.Definition{Name: "unit_vacancy", InsertMode: reports.Replace}.Normalize()
}

func upsertDef(format reports.DateFormat) reports.Definition {
	return reports.Definition{
		Name:       "rent_roll",
		InsertMode: reports.UpsertByDateWindow,
		Params:     reports.DailySnapshotParams{DateField: "as_of_to", Start: time.Now()},
		Upsert:     &reports.UpsertSpec{DateField: "as_of_date", DateFormat: format},
	}.Normalize()
}

func TestApplyPrefixesDigitKeys(t *testing.T) {
	out := fixed.Apply(replaceDef(), reports.QueryWindow{}, []reports.Record{{"1stfield": "x"}})

	require.Len(t, out, 1)
	assert.Equal(t, reports.Record{
		"field_1stfield": "x",
		"fetched_at":     "2024-03-05T21:07:09.123Z",
	}, out[0])
}

func TestApplyKeepsOtherKeysAndNils(t *testing.T) {
	in := []reports.Record{{"property_name": "Elm", "balance": nil, "amount": 12.5}}
	out := fixed.Apply(replaceDef(), reports.QueryWindow{}, in)

	assert.Equal(t, "Elm", out[0]["property_name"])
	v, ok := out[0]["balance"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, 12.5, out[0]["amount"])
	assert.NotContains(t, out[0], AsOfDateColumn)
	assert.NotContains(t, in[0], FetchedAtColumn, "input must not be mutated")
}

func TestApplyIsIdempotent(t *testing.T) {
	once := fixed.Apply(replaceDef(), reports.QueryWindow{}, []reports.Record{{"1stfield": "x", "b": "y"}})
	twice := fixed.Apply(replaceDef(), reports.QueryWindow{}, once)
	assert.Equal(t, once, twice)
}

func TestApplyAttachesAsOfDate(t *testing.T) {
	day := time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)
	w := reports.QueryWindow{AsOf: day}

	out := fixed.Apply(upsertDef(reports.USDate), w, []reports.Record{{"unit": "1A"}})
	assert.Equal(t, "02/29/2024", out[0][AsOfDateColumn])

	out = fixed.Apply(upsertDef(reports.ISODate), w, []reports.Record{{"unit": "1A"}})
	assert.Equal(t, "2024-02-29", out[0][AsOfDateColumn])
}

func TestApplyRangeWindowUsesRangeEnd(t *testing.T) {
	r := reports.NewDateRange(
		time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC),
	)
	out := fixed.Apply(upsertDef(reports.USDate), reports.QueryWindow{Range: &r}, []reports.Record{{"a": "b"}})
	assert.Equal(t, "03/31/2024", out[0][AsOfDateColumn])
}

func TestApplyEmpty(t *testing.T) {
	assert.Nil(t, fixed.Apply(replaceDef(), reports.QueryWindow{}, nil))
}

func TestColumnName(t *testing.T) {
	assert.Equal(t, "field_30_days", ColumnName("30_days"))
	assert.Equal(t, "days_30", ColumnName("days_30"))
	assert.Equal(t, "", ColumnName(""))
}

func TestColumnsOrdering(t *testing.T) {
	records := []reports.Record{
		{"b": 1, "a": 2},
		{"a": 3, "d": 4, "c": nil},
		{"b": 5},
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, Columns(records))
	assert.Equal(t, []string{"c", "d"}, NewColumns([]string{"a", "b"}, records))
	assert.Empty(t, NewColumns([]string{"a", "b", "c", "d"}, records))
}
