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

package loader

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/reportsync/internal/planner"
	"github.com/altairalabs/reportsync/internal/reports"
	"github.com/altairalabs/reportsync/internal/syncstate"
)

// memWarehouse models tables in memory and records every call.
type memWarehouse struct {
	tables map[string][]reports.Record
	cols   map[string][]string
	calls  []string

	failOn map[string]error
}

func newMemWarehouse() *memWarehouse {
	return &memWarehouse{
		tables: map[string][]reports.Record{},
		cols:   map[string][]string{},
		failOn: map[string]error{},
	}
}

func (m *memWarehouse) record(op string, args ...any) error {
	m.calls = append(m.calls, fmt.Sprint(append([]any{op}, args...)...))
	return m.failOn[op]
}

func (m *memWarehouse) CreateTable(_ context.Context, t string, cols []string) error {
	if err := m.record("create", " ", t); err != nil {
		return err
	}
	m.tables[t] = nil
	m.cols[t] = append([]string(nil), cols...)
	return nil
}

func (m *memWarehouse) AddColumns(_ context.Context, t string, cols []string) error {
	if err := m.record("alter", " ", t); err != nil {
		return err
	}
	m.cols[t] = append(m.cols[t], cols...)
	return nil
}

func (m *memWarehouse) DropTable(_ context.Context, t string) error {
	if err := m.record("drop", " ", t); err != nil {
		return err
	}
	delete(m.tables, t)
	delete(m.cols, t)
	return nil
}

func (m *memWarehouse) RenameTable(_ context.Context, from, to string) error {
	if err := m.record("rename", " ", from, " -> ", to); err != nil {
		return err
	}
	m.tables[to], m.cols[to] = m.tables[from], m.cols[from]
	delete(m.tables, from)
	delete(m.cols, from)
	return nil
}

func (m *memWarehouse) SwapTables(_ context.Context, a, b string) error {
	if err := m.record("swap", " ", a, " <-> ", b); err != nil {
		return err
	}
	m.tables[a], m.tables[b] = m.tables[b], m.tables[a]
	m.cols[a], m.cols[b] = m.cols[b], m.cols[a]
	return nil
}

func (m *memWarehouse) DuplicateTable(_ context.Context, src, dst string) error {
	if err := m.record("duplicate", " ", src, " -> ", dst); err != nil {
		return err
	}
	m.tables[dst] = append([]reports.Record(nil), m.tables[src]...)
	m.cols[dst] = append([]string(nil), m.cols[src]...)
	return nil
}

func (m *memWarehouse) TableExists(_ context.Context, t string) (bool, error) {
	_, ok := m.cols[t]
	return ok, m.failOn["exists"]
}

func (m *memWarehouse) TableColumns(_ context.Context, t string) ([]string, error) {
	return append([]string(nil), m.cols[t]...), nil
}

func (m *memWarehouse) DeleteDateRange(_ context.Context, t, field string, f reports.DateFormat, r reports.DateRange) (int64, error) {
	if err := m.record("delete", " ", t, " ", r.String()); err != nil {
		return 0, err
	}
	var kept []reports.Record
	for _, row := range m.tables[t] {
		s, _ := row[field].(string)
		d, err := f.Parse(s)
		if err == nil && r.Contains(d) {
			continue
		}
		kept = append(kept, row)
	}
	n := int64(len(m.tables[t]) - len(kept))
	m.tables[t] = kept
	return n, nil
}

func (m *memWarehouse) insert(op, t string, rows []reports.Record) (int64, error) {
	if err := m.record(op, " ", t); err != nil {
		return 0, err
	}
	if _, ok := m.cols[t]; !ok {
		return 0, errors.New("no such table " + t)
	}
	m.tables[t] = append(m.tables[t], rows...)
	return int64(len(rows)), nil
}

func (m *memWarehouse) InsertRows(_ context.Context, t string, _ []string, rows []reports.Record, _ int) (int64, error) {
	return m.insert("insert", t, rows)
}

func (m *memWarehouse) BulkLoad(_ context.Context, t string, _ []string, rows []reports.Record, _ int) (int64, error) {
	return m.insert("bulk", t, rows)
}

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

func replaceDef() reports.Definition {
	return reports.Definition{Name: "unit_vacancy", InsertMode: reports.Replace}.Normalize()
}

func upsertDef() reports.Definition {
	return reports.Definition{
		Name:       "rent_roll",
		InsertMode: reports.UpsertByDateWindow,
		LoadMethod: reports.BulkInsert,
		Params:     reports.DailySnapshotParams{DateField: "as_of_to", Start: day(time.January, 1)},
		Upsert:     &reports.UpsertSpec{DateField: "as_of_date", DateFormat: reports.USDate},
	}.Normalize()
}

func incrementalPlan(from, to time.Time) planner.Plan {
	return planner.Plan{Bounds: reports.NewDateRange(from, to)}
}

func TestReplaceSwapsStagingIntoDestination(t *testing.T) {
	wh := newMemWarehouse()
	wh.tables["appfolio_unit_vacancy"] = []reports.Record{{"unit": "old"}}
	wh.cols["appfolio_unit_vacancy"] = []string{"unit"}
	l := New(wh, Config{}, nil)
	ctx := context.Background()

	s, err := l.Begin(ctx, replaceDef(), planner.Plan{FirstRun: true})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []reports.Record{{"unit": "1A"}}))
	require.NoError(t, s.Write(ctx, nil))
	require.NoError(t, s.Write(ctx, []reports.Record{{"unit": "1B"}}))
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, []reports.Record{{"unit": "1A"}, {"unit": "1B"}}, wh.tables["appfolio_unit_vacancy"])
	_, stagingLeft := wh.cols["appfolio_unit_vacancy_staging"]
	assert.False(t, stagingLeft)
	assert.Equal(t, int64(2), s.Rows())
	assert.Equal(t, []string{
		"drop appfolio_unit_vacancy_staging",
		"create appfolio_unit_vacancy_staging",
		"insert appfolio_unit_vacancy_staging",
		"insert appfolio_unit_vacancy_staging",
		"drop appfolio_unit_vacancy",
		"rename appfolio_unit_vacancy_staging -> appfolio_unit_vacancy",
	}, wh.calls)
}

func TestAtomicSwapFinalize(t *testing.T) {
	wh := newMemWarehouse()
	wh.tables["appfolio_unit_vacancy"] = []reports.Record{{"unit": "old"}}
	wh.cols["appfolio_unit_vacancy"] = []string{"unit"}
	l := New(wh, Config{AtomicSwap: true}, nil)
	ctx := context.Background()

	s, err := l.Begin(ctx, replaceDef(), planner.Plan{FirstRun: true})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []reports.Record{{"unit": "new"}}))
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, []reports.Record{{"unit": "new"}}, wh.tables["appfolio_unit_vacancy"])
	assert.Contains(t, wh.calls, "swap appfolio_unit_vacancy_staging <-> appfolio_unit_vacancy")
	assert.NotContains(t, wh.calls, "drop appfolio_unit_vacancy")
	_, stagingLeft := wh.cols["appfolio_unit_vacancy_staging"]
	assert.False(t, stagingLeft)
}

func TestAtomicSwapFallsBackWhenDestinationMissing(t *testing.T) {
	wh := newMemWarehouse()
	l := New(wh, Config{AtomicSwap: true}, nil)
	ctx := context.Background()

	s, err := l.Begin(ctx, replaceDef(), planner.Plan{FirstRun: true})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []reports.Record{{"unit": "new"}}))
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, []reports.Record{{"unit": "new"}}, wh.tables["appfolio_unit_vacancy"])
}

func TestEmptyRunLeavesDestinationUntouched(t *testing.T) {
	wh := newMemWarehouse()
	wh.tables["appfolio_unit_vacancy"] = []reports.Record{{"unit": "keep"}}
	wh.cols["appfolio_unit_vacancy"] = []string{"unit"}
	l := New(wh, Config{}, nil)
	ctx := context.Background()

	s, err := l.Begin(ctx, replaceDef(), planner.Plan{FirstRun: true})
	require.NoError(t, err)
	err = s.Commit(ctx)
	assert.ErrorIs(t, err, ErrNothingLoaded)

	assert.Equal(t, []reports.Record{{"unit": "keep"}}, wh.tables["appfolio_unit_vacancy"])
	assert.NotContains(t, wh.calls, "drop appfolio_unit_vacancy")
	for _, c := range wh.calls {
		assert.NotContains(t, c, "rename")
	}
}

func TestNewColumnsAreAdded(t *testing.T) {
	wh := newMemWarehouse()
	l := New(wh, Config{}, nil)
	ctx := context.Background()

	s, err := l.Begin(ctx, replaceDef(), planner.Plan{FirstRun: true})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []reports.Record{{"a": "1"}}))
	require.NoError(t, s.Write(ctx, []reports.Record{{"a": "2", "b": "x"}}))

	assert.Equal(t, []string{"a", "b"}, wh.cols["appfolio_unit_vacancy_staging"])
	assert.Contains(t, wh.calls, "alter appfolio_unit_vacancy_staging")
}

func TestUpsertIncrementalReplacesOnlyTheWindow(t *testing.T) {
	wh := newMemWarehouse()
	dest := "appfolio_rent_roll"
	wh.cols[dest] = []string{"unit", "as_of_date"}
	wh.tables[dest] = []reports.Record{
		{"unit": "1A", "as_of_date": "01/15/2024"},
		{"unit": "1A", "as_of_date": "02/01/2024"},
		{"unit": "1A", "as_of_date": "02/02/2024"},
	}
	l := New(wh, Config{}, nil)
	ctx := context.Background()

	s, err := l.Begin(ctx, upsertDef(), incrementalPlan(day(time.February, 1), day(time.February, 2)))
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []reports.Record{
		{"unit": "1A", "as_of_date": "02/01/2024", "rent": "900"},
		{"unit": "1A", "as_of_date": "02/02/2024", "rent": "905"},
	}))
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, []reports.Record{
		{"unit": "1A", "as_of_date": "01/15/2024"},
		{"unit": "1A", "as_of_date": "02/01/2024", "rent": "900"},
		{"unit": "1A", "as_of_date": "02/02/2024", "rent": "905"},
	}, wh.tables[dest])
	assert.Equal(t, []string{"unit", "as_of_date", "rent"}, wh.cols[dest])
	assert.Equal(t, []string{
		"drop appfolio_rent_roll_staging",
		"duplicate appfolio_rent_roll -> appfolio_rent_roll_staging",
		"delete appfolio_rent_roll_staging 02/01/2024..02/02/2024",
		"alter appfolio_rent_roll_staging",
		"bulk appfolio_rent_roll_staging",
		"drop appfolio_rent_roll",
		"rename appfolio_rent_roll_staging -> appfolio_rent_roll",
	}, wh.calls)
}

func TestUpsertIncrementalWithNoRowsClearsWindow(t *testing.T) {
	wh := newMemWarehouse()
	dest := "appfolio_rent_roll"
	wh.cols[dest] = []string{"unit", "as_of_date"}
	wh.tables[dest] = []reports.Record{
		{"unit": "1A", "as_of_date": "01/31/2024"},
		{"unit": "1A", "as_of_date": "02/01/2024"},
		{"unit": "1A", "as_of_date": "02/02/2024"},
	}
	l := New(wh, Config{}, nil)
	ctx := context.Background()

	s, err := l.Begin(ctx, upsertDef(), incrementalPlan(day(time.February, 1), day(time.February, 2)))
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, []reports.Record{{"unit": "1A", "as_of_date": "01/31/2024"}}, wh.tables[dest])
	_, stagingLeft := wh.cols["appfolio_rent_roll_staging"]
	assert.False(t, stagingLeft)
}

func TestUpsertIncrementalWithoutDestinationNeedsBackfill(t *testing.T) {
	wh := newMemWarehouse()
	l := New(wh, Config{}, nil)

	_, err := l.Begin(context.Background(), upsertDef(), incrementalPlan(day(time.February, 1), day(time.February, 2)))
	assert.ErrorIs(t, err, ErrDestinationMissing)
	assert.Empty(t, wh.calls)
}

func TestInterruptedCommitIsRecoveredOnRetry(t *testing.T) {
	wh := newMemWarehouse()
	dest := "appfolio_rent_roll"
	wh.cols[dest] = []string{"unit", "as_of_date"}
	for d := 1; d <= 31; d++ {
		wh.tables[dest] = append(wh.tables[dest], reports.Record{
			"unit": "1A", "as_of_date": reports.USDate.Format(day(time.January, d)),
		})
	}
	l := New(wh, Config{}, nil)
	ctx := context.Background()
	plan := incrementalPlan(day(time.January, 15), day(time.January, 20))
	fresh := []reports.Record{{"unit": "1A", "as_of_date": "01/15/2024"}}

	wh.failOn["rename"] = errors.New("boom")
	s, err := l.Begin(ctx, upsertDef(), plan)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, fresh))
	require.ErrorContains(t, s.Commit(ctx), "boom")
	_, destLeft := wh.cols[dest]
	require.False(t, destLeft)

	delete(wh.failOn, "rename")
	s, err = l.Begin(ctx, upsertDef(), plan)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, fresh))
	require.NoError(t, s.Commit(ctx))

	rows := wh.tables[dest]
	assert.Len(t, rows, 26)
	inWindow := 0
	for _, r := range rows {
		d, err := reports.USDate.Parse(r["as_of_date"].(string))
		require.NoError(t, err)
		if plan.Bounds.Contains(d) {
			inWindow++
		}
	}
	assert.Equal(t, 1, inWindow)
	assert.Contains(t, wh.calls, "rename appfolio_rent_roll_staging -> appfolio_rent_roll")
	_, stagingLeft := wh.cols["appfolio_rent_roll_staging"]
	assert.False(t, stagingLeft)
}

func TestUpsertFirstRunBehavesLikeReplace(t *testing.T) {
	wh := newMemWarehouse()
	wh.cols["appfolio_rent_roll"] = []string{"unit"}
	wh.tables["appfolio_rent_roll"] = []reports.Record{{"unit": "stale"}}
	l := New(wh, Config{}, nil)
	ctx := context.Background()

	plan := planner.Build(upsertDef(), syncstate.Default(), day(time.January, 2))
	s, err := l.Begin(ctx, upsertDef(), plan)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []reports.Record{{"unit": "fresh"}}))
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, []reports.Record{{"unit": "fresh"}}, wh.tables["appfolio_rent_roll"])
}

func TestBeginFailsWhenDeleteFails(t *testing.T) {
	wh := newMemWarehouse()
	wh.cols["appfolio_rent_roll"] = []string{"unit"}
	wh.failOn["delete"] = errors.New("bad date")
	l := New(wh, Config{}, nil)

	_, err := l.Begin(context.Background(), upsertDef(), incrementalPlan(day(time.February, 1), day(time.February, 2)))
	assert.ErrorContains(t, err, "bad date")
	_, stagingLeft := wh.cols["appfolio_rent_roll_staging"]
	assert.False(t, stagingLeft, "failed begin drops its staging copy")
	_, destKept := wh.cols["appfolio_rent_roll"]
	assert.True(t, destKept)
}

func TestWriteFailurePropagates(t *testing.T) {
	wh := newMemWarehouse()
	wh.failOn["insert"] = errors.New("warehouse suspended")
	l := New(wh, Config{}, nil)
	ctx := context.Background()

	s, err := l.Begin(ctx, replaceDef(), planner.Plan{FirstRun: true})
	require.NoError(t, err)
	assert.ErrorContains(t, s.Write(ctx, []reports.Record{{"a": "1"}}), "warehouse suspended")

	s.Abort(ctx)
	_, stagingLeft := wh.cols["appfolio_unit_vacancy_staging"]
	assert.False(t, stagingLeft)
}

func TestDryRunNeverTouchesWarehouse(t *testing.T) {
	wh := newMemWarehouse()
	l := New(wh, Config{DryRun: true}, nil)
	ctx := context.Background()

	s, err := l.Begin(ctx, replaceDef(), planner.Plan{FirstRun: true})
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []reports.Record{{"a": "1"}, {"a": "2"}}))
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, int64(2), s.Rows())
	assert.Empty(t, wh.calls)
}
