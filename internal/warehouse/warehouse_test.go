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

package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/reportsync/internal/reports"
)

func newMockClient(t *testing.T, opts ...Option) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	opts = append([]Option{WithOpener(func(context.Context) (DB, error) { return FromSQL(db), nil })}, opts...)
	c := NewClient(Config{}, opts...)
	require.NoError(t, c.Connect(context.Background()))
	return c, mock
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Account: "acct", User: "u", Password: "p", Database: "db", Warehouse: "wh"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultSchema, cfg.Schema)
	assert.Equal(t, DefaultLoginTimeout, cfg.LoginTimeout)

	missing := []struct {
		name string
		cfg  Config
		want string
	}{
		{"account", Config{}, "account is required"},
		{"user", Config{Account: "a"}, "user is required"},
		{"password", Config{Account: "a", User: "u"}, "password is required"},
		{"database", Config{Account: "a", User: "u", Password: "p"}, "database is required"},
		{"warehouse", Config{Account: "a", User: "u", Password: "p", Database: "d"}, "warehouse is required"},
	}
	for _, tt := range missing {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, tt.cfg.Validate(), tt.want)
		})
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Account: "acct", User: "u", Password: "p", Database: "reports", Warehouse: "compute_wh", Role: "loader"}
	require.NoError(t, cfg.Validate())

	dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.Contains(t, dsn, "database=reports")
	assert.Contains(t, dsn, "warehouse=compute_wh")
	assert.Contains(t, dsn, "role=loader")
}

func TestClientLifecycle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	opens := 0
	c := NewClient(Config{}, WithOpener(func(context.Context) (DB, error) {
		opens++
		return FromSQL(db), nil
	}))

	_, err = c.Exec(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, opens)

	mock.ExpectClose()
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectError(t *testing.T) {
	c := NewClient(Config{}, WithOpener(func(context.Context) (DB, error) {
		return nil, errors.New("boom")
	}))
	err := c.Connect(context.Background())
	assert.ErrorContains(t, err, "warehouse connect: boom")
}

func TestDDLStatements(t *testing.T) {
	c, mock := newMockClient(t)
	ctx := context.Background()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS t_staging (a STRING, field_1b STRING)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER TABLE t_staging ADD COLUMN c STRING, d STRING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP TABLE IF EXISTS t").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER TABLE t_staging RENAME TO t").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER TABLE t_staging SWAP WITH t").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE t_staging AS SELECT * FROM t").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.CreateTable(ctx, "t_staging", []string{"a", "field_1b"}))
	require.NoError(t, c.AddColumns(ctx, "t_staging", []string{"c", "d"}))
	require.NoError(t, c.AddColumns(ctx, "t_staging", nil))
	require.NoError(t, c.DropTable(ctx, "t"))
	require.NoError(t, c.RenameTable(ctx, "t_staging", "t"))
	require.NoError(t, c.SwapTables(ctx, "t_staging", "t"))
	require.NoError(t, c.DuplicateTable(ctx, "t", "t_staging"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidIdentifiersNeverReachSQL(t *testing.T) {
	c, mock := newMockClient(t)
	ctx := context.Background()

	err := c.DropTable(ctx, "t; DROP TABLE x")
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "drop", le.Op)

	assert.Error(t, c.CreateTable(ctx, "t", []string{"ok", "bad-col"}))
	assert.Error(t, c.CreateTable(ctx, "t", nil))
	assert.Error(t, c.CallProcedure(ctx, "x(); DROP TABLE y"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecErrorIsLoadError(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectExec("DROP TABLE IF EXISTS t").WillReturnError(errors.New("warehouse suspended"))

	err := c.DropTable(context.Background(), "t")
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "t", le.Table)
	assert.EqualError(t, err, "warehouse drop t: warehouse suspended")
}

func TestTableExists(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery(tableExistsQuery).WithArgs("APPFOLIO_RENT_ROLL").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(tableExistsQuery).WithArgs("MISSING").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	ok, err := c.TableExists(context.Background(), "appfolio_rent_roll")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.TableExists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTableColumns(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery(tableColumnsQuery).WithArgs("T").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow("A").AddRow("FETCHED_AT"))

	cols, err := c.TableColumns(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "fetched_at"}, cols)
}

func TestDeleteDateRange(t *testing.T) {
	c, mock := newMockClient(t)
	r := reports.NewDateRange(
		time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC),
	)
	mock.ExpectExec("DELETE FROM t_staging WHERE TRY_TO_DATE(posted_on, 'MM/DD/YYYY') " +
		"BETWEEN TO_DATE(?, 'MM/DD/YYYY') AND TO_DATE(?, 'MM/DD/YYYY')").
		WithArgs("02/01/2024", "03/10/2024").
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := c.DeleteDateRange(context.Background(), "t_staging", "posted_on", reports.USDate, r)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestInsertRowsBatches(t *testing.T) {
	c, mock := newMockClient(t)
	rows := []reports.Record{
		{"a": "1", "b": json.Number("2.50")},
		{"a": nil, "b": true},
		{"a": "3"},
	}
	mock.ExpectExec("INSERT INTO t (a, b) VALUES (?, ?), (?, ?)").
		WithArgs("1", "2.50", nil, "true").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO t (a, b) VALUES (?, ?)").
		WithArgs("3", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := c.InsertRows(context.Background(), "t", []string{"a", "b"}, rows, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRowsStopsOnError(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectExec("INSERT INTO t (a) VALUES (?)").WithArgs("1").
		WillReturnError(errors.New("quota"))

	n, err := c.InsertRows(context.Background(), "t", []string{"a"},
		[]reports.Record{{"a": "1"}, {"a": "2"}}, 1)
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestValue(t *testing.T) {
	assert.Nil(t, Value(nil))
	assert.Equal(t, "x", Value("x"))
	assert.Equal(t, "1.5", Value(1.5))
	assert.Equal(t, "100000000", Value(1e8))
	assert.Equal(t, "false", Value(false))
	assert.Equal(t, `{"k":"v"}`, Value(map[string]any{"k": "v"}))
	assert.Equal(t, `[1,"a"]`, Value([]any{json.Number("1"), "a"}))
}

func TestWriteCSVEscaping(t *testing.T) {
	var buf bytes.Buffer
	rows := []reports.Record{
		{"a": `say "hi"`, "b": "x,y"},
		{"a": nil, "b": "line\nbreak"},
	}
	require.NoError(t, WriteCSV(&buf, []string{"a", "b"}, rows))
	assert.Equal(t, "a,b\n\"say \"\"hi\"\"\",\"x,y\"\n,\"line\nbreak\"\n", buf.String())
}

func TestBulkLoadPutsAndCopies(t *testing.T) {
	dir := t.TempDir()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c := NewClient(Config{}, WithStageDir(dir),
		WithOpener(func(context.Context) (DB, error) { return FromSQL(db), nil }))
	require.NoError(t, c.Connect(context.Background()))

	mock.ExpectExec(regexp.QuoteMeta("PUT 'file://") + ".*t_staging_[0-9]+\\.csv' " +
		regexp.QuoteMeta("@%t_staging AUTO_COMPRESS = TRUE OVERWRITE = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("COPY INTO t_staging (a, b) FROM @%t_staging FILES = ('t_staging_") +
		"[0-9]+" + regexp.QuoteMeta(".csv.gz') FILE_FORMAT")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := c.BulkLoad(context.Background(), "t_staging", []string{"a", "b"},
		[]reports.Record{{"a": "1"}, {"b": "2"}}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "staged csv must be removed")
}

func TestBulkLoadRemovesFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	c := NewClient(Config{}, WithStageDir(dir),
		WithOpener(func(context.Context) (DB, error) { return FromSQL(db), nil }))
	require.NoError(t, c.Connect(context.Background()))

	mock.ExpectExec("PUT .*").WillReturnError(errors.New("stage unavailable"))

	_, err = c.BulkLoad(context.Background(), "t", []string{"a"}, []reports.Record{{"a": "1"}}, 0)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "put", le.Op)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCallProcedure(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectExec("CALL silver_lands.silver_lands_data.run_master_queries()").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.CallProcedure(context.Background(), "silver_lands.silver_lands_data.run_master_queries()"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
