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
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/altairalabs/reportsync/internal/reports"
)

// MaxInsertRows caps the VALUES list of one INSERT statement, which
// Snowflake limits to 16,384 rows.
const MaxInsertRows = 16384

// Value renders a decoded JSON value as the string stored in a STRING
// column. nil stays nil so it loads as NULL.
func Value(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func insertStatement(table string, cols []string, n int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
	}
	return b.String()
}

// InsertRows appends rows with one parameterized multi-row INSERT per batch.
// Batches run sequentially. Missing keys load as NULL.
func (c *Client) InsertRows(ctx context.Context, table string, cols []string, rows []reports.Record, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := checkIdentifiers("insert", append([]string{table}, cols...)...); err != nil {
		return 0, err
	}
	if batchSize <= 0 || batchSize > MaxInsertRows {
		batchSize = MaxInsertRows
	}

	var total int64
	for _, batch := range lo.Chunk(rows, batchSize) {
		args := make([]any, 0, len(batch)*len(cols))
		for _, r := range batch {
			for _, col := range cols {
				args = append(args, Value(r[col]))
			}
		}
		if _, err := c.exec(ctx, "insert", table, insertStatement(table, cols, len(batch)), args...); err != nil {
			return total, err
		}
		total += int64(len(batch))
		c.log.Debugw("inserted batch", "table", table, "rows", len(batch))
	}
	return total, nil
}

// WriteCSV writes a header line of cols and then one line per row. nil and
// missing values become empty fields.
func WriteCSV(w io.Writer, cols []string, rows []reports.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	line := make([]string, len(cols))
	for _, r := range rows {
		for i, col := range cols {
			switch v := Value(r[col]).(type) {
			case nil:
				line[i] = ""
			case string:
				line[i] = v
			}
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

const copyOptions = `FILE_FORMAT = (TYPE = 'CSV' FIELD_OPTIONALLY_ENCLOSED_BY = '"' SKIP_HEADER = 1 NULL_IF = ('')) PURGE = TRUE`

// BulkLoad stages rows as CSV files in the table's internal stage and loads
// them with COPY INTO, one file per batch. Local files are removed whether
// or not the load succeeds.
func (c *Client) BulkLoad(ctx context.Context, table string, cols []string, rows []reports.Record, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := checkIdentifiers("bulk", append([]string{table}, cols...)...); err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		batchSize = reports.DefaultBatchSize
	}

	var total int64
	for _, batch := range lo.Chunk(rows, batchSize) {
		if err := c.bulkLoadFile(ctx, table, cols, batch); err != nil {
			return total, err
		}
		total += int64(len(batch))
	}
	return total, nil
}

func (c *Client) bulkLoadFile(ctx context.Context, table string, cols []string, rows []reports.Record) error {
	if c.stageDir != "" {
		if err := os.MkdirAll(c.stageDir, 0o755); err != nil {
			return loadErr("bulk", table, err)
		}
	}
	f, err := os.CreateTemp(c.stageDir, table+"_*.csv")
	if err != nil {
		return loadErr("bulk", table, err)
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()

	if err := WriteCSV(f, cols, rows); err != nil {
		_ = f.Close()
		return loadErr("bulk", table, fmt.Errorf("write csv: %w", err))
	}
	if err := f.Close(); err != nil {
		return loadErr("bulk", table, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return loadErr("bulk", table, err)
	}
	put := fmt.Sprintf("PUT 'file://%s' @%%%s AUTO_COMPRESS = TRUE OVERWRITE = TRUE", filepath.ToSlash(abs), table)
	if _, err := c.exec(ctx, "put", table, put); err != nil {
		return err
	}

	staged := filepath.Base(path) + ".gz"
	copyInto := fmt.Sprintf("COPY INTO %s (%s) FROM @%%%s FILES = ('%s') %s",
		table, strings.Join(cols, ", "), table, staged, copyOptions)
	if _, err := c.exec(ctx, "copy", table, copyInto); err != nil {
		return err
	}
	c.log.Debugw("bulk loaded file", "table", table, "rows", len(rows), "file", staged)
	return nil
}
