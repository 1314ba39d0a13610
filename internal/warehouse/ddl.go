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
	"fmt"
	"strings"

	"github.com/altairalabs/reportsync/internal/reports"
)

const (
	tableExistsQuery = `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
	WHERE TABLE_SCHEMA = CURRENT_SCHEMA() AND TABLE_NAME = ?`

	tableColumnsQuery = `SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
	WHERE TABLE_SCHEMA = CURRENT_SCHEMA() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION`
)

func columnDefs(cols []string) string {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = c + " STRING"
	}
	return strings.Join(defs, ", ")
}

// CreateTable creates table with every column typed STRING.
func (c *Client) CreateTable(ctx context.Context, table string, cols []string) error {
	if len(cols) == 0 {
		return &LoadError{Op: "create", Table: table, Err: fmt.Errorf("no columns")}
	}
	if err := checkIdentifiers("create", append([]string{table}, cols...)...); err != nil {
		return err
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, columnDefs(cols))
	_, err := c.exec(ctx, "create", table, query)
	return err
}

// AddColumns adds STRING columns to an existing table.
func (c *Client) AddColumns(ctx context.Context, table string, cols []string) error {
	if len(cols) == 0 {
		return nil
	}
	if err := checkIdentifiers("alter", append([]string{table}, cols...)...); err != nil {
		return err
	}
	query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, columnDefs(cols))
	_, err := c.exec(ctx, "alter", table, query)
	return err
}

// DropTable drops table if it exists.
func (c *Client) DropTable(ctx context.Context, table string) error {
	if err := checkIdentifiers("drop", table); err != nil {
		return err
	}
	_, err := c.exec(ctx, "drop", table, "DROP TABLE IF EXISTS "+table)
	return err
}

// RenameTable renames from to to.
func (c *Client) RenameTable(ctx context.Context, from, to string) error {
	if err := checkIdentifiers("rename", from, to); err != nil {
		return err
	}
	_, err := c.exec(ctx, "rename", from, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", from, to))
	return err
}

// SwapTables atomically exchanges the contents of a and b.
func (c *Client) SwapTables(ctx context.Context, a, b string) error {
	if err := checkIdentifiers("swap", a, b); err != nil {
		return err
	}
	_, err := c.exec(ctx, "swap", a, fmt.Sprintf("ALTER TABLE %s SWAP WITH %s", a, b))
	return err
}

// DuplicateTable creates dst as a full copy of src.
func (c *Client) DuplicateTable(ctx context.Context, src, dst string) error {
	if err := checkIdentifiers("duplicate", src, dst); err != nil {
		return err
	}
	_, err := c.exec(ctx, "duplicate", dst, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", dst, src))
	return err
}

// TableExists reports whether table exists in the current schema.
func (c *Client) TableExists(ctx context.Context, table string) (bool, error) {
	if err := checkIdentifiers("exists", table); err != nil {
		return false, err
	}
	db, err := c.handle()
	if err != nil {
		return false, err
	}
	var n int
	if err := db.QueryRowContext(ctx, tableExistsQuery, strings.ToUpper(table)).Scan(&n); err != nil {
		return false, loadErr("exists", table, err)
	}
	return n > 0, nil
}

// TableColumns lists table's columns in ordinal order, lowercased.
func (c *Client) TableColumns(ctx context.Context, table string) ([]string, error) {
	if err := checkIdentifiers("columns", table); err != nil {
		return nil, err
	}
	db, err := c.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, tableColumnsQuery, strings.ToUpper(table))
	if err != nil {
		return nil, loadErr("columns", table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, loadErr("columns", table, err)
		}
		cols = append(cols, strings.ToLower(name))
	}
	if err := rows.Err(); err != nil {
		return nil, loadErr("columns", table, err)
	}
	return cols, nil
}

// DeleteDateRange deletes rows whose field, parsed with format, falls inside r.
// It returns the number of deleted rows.
func (c *Client) DeleteDateRange(ctx context.Context, table, field string, format reports.DateFormat, r reports.DateRange) (int64, error) {
	if err := checkIdentifiers("delete", table, field); err != nil {
		return 0, err
	}
	if format.IsZero() {
		return 0, &LoadError{Op: "delete", Table: table, Err: fmt.Errorf("no date format")}
	}
	from, to := r.Format(format)
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE TRY_TO_DATE(%s, '%s') BETWEEN TO_DATE(?, '%s') AND TO_DATE(?, '%s')",
		table, field, format.Pattern, format.Pattern, format.Pattern)
	return c.exec(ctx, "delete", table, query, from, to)
}
