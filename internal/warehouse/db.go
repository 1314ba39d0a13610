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
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Client operations outside Connect/Close.
var ErrNotConnected = errors.New("warehouse: not connected")

// LoadError wraps a failed warehouse statement with the operation and table
// it was issued for.
type LoadError struct {
	Op    string
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("warehouse %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("warehouse %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func loadErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &LoadError{Op: op, Table: table, Err: err}
}

// Row abstracts *sql.Row for testing.
type Row interface {
	Scan(dest ...any) error
}

// DB abstracts *sql.DB for testing.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) Row
	PingContext(ctx context.Context) error
	Close() error
}

// FromSQL adapts a *sql.DB to DB.
func FromSQL(db *sql.DB) DB {
	return &sqlDBAdapter{db: db}
}

// sqlDBAdapter exists because *sql.DB.QueryRowContext returns *sql.Row, not Row.
type sqlDBAdapter struct {
	db *sql.DB
}

func (a *sqlDBAdapter) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return a.db.ExecContext(ctx, query, args...)
}

func (a *sqlDBAdapter) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return a.db.QueryContext(ctx, query, args...)
}

func (a *sqlDBAdapter) QueryRowContext(ctx context.Context, query string, args ...any) Row {
	return a.db.QueryRowContext(ctx, query, args...)
}

func (a *sqlDBAdapter) PingContext(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *sqlDBAdapter) Close() error {
	return a.db.Close()
}

// Opener creates a connected DB handle.
type Opener func(ctx context.Context) (DB, error)

const alterSessionQuery = `ALTER SESSION SET ABORT_DETACHED_QUERY=TRUE`

// SnowflakeOpener opens a single-connection pool so that session state such
// as table stages used by PUT stays on one connection.
func SnowflakeOpener(cfg Config) Opener {
	return func(ctx context.Context) (DB, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		dsn, err := cfg.DSN()
		if err != nil {
			return nil, err
		}
		db, err := sql.Open("snowflake", dsn)
		if err != nil {
			return nil, fmt.Errorf("snowflake open: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("snowflake ping: %w", err)
		}
		if _, err := db.ExecContext(ctx, alterSessionQuery); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("snowflake alter session: %w", err)
		}
		return FromSQL(db), nil
	}
}
