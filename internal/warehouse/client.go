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

// Package warehouse is the Snowflake side of the pipeline: connection
// lifecycle, table DDL and the two row loading strategies.
package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)
	qualifiedPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)
)

// ValidIdentifier reports whether name can be interpolated unquoted.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func checkIdentifiers(op string, names ...string) error {
	for _, n := range names {
		if !identifierPattern.MatchString(n) {
			return &LoadError{Op: op, Table: n, Err: fmt.Errorf("invalid identifier %q", n)}
		}
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithOpener replaces the connection factory.
func WithOpener(open Opener) Option {
	return func(c *Client) { c.open = open }
}

// WithLogger sets the client logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = log }
}

// WithStageDir sets where bulk load files are written.
func WithStageDir(dir string) Option {
	return func(c *Client) { c.stageDir = dir }
}

// Client issues statements against one warehouse connection that is opened
// by Connect and released by Close. It is reusable across passes.
type Client struct {
	open     Opener
	log      *zap.SugaredLogger
	stageDir string

	mu sync.Mutex
	db DB
}

// NewClient creates a disconnected client for cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		open:     SnowflakeOpener(cfg),
		log:      zap.NewNop().Sugar(),
		stageDir: cfg.StageDir,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the connection if it is not already open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return nil
	}
	db, err := c.open(ctx)
	if err != nil {
		return fmt.Errorf("warehouse connect: %w", err)
	}
	c.db = db
	c.log.Infow("connected to warehouse")
	return nil
}

// Close releases the connection. Closing a closed client is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.log.Infow("disconnected from warehouse")
	return err
}

// Ping checks the open connection.
func (c *Client) Ping(ctx context.Context) error {
	db, err := c.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (c *Client) handle() (DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, ErrNotConnected
	}
	return c.db, nil
}

// Exec runs a statement and returns the affected row count.
func (c *Client) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	db, err := c.handle()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// PUT and DDL results do not always report a count.
		return 0, nil
	}
	return n, nil
}

func (c *Client) exec(ctx context.Context, op, table, query string, args ...any) (int64, error) {
	n, err := c.Exec(ctx, query, args...)
	if err != nil {
		return 0, loadErr(op, table, err)
	}
	return n, nil
}

// CallProcedure invokes a stored procedure by (optionally qualified) name.
// A trailing "()" is accepted.
func (c *Client) CallProcedure(ctx context.Context, name string) error {
	bare := strings.TrimSuffix(strings.TrimSpace(name), "()")
	if !qualifiedPattern.MatchString(bare) {
		return &LoadError{Op: "call", Err: fmt.Errorf("invalid procedure name %q", name)}
	}
	_, err := c.exec(ctx, "call", bare, "CALL "+bare+"()")
	return err
}
