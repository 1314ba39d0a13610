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
	"errors"
	"fmt"
	"time"

	"github.com/snowflakedb/gosnowflake"
)

// Default configuration values.
const (
	DefaultSchema       = "PUBLIC"
	DefaultLoginTimeout = 60 * time.Second
	applicationName     = "reportsync"
)

// Config holds the Snowflake connection settings.
type Config struct {
	// Account is the Snowflake account identifier (e.g. "org-account").
	Account   string
	User      string
	Password  string
	Database  string
	Schema    string
	Warehouse string
	// Role is the Snowflake role to assume. Optional.
	Role         string
	LoginTimeout time.Duration
	// StageDir holds CSV files while they are PUT to a table stage.
	// Empty uses the OS temp directory.
	StageDir string
}

// Validate checks that required fields are set and applies defaults.
func (c *Config) Validate() error {
	if c.Account == "" {
		return errors.New("snowflake: account is required")
	}
	if c.User == "" {
		return errors.New("snowflake: user is required")
	}
	if c.Password == "" {
		return errors.New("snowflake: password is required")
	}
	if c.Database == "" {
		return errors.New("snowflake: database is required")
	}
	if c.Warehouse == "" {
		return errors.New("snowflake: warehouse is required")
	}
	if c.Schema == "" {
		c.Schema = DefaultSchema
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = DefaultLoginTimeout
	}
	return nil
}

// DSN returns the gosnowflake connection string.
func (c *Config) DSN() (string, error) {
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:      c.Account,
		User:         c.User,
		Password:     c.Password,
		Database:     c.Database,
		Schema:       c.Schema,
		Warehouse:    c.Warehouse,
		Role:         c.Role,
		LoginTimeout: c.LoginTimeout,
		Application:  applicationName,
	})
	if err != nil {
		return "", fmt.Errorf("snowflake: build dsn: %w", err)
	}
	return dsn, nil
}
