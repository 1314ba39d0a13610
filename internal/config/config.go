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

// Package config assembles the runtime configuration of the sync service
// from flags, environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/altairalabs/reportsync/internal/archive"
	"github.com/altairalabs/reportsync/internal/pipeline"
	"github.com/altairalabs/reportsync/internal/postprocess"
	"github.com/altairalabs/reportsync/internal/schedule"
	"github.com/altairalabs/reportsync/internal/syncstate"
	"github.com/altairalabs/reportsync/internal/tracing"
	"github.com/altairalabs/reportsync/internal/upstream"
	"github.com/altairalabs/reportsync/internal/warehouse"
)

// ErrConfig marks configuration that prevents startup.
var ErrConfig = errors.New("invalid configuration")

// State backends.
const (
	StateBackendFile  = "file"
	StateBackendRedis = "redis"
)

// DefaultStateFile is where the file backend keeps sync state.
const DefaultStateFile = "temp/report_cache_state.json"

// Environment variables carrying credentials. These are never read from
// flags.
const (
	EnvAppFolioClientID     = "APPFOLIO_CLIENT_ID"
	EnvAppFolioClientSecret = "APPFOLIO_CLIENT_SECRET"
	EnvAppFolioDatabaseID   = "APPFOLIO_DATABASE_ID"

	EnvSnowflakeAccount   = "SNOWFLAKE_ACCOUNT"
	EnvSnowflakeUser      = "SNOWFLAKE_USER"
	EnvSnowflakePassword  = "SNOWFLAKE_PASSWORD"
	EnvSnowflakeDatabase  = "SNOWFLAKE_DATABASE"
	EnvSnowflakeSchema    = "SNOWFLAKE_SCHEMA"
	EnvSnowflakeWarehouse = "SNOWFLAKE_WAREHOUSE"
	EnvSnowflakeRole      = "SNOWFLAKE_ROLE"
	EnvSnowflakeProcedure = "SNOWFLAKE_PROCEDURE"

	EnvTableauServer         = "TABLEAU_SERVER"
	EnvTableauSiteID         = "TABLEAU_SITE_ID"
	EnvTableauSiteContentURL = "TABLEAU_SITE_CONTENT_URL"
	EnvTableauWorkbookID     = "TABLEAU_WORKBOOK_ID"
	EnvTableauPATName        = "TABLEAU_PAT_NAME"
	EnvTableauPATSecret      = "TABLEAU_PAT_SECRET"

	EnvRedisPassword       = "REDIS_PASSWORD"
	EnvArchiveAccessKeyID  = "ARCHIVE_ACCESS_KEY_ID"
	EnvArchiveSecretKey    = "ARCHIVE_SECRET_ACCESS_KEY"
	EnvArchiveAccountName  = "ARCHIVE_ACCOUNT_NAME"
	EnvArchiveAccountKey   = "ARCHIVE_ACCOUNT_KEY"
	EnvArchiveGCSCredsFile = "ARCHIVE_GCS_CREDENTIALS_FILE"
	EnvOTLPEndpoint        = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

const defaultSiteContentURL = "silverlands"

// Options holds everything the service needs to start.
type Options struct {
	// Once runs a single pass, ignoring the allowed hours.
	Once bool
	// DryRun fetches and plans without touching the warehouse or state.
	DryRun bool
	// AtomicSwap finalizes loads with ALTER TABLE ... SWAP WITH.
	AtomicSwap bool

	Schedule  string
	Timezone  string
	StartHour int
	EndHour   int

	MaxAttempts int
	RetryDelay  time.Duration

	APIAddr     string
	MetricsAddr string

	// ReportsFile optionally points at a YAML file of report overrides.
	ReportsFile string

	StateBackend string
	StateFile    string
	Redis        syncstate.RedisConfig

	Archive              archive.BucketConfig
	ArchivePrefix        string
	ArchiveRetentionDays int

	Tracing tracing.Config

	AppFolio  upstream.Config
	Snowflake warehouse.Config
	Procedure string
	Tableau   postprocess.TableauConfig
}

// DefaultOptions returns Options with defaults for every non-secret field.
func DefaultOptions() Options {
	return Options{
		Schedule:      schedule.DefaultSchedule,
		Timezone:      schedule.DefaultTimezone,
		StartHour:     schedule.DefaultStartHour,
		EndHour:       schedule.DefaultEndHour,
		MaxAttempts:   pipeline.DefaultMaxAttempts,
		RetryDelay:    pipeline.DefaultRetryDelay,
		APIAddr:       ":3000",
		MetricsAddr:   ":9090",
		StateBackend:  StateBackendFile,
		StateFile:     DefaultStateFile,
		Archive:       archive.BucketConfig{Backend: archive.BackendNone},
		ArchivePrefix: "appfolio",
		Tracing:       tracing.Config{ServiceName: "reportsync", SampleRate: 1.0},
		AppFolio:      upstream.DefaultConfig(),
		Procedure:     postprocess.DefaultProcedure,
		Tableau:       postprocess.TableauConfig{SiteContentURL: defaultSiteContentURL},
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: load %s: %w", ErrConfig, path, err)
	}
	return nil
}

// ApplyEnv copies credentials and connection settings from the environment.
func (o *Options) ApplyEnv() error {
	setString(&o.AppFolio.ClientID, EnvAppFolioClientID)
	setString(&o.AppFolio.ClientSecret, EnvAppFolioClientSecret)
	setString(&o.AppFolio.DatabaseID, EnvAppFolioDatabaseID)

	setString(&o.Snowflake.Account, EnvSnowflakeAccount)
	setString(&o.Snowflake.User, EnvSnowflakeUser)
	setString(&o.Snowflake.Password, EnvSnowflakePassword)
	setString(&o.Snowflake.Database, EnvSnowflakeDatabase)
	setString(&o.Snowflake.Schema, EnvSnowflakeSchema)
	setString(&o.Snowflake.Warehouse, EnvSnowflakeWarehouse)
	setString(&o.Snowflake.Role, EnvSnowflakeRole)
	// An empty SNOWFLAKE_PROCEDURE disables the hook, so presence matters.
	if v, ok := os.LookupEnv(EnvSnowflakeProcedure); ok {
		o.Procedure = strings.TrimSpace(v)
	}

	setString(&o.Tableau.Server, EnvTableauServer)
	setString(&o.Tableau.SiteID, EnvTableauSiteID)
	setString(&o.Tableau.SiteContentURL, EnvTableauSiteContentURL)
	setString(&o.Tableau.WorkbookID, EnvTableauWorkbookID)
	setString(&o.Tableau.PATName, EnvTableauPATName)
	setString(&o.Tableau.PATSecret, EnvTableauPATSecret)

	setString(&o.Redis.Password, EnvRedisPassword)
	setString(&o.Archive.AccessKeyID, EnvArchiveAccessKeyID)
	setString(&o.Archive.SecretAccessKey, EnvArchiveSecretKey)
	setString(&o.Archive.AccountName, EnvArchiveAccountName)
	setString(&o.Archive.AccountKey, EnvArchiveAccountKey)
	if path := os.Getenv(EnvArchiveGCSCredsFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: read gcs credentials: %w", ErrConfig, err)
		}
		o.Archive.CredentialsJSON = data
	}

	if o.Tracing.Endpoint == "" {
		setString(&o.Tracing.Endpoint, EnvOTLPEndpoint)
	}
	o.Tracing.Enabled = o.Tracing.Endpoint != ""
	return nil
}

// Validate checks the options. Every problem is reported, wrapped in
// ErrConfig.
func (o *Options) Validate() error {
	var errs []error
	if err := o.AppFolio.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !o.DryRun {
		if err := o.Snowflake.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if o.Tableau.Enabled() {
		if err := o.Tableau.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := schedule.ParseSchedule(o.Schedule); err != nil {
		errs = append(errs, err)
	}
	if _, err := schedule.NewGate(o.Timezone, o.StartHour, o.EndHour); err != nil {
		errs = append(errs, err)
	}
	if o.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", o.MaxAttempts))
	}
	if o.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry delay must not be negative, got %s", o.RetryDelay))
	}

	switch o.StateBackend {
	case StateBackendFile:
		if o.StateFile == "" {
			errs = append(errs, errors.New("state file is required for the file backend"))
		}
	case StateBackendRedis:
		if len(o.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("redis addresses are required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state backend %q", o.StateBackend))
	}

	switch o.Archive.Backend {
	case archive.BackendNone, archive.BackendMemory:
	case archive.BackendS3, archive.BackendGCS, archive.BackendAzure:
		if o.Archive.Bucket == "" {
			errs = append(errs, fmt.Errorf("archive bucket is required for the %s backend", o.Archive.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive backend %q", o.Archive.Backend))
	}
	if o.ArchiveRetentionDays < 0 {
		errs = append(errs, errors.New("archive retention must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}

// Gate builds the allowed-hours gate.
func (o *Options) Gate() (schedule.Gate, error) {
	return schedule.NewGate(o.Timezone, o.StartHour, o.EndHour)
}

// ProcessorConfig returns the retry settings for report runs.
func (o *Options) ProcessorConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.MaxAttempts = o.MaxAttempts
	cfg.RetryDelay = o.RetryDelay
	cfg.DryRun = o.DryRun
	if gate, err := o.Gate(); err == nil {
		cfg.Location = gate.Location
	}
	return cfg
}

// SplitList splits a comma separated flag value, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnvInt reads key as an int, returning def when unset or invalid.
func EnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// EnvDuration reads key as a time.Duration, returning def when unset or
// invalid.
func EnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
