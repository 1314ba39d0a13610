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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/altairalabs/reportsync/internal/api"
	"github.com/altairalabs/reportsync/internal/archive"
	"github.com/altairalabs/reportsync/internal/config"
	"github.com/altairalabs/reportsync/internal/loader"
	"github.com/altairalabs/reportsync/internal/pipeline"
	"github.com/altairalabs/reportsync/internal/postprocess"
	"github.com/altairalabs/reportsync/internal/reports"
	"github.com/altairalabs/reportsync/internal/schedule"
	"github.com/altairalabs/reportsync/internal/syncstate"
	"github.com/altairalabs/reportsync/internal/tracing"
	"github.com/altairalabs/reportsync/internal/upstream"
	"github.com/altairalabs/reportsync/internal/warehouse"
	"github.com/altairalabs/reportsync/pkg/logging"
	"github.com/altairalabs/reportsync/pkg/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// flags groups all CLI flags for the reportsync binary.
type flags struct {
	envFile         string
	reportsFile     string
	once            bool
	dryRun          bool
	atomicSwap      bool
	schedule        string
	timezone        string
	startHour       int
	endHour         int
	maxAttempts     int
	retryDelay      time.Duration
	apiAddr         string
	metricsAddr     string
	stateBackend    string
	stateFile       string
	redisAddrs      string
	redisDB         int
	redisPrefix     string
	archiveBackend  string
	archiveBucket   string
	archiveRegion   string
	archiveEndpoint string
	archivePrefix   string
	archiveDays     int
	otlpEndpoint    string
	otlpInsecure    bool
}

func parseFlags(defaults config.Options) *flags {
	f := &flags{}
	flag.StringVar(&f.envFile, "env-file", ".env", "Optional .env file loaded before reading the environment")
	flag.StringVar(&f.reportsFile, "reports-file", "", "Report overrides YAML")
	flag.BoolVar(&f.once, "once", false, "Run a single pass, ignoring allowed hours, and exit")
	flag.BoolVar(&f.dryRun, "dry-run", false, "Fetch and plan without touching the warehouse or sync state")
	flag.BoolVar(&f.atomicSwap, "atomic-swap", false, "Finalize loads with ALTER TABLE ... SWAP WITH")
	flag.StringVar(&f.schedule, "schedule", defaults.Schedule, "Cron schedule of passes")
	flag.StringVar(&f.timezone, "timezone", defaults.Timezone, "Timezone of the allowed hours and date windows")
	flag.IntVar(&f.startHour, "start-hour", defaults.StartHour, "First hour passes may run")
	flag.IntVar(&f.endHour, "end-hour", defaults.EndHour, "Hour from which passes stop")
	flag.IntVar(&f.maxAttempts, "max-attempts", defaults.MaxAttempts, "Attempts per report run")
	flag.DurationVar(&f.retryDelay, "retry-delay", defaults.RetryDelay, "Delay between report attempts")
	flag.StringVar(&f.apiAddr, "api-addr", defaults.APIAddr, "Admin API listen address")
	flag.StringVar(&f.metricsAddr, "metrics-addr", defaults.MetricsAddr, "Metrics server listen address")
	flag.StringVar(&f.stateBackend, "state-backend", defaults.StateBackend, "Sync state backend (file, redis)")
	flag.StringVar(&f.stateFile, "state-file", defaults.StateFile, "Sync state file for the file backend")
	flag.StringVar(&f.redisAddrs, "redis-addrs", "", "Redis addresses (comma-separated)")
	flag.IntVar(&f.redisDB, "redis-db", 0, "Redis database")
	flag.StringVar(&f.redisPrefix, "redis-prefix", "", "Redis key prefix")
	flag.StringVar(&f.archiveBackend, "archive-backend", "", "Raw page archive backend (s3, gcs, azure, memory)")
	flag.StringVar(&f.archiveBucket, "archive-bucket", "", "Archive bucket or container")
	flag.StringVar(&f.archiveRegion, "archive-region", "", "Archive region (S3)")
	flag.StringVar(&f.archiveEndpoint, "archive-endpoint", "", "Archive endpoint (S3-compatible stores)")
	flag.StringVar(&f.archivePrefix, "archive-prefix", defaults.ArchivePrefix, "Archive key prefix")
	flag.IntVar(&f.archiveDays, "archive-retention-days", 0, "Days archived pages are kept; 0 keeps them forever")
	flag.StringVar(&f.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces")
	flag.BoolVar(&f.otlpInsecure, "otlp-insecure", false, "Disable TLS for the OTLP connection")
	flag.Parse()
	return f
}

// applyEnvFallbacks applies environment variable overrides to flag defaults.
func (f *flags) applyEnvFallbacks(defaults config.Options) {
	envFallback(&f.reportsFile, "", "REPORTS_FILE")
	envFallback(&f.schedule, defaults.Schedule, "SYNC_SCHEDULE")
	envFallback(&f.timezone, defaults.Timezone, "SYNC_TIMEZONE")
	envFallback(&f.apiAddr, defaults.APIAddr, "API_ADDR")
	envFallback(&f.metricsAddr, defaults.MetricsAddr, "METRICS_ADDR")
	envFallback(&f.stateBackend, defaults.StateBackend, "STATE_BACKEND")
	envFallback(&f.stateFile, defaults.StateFile, "STATE_FILE")
	envFallback(&f.redisAddrs, "", "REDIS_ADDRS")
	envFallback(&f.redisPrefix, "", "REDIS_PREFIX")
	envFallback(&f.archiveBackend, "", "ARCHIVE_BACKEND")
	envFallback(&f.archiveBucket, "", "ARCHIVE_BUCKET")
	envFallback(&f.archiveRegion, "", "ARCHIVE_REGION")
	envFallback(&f.archiveEndpoint, "", "ARCHIVE_ENDPOINT")
	envFallback(&f.archivePrefix, defaults.ArchivePrefix, "ARCHIVE_PREFIX")

	if port := os.Getenv("PORT"); port != "" && f.apiAddr == defaults.APIAddr {
		f.apiAddr = ":" + port
	}

	envBoolFallback(&f.once, "SYNC_ONCE")
	envBoolFallback(&f.dryRun, "DRY_RUN")
	envBoolFallback(&f.atomicSwap, "ATOMIC_SWAP")

	if f.maxAttempts == defaults.MaxAttempts {
		f.maxAttempts = config.EnvInt("SYNC_MAX_ATTEMPTS", f.maxAttempts)
	}
	if f.retryDelay == defaults.RetryDelay {
		f.retryDelay = config.EnvDuration("SYNC_RETRY_DELAY", f.retryDelay)
	}
	if f.archiveDays == 0 {
		f.archiveDays = config.EnvInt("ARCHIVE_RETENTION_DAYS", 0)
	}
}

// envFallback sets *dst from the environment variable envKey when *dst still
// equals the default value and the environment variable is non-empty.
func envFallback(dst *string, defaultVal, envKey string) {
	if *dst == defaultVal {
		if v := os.Getenv(envKey); v != "" {
			*dst = v
		}
	}
}

// envBoolFallback enables a boolean flag from an environment variable when the
// flag was not set on the command line.
func envBoolFallback(dst *bool, envKey string) {
	if !*dst {
		if v, err := strconv.ParseBool(os.Getenv(envKey)); err == nil && v {
			*dst = true
		}
	}
}

// options merges flags into the defaults.
func (f *flags) options(o config.Options) config.Options {
	o.Once = f.once
	o.DryRun = f.dryRun
	o.AtomicSwap = f.atomicSwap
	o.Schedule = f.schedule
	o.Timezone = f.timezone
	o.StartHour = f.startHour
	o.EndHour = f.endHour
	o.MaxAttempts = f.maxAttempts
	o.RetryDelay = f.retryDelay
	o.APIAddr = f.apiAddr
	o.MetricsAddr = f.metricsAddr
	o.ReportsFile = f.reportsFile
	o.StateBackend = f.stateBackend
	o.StateFile = f.stateFile
	o.Redis.Addrs = config.SplitList(f.redisAddrs)
	o.Redis.DB = f.redisDB
	o.Redis.KeyPrefix = f.redisPrefix
	o.Archive.Backend = f.archiveBackend
	o.Archive.Bucket = f.archiveBucket
	o.Archive.Region = f.archiveRegion
	o.Archive.Endpoint = f.archiveEndpoint
	o.Archive.UsePathStyle = f.archiveEndpoint != ""
	o.ArchivePrefix = f.archivePrefix
	o.ArchiveRetentionDays = f.archiveDays
	o.Tracing.Endpoint = f.otlpEndpoint
	o.Tracing.Insecure = f.otlpInsecure
	o.Tracing.ServiceVersion = version
	return o
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	defaults := config.DefaultOptions()
	f := parseFlags(defaults)
	if err := config.LoadEnvFile(f.envFile); err != nil {
		return err
	}
	f.applyEnvFallbacks(defaults)

	opts := f.options(defaults)
	if err := opts.ApplyEnv(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	// --- Logger ---
	zapLog, err := logging.NewZapLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = zapLog.Sync() }()
	sugar := zapLog.Sugar()
	log := logging.Logr(zapLog)

	// --- Signal context ---
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	catalog, err := buildCatalog(opts.ReportsFile)
	if err != nil {
		return err
	}

	// --- Tracing ---
	var tracer *tracing.Provider
	if opts.Tracing.Enabled {
		tracer, err = tracing.NewProvider(ctx, opts.Tracing)
		if err != nil {
			return fmt.Errorf("creating tracing provider: %w", err)
		}
		defer shutdownTracer(tracer, sugar)
	}

	m := metrics.NewSyncMetrics()

	// --- State store ---
	store, err := openStore(ctx, opts, sugar)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	// --- Archive ---
	archiver, err := openArchive(ctx, opts, sugar)
	if err != nil {
		return err
	}
	defer func() { _ = archiver.Close() }()

	// --- Upstream ---
	client, err := upstream.NewClient(opts.AppFolio, log)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	fetcher := upstream.NewFetcher(client, log, upstream.WithMetrics(m))

	// --- Warehouse ---
	wh := warehouse.NewClient(opts.Snowflake, warehouse.WithLogger(sugar.Named("warehouse")))
	stager := loader.New(wh, loader.Config{AtomicSwap: opts.AtomicSwap, DryRun: opts.DryRun}, sugar.Named("loader"))

	processor := pipeline.NewProcessor(fetcher, stager, store, opts.ProcessorConfig(),
		pipeline.WithArchive(archiver),
		pipeline.WithMetrics(m),
		pipeline.WithTracing(tracer),
		pipeline.WithLogger(sugar.Named("processor")),
	)

	var connector pipeline.Connector = wh
	if opts.DryRun {
		connector = noopConnector{}
	}
	runner := pipeline.NewRunner(catalog, processor, connector,
		pipeline.WithHooks(buildHooks(opts, wh, archiver, catalog, log, sugar)...),
		pipeline.WithRunnerMetrics(m),
		pipeline.WithRunnerTracing(tracer),
		pipeline.WithRunnerLogger(sugar.Named("runner")),
	)

	// --- Servers ---
	adminSrv := api.NewServer(catalog, store, log,
		api.WithVersion(version),
		api.WithReadiness(func(ctx context.Context) error {
			_, err := store.All(ctx)
			return err
		}),
	).NewHTTPServer(opts.APIAddr)
	metricsSrv := newMetricsServer(opts.MetricsAddr)
	startHTTPServer(log, "admin API", opts.APIAddr, adminSrv)
	startHTTPServer(log, "metrics", opts.MetricsAddr, metricsSrv)
	defer shutdownServers(log, adminSrv, metricsSrv)

	log.Info("reportsync ready",
		"version", version,
		"reports", len(catalog.Enabled()),
		"once", opts.Once,
		"dryRun", opts.DryRun,
		"stateBackend", opts.StateBackend,
		"archive", opts.Archive.Backend,
	)

	pass := func(ctx context.Context) error {
		res, err := runner.RunPass(ctx)
		if err != nil {
			return err
		}
		if failed := res.Failed(); len(failed) > 0 {
			return fmt.Errorf("reports failed: %v", failed)
		}
		return nil
	}

	if opts.Once {
		err := pass(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	gate, err := opts.Gate()
	if err != nil {
		return err
	}
	tick, err := schedule.ParseSchedule(opts.Schedule)
	if err != nil {
		return err
	}
	return schedule.NewLoop(gate, tick, pass,
		schedule.WithLoopLogger(sugar.Named("schedule")),
		schedule.WithLoopMetrics(m),
	).Run(ctx)
}

func buildCatalog(path string) (*reports.Catalog, error) {
	defs := reports.DefaultCatalog()
	if path != "" {
		overrides, err := config.LoadOverrides(path)
		if err != nil {
			return nil, err
		}
		if defs, err = overrides.Apply(defs); err != nil {
			return nil, err
		}
	}
	catalog, err := reports.NewCatalog(defs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	return catalog, nil
}

func openStore(ctx context.Context, opts config.Options, log *zap.SugaredLogger) (syncstate.Store, error) {
	if opts.StateBackend == config.StateBackendRedis {
		store, err := syncstate.NewRedisStore(ctx, opts.Redis, log.Named("state"))
		if err != nil {
			return nil, fmt.Errorf("opening redis state store: %w", err)
		}
		return store, nil
	}
	return syncstate.NewFileStore(opts.StateFile, log.Named("state")), nil
}

func openArchive(ctx context.Context, opts config.Options, log *zap.SugaredLogger) (*archive.Archiver, error) {
	bucket, err := archive.Open(ctx, opts.Archive)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	if bucket != nil {
		if err := bucket.Ping(ctx); err != nil {
			_ = bucket.Close()
			return nil, fmt.Errorf("archive not reachable: %w", err)
		}
	}
	return archive.New(bucket, opts.ArchivePrefix, log.Named("archive")), nil
}

func buildHooks(opts config.Options, wh *warehouse.Client, archiver *archive.Archiver, catalog *reports.Catalog, log logr.Logger, sugar *zap.SugaredLogger) []pipeline.Hook {
	var hooks []pipeline.Hook
	if !opts.DryRun {
		if p := postprocess.NewProcedure(wh, opts.Procedure, sugar.Named("procedure")); p != nil {
			hooks = append(hooks, p)
		}
		if opts.Tableau.Enabled() {
			// Validated with the rest of the options.
			if t, err := postprocess.NewTableau(opts.Tableau, log); err == nil {
				hooks = append(hooks, t)
			}
		}
	}
	if archiver != nil {
		if h := postprocess.NewArchivePrune(archiver, catalog.Names(), opts.ArchiveRetentionDays, sugar.Named("archive")); h != nil {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

type noopConnector struct{}

func (noopConnector) Connect(context.Context) error { return nil }
func (noopConnector) Close() error                  { return nil }

// newMetricsServer creates the HTTP server exposing Prometheus metrics.
func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

// startHTTPServer starts an HTTP server in a background goroutine.
func startHTTPServer(log logr.Logger, name, addr string, srv *http.Server) {
	go func() {
		log.Info("starting server", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "server error", "server", name)
		}
	}()
}

// shutdownServers gracefully stops all servers with a 30-second timeout.
func shutdownServers(log logr.Logger, servers ...*http.Server) {
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Error(err, "server shutdown error", "addr", srv.Addr)
		}
	}
}

func shutdownTracer(p *tracing.Provider, log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		log.Warnw("tracing shutdown failed", "error", err)
	}
}
