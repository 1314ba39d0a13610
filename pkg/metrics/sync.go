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

// Package metrics holds the Prometheus instruments of the sync service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Report outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

// SyncMetrics holds Prometheus metrics for sync passes. All methods are safe
// to call on a nil receiver.
type SyncMetrics struct {
	// PassDurationSeconds tracks the duration of a full pass over all reports.
	PassDurationSeconds prometheus.Histogram
	// PassesTotal counts completed passes.
	PassesTotal prometheus.Counter
	// LastPassTimestamp records when the last pass finished.
	LastPassTimestamp prometheus.Gauge
	// ReportRunsTotal counts report runs by outcome.
	ReportRunsTotal *prometheus.CounterVec
	// ReportAttemptsTotal counts attempts including retries.
	ReportAttemptsTotal *prometheus.CounterVec
	// ReportDurationSeconds tracks the duration of one report run.
	ReportDurationSeconds *prometheus.HistogramVec
	// RowsLoadedTotal counts rows written to staging.
	RowsLoadedTotal *prometheus.CounterVec
	// PagesFetchedTotal counts upstream pages.
	PagesFetchedTotal *prometheus.CounterVec
	// RecordsFetchedTotal counts upstream records.
	RecordsFetchedTotal *prometheus.CounterVec
	// TransportFailuresTotal counts masked upstream failures.
	TransportFailuresTotal *prometheus.CounterVec
	// LastSuccessTimestamp records the last successful run per report.
	LastSuccessTimestamp *prometheus.GaugeVec
	// HookRunsTotal counts post-processing hook runs by outcome.
	HookRunsTotal *prometheus.CounterVec
	// GateOpen is 1 while the current time is inside the allowed hours.
	GateOpen prometheus.Gauge
}

// NewSyncMetrics creates and registers metrics with the default registerer.
func NewSyncMetrics() *SyncMetrics {
	return newSyncMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewSyncMetricsWithRegistry creates metrics registered with reg. Use this
// for an isolated registry, e.g. in tests.
func NewSyncMetricsWithRegistry(reg prometheus.Registerer) *SyncMetrics {
	return newSyncMetrics(promauto.With(reg))
}

func newSyncMetrics(f promauto.Factory) *SyncMetrics {
	return &SyncMetrics{
		PassDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reportsync_pass_duration_seconds",
			Help:    "Duration of a sync pass over all reports in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		}),
		PassesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "reportsync_passes_total",
			Help: "Total number of completed sync passes",
		}),
		LastPassTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "reportsync_last_pass_timestamp",
			Help: "Unix timestamp of the last completed sync pass",
		}),
		ReportRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reportsync_report_runs_total",
			Help: "Total number of report runs by outcome",
		}, []string{"report", "outcome"}),
		ReportAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reportsync_report_attempts_total",
			Help: "Total number of report run attempts including retries",
		}, []string{"report"}),
		ReportDurationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reportsync_report_duration_seconds",
			Help:    "Duration of a report run in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"report"}),
		RowsLoadedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reportsync_rows_loaded_total",
			Help: "Total number of rows written to staging tables",
		}, []string{"report"}),
		PagesFetchedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reportsync_pages_fetched_total",
			Help: "Total number of upstream report pages fetched",
		}, []string{"endpoint"}),
		RecordsFetchedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reportsync_records_fetched_total",
			Help: "Total number of upstream records fetched",
		}, []string{"endpoint"}),
		TransportFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reportsync_transport_failures_total",
			Help: "Total number of upstream requests that failed and ended pagination",
		}, []string{"endpoint"}),
		LastSuccessTimestamp: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reportsync_last_success_timestamp",
			Help: "Unix timestamp of the last successful run per report",
		}, []string{"report"}),
		HookRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "reportsync_hook_runs_total",
			Help: "Total number of post-processing hook runs by outcome",
		}, []string{"hook", "outcome"}),
		GateOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "reportsync_gate_open",
			Help: "1 when the current time is inside the allowed sync hours",
		}),
	}
}

// RecordPass observes a completed pass.
func (m *SyncMetrics) RecordPass(d time.Duration) {
	if m == nil {
		return
	}
	m.PassDurationSeconds.Observe(d.Seconds())
	m.PassesTotal.Inc()
	m.LastPassTimestamp.SetToCurrentTime()
}

// RecordAttempt counts one attempt of a report run.
func (m *SyncMetrics) RecordAttempt(report string) {
	if m == nil {
		return
	}
	m.ReportAttemptsTotal.WithLabelValues(report).Inc()
}

// RecordReport observes the end of a report run.
func (m *SyncMetrics) RecordReport(report, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReportRunsTotal.WithLabelValues(report, outcome).Inc()
	m.ReportDurationSeconds.WithLabelValues(report).Observe(d.Seconds())
	if outcome != OutcomeFailed {
		m.LastSuccessTimestamp.WithLabelValues(report).SetToCurrentTime()
	}
}

// RecordRows adds n loaded rows for report.
func (m *SyncMetrics) RecordRows(report string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsLoadedTotal.WithLabelValues(report).Add(float64(n))
}

// RecordPage counts one fetched page and its records.
func (m *SyncMetrics) RecordPage(endpoint string, records int) {
	if m == nil {
		return
	}
	m.PagesFetchedTotal.WithLabelValues(endpoint).Inc()
	m.RecordsFetchedTotal.WithLabelValues(endpoint).Add(float64(records))
}

// RecordTransportFailure counts a masked upstream failure.
func (m *SyncMetrics) RecordTransportFailure(endpoint string) {
	if m == nil {
		return
	}
	m.TransportFailuresTotal.WithLabelValues(endpoint).Inc()
}

// RecordHook counts a post-processing hook run.
func (m *SyncMetrics) RecordHook(hook string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailed
	}
	m.HookRunsTotal.WithLabelValues(hook, outcome).Inc()
}

// SetGateOpen records whether syncing is currently allowed.
func (m *SyncMetrics) SetGateOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.GateOpen.Set(1)
		return
	}
	m.GateOpen.Set(0)
}
