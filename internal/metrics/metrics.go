// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

// Package metrics instruments the pipeline with Prometheus metrics.
//
// Archivus runs as short-lived cron invocations, so there is no scrape
// endpoint. Metrics live on a private registry and are exported with
// prometheus.WriteToTextfile into the node-exporter textfile collector
// directory at the end of an invocation. Export is best effort: a failed
// write never fails the cycle it describes.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/archivus/internal/logging"
)

// textfileName is the collector file holding one invocation's metrics.
const textfileName = "archivus.prom"

// Metrics is one invocation's instrument set on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// BackupCycles counts completed backup cycles per kind and outcome
	// (success, failure).
	BackupCycles *prometheus.CounterVec

	// BackupDuration is the wall time of the last backup cycle per kind.
	BackupDuration *prometheus.GaugeVec

	// ArtifactSize is the size of the last produced artifact per kind.
	ArtifactSize *prometheus.GaugeVec

	// LastSuccess is the unix timestamp of the last successful backup per
	// kind; freshness dashboards alert on it going flat.
	LastSuccess *prometheus.GaugeVec

	// PruneDeleted counts artifacts removed by retention.
	PruneDeleted prometheus.Counter

	// MonitorFindings is the number of findings per severity in the last
	// monitor pass.
	MonitorFindings *prometheus.GaugeVec

	// RestoreOutcomes counts restores per kind and outcome (completed,
	// aborted, declined).
	RestoreOutcomes *prometheus.CounterVec
}

// New builds the instrument set.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BackupCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivus_backup_cycles_total",
				Help: "Completed backup cycles by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		BackupDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "archivus_backup_duration_seconds",
				Help: "Wall time of the last backup cycle by kind",
			},
			[]string{"kind"},
		),
		ArtifactSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "archivus_artifact_size_bytes",
				Help: "Size of the last produced artifact by kind",
			},
			[]string{"kind"},
		),
		LastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "archivus_last_success_timestamp_seconds",
				Help: "Unix timestamp of the last successful backup by kind",
			},
			[]string{"kind"},
		),
		PruneDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "archivus_prune_deleted_total",
				Help: "Artifacts removed by the retention manager",
			},
		),
		MonitorFindings: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "archivus_monitor_findings",
				Help: "Findings per severity in the last monitor pass",
			},
			[]string{"severity"},
		),
		RestoreOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archivus_restore_outcomes_total",
				Help: "Restores by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}
}

// ObserveBackupSuccess records one successful backup cycle.
func (m *Metrics) ObserveBackupSuccess(kind string, sizeBytes int64, duration time.Duration, at time.Time) {
	m.BackupCycles.WithLabelValues(kind, "success").Inc()
	m.BackupDuration.WithLabelValues(kind).Set(duration.Seconds())
	m.ArtifactSize.WithLabelValues(kind).Set(float64(sizeBytes))
	m.LastSuccess.WithLabelValues(kind).Set(float64(at.Unix()))
}

// ObserveBackupFailure records one failed backup cycle.
func (m *Metrics) ObserveBackupFailure(kind string, duration time.Duration) {
	m.BackupCycles.WithLabelValues(kind, "failure").Inc()
	m.BackupDuration.WithLabelValues(kind).Set(duration.Seconds())
}

// Export writes the registry to the textfile collector directory. An
// empty dir disables export. Errors are logged, never returned: metrics
// must not fail the work they describe.
func (m *Metrics) Export(dir string) {
	if dir == "" {
		return
	}
	path := filepath.Join(dir, textfileName)
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Metrics textfile write failed")
	}
}

// Dump renders the registry to a string. Tests assert on it.
func (m *Metrics) Dump() (string, error) {
	tmp, err := os.CreateTemp("", "archivus-metrics-*")
	if err != nil {
		return "", fmt.Errorf("temp metrics file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	_ = tmp.Close()

	if err := prometheus.WriteToTextfile(tmp.Name(), m.registry); err != nil {
		return "", fmt.Errorf("render metrics: %w", err)
	}
	out, err := os.ReadFile(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("read metrics: %w", err)
	}
	return string(out), nil
}
