// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

// Package pipeline coordinates one Archivus invocation.
//
// The coordinator wires configuration, the artifact store, the alert sink,
// and metrics together, runs exactly one operation (backup, restore,
// verify, monitor, or prune), and maps the outcome to the process exit
// code. Exit-code policy lives only here.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tomtom215/archivus/internal/alert"
	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/dump"
	"github.com/tomtom215/archivus/internal/logging"
	"github.com/tomtom215/archivus/internal/metrics"
	"github.com/tomtom215/archivus/internal/monitor"
	"github.com/tomtom215/archivus/internal/restore"
	"github.com/tomtom215/archivus/internal/retention"
	"github.com/tomtom215/archivus/internal/store"
	"github.com/tomtom215/archivus/internal/verify"
)

// Process exit codes. The external scheduler and its wrappers key off
// these.
const (
	ExitOK       = 0 // operation succeeded
	ExitFailure  = 1 // recoverable failure, alert emitted
	ExitConfig   = 2 // configuration error, nothing was touched
	ExitDeclined = 3 // operator declined the restore confirmation
)

// Backup kind selectors accepted by RunBackup.
const (
	KindDB    = "db"
	KindCache = "cache"
	KindAll   = "all"
)

// Coordinator owns the wiring for one invocation.
type Coordinator struct {
	cfg     *config.Config
	store   *store.Store
	sink    alert.Sink
	metrics *metrics.Metrics

	producer *dump.Producer
}

// New wires a coordinator from validated configuration.
func New(cfg *config.Config) (*Coordinator, error) {
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	sink, err := alert.NewSink(cfg.Alert)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:      cfg,
		store:    st,
		sink:     sink,
		metrics:  metrics.New(),
		producer: dump.NewProducer(st, cfg.EncryptionKey, sink),
	}, nil
}

// Close exports metrics, closes the alert sink, and wipes the encryption
// key. Call it on every exit path.
func (c *Coordinator) Close() {
	c.metrics.Export(c.cfg.Metrics.TextfileDir)
	if err := c.sink.Close(); err != nil {
		logging.Warn().Err(err).Msg("Alert sink close failed")
	}
	c.cfg.EncryptionKey.Zero()
}

// RunBackup runs one backup cycle for the selected kind. With KindAll
// both kinds run and are reported independently; one kind failing never
// stops the other.
func (c *Coordinator) RunBackup(ctx context.Context, kind string) int {
	switch kind {
	case KindDB, KindCache, KindAll:
	default:
		logging.Error().Str("kind", kind).Msg("Unknown backup kind")
		return ExitConfig
	}

	code := ExitOK
	if kind == KindDB || kind == KindAll {
		code = mergeExitCode(code, c.backupDatabase(ctx))
	}
	if kind == KindCache || kind == KindAll {
		code = mergeExitCode(code, c.backupCache(ctx))
	}
	return code
}

// mergeExitCode folds one kind's outcome into the cycle's exit code. A
// configuration error keeps exit 2 unless a recoverable failure also
// happened, in which case the cycle reports the recoverable class.
func mergeExitCode(current, next int) int {
	switch {
	case next == ExitOK:
		return current
	case current == ExitOK:
		return next
	case current == ExitFailure || next == ExitFailure:
		return ExitFailure
	default:
		return current
	}
}

func (c *Coordinator) backupDatabase(ctx context.Context) int {
	src, err := dump.NewDatabaseSource(c.cfg.DB)
	if err != nil {
		logging.Error().Err(err).Msg("Database source rejected")
		return ExitConfig
	}
	return c.produce(ctx, src)
}

// backupCache produces the snapshot artifact, then the optional append
// log artifact when the server has AOF enabled and a log path is
// configured. The snapshot is the primary object: an AOF failure marks
// the cycle failed but the snapshot already stands.
func (c *Coordinator) backupCache(ctx context.Context) int {
	src := dump.NewCacheSource(c.cfg.Cache)
	code := c.produce(ctx, src)
	if code != ExitOK {
		return code
	}

	if c.cfg.Cache.AOFPath == "" {
		return ExitOK
	}
	enabled, err := src.AppendLogEnabled(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Append log probe failed, skipping AOF artifact")
		return ExitOK
	}
	if !enabled {
		return ExitOK
	}
	return c.produce(ctx, dump.NewCacheAOFSource(src, c.cfg.Cache.AOFPath))
}

func (c *Coordinator) produce(ctx context.Context, src dump.Source) int {
	started := time.Now()
	artifact, err := c.producer.Produce(ctx, src)
	duration := time.Since(started)
	if err != nil {
		c.metrics.ObserveBackupFailure(string(src.Kind()), duration)
		logging.Error().Err(err).Str("kind", string(src.Kind())).Msg("Backup cycle failed")
		return ExitFailure
	}
	c.metrics.ObserveBackupSuccess(string(src.Kind()), artifact.SizeBytes, duration, time.Now())
	return ExitOK
}

// RunRestore replays one artifact. Without autoYes the operator is asked
// on the given terminal streams.
func (c *Coordinator) RunRestore(ctx context.Context, artifactPath string, autoYes bool, in io.Reader, out io.Writer) int {
	artifact, err := c.store.Stat(artifactPath)
	if err != nil {
		logging.Error().Err(err).Str("path", artifactPath).Msg("Artifact rejected")
		return ExitFailure
	}

	target, err := c.targetFor(artifact)
	if err != nil {
		logging.Error().Err(err).Msg("Restore target rejected")
		return ExitConfig
	}

	confirm := restore.TerminalConfirm(in, out)
	if autoYes {
		confirm = restore.AutoConfirm()
	}

	orch := restore.NewOrchestrator(c.store, c.cfg.EncryptionKey, c.sink)
	err = orch.Restore(ctx, artifact, target, confirm)
	switch {
	case errors.Is(err, restore.ErrDeclined):
		c.metrics.RestoreOutcomes.WithLabelValues(string(artifact.Kind), "declined").Inc()
		return ExitDeclined
	case err != nil:
		c.metrics.RestoreOutcomes.WithLabelValues(string(artifact.Kind), "aborted").Inc()
		return ExitFailure
	}
	c.metrics.RestoreOutcomes.WithLabelValues(string(artifact.Kind), "completed").Inc()
	return ExitOK
}

// targetFor picks the restore destination matching the artifact family.
func (c *Coordinator) targetFor(artifact store.Artifact) (restore.Target, error) {
	if artifact.Kind == store.KindDatabase {
		return restore.NewSQLTarget(c.cfg.DB)
	}
	if artifact.AppendLog {
		if c.cfg.Cache.AOFPath == "" {
			return nil, fmt.Errorf("append log restore requires CACHE_AOF_PATH")
		}
		return restore.NewSnapshotTarget(c.cfg.Cache.AOFPath)
	}
	return restore.NewSnapshotTarget(c.cfg.Cache.RDBPath)
}

// RunVerify checks one artifact's integrity. With deep the whole stream
// is authenticated, not just the prefix.
func (c *Coordinator) RunVerify(ctx context.Context, artifactPath string, deep bool) int {
	_ = ctx
	artifact, err := c.store.Stat(artifactPath)
	if err != nil {
		logging.Error().Err(err).Str("path", artifactPath).Msg("Artifact rejected")
		return ExitFailure
	}

	check := verify.Verify
	if deep {
		check = verify.DeepVerify
	}
	if err := check(artifact, c.cfg.EncryptionKey); err != nil {
		logging.Error().Err(err).Str("artifact", artifact.Name()).Msg("Verification failed")
		return ExitFailure
	}
	logging.Info().Str("artifact", artifact.Name()).Bool("deep", deep).Msg("Verification passed")
	return ExitOK
}

// RunMonitor runs one freshness and health pass. Critical findings fail
// the invocation so an exit-code-aware scheduler notices even when alert
// delivery is down.
func (c *Coordinator) RunMonitor(ctx context.Context) int {
	findings, err := monitor.NewMonitor(c.store, c.sink).Run(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Monitor pass failed")
		return ExitFailure
	}

	perSeverity := map[alert.Severity]int{}
	critical := false
	for _, f := range findings {
		perSeverity[f.Severity]++
		if f.Severity == alert.SeverityCritical {
			critical = true
		}
	}
	for _, sev := range []alert.Severity{alert.SeverityInfo, alert.SeverityWarning, alert.SeverityCritical} {
		c.metrics.MonitorFindings.WithLabelValues(string(sev)).Set(float64(perSeverity[sev]))
	}

	if critical {
		return ExitFailure
	}
	return ExitOK
}

// RunPrune enforces the retention window.
func (c *Coordinator) RunPrune(ctx context.Context, dryRun bool) int {
	mgr := retention.NewManager(c.store, c.sink)
	deleted, err := mgr.Prune(ctx, retention.Policy{WindowDays: c.cfg.Retention.Days}, dryRun)
	if err != nil {
		logging.Error().Err(err).Msg("Prune failed")
		return ExitFailure
	}
	if !dryRun {
		c.metrics.PruneDeleted.Add(float64(len(deleted)))
	}
	logging.Info().Int("deleted", len(deleted)).Bool("dry_run", dryRun).Msg("Prune complete")
	return ExitOK
}
