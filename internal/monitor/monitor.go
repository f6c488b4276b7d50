// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

// Package monitor inspects the artifact store for recency, disk pressure,
// and size sanity.
//
// Each check yields its own alert event and all checks run in one pass;
// a failing check never short-circuits the others. The monitor holds no
// state between invocations.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/archivus/internal/alert"
	"github.com/tomtom215/archivus/internal/logging"
	"github.com/tomtom215/archivus/internal/store"
)

// StalenessThreshold is the maximum age of the newest artifact per kind
// before the backup chain counts as broken: the 24h cadence plus a 1h
// grace for slow dumps.
const StalenessThreshold = 25 * time.Hour

const (
	usageCritical = 90.0
	usageWarning  = 80.0

	// Size floors below which an artifact cannot plausibly hold a real
	// dump. An encrypted empty payload alone is bigger than the cache
	// floor.
	minDBSizeBytes    = 1024
	minCacheSizeBytes = 100
)

// Monitor runs the freshness and health checks over one store.
type Monitor struct {
	store *store.Store
	sink  alert.Sink
	now   func() time.Time
	usage func() (float64, error)
}

// NewMonitor builds a monitor over the store and alert sink.
func NewMonitor(st *store.Store, sink alert.Sink) *Monitor {
	return &Monitor{
		store: st,
		sink:  sink,
		now:   time.Now,
		usage: st.Usage,
	}
}

// WithClock overrides the clock for tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// WithUsageProbe overrides the volume usage probe for tests.
func (m *Monitor) WithUsageProbe(usage func() (float64, error)) *Monitor {
	m.usage = usage
	return m
}

// Run executes all checks once and returns every finding. The findings
// are also delivered through the sink as they are produced. A healthy
// store yields an empty slice and a nil error.
//
// The pass reads only directory metadata, never artifact contents, so it
// takes no artifact locks: a concurrent restore sees the same immutable
// files either way, and a concurrent prune at worst removes an artifact
// between listing and nothing (no check reopens the file).
func (m *Monitor) Run(ctx context.Context) ([]alert.Event, error) {
	var findings []alert.Event
	collect := func(e alert.Event) {
		findings = append(findings, e)
		m.emit(ctx, e)
	}

	if err := m.store.CheckWritable(); err != nil {
		collect(alert.New(alert.SeverityCritical, alert.CodeStoreUnavailable, "",
			fmt.Sprintf("artifact store not writable: %s", err)))
	}

	m.checkUsage(collect)

	artifacts, err := m.store.List()
	if err != nil {
		// Recency and size checks need the listing; everything else above
		// already ran.
		collect(alert.New(alert.SeverityCritical, alert.CodeStoreUnavailable, "",
			fmt.Sprintf("artifact store not listable: %s", err)))
		return findings, nil
	}

	m.checkFreshness(collect, artifacts, store.KindDatabase, alert.CodeStaleDBBackup)
	m.checkFreshness(collect, artifacts, store.KindCache, alert.CodeStaleCacheBackup)
	m.checkSizeFloor(collect, artifacts, store.KindDatabase, minDBSizeBytes)
	m.checkSizeFloor(collect, artifacts, store.KindCache, minCacheSizeBytes)

	logging.Info().Int("findings", len(findings)).Msg("Monitor pass complete")
	return findings, nil
}

// checkUsage grades the store volume's used capacity.
func (m *Monitor) checkUsage(collect func(alert.Event)) {
	used, err := m.usage()
	if err != nil {
		collect(alert.New(alert.SeverityCritical, alert.CodeStoreUnavailable, "",
			fmt.Sprintf("volume usage probe failed: %s", err)))
		return
	}
	switch {
	case used > usageCritical:
		collect(alert.New(alert.SeverityCritical, alert.CodeDiskPressure, "",
			fmt.Sprintf("store volume %.1f%% used", used)))
	case used > usageWarning:
		collect(alert.New(alert.SeverityWarning, alert.CodeDiskPressure, "",
			fmt.Sprintf("store volume %.1f%% used", used)))
	}
}

// checkFreshness alerts when the newest artifact of a kind is older than
// the staleness threshold, or when the kind has no artifact at all.
func (m *Monitor) checkFreshness(collect func(alert.Event), artifacts []store.Artifact, kind store.Kind, code alert.Code) {
	newest, ok := newestOf(artifacts, kind, false)
	if !ok {
		collect(alert.New(alert.SeverityCritical, code, string(kind),
			fmt.Sprintf("no %s artifact in store", kind)))
		return
	}
	if age := newest.Age(m.now()); age > StalenessThreshold {
		collect(alert.New(alert.SeverityCritical, code, string(kind),
			fmt.Sprintf("newest %s artifact %s is %s old", kind, newest.Name(), age.Round(time.Minute))))
	}
}

// checkSizeFloor alerts when the newest artifact of a kind is too small
// to plausibly hold a real dump. Cache append logs are exempt: a freshly
// rewritten AOF is legitimately tiny.
func (m *Monitor) checkSizeFloor(collect func(alert.Event), artifacts []store.Artifact, kind store.Kind, floor int64) {
	newest, ok := newestOf(artifacts, kind, true)
	if !ok {
		return // freshness already reported the absence
	}
	if newest.SizeBytes < floor {
		collect(alert.New(alert.SeverityWarning, alert.CodeUndersized, string(kind),
			fmt.Sprintf("newest %s artifact %s is %d bytes, floor is %d", kind, newest.Name(), newest.SizeBytes, floor)))
	}
}

// newestOf returns the newest artifact of a kind. The listing is already
// newest-first. With skipAppendLog only primary artifacts count.
func newestOf(artifacts []store.Artifact, kind store.Kind, skipAppendLog bool) (store.Artifact, bool) {
	for _, a := range artifacts {
		if a.Kind != kind {
			continue
		}
		if skipAppendLog && a.AppendLog {
			continue
		}
		return a, true
	}
	return store.Artifact{}, false
}

func (m *Monitor) emit(ctx context.Context, e alert.Event) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Emit(ctx, e); err != nil {
		logging.Error().Err(err).Str("code", string(e.Code)).Msg("Alert delivery failed")
	}
}
