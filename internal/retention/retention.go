// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

// Package retention enforces the N-day retention window over the artifact
// store.
//
// Age is computed from the storage object's creation time, not from the
// name-embedded timestamp, so artifacts migrated between stores keep their
// true age. When the two disagree beyond a tolerance the prune emits a
// Warning but still deletes by the storage timestamp.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/archivus/internal/alert"
	"github.com/tomtom215/archivus/internal/lockfile"
	"github.com/tomtom215/archivus/internal/logging"
	"github.com/tomtom215/archivus/internal/store"
)

// ErrRetention is the class of per-artifact deletion failures. They are
// Warnings: the prune continues with the remaining artifacts.
var ErrRetention = errors.New("retention deletion failed")

// timestampSkewTolerance is how far the name-embedded timestamp may drift
// from the storage timestamp before a migrated or tampered artifact is
// worth a Warning.
const timestampSkewTolerance = 48 * time.Hour

// Policy is the global retention window, immutable at run time.
type Policy struct {
	// WindowDays is the maximum age in days before deletion.
	WindowDays int
}

// Manager prunes expired artifacts.
type Manager struct {
	store *store.Store
	sink  alert.Sink
	now   func() time.Time
}

// NewManager builds a retention manager over the store.
func NewManager(st *store.Store, sink alert.Sink) *Manager {
	return &Manager{store: st, sink: sink, now: time.Now}
}

// WithClock overrides the clock for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Prune deletes every artifact whose age exceeds the policy window and
// returns the deleted set. An artifact younger than the window is never
// deleted. With dryRun the victims are returned but nothing is removed.
func (m *Manager) Prune(ctx context.Context, policy Policy, dryRun bool) ([]store.Artifact, error) {
	artifacts, err := m.store.List()
	if err != nil {
		return nil, err
	}

	now := m.now()
	window := time.Duration(policy.WindowDays) * 24 * time.Hour

	var deleted []store.Artifact
	for _, a := range artifacts {
		if a.Age(now) <= window {
			continue
		}

		m.checkTimestampSkew(ctx, a)

		if dryRun {
			logging.Info().Str("artifact", a.Name()).
				Dur("age", a.Age(now).Round(time.Hour)).
				Msg("Would delete (dry run)")
			deleted = append(deleted, a)
			continue
		}

		// An in-flight restore holds the artifact lock; skip rather than
		// pull the file out from under it.
		lock, err := lockfile.AcquireArtifact(m.store.Dir(), a.Name())
		if err != nil {
			m.warn(ctx, alert.CodePruneFailed, a, fmt.Errorf("%w: %s", ErrRetention, err))
			continue
		}

		if err := m.store.Remove(a); err != nil {
			_ = lock.Release()
			m.warn(ctx, alert.CodePruneFailed, a, fmt.Errorf("%w: %s", ErrRetention, err))
			continue
		}
		_ = lock.Release()

		logging.Info().Str("artifact", a.Name()).
			Dur("age", a.Age(now).Round(time.Hour)).
			Msg("Pruned expired artifact")
		deleted = append(deleted, a)
	}

	return deleted, nil
}

// checkTimestampSkew warns when the name-embedded timestamp and the
// storage timestamp disagree beyond tolerance. Deletion proceeds by the
// storage timestamp regardless.
func (m *Manager) checkTimestampSkew(ctx context.Context, a store.Artifact) {
	_, named, _, err := store.ParseName(a.Name())
	if err != nil {
		return
	}
	skew := a.CreatedAt.Sub(named)
	if skew < 0 {
		skew = -skew
	}
	if skew > timestampSkewTolerance {
		m.emit(ctx, alert.New(alert.SeverityWarning, alert.CodeRetentionSkew, string(a.Kind),
			fmt.Sprintf("artifact %s: name says %s but storage says %s; pruning by storage time",
				a.Name(), named.Format(time.RFC3339), a.CreatedAt.Format(time.RFC3339))))
	}
}

// warn emits a Warning alert for one failed deletion.
func (m *Manager) warn(ctx context.Context, code alert.Code, a store.Artifact, err error) {
	logging.Warn().Err(err).Str("artifact", a.Name()).Msg("Prune skipped artifact")
	m.emit(ctx, alert.New(alert.SeverityWarning, code, string(a.Kind), err.Error()))
}

func (m *Manager) emit(ctx context.Context, e alert.Event) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Emit(ctx, e); err != nil {
		logging.Error().Err(err).Str("code", string(e.Code)).Msg("Alert delivery failed")
	}
}
