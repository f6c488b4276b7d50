// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package alert

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades an alert event.
type Severity string

const (
	// SeverityInfo marks routine outcomes (successful backup).
	SeverityInfo Severity = "info"

	// SeverityWarning marks degraded but non-blocking conditions.
	SeverityWarning Severity = "warning"

	// SeverityCritical marks conditions requiring operator attention.
	SeverityCritical Severity = "critical"
)

// Code identifies the condition an event reports. Codes are stable: the
// external notifier routes on them.
type Code string

const (
	CodeBackupComplete    Code = "backup-complete"
	CodeBackupFailed      Code = "backup-failed"
	CodeSourceUnavailable Code = "source-unavailable"
	CodeStaleDBBackup     Code = "stale-db-backup"
	CodeStaleCacheBackup  Code = "stale-cache-backup"
	CodeStoreUnavailable  Code = "store-unavailable"
	CodeDiskPressure      Code = "disk-pressure"
	CodeUndersized        Code = "undersized-artifact"
	CodeRetentionSkew     Code = "retention-timestamp-skew"
	CodePruneFailed       Code = "prune-failed"
	CodeRestoreAborted    Code = "restore-aborted"
	CodeRestoreComplete   Code = "restore-complete"
)

// Event is one ephemeral structured alert. Events are produced by the
// dump producers, the retention manager, and the freshness monitor, and
// consumed by an external notifier through a Sink.
type Event struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Code      Code      `json:"code"`
	Kind      string    `json:"kind,omitempty"`
	Message   string    `json:"message"`
	EmittedAt time.Time `json:"emitted_at"`
}

// New builds an event stamped with the current time.
func New(severity Severity, code Code, kind, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Severity:  severity,
		Code:      code,
		Kind:      kind,
		Message:   message,
		EmittedAt: time.Now().UTC(),
	}
}
