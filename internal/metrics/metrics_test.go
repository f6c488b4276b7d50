// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestExportWritesTextfile tests that Export lands a parseable file in
// the collector directory
func TestExportWritesTextfile(t *testing.T) {
	dir := t.TempDir()
	m := New()
	m.ObserveBackupSuccess("db", 2048, 3*time.Second, time.Unix(1_700_000_000, 0))
	m.PruneDeleted.Add(2)

	m.Export(dir)

	out, err := os.ReadFile(filepath.Join(dir, textfileName))
	if err != nil {
		t.Fatalf("textfile not written: %v", err)
	}
	content := string(out)
	for _, want := range []string{
		`archivus_backup_cycles_total{kind="db",outcome="success"} 1`,
		`archivus_artifact_size_bytes{kind="db"} 2048`,
		"archivus_prune_deleted_total 2",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("textfile missing %q", want)
		}
	}
}

// TestExportDisabledByEmptyDir tests the off switch
func TestExportDisabledByEmptyDir(t *testing.T) {
	m := New()
	m.ObserveBackupFailure("cache", time.Second)
	m.Export("") // must not panic or write anywhere
}

// TestExportBestEffort tests that an unwritable directory does not fail
// the caller
func TestExportBestEffort(t *testing.T) {
	m := New()
	m.ObserveBackupSuccess("db", 1, time.Second, time.Now())
	m.Export(filepath.Join(t.TempDir(), "does", "not", "exist"))
}

// TestObserveOutcomes tests the success and failure instrument paths
func TestObserveOutcomes(t *testing.T) {
	m := New()
	m.ObserveBackupSuccess("db", 4096, 2*time.Second, time.Now())
	m.ObserveBackupFailure("db", time.Second)
	m.RestoreOutcomes.WithLabelValues("cache", "declined").Inc()

	content, err := m.Dump()
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	for _, want := range []string{
		`archivus_backup_cycles_total{kind="db",outcome="success"} 1`,
		`archivus_backup_cycles_total{kind="db",outcome="failure"} 1`,
		`archivus_restore_outcomes_total{kind="cache",outcome="declined"} 1`,
	} {
		if !strings.Contains(content, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
