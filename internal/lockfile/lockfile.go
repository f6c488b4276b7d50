// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

// Package lockfile provides the advisory mutual-exclusion locks that keep
// overlapping cron firings from racing.
//
// Locks are flock(2)-based and therefore OS-lifetime-bound: a crashed
// process releases its locks automatically. Two scopes exist:
//   - kind scope: one dump producer per artifact kind at a time
//   - artifact scope: retention or monitor passes must not run concurrently
//     with a restore touching the same artifact
//
// Lock files live inside the artifact store directory under dot-prefixed
// names, which the store's listing ignores.
package lockfile

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrBusy is returned when the lock is already held by another invocation.
// The external scheduler is expected to avoid overlapping fires; this is
// the backstop for when it does not.
var ErrBusy = errors.New("lock held by another invocation")

// Lock is one held advisory lock.
type Lock struct {
	fl *flock.Flock
}

// AcquireKind takes the mutual-exclusion lock for one artifact kind,
// non-blocking. Returns ErrBusy when another invocation holds it.
func AcquireKind(storeDir, kind string) (*Lock, error) {
	return acquire(filepath.Join(storeDir, ".lock."+kind))
}

// AcquireArtifact takes the per-artifact lock guarding restore against
// concurrent retention or verification of the same object.
func AcquireArtifact(storeDir, artifactName string) (*Lock, error) {
	return acquire(filepath.Join(storeDir, ".lock.artifact."+artifactName))
}

func acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", filepath.Base(path), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBusy, filepath.Base(path))
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. The kernel also drops it on process exit, so a
// crash cannot leave a stale lock behind.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
