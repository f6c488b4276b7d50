// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriter streams a new artifact to a temporary name and publishes it
// under its canonical name only on Commit. A crash at any point leaves no
// partial file under a canonical name.
type AtomicWriter struct {
	store     *Store
	canonical string
	tmpPath   string
	f         *os.File
	done      bool
}

// NewWriter starts an atomic write of the artifact named canonical.
func (s *Store) NewWriter(canonical string) (*AtomicWriter, error) {
	if _, _, _, err := ParseName(canonical); err != nil {
		return nil, err
	}

	// Random suffix so two racing invocations cannot collide on the temp
	// name even before the kind lock is checked.
	var nonce [6]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("temp name nonce: %w", err)
	}
	tmpPath := filepath.Join(s.dir, tmpPrefix+canonical+"."+hex.EncodeToString(nonce[:]))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // store-internal path
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}

	return &AtomicWriter{
		store:     s,
		canonical: canonical,
		tmpPath:   tmpPath,
		f:         f,
	}, nil
}

// Write appends to the temporary object.
func (w *AtomicWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Commit flushes, closes, and atomically renames the temporary object to
// its canonical name. Returns the published artifact.
func (w *AtomicWriter) Commit() (Artifact, error) {
	if w.done {
		return Artifact{}, fmt.Errorf("writer already finished")
	}
	w.done = true

	if err := w.f.Sync(); err != nil {
		w.discard()
		return Artifact{}, fmt.Errorf("sync artifact: %w", err)
	}
	if err := w.f.Close(); err != nil {
		w.discard()
		return Artifact{}, fmt.Errorf("close artifact: %w", err)
	}

	finalPath := filepath.Join(w.store.dir, w.canonical)
	if err := os.Rename(w.tmpPath, finalPath); err != nil {
		w.discard()
		return Artifact{}, fmt.Errorf("publish artifact: %w", err)
	}

	return w.store.Stat(finalPath)
}

// Abort closes and deletes the temporary object. Safe to call after
// Commit, where it does nothing.
func (w *AtomicWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	_ = w.f.Close()
	w.discard()
}

// discard removes the temp file, best effort.
func (w *AtomicWriter) discard() {
	_ = os.Remove(w.tmpPath)
}
