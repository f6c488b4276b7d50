// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

// Kind distinguishes the two artifact families.
type Kind string

const (
	// KindDatabase is a logical dump of the relational store.
	KindDatabase Kind = "db"

	// KindCache is a binary snapshot of the cache store.
	KindCache Kind = "cache"
)

// TimestampLayout is the UTC second-resolution timestamp embedded in every
// canonical artifact name.
const TimestampLayout = "20060102150405"

// tmpPrefix marks in-flight writes. Dot-prefixed names are skipped by List.
const tmpPrefix = ".tmp-"

var (
	// ErrUnknownArtifact is returned when a name does not parse as any
	// canonical artifact name.
	ErrUnknownArtifact = errors.New("not a canonical artifact name")

	// ErrStoreUnavailable is returned when the store directory is missing
	// or not writable.
	ErrStoreUnavailable = errors.New("artifact store unavailable")
)

// Artifact is one immutable encrypted, compressed backup object.
// Identity is the storage path; the embedded timestamp has second
// resolution, UTC-normalized.
type Artifact struct {
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	Path      string    `json:"path"`
	Encrypted bool      `json:"encrypted"`

	// AppendLog marks the optional AOF variant of a cache artifact.
	AppendLog bool `json:"append_log,omitempty"`
}

// Name returns the artifact's canonical base name.
func (a Artifact) Name() string {
	return filepath.Base(a.Path)
}

// Age returns the artifact's age relative to now, computed from the
// storage timestamp.
func (a Artifact) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}

// DatabaseName returns the canonical database artifact name for t.
func DatabaseName(t time.Time) string {
	return "backup_" + t.UTC().Format(TimestampLayout) + ".sql.gz.enc"
}

// CacheName returns the canonical cache snapshot artifact name for t.
func CacheName(t time.Time) string {
	return "redis_" + t.UTC().Format(TimestampLayout) + ".rdb.gz.enc"
}

// CacheAOFName returns the canonical cache append-log artifact name for t.
func CacheAOFName(t time.Time) string {
	return "redis_aof_" + t.UTC().Format(TimestampLayout) + ".aof.gz.enc"
}

// ParseName decodes a canonical artifact name into kind, embedded
// timestamp, and AOF flag. Returns ErrUnknownArtifact for anything else.
func ParseName(name string) (Kind, time.Time, bool, error) {
	var (
		kind   Kind
		aof    bool
		ts     string
		suffix string
	)
	switch {
	case strings.HasPrefix(name, "backup_") && strings.HasSuffix(name, ".sql.gz.enc"):
		kind = KindDatabase
		ts = strings.TrimPrefix(name, "backup_")
		suffix = ".sql.gz.enc"
	case strings.HasPrefix(name, "redis_aof_") && strings.HasSuffix(name, ".aof.gz.enc"):
		kind = KindCache
		aof = true
		ts = strings.TrimPrefix(name, "redis_aof_")
		suffix = ".aof.gz.enc"
	case strings.HasPrefix(name, "redis_") && strings.HasSuffix(name, ".rdb.gz.enc"):
		kind = KindCache
		ts = strings.TrimPrefix(name, "redis_")
		suffix = ".rdb.gz.enc"
	default:
		return "", time.Time{}, false, fmt.Errorf("%w: %s", ErrUnknownArtifact, name)
	}

	ts = strings.TrimSuffix(ts, suffix)
	created, err := time.ParseInLocation(TimestampLayout, ts, time.UTC)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("%w: %s", ErrUnknownArtifact, name)
	}
	return kind, created, aof, nil
}

// Store is a directory of backup artifacts on durable storage.
type Store struct {
	dir string
}

// New opens the artifact store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty store path", ErrStoreUnavailable)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// List returns all artifacts in the store, newest first. Size and creation
// time come from the storage object, not the name: a migrated artifact
// keeps its true storage age.
func (s *Store) List() ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		kind, _, aof, err := ParseName(entry.Name())
		if err != nil {
			continue // foreign files live alongside artifacts unharmed
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Kind:      kind,
			CreatedAt: info.ModTime().UTC(),
			SizeBytes: info.Size(),
			Path:      filepath.Join(s.dir, entry.Name()),
			Encrypted: true,
			AppendLog: aof,
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// ListKind returns all artifacts of one kind, newest first.
func (s *Store) ListKind(kind Kind) ([]Artifact, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var filtered []Artifact
	for _, a := range all {
		if a.Kind == kind {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// Latest returns the newest artifact of a kind, or ok=false when none
// exists.
func (s *Store) Latest(kind Kind) (Artifact, bool, error) {
	artifacts, err := s.ListKind(kind)
	if err != nil {
		return Artifact{}, false, err
	}
	if len(artifacts) == 0 {
		return Artifact{}, false, nil
	}
	return artifacts[0], true, nil
}

// Stat resolves a path into an Artifact, requiring a canonical name.
func (s *Store) Stat(path string) (Artifact, error) {
	kind, _, aof, err := ParseName(filepath.Base(path))
	if err != nil {
		return Artifact{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("stat artifact: %w", err)
	}
	return Artifact{
		Kind:      kind,
		CreatedAt: info.ModTime().UTC(),
		SizeBytes: info.Size(),
		Path:      path,
		Encrypted: true,
		AppendLog: aof,
	}, nil
}

// Remove deletes an artifact object.
func (s *Store) Remove(a Artifact) error {
	if err := os.Remove(a.Path); err != nil {
		return fmt.Errorf("remove artifact %s: %w", a.Name(), err)
	}
	return nil
}

// CheckWritable probes the store with a create-and-delete round trip.
func (s *Store) CheckWritable() error {
	probe := filepath.Join(s.dir, ".probe")
	f, err := os.Create(probe) //nolint:gosec // probe path is store-internal
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	_ = f.Close()
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return nil
}

// Usage reports used capacity of the volume holding the store as a
// percentage.
func (s *Store) Usage() (float64, error) {
	u, err := disk.Usage(s.dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return u.UsedPercent, nil
}
