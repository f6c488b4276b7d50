// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package dump

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/store"
)

// CacheSource streams a binary snapshot of the cache store using the
// redis native bulk-dump protocol (redis-cli --rdb).
type CacheSource struct {
	cfg config.CacheConfig
}

// NewCacheSource builds the source from configuration.
func NewCacheSource(cfg config.CacheConfig) *CacheSource {
	return &CacheSource{cfg: cfg}
}

// Kind implements Source.
func (s *CacheSource) Kind() store.Kind { return store.KindCache }

// ArtifactName implements Source.
func (s *CacheSource) ArtifactName(t time.Time) string { return store.CacheName(t) }

// DumpTimeout implements Source.
func (s *CacheSource) DumpTimeout() time.Duration { return s.cfg.DumpTimeout }

// client opens a short-lived redis client for liveness and INFO queries.
func (s *CacheSource) client() (*redis.Client, error) {
	opts, err := redis.ParseURL(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Ping round-trips the cache connection within the connect timeout.
func (s *CacheSource) Ping(ctx context.Context) error {
	client, err := s.client()
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck // ping-only connection

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping cache: %w", err)
	}
	return nil
}

// dumpArgs builds the redis-cli snapshot invocation; "-" streams the RDB
// payload to stdout.
func (s *CacheSource) dumpArgs() []string {
	return []string{"-u", s.cfg.URL, "--rdb", "-"}
}

// Open launches the snapshot stream.
func (s *CacheSource) Open(ctx context.Context) (io.ReadCloser, func() error, error) {
	return startDumpCommand(ctx, s.cfg.DumpCommand, s.dumpArgs())
}

// AppendLogEnabled reports whether the cache exposes an append-only log,
// read from INFO persistence. The optional AOF artifact is produced only
// when it does.
func (s *CacheSource) AppendLogEnabled(ctx context.Context) (bool, error) {
	client, err := s.client()
	if err != nil {
		return false, err
	}
	defer client.Close() //nolint:errcheck // query-only connection

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	info, err := client.Info(ctx, "persistence").Result()
	if err != nil {
		return false, fmt.Errorf("query persistence info: %w", err)
	}
	return parseAOFEnabled(info), nil
}

// parseAOFEnabled scans an INFO persistence block for aof_enabled:1.
func parseAOFEnabled(info string) bool {
	for _, line := range strings.Split(info, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "aof_enabled:") {
			return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "aof_enabled:")) == "1"
		}
	}
	return false
}

// CacheAOFSource streams the append-only log file itself. It shares the
// cache kind and liveness protocol but reads the log from the local
// filesystem, which is where redis exposes it.
type CacheAOFSource struct {
	cache   *CacheSource
	aofPath string
}

// NewCacheAOFSource builds the AOF variant over an existing cache source.
func NewCacheAOFSource(cache *CacheSource, aofPath string) *CacheAOFSource {
	return &CacheAOFSource{cache: cache, aofPath: aofPath}
}

// Kind implements Source.
func (s *CacheAOFSource) Kind() store.Kind { return store.KindCache }

// ArtifactName implements Source.
func (s *CacheAOFSource) ArtifactName(t time.Time) string { return store.CacheAOFName(t) }

// DumpTimeout implements Source.
func (s *CacheAOFSource) DumpTimeout() time.Duration { return s.cache.cfg.DumpTimeout }

// Ping defers to the cache liveness check.
func (s *CacheAOFSource) Ping(ctx context.Context) error { return s.cache.Ping(ctx) }

// Open streams the append log file.
func (s *CacheAOFSource) Open(_ context.Context) (io.ReadCloser, func() error, error) {
	f, err := os.Open(s.aofPath) //nolint:gosec // path comes from validated configuration
	if err != nil {
		return nil, nil, fmt.Errorf("open append log: %w", err)
	}
	return f, func() error { return nil }, nil
}
