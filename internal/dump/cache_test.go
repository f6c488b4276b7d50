// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package dump

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/tomtom215/archivus/internal/config"
)

func cacheConfigFor(addr string) config.CacheConfig {
	return config.CacheConfig{
		URL:            "redis://" + addr,
		DumpCommand:    "redis-cli",
		RDBPath:        "/tmp/dump.rdb",
		ConnectTimeout: time.Second,
		DumpTimeout:    time.Minute,
	}
}

// TestCacheSourcePing tests liveness against an in-process redis
func TestCacheSourcePing(t *testing.T) {
	mr := miniredis.RunT(t)

	src := NewCacheSource(cacheConfigFor(mr.Addr()))
	if err := src.Ping(context.Background()); err != nil {
		t.Fatalf("Ping against live server failed: %v", err)
	}
}

// TestCacheSourcePingDown tests liveness failure once the server is gone
func TestCacheSourcePingDown(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	src := NewCacheSource(cacheConfigFor(addr))
	if err := src.Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure against a stopped server")
	}
}

// TestCacheSourceBadURL tests URL validation
func TestCacheSourceBadURL(t *testing.T) {
	src := NewCacheSource(config.CacheConfig{URL: "://not-a-url", ConnectTimeout: time.Second})
	if err := src.Ping(context.Background()); err == nil {
		t.Fatal("expected error for malformed cache URL")
	}
}

// TestCacheAOFSourceStreamsFile tests the append-log variant's stream
func TestCacheAOFSourceStreamsFile(t *testing.T) {
	mr := miniredis.RunT(t)

	dir := t.TempDir()
	aofPath := dir + "/appendonly.aof"
	if err := os.WriteFile(aofPath, []byte("*2\r\n$6\r\nSELECT\r\n$1\r\n0\r\n"), 0o640); err != nil {
		t.Fatalf("write aof fixture: %v", err)
	}

	cache := NewCacheSource(cacheConfigFor(mr.Addr()))
	src := NewCacheAOFSource(cache, aofPath)

	if got := src.ArtifactName(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)); got != "redis_aof_20260102030405.aof.gz.enc" {
		t.Errorf("unexpected AOF artifact name %q", got)
	}

	rc, wait, err := src.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	if err := wait(); err != nil {
		t.Errorf("wait failed: %v", err)
	}
}
