// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package dump

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/archivus/internal/alert"
	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/envelope"
	"github.com/tomtom215/archivus/internal/store"
)

// recordingSink captures emitted alert events.
type recordingSink struct {
	events []alert.Event
}

func (s *recordingSink) Emit(_ context.Context, e alert.Event) error {
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Close() error { return nil }

// fakeSource implements Source over an in-memory payload.
type fakeSource struct {
	kind      store.Kind
	payload   []byte
	pingErr   error
	pingCalls int
	openErr   error
	waitErr   error
}

func (f *fakeSource) Kind() store.Kind { return f.kind }

func (f *fakeSource) ArtifactName(t time.Time) string {
	if f.kind == store.KindCache {
		return store.CacheName(t)
	}
	return store.DatabaseName(t)
}

func (f *fakeSource) DumpTimeout() time.Duration { return time.Minute }

func (f *fakeSource) Ping(context.Context) error {
	f.pingCalls++
	return f.pingErr
}

func (f *fakeSource) Open(context.Context) (io.ReadCloser, func() error, error) {
	if f.openErr != nil {
		return nil, nil, f.openErr
	}
	return io.NopCloser(bytes.NewReader(f.payload)), func() error { return f.waitErr }, nil
}

// newTestBackoff mirrors pingWithRetry's backoff configuration.
func newTestBackoff(rp RetryPolicy) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = rp.InitialInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	// backoff.Retry resets before the first wait; NextBackOff alone does
	// not, so reset here to observe the schedule Retry would use.
	bo.Reset()
	return bo
}

// fastRetry keeps tests quick while preserving the 3-attempt shape.
var fastRetry = RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond}

func newTestProducer(t *testing.T, sink alert.Sink) (*Producer, *store.Store, *config.Secret) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	key, err := config.NewSecret("test passphrase")
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	return NewProducer(st, key, sink).WithRetryPolicy(fastRetry), st, key
}

// TestProduceRoundTrip tests that a produced artifact decrypts and
// decompresses back to the source payload
func TestProduceRoundTrip(t *testing.T) {
	sink := &recordingSink{}
	p, st, key := newTestProducer(t, sink)

	payload := []byte("-- PostgreSQL database dump\nINSERT INTO users VALUES (1, 'ada');\n")
	src := &fakeSource{kind: store.KindDatabase, payload: payload}

	artifact, err := p.Produce(context.Background(), src)
	if err != nil {
		t.Fatalf("Produce failed: %v", err)
	}
	if artifact.Kind != store.KindDatabase {
		t.Errorf("expected db artifact, got %v", artifact.Kind)
	}

	f, err := os.Open(artifact.Path)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer f.Close()

	opened, err := envelope.Open(f, key.Bytes())
	if err != nil {
		t.Fatalf("envelope.Open failed: %v", err)
	}
	gz, err := gzip.NewReader(opened)
	if err != nil {
		t.Fatalf("gzip.NewReader failed: %v", err)
	}
	got, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read decrypted stream: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch: got %q", got)
	}

	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(sink.events))
	}
	if sink.events[0].Severity != alert.SeverityInfo || sink.events[0].Code != alert.CodeBackupComplete {
		t.Errorf("expected info backup-complete alert, got %+v", sink.events[0])
	}

	// The store must hold exactly the one committed artifact.
	listing, _ := st.List()
	if len(listing) != 1 {
		t.Errorf("expected 1 artifact in store, got %d", len(listing))
	}
}

// TestProduceSourceUnavailable tests scenario: source down for all
// attempts surfaces ErrSourceUnavailable after exactly 3 pings, creates no
// artifact, and emits one Critical alert
func TestProduceSourceUnavailable(t *testing.T) {
	sink := &recordingSink{}
	p, st, _ := newTestProducer(t, sink)

	src := &fakeSource{kind: store.KindDatabase, pingErr: errors.New("connection refused")}

	_, err := p.Produce(context.Background(), src)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if src.pingCalls != 3 {
		t.Errorf("expected exactly 3 ping attempts, got %d", src.pingCalls)
	}

	listing, _ := st.List()
	if len(listing) != 0 {
		t.Errorf("no artifact may exist after a failed cycle, found %d", len(listing))
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(sink.events))
	}
	if sink.events[0].Severity != alert.SeverityCritical || sink.events[0].Code != alert.CodeSourceUnavailable {
		t.Errorf("expected critical source-unavailable alert, got %+v", sink.events[0])
	}
}

// TestRetryBackoffDoubles tests the exponential schedule: 2s then 4s for
// the default policy, computed without sleeping
func TestRetryBackoffDoubles(t *testing.T) {
	rp := DefaultRetryPolicy()
	if rp.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", rp.Attempts)
	}
	if rp.InitialInterval != 2*time.Second {
		t.Fatalf("expected 2s initial interval, got %s", rp.InitialInterval)
	}

	// Mirror pingWithRetry's backoff configuration.
	bo := newTestBackoff(rp)
	if d := bo.NextBackOff(); d != 2*time.Second {
		t.Errorf("first delay = %s, want 2s", d)
	}
	if d := bo.NextBackOff(); d != 4*time.Second {
		t.Errorf("second delay = %s, want 4s", d)
	}
}

// TestProduceDumpFailureDiscardsTemp tests that a mid-stream source
// failure promotes nothing
func TestProduceDumpFailureDiscardsTemp(t *testing.T) {
	sink := &recordingSink{}
	p, st, _ := newTestProducer(t, sink)

	src := &fakeSource{
		kind:    store.KindCache,
		payload: []byte("REDIS0011 partial snapshot"),
		waitErr: errors.New("redis-cli: server closed the connection"),
	}

	_, err := p.Produce(context.Background(), src)
	if !errors.Is(err, ErrDump) {
		t.Fatalf("expected ErrDump, got %v", err)
	}

	listing, _ := st.List()
	if len(listing) != 0 {
		t.Errorf("partial dump must never be promoted, found %d artifacts", len(listing))
	}
	entries, _ := os.ReadDir(st.Dir())
	for _, e := range entries {
		if !e.IsDir() && e.Name()[0] != '.' {
			t.Errorf("unexpected file left in store: %s", e.Name())
		}
	}
	if len(sink.events) != 1 || sink.events[0].Code != alert.CodeBackupFailed {
		t.Errorf("expected one critical backup-failed alert, got %+v", sink.events)
	}
}

// TestProduceOpenFailure tests stream-open failure handling
func TestProduceOpenFailure(t *testing.T) {
	sink := &recordingSink{}
	p, st, _ := newTestProducer(t, sink)

	src := &fakeSource{kind: store.KindDatabase, openErr: errors.New("pg_dump: not found")}
	if _, err := p.Produce(context.Background(), src); !errors.Is(err, ErrDump) {
		t.Fatalf("expected ErrDump, got %v", err)
	}
	if listing, _ := st.List(); len(listing) != 0 {
		t.Error("failed open must not create an artifact")
	}
}

// TestParseAOFEnabled tests INFO persistence parsing
func TestParseAOFEnabled(t *testing.T) {
	tests := []struct {
		name string
		info string
		want bool
	}{
		{"enabled", "# Persistence\r\nloading:0\r\naof_enabled:1\r\n", true},
		{"disabled", "# Persistence\r\nloading:0\r\naof_enabled:0\r\n", false},
		{"absent", "# Persistence\r\nloading:0\r\n", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseAOFEnabled(tt.info); got != tt.want {
				t.Errorf("parseAOFEnabled = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestDatabaseSourceRequiresDSN tests the use-site DSN check
func TestDatabaseSourceRequiresDSN(t *testing.T) {
	if _, err := NewDatabaseSource(config.DBConfig{}); err == nil {
		t.Error("expected error for empty DSN")
	}
}

// TestDumpArgs tests the exact subprocess invocations
func TestDumpArgs(t *testing.T) {
	db, err := NewDatabaseSource(config.DBConfig{DSN: "postgres://u@h/app", DumpCommand: "pg_dump"})
	if err != nil {
		t.Fatalf("NewDatabaseSource failed: %v", err)
	}
	want := []string{"--dbname=postgres://u@h/app", "--format=plain", "--no-password"}
	got := db.dumpArgs()
	if len(got) != len(want) {
		t.Fatalf("dumpArgs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dumpArgs[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	cache := NewCacheSource(config.CacheConfig{URL: "redis://h:6379", DumpCommand: "redis-cli"})
	cacheWant := []string{"-u", "redis://h:6379", "--rdb", "-"}
	cacheGot := cache.dumpArgs()
	for i := range cacheWant {
		if cacheGot[i] != cacheWant[i] {
			t.Errorf("cache dumpArgs[%d] = %q, want %q", i, cacheGot[i], cacheWant[i])
		}
	}
}

// TestBoundedBuffer tests stderr capture truncation
func TestBoundedBuffer(t *testing.T) {
	b := &boundedBuffer{limit: 8}
	n, err := b.Write([]byte("0123456789abcdef"))
	if err != nil || n != 16 {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	if got := b.String(); got != "01234567" {
		t.Errorf("String = %q, want truncated to limit", got)
	}
}
