// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package verify

import (
	"crypto/rand"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/envelope"
	"github.com/tomtom215/archivus/internal/store"
)

// produceArtifact writes payload through gzip and the envelope into the
// store under the canonical name for kind, the way a dump producer would.
func produceArtifact(t *testing.T, st *store.Store, name string, payload []byte, key *config.Secret) store.Artifact {
	t.Helper()

	w, err := st.NewWriter(name)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	sealer, err := envelope.Seal(w, key.Bytes())
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	gz := gzip.NewWriter(sealer)
	if _, err := gz.Write(payload); err != nil {
		t.Fatalf("gzip write failed: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}
	if err := sealer.Close(); err != nil {
		t.Fatalf("sealer close failed: %v", err)
	}
	artifact, err := w.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return artifact
}

func testKey(t *testing.T) *config.Secret {
	t.Helper()
	key, err := config.NewSecret("verify test key")
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}
	return key
}

// TestVerifyFreshDatabaseArtifact tests Pass on a fresh SQL dump
func TestVerifyFreshDatabaseArtifact(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	key := testKey(t)

	payload := []byte("--\n-- PostgreSQL database dump\n--\nCREATE TABLE users (id int);\n")
	artifact := produceArtifact(t, st, store.DatabaseName(time.Now()), payload, key)

	if err := Verify(artifact, key); err != nil {
		t.Errorf("Verify on a fresh artifact failed: %v", err)
	}
	if err := DeepVerify(artifact, key); err != nil {
		t.Errorf("DeepVerify on a fresh artifact failed: %v", err)
	}
}

// TestVerifyFreshCacheArtifact tests the REDIS magic path
func TestVerifyFreshCacheArtifact(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	key := testKey(t)

	payload := append([]byte("REDIS0011"), make([]byte, 64)...)
	artifact := produceArtifact(t, st, store.CacheName(time.Now()), payload, key)

	if err := Verify(artifact, key); err != nil {
		t.Errorf("Verify on a fresh cache artifact failed: %v", err)
	}
}

// TestVerifyWrongSignature tests Fail when the payload is not the
// claimed format
func TestVerifyWrongSignature(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	key := testKey(t)

	// A cache artifact holding SQL is a key/file mismatch worth failing.
	artifact := produceArtifact(t, st, store.CacheName(time.Now()), []byte("-- not an rdb"), key)

	if err := Verify(artifact, key); !errors.Is(err, ErrVerifyFailed) {
		t.Errorf("expected ErrVerifyFailed, got %v", err)
	}
}

// TestVerifyCorruptedHeader tests Fail on an artifact with its first 16
// bytes corrupted
func TestVerifyCorruptedHeader(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	key := testKey(t)

	artifact := produceArtifact(t, st, store.DatabaseName(time.Now()), []byte("-- dump\n"), key)

	raw, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	for i := 0; i < 16; i++ {
		raw[i] ^= 0xFF
	}
	if err := os.WriteFile(artifact.Path, raw, 0o640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := Verify(artifact, key); err == nil {
		t.Error("Verify passed on an artifact with a corrupted header")
	}
}

// TestVerifyWrongKey tests that a wrong passphrase is a crypto failure,
// not a format failure
func TestVerifyWrongKey(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	key := testKey(t)
	wrong, _ := config.NewSecret("some other key")

	artifact := produceArtifact(t, st, store.DatabaseName(time.Now()), []byte("-- dump\n"), key)

	err = Verify(artifact, wrong)
	if err == nil {
		t.Fatal("Verify passed with the wrong key")
	}
	if !envelope.IsCryptoError(err) {
		t.Errorf("expected a crypto-class error, got %v", err)
	}
}

// TestDeepVerifyCatchesTailCorruption tests that corruption past the
// prefix window escapes Verify but not DeepVerify
func TestDeepVerifyCatchesTailCorruption(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	key := testKey(t)

	// Incompressible payload so the compressed stream spans multiple
	// envelope chunks and tail corruption sits in a chunk the prefix
	// check never touches.
	noise := make([]byte, 3*envelope.ChunkSize)
	if _, err := rand.Read(noise); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	payload := append([]byte("-- dump\n"), noise...)
	artifact := produceArtifact(t, st, store.DatabaseName(time.Now()), payload, key)

	raw, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	raw[len(raw)-40] ^= 0xFF
	if err := os.WriteFile(artifact.Path, raw, 0o640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := Verify(artifact, key); err != nil {
		t.Errorf("fast Verify should not reach tail corruption: %v", err)
	}
	if err := DeepVerify(artifact, key); err == nil {
		t.Error("DeepVerify missed tail corruption")
	}
}
