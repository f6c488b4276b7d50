// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

// Package verify checks artifact integrity.
//
// The fast check decrypts and decompresses only a prefix of the artifact
// and matches a kind-specific signature: it proves the key fits, the
// envelope is intact at the start, and the payload is of the right format.
// It does not certify the whole payload; DeepVerify reads the artifact end
// to end through the authenticated envelope for that.
package verify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/envelope"
	"github.com/tomtom215/archivus/internal/store"
)

// ErrVerifyFailed is the class of all verification failures. The wrapped
// message carries the reason.
var ErrVerifyFailed = errors.New("verification failed")

// signatureWindow is how much decompressed payload the fast check reads
// while looking for the format signature.
const signatureWindow = 512

// rdbMagic is the literal prefix of every redis snapshot.
var rdbMagic = []byte("REDIS")

// sqlDumpMarkers are prefixes proving a logical SQL dump: the plain
// format opens with a comment header, the custom format with PGDMP.
var sqlDumpMarkers = [][]byte{
	[]byte("--"),
	[]byte("PGDMP"),
}

// Verify runs the fast prefix check on one artifact.
func Verify(artifact store.Artifact, key *config.Secret) error {
	payload, err := openPayload(artifact, key)
	if err != nil {
		return err
	}
	defer payload.close()

	window := make([]byte, signatureWindow)
	n, err := io.ReadFull(payload.r, window)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: read payload prefix: %s", ErrVerifyFailed, err)
	}
	window = window[:n]

	if err := checkSignature(artifact, window); err != nil {
		return err
	}
	return nil
}

// DeepVerify reads the whole artifact through the authenticated envelope
// and the decompressor. Corruption anywhere in the stream surfaces, at
// the cost of a full read; it belongs in a periodic job, not the backup
// fast path.
func DeepVerify(artifact store.Artifact, key *config.Secret) error {
	payload, err := openPayload(artifact, key)
	if err != nil {
		return err
	}
	defer payload.close()

	window := make([]byte, signatureWindow)
	n, _ := io.ReadFull(payload.r, window)
	if err := checkSignature(artifact, window[:n]); err != nil {
		return err
	}

	if _, err := io.Copy(io.Discard, payload.r); err != nil {
		return fmt.Errorf("%w: %s", ErrVerifyFailed, err)
	}
	return nil
}

// checkSignature matches the kind-specific format signature.
func checkSignature(artifact store.Artifact, window []byte) error {
	switch {
	case artifact.Kind == store.KindCache && artifact.AppendLog:
		// The append log is a redis protocol replay; any content passes
		// beyond non-emptiness.
		if len(window) == 0 {
			return fmt.Errorf("%w: empty append log payload", ErrVerifyFailed)
		}
		return nil
	case artifact.Kind == store.KindCache:
		if !bytes.HasPrefix(window, rdbMagic) {
			return fmt.Errorf("%w: missing REDIS magic in %s", ErrVerifyFailed, artifact.Name())
		}
		return nil
	default:
		for _, marker := range sqlDumpMarkers {
			if bytes.HasPrefix(window, marker) {
				return nil
			}
		}
		return fmt.Errorf("%w: missing SQL dump header in %s", ErrVerifyFailed, artifact.Name())
	}
}

// payload is the decrypt-then-decompress read chain over one artifact.
type payload struct {
	f *os.File
	r io.Reader
}

func (p *payload) close() {
	_ = p.f.Close()
}

// openPayload opens the artifact through envelope.Open and gzip. Crypto
// failures keep their own error class so callers never retry them;
// everything else is a verification failure.
func openPayload(artifact store.Artifact, key *config.Secret) (*payload, error) {
	f, err := os.Open(artifact.Path) //nolint:gosec // artifact path comes from the store listing
	if err != nil {
		return nil, fmt.Errorf("%w: open artifact: %s", ErrVerifyFailed, err)
	}

	opened, err := envelope.Open(f, key.Bytes())
	if err != nil {
		_ = f.Close()
		if envelope.IsCryptoError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrVerifyFailed, err)
	}

	gz, err := gzip.NewReader(opened)
	if err != nil {
		_ = f.Close()
		if envelope.IsCryptoError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: open compression: %s", ErrVerifyFailed, err)
	}

	return &payload{f: f, r: gz}, nil
}
