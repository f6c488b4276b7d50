// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

// Package envelope implements the streaming symmetric encryption primitive
// protecting every backup artifact.
//
// Encryption Algorithm:
//   - AES-256-GCM, authenticated per chunk
//   - Key derived from the operator passphrase using scrypt (N=32768, r=8, p=1)
//   - Random 16-byte salt and 4-byte nonce prefix per stream
//
// Stream Format:
//
//	"AEV1" | salt (16) | nonce prefix (4) | chunk* | final chunk
//	chunk:  uint32 BE ciphertext length | ciphertext (plaintext + GCM tag)
//
// Each chunk seals up to 64 KiB of plaintext. The chunk counter and a
// final-chunk flag are folded into the GCM nonce, so reordering, chunk
// substitution, and truncation all fail authentication. Open never emits a
// byte past the last verified chunk, and peak memory stays at chunk size
// regardless of payload size.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	// magic identifies the envelope stream format, version 1.
	magic = "AEV1"

	// saltSize is the scrypt salt length in bytes.
	saltSize = 16

	// noncePrefixSize is the random per-stream prefix of each chunk nonce.
	// The remaining 8 nonce bytes carry the chunk counter and final flag.
	noncePrefixSize = 4

	// gcmNonceSize is the size of the GCM nonce in bytes.
	gcmNonceSize = 12

	// aesKeySize is the size of the AES key in bytes (256 bits).
	aesKeySize = 32

	// ChunkSize is the plaintext chunk size. Memory use of Seal and Open is
	// bounded by this regardless of artifact size.
	ChunkSize = 64 * 1024

	// finalChunkFlag marks the last chunk's counter so truncation after a
	// valid chunk boundary is still detected.
	finalChunkFlag = uint64(1) << 63

	// scrypt cost parameters
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

var (
	// ErrEmptyPassphrase is returned when an empty passphrase is provided.
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

	// ErrMalformedHeader is returned when the ciphertext header is missing,
	// short, or carries the wrong magic.
	ErrMalformedHeader = errors.New("malformed envelope header")

	// ErrChunkAuthFailed is returned when a chunk's authentication tag does
	// not verify: wrong passphrase or corrupted ciphertext. Never retried.
	ErrChunkAuthFailed = errors.New("chunk authentication failed")

	// ErrTruncated is returned when the stream ends before an authenticated
	// final chunk was seen.
	ErrTruncated = errors.New("envelope stream truncated")

	// ErrChunkTooLarge is returned for a framed chunk exceeding the format
	// bound, which indicates corruption of the length frame.
	ErrChunkTooLarge = errors.New("chunk length exceeds format bound")
)

// IsCryptoError reports whether err belongs to the crypto error class.
// Crypto errors are terminal: retrying a fixed wrong key cannot succeed.
func IsCryptoError(err error) bool {
	return errors.Is(err, ErrEmptyPassphrase) ||
		errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrChunkAuthFailed) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrChunkTooLarge)
}

// deriveKey stretches the passphrase into a 256-bit AES key with scrypt.
func deriveKey(passphrase, salt []byte) ([]byte, error) {
	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, aesKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// newAEAD builds the GCM cipher for a derived key.
func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// chunkNonce assembles the nonce for chunk counter c: prefix || counter,
// with the final flag folded into the counter's top bit.
func chunkNonce(prefix []byte, counter uint64, final bool) []byte {
	nonce := make([]byte, gcmNonceSize)
	copy(nonce, prefix)
	if final {
		counter |= finalChunkFlag
	}
	binary.BigEndian.PutUint64(nonce[noncePrefixSize:], counter)
	return nonce
}

// Sealer is the io.WriteCloser returned by Seal. Close must be called to
// flush the authenticated final chunk.
type Sealer struct {
	dst     io.Writer
	aead    cipher.AEAD
	prefix  []byte
	buf     []byte
	n       int
	counter uint64
	closed  bool
}

// Seal wraps dst in an encrypting writer. The header is written
// immediately; ciphertext chunks follow as the caller writes. The stream is
// not complete until Close returns nil.
func Seal(dst io.Writer, passphrase []byte) (*Sealer, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	prefix := make([]byte, noncePrefixSize)
	if _, err := io.ReadFull(rand.Reader, prefix); err != nil {
		return nil, fmt.Errorf("generate nonce prefix: %w", err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, len(magic)+saltSize+noncePrefixSize)
	header = append(header, magic...)
	header = append(header, salt...)
	header = append(header, prefix...)
	if _, err := dst.Write(header); err != nil {
		return nil, fmt.Errorf("write envelope header: %w", err)
	}

	return &Sealer{
		dst:    dst,
		aead:   aead,
		prefix: prefix,
		buf:    make([]byte, ChunkSize),
	}, nil
}

// Write buffers plaintext and seals a chunk each time the buffer fills.
func (s *Sealer) Write(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("write after close")
	}
	written := 0
	for len(p) > 0 {
		n := copy(s.buf[s.n:], p)
		s.n += n
		p = p[n:]
		written += n
		if s.n == ChunkSize {
			if err := s.flush(false); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Close seals whatever remains in the buffer as the final chunk. A final
// chunk is always emitted, possibly empty, so Open can distinguish a
// complete stream from a truncated one.
func (s *Sealer) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.flush(true)
}

// flush seals the buffered plaintext as one chunk and writes it framed.
func (s *Sealer) flush(final bool) error {
	nonce := chunkNonce(s.prefix, s.counter, final)
	s.counter++

	ct := s.aead.Seal(nil, nonce, s.buf[:s.n], nil)
	s.n = 0

	var frame [4]byte
	binary.BigEndian.PutUint32(frame[:], uint32(len(ct))) //nolint:gosec // bounded by ChunkSize + tag overhead
	if _, err := s.dst.Write(frame[:]); err != nil {
		return fmt.Errorf("write chunk frame: %w", err)
	}
	if _, err := s.dst.Write(ct); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	return nil
}

// Opener is the io.Reader returned by Open. It yields plaintext only from
// chunks whose authentication tag verified.
type Opener struct {
	src     io.Reader
	aead    cipher.AEAD
	prefix  []byte
	plain   []byte
	counter uint64
	done    bool
	err     error
}

// Open reads and checks the envelope header, derives the key, and returns
// a reader over the authenticated plaintext.
func Open(src io.Reader, passphrase []byte) (*Opener, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	header := make([]byte, len(magic)+saltSize+noncePrefixSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHeader, err)
	}
	if string(header[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedHeader)
	}
	salt := header[len(magic) : len(magic)+saltSize]
	prefix := header[len(magic)+saltSize:]

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	return &Opener{
		src:    src,
		aead:   aead,
		prefix: prefix,
	}, nil
}

// Read returns authenticated plaintext, decrypting the next chunk on
// demand. Any authentication failure is sticky.
func (o *Opener) Read(p []byte) (int, error) {
	for len(o.plain) == 0 {
		if o.err != nil {
			return 0, o.err
		}
		if o.done {
			return 0, io.EOF
		}
		if err := o.nextChunk(); err != nil {
			o.err = err
			return 0, err
		}
	}
	n := copy(p, o.plain)
	o.plain = o.plain[n:]
	return n, nil
}

// nextChunk reads, frames, and authenticates one chunk.
func (o *Opener) nextChunk() error {
	var frame [4]byte
	if _, err := io.ReadFull(o.src, frame[:]); err != nil {
		// A clean EOF here means the final chunk never arrived.
		return fmt.Errorf("%w: %s", ErrTruncated, err)
	}
	ctLen := binary.BigEndian.Uint32(frame[:])
	if ctLen > ChunkSize+uint32(o.aead.Overhead()) {
		return ErrChunkTooLarge
	}

	ct := make([]byte, ctLen)
	if _, err := io.ReadFull(o.src, ct); err != nil {
		return fmt.Errorf("%w: %s", ErrTruncated, err)
	}

	// Try the non-final nonce first, then the final-flagged one.
	plain, err := o.aead.Open(nil, chunkNonce(o.prefix, o.counter, false), ct, nil)
	if err != nil {
		plain, err = o.aead.Open(nil, chunkNonce(o.prefix, o.counter, true), ct, nil)
		if err != nil {
			return ErrChunkAuthFailed
		}
		o.done = true
	}
	o.counter++
	o.plain = plain
	return nil
}
