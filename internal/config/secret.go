// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package config

import (
	"errors"
)

// ErrEmptySecret is returned when an empty secret value is provided.
var ErrEmptySecret = errors.New("secret cannot be empty")

// Secret holds a passphrase-equivalent value in process memory for the
// duration of one operation. It is never persisted and never serialized;
// Zero wipes the backing storage on teardown.
type Secret struct {
	b []byte
}

// NewSecret wraps a secret value. The input string is copied so the caller
// may discard it.
func NewSecret(value string) (*Secret, error) {
	if value == "" {
		return nil, ErrEmptySecret
	}
	return &Secret{b: []byte(value)}, nil
}

// Bytes returns the raw secret. Callers must not retain the slice past the
// operation that needed it.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Zero overwrites the backing storage. The Secret is unusable afterwards.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

// String implements fmt.Stringer and masks the value so a Secret can never
// leak through logging or error formatting.
func (s *Secret) String() string {
	if s == nil || len(s.b) == 0 {
		return ""
	}
	return "****"
}

// MarshalJSON masks the value for the same reason as String.
func (s *Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"****"`), nil
}
