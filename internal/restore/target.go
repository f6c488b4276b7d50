// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package restore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/store"
)

// Target consumes a decrypted, decompressed payload stream.
type Target interface {
	// Kind reports which artifact family this target accepts.
	Kind() store.Kind

	// Describe names the target for logs and alerts.
	Describe() string

	// Apply replays the payload into the live target. It must apply its
	// own timeout and must not read the payload before being called.
	Apply(ctx context.Context, payload io.Reader) error
}

// SQLTarget replays a plain SQL dump through a psql-compatible tool. The
// whole replay runs inside a single transaction: a failed statement rolls
// the session back and the tool exits non-zero.
type SQLTarget struct {
	cfg config.DBConfig
}

// NewSQLTarget builds the target from configuration.
func NewSQLTarget(cfg config.DBConfig) (*SQLTarget, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database restore requires DB_DSN")
	}
	return &SQLTarget{cfg: cfg}, nil
}

// Kind implements Target.
func (t *SQLTarget) Kind() store.Kind { return store.KindDatabase }

// Describe implements Target.
func (t *SQLTarget) Describe() string { return t.cfg.RestoreCommand }

// replayArgs builds the psql invocation. ON_ERROR_STOP makes the first
// failed statement terminate the replay instead of limping on.
func (t *SQLTarget) replayArgs() []string {
	return []string{
		"--dbname=" + t.cfg.DSN,
		"--single-transaction",
		"--no-password",
		"-v", "ON_ERROR_STOP=1",
	}
}

// Apply implements Target by feeding the payload to the replay tool's
// stdin.
func (t *SQLTarget) Apply(ctx context.Context, payload io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.RestoreTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.cfg.RestoreCommand, t.replayArgs()...) //nolint:gosec // command comes from validated configuration
	cmd.Stdin = payload
	stderr := &tailBuffer{limit: 8 * 1024}
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if msg := stderr.String(); msg != "" {
			return fmt.Errorf("%s: %w: %s", t.cfg.RestoreCommand, err, msg)
		}
		return fmt.Errorf("%s: %w", t.cfg.RestoreCommand, err)
	}
	return nil
}

// SnapshotTarget places a cache snapshot or append log where the cache
// server loads it on next start. The write is atomic: the payload lands
// in a temp file in the destination directory and is renamed into place
// only after a full, synced write.
type SnapshotTarget struct {
	path string
}

// NewSnapshotTarget builds the target for the given destination file.
func NewSnapshotTarget(path string) (*SnapshotTarget, error) {
	if path == "" {
		return nil, errors.New("cache restore requires a destination path")
	}
	return &SnapshotTarget{path: path}, nil
}

// Kind implements Target.
func (t *SnapshotTarget) Kind() store.Kind { return store.KindCache }

// Describe implements Target.
func (t *SnapshotTarget) Describe() string { return t.path }

// Apply implements Target.
func (t *SnapshotTarget) Apply(ctx context.Context, payload io.Reader) error {
	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, ".tmp-restore-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, &contextReader{ctx: ctx, r: payload}); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Chmod(0o640); err != nil {
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// contextReader fails the copy once the context is done, so a hung
// payload stream cannot pin the restore forever.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// tailBuffer keeps the first limit bytes written and drops the rest.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
