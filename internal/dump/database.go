// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package dump

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	// Registers the pgx database/sql driver used for the liveness ping.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/store"
)

// DatabaseSource streams a logical dump of the relational store via a
// pg_dump-compatible tool. The dump is plain SQL so a restore is a
// straight replay.
type DatabaseSource struct {
	cfg config.DBConfig
}

// NewDatabaseSource builds the source from configuration.
func NewDatabaseSource(cfg config.DBConfig) (*DatabaseSource, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database backup requires DB_DSN")
	}
	return &DatabaseSource{cfg: cfg}, nil
}

// Kind implements Source.
func (s *DatabaseSource) Kind() store.Kind { return store.KindDatabase }

// ArtifactName implements Source.
func (s *DatabaseSource) ArtifactName(t time.Time) string { return store.DatabaseName(t) }

// DumpTimeout implements Source.
func (s *DatabaseSource) DumpTimeout() time.Duration { return s.cfg.DumpTimeout }

// Ping opens a connection and round-trips it within the connect timeout.
func (s *DatabaseSource) Ping(ctx context.Context) error {
	db, err := sql.Open("pgx", s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close() //nolint:errcheck // ping-only connection

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// dumpArgs builds the pg_dump invocation. Plain format, no prompts: a
// password has to come from the DSN or the ambient pgpass mechanism.
func (s *DatabaseSource) dumpArgs() []string {
	return []string{
		"--dbname=" + s.cfg.DSN,
		"--format=plain",
		"--no-password",
	}
}

// Open launches the dump tool with its stdout as the source stream.
func (s *DatabaseSource) Open(ctx context.Context) (io.ReadCloser, func() error, error) {
	return startDumpCommand(ctx, s.cfg.DumpCommand, s.dumpArgs())
}

// startDumpCommand starts a dump subprocess and returns its stdout stream
// plus a wait function carrying the exit status. Stderr is captured,
// bounded, and folded into the wait error so the tool's own diagnostics
// survive.
func startDumpCommand(ctx context.Context, name string, args []string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // command comes from validated configuration
	stderr := &boundedBuffer{limit: 8 * 1024}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("pipe %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start %s: %w", name, err)
	}

	wait := func() error {
		if err := cmd.Wait(); err != nil {
			if msg := stderr.String(); msg != "" {
				return fmt.Errorf("%s: %w: %s", name, err, msg)
			}
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
	return stdout, wait, nil
}

// boundedBuffer keeps the first limit bytes written and drops the rest.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return string(bytes.TrimSpace(b.buf.Bytes()))
}
