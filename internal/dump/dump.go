// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package dump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/archivus/internal/alert"
	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/envelope"
	"github.com/tomtom215/archivus/internal/lockfile"
	"github.com/tomtom215/archivus/internal/logging"
	"github.com/tomtom215/archivus/internal/store"
)

var (
	// ErrSourceUnavailable is returned when the source store stayed
	// unreachable through the full retry budget.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrDump is the class of failed or partial dumps. The temp artifact
	// is discarded and never promoted.
	ErrDump = errors.New("dump failed")
)

// RetryPolicy bounds the liveness retry loop.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// InitialInterval is the delay after the first failure; it doubles on
	// each further failure.
	InitialInterval time.Duration
}

// DefaultRetryPolicy is the contract from the error handling design:
// 3 attempts, exponential backoff starting at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialInterval: 2 * time.Second}
}

// Source is one dump protocol endpoint (database or cache store).
type Source interface {
	// Kind reports which artifact family this source produces.
	Kind() store.Kind

	// ArtifactName returns the canonical artifact name for a dump taken
	// at t.
	ArtifactName(t time.Time) string

	// Ping checks source liveness. It must apply its own connect timeout.
	Ping(ctx context.Context) error

	// Open starts the dump stream. The returned wait function must be
	// called once the stream is fully consumed; it reports the source's
	// terminal status (a dump tool exiting non-zero fails the artifact
	// even after EOF on its output).
	Open(ctx context.Context) (io.ReadCloser, func() error, error)

	// DumpTimeout bounds one full dump stream.
	DumpTimeout() time.Duration
}

// Producer streams dumps into the artifact store.
type Producer struct {
	store *store.Store
	key   *config.Secret
	sink  alert.Sink
	retry RetryPolicy
	now   func() time.Time
}

// NewProducer builds a producer over the given store and alert sink.
func NewProducer(st *store.Store, key *config.Secret, sink alert.Sink) *Producer {
	return &Producer{
		store: st,
		key:   key,
		sink:  sink,
		retry: DefaultRetryPolicy(),
		now:   time.Now,
	}
}

// WithRetryPolicy overrides the liveness retry policy.
func (p *Producer) WithRetryPolicy(rp RetryPolicy) *Producer {
	p.retry = rp
	return p
}

// WithClock overrides the timestamp source. Tests pin artifact names with
// it.
func (p *Producer) WithClock(now func() time.Time) *Producer {
	p.now = now
	return p
}

// Produce runs one dump cycle for the source: acquire the kind lock, check
// liveness with bounded retry, stream the dump through compression and
// encryption, and publish the artifact atomically. Exactly one alert event
// is emitted: Info on success, Critical on terminal failure.
func (p *Producer) Produce(ctx context.Context, src Source) (store.Artifact, error) {
	lock, err := lockfile.AcquireKind(p.store.Dir(), string(src.Kind()))
	if err != nil {
		return store.Artifact{}, p.fail(ctx, src, alert.CodeBackupFailed, fmt.Errorf("%w: %s", ErrDump, err))
	}
	defer lock.Release() //nolint:errcheck // kernel releases on exit either way

	if err := p.pingWithRetry(ctx, src); err != nil {
		return store.Artifact{}, p.fail(ctx, src, alert.CodeSourceUnavailable,
			fmt.Errorf("%w: %s", ErrSourceUnavailable, err))
	}

	started := p.now()
	artifact, err := p.stream(ctx, src, started)
	if err != nil {
		return store.Artifact{}, p.fail(ctx, src, alert.CodeBackupFailed, err)
	}

	duration := p.now().Sub(started)
	p.emit(ctx, alert.New(alert.SeverityInfo, alert.CodeBackupComplete, string(src.Kind()),
		fmt.Sprintf("backup complete: %s (%d bytes in %s)", artifact.Path, artifact.SizeBytes, duration.Round(time.Millisecond))))
	return artifact, nil
}

// pingWithRetry retries transient source failures with exponential
// backoff, then surfaces a terminal error.
func (p *Producer) pingWithRetry(ctx context.Context, src Source) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retry.InitialInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		err := src.Ping(ctx)
		if err != nil {
			logging.Warn().Err(err).
				Str("kind", string(src.Kind())).
				Int("attempt", attempts).
				Msg("Source ping failed")
		}
		return err
	}

	//nolint:gosec // Attempts >= 1 by construction
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.retry.Attempts-1)), ctx))
}

// stream runs the dump through gzip and the envelope into an atomic
// writer.
func (p *Producer) stream(ctx context.Context, src Source, started time.Time) (store.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, src.DumpTimeout())
	defer cancel()

	rc, wait, err := src.Open(ctx)
	if err != nil {
		return store.Artifact{}, fmt.Errorf("%w: open dump stream: %s", ErrDump, err)
	}
	defer rc.Close() //nolint:errcheck // stream already drained or abandoned

	w, err := p.store.NewWriter(src.ArtifactName(started))
	if err != nil {
		_ = wait()
		return store.Artifact{}, fmt.Errorf("%w: %s", ErrDump, err)
	}

	sealer, err := envelope.Seal(w, p.key.Bytes())
	if err != nil {
		w.Abort()
		_ = wait()
		return store.Artifact{}, err // crypto errors keep their own class
	}

	gz := gzip.NewWriter(sealer)

	if _, err := io.Copy(gz, rc); err != nil {
		w.Abort()
		_ = wait()
		return store.Artifact{}, fmt.Errorf("%w: stream dump: %s", ErrDump, err)
	}
	if err := gz.Close(); err != nil {
		w.Abort()
		_ = wait()
		return store.Artifact{}, fmt.Errorf("%w: finish compression: %s", ErrDump, err)
	}
	if err := sealer.Close(); err != nil {
		w.Abort()
		_ = wait()
		return store.Artifact{}, fmt.Errorf("%w: finish encryption: %s", ErrDump, err)
	}

	// The dump tool's exit status decides whether the stream was complete.
	if err := wait(); err != nil {
		w.Abort()
		return store.Artifact{}, fmt.Errorf("%w: %s", ErrDump, err)
	}

	artifact, err := w.Commit()
	if err != nil {
		return store.Artifact{}, fmt.Errorf("%w: %s", ErrDump, err)
	}
	return artifact, nil
}

// fail emits the single Critical alert for a terminal failure and passes
// the error through.
func (p *Producer) fail(ctx context.Context, src Source, code alert.Code, err error) error {
	p.emit(ctx, alert.New(alert.SeverityCritical, code, string(src.Kind()), err.Error()))
	return err
}

// emit delivers an alert, logging delivery trouble without failing the
// cycle.
func (p *Producer) emit(ctx context.Context, e alert.Event) {
	if p.sink == nil {
		return
	}
	if err := p.sink.Emit(ctx, e); err != nil {
		logging.Error().Err(err).Str("code", string(e.Code)).Msg("Alert delivery failed")
	}
}
