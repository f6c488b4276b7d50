// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package restore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/tomtom215/archivus/internal/alert"
	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/envelope"
	"github.com/tomtom215/archivus/internal/lockfile"
	"github.com/tomtom215/archivus/internal/logging"
	"github.com/tomtom215/archivus/internal/store"
)

var (
	// ErrRestore is the class of terminal restore failures.
	ErrRestore = errors.New("restore failed")

	// ErrDeclined is returned when the operator refuses the confirmation
	// gate. The target was never touched.
	ErrDeclined = errors.New("restore declined by operator")
)

// State is one phase of the restore state machine.
type State string

const (
	StateIdle                State = "idle"
	StateDecrypting          State = "decrypting"
	StateDecompressing       State = "decompressing"
	StateConfirmationPending State = "confirmation_pending"
	StateRestoring           State = "restoring"
	StateCompleted           State = "completed"
	StateAborted             State = "aborted"
)

// ConfirmFunc decides whether the restore may proceed past the gate.
type ConfirmFunc func(artifact store.Artifact) (bool, error)

// AutoConfirm approves the gate without asking. The bypass is audit
// logged so a destructive unattended restore always leaves a trace.
func AutoConfirm() ConfirmFunc {
	return func(artifact store.Artifact) (bool, error) {
		logging.Warn().
			Str("artifact", artifact.Name()).
			Msg("Restore confirmation gate bypassed with --yes")
		return true, nil
	}
}

// TerminalConfirm prompts on out and reads the decision from in. Only an
// explicit "y" or "yes" approves.
func TerminalConfirm(in io.Reader, out io.Writer) ConfirmFunc {
	return func(artifact store.Artifact) (bool, error) {
		fmt.Fprintf(out, "Restore %s over the live target? This is destructive. [y/N]: ", artifact.Name())
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("read confirmation: %w", err)
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

// Orchestrator drives one restore through the state machine.
type Orchestrator struct {
	store *store.Store
	key   *config.Secret
	sink  alert.Sink

	state        State
	onTransition func(State)
}

// NewOrchestrator builds an orchestrator over the artifact store.
func NewOrchestrator(st *store.Store, key *config.Secret, sink alert.Sink) *Orchestrator {
	return &Orchestrator{store: st, key: key, sink: sink, state: StateIdle}
}

// WithTransitionHook registers an observer for state changes. Tests pin
// the traversal order with it.
func (o *Orchestrator) WithTransitionHook(fn func(State)) *Orchestrator {
	o.onTransition = fn
	return o
}

// State reports the current phase.
func (o *Orchestrator) State() State { return o.state }

func (o *Orchestrator) transition(s State) {
	o.state = s
	logging.Debug().Str("state", string(s)).Msg("Restore state transition")
	if o.onTransition != nil {
		o.onTransition(s)
	}
}

// Restore replays artifact into target. The artifact is locked against a
// concurrent prune for the duration.
func (o *Orchestrator) Restore(ctx context.Context, artifact store.Artifact, target Target, confirm ConfirmFunc) error {
	o.transition(StateIdle)

	if artifact.Kind != target.Kind() {
		return o.abort(ctx, artifact,
			fmt.Errorf("%w: artifact %s is %s but target is %s", ErrRestore, artifact.Name(), artifact.Kind, target.Kind()))
	}

	lock, err := lockfile.AcquireArtifact(o.store.Dir(), artifact.Name())
	if err != nil {
		return o.abort(ctx, artifact, fmt.Errorf("%w: %s", ErrRestore, err))
	}
	defer lock.Release() //nolint:errcheck // kernel releases on exit either way

	// Preflight: prove the key decrypts and the payload decompresses
	// before asking the operator to pull the trigger.
	if err := o.preflight(artifact); err != nil {
		return o.abort(ctx, artifact, err)
	}

	o.transition(StateConfirmationPending)
	ok, err := confirm(artifact)
	if err != nil {
		return o.abort(ctx, artifact, fmt.Errorf("%w: %s", ErrRestore, err))
	}
	if !ok {
		o.transition(StateAborted)
		logging.Info().Str("artifact", artifact.Name()).Msg("Restore declined at confirmation gate")
		o.emit(ctx, alert.New(alert.SeverityWarning, alert.CodeRestoreAborted, string(artifact.Kind),
			fmt.Sprintf("restore of %s declined by operator", artifact.Name())))
		return ErrDeclined
	}

	o.transition(StateRestoring)
	if err := o.apply(ctx, artifact, target); err != nil {
		return o.abort(ctx, artifact, err)
	}

	o.transition(StateCompleted)
	logging.Info().
		Str("artifact", artifact.Name()).
		Str("target", target.Describe()).
		Msg("Restore complete")
	o.emit(ctx, alert.New(alert.SeverityInfo, alert.CodeRestoreComplete, string(artifact.Kind),
		fmt.Sprintf("restored %s into %s", artifact.Name(), target.Describe())))
	return nil
}

// preflight opens the artifact through the decrypt and decompress stages
// and reads one block, without touching the target.
func (o *Orchestrator) preflight(artifact store.Artifact) error {
	f, err := os.Open(artifact.Path) //nolint:gosec // artifact path comes from the store listing
	if err != nil {
		return fmt.Errorf("%w: open artifact: %s", ErrRestore, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	o.transition(StateDecrypting)
	opened, err := envelope.Open(f, o.key.Bytes())
	if err != nil {
		if envelope.IsCryptoError(err) {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRestore, err)
	}

	o.transition(StateDecompressing)
	gz, err := gzip.NewReader(opened)
	if err != nil {
		if envelope.IsCryptoError(err) {
			return err
		}
		return fmt.Errorf("%w: open compression: %s", ErrRestore, err)
	}
	probe := make([]byte, 512)
	if _, err := io.ReadFull(gz, probe); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		if envelope.IsCryptoError(err) {
			return err
		}
		return fmt.Errorf("%w: read payload: %s", ErrRestore, err)
	}
	return nil
}

// apply streams the full decrypted payload into the target.
func (o *Orchestrator) apply(ctx context.Context, artifact store.Artifact, target Target) error {
	f, err := os.Open(artifact.Path) //nolint:gosec // artifact path comes from the store listing
	if err != nil {
		return fmt.Errorf("%w: open artifact: %s", ErrRestore, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	opened, err := envelope.Open(f, o.key.Bytes())
	if err != nil {
		if envelope.IsCryptoError(err) {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRestore, err)
	}
	gz, err := gzip.NewReader(opened)
	if err != nil {
		return fmt.Errorf("%w: open compression: %s", ErrRestore, err)
	}

	if err := target.Apply(ctx, gz); err != nil {
		if envelope.IsCryptoError(err) {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRestore, err)
	}
	return nil
}

// abort moves to Aborted and emits the single Critical alert for a
// terminal failure.
func (o *Orchestrator) abort(ctx context.Context, artifact store.Artifact, err error) error {
	o.transition(StateAborted)
	logging.Error().Err(err).Str("artifact", artifact.Name()).Msg("Restore aborted")
	o.emit(ctx, alert.New(alert.SeverityCritical, alert.CodeRestoreAborted, string(artifact.Kind), err.Error()))
	return err
}

func (o *Orchestrator) emit(ctx context.Context, e alert.Event) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Emit(ctx, e); err != nil {
		logging.Error().Err(err).Str("code", string(e.Code)).Msg("Alert delivery failed")
	}
}
