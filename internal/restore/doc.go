// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

/*
Package restore replays a backup artifact into a live target.

A restore is destructive, so it runs as an explicit state machine with a
mandatory confirmation gate:

	Idle -> Decrypting -> Decompressing -> ConfirmationPending ->
	Restoring -> Completed | Aborted

Nothing touches the target before the gate: the decrypt and decompress
stages only prove the key fits and the payload opens. A mid-stream
failure after the gate leaves the target partially written, surfaces the
target's error, and performs no rollback. The source artifact is never
mutated.

# Targets

SQLTarget replays a plain SQL dump through a psql-compatible subprocess
inside a single transaction. SnapshotTarget writes a cache snapshot or
append log atomically to the path the cache server loads on its next
start.

# Confirmation

TerminalConfirm prompts the operator; AutoConfirm is the non-interactive
bypass and audit-logs every use. A declined gate ends in Aborted with
the target untouched.
*/
package restore
