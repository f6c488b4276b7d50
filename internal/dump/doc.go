// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

/*
Package dump produces backup artifacts by streaming a source's native
dump protocol through compression and the crypto envelope into the
artifact store.

Pipeline per artifact:

	source stream -> gzip -> envelope.Seal -> store.AtomicWriter

The stages are connected in-process, so peak memory is bounded by the
envelope chunk size regardless of dump size, and every stage's error is
propagated explicitly. The canonical name appears only after the whole
stream succeeded; any failure discards the temp file.

# Sources

DatabaseSource speaks the logical dump protocol through a
pg_dump-compatible subprocess. CacheSource streams a redis snapshot via
redis-cli --rdb; CacheAOFSource is the optional append-log variant,
produced only when the server reports aof_enabled:1.

# Liveness and retry

Source liveness is checked before the dump with a bounded retry
(3 attempts, exponential backoff from 2s). Crypto failures are never
retried. Exactly one alert event is emitted per cycle: Info on success,
Critical on terminal failure.
*/
package dump
