// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

/*
Package store manages the artifact store: deterministic naming, listing,
age filtering, and atomic publication of backup objects on durable
storage.

The store holds no metadata database. All state is reconstructed by
listing and stat-ing artifacts at each invocation. An artifact is either
fully written (published by atomic rename) or entirely absent; temp files
use a dot prefix and are never listed as artifacts.

# Canonical names

	backup_<YYYYMMDDHHMMSS>.sql.gz.enc       database dump
	redis_<YYYYMMDDHHMMSS>.rdb.gz.enc        cache snapshot
	redis_aof_<YYYYMMDDHHMMSS>.aof.gz.enc    cache append log (optional)

Timestamps are UTC with second resolution. ParseName is the single
authority on these shapes; foreign files in the store directory are
ignored, never deleted.

# Atomic publication

AtomicWriter streams to .tmp-<name>.<nonce>, fsyncs, and renames to the
canonical name only on Commit. A crash at any point leaves no partial
file under a canonical name.
*/
package store
