// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

/*
Package config provides layered configuration management for Archivus.

Configuration is loaded via Koanf v2 with layered sources (highest
priority wins):
  - Environment variables (DB_DSN, CACHE_URL, BACKUP_ENCRYPTION_KEY, ...)
  - Config file (archivus.yaml, or CONFIG_PATH)
  - Built-in defaults

The configuration value is constructed once at process start and passed
to every component; no component reads the environment directly.

# Encryption key handling

The backup passphrase is read from BACKUP_ENCRYPTION_KEY into a Secret
that bypasses the koanf key store, masks itself in logs and JSON, and is
wiped by the coordinator on teardown. A missing key is a configuration
error: the process exits before touching any data.

# Validation

Validation runs once after all layers are merged, using validator/v10
struct tags plus cross-field checks for the selected alert sink. All
load and validation failures share the ErrInvalidConfig class.
*/
package config
