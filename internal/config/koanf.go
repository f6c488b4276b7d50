// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"archivus.yaml",
	"archivus.yml",
	"/etc/archivus/archivus.yaml",
	"/etc/archivus/archivus.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EncryptionKeyEnvVar holds the backup passphrase. It is read directly
// (not through koanf) so the raw value never enters the koanf key store.
const EncryptionKeyEnvVar = "BACKUP_ENCRYPTION_KEY"

// envKeyMap maps recognized environment variables to koanf config paths.
// Unlisted variables are ignored rather than guessed at.
var envKeyMap = map[string]string{
	"DB_DSN":               "db.dsn",
	"DB_DUMP_COMMAND":      "db.dump_command",
	"DB_RESTORE_COMMAND":   "db.restore_command",
	"CACHE_URL":            "cache.url",
	"CACHE_DUMP_COMMAND":   "cache.dump_command",
	"CACHE_RDB_PATH":       "cache.rdb_path",
	"CACHE_AOF_PATH":       "cache.aof_path",
	"ARTIFACT_STORE_PATH":  "store.path",
	"RETENTION_DAYS":       "retention.days",
	"ALERT_SINK":           "alert.sink",
	"ALERT_WEBHOOK_URL":    "alert.webhook_url",
	"ALERT_NATS_URL":       "alert.nats_url",
	"ALERT_NATS_SUBJECT":   "alert.nats_subject",
	"ALERT_SMTP_ADDR":      "alert.smtp_addr",
	"ALERT_EMAIL_FROM":     "alert.email_from",
	"ALERT_EMAIL_TO":       "alert.email_to",
	"LOG_LEVEL":            "log.level",
	"LOG_FORMAT":           "log.format",
	"METRICS_TEXTFILE_DIR": "metrics.textfile_dir",
}

// Load builds the configuration from defaults, an optional config file, and
// the environment, then validates it. All returned errors are ConfigError
// class: the caller must exit before touching any data.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: struct defaults
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("%w: load defaults: %s", ErrInvalidConfig, err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: load config file %s: %s", ErrInvalidConfig, configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: load environment: %s", ErrInvalidConfig, err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %s", ErrInvalidConfig, err)
	}

	// The encryption key bypasses koanf entirely.
	key, err := NewSecret(os.Getenv(EncryptionKeyEnvVar))
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be set", ErrMissingEncryptionKey, EncryptionKeyEnvVar)
	}
	cfg.EncryptionKey = key

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile searches for a config file, honoring CONFIG_PATH first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		return ""
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Returning "" drops the variable, so unrelated environment noise never
// reaches the config tree.
func envTransformFunc(key string) string {
	return envKeyMap[key]
}
