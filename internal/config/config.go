// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package config

import (
	"time"
)

// Config is the root configuration for one Archivus invocation.
type Config struct {
	DB        DBConfig        `koanf:"db"`
	Cache     CacheConfig     `koanf:"cache"`
	Store     StoreConfig     `koanf:"store"`
	Retention RetentionConfig `koanf:"retention"`
	Alert     AlertConfig     `koanf:"alert"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`

	// EncryptionKey is loaded from BACKUP_ENCRYPTION_KEY and zeroed on
	// teardown. It is deliberately outside the koanf unmarshal path so it
	// never lands in a dumped or serialized config.
	EncryptionKey *Secret `koanf:"-"`
}

// DBConfig configures access to the relational store.
type DBConfig struct {
	// DSN is the PostgreSQL connection string (postgres://...).
	// Validated at the point of use: only a database backup needs it.
	DSN string `koanf:"dsn"`

	// DumpCommand is the logical dump binary (pg_dump compatible).
	DumpCommand string `koanf:"dump_command" validate:"required"`

	// RestoreCommand is the SQL replay binary (psql compatible).
	RestoreCommand string `koanf:"restore_command" validate:"required"`

	// ConnectTimeout bounds the liveness ping before a dump.
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`

	// DumpTimeout bounds one full dump stream.
	DumpTimeout time.Duration `koanf:"dump_timeout" validate:"gt=0"`

	// RestoreTimeout bounds one full SQL replay.
	RestoreTimeout time.Duration `koanf:"restore_timeout" validate:"gt=0"`
}

// CacheConfig configures access to the cache store.
type CacheConfig struct {
	// URL is the redis connection URL (redis://...).
	URL string `koanf:"url" validate:"required"`

	// DumpCommand is the snapshot streaming binary (redis-cli compatible).
	DumpCommand string `koanf:"dump_command" validate:"required"`

	// RDBPath is where a restored snapshot is placed for the cache server
	// to load on its next start.
	RDBPath string `koanf:"rdb_path" validate:"required"`

	// AOFPath is the cache server's append-only log file. Empty disables
	// the optional AOF artifact even when the server has AOF enabled.
	AOFPath string `koanf:"aof_path"`

	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	DumpTimeout    time.Duration `koanf:"dump_timeout" validate:"gt=0"`
}

// StoreConfig configures the artifact store.
type StoreConfig struct {
	// Path is the directory holding all backup artifacts.
	Path string `koanf:"path" validate:"required"`
}

// RetentionConfig configures the retention window.
type RetentionConfig struct {
	// Days is the retention window; artifacts older than this are pruned.
	Days int `koanf:"days" validate:"gte=1"`
}

// AlertConfig configures where structured alert events are delivered.
type AlertConfig struct {
	// Sink selects the delivery mechanism: log, webhook, email, nats.
	Sink string `koanf:"sink" validate:"oneof=log webhook email nats"`

	WebhookURL  string `koanf:"webhook_url" validate:"omitempty,url"`
	NATSURL     string `koanf:"nats_url"`
	NATSSubject string `koanf:"nats_subject"`
	SMTPAddr    string `koanf:"smtp_addr"`
	EmailFrom   string `koanf:"email_from" validate:"omitempty,email"`
	EmailTo     string `koanf:"email_to" validate:"omitempty,email"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// MetricsConfig configures Prometheus textfile export.
type MetricsConfig struct {
	// TextfileDir is the node-exporter textfile collector directory.
	// Empty disables metrics export.
	TextfileDir string `koanf:"textfile_dir"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment.
func defaultConfig() *Config {
	return &Config{
		DB: DBConfig{
			DSN:            "",
			DumpCommand:    "pg_dump",
			RestoreCommand: "psql",
			ConnectTimeout: 10 * time.Second,
			DumpTimeout:    time.Hour,
			RestoreTimeout: 2 * time.Hour,
		},
		Cache: CacheConfig{
			URL:            "redis://localhost:6379",
			DumpCommand:    "redis-cli",
			RDBPath:        "/var/lib/redis/dump.rdb",
			ConnectTimeout: 10 * time.Second,
			DumpTimeout:    30 * time.Minute,
		},
		Store: StoreConfig{
			Path: "/var/backups/archivus",
		},
		Retention: RetentionConfig{
			Days: 30,
		},
		Alert: AlertConfig{
			Sink:        "log",
			NATSSubject: "archivus.alerts",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			TextfileDir: "",
		},
	}
}
