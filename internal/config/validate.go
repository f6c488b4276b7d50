// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidConfig is the class of all configuration failures. The
	// process exits with the configuration exit code before touching data.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingEncryptionKey is returned when BACKUP_ENCRYPTION_KEY is
	// absent. Running without it would produce unprotected artifacts.
	ErrMissingEncryptionKey = errors.New("missing encryption key")
)

// validate is the shared validator instance; struct tag rules only.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against struct tags plus the
// cross-field rules that tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("%w: field %s fails rule %q", ErrInvalidConfig, f.Namespace(), f.Tag())
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}

	if c.EncryptionKey == nil || len(c.EncryptionKey.Bytes()) == 0 {
		return fmt.Errorf("%w: %s must be set", ErrMissingEncryptionKey, EncryptionKeyEnvVar)
	}

	switch c.Alert.Sink {
	case "webhook":
		if c.Alert.WebhookURL == "" {
			return fmt.Errorf("%w: ALERT_WEBHOOK_URL required for webhook sink", ErrInvalidConfig)
		}
	case "nats":
		if c.Alert.NATSURL == "" {
			return fmt.Errorf("%w: ALERT_NATS_URL required for nats sink", ErrInvalidConfig)
		}
	case "email":
		if c.Alert.SMTPAddr == "" || c.Alert.EmailFrom == "" || c.Alert.EmailTo == "" {
			return fmt.Errorf("%w: ALERT_SMTP_ADDR, ALERT_EMAIL_FROM and ALERT_EMAIL_TO required for email sink", ErrInvalidConfig)
		}
	}

	return nil
}

// IsConfigError reports whether err belongs to the configuration error
// class, mapping to the configuration exit code.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrMissingEncryptionKey) || errors.Is(err, ErrEmptySecret)
}
