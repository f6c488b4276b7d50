// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/logging"
)

// Sink delivers alert events to the external notifier.
type Sink interface {
	// Emit delivers one event. Delivery failures are logged by callers but
	// never fail the pipeline operation that produced the event.
	Emit(ctx context.Context, e Event) error

	// Close releases any sink resources.
	Close() error
}

// NewSink builds the sink selected by the configuration.
func NewSink(cfg config.AlertConfig) (Sink, error) {
	switch cfg.Sink {
	case "log":
		return &LogSink{}, nil
	case "webhook":
		return &WebhookSink{
			url:    cfg.WebhookURL,
			client: &http.Client{Timeout: 10 * time.Second},
		}, nil
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Timeout(10*time.Second), nats.MaxReconnects(1))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return &NATSSink{nc: nc, subject: cfg.NATSSubject}, nil
	case "email":
		return &EmailSink{
			addr: cfg.SMTPAddr,
			from: cfg.EmailFrom,
			to:   cfg.EmailTo,
			send: smtp.SendMail,
		}, nil
	default:
		return nil, fmt.Errorf("unknown alert sink %q", cfg.Sink)
	}
}

// LogSink writes events to the structured log. It is the default sink and
// the fallback when no notifier is wired up.
type LogSink struct{}

// Emit logs the event at a level matching its severity.
func (s *LogSink) Emit(_ context.Context, e Event) error {
	evt := logging.Info()
	switch e.Severity {
	case SeverityWarning:
		evt = logging.Warn()
	case SeverityCritical:
		evt = logging.Error()
	}
	evt.Str("alert_id", e.ID).
		Str("code", string(e.Code)).
		Str("kind", e.Kind).
		Str("severity", string(e.Severity)).
		Time("emitted_at", e.EmittedAt).
		Msg(e.Message)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

// WebhookSink POSTs each event as JSON to a configured URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// Emit posts the event. Non-2xx responses are errors.
func (s *WebhookSink) Emit(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // response body is drained and discarded
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Close implements Sink.
func (s *WebhookSink) Close() error { return nil }

// NATSSink publishes each event as JSON on a subject.
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// Emit publishes the event and flushes so a one-shot process cannot exit
// before delivery.
func (s *NATSSink) Emit(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.nc.Publish(s.subject, body); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	if err := s.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush alert: %w", err)
	}
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close() error {
	s.nc.Close()
	return nil
}

// EmailSink sends each event as a plain-text message. The send function is
// injectable for tests.
type EmailSink struct {
	addr string
	from string
	to   string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// Emit formats and sends one message per event.
func (s *EmailSink) Emit(_ context.Context, e Event) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", s.to)
	fmt.Fprintf(&msg, "Subject: [archivus %s] %s\r\n\r\n", e.Severity, e.Code)
	fmt.Fprintf(&msg, "%s\r\n\r\nkind: %s\r\nemitted: %s\r\nid: %s\r\n",
		e.Message, e.Kind, e.EmittedAt.Format(time.RFC3339), e.ID)

	if err := s.send(s.addr, nil, s.from, []string{s.to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send alert mail: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *EmailSink) Close() error { return nil }
