// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

/*
Package alert defines the structured alert events produced by the
pipeline and the pluggable sinks that deliver them.

Alert delivery is an external concern: this package only hands events to
a sink; routing, paging, and deduplication belong to whatever consumes
the sink.

# Sinks

	log       structured log lines at a level matching severity (default)
	webhook   JSON POST to a configured URL
	nats      JSON publish on a subject, flushed before return
	email     plain-text message via SMTP

Sink delivery failures are logged by callers but never fail the pipeline
operation that produced the event.
*/
package alert
