// Archivus - Encrypted Backup and Disaster Recovery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/archivus

// Command archivus runs one operation of the backup pipeline and exits.
//
// Usage:
//
//	archivus backup [--kind=db|cache|all]
//	archivus restore --artifact=<path> [--yes]
//	archivus verify --artifact=<path> [--deep]
//	archivus monitor
//	archivus prune [--dry-run]
//
// Exit codes: 0 success, 1 recoverable failure (alert emitted),
// 2 configuration error, 3 operator declined the restore confirmation.
//
// The process is designed to be fired by an external scheduler (cron,
// systemd timers); it keeps no state between invocations beyond the
// artifact store itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/archivus/internal/config"
	"github.com/tomtom215/archivus/internal/logging"
	"github.com/tomtom215/archivus/internal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		usage()
		return pipeline.ExitConfig
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "archivus: %v\n", err)
		return pipeline.ExitConfig
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	coord, err := pipeline.New(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("Pipeline wiring failed")
		cfg.EncryptionKey.Zero()
		return pipeline.ExitFailure
	}
	defer coord.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "backup":
		fs := flag.NewFlagSet("backup", flag.ContinueOnError)
		kind := fs.String("kind", pipeline.KindAll, "backup kind: db, cache, or all")
		if err := fs.Parse(args[1:]); err != nil {
			return pipeline.ExitConfig
		}
		return coord.RunBackup(ctx, *kind)

	case "restore":
		fs := flag.NewFlagSet("restore", flag.ContinueOnError)
		artifact := fs.String("artifact", "", "path to the artifact to restore")
		yes := fs.Bool("yes", false, "skip the confirmation prompt (audit logged)")
		if err := fs.Parse(args[1:]); err != nil {
			return pipeline.ExitConfig
		}
		if *artifact == "" {
			fmt.Fprintln(os.Stderr, "archivus: restore requires --artifact")
			return pipeline.ExitConfig
		}
		return coord.RunRestore(ctx, *artifact, *yes, os.Stdin, os.Stderr)

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ContinueOnError)
		artifact := fs.String("artifact", "", "path to the artifact to verify")
		deep := fs.Bool("deep", false, "authenticate the full stream, not just the prefix")
		if err := fs.Parse(args[1:]); err != nil {
			return pipeline.ExitConfig
		}
		if *artifact == "" {
			fmt.Fprintln(os.Stderr, "archivus: verify requires --artifact")
			return pipeline.ExitConfig
		}
		return coord.RunVerify(ctx, *artifact, *deep)

	case "monitor":
		return coord.RunMonitor(ctx)

	case "prune":
		fs := flag.NewFlagSet("prune", flag.ContinueOnError)
		dryRun := fs.Bool("dry-run", false, "report expired artifacts without deleting")
		if err := fs.Parse(args[1:]); err != nil {
			return pipeline.ExitConfig
		}
		return coord.RunPrune(ctx, *dryRun)

	default:
		usage()
		return pipeline.ExitConfig
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: archivus <command> [flags]

commands:
  backup   [--kind=db|cache|all]          produce encrypted backup artifacts
  restore  --artifact=<path> [--yes]      replay an artifact into the live target
  verify   --artifact=<path> [--deep]     check artifact integrity
  monitor                                 run the freshness and health checks
  prune    [--dry-run]                    enforce the retention window
`)
}
