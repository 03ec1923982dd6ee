// Command migrate-exports idempotently adds the user_id ownership column to
// the kasa-monitor data_exports table.
//
// Usage:
//
//	migrate-exports [DB_PATH]
//
// DB_PATH defaults to kasa_monitor.db in the working directory (or
// database.path from configuration). Exit status is 0 for a successful
// migration and for every no-op terminal state, 2 when a transient store
// error (e.g. a locked database) blocked the run, and 1 otherwise.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kasaweb/kasa-monitor-ops/internal/config"
	"github.com/kasaweb/kasa-monitor-ops/internal/exports"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "usage: migrate-exports [DB_PATH]")
		return 1
	}

	v, err := config.Load(os.Getenv("KASA_MONITOR_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	dbPath := v.GetString("database.path")
	if len(args) == 1 {
		dbPath = args[0]
	}

	m := exports.NewMigrator(logger, os.Stdout)
	result, err := m.Run(context.Background(), dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
	}
	logger.Info("migration run finished",
		zap.String("db_path", dbPath),
		zap.Stringer("result", result),
	)

	switch result {
	case exports.FailedTransient:
		return 2
	case exports.FailedFatal:
		return 1
	default:
		return 0
	}
}
