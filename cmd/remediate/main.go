// Command remediate applies the kasa-monitor security fix checklist to an
// application checkout: rotates the JWT secret into the env file, removes
// the hard-coded fallback secret, parameterizes a known interpolated SQL
// statement, injects response security headers, and upgrades pinned
// dependencies through the system package managers.
//
// Usage:
//
//	remediate [TARGET_DIR]
//
// TARGET_DIR defaults to the working directory (or remediate.target_dir
// from configuration). Steps are best-effort; the exit status is 1 when
// any step failed, 0 otherwise. Inspect the diff before deploying.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kasaweb/kasa-monitor-ops/internal/config"
	"github.com/kasaweb/kasa-monitor-ops/internal/remediate"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "usage: remediate [TARGET_DIR]")
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

	cfg := remediate.Config{
		TargetDir:   v.GetString("remediate.target_dir"),
		EnvFile:     v.GetString("remediate.env_file"),
		ServerFile:  v.GetString("remediate.server_file"),
		FrontendDir: v.GetString("remediate.frontend_dir"),
	}
	if len(args) == 1 {
		cfg.TargetDir = args[0]
	}

	r := remediate.New(cfg, logger, os.Stdout)
	report := r.Run(context.Background())
	logger.Info("remediation run finished",
		zap.String("run_id", report.RunID),
		zap.Bool("failed", report.Failed()),
	)

	if report.Failed() {
		return 1
	}
	return 0
}
