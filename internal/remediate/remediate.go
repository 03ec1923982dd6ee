// Package remediate applies a fixed checklist of security fixes to a
// kasa-monitor application tree. Each step is best-effort: a failure is
// recorded in the report and the remaining steps still run. The operator is
// expected to inspect the resulting diff before deploying.
package remediate

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is the outcome of one remediation step.
type Status string

const (
	// StatusFixed means the step changed something.
	StatusFixed Status = "fixed"
	// StatusSkipped means the step found nothing to change (already
	// remediated, or the expected text was absent).
	StatusSkipped Status = "skipped"
	// StatusFailed means the step could not complete.
	StatusFailed Status = "failed"
)

// StepResult records the outcome of one checklist step.
type StepResult struct {
	Name   string
	Status Status
	Detail string
	Err    error
}

// Report summarizes one remediation run.
type Report struct {
	RunID string
	Steps []StepResult
}

// Failed reports whether any step failed.
func (r *Report) Failed() bool {
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Config locates the application tree being remediated.
type Config struct {
	// TargetDir is the root of the kasa-monitor checkout.
	TargetDir string
	// EnvFile is the environment file, relative to TargetDir.
	EnvFile string
	// ServerFile is the main server source, relative to TargetDir.
	ServerFile string
	// FrontendDir is the npm project directory, relative to TargetDir.
	FrontendDir string
}

// Runner executes the remediation checklist.
type Runner struct {
	cfg  Config
	log  *zap.Logger
	out  io.Writer
	exec CommandRunner
}

// New returns a Runner that shells out to the system package managers.
// Pass a custom CommandRunner via WithExec for tests.
func New(cfg Config, log *zap.Logger, out io.Writer) *Runner {
	return &Runner{cfg: cfg, log: log, out: out, exec: execCommand}
}

// WithExec replaces the command runner used for package upgrades.
func (r *Runner) WithExec(exec CommandRunner) *Runner {
	r.exec = exec
	return r
}

// Run executes every checklist step in order and returns the report.
func (r *Runner) Run(ctx context.Context) *Report {
	report := &Report{RunID: uuid.NewString()}
	r.log.Info("remediation run starting",
		zap.String("run_id", report.RunID),
		zap.String("target", r.cfg.TargetDir),
	)

	steps := []struct {
		name string
		fn   func(ctx context.Context) (Status, string, error)
	}{
		{"rotate-jwt-secret", r.rotateSecret},
		{"remove-fallback-secret", r.patchFallbackSecret},
		{"parameterize-sql", r.patchInterpolatedSQL},
		{"inject-security-headers", r.injectSecurityHeaders},
		{"upgrade-dependencies", r.upgradeDependencies},
	}

	for i, step := range steps {
		status, detail, err := step.fn(ctx)
		if err != nil {
			status = StatusFailed
			detail = err.Error()
			r.log.Error("remediation step failed",
				zap.String("step", step.name),
				zap.Error(err),
			)
		}
		report.Steps = append(report.Steps, StepResult{
			Name:   step.name,
			Status: status,
			Detail: detail,
			Err:    err,
		})
		fmt.Fprintf(r.out, "[%d/%d] %-26s %s", i+1, len(steps), step.name, status)
		if detail != "" {
			fmt.Fprintf(r.out, " (%s)", detail)
		}
		fmt.Fprintln(r.out)
	}

	if report.Failed() {
		fmt.Fprintln(r.out, "Remediation finished with failures; review the steps above.")
	} else {
		fmt.Fprintln(r.out, "Remediation finished; inspect the diff before deploying.")
	}
	return report
}

func (r *Runner) path(rel string) string {
	return filepath.Join(r.cfg.TargetDir, rel)
}
