package remediate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// pythonUpgrades is the fixed list of Python dependencies pinned too low by
// the application. Versions are floored, not pinned, so the package manager
// resolves the current patched release.
var pythonUpgrades = []string{
	"fastapi>=0.109.1",
	"python-jose[cryptography]>=3.3.0",
	"python-multipart>=0.0.7",
	"aiohttp>=3.9.2",
	"cryptography>=42.0.0",
}

// CommandRunner executes an external command in dir and returns its combined
// output. Tests substitute a fake.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// upgradeDependencies invokes pip for the fixed Python list and npm for the
// frontend tree. Either manager failing fails the step; output from both is
// surfaced through the logger for the operator's records.
func (r *Runner) upgradeDependencies(ctx context.Context) (Status, string, error) {
	pipArgs := append([]string{"install", "--upgrade"}, pythonUpgrades...)
	out, err := r.exec(ctx, r.cfg.TargetDir, "pip3", pipArgs...)
	r.log.Info("pip upgrade output", zap.String("output", strings.TrimSpace(string(out))))
	if err != nil {
		return StatusFailed, "", fmt.Errorf("pip3 install --upgrade: %w", err)
	}

	frontend := r.path(r.cfg.FrontendDir)
	if _, statErr := os.Stat(frontend); os.IsNotExist(statErr) {
		return StatusFixed, "python deps upgraded; no frontend dir, npm skipped", nil
	}

	out, err = r.exec(ctx, frontend, "npm", "update")
	r.log.Info("npm update output", zap.String("output", strings.TrimSpace(string(out))))
	if err != nil {
		return StatusFailed, "", fmt.Errorf("npm update: %w", err)
	}

	return StatusFixed, "python and frontend deps upgraded", nil
}
