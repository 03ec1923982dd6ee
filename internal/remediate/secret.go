package remediate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	secretLen = 32 // 256-bit secret, hex-encoded on disk
	envKey    = "JWT_SECRET_KEY"
)

// GenerateSecret returns a hex-encoded 256-bit random secret.
func GenerateSecret() (string, error) {
	b := make([]byte, secretLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// rotateSecret generates a fresh secret and appends it to the env file.
// The secret value is never logged.
func (r *Runner) rotateSecret(_ context.Context) (Status, string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return StatusFailed, "", err
	}
	path := r.path(r.cfg.EnvFile)
	if err := appendEnv(path, envKey, secret); err != nil {
		return StatusFailed, "", err
	}
	return StatusFixed, fmt.Sprintf("%s appended to %s", envKey, r.cfg.EnvFile), nil
}

// appendEnv appends KEY=value to the env file, creating it with 0600 if
// absent. A trailing newline is ensured before the new entry.
func appendEnv(path, key, value string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var entry strings.Builder
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		entry.WriteByte('\n')
	}
	fmt.Fprintf(&entry, "%s=%s\n", key, value)

	if _, err := f.WriteString(entry.String()); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}
