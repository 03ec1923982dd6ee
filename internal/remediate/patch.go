package remediate

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// The known-bad fragments in the application source and their fixed forms.
// These are exact-text substitutions; if the application has drifted, the
// step skips and the operator patches by hand.
const (
	fallbackSecretOld = `SECRET_KEY = os.getenv("JWT_SECRET_KEY", "kasa-monitor-secret-change-me")`
	fallbackSecretNew = `SECRET_KEY = os.environ["JWT_SECRET_KEY"]`

	interpolatedSQLOld = `cursor.execute(f"SELECT * FROM devices WHERE device_ip = '{device_ip}'")`
	interpolatedSQLNew = `cursor.execute("SELECT * FROM devices WHERE device_ip = ?", (device_ip,))`
)

// headersMarker is the line the middleware block is inserted after.
const headersMarker = "app = FastAPI("

// headersSentinel detects an already-injected block.
const headersSentinel = "X-Content-Type-Options"

const headersBlock = `

@app.middleware("http")
async def add_security_headers(request, call_next):
    response = await call_next(request)
    response.headers["X-Content-Type-Options"] = "nosniff"
    response.headers["X-Frame-Options"] = "DENY"
    response.headers["X-XSS-Protection"] = "1; mode=block"
    response.headers["Strict-Transport-Security"] = "max-age=31536000; includeSubDomains"
    response.headers["Content-Security-Policy"] = "default-src 'self'"
    return response
`

func (r *Runner) patchFallbackSecret(_ context.Context) (Status, string, error) {
	return r.substitute(r.cfg.ServerFile, fallbackSecretOld, fallbackSecretNew)
}

func (r *Runner) patchInterpolatedSQL(_ context.Context) (Status, string, error) {
	return r.substitute(r.cfg.ServerFile, interpolatedSQLOld, interpolatedSQLNew)
}

func (r *Runner) substitute(rel, old, repl string) (Status, string, error) {
	changed, err := patchFile(r.path(rel), old, repl)
	if err != nil {
		return StatusFailed, "", err
	}
	if !changed {
		return StatusSkipped, "expected text not found in " + rel, nil
	}
	return StatusFixed, rel, nil
}

func (r *Runner) injectSecurityHeaders(_ context.Context) (Status, string, error) {
	path := r.path(r.cfg.ServerFile)
	injected, err := injectAfterLine(path, headersMarker, headersSentinel, headersBlock)
	if err != nil {
		return StatusFailed, "", err
	}
	if !injected {
		return StatusSkipped, "headers already present or marker not found in " + r.cfg.ServerFile, nil
	}
	return StatusFixed, r.cfg.ServerFile, nil
}

// patchFile replaces the first occurrence of old with repl in the file at
// path, preserving its permissions. Returns false without error when old is
// absent, so re-running is safe.
func patchFile(path, old, repl string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	src := string(data)
	if !strings.Contains(src, old) {
		return false, nil
	}
	patched := strings.Replace(src, old, repl, 1)

	if err := os.WriteFile(path, []byte(patched), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// injectAfterLine inserts block after the first line containing marker.
// Returns false when the sentinel is already present or no line matches.
func injectAfterLine(path, marker, sentinel, block string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	src := string(data)
	if strings.Contains(src, sentinel) {
		return false, nil
	}

	lines := strings.Split(src, "\n")
	at := -1
	for i, line := range lines {
		if strings.Contains(line, marker) {
			at = i
			break
		}
	}
	if at == -1 {
		return false, nil
	}

	// Multi-line statements (e.g. a call spanning lines) end at the first
	// subsequent line that opens with the closing paren, at any indentation.
	if !strings.Contains(lines[at], ")") {
		for i := at + 1; i < len(lines); i++ {
			if strings.HasPrefix(strings.TrimSpace(lines[i]), ")") {
				at = i
				break
			}
		}
	}

	out := strings.Join(lines[:at+1], "\n") + block + strings.Join(lines[at+1:], "\n")
	if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
