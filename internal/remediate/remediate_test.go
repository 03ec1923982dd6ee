package remediate

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

const serverSource = `import os
from fastapi import FastAPI

app = FastAPI()

SECRET_KEY = os.getenv("JWT_SECRET_KEY", "kasa-monitor-secret-change-me")

def get_device(device_ip):
    cursor.execute(f"SELECT * FROM devices WHERE device_ip = '{device_ip}'")
    return cursor.fetchone()
`

// fakeExec records package-manager invocations without running anything.
type fakeExec struct {
	calls [][]string
	fail  bool
}

func (f *fakeExec) run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{dir, name}, args...))
	if f.fail {
		return []byte("boom"), os.ErrPermission
	}
	return []byte("ok"), nil
}

func setupTree(t *testing.T) (Config, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "server.py"), []byte(serverSource), 0o644); err != nil {
		t.Fatalf("write server.py: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "frontend"), 0o755); err != nil {
		t.Fatalf("mkdir frontend: %v", err)
	}
	return Config{
		TargetDir:   dir,
		EnvFile:     ".env",
		ServerFile:  "server.py",
		FrontendDir: "frontend",
	}, dir
}

func newRunner(t *testing.T, cfg Config) (*Runner, *fakeExec, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	fake := &fakeExec{}
	return New(cfg, zap.NewNop(), &buf).WithExec(fake.run), fake, &buf
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(a) != 64 {
		t.Errorf("secret length = %d, want 64 hex chars", len(a))
	}
	if _, err := hex.DecodeString(a); err != nil {
		t.Errorf("secret is not hex: %v", err)
	}

	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if a == b {
		t.Error("two secrets are identical")
	}
}

func TestRun_full_checklist(t *testing.T) {
	cfg, dir := setupTree(t)
	r, fake, _ := newRunner(t, cfg)

	report := r.Run(context.Background())
	if report.Failed() {
		t.Fatalf("report failed: %+v", report.Steps)
	}
	if report.RunID == "" {
		t.Error("empty run ID")
	}
	for _, s := range report.Steps {
		if s.Status != StatusFixed {
			t.Errorf("step %s = %s (%s), want fixed", s.Name, s.Status, s.Detail)
		}
	}

	envData, err := os.ReadFile(filepath.Join(dir, ".env"))
	if err != nil {
		t.Fatalf("read .env: %v", err)
	}
	if !strings.Contains(string(envData), "JWT_SECRET_KEY=") {
		t.Errorf(".env missing secret entry: %q", envData)
	}

	src, err := os.ReadFile(filepath.Join(dir, "server.py"))
	if err != nil {
		t.Fatalf("read server.py: %v", err)
	}
	if strings.Contains(string(src), "kasa-monitor-secret-change-me") {
		t.Error("fallback secret still present")
	}
	if !strings.Contains(string(src), `os.environ["JWT_SECRET_KEY"]`) {
		t.Error("env-only secret read not applied")
	}
	if strings.Contains(string(src), "f\"SELECT * FROM devices") {
		t.Error("interpolated SQL still present")
	}
	if !strings.Contains(string(src), `"SELECT * FROM devices WHERE device_ip = ?", (device_ip,)`) {
		t.Error("parameterized SQL not applied")
	}
	if strings.Count(string(src), "X-Content-Type-Options") != 1 {
		t.Error("security headers not injected exactly once")
	}

	// pip in the target dir, npm in the frontend dir.
	if len(fake.calls) != 2 {
		t.Fatalf("got %d package manager calls, want 2", len(fake.calls))
	}
	if fake.calls[0][1] != "pip3" || fake.calls[0][0] != dir {
		t.Errorf("first call = %v, want pip3 in %s", fake.calls[0], dir)
	}
	if fake.calls[1][1] != "npm" || fake.calls[1][0] != filepath.Join(dir, "frontend") {
		t.Errorf("second call = %v, want npm in frontend", fake.calls[1])
	}
}

func TestRun_second_pass_skips_patches(t *testing.T) {
	cfg, _ := setupTree(t)
	ctx := context.Background()

	r1, _, _ := newRunner(t, cfg)
	if report := r1.Run(ctx); report.Failed() {
		t.Fatalf("first run failed: %+v", report.Steps)
	}

	r2, _, _ := newRunner(t, cfg)
	report := r2.Run(ctx)
	if report.Failed() {
		t.Fatalf("second run failed: %+v", report.Steps)
	}

	byName := map[string]StepResult{}
	for _, s := range report.Steps {
		byName[s.Name] = s
	}
	for _, name := range []string{"remove-fallback-secret", "parameterize-sql", "inject-security-headers"} {
		if byName[name].Status != StatusSkipped {
			t.Errorf("step %s = %s on second run, want skipped", name, byName[name].Status)
		}
	}
}

func TestRun_missing_server_file(t *testing.T) {
	cfg, dir := setupTree(t)
	if err := os.Remove(filepath.Join(dir, "server.py")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	r, _, out := newRunner(t, cfg)

	report := r.Run(context.Background())
	if !report.Failed() {
		t.Fatal("expected failures with missing server file")
	}
	if !strings.Contains(out.String(), "failures") {
		t.Errorf("output missing failure notice: %q", out.String())
	}
}

func TestRun_package_manager_failure(t *testing.T) {
	cfg, _ := setupTree(t)
	r, fake, _ := newRunner(t, cfg)
	fake.fail = true

	report := r.Run(context.Background())
	if !report.Failed() {
		t.Fatal("expected report failure when package manager fails")
	}
	last := report.Steps[len(report.Steps)-1]
	if last.Name != "upgrade-dependencies" || last.Status != StatusFailed {
		t.Errorf("last step = %+v, want failed upgrade-dependencies", last)
	}
}

func TestAppendEnv_preserves_existing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DB_PATH=/data/kasa.db"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := appendEnv(path, "JWT_SECRET_KEY", "abc123"); err != nil {
		t.Fatalf("appendEnv: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "DB_PATH=/data/kasa.db\nJWT_SECRET_KEY=abc123\n"
	if string(data) != want {
		t.Errorf("env file = %q, want %q", data, want)
	}
}

func TestInjectAfterLine_multiline_marker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.py")
	src := "app = FastAPI(\n    title=\"kasa-monitor\",\n)\n\nx = 1\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	injected, err := injectAfterLine(path, headersMarker, headersSentinel, headersBlock)
	if err != nil {
		t.Fatalf("injectAfterLine: %v", err)
	}
	if !injected {
		t.Fatal("block not injected")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, "X-Content-Type-Options") {
		t.Error("headers not present")
	}
	// The block must land after the closing paren, not inside the call.
	if strings.Index(got, "@app.middleware") < strings.Index(got, ")") {
		t.Error("block injected inside the FastAPI call")
	}
}

func TestInjectAfterLine_indented_closing_paren(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.py")
	src := "app = FastAPI(\n    title=\"kasa-monitor\",\n    )\n\nx = 1\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	injected, err := injectAfterLine(path, headersMarker, headersSentinel, headersBlock)
	if err != nil {
		t.Fatalf("injectAfterLine: %v", err)
	}
	if !injected {
		t.Fatal("block not injected")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := string(data)
	if strings.Index(got, "@app.middleware") < strings.Index(got, ")") {
		t.Error("block injected inside the FastAPI call")
	}
	if !strings.Contains(got, "x = 1") {
		t.Error("trailing source lost")
	}
}
