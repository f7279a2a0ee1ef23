package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/dpapctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTemplateMatchesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, Template()))
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	want := Default()
	want.CorsOrigins = []string{"http://localhost:3000"}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("template config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, `
server = "10.0.0.5:8770"
password = "hunter2"
retry_interval = "90s"
max_parallel_refresh = 4
cors_origins = [" http://a ", ""]
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server != "10.0.0.5:8770" || cfg.Password != "hunter2" {
		t.Fatalf("unexpected server fields: %+v", cfg)
	}
	if cfg.RetryInterval != 90*time.Second || cfg.MaxParallelRefresh != 4 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.PollInterval != Default().PollInterval || cfg.RequestBurst != Default().RequestBurst {
		t.Fatalf("undefined keys should keep defaults: %+v", cfg)
	}
	if diff := cmp.Diff([]string{"http://a"}, cfg.CorsOrigins); diff != "" {
		t.Fatalf("origins (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration": `poll_interval = "soon"`,
		"bad server":   `server = "no-port"`,
		"zero burst":   `request_burst = 0`,
		"unknown key":  `refresh = "1s"`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(writeConfig(t, `request_burst = 0`)); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestMarshalOmitsPassword(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	cfg.Server = "10.0.0.5:8770"
	cfg.Password = "hunter2"
	cfg.CorsOrigins = []string{"http://localhost:3000"}
	b, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	text := string(b)
	if strings.Contains(text, "hunter2") {
		t.Fatalf("password leaked:\n%s", text)
	}
	if !strings.Contains(text, "retry_interval") || !strings.Contains(text, "2m0s") {
		t.Fatalf("expected retry_interval in output:\n%s", text)
	}

	back, err := Load(writeConfig(t, text))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	cfg.Password = ""
	if diff := cmp.Diff(cfg, back); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "x = 1")
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected refusal")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
}
