package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refdesk.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, "security:\n  api_token: secret\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Staging.TTL != time.Hour {
		t.Errorf("staging ttl = %v", cfg.Staging.TTL)
	}
	if cfg.Security.APIToken != "secret" {
		t.Errorf("token = %q", cfg.Security.APIToken)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, strings.TrimSpace(`
server:
  addr: ":9090"
database:
  driver: postgres
  dsn: postgres://localhost/refdesk
staging:
  ttl: 30m
security:
  api_token: secret
datasets:
  - name: branches
    table: branches
    columns: [code, city, region]
    key_column: code
    hierarchy: [region, city]
`))

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Database.Driver != "postgres" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Staging.TTL != 30*time.Minute {
		t.Errorf("ttl = %v", cfg.Staging.TTL)
	}
	if len(cfg.Datasets) != 1 || cfg.Datasets[0].Name != "branches" {
		t.Fatalf("datasets = %+v", cfg.Datasets)
	}
}

func TestLoadConfig_TokenFromEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9090\"\n")

	t.Setenv("REFDESK_API_TOKEN", "from-env")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Security.APIToken != "from-env" {
		t.Errorf("token = %q", cfg.Security.APIToken)
	}
}

func TestLoadConfig_TokenRequired(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9090\"\n")

	t.Setenv("REFDESK_API_TOKEN", "")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error when no token is configured")
	}
}
