package engineconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
clone_driver: aws
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PlanExpireTime != "24h" {
		t.Errorf("expected default plan_expire_time, got %q", cfg.PlanExpireTime)
	}
	if cfg.CloneMigrateType != "stack" {
		t.Errorf("expected default clone_migrate_type \"stack\", got %q", cfg.CloneMigrateType)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected default store backend \"memory\", got %q", cfg.Store.Backend)
	}
	if cfg.V2VGatewayAPIListenPort != 16666 {
		t.Errorf("expected default v2v gateway port, got %d", cfg.V2VGatewayAPIListenPort)
	}
}

func TestLoadRejectsMissingCloneDriver(t *testing.T) {
	path := writeTempConfig(t, `
plan_expire_time: 1h
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing clone_driver")
	}
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	path := writeTempConfig(t, `
clone_driver: aws
store:
  backend: postgres
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for postgres backend without dsn")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeTempConfig(t, `
clone_driver: aws
plan_expire_time: not-a-duration
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed plan_expire_time")
	}
}

func TestDriverForFallsBackToCloneDriver(t *testing.T) {
	cfg := &EngineConfig{
		CloneDriver: "aws",
		ResourceManagers: map[string]string{
			"OS::Cinder::Volume": "digitalocean",
		},
	}
	if got := cfg.DriverFor("OS::Cinder::Volume"); got != "digitalocean" {
		t.Errorf("expected digitalocean override, got %q", got)
	}
	if got := cfg.DriverFor("OS::Nova::Server"); got != "aws" {
		t.Errorf("expected fallback to clone driver, got %q", got)
	}
}
