package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"hostbridge.json": `{"server":{"address":":9000"},"store":{"driver":"memory"},"bridge":{"required_versions":{"ai":">=1.0.0"}}}`,
		"hostbridge.yaml": "server:\n  address: \":9000\"\nbridge:\n  required_versions:\n    ai: \">=1.0.0\"\n",
		"hostbridge.toml": "[server]\naddress = \":9000\"\n[bridge.required_versions]\nai = \">=1.0.0\"\n",
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, dir, name, content))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.Server.Address != ":9000" {
				t.Fatalf("unexpected address %q", cfg.Server.Address)
			}
			if cfg.Bridge.RequiredVersions["ai"] != ">=1.0.0" {
				t.Fatalf("required versions not loaded: %+v", cfg.Bridge.RequiredVersions)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "empty.yaml", "{}\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" || cfg.Store.Driver != "memory" || cfg.KV.Driver != "memory" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Worker.Queue.Driver != "memory" || cfg.Worker.Concurrency != 4 || cfg.Worker.MaxRetries != 3 {
		t.Fatalf("worker defaults not applied: %+v", cfg.Worker)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir %s", cfg.Runtime.DataDir)
	}
	if cfg.NATS.SubjectPrefix != "hostbridge.op" {
		t.Fatalf("unexpected subject prefix %s", cfg.NATS.SubjectPrefix)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOSTBRIDGE_SERVER_ADDRESS", "127.0.0.1:7000")
	t.Setenv("HOSTBRIDGE_KV_DRIVER", "redis")
	t.Setenv("HOSTBRIDGE_KV_REDIS_ADDR", "localhost:6379")
	t.Setenv("HOSTBRIDGE_NATS_ENABLED", "true")

	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "cfg.json", `{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != "127.0.0.1:7000" {
		t.Fatalf("address not overridden: %s", cfg.Server.Address)
	}
	if cfg.KV.Driver != "redis" || cfg.KV.Redis.Addr != "localhost:6379" {
		t.Fatalf("kv not overridden: %+v", cfg.KV)
	}
	if !cfg.NATS.Enabled {
		t.Fatalf("nats should be enabled from env")
	}
}

func TestEnvNATSEnabledIsParsedAsBool(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "nats.json", `{"nats":{"enabled":true}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.NATS.Enabled {
		t.Fatalf("file value should survive when env is unset")
	}

	t.Setenv("HOSTBRIDGE_NATS_ENABLED", "false")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATS.Enabled {
		t.Fatalf("env false should disable nats")
	}

	t.Setenv("HOSTBRIDGE_NATS_ENABLED", "maybe")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "NATS_ENABLED") {
		t.Fatalf("expected bool parse error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"driver.json":     `{"store":{"driver":"sqlite"}}`,
		"dsn.json":        `{"store":{"driver":"postgres"}}`,
		"constraint.json": `{"bridge":{"required_versions":{"kv":"not-a-range"}}}`,
		"queue.json":      `{"worker":{"queue":{"driver":"redis"}}}`,
		"unknown.json":    `{"surprise":true}`,
	}
	for name, content := range cases {
		if _, err := Load(writeFile(t, dir, name, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(writeFile(t, dir, "cfg.ini", "x=1")); err == nil || !strings.Contains(err.Error(), "不支持") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Server.Address)
	}
}
