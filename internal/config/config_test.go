package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !reflect.DeepEqual(cfg.Updates.AllowedHosts, DefaultAllowedHosts) {
		t.Fatalf("expected default allowed hosts, got %v", cfg.Updates.AllowedHosts)
	}
}

func TestEnsureCreatesAndLoadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Ensure(path)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if cfg.Version != SchemaVersion {
		t.Fatalf("expected schema version %d, got %d", SchemaVersion, cfg.Version)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file should exist: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Storage.Root != DefaultStorageRoot {
		t.Fatalf("expected default storage root, got %q", loaded.Storage.Root)
	}
}

func TestLoadCustomProducts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := strings.Join([]string{
		"version = 1",
		"[storage]",
		"root = \"/tmp/hub\"",
		"[[products]]",
		"id = \"Demo\"",
		"skills_dir = \"~/demo/skills\"",
		"install_modes = [\"link\", \"copy\"]",
	}, "\n")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	p, ok := FindProduct(cfg, "demo")
	if !ok {
		t.Fatalf("expected normalized product id, got %+v", cfg.Products)
	}
	if p.Name != "demo" || !reflect.DeepEqual(p.InstallModes, []string{"symlink", "copy"}) {
		t.Fatalf("unexpected product %+v", p)
	}
	if cfg.Logging.Level != "warn" || len(cfg.Updates.AllowedHosts) == 0 {
		t.Fatalf("expected defaults filled in, got %+v", cfg)
	}
}

func TestLoadParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("version = ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "DOC_CONFIG_PARSE") {
		t.Fatalf("expected DOC_CONFIG_PARSE, got %v", err)
	}
}

func TestValidateRejectsBadProducts(t *testing.T) {
	cases := map[string]ProductConfig{
		"bad id":       {ID: "../x", SkillsDir: "/x", InstallModes: []string{"copy"}},
		"no dir":       {ID: "demo", InstallModes: []string{"copy"}},
		"auto mode":    {ID: "demo", SkillsDir: "/x", InstallModes: []string{"auto"}},
		"dup mode":     {ID: "demo", SkillsDir: "/x", InstallModes: []string{"copy", "copy"}},
		"unknown mode": {ID: "demo", SkillsDir: "/x", InstallModes: []string{"teleport"}},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Products = []ProductConfig{p}
			if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "ADP_CONFIG_PRODUCT") {
				t.Fatalf("expected product error, got %v", err)
			}
		})
	}
}

func TestAddAndRemoveProduct(t *testing.T) {
	cfg := DefaultConfig()
	if err := AddProduct(&cfg, ProductConfig{ID: "demo", SkillsDir: "/tmp/demo"}); err != nil {
		t.Fatalf("add product: %v", err)
	}
	if err := AddProduct(&cfg, ProductConfig{ID: "demo", SkillsDir: "/tmp/other"}); err == nil {
		t.Fatalf("expected duplicate product error")
	}
	if err := RemoveProduct(&cfg, "demo"); err != nil {
		t.Fatalf("remove product: %v", err)
	}
	if err := RemoveProduct(&cfg, "demo"); err == nil {
		t.Fatalf("expected not found error")
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SKILLHUB_TEST_DIR", "/opt/skills")
	got, err := ExpandPath("~/x")
	if err != nil || got != filepath.Join(home, "x") {
		t.Fatalf("expected %s, got %s (%v)", filepath.Join(home, "x"), got, err)
	}
	if got, _ := ExpandPath("$SKILLHUB_TEST_DIR/a"); got != "/opt/skills/a" {
		t.Fatalf("expected env expansion, got %s", got)
	}
	if _, err := ExpandPath(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestDefaultConfigPathHonorsEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/skillhub.toml")
	if got := DefaultConfigPath(); got != "/etc/skillhub.toml" {
		t.Fatalf("expected env override, got %s", got)
	}
}

func TestScanSectionDefaultsAndValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Scan.Disabled || cfg.Scan.BlockSeverity != DefaultBlockSeverity {
		t.Fatalf("expected scan on with default severity, got %+v", cfg.Scan)
	}
	cfg.Scan.BlockSeverity = "extreme"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "DOC_CONFIG_SCAN") {
		t.Fatalf("expected DOC_CONFIG_SCAN, got %v", err)
	}
}
