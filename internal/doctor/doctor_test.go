package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"skillhub/internal/adapter"
	"skillhub/internal/config"
	"skillhub/internal/manifest"
	"skillhub/internal/staging"
	"skillhub/internal/store"
	"skillhub/internal/updates"
)

func findCode(report Report, code string) bool {
	for _, f := range report.Findings {
		if f.Code == code {
			return true
		}
	}
	return false
}

func newService(t *testing.T, home string) (*Service, *store.Store, *staging.Pipeline) {
	t.Helper()
	root := filepath.Join(home, ".skillhub")
	cfgPath := filepath.Join(home, "config.toml")
	if err := config.Save(cfgPath, config.DefaultConfig()); err != nil {
		t.Fatalf("save config failed: %v", err)
	}
	st := store.Open(root)
	pipe := staging.New(root)
	reg, err := adapter.NewRegistry(adapter.RegistryOptions{Env: adapter.Env{Home: home}, Stager: pipe})
	if err != nil {
		t.Fatalf("new registry failed: %v", err)
	}
	return &Service{
		ConfigPath:   cfgPath,
		Store:        st,
		Staging:      pipe,
		Registry:     reg,
		AllowedHosts: updates.DefaultAllowedHosts,
		LookPath:     func(string) (string, error) { return "/usr/bin/git", nil },
	}, st, pipe
}

func TestDoctorHealthyEmptyInstall(t *testing.T) {
	svc, _, _ := newService(t, t.TempDir())
	report := svc.Run(context.Background())
	if !report.Healthy {
		t.Fatalf("expected healthy report, got %+v", report.Findings)
	}
}

func TestDoctorReportsDetectedUnusedProduct(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, ".cursor"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	svc, _, _ := newService(t, home)
	report := svc.Run(context.Background())
	if len(report.DetectedProducts) != 1 || report.DetectedProducts[0] != "cursor" {
		t.Fatalf("expected cursor detected, got %v", report.DetectedProducts)
	}
	if !findCode(report, "ADP_DETECTED_UNUSED") {
		t.Fatalf("expected ADP_DETECTED_UNUSED, got %+v", report.Findings)
	}
}

func TestDoctorReportsMissingPayloadAndOrphans(t *testing.T) {
	home := t.TempDir()
	svc, st, pipe := newService(t, home)
	m := manifest.Manifest{ID: "hello", Name: "hello", Version: "1.0.0", Summary: "s"}
	if _, err := st.UpsertSkill(m, "/src/hello/skill.json", "/src/hello"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(pipe.SkillsRoot(), ".hello.tmp-dead"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	report := svc.Run(context.Background())
	if report.Healthy {
		t.Fatalf("expected unhealthy report")
	}
	if !findCode(report, "STG_PAYLOAD_MISSING") || !findCode(report, "STG_ORPHAN") {
		t.Fatalf("expected payload and orphan findings, got %+v", report.Findings)
	}
}

func TestDoctorReportsCorruptState(t *testing.T) {
	home := t.TempDir()
	svc, st, _ := newService(t, home)
	if err := store.EnsureLayout(st.Root()); err != nil {
		t.Fatalf("layout: %v", err)
	}
	if err := os.WriteFile(st.Path(), []byte("{"), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	if report := svc.Run(context.Background()); report.Healthy || !findCode(report, "DOC_STATE_INVALID") {
		t.Fatalf("expected DOC_STATE_INVALID, got %+v", report.Findings)
	}
}

func TestDoctorWarnsWhenGitMissingForRemoteSkills(t *testing.T) {
	home := t.TempDir()
	svc, st, _ := newService(t, home)
	svc.LookPath = func(string) (string, error) { return "", errors.New("not found") }
	m := manifest.Manifest{ID: "remote", Name: "remote", Version: "1.0.0", Summary: "s"}
	if _, err := st.UpsertSkill(m, "/cache/x/skill.json", "https://github.com/acme/remote.git"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if report := svc.Run(context.Background()); !findCode(report, "DOC_GIT_MISSING") {
		t.Fatalf("expected DOC_GIT_MISSING, got %+v", report.Findings)
	}
}
