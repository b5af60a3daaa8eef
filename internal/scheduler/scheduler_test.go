package scheduler

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestSystemdInstallCurrentRemove(t *testing.T) {
	dir := t.TempDir()
	var ran []string
	m := New(Options{
		GOOS: "linux", Dir: dir, Executable: "/opt/skill hub/skillhub", ConfigPath: "/etc/skillhub.toml",
		Run: func(_ context.Context, name string, args ...string) error {
			ran = append(ran, name+" "+strings.Join(args, " "))
			return nil
		},
	})

	st, err := m.Install(context.Background(), "2h")
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if !st.Installed || st.Interval != "2h" || len(st.Files) != 2 {
		t.Fatalf("unexpected install status %+v", st)
	}
	service, err := os.ReadFile(m.servicePath())
	if err != nil {
		t.Fatalf("read service: %v", err)
	}
	if !strings.Contains(string(service), `ExecStart="/opt/skill hub/skillhub" check-updates --config /etc/skillhub.toml`) {
		t.Fatalf("unexpected service unit:\n%s", service)
	}
	if len(ran) != 2 || !strings.Contains(ran[1], "enable --now skillhub-check-updates.timer") {
		t.Fatalf("unexpected commands %v", ran)
	}

	cur, err := m.Current()
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if !cur.Installed || cur.Interval != "2h" {
		t.Fatalf("unexpected current status %+v", cur)
	}

	if _, err := m.Remove(context.Background()); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	for _, p := range st.Files {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed", p)
		}
	}
}

func TestLaunchdIntervalRoundTrip(t *testing.T) {
	m := New(Options{GOOS: "darwin", Dir: t.TempDir(), Executable: "/usr/local/bin/skillhub", SkipCommands: true})
	st, err := m.Install(context.Background(), "90m")
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if len(st.Notes) != 1 {
		t.Fatalf("expected skipped-commands note, got %v", st.Notes)
	}
	cur, err := m.Current()
	if err != nil {
		t.Fatalf("current failed: %v", err)
	}
	if cur.Interval != "90m" {
		t.Fatalf("expected 90m, got %q", cur.Interval)
	}
}

func TestServiceManagerFailureIsANote(t *testing.T) {
	m := New(Options{GOOS: "linux", Dir: t.TempDir(), Executable: "skillhub",
		Run: func(context.Context, string, ...string) error { return errors.New("no user bus") }})
	st, err := m.Install(context.Background(), "")
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}
	if st.Interval != DefaultPeriod || len(st.Notes) != 2 {
		t.Fatalf("expected default interval and two notes, got %+v", st)
	}
}

func TestIntervalValidationAndBackend(t *testing.T) {
	if _, err := ParseInterval("5m"); err == nil {
		t.Fatalf("expected short interval rejected")
	}
	m := New(Options{GOOS: "plan9", Dir: t.TempDir(), Executable: "skillhub"})
	if _, err := m.Install(context.Background(), "1h"); err == nil || !strings.Contains(err.Error(), "SCH_BACKEND") {
		t.Fatalf("expected unsupported backend error, got %v", err)
	}
}
