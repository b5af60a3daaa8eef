// Package scheduler installs an OS timer that runs "skillhub check-updates"
// periodically: a systemd user timer on Linux, a launchd agent on macOS.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/adrg/xdg"

	"skillhub/internal/fsutil"
)

const (
	unitName      = "skillhub-check-updates"
	launchdLabel  = "dev.skillhub.check-updates"
	minInterval   = 15 * time.Minute
	DefaultPeriod = "6h"
)

type Status struct {
	Backend   string   `json:"backend"`
	Installed bool     `json:"installed"`
	Interval  string   `json:"interval,omitempty"`
	Files     []string `json:"files,omitempty"`
	Notes     []string `json:"notes,omitempty"`
}

// RunFunc runs a service manager command such as systemctl.
type RunFunc func(ctx context.Context, name string, args ...string) error

func execRun(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

type Options struct {
	// GOOS selects the backend. Defaults to runtime.GOOS.
	GOOS string
	// Dir replaces the directory unit files are written to.
	Dir string
	// Executable is the skillhub binary the job runs. Defaults to the
	// running executable.
	Executable string
	// ConfigPath is passed to the job with --config when set.
	ConfigPath string
	// Run executes service manager commands. Nil means the real commands;
	// use SkipCommands to only write files.
	Run          RunFunc
	SkipCommands bool
}

type Manager struct {
	goos       string
	dir        string
	exe        string
	configPath string
	run        RunFunc
	skip       bool
}

func New(opts Options) *Manager {
	m := &Manager{
		goos:       opts.GOOS,
		dir:        opts.Dir,
		exe:        opts.Executable,
		configPath: opts.ConfigPath,
		run:        opts.Run,
		skip:       opts.SkipCommands,
	}
	if m.goos == "" {
		m.goos = runtime.GOOS
	}
	if m.exe == "" {
		if exe, err := os.Executable(); err == nil {
			m.exe = exe
		} else {
			m.exe = "skillhub"
		}
	}
	if m.run == nil {
		m.run = execRun
	}
	if m.dir == "" {
		switch m.goos {
		case "darwin":
			home, _ := os.UserHomeDir()
			m.dir = filepath.Join(home, "Library", "LaunchAgents")
		default:
			m.dir = filepath.Join(xdg.ConfigHome, "systemd", "user")
		}
	}
	return m
}

// ParseInterval accepts a Go duration of at least 15 minutes.
func ParseInterval(raw string) (time.Duration, error) {
	if raw == "" {
		raw = DefaultPeriod
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("SCH_INTERVAL: %w", err)
	}
	if d < minInterval {
		return 0, fmt.Errorf("SCH_INTERVAL: interval must be at least %s", minInterval)
	}
	return d, nil
}

func (m *Manager) Install(ctx context.Context, interval string) (Status, error) {
	d, err := ParseInterval(interval)
	if err != nil {
		return Status{}, err
	}
	switch m.goos {
	case "linux":
		return m.installSystemd(ctx, d)
	case "darwin":
		return m.installLaunchd(ctx, d)
	}
	return Status{}, m.unsupported()
}

func (m *Manager) Remove(ctx context.Context) (Status, error) {
	var st Status
	switch m.goos {
	case "linux":
		st = Status{Backend: "systemd", Files: []string{m.servicePath(), m.timerPath()}}
		m.runAll(ctx, &st, [][]string{
			{"systemctl", "--user", "disable", "--now", unitName + ".timer"},
			{"systemctl", "--user", "daemon-reload"},
		})
	case "darwin":
		st = Status{Backend: "launchd", Files: []string{m.plistPath()}}
		m.runAll(ctx, &st, [][]string{{"launchctl", "unload", m.plistPath()}})
	default:
		return Status{}, m.unsupported()
	}
	for _, p := range st.Files {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return st, fmt.Errorf("SCH_REMOVE: %w", err)
		}
	}
	return st, nil
}

// Current reports whether the job is installed and its interval.
func (m *Manager) Current() (Status, error) {
	switch m.goos {
	case "linux":
		st := Status{Backend: "systemd", Files: []string{m.servicePath(), m.timerPath()}}
		st.Installed = fsutil.IsFile(m.servicePath()) && fsutil.IsFile(m.timerPath())
		if st.Installed {
			st.Interval = readInterval(m.timerPath(), timerInterval, func(s string) string { return s })
		}
		return st, nil
	case "darwin":
		st := Status{Backend: "launchd", Files: []string{m.plistPath()}}
		st.Installed = fsutil.IsFile(m.plistPath())
		if st.Installed {
			st.Interval = readInterval(m.plistPath(), plistInterval, func(s string) string {
				n, err := strconv.Atoi(s)
				if err != nil {
					return ""
				}
				return formatInterval(time.Duration(n) * time.Second)
			})
		}
		return st, nil
	}
	return Status{}, m.unsupported()
}

func (m *Manager) unsupported() error {
	return fmt.Errorf("SCH_BACKEND: scheduling is not supported on %s", m.goos)
}

func (m *Manager) servicePath() string { return filepath.Join(m.dir, unitName+".service") }
func (m *Manager) timerPath() string   { return filepath.Join(m.dir, unitName+".timer") }
func (m *Manager) plistPath() string   { return filepath.Join(m.dir, launchdLabel+".plist") }

func (m *Manager) args() []string {
	args := []string{m.exe, "check-updates"}
	if m.configPath != "" {
		args = append(args, "--config", m.configPath)
	}
	return args
}

var (
	serviceTmpl = template.Must(template.New("service").Parse(`[Unit]
Description=skillhub update check

[Service]
Type=oneshot
ExecStart={{.Exec}}
`))
	timerTmpl = template.Must(template.New("timer").Parse(`[Unit]
Description=Run skillhub check-updates every {{.Interval}}

[Timer]
OnBootSec=5m
OnUnitActiveSec={{.Interval}}
Persistent=true
Unit={{.Unit}}.service

[Install]
WantedBy=timers.target
`))
	plistTmpl = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>{{.Label}}</string>
  <key>ProgramArguments</key>
  <array>
{{- range .Args}}
    <string>{{.}}</string>
{{- end}}
  </array>
  <key>StartInterval</key><integer>{{.Seconds}}</integer>
  <key>RunAtLoad</key><true/>
</dict>
</plist>
`))
)

func render(t *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("SCH_RENDER: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *Manager) installSystemd(ctx context.Context, d time.Duration) (Status, error) {
	quoted := make([]string, 0, len(m.args()))
	for _, a := range m.args() {
		quoted = append(quoted, systemdQuote(a))
	}
	interval := formatInterval(d)
	service, err := render(serviceTmpl, map[string]string{"Exec": strings.Join(quoted, " ")})
	if err != nil {
		return Status{}, err
	}
	timer, err := render(timerTmpl, map[string]string{"Interval": interval, "Unit": unitName})
	if err != nil {
		return Status{}, err
	}
	if err := m.write(m.servicePath(), service); err != nil {
		return Status{}, err
	}
	if err := m.write(m.timerPath(), timer); err != nil {
		return Status{}, err
	}
	st := Status{Backend: "systemd", Installed: true, Interval: interval, Files: []string{m.servicePath(), m.timerPath()}}
	m.runAll(ctx, &st, [][]string{
		{"systemctl", "--user", "daemon-reload"},
		{"systemctl", "--user", "enable", "--now", unitName + ".timer"},
	})
	return st, nil
}

func (m *Manager) installLaunchd(ctx context.Context, d time.Duration) (Status, error) {
	plist, err := render(plistTmpl, map[string]any{
		"Label": launchdLabel, "Args": m.args(), "Seconds": int(d.Seconds()),
	})
	if err != nil {
		return Status{}, err
	}
	if err := m.write(m.plistPath(), plist); err != nil {
		return Status{}, err
	}
	st := Status{Backend: "launchd", Installed: true, Interval: formatInterval(d), Files: []string{m.plistPath()}}
	m.runAll(ctx, &st, [][]string{
		{"launchctl", "unload", m.plistPath()},
		{"launchctl", "load", m.plistPath()},
	})
	return st, nil
}

func (m *Manager) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("SCH_WRITE: %w", err)
	}
	if err := fsutil.AtomicWrite(path, data, 0o644); err != nil {
		return fmt.Errorf("SCH_WRITE: %w", err)
	}
	return nil
}

// runAll runs each command, recording failures as notes. Service manager
// errors never fail the operation since the files are already in place.
func (m *Manager) runAll(ctx context.Context, st *Status, cmds [][]string) {
	if m.skip {
		st.Notes = append(st.Notes, "service manager commands skipped")
		return
	}
	for _, c := range cmds {
		if err := m.run(ctx, c[0], c[1:]...); err != nil {
			st.Notes = append(st.Notes, strings.Join(c, " ")+": "+err.Error())
		}
	}
}

var (
	timerInterval = regexp.MustCompile(`(?m)^OnUnitActiveSec=(\S+)$`)
	plistInterval = regexp.MustCompile(`<key>StartInterval</key>\s*<integer>(\d+)</integer>`)
)

func readInterval(path string, re *regexp.Regexp, conv func(string) string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	match := re.FindSubmatch(data)
	if len(match) != 2 {
		return ""
	}
	return conv(string(match[1]))
}

// formatInterval renders d in whole hours or minutes, which both systemd
// and ParseInterval accept.
func formatInterval(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	return fmt.Sprintf("%dm", d/time.Minute)
}

func systemdQuote(arg string) string {
	if strings.ContainsAny(arg, " \t\"'\\") {
		return strconv.Quote(arg)
	}
	return arg
}
