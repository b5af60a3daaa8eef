// Package doctor inspects a skillhub installation and reports problems
// without changing anything.
package doctor

import (
	"context"
	"os"
	"os/exec"

	"skillhub/internal/adapter"
	"skillhub/internal/config"
	"skillhub/internal/store"
	"skillhub/internal/updates"
)

type Finding struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type Report struct {
	Healthy          bool      `json:"healthy"`
	Findings         []Finding `json:"findings"`
	DetectedProducts []string  `json:"detectedProducts,omitempty"`
}

// Orphaner lists leftovers of interrupted stagings.
type Orphaner interface {
	Orphans() []string
	IsStaged(skillID string) bool
}

type Service struct {
	ConfigPath   string
	Store        *store.Store
	Staging      Orphaner
	Registry     *adapter.Registry
	AllowedHosts []string
	// LookPath finds executables. Defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

func (s *Service) Run(_ context.Context) Report {
	findings := []Finding{}
	add := func(code, level, msg string) {
		findings = append(findings, Finding{Code: code, Level: level, Message: msg})
	}

	if _, err := os.Stat(s.ConfigPath); err != nil {
		add("DOC_CONFIG_MISSING", "warn", err.Error())
	} else if _, err := config.Load(s.ConfigPath); err != nil {
		add("DOC_CONFIG_INVALID", "error", err.Error())
	}

	var records []store.Record
	if s.Store != nil {
		st, err := s.Store.Load()
		if err != nil {
			add("DOC_STATE_INVALID", "error", err.Error())
		} else {
			records = st.Skills
			for _, v := range store.CheckInvariants(st) {
				add("DOC_STATE_INVARIANT", "error", v.Error())
			}
		}
	}

	if s.Staging != nil {
		for _, o := range s.Staging.Orphans() {
			add("STG_ORPHAN", "warn", o+" left by an interrupted staging; run 'skillhub recover'")
		}
		for _, rec := range records {
			if !s.Staging.IsStaged(rec.ID()) {
				add("STG_PAYLOAD_MISSING", "error", rec.ID()+" is registered but its staged payload is missing")
			}
		}
	}

	var detected []string
	used := map[string]struct{}{}
	for _, rec := range records {
		for _, p := range rec.DeployedProducts {
			used[p] = struct{}{}
		}
	}
	if s.Registry != nil {
		for p := range used {
			if _, err := s.Registry.Get(p); err != nil {
				add("ADP_UNKNOWN_PRODUCT", "warn", "skills are deployed to "+p+" which is no longer configured")
			}
		}
		for _, d := range s.Registry.DetectAll() {
			if !d.Detection.IsDetected {
				continue
			}
			detected = append(detected, d.ID)
			if _, ok := used[d.ID]; !ok {
				add("ADP_DETECTED_UNUSED", "info", d.ID+" detected at "+d.Detection.Path+" but no skill is deployed to it")
			}
		}
	}

	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, rec := range records {
		if _, ok := updates.Classify(rec.ManifestSource, s.AllowedHosts); !ok {
			continue
		}
		if _, err := lookPath("git"); err != nil {
			add("DOC_GIT_MISSING", "warn", "git not found on PATH; update checks for remote skills are unavailable")
		}
		break
	}

	healthy := true
	for _, f := range findings {
		if f.Level == "error" {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Findings: findings, DetectedProducts: detected}
}
