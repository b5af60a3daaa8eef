// Package security scans a skill payload for content that should not be
// dropped into a product's skills directory unreviewed.
package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"skillhub/internal/config"
	"skillhub/internal/skillerr"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	// SeverityCritical blocks even when the caller forces the operation.
	SeverityCritical
)

var severityNames = []string{"info", "low", "medium", "high", "critical"}

func (s Severity) String() string {
	if int(s) < len(severityNames) && s >= 0 {
		return severityNames[s]
	}
	return "unknown"
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseSeverity maps a name to its Severity. Unknown names map to high.
func ParseSeverity(name string) Severity {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range severityNames {
		if n == name {
			return Severity(i)
		}
	}
	return SeverityHigh
}

type Finding struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Detail   string   `json:"detail"`
}

type Report struct {
	SkillID  string    `json:"skillId"`
	Files    int       `json:"files"`
	Findings []Finding `json:"findings"`
}

func (r Report) Max() Severity {
	max := SeverityInfo
	for _, f := range r.Findings {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max
}

// Payload is the file content of one skill directory keyed by slash
// separated relative path.
type Payload struct {
	SkillID string
	Files   map[string][]byte
	// TooLarge lists files above the read cap. They are not in Files.
	TooLarge []string
}

// Rule inspects a payload.
type Rule interface {
	ID() string
	Check(p Payload) []Finding
}

const maxReadSize = 4 << 20

// LoadPayload reads every regular file under dir except .git metadata.
func LoadPayload(skillID, dir string) (Payload, error) {
	p := Payload{SkillID: skillID, Files: map[string][]byte{}}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > maxReadSize {
			p.TooLarge = append(p.TooLarge, filepath.ToSlash(rel))
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		p.Files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return Payload{}, skillerr.Filesystem("SEC_SCAN_READ", skillerr.Skill(skillID), skillerr.Path(dir), skillerr.Cause(err))
	}
	return p, nil
}

func (p Payload) paths() []string {
	out := make([]string, 0, len(p.Files))
	for k := range p.Files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Scanner struct {
	rules    []Rule
	disabled map[string]bool
	block    Severity
	off      bool
}

func NewScanner(cfg config.ScanConfig) *Scanner {
	s := &Scanner{
		rules:    builtinRules(),
		disabled: map[string]bool{},
		block:    ParseSeverity(cfg.BlockSeverity),
		off:      cfg.Disabled,
	}
	for _, id := range cfg.DisabledRules {
		s.disabled[strings.ToUpper(strings.TrimSpace(id))] = true
	}
	return s
}

// Scan runs every enabled rule over p. Findings are ordered by severity,
// most severe first.
func (s *Scanner) Scan(p Payload) Report {
	r := Report{SkillID: p.SkillID, Files: len(p.Files), Findings: []Finding{}}
	if s.off {
		return r
	}
	for _, rule := range s.rules {
		if s.disabled[rule.ID()] {
			continue
		}
		r.Findings = append(r.Findings, rule.Check(p)...)
	}
	sort.SliceStable(r.Findings, func(i, j int) bool { return r.Findings[i].Severity > r.Findings[j].Severity })
	return r
}

// ScanDir loads dir and scans it.
func (s *Scanner) ScanDir(skillID, dir string) (Report, error) {
	if s.off {
		return Report{SkillID: skillID, Findings: []Finding{}}, nil
	}
	p, err := LoadPayload(skillID, dir)
	if err != nil {
		return Report{}, err
	}
	return s.Scan(p), nil
}

// Enforce fails when the report reaches the blocking severity. force lets
// everything below critical through.
func (s *Scanner) Enforce(r Report, force bool) error {
	max := r.Max()
	switch {
	case max == SeverityCritical:
		return blocked("SEC_SCAN_CRITICAL", r, SeverityCritical, "")
	case max >= s.block && !force:
		return blocked("SEC_SCAN_BLOCKED", r, s.block, "; rerun with --force to accept")
	}
	return nil
}

func blocked(code string, r Report, min Severity, hint string) error {
	var parts []string
	for _, f := range r.Findings {
		if f.Severity < min {
			continue
		}
		where := f.File
		if f.Line > 0 {
			where = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		parts = append(parts, fmt.Sprintf("[%s] %s %s: %s", f.Severity, f.Rule, where, f.Detail))
	}
	return skillerr.Validation(code, skillerr.Skill(r.SkillID),
		skillerr.Message(strings.Join(parts, "; ")+hint),
		skillerr.Cause(skillerr.ErrUnsafeContent))
}

// IsBlocked reports whether err came from Enforce.
func IsBlocked(err error) bool {
	return errors.Is(err, skillerr.ErrUnsafeContent)
}
