// Package harvest finds skills that already live in product skills
// directories without being managed by skillhub, so they can be registered.
package harvest

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"skillhub/internal/adapter"
	"skillhub/internal/importer"
	"skillhub/internal/skillerr"
)

type Candidate struct {
	ProductID  string `json:"productId"`
	Path       string `json:"path"`
	SkillID    string `json:"skillId,omitempty"`
	Version    string `json:"version,omitempty"`
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
	Registered bool   `json:"registered"`
}

type Service struct {
	Registry *adapter.Registry
	// Registered reports whether a skill id already has a record.
	Registered func(skillID string) bool
}

// Harvest lists unmanaged skill directories in productID, or in every known
// product when productID is empty.
func (s *Service) Harvest(productID string) ([]Candidate, error) {
	var descs []adapter.Descriptor
	if productID != "" {
		a, err := s.Registry.Get(productID)
		if err != nil {
			return nil, err
		}
		descs = []adapter.Descriptor{a.Descriptor()}
	} else {
		descs = s.Registry.List()
	}
	out := []Candidate{}
	for _, d := range descs {
		found, err := s.scanProduct(d)
		if err != nil {
			return out, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *Service) scanProduct(d adapter.Descriptor) ([]Candidate, error) {
	entries, err := os.ReadDir(d.SkillsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, skillerr.Filesystem("HRV_READ", skillerr.Product(d.ID), skillerr.Path(d.SkillsDir), skillerr.Cause(err))
	}
	a, err := s.Registry.Get(d.ID)
	if err != nil {
		return nil, err
	}
	var out []Candidate
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(d.SkillsDir, name)
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			continue
		}
		if st, err := a.Status(name); err == nil && st.IsEnabled {
			continue
		}
		c := Candidate{ProductID: d.ID, Path: path}
		m, _, err := importer.LoadSkillDir(path)
		if err != nil {
			c.Reason = err.Error()
		} else {
			c.Valid = true
			c.SkillID = m.ID
			c.Version = m.Version
			if s.Registered != nil {
				c.Registered = s.Registered(m.ID)
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
