// Package manifest holds the skill manifest model and its decoding rules.
package manifest

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// FileName is the canonical manifest file name inside a skill directory.
const FileName = "skill.json"

// YAMLFileNames are accepted alternatives to FileName.
var YAMLFileNames = []string{"skill.yaml", "skill.yml"}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Manifest describes one skill. It is immutable once decoded; re-registration
// replaces it wholesale.
type Manifest struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Version    string        `json:"version"`
	Summary    string        `json:"summary"`
	Entrypoint string        `json:"entrypoint,omitempty"`
	Tags       []string      `json:"tags,omitempty"`
	Adapters   []AdapterHint `json:"adapters,omitempty"`
}

// AdapterHint is a manifest author's suggestion for deploying into a product.
type AdapterHint struct {
	ProductID   string            `json:"productID"`
	InstallMode InstallMode       `json:"installMode"`
	TargetPath  string            `json:"targetPath,omitempty"`
	ConfigPatch map[string]string `json:"configPatch,omitempty"`
}

// UnmarshalJSON accepts the legacy "productId" spelling.
func (h *AdapterHint) UnmarshalJSON(data []byte) error {
	type plain AdapterHint
	var aux struct {
		plain
		LegacyProductID string `json:"productId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*h = AdapterHint(aux.plain)
	if h.ProductID == "" {
		h.ProductID = aux.LegacyProductID
	}
	if h.InstallMode == "" {
		h.InstallMode = ModeAuto
	}
	return nil
}

// ValidID reports whether id is an acceptable skill identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Normalize returns a copy with tags deduplicated and sorted, so a manifest
// decoded twice from the same bytes compares equal.
func (m Manifest) Normalize() Manifest {
	if len(m.Tags) > 0 {
		set := make(map[string]struct{}, len(m.Tags))
		tags := make([]string, 0, len(m.Tags))
		for _, t := range m.Tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := set[t]; ok {
				continue
			}
			set[t] = struct{}{}
			tags = append(tags, t)
		}
		sort.Strings(tags)
		m.Tags = tags
	}
	if len(m.Adapters) > 0 {
		hints := make([]AdapterHint, len(m.Adapters))
		copy(hints, m.Adapters)
		m.Adapters = hints
	}
	return m
}

// Hint returns the adapter hint for productID, if the manifest has one.
func (m Manifest) Hint(productID string) (AdapterHint, bool) {
	for _, h := range m.Adapters {
		if h.ProductID == productID {
			return h, true
		}
	}
	return AdapterHint{}, false
}

// CompareVersions compares two manifest versions as semantic versions.
// The leading "v" is optional. ok is false when either side is not valid
// semver, in which case callers should not draw conclusions from cmp.
func CompareVersions(a, b string) (cmp int, ok bool) {
	va, vb := canonicalVersion(a), canonicalVersion(b)
	if !semver.IsValid(va) || !semver.IsValid(vb) {
		return 0, false
	}
	return semver.Compare(va, vb), true
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
