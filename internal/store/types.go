package store

import (
	"encoding/json"
	"sort"
	"time"

	"skillhub/internal/manifest"
)

const SchemaVersion = 1

// State is the whole persisted document.
type State struct {
	SchemaVersion              int               `json:"schemaVersion"`
	Skills                     []Record          `json:"skills"`
	ProductConfigPathOverrides map[string]string `json:"productConfigPathOverrides"`
	UpdatedAt                  time.Time         `json:"updatedAt"`
}

// Record tracks one registered skill and its product bindings.
//
// Invariants: EnabledProducts ⊆ DeployedProducts, and the keys of
// LastDeployModeByProduct ⊆ DeployedProducts. Modes are always concrete.
type Record struct {
	Manifest       manifest.Manifest `json:"manifest"`
	ManifestPath   string            `json:"manifestPath"`
	ManifestSource string            `json:"manifestSource,omitempty"`
	// SourceRepo is the git checkout a remote skill was staged from and
	// SourceCommit the commit that was staged. Both are empty for local skills.
	SourceRepo              string                          `json:"sourceRepo,omitempty"`
	SourceCommit            string                          `json:"sourceCommit,omitempty"`
	DeployedProducts        []string                        `json:"deployedProducts"`
	EnabledProducts         []string                        `json:"enabledProducts"`
	LastDeployModeByProduct map[string]manifest.InstallMode `json:"lastDeployModeByProduct"`
	HasUpdate               bool                            `json:"hasUpdate"`
}

// UnmarshalJSON accepts documents written before deployedProducts was
// renamed from installedProducts. Only the canonical name is written back.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var aux struct {
		plain
		LegacyInstalledProducts []string `json:"installedProducts"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = Record(aux.plain)
	if r.DeployedProducts == nil && aux.LegacyInstalledProducts != nil {
		r.DeployedProducts = aux.LegacyInstalledProducts
	}
	return nil
}

func (r Record) ID() string { return r.Manifest.ID }

func (r Record) IsDeployed(productID string) bool { return contains(r.DeployedProducts, productID) }

func (r Record) IsEnabled(productID string) bool { return contains(r.EnabledProducts, productID) }

// DeployMode returns the concrete mode last used for productID.
func (r Record) DeployMode(productID string) (manifest.InstallMode, bool) {
	m, ok := r.LastDeployModeByProduct[productID]
	return m, ok
}

// normalize fills nil collections and sorts sets so encoding is stable.
func (r *Record) normalize() {
	r.DeployedProducts = sortedSet(r.DeployedProducts)
	r.EnabledProducts = sortedSet(r.EnabledProducts)
	if r.LastDeployModeByProduct == nil {
		r.LastDeployModeByProduct = map[string]manifest.InstallMode{}
	}
	r.Manifest = r.Manifest.Normalize()
}

func (st *State) normalize() {
	if st.SchemaVersion == 0 {
		st.SchemaVersion = SchemaVersion
	}
	if st.Skills == nil {
		st.Skills = []Record{}
	}
	if st.ProductConfigPathOverrides == nil {
		st.ProductConfigPathOverrides = map[string]string{}
	}
	for i := range st.Skills {
		st.Skills[i].normalize()
	}
	sort.Slice(st.Skills, func(i, j int) bool { return st.Skills[i].ID() < st.Skills[j].ID() })
}

// Find returns a pointer into st.Skills for id, or nil.
func (st *State) Find(id string) *Record {
	for i := range st.Skills {
		if st.Skills[i].ID() == id {
			return &st.Skills[i]
		}
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func addToSet(set []string, v string) []string {
	if contains(set, v) {
		return set
	}
	return sortedSet(append(set, v))
}

func removeFromSet(set []string, v string) []string {
	out := set[:0:0]
	for _, s := range set {
		if s != v {
			out = append(out, s)
		}
	}
	return sortedSet(out)
}

func sortedSet(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
