// Package adapter translates canonical install modes into product-specific
// filesystem mutations, one ProductAdapter per product, looked up through a
// Registry keyed by product id.
package adapter

import (
	"fmt"
	"slices"

	"skillhub/internal/manifest"
	"skillhub/internal/skillerr"
)

// ProductAdapter is the uniform contract every product implements.
type ProductAdapter interface {
	Descriptor() Descriptor
	// Detect is a stat-only probe. It never mutates the filesystem.
	Detect() Detection
	ResolveInstallMode(requested manifest.InstallMode) (manifest.InstallMode, error)
	// Install checks the skill is staged, resolves the mode and prepares the
	// product's skills directory. It does not touch product-owned artifacts.
	Install(m manifest.Manifest, mode manifest.InstallMode) (manifest.InstallMode, error)
	Enable(skillID string, mode manifest.InstallMode) (EnableResult, error)
	// Disable removes the artifact Enable created. A missing artifact is not
	// an error.
	Disable(skillID string) error
	Status(skillID string) (Status, error)
}

// Descriptor identifies a product and the install modes it supports, in
// order of preference.
type Descriptor struct {
	ID                    string                 `json:"id"`
	Name                  string                 `json:"name"`
	SupportedInstallModes []manifest.InstallMode `json:"supportedInstallModes"`
	SkillsDir             string                 `json:"skillsDir"`
	Builtin               bool                   `json:"builtin"`
}

type Detection struct {
	IsDetected bool   `json:"isDetected"`
	Reason     string `json:"reason"`
	Path       string `json:"path,omitempty"`
}

type Status struct {
	IsInstalled bool                 `json:"isInstalled"`
	IsEnabled   bool                 `json:"isEnabled"`
	Mode        manifest.InstallMode `json:"mode,omitempty"`
	Target      string               `json:"target,omitempty"`
	Detail      string               `json:"detail"`
}

type EnableResult struct {
	Mode       manifest.InstallMode `json:"mode"`
	Target     string               `json:"target"`
	BackupPath string               `json:"backupPath,omitempty"`
}

// Stager is the part of the staging pipeline adapters depend on.
type Stager interface {
	SkillDir(skillID string) string
	IsStaged(skillID string) bool
	Backup(target, productID, skillID string) (string, error)
}

// ResolveInstallMode picks the concrete mode for requested out of supported.
// An explicit mode must be supported. auto takes the first supported mode
// that is not configPatch; configPatch always needs an explicit opt-in.
func ResolveInstallMode(productID string, supported []manifest.InstallMode, requested manifest.InstallMode) (manifest.InstallMode, error) {
	if requested == "" {
		requested = manifest.ModeAuto
	}
	if requested != manifest.ModeAuto {
		if requested.Concrete() && slices.Contains(supported, requested) {
			return requested, nil
		}
		return manifest.ModeUnknown, skillerr.Validation("ADP_MODE_UNSUPPORTED", skillerr.Product(productID),
			skillerr.Messagef("install mode %q not supported", requested),
			skillerr.Cause(skillerr.ErrUnsupportedInstallMode))
	}
	for _, m := range supported {
		if m.Concrete() && m != manifest.ModeConfigPatch {
			return m, nil
		}
	}
	return manifest.ModeUnknown, skillerr.Validation("ADP_MODE_UNSUPPORTED", skillerr.Product(productID),
		skillerr.Message("no install mode can be chosen automatically"),
		skillerr.Cause(fmt.Errorf("%w: configPatch requires an explicit mode", skillerr.ErrUnsupportedInstallMode)))
}
