package manifest

import (
	"encoding/json"
	"strings"
)

// InstallMode is how a staged skill is placed into a product.
type InstallMode string

const (
	// ModeAuto is a request value only; adapters resolve it before anything
	// is mutated or persisted.
	ModeAuto        InstallMode = "auto"
	ModeSymlink     InstallMode = "symlink"
	ModeCopy        InstallMode = "copy"
	ModeConfigPatch InstallMode = "configPatch"
	ModeUnknown     InstallMode = "unknown"
)

// ParseInstallMode maps a user or wire string onto an InstallMode.
// Unrecognized values map to ModeUnknown. An empty string means auto.
func ParseInstallMode(s string) InstallMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto
	case "symlink", "link":
		return ModeSymlink
	case "copy":
		return ModeCopy
	case "configpatch", "config-patch", "config_patch":
		return ModeConfigPatch
	default:
		return ModeUnknown
	}
}

// Concrete reports whether m names an actual placement strategy.
func (m InstallMode) Concrete() bool {
	switch m {
	case ModeSymlink, ModeCopy, ModeConfigPatch:
		return true
	}
	return false
}

func (m InstallMode) String() string { return string(m) }

func (m *InstallMode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = ParseInstallMode(s)
	return nil
}

func (m *InstallMode) UnmarshalText(text []byte) error {
	*m = ParseInstallMode(string(text))
	return nil
}
