package config

import (
	"fmt"
	"strings"

	"skillhub/internal/logging"
	"skillhub/internal/manifest"
)

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return fmt.Errorf("DOC_CONFIG_VERSION: unsupported version %d", cfg.Version)
	}
	if cfg.Storage.Root == "" {
		return fmt.Errorf("DOC_CONFIG_STORAGE: missing storage root")
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("DOC_CONFIG_LOGGING: %w", err)
	}
	if _, err := logging.ParseFormat(cfg.Logging.Format); err != nil {
		return fmt.Errorf("DOC_CONFIG_LOGGING: %w", err)
	}
	for _, h := range cfg.Updates.AllowedHosts {
		if strings.ContainsAny(h, "/: ") {
			return fmt.Errorf("DOC_CONFIG_UPDATES: invalid host %q", h)
		}
	}
	switch cfg.Scan.BlockSeverity {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("DOC_CONFIG_SCAN: invalid block_severity %q", cfg.Scan.BlockSeverity)
	}

	ids := map[string]struct{}{}
	for _, p := range cfg.Products {
		if !manifest.ValidID(p.ID) {
			return fmt.Errorf("ADP_CONFIG_PRODUCT: invalid product id %q", p.ID)
		}
		if _, ok := ids[p.ID]; ok {
			return fmt.Errorf("ADP_CONFIG_PRODUCT: duplicate product %q", p.ID)
		}
		ids[p.ID] = struct{}{}
		if strings.TrimSpace(p.SkillsDir) == "" {
			return fmt.Errorf("ADP_CONFIG_PRODUCT: product %q missing skills_dir", p.ID)
		}
		if len(p.InstallModes) == 0 {
			return fmt.Errorf("ADP_CONFIG_PRODUCT: product %q has no install modes", p.ID)
		}
		seen := map[manifest.InstallMode]struct{}{}
		for _, raw := range p.InstallModes {
			mode := manifest.ParseInstallMode(raw)
			if !mode.Concrete() {
				return fmt.Errorf("ADP_CONFIG_PRODUCT: product %q lists unsupported install mode %q", p.ID, raw)
			}
			if _, dup := seen[mode]; dup {
				return fmt.Errorf("ADP_CONFIG_PRODUCT: product %q lists install mode %q twice", p.ID, raw)
			}
			seen[mode] = struct{}{}
		}
	}
	return nil
}
