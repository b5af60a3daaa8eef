package config

import (
	"strings"

	"skillhub/internal/manifest"
)

func Normalize(cfg Config) Config {
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = DefaultStorageRoot
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "warn"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if len(cfg.Updates.AllowedHosts) == 0 {
		cfg.Updates.AllowedHosts = append([]string(nil), DefaultAllowedHosts...)
	}
	hosts := cfg.Updates.AllowedHosts[:0:0]
	for _, h := range cfg.Updates.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	cfg.Updates.AllowedHosts = hosts
	cfg.Scan.BlockSeverity = strings.ToLower(strings.TrimSpace(cfg.Scan.BlockSeverity))
	if cfg.Scan.BlockSeverity == "" {
		cfg.Scan.BlockSeverity = DefaultBlockSeverity
	}

	products := make([]ProductConfig, len(cfg.Products))
	for i, p := range cfg.Products {
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.Name == "" {
			p.Name = p.ID
		}
		if len(p.InstallModes) == 0 {
			p.InstallModes = []string{manifest.ModeSymlink.String(), manifest.ModeCopy.String()}
		}
		modes := make([]string, 0, len(p.InstallModes))
		for _, m := range p.InstallModes {
			modes = append(modes, manifest.ParseInstallMode(m).String())
		}
		p.InstallModes = modes
		products[i] = p
	}
	cfg.Products = products
	return cfg
}
