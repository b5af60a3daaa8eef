package config

// Config is the v1 global schema.
type Config struct {
	Version  int             `toml:"version"`
	Storage  StorageConfig   `toml:"storage"`
	Logging  LoggingConfig   `toml:"logging"`
	Updates  UpdatesConfig   `toml:"updates"`
	Scan     ScanConfig      `toml:"scan"`
	Products []ProductConfig `toml:"products,omitempty"`
}

type StorageConfig struct {
	Root string `toml:"root"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// UpdatesConfig controls remote update detection.
type UpdatesConfig struct {
	// AllowedHosts lists the git hosts a manifest source may point at to be
	// checked for updates.
	AllowedHosts []string `toml:"allowed_hosts"`
}

// ScanConfig controls the content scan run on every payload before it is
// staged. The scan is on unless Disabled is set.
type ScanConfig struct {
	Disabled      bool     `toml:"disabled"`
	BlockSeverity string   `toml:"block_severity"`
	DisabledRules []string `toml:"disabled_rules,omitempty"`
}

// ProductConfig declares a custom product that keeps skills in a directory.
type ProductConfig struct {
	ID           string   `toml:"id" json:"id"`
	Name         string   `toml:"name,omitempty" json:"name,omitempty"`
	SkillsDir    string   `toml:"skills_dir" json:"skillsDir"`
	DetectPath   string   `toml:"detect_path,omitempty" json:"detectPath,omitempty"`
	InstallModes []string `toml:"install_modes,omitempty" json:"installModes,omitempty"`
}
