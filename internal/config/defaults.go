package config

import "skillhub/internal/updates"

const (
	SchemaVersion = 1

	DefaultStorageRoot = "~/.skillhub"

	DefaultBlockSeverity = "high"
)

// DefaultAllowedHosts are the git hosts update checks accept out of the box.
var DefaultAllowedHosts = updates.DefaultAllowedHosts

// DefaultConfig returns a fully-populated v1 config document.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Storage: StorageConfig{
			Root: DefaultStorageRoot,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Updates: UpdatesConfig{
			AllowedHosts: append([]string(nil), DefaultAllowedHosts...),
		},
		Scan: ScanConfig{
			BlockSeverity: DefaultBlockSeverity,
		},
	}
}
