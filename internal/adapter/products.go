package adapter

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"skillhub/internal/manifest"
)

// Env carries the locations built-in products derive their paths from.
type Env struct {
	Home             string
	ConfigHome       string
	OpenClawStateDir string
}

// DefaultEnv reads the current user's home, the XDG config home and
// $OPENCLAW_STATE_DIR.
func DefaultEnv() Env {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	env := Env{Home: home, ConfigHome: xdg.ConfigHome, OpenClawStateDir: os.Getenv("OPENCLAW_STATE_DIR")}
	return env.withDefaults()
}

func (e Env) withDefaults() Env {
	if e.ConfigHome == "" {
		e.ConfigHome = filepath.Join(e.Home, ".config")
	}
	if e.OpenClawStateDir == "" {
		e.OpenClawStateDir = filepath.Join(e.Home, ".openclaw")
	}
	return e
}

type builtin struct {
	id, name   string
	skillsDir  string
	detectPath string
	modes      []manifest.InstallMode
}

var linkOrCopy = []manifest.InstallMode{manifest.ModeSymlink, manifest.ModeCopy}

func builtins(env Env) []builtin {
	env = env.withDefaults()
	return []builtin{
		{
			id: "claude", name: "Claude Code",
			skillsDir:  filepath.Join(env.Home, ".claude", "skills"),
			detectPath: filepath.Join(env.Home, ".claude"),
			modes:      linkOrCopy,
		},
		{
			id: "codex", name: "Codex",
			skillsDir:  filepath.Join(env.Home, ".codex", "skills"),
			detectPath: filepath.Join(env.Home, ".codex"),
			modes:      linkOrCopy,
		},
		{
			id: "cursor", name: "Cursor",
			skillsDir:  filepath.Join(env.Home, ".cursor", "skills"),
			detectPath: filepath.Join(env.Home, ".cursor"),
			modes:      linkOrCopy,
		},
		{
			id: "opencode", name: "OpenCode",
			skillsDir:  filepath.Join(env.ConfigHome, "opencode", "skill"),
			detectPath: filepath.Join(env.ConfigHome, "opencode"),
			modes:      linkOrCopy,
		},
		{
			id: "openclaw", name: "OpenClaw",
			skillsDir:  filepath.Join(env.OpenClawStateDir, "skills"),
			detectPath: env.OpenClawStateDir,
			modes:      []manifest.InstallMode{manifest.ModeConfigPatch, manifest.ModeSymlink, manifest.ModeCopy},
		},
	}
}

// BuiltinIDs lists the ids of the products skillhub knows natively.
func BuiltinIDs() []string {
	var ids []string
	for _, b := range builtins(Env{Home: "."}) {
		ids = append(ids, b.id)
	}
	return ids
}
