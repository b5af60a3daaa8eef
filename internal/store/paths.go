package store

import (
	"os"
	"path/filepath"
)

func StatePath(root string) string {
	return filepath.Join(root, "state.json")
}

func LockPath(root string) string {
	return StatePath(root) + ".lock"
}

// SkillsRoot holds the canonical staged payload of every skill, one
// directory per skill id.
func SkillsRoot(root string) string {
	return filepath.Join(root, "skills")
}

func SkillDir(root, skillID string) string {
	return filepath.Join(SkillsRoot(root), skillID)
}

func BackupsRoot(root string) string {
	return filepath.Join(root, "backups")
}

func CacheRoot(root string) string {
	return filepath.Join(root, "cache")
}

func AuditPath(root string) string {
	return filepath.Join(root, "audit.log")
}

func EnsureLayout(root string) error {
	dirs := []string{root, SkillsRoot(root), BackupsRoot(root), CacheRoot(root)}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
