package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyTree(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "b.sh"), []byte("b"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("a.txt", filepath.Join(src, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "dst")
	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	if got, _ := os.ReadFile(filepath.Join(dst, "a.txt")); string(got) != "a" {
		t.Errorf("a.txt = %q", got)
	}
	info, err := os.Stat(filepath.Join(dst, "nested", "b.sh"))
	if err != nil {
		t.Fatalf("stat b.sh: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Errorf("b.sh mode = %v, want 0755", info.Mode().Perm())
	}
	if link, err := os.Readlink(filepath.Join(dst, "link")); err != nil || link != "a.txt" {
		t.Errorf("link = %q (%v), want a.txt", link, err)
	}
}

func TestCopyTree_SourceMustBeDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := CopyTree(file, filepath.Join(t.TempDir(), "dst")); err == nil {
		t.Fatal("expected error copying a regular file")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if ok, err := Exists(dir); err != nil || !ok {
		t.Fatalf("Exists(dir) = %v, %v", ok, err)
	}
	if ok, err := Exists(filepath.Join(dir, "missing")); err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
	dangling := filepath.Join(dir, "dangling")
	if err := os.Symlink(filepath.Join(dir, "nowhere"), dangling); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if ok, _ := Exists(dangling); !ok {
		t.Fatal("dangling symlink should count as existing")
	}
}

func TestCopyTree_SkipsGitMetadata(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, ".git", "objects"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "skill.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := filepath.Join(t.TempDir(), "out")
	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, ".git")); !os.IsNotExist(err) {
		t.Fatalf("expected .git to be skipped, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "skill.json")); err != nil {
		t.Fatalf("expected payload copied: %v", err)
	}
}
