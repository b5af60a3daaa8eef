package staging

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"skillhub/internal/skillerr"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(dir, p)
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("read tree %s: %v", dir, err)
	}
	return out
}

func sameTree(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func TestStageCopiesIntoCanonicalLocation(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "hello")
	writeTree(t, src, map[string]string{"skill.json": "{}", "lib/run.sh": "echo hi"})

	p := New(root)
	dest, err := p.Stage("hello", src)
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if dest != p.SkillDir("hello") {
		t.Fatalf("expected %s, got %s", p.SkillDir("hello"), dest)
	}
	if got := readTree(t, dest); !sameTree(got, readTree(t, src)) {
		t.Fatalf("staged tree differs: %v", got)
	}
	if !p.IsStaged("hello") {
		t.Fatalf("expected skill to be staged")
	}
	if orphans := p.Orphans(); len(orphans) != 0 {
		t.Fatalf("expected no orphans, got %v", orphans)
	}
}

func TestStageReplacesPreviousTreeCompletely(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	v1 := filepath.Join(t.TempDir(), "v1")
	writeTree(t, v1, map[string]string{"skill.json": "v1", "old-only.txt": "x"})
	v2 := filepath.Join(t.TempDir(), "v2")
	writeTree(t, v2, map[string]string{"skill.json": "v2"})

	if _, err := p.Stage("hello", v1); err != nil {
		t.Fatalf("stage v1: %v", err)
	}
	dest, err := p.Stage("hello", v2)
	if err != nil {
		t.Fatalf("stage v2: %v", err)
	}
	if got := readTree(t, dest); !sameTree(got, map[string]string{"skill.json": "v2"}) {
		t.Fatalf("expected only v2 content, got %v", got)
	}
	if orphans := p.Orphans(); len(orphans) != 0 {
		t.Fatalf("expected backup removed after success, got %v", orphans)
	}
}

func TestStageMissingSource(t *testing.T) {
	p := New(t.TempDir())
	_, err := p.Stage("hello", filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, skillerr.ErrSourceMissing) {
		t.Fatalf("expected ErrSourceMissing, got %v", err)
	}
	if !skillerr.IsKind(err, skillerr.KindFilesystem) {
		t.Fatalf("expected filesystem error, got %v", err)
	}
}

func TestStageRejectsInvalidID(t *testing.T) {
	p := New(t.TempDir())
	if _, err := p.Stage("../escape", t.TempDir()); !errors.Is(err, skillerr.ErrInvalidManifest) {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestStageFailedCommitRestoresPreviousTree(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	v1 := filepath.Join(t.TempDir(), "v1")
	writeTree(t, v1, map[string]string{"skill.json": "v1", "data/a.txt": "alpha"})
	dest, err := p.Stage("hello", v1)
	if err != nil {
		t.Fatalf("stage v1: %v", err)
	}
	before := readTree(t, dest)

	v2 := filepath.Join(t.TempDir(), "v2")
	writeTree(t, v2, map[string]string{"skill.json": "v2"})
	crash := errors.New("interrupted")
	p.beforeCommit = func(d string) error {
		if _, err := os.Stat(d); !os.IsNotExist(err) {
			t.Errorf("destination should be moved aside before commit, stat err=%v", err)
		}
		return crash
	}
	if _, err := p.Stage("hello", v2); !errors.Is(err, crash) {
		t.Fatalf("expected interruption error, got %v", err)
	}
	if after := readTree(t, dest); !sameTree(before, after) {
		t.Fatalf("expected destination restored byte-identical, got %v", after)
	}
	if orphans := p.Orphans(); len(orphans) != 0 {
		t.Fatalf("expected temp and backup cleaned up, got %v", orphans)
	}
}

func TestRecoverRestoresTreeAfterCrashBetweenBackupAndCommit(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	v1 := filepath.Join(t.TempDir(), "v1")
	writeTree(t, v1, map[string]string{"skill.json": "v1", "nested/deep/file": "payload"})
	dest, err := p.Stage("hello", v1)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	before := readTree(t, dest)

	// Reproduce the on-disk layout a killed process leaves behind: the old
	// tree moved aside and a half-copied temp tree.
	backup := filepath.Join(p.SkillsRoot(), ".hello"+backupInfix+"crashed")
	if err := os.Rename(dest, backup); err != nil {
		t.Fatalf("simulate backup: %v", err)
	}
	tmp := filepath.Join(p.SkillsRoot(), ".hello"+tmpInfix+"crashed")
	writeTree(t, tmp, map[string]string{"skill.json": "partial"})

	report, err := p.Recover()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(report.Restored) != 1 || len(report.RemovedTemps) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if after := readTree(t, dest); !sameTree(before, after) {
		t.Fatalf("expected byte-identical restore, got %v", after)
	}
	if orphans := p.Orphans(); len(orphans) != 0 {
		t.Fatalf("expected no orphans after recover, got %v", orphans)
	}
}

func TestRecoverDropsRedundantBackup(t *testing.T) {
	root := t.TempDir()
	p := New(root)
	src := filepath.Join(t.TempDir(), "src")
	writeTree(t, src, map[string]string{"skill.json": "new"})
	dest, err := p.Stage("hello", src)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	stale := filepath.Join(p.SkillsRoot(), ".hello"+backupInfix+"old")
	writeTree(t, stale, map[string]string{"skill.json": "old"})

	report, err := p.Recover()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(report.DroppedBackups) != 1 || len(report.Restored) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := readTree(t, dest); got["skill.json"] != "new" {
		t.Fatalf("expected current tree untouched, got %v", got)
	}
}

func TestRecoverRestoresNewestOfSeveralBackups(t *testing.T) {
	p := New(t.TempDir())
	older := filepath.Join(p.SkillsRoot(), ".hello"+backupInfix+"ffff")
	newer := filepath.Join(p.SkillsRoot(), ".hello"+backupInfix+"0000")
	writeTree(t, older, map[string]string{"skill.json": "older"})
	writeTree(t, newer, map[string]string{"skill.json": "newer"})
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	report, err := p.Recover()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(report.Restored) != 1 || len(report.DroppedBackups) != 1 || report.DroppedBackups[0] != older {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := readTree(t, p.SkillDir("hello")); got["skill.json"] != "newer" {
		t.Fatalf("expected newest backup restored, got %v", got)
	}
}

func TestBackupMovesTargetAndDisambiguates(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	p := New(root, WithClock(func() time.Time { return now }))
	product := t.TempDir()

	target := filepath.Join(product, "hello")
	writeTree(t, target, map[string]string{"a.txt": "first"})
	first, err := p.Backup(target, "claude", "hello")
	if err != nil {
		t.Fatalf("first backup: %v", err)
	}
	want := filepath.Join(root, "backups", "20261017T120000Z", "claude", "hello")
	if first != want {
		t.Fatalf("expected %s, got %s", want, first)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("expected target moved away, stat err=%v", err)
	}

	writeTree(t, target, map[string]string{"a.txt": "second"})
	second, err := p.Backup(target, "claude", "hello")
	if err != nil {
		t.Fatalf("second backup: %v", err)
	}
	if second == first {
		t.Fatalf("expected a distinct backup path within the same second")
	}
	if readTree(t, first)["a.txt"] != "first" || readTree(t, second)["a.txt"] != "second" {
		t.Fatalf("backups overwrote each other")
	}

	entries, err := p.ListBackups()
	if err != nil {
		t.Fatalf("list backups: %v", err)
	}
	var skills []string
	for _, e := range entries {
		if e.ProductID != "claude" || e.Timestamp != "20261017T120000Z" {
			t.Fatalf("unexpected entry %+v", e)
		}
		skills = append(skills, e.SkillID)
	}
	sort.Strings(skills)
	if strings.Join(skills, ",") != "hello,hello-1" {
		t.Fatalf("unexpected backup entries %v", skills)
	}
}

func TestBackupNothingToBackUp(t *testing.T) {
	p := New(t.TempDir())
	got, err := p.Backup(filepath.Join(t.TempDir(), "missing"), "claude", "hello")
	if err != nil || got != "" {
		t.Fatalf("expected no backup and no error, got %q, %v", got, err)
	}
}

func TestBackupMovesSymlinkItself(t *testing.T) {
	p := New(t.TempDir())
	product := t.TempDir()
	realDir := filepath.Join(t.TempDir(), "real")
	writeTree(t, realDir, map[string]string{"x": "y"})
	link := filepath.Join(product, "hello")
	if err := os.Symlink(realDir, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	dest, err := p.Backup(link, "codex", "hello")
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	info, err := os.Lstat(dest)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		t.Fatalf("expected symlink preserved in backup, got %v %v", info, err)
	}
	if _, err := os.Stat(filepath.Join(realDir, "x")); err != nil {
		t.Fatalf("link target must be untouched: %v", err)
	}
}

func TestPurge(t *testing.T) {
	p := New(t.TempDir())
	src := filepath.Join(t.TempDir(), "src")
	writeTree(t, src, map[string]string{"skill.json": "{}"})
	if _, err := p.Stage("hello", src); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := p.Purge("hello"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if p.IsStaged("hello") {
		t.Fatalf("expected payload purged")
	}
	if err := p.Purge("hello"); err != nil {
		t.Fatalf("purge of missing payload should succeed: %v", err)
	}
}
