package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"skillhub/internal/skillerr"
)

const helloManifest = `{"id":"hello-world","name":"Hello","version":"1.0.0","summary":"hi"}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// fakeRepo clones by writing a manifest into the destination.
type fakeRepo struct {
	calls    []string
	cloneErr error
}

func (f *fakeRepo) IsRepo(_ context.Context, dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func (f *fakeRepo) Clone(_ context.Context, url, dest, _ string) error {
	f.calls = append(f.calls, "clone "+url)
	if f.cloneErr != nil {
		return f.cloneErr
	}
	if err := os.MkdirAll(filepath.Join(dest, ".git"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "skill.json"), []byte(helloManifest), 0o644)
}

func (f *fakeRepo) Pull(_ context.Context, dir string) error {
	f.calls = append(f.calls, "pull "+dir)
	return nil
}

func (f *fakeRepo) HeadCommit(context.Context, string) (string, error) {
	return "c0ffee", nil
}

func TestResolveLocalDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hello")
	writeFile(t, filepath.Join(dir, "skill.json"), helloManifest)

	res, err := New(Options{}).Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Manifest.ID != "hello-world" || res.Dir != dir || res.Source != dir || res.Remote {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.ManifestPath != filepath.Join(dir, "skill.json") {
		t.Fatalf("unexpected manifest path %s", res.ManifestPath)
	}
}

func TestResolveManifestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skill.json")
	writeFile(t, path, helloManifest)
	res, err := New(Options{}).Resolve(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Dir != dir || res.ManifestPath != path {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestResolveSkillMarkdownOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pdf")
	writeFile(t, filepath.Join(dir, "SKILL.md"), "---\nname: pdf\ndescription: PDF helpers\n---\n# PDF\n")
	res, err := New(Options{}).Resolve(context.Background(), dir)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if res.Manifest.ID != "pdf" || res.Manifest.Summary != "PDF helpers" {
		t.Fatalf("unexpected manifest %+v", res.Manifest)
	}
	if filepath.Base(res.ManifestPath) != "SKILL.md" {
		t.Fatalf("expected SKILL.md as manifest path, got %s", res.ManifestPath)
	}
}

func TestResolveInvalidManifestIsNotMaskedBySkillMarkdown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "skill.json"), `{"id":"BAD"}`)
	writeFile(t, filepath.Join(dir, "SKILL.md"), "# fine\n")
	if _, err := New(Options{}).Resolve(context.Background(), dir); !errors.Is(err, skillerr.ErrInvalidManifest) {
		t.Fatalf("expected invalid manifest error, got %v", err)
	}
}

func TestResolveMissingDirectory(t *testing.T) {
	_, err := New(Options{}).Resolve(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, skillerr.ErrSourceMissing) || !skillerr.IsKind(err, skillerr.KindFilesystem) {
		t.Fatalf("expected missing source filesystem error, got %v", err)
	}
}

func TestResolvePlainHTTPUnsupported(t *testing.T) {
	_, err := New(Options{}).Resolve(context.Background(), "https://example.com/skill.zip")
	if err == nil || !strings.Contains(err.Error(), "IMP_UNSUPPORTED") {
		t.Fatalf("expected IMP_UNSUPPORTED, got %v", err)
	}
}

func TestResolveGitClonesThenPulls(t *testing.T) {
	cache := t.TempDir()
	repo := &fakeRepo{}
	im := New(Options{CacheRoot: cache, Repo: repo})
	source := "https://github.com/acme/hello.git"

	res, err := im.Resolve(context.Background(), source)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !res.Remote || res.Source != source || res.Manifest.ID != "hello-world" || res.Commit != "c0ffee" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.Dir, filepath.Join(cache, "git")) {
		t.Fatalf("expected clone under cache/git, got %s", res.Dir)
	}
	if _, err := im.Resolve(context.Background(), source); err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if len(repo.calls) != 2 || !strings.HasPrefix(repo.calls[0], "clone ") || !strings.HasPrefix(repo.calls[1], "pull ") {
		t.Fatalf("expected clone then pull, got %v", repo.calls)
	}
}

func TestResolveGitPlusPrefixStripped(t *testing.T) {
	repo := &fakeRepo{}
	im := New(Options{CacheRoot: t.TempDir(), Repo: repo})
	if _, err := im.Resolve(context.Background(), "git+https://example.org/acme/hello"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if repo.calls[0] != "clone https://example.org/acme/hello" {
		t.Fatalf("expected prefix stripped, got %v", repo.calls)
	}
}

func TestResolveGitCloneFailure(t *testing.T) {
	repo := &fakeRepo{cloneErr: errors.New("auth required")}
	im := New(Options{CacheRoot: t.TempDir(), Repo: repo})
	_, err := im.Resolve(context.Background(), "git@github.com:acme/private.git")
	if err == nil || !strings.Contains(err.Error(), "IMP_GIT_CLONE") {
		t.Fatalf("expected IMP_GIT_CLONE, got %v", err)
	}
}
