// Package importer resolves a registration source (a local directory, a
// manifest file or a git remote) into a manifest and the directory holding
// the skill payload.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"skillhub/internal/config"
	"skillhub/internal/fsutil"
	"skillhub/internal/logging"
	"skillhub/internal/manifest"
	"skillhub/internal/skillerr"
	"skillhub/internal/updates"
)

// Repo is the git plumbing the importer needs to fetch remote sources.
type Repo interface {
	IsRepo(ctx context.Context, dir string) bool
	Clone(ctx context.Context, url, dest, branch string) error
	Pull(ctx context.Context, dir string) error
	HeadCommit(ctx context.Context, dir string) (string, error)
}

// Resolved is a skill ready to be staged.
type Resolved struct {
	Manifest     manifest.Manifest `json:"manifest"`
	Dir          string            `json:"dir"`
	ManifestPath string            `json:"manifestPath"`
	// Source is what gets recorded as the manifest source: the absolute
	// directory for local skills, the remote locator for git skills.
	Source string `json:"source"`
	Remote bool   `json:"remote"`
	// Commit is the checked out commit of a remote source.
	Commit string `json:"commit,omitempty"`
}

type Importer struct {
	cacheRoot    string
	repo         Repo
	allowedHosts []string
	logger       *slog.Logger
}

type Options struct {
	// CacheRoot holds one clone per remote source.
	CacheRoot    string
	Repo         Repo
	AllowedHosts []string
	Logger       *slog.Logger
}

func New(opts Options) *Importer {
	hosts := opts.AllowedHosts
	if len(hosts) == 0 {
		hosts = updates.DefaultAllowedHosts
	}
	return &Importer{
		cacheRoot:    opts.CacheRoot,
		repo:         opts.Repo,
		allowedHosts: hosts,
		logger:       logging.OrDiscard(opts.Logger),
	}
}

// Resolve turns source into a manifest and payload directory.
func (im *Importer) Resolve(ctx context.Context, source string) (Resolved, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return Resolved{}, skillerr.Validation("IMP_SOURCE", skillerr.Message("empty source"))
	}
	switch {
	case im.isGitSource(source):
		return im.resolveGit(ctx, source)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return Resolved{}, skillerr.Validation("IMP_UNSUPPORTED", skillerr.Path(source),
			skillerr.Message("http sources must be git remotes on an allowed host"))
	}
	return im.resolveLocal(strings.TrimPrefix(source, "file://"))
}

func (im *Importer) isGitSource(source string) bool {
	if strings.HasPrefix(source, "git+") || strings.HasPrefix(source, "ssh://") || strings.HasPrefix(source, "git@") {
		return true
	}
	if _, ok := updates.Classify(source, im.allowedHosts); ok {
		return true
	}
	return strings.HasPrefix(source, "https://") && strings.HasSuffix(source, ".git")
}

func (im *Importer) resolveLocal(path string) (Resolved, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return Resolved{}, skillerr.Filesystem("IMP_LOCAL", skillerr.Path(path), skillerr.Cause(err))
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return Resolved{}, skillerr.Filesystem("IMP_LOCAL", skillerr.Path(path), skillerr.Cause(err))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Resolved{}, skillerr.Filesystem("IMP_LOCAL", skillerr.Path(abs),
			skillerr.Cause(fmt.Errorf("%w: %w", skillerr.ErrSourceMissing, err)))
	}
	dir := abs
	if !info.IsDir() {
		dir = filepath.Dir(abs)
		m, err := loadManifestFile(abs)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Manifest: m, Dir: dir, ManifestPath: abs, Source: abs}, nil
	}
	m, manifestPath, err := LoadSkillDir(dir)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Manifest: m, Dir: dir, ManifestPath: manifestPath, Source: dir}, nil
}

func (im *Importer) resolveGit(ctx context.Context, source string) (Resolved, error) {
	if im.repo == nil {
		return Resolved{}, skillerr.Validation("IMP_GIT", skillerr.Path(source), skillerr.Message("git sources are not available"))
	}
	url := strings.TrimPrefix(source, "git+")
	dir := im.cacheDir(url)
	if im.repo.IsRepo(ctx, dir) {
		if err := im.repo.Pull(ctx, dir); err != nil {
			return Resolved{}, skillerr.Filesystem("IMP_GIT_PULL", skillerr.Path(dir), skillerr.Cause(err))
		}
	} else {
		if err := os.RemoveAll(dir); err != nil {
			return Resolved{}, skillerr.Filesystem("IMP_GIT_CLONE", skillerr.Path(dir), skillerr.Cause(err))
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return Resolved{}, skillerr.Filesystem("IMP_GIT_CLONE", skillerr.Path(dir), skillerr.Cause(err))
		}
		if err := im.repo.Clone(ctx, url, dir, ""); err != nil {
			return Resolved{}, skillerr.Filesystem("IMP_GIT_CLONE", skillerr.Path(url), skillerr.Cause(err))
		}
	}
	commit, err := im.repo.HeadCommit(ctx, dir)
	if err != nil {
		return Resolved{}, skillerr.Filesystem("IMP_GIT_HEAD", skillerr.Path(dir), skillerr.Cause(err))
	}
	im.logger.Info("git source fetched", "source", source, "dir", dir, "commit", commit)
	m, manifestPath, err := LoadSkillDir(dir)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{Manifest: m, Dir: dir, ManifestPath: manifestPath, Source: source, Remote: true, Commit: commit}, nil
}

// cacheDir returns a deterministic clone location for url.
func (im *Importer) cacheDir(url string) string {
	h := sha256.Sum256([]byte(url))
	return filepath.Join(im.cacheRoot, "git", hex.EncodeToString(h[:])[:16])
}

// LoadSkillDir loads the manifest of dir. Directories without a manifest
// but with a SKILL.md get one derived from its front matter.
func LoadSkillDir(dir string) (manifest.Manifest, string, error) {
	m, p, err := manifest.LoadDir(dir)
	if err == nil {
		return m, p, nil
	}
	skillMD := filepath.Join(dir, manifest.SkillMarkdownFile)
	if !errors.Is(err, skillerr.ErrInvalidManifest) || !fsutil.IsFile(skillMD) {
		return manifest.Manifest{}, "", err
	}
	if _, findErr := manifest.FindInDir(dir); findErr == nil {
		return manifest.Manifest{}, "", err
	}
	data, readErr := os.ReadFile(skillMD)
	if readErr != nil {
		return manifest.Manifest{}, "", skillerr.Filesystem("IMP_SKILL_MD", skillerr.Path(skillMD), skillerr.Cause(readErr))
	}
	m, err = manifest.FromSkillMarkdown(data, dir)
	if err != nil {
		return manifest.Manifest{}, "", err
	}
	return m, skillMD, nil
}

func loadManifestFile(path string) (manifest.Manifest, error) {
	if filepath.Base(path) == manifest.SkillMarkdownFile {
		data, err := os.ReadFile(path)
		if err != nil {
			return manifest.Manifest{}, skillerr.Filesystem("IMP_SKILL_MD", skillerr.Path(path), skillerr.Cause(err))
		}
		return manifest.FromSkillMarkdown(data, filepath.Dir(path))
	}
	return manifest.Load(path)
}
