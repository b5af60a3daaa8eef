// Package updates decides whether deployed skills registered from git
// remotes lag behind their remote branch.
package updates

import (
	"context"
	"log/slog"
	"path/filepath"

	"skillhub/internal/logging"
	"skillhub/internal/store"
)

// Git is the repository plumbing the checker needs.
type Git interface {
	HeadCommit(ctx context.Context, dir string) (string, error)
	CurrentBranch(ctx context.Context, dir string) (string, error)
	RemoteBranchCommit(ctx context.Context, url, branch string) (string, error)
	RemoteDefaultCommit(ctx context.Context, url string) (string, error)
	Fetch(ctx context.Context, dir, url, ref string) error
	IsAncestor(ctx context.Context, dir, ancestor, descendant string) (bool, error)
}

type Status string

const (
	StatusNoUpdate        Status = "noUpdate"
	StatusUpdateAvailable Status = "updateAvailable"
	// StatusUnavailable means the check could not complete. The persisted
	// flag must be left as it is.
	StatusUnavailable Status = "unavailable"
)

type Result struct {
	SkillID      string `json:"skillId"`
	Source       string `json:"source,omitempty"`
	Status       Status `json:"status"`
	Branch       string `json:"branch,omitempty"`
	LocalCommit  string `json:"localCommit,omitempty"`
	RemoteCommit string `json:"remoteCommit,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// HasUpdate is the flag to persist. Only meaningful when Status is not
// StatusUnavailable.
func (r Result) HasUpdate() bool { return r.Status == StatusUpdateAvailable }

type Checker struct {
	git          Git
	allowedHosts []string
	logger       *slog.Logger
}

type Option func(*Checker)

func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) { c.logger = logging.OrDiscard(l) }
}

func WithAllowedHosts(hosts []string) Option {
	return func(c *Checker) {
		if len(hosts) > 0 {
			c.allowedHosts = append([]string(nil), hosts...)
		}
	}
}

// DefaultAllowedHosts are used unless WithAllowedHosts says otherwise.
var DefaultAllowedHosts = []string{"github.com", "gitlab.com", "bitbucket.org", "codeberg.org"}

func NewChecker(git Git, opts ...Option) *Checker {
	c := &Checker{
		git:          git,
		allowedHosts: DefaultAllowedHosts,
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAll checks every record deployed to at least one product. A failure
// for one skill is reported as StatusUnavailable and never stops the batch.
func (c *Checker) CheckAll(ctx context.Context, records []store.Record) []Result {
	out := make([]Result, 0, len(records))
	for _, rec := range records {
		if len(rec.DeployedProducts) == 0 {
			continue
		}
		out = append(out, c.Check(ctx, rec))
	}
	return out
}

// Check compares the commit staged for rec with its remote branch.
func (c *Checker) Check(ctx context.Context, rec store.Record) Result {
	res := Result{SkillID: rec.ID(), Source: rec.ManifestSource}
	remote, ok := Classify(rec.ManifestSource, c.allowedHosts)
	if !ok {
		res.Status = StatusNoUpdate
		res.Reason = "source is not a recognized git remote"
		return res
	}
	dir := rec.SourceRepo
	if dir == "" && rec.ManifestPath != "" {
		dir = filepath.Dir(rec.ManifestPath)
	}
	if dir == "" {
		return c.unavailable(res, "no source checkout recorded", nil)
	}

	head, err := c.git.HeadCommit(ctx, dir)
	if err != nil {
		return c.unavailable(res, "no repository metadata in source checkout", err)
	}
	// The checkout may have moved past what was staged when a later
	// registration failed, so the staged commit wins.
	local := head
	if rec.SourceCommit != "" {
		local = rec.SourceCommit
	}
	res.LocalCommit = local
	branch, err := c.git.CurrentBranch(ctx, dir)
	if err != nil {
		return c.unavailable(res, "cannot read current branch", err)
	}

	var remoteCommit, ref string
	if branch != "" {
		remoteCommit, err = c.git.RemoteBranchCommit(ctx, remote.URL, branch)
		if err != nil {
			return c.unavailable(res, "remote query failed", err)
		}
		ref = "refs/heads/" + branch
		res.Branch = branch
	}
	if remoteCommit == "" {
		remoteCommit, err = c.git.RemoteDefaultCommit(ctx, remote.URL)
		if err != nil {
			return c.unavailable(res, "remote query failed", err)
		}
		ref = "HEAD"
		res.Branch = ""
	}
	res.RemoteCommit = remoteCommit

	if local == remoteCommit {
		res.Status = StatusNoUpdate
		res.Reason = "up to date"
		return res
	}

	if err := c.git.Fetch(ctx, dir, remote.URL, ref); err != nil {
		return c.unavailable(res, "fetch failed", err)
	}
	behind, err := c.git.IsAncestor(ctx, dir, local, remoteCommit)
	if err != nil {
		return c.unavailable(res, "ancestry check failed", err)
	}
	if behind {
		res.Status = StatusUpdateAvailable
		res.Reason = "local is behind remote"
		return res
	}
	ahead, err := c.git.IsAncestor(ctx, dir, remoteCommit, local)
	if err != nil {
		return c.unavailable(res, "ancestry check failed", err)
	}
	if ahead {
		res.Status = StatusNoUpdate
		res.Reason = "local is ahead of remote"
		return res
	}
	res.Status = StatusUpdateAvailable
	res.Reason = "local and remote have diverged"
	return res
}

func (c *Checker) unavailable(res Result, reason string, err error) Result {
	res.Status = StatusUnavailable
	res.Reason = reason
	if err != nil {
		res.Reason = reason + ": " + err.Error()
	}
	c.logger.Warn("update check unavailable", "skill", res.SkillID, "reason", res.Reason)
	return res
}
