// Package git runs the git plumbing commands skillhub needs through the git
// binary on PATH.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExecFunc runs git with args in dir and returns its combined output.
type ExecFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

// DefaultExec shells out to git.
func DefaultExec(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, string(out))
	}
	return out, nil
}

type Client struct {
	exec ExecFunc
}

// New returns a Client backed by fn, or by DefaultExec when fn is nil.
func New(fn ExecFunc) *Client {
	if fn == nil {
		fn = DefaultExec
	}
	return &Client{exec: fn}
}

func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := c.exec(ctx, dir, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether dir is inside a git work tree.
func (c *Client) IsRepo(ctx context.Context, dir string) bool {
	out, err := c.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// HeadCommit returns the commit id HEAD points at in dir.
func (c *Client) HeadCommit(ctx context.Context, dir string) (string, error) {
	out, err := c.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", errors.New("git rev-parse HEAD: empty output")
	}
	return out, nil
}

// CurrentBranch returns the checked out branch name, or "" on a detached HEAD.
func (c *Client) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := c.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if out == "HEAD" {
		return "", nil
	}
	return out, nil
}

// RemoteBranchCommit returns the commit id of branch on the remote at url,
// or "" when the remote has no such branch.
func (c *Client) RemoteBranchCommit(ctx context.Context, url, branch string) (string, error) {
	out, err := c.run(ctx, "", "ls-remote", url, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	return firstCommit(out), nil
}

// RemoteDefaultCommit returns the commit id of the remote's HEAD.
func (c *Client) RemoteDefaultCommit(ctx context.Context, url string) (string, error) {
	out, err := c.run(ctx, "", "ls-remote", url, "HEAD")
	if err != nil {
		return "", err
	}
	commit := firstCommit(out)
	if commit == "" {
		return "", fmt.Errorf("git ls-remote %s: remote has no HEAD", url)
	}
	return commit, nil
}

// Fetch fetches ref from url into the repository at dir without touching
// any local branch.
func (c *Client) Fetch(ctx context.Context, dir, url, ref string) error {
	_, err := c.run(ctx, dir, "fetch", "--quiet", "--no-tags", url, ref)
	return err
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (c *Client) IsAncestor(ctx context.Context, dir, ancestor, descendant string) (bool, error) {
	_, err := c.run(ctx, dir, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) && ec.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// Clone clones url into dest with full history, checking out branch when it
// is non-empty. Ancestry checks need the history.
func (c *Client) Clone(ctx context.Context, url, dest, branch string) error {
	args := []string{"clone", "--quiet"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, dest)
	_, err := c.run(ctx, "", args...)
	return err
}

// Pull fast-forwards the checkout at dir to its upstream.
func (c *Client) Pull(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "pull", "--quiet", "--ff-only")
	return err
}

// firstCommit extracts the object id from the first line of ls-remote output.
func firstCommit(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
