package updates

import (
	"context"
	"errors"
	"testing"

	"skillhub/internal/manifest"
	"skillhub/internal/store"
)

// fakeGit models a local checkout and a remote as commit ids plus an
// ancestry relation.
type fakeGit struct {
	head        string
	branch      string
	remote      map[string]string // branch -> commit
	defaultHead string
	ancestors   map[[2]string]bool
	headErr     error
	remoteErr   error
	fetched     []string
	headDir     string
}

func (f *fakeGit) HeadCommit(_ context.Context, dir string) (string, error) {
	f.headDir = dir
	return f.head, f.headErr
}

func (f *fakeGit) CurrentBranch(context.Context, string) (string, error) {
	return f.branch, nil
}

func (f *fakeGit) RemoteBranchCommit(_ context.Context, _, branch string) (string, error) {
	return f.remote[branch], f.remoteErr
}

func (f *fakeGit) RemoteDefaultCommit(context.Context, string) (string, error) {
	return f.defaultHead, f.remoteErr
}

func (f *fakeGit) Fetch(_ context.Context, _, _, ref string) error {
	f.fetched = append(f.fetched, ref)
	return nil
}

func (f *fakeGit) IsAncestor(_ context.Context, _, a, d string) (bool, error) {
	return f.ancestors[[2]string{a, d}], nil
}

func record(id, source string, deployed ...string) store.Record {
	return store.Record{
		Manifest:         manifest.Manifest{ID: id, Name: id, Version: "1.0.0"},
		ManifestPath:     "/cache/" + id + "/skill.json",
		ManifestSource:   source,
		DeployedProducts: deployed,
	}
}

const src = "https://github.com/acme/skills.git"

func TestCheckEqualCommitsNoUpdate(t *testing.T) {
	g := &fakeGit{head: "aaa", branch: "main", remote: map[string]string{"main": "aaa"}}
	res := NewChecker(g).Check(context.Background(), record("s", src, "demo"))
	if res.Status != StatusNoUpdate || res.HasUpdate() {
		t.Fatalf("expected no update, got %+v", res)
	}
	if len(g.fetched) != 0 {
		t.Fatalf("equal commits must not fetch, got %v", g.fetched)
	}
}

func TestCheckBehindAheadDiverged(t *testing.T) {
	cases := []struct {
		name      string
		ancestors map[[2]string]bool
		want      Status
	}{
		{"behind", map[[2]string]bool{{"loc", "rem"}: true}, StatusUpdateAvailable},
		{"ahead", map[[2]string]bool{{"rem", "loc"}: true}, StatusNoUpdate},
		{"diverged", map[[2]string]bool{}, StatusUpdateAvailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &fakeGit{head: "loc", branch: "main", remote: map[string]string{"main": "rem"}, ancestors: tc.ancestors}
			res := NewChecker(g).Check(context.Background(), record("s", src, "demo"))
			if res.Status != tc.want {
				t.Fatalf("expected %s, got %+v", tc.want, res)
			}
			if len(g.fetched) != 1 || g.fetched[0] != "refs/heads/main" {
				t.Fatalf("expected branch fetch before ancestry, got %v", g.fetched)
			}
		})
	}
}

func TestCheckDetachedFallsBackToDefaultBranch(t *testing.T) {
	g := &fakeGit{head: "loc", branch: "", defaultHead: "rem", ancestors: map[[2]string]bool{{"loc", "rem"}: true}}
	res := NewChecker(g).Check(context.Background(), record("s", src, "demo"))
	if res.Status != StatusUpdateAvailable || res.RemoteCommit != "rem" {
		t.Fatalf("expected update against default branch, got %+v", res)
	}
	if g.fetched[0] != "HEAD" {
		t.Fatalf("expected HEAD fetch, got %v", g.fetched)
	}
}

func TestCheckMissingRemoteBranchFallsBack(t *testing.T) {
	g := &fakeGit{head: "same", branch: "feature", remote: map[string]string{}, defaultHead: "same"}
	res := NewChecker(g).Check(context.Background(), record("s", src, "demo"))
	if res.Status != StatusNoUpdate || res.Branch != "" {
		t.Fatalf("expected fallback to default branch, got %+v", res)
	}
}

func TestCheckUnavailable(t *testing.T) {
	noRepo := &fakeGit{headErr: errors.New("not a git repository")}
	if res := NewChecker(noRepo).Check(context.Background(), record("s", src, "demo")); res.Status != StatusUnavailable {
		t.Fatalf("expected unavailable without repo metadata, got %+v", res)
	}
	offline := &fakeGit{head: "a", branch: "main", remoteErr: errors.New("network down")}
	if res := NewChecker(offline).Check(context.Background(), record("s", src, "demo")); res.Status != StatusUnavailable {
		t.Fatalf("expected unavailable when remote fails, got %+v", res)
	}
}

func TestCheckComparesStagedCommitNotCheckoutHead(t *testing.T) {
	g := &fakeGit{
		head: "new", branch: "main", remote: map[string]string{"main": "new"},
		ancestors: map[[2]string]bool{{"old", "new"}: true},
	}
	rec := record("s", src, "demo")
	rec.ManifestPath = "/root/.skillhub/skills/s/skill.json"
	rec.SourceRepo, rec.SourceCommit = "/cache/git/abc", "old"
	res := NewChecker(g).Check(context.Background(), rec)
	if res.Status != StatusUpdateAvailable || res.LocalCommit != "old" {
		t.Fatalf("expected staged commit behind remote, got %+v", res)
	}
	if g.headDir != "/cache/git/abc" {
		t.Fatalf("expected the source checkout to be inspected, got %q", g.headDir)
	}
}

func TestCheckNonRemoteSourceIsNoUpdate(t *testing.T) {
	g := &fakeGit{headErr: errors.New("must not be called")}
	for _, source := range []string{"/home/me/skills/hello", "https://example.com/skill.zip", ""} {
		res := NewChecker(g).Check(context.Background(), record("s", source, "demo"))
		if res.Status != StatusNoUpdate {
			t.Fatalf("expected no update for %q, got %+v", source, res)
		}
	}
}

func TestCheckAllSkipsUndeployedAndContinues(t *testing.T) {
	g := &fakeGit{head: "a", branch: "main", remote: map[string]string{"main": "a"}}
	recs := []store.Record{
		record("idle", src),
		record("local", "/tmp/local", "demo"),
		record("git", src, "demo"),
	}
	results := NewChecker(g).CheckAll(context.Background(), recs)
	if len(results) != 2 {
		t.Fatalf("expected undeployed record skipped, got %+v", results)
	}
	if results[0].SkillID != "local" || results[1].SkillID != "git" {
		t.Fatalf("unexpected result order %+v", results)
	}
}

func TestClassify(t *testing.T) {
	accepted := map[string]Remote{
		"https://github.com/acme/skills.git":      {Host: "github.com", Owner: "acme", Repo: "skills"},
		"https://GitLab.com/group/sub/repo":       {Host: "gitlab.com", Owner: "group/sub", Repo: "repo"},
		"git+https://codeberg.org/acme/skills":    {Host: "codeberg.org", Owner: "acme", Repo: "skills"},
		"ssh://git@bitbucket.org/acme/skills.git": {Host: "bitbucket.org", Owner: "acme", Repo: "skills"},
		"git@github.com:acme/skills.git":          {Host: "github.com", Owner: "acme", Repo: "skills"},
	}
	for in, want := range accepted {
		got, ok := Classify(in, DefaultAllowedHosts)
		if !ok {
			t.Fatalf("expected %q to classify", in)
		}
		if got.Host != want.Host || got.Owner != want.Owner || got.Repo != want.Repo {
			t.Fatalf("Classify(%q) = %+v, want %+v", in, got, want)
		}
	}
	rejected := []string{
		"",
		"/local/path",
		"http://github.com/acme/skills",
		"https://example.com/acme/skills",
		"https://github.com/acme",
		"ssh://root@github.com/acme/skills",
		"git@example.com:acme/skills",
		"https://github.com/acme/skills?ref=main",
	}
	for _, in := range rejected {
		if _, ok := Classify(in, DefaultAllowedHosts); ok {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
	if _, ok := Classify("https://git.corp.local/a/b", []string{"git.corp.local"}); !ok {
		t.Fatalf("expected custom allow-list to apply")
	}
}
