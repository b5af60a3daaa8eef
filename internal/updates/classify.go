package updates

import (
	"net/url"
	"slices"
	"strings"
)

// Remote is a git remote a manifest source was recognized as.
type Remote struct {
	// URL is the fetchable form of the source.
	URL   string `json:"url"`
	Host  string `json:"host"`
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// Classify recognizes https, ssh://git@ and scp-style git@host: locators,
// optionally prefixed with git+, whose host is in allowedHosts.
func Classify(source string, allowedHosts []string) (Remote, bool) {
	source = strings.TrimSpace(source)
	source = strings.TrimPrefix(source, "git+")
	if source == "" {
		return Remote{}, false
	}

	var host, path string
	switch {
	case strings.HasPrefix(source, "https://"), strings.HasPrefix(source, "ssh://"):
		u, err := url.Parse(source)
		if err != nil || u.Host == "" || u.RawQuery != "" || u.Fragment != "" {
			return Remote{}, false
		}
		if u.Scheme == "ssh" && (u.User == nil || u.User.Username() != "git") {
			return Remote{}, false
		}
		if u.Scheme == "https" && u.User != nil {
			return Remote{}, false
		}
		host, path = u.Hostname(), u.Path
	case strings.HasPrefix(source, "git@"):
		rest := strings.TrimPrefix(source, "git@")
		h, p, ok := strings.Cut(rest, ":")
		if !ok || strings.Contains(h, "/") {
			return Remote{}, false
		}
		host, path = h, p
	default:
		return Remote{}, false
	}

	host = strings.ToLower(host)
	if !slices.Contains(allowedHosts, host) {
		return Remote{}, false
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 {
		return Remote{}, false
	}
	for _, s := range segments {
		if s == "" || s == "." || s == ".." {
			return Remote{}, false
		}
	}
	repo := strings.TrimSuffix(segments[len(segments)-1], ".git")
	if repo == "" {
		return Remote{}, false
	}
	return Remote{
		URL:   source,
		Host:  host,
		Owner: strings.Join(segments[:len(segments)-1], "/"),
		Repo:  repo,
	}, true
}
