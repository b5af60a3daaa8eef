package manifest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillMarkdownFile is the agent-native skill description some skills ship
// instead of a manifest.
const SkillMarkdownFile = "SKILL.md"

// DefaultVersion is assigned to skills whose description carries no version.
const DefaultVersion = "0.0.0"

var nonIDChars = regexp.MustCompile(`[^a-z0-9_-]+`)

type skillFrontMatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version"`
	Tags        []string `yaml:"tags"`
	Metadata    struct {
		Version string `yaml:"version"`
	} `yaml:"metadata"`
}

// FromSkillMarkdown derives a manifest from the YAML front matter of a
// SKILL.md document. dir names the skill when the front matter does not.
func FromSkillMarkdown(data []byte, dir string) (Manifest, error) {
	var fm skillFrontMatter
	if block, ok := frontMatter(data); ok {
		if err := yaml.Unmarshal(block, &fm); err != nil {
			return Manifest{}, invalid(fmt.Errorf("SKILL.md front matter: %w", err))
		}
	}
	name := strings.TrimSpace(fm.Name)
	if name == "" {
		name = filepath.Base(filepath.Clean(dir))
	}
	version := fm.Version
	if version == "" {
		version = fm.Metadata.Version
	}
	if version == "" {
		version = DefaultVersion
	}
	m := Manifest{
		ID:      NormalizeID(name),
		Name:    name,
		Version: version,
		Summary: strings.TrimSpace(fm.Description),
		Tags:    fm.Tags,
	}.Normalize()
	if err := Validate(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// NormalizeID lowercases name and collapses everything outside the id
// alphabet into dashes.
func NormalizeID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = nonIDChars.ReplaceAllString(id, "-")
	return strings.Trim(id, "-_")
}

func frontMatter(data []byte) ([]byte, bool) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(data, []byte("---")) {
		return nil, false
	}
	rest := data[3:]
	nl := bytes.IndexByte(rest, '\n')
	if nl < 0 || strings.TrimSpace(string(rest[:nl])) != "" {
		return nil, false
	}
	rest = rest[nl+1:]
	for off := 0; off < len(rest); {
		end := bytes.IndexByte(rest[off:], '\n')
		line := rest[off:]
		if end >= 0 {
			line = rest[off : off+end]
		}
		if strings.TrimSpace(string(line)) == "---" {
			return rest[:off], true
		}
		if end < 0 {
			break
		}
		off += end + 1
	}
	return nil, false
}
