package security

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"
)

func builtinRules() []Rule {
	return []Rule{patternRule{}, binaryRule{}, sizeRule{}}
}

type pattern struct {
	re       *regexp.Regexp
	severity Severity
	detail   string
}

var dangerousPatterns = []pattern{
	{regexp.MustCompile(`rm\s+-rf\s+(/|~/|\$HOME)(\s|$)`), SeverityCritical, "recursive deletion of a root or home directory"},
	{regexp.MustCompile(`(curl|wget)\s+[^|]*\|\s*(ba|z)?sh\b`), SeverityCritical, "remote script piped into a shell"},
	{regexp.MustCompile(`base64\s+(-d|--decode)[^|]*\|\s*(ba|z)?sh\b`), SeverityCritical, "decoded payload piped into a shell"},
	{regexp.MustCompile(`/etc/(shadow|passwd)\b`), SeverityCritical, "reads system account files"},
	{regexp.MustCompile(`\bnc\b.*\s-e\s+/bin/|mkfifo\b.*\bnc\b`), SeverityCritical, "reverse shell"},
	{regexp.MustCompile(`(~|\$HOME)/\.ssh/id_[a-z0-9]+`), SeverityCritical, "touches ssh private keys"},
	{regexp.MustCompile(`stratum\+tcp://|\bxmrig\b`), SeverityCritical, "crypto miner"},

	{regexp.MustCompile(`\b(subprocess\.(run|Popen|call)|child_process\.exec|os\.system)\b`), SeverityHigh, "spawns processes"},
	{regexp.MustCompile(`(curl\s+.*(-d|--data)\s|wget\s+--post-(data|file))`), SeverityHigh, "posts local data to a remote host"},
	{regexp.MustCompile(`\b(credentials\.json|secrets\.ya?ml|\.aws/credentials)\b`), SeverityHigh, "references credential files"},
	{regexp.MustCompile(`git\s+config\s+--global`), SeverityHigh, "rewrites global git config"},

	{regexp.MustCompile(`\bsudo\s`), SeverityMedium, "runs commands as root"},
	{regexp.MustCompile(`\b(pip|npm|gem)\s+install\b`), SeverityMedium, "installs packages"},
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`), SeverityMedium, "prompt injection phrase"},
}

// patternRule matches dangerous command lines in text files. Each pattern
// reports at most once per file.
type patternRule struct{}

func (patternRule) ID() string { return "SCAN_DANGEROUS_PATTERN" }

func (r patternRule) Check(p Payload) []Finding {
	var out []Finding
	for _, name := range p.paths() {
		data := p.Files[name]
		if isBinary(data) {
			continue
		}
		lines := strings.Split(string(data), "\n")
		for _, pat := range dangerousPatterns {
			for i, line := range lines {
				if pat.re.MatchString(line) {
					out = append(out, Finding{Rule: r.ID(), Severity: pat.severity, File: name, Line: i + 1, Detail: pat.detail})
					break
				}
			}
		}
	}
	return out
}

var executableMagic = []struct {
	prefix []byte
	kind   string
}{
	{[]byte("\x7fELF"), "ELF executable"},
	{[]byte{0xcf, 0xfa, 0xed, 0xfe}, "Mach-O executable"},
	{[]byte{0xce, 0xfa, 0xed, 0xfe}, "Mach-O executable"},
	{[]byte("MZ"), "Windows executable"},
}

var libraryExts = map[string]bool{".so": true, ".dylib": true, ".dll": true}

// binaryRule flags compiled executables and libraries. Skills are expected
// to ship text.
type binaryRule struct{}

func (binaryRule) ID() string { return "SCAN_BINARY" }

func (r binaryRule) Check(p Payload) []Finding {
	var out []Finding
	for _, name := range p.paths() {
		data := p.Files[name]
		if kind := magicKind(data); kind != "" {
			out = append(out, Finding{Rule: r.ID(), Severity: SeverityHigh, File: name, Detail: kind})
			continue
		}
		if libraryExts[strings.ToLower(path.Ext(name))] {
			out = append(out, Finding{Rule: r.ID(), Severity: SeverityHigh, File: name, Detail: "shared library"})
		}
	}
	return out
}

func magicKind(data []byte) string {
	for _, m := range executableMagic {
		if bytes.HasPrefix(data, m.prefix) {
			return m.kind
		}
	}
	return ""
}

func isBinary(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}

const (
	maxFileSize  = 512 << 10
	maxTotalSize = 8 << 20
	maxFileCount = 200
)

// sizeRule flags payloads much larger than a skill normally is.
type sizeRule struct{}

func (sizeRule) ID() string { return "SCAN_SIZE" }

func (r sizeRule) Check(p Payload) []Finding {
	var out []Finding
	total := 0
	for _, name := range p.paths() {
		data := p.Files[name]
		total += len(data)
		if len(data) > maxFileSize {
			out = append(out, Finding{Rule: r.ID(), Severity: SeverityLow, File: name,
				Detail: fmt.Sprintf("large file (%d bytes)", len(data))})
		}
	}
	for _, name := range p.TooLarge {
		out = append(out, Finding{Rule: r.ID(), Severity: SeverityMedium, File: name, Detail: "file too large to scan"})
	}
	if total > maxTotalSize {
		out = append(out, Finding{Rule: r.ID(), Severity: SeverityMedium, Detail: fmt.Sprintf("payload is %d bytes", total)})
	}
	if n := len(p.Files) + len(p.TooLarge); n > maxFileCount {
		out = append(out, Finding{Rule: r.ID(), Severity: SeverityLow, Detail: fmt.Sprintf("payload has %d files", n)})
	}
	return out
}
