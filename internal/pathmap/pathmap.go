// Package pathmap implements the path projection between a source tree and
// its mirror repository. A Mapper is built from an ordered rule list plus an
// exclusion set and answers every path question the sync pipeline has: which
// source paths are tracked, where a tracked path lands in the mirror, and
// which mirror paths are outside the projection entirely.
package pathmap

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StateDirName is the mirror-local directory holding subsync state
// (mapping file and checkpoints). It is always excluded from the
// projection and from verification.
const StateDirName = ".subsync"

// MappingFileName is the rule file inside StateDirName.
const MappingFileName = "config.yaml"

// Rule maps one source path to one mirror path. A directory rule applies to
// everything beneath it; a file rule matches exactly one path. Dest "" or "."
// projects onto the mirror root.
type Rule struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

// File is the on-disk shape of the mapping file.
type File struct {
	Rules   []Rule   `yaml:"rules"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// Mapper answers path-projection queries for one source/mirror pair.
// Rules are ordered: the first matching rule wins. A Mapper is immutable
// after construction.
type Mapper struct {
	rules   []Rule
	exclude []string
}

// MappingPath returns the mapping file location inside a mirror checkout.
func MappingPath(mirrorDir string) string {
	return filepath.Join(mirrorDir, StateDirName, MappingFileName)
}

// Load reads the mapping file from a mirror checkout.
func Load(mirrorDir string) (*Mapper, error) {
	return LoadFile(MappingPath(mirrorDir))
}

// LoadFile reads a mapping file from an explicit path. Used by the
// remap-index helper, which receives the file location via environment
// rather than a mirror checkout.
func LoadFile(p string) (*Mapper, error) {
	data, err := os.ReadFile(p) // #nosec G304 - controlled path from config
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing mapping file %s: %w", p, err)
	}

	m, err := New(f.Rules, f.Exclude)
	if err != nil {
		return nil, fmt.Errorf("mapping file %s: %w", p, err)
	}
	return m, nil
}

// New builds a Mapper from rules and exclusions, validating both.
func New(rules []Rule, exclude []string) (*Mapper, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("no mapping rules defined")
	}

	seen := make(map[string]bool, len(rules))
	normalized := make([]Rule, 0, len(rules))
	for i, r := range rules {
		src, err := normalizeRel(r.Source)
		if err != nil {
			return nil, fmt.Errorf("rule %d source %q: %w", i+1, r.Source, err)
		}
		if src == "" {
			return nil, fmt.Errorf("rule %d: source must name a path, not the repository root", i+1)
		}
		if seen[src] {
			return nil, fmt.Errorf("rule %d: duplicate source %q", i+1, src)
		}
		seen[src] = true

		dst, err := normalizeDest(r.Dest)
		if err != nil {
			return nil, fmt.Errorf("rule %d dest %q: %w", i+1, r.Dest, err)
		}
		if dst == StateDirName || strings.HasPrefix(dst, StateDirName+"/") {
			return nil, fmt.Errorf("rule %d: dest %q collides with the %s state directory", i+1, r.Dest, StateDirName)
		}
		normalized = append(normalized, Rule{Source: src, Dest: dst})
	}

	excl := make([]string, 0, len(exclude))
	for i, e := range exclude {
		p, err := normalizeRel(e)
		if err != nil {
			return nil, fmt.Errorf("exclusion %d %q: %w", i+1, e, err)
		}
		if p == "" {
			return nil, fmt.Errorf("exclusion %d: cannot exclude the mirror root", i+1)
		}
		excl = append(excl, p)
	}

	return &Mapper{rules: normalized, exclude: excl}, nil
}

// Map projects a source-relative path into the mirror. The second return is
// false when the path is untracked or when the projection lands on an
// excluded mirror path.
func (m *Mapper) Map(sourcePath string) (string, bool) {
	p, err := normalizeRel(sourcePath)
	if err != nil || p == "" {
		return "", false
	}

	for _, r := range m.rules {
		var mapped string
		switch {
		case p == r.Source:
			mapped = r.Dest
		case strings.HasPrefix(p, r.Source+"/"):
			mapped = path.Join(r.Dest, p[len(r.Source)+1:])
		default:
			continue
		}
		if mapped == "" || m.Excluded(mapped) {
			return "", false
		}
		return mapped, true
	}
	return "", false
}

// Tracked reports whether a source-relative path projects into the mirror.
func (m *Mapper) Tracked(sourcePath string) bool {
	_, ok := m.Map(sourcePath)
	return ok
}

// Excluded reports whether a mirror-relative path is outside the projection:
// under the state directory or matched by an exclusion entry.
func (m *Mapper) Excluded(mirrorPath string) bool {
	p, err := normalizeRel(mirrorPath)
	if err != nil || p == "" {
		return false
	}
	if p == StateDirName || strings.HasPrefix(p, StateDirName+"/") {
		return true
	}
	for _, e := range m.exclude {
		if p == e || strings.HasPrefix(p, e+"/") {
			return true
		}
	}
	return false
}

// SourcePaths returns the rule sources in order, for use as a git pathspec
// restricting source-side operations to the tracked subtree.
func (m *Mapper) SourcePaths() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.Source
	}
	return out
}

// MirrorPathspecs returns a pathspec covering everything in the mirror except
// the exclusion set and the state directory. Restricting mirror-side logs to
// this pathspec keeps mirror shortstats comparable with source-side ones.
func (m *Mapper) MirrorPathspecs() []string {
	out := make([]string, 0, len(m.exclude)+2)
	out = append(out, ".")
	out = append(out, ":(exclude)"+StateDirName)
	for _, e := range m.exclude {
		out = append(out, ":(exclude)"+e)
	}
	return out
}

// Exclusions returns the normalized exclusion entries (state directory not
// included; it is implicit).
func (m *Mapper) Exclusions() []string {
	out := make([]string, len(m.exclude))
	copy(out, m.exclude)
	return out
}

// normalizeRel cleans a slash-separated repository-relative path and rejects
// anything that escapes the repository.
func normalizeRel(p string) (string, error) {
	p = strings.TrimSpace(p)
	if strings.Contains(p, "\\") {
		return "", fmt.Errorf("backslashes not allowed; git paths use forward slashes")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute paths not allowed")
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path escapes the repository")
	}
	return cleaned, nil
}

// normalizeDest is normalizeRel with "" and "." meaning the mirror root.
func normalizeDest(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", nil
	}
	return normalizeRel(p)
}
