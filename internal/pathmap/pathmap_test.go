package pathmap

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testMapper(t *testing.T) *Mapper {
	t.Helper()
	m, err := New([]Rule{
		{Source: "lib/core", Dest: "core"},
		{Source: "lib/core/legacy", Dest: "attic/legacy"},
		{Source: "tools/run.sh", Dest: "bin/run.sh"},
		{Source: "docs", Dest: ""},
	}, []string{"core/generated"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestMap(t *testing.T) {
	m := testMapper(t)

	tests := []struct {
		name   string
		source string
		want   string
		wantOK bool
	}{
		{
			name:   "directory rule applies recursively",
			source: "lib/core/engine/run.go",
			want:   "core/engine/run.go",
			wantOK: true,
		},
		{
			name:   "first matching rule wins",
			source: "lib/core/legacy/old.go",
			want:   "core/legacy/old.go",
			wantOK: true,
		},
		{
			name:   "file rule matches exactly",
			source: "tools/run.sh",
			want:   "bin/run.sh",
			wantOK: true,
		},
		{
			name:   "file rule does not match siblings",
			source: "tools/other.sh",
			wantOK: false,
		},
		{
			name:   "dest root drops the prefix",
			source: "docs/README.md",
			want:   "README.md",
			wantOK: true,
		},
		{
			name:   "untracked path",
			source: "vendor/dep/dep.go",
			wantOK: false,
		},
		{
			name:   "projection onto excluded path is dropped",
			source: "lib/core/generated/api.go",
			wantOK: false,
		},
		{
			name:   "prefix match respects path boundaries",
			source: "lib/corelib/x.go",
			wantOK: false,
		},
		{
			name:   "unclean input is normalized",
			source: "./lib/core//engine/run.go",
			want:   "core/engine/run.go",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Map(tt.source)
			if ok != tt.wantOK {
				t.Fatalf("Map(%q) ok = %v, want %v", tt.source, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Map(%q) = %q, want %q", tt.source, got, tt.want)
			}
		})
	}
}

func TestExcluded(t *testing.T) {
	m := testMapper(t)

	tests := []struct {
		path string
		want bool
	}{
		{".subsync/checkpoint.primary", true},
		{".subsync", true},
		{"core/generated/api.go", true},
		{"core/generated", true},
		{"core/generated-docs/x.md", false},
		{"core/engine/run.go", false},
		{"README.md", false},
	}

	for _, tt := range tests {
		if got := m.Excluded(tt.path); got != tt.want {
			t.Errorf("Excluded(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		rules   []Rule
		exclude []string
	}{
		{
			name: "no rules",
		},
		{
			name: "duplicate source",
			rules: []Rule{
				{Source: "lib", Dest: "a"},
				{Source: "lib", Dest: "b"},
			},
		},
		{
			name:  "absolute source",
			rules: []Rule{{Source: "/lib", Dest: "lib"}},
		},
		{
			name:  "source escapes repository",
			rules: []Rule{{Source: "../lib", Dest: "lib"}},
		},
		{
			name:  "root source",
			rules: []Rule{{Source: ".", Dest: "all"}},
		},
		{
			name:  "dest collides with state directory",
			rules: []Rule{{Source: "lib", Dest: ".subsync/data"}},
		},
		{
			name:    "root exclusion",
			rules:   []Rule{{Source: "lib", Dest: "lib"}},
			exclude: []string{"."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.rules, tt.exclude); err == nil {
				t.Errorf("New accepted invalid input")
			}
		})
	}
}

func TestSourcePaths(t *testing.T) {
	m := testMapper(t)
	want := []string{"lib/core", "lib/core/legacy", "tools/run.sh", "docs"}
	if got := m.SourcePaths(); !reflect.DeepEqual(got, want) {
		t.Errorf("SourcePaths() = %v, want %v", got, want)
	}
}

func TestMirrorPathspecs(t *testing.T) {
	m := testMapper(t)
	want := []string{".", ":(exclude).subsync", ":(exclude)core/generated"}
	if got := m.MirrorPathspecs(); !reflect.DeepEqual(got, want) {
		t.Errorf("MirrorPathspecs() = %v, want %v", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	content := `rules:
  - source: lib/core
    dest: core
  - source: docs
    dest: .
exclude:
  - core/generated
`
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if got, ok := m.Map("lib/core/a.go"); !ok || got != "core/a.go" {
		t.Errorf("Map(lib/core/a.go) = %q, %v", got, ok)
	}
	if got, ok := m.Map("docs/guide.md"); !ok || got != "guide.md" {
		t.Errorf("Map(docs/guide.md) = %q, %v", got, ok)
	}
	if !m.Excluded("core/generated/x.go") {
		t.Errorf("exclusion not loaded")
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("rules: [not a rule"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Errorf("expected error for malformed yaml")
	}
}
