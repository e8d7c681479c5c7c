package pathmap

import (
	"bytes"
	"strings"
	"testing"
)

func TestRewriteIndexEntries(t *testing.T) {
	m := testMapper(t)

	in := strings.Join([]string{
		"100644 aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa 0\tlib/core/engine/run.go",
		"100755 bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb 0\ttools/run.sh",
		"100644 cccccccccccccccccccccccccccccccccccccccc 0\tvendor/dep/dep.go",
		"100644 dddddddddddddddddddddddddddddddddddddddd 0\tlib/core/generated/api.go",
		"120000 eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee 0\tdocs/link",
	}, "\x00") + "\x00"

	var out bytes.Buffer
	if err := m.RewriteIndexEntries(strings.NewReader(in), &out, StagingRoot); err != nil {
		t.Fatalf("RewriteIndexEntries: %v", err)
	}

	got := strings.Split(strings.TrimSuffix(out.String(), "\x00"), "\x00")
	want := []string{
		"100644 aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa 0\t__mirror__/core/engine/run.go",
		"100755 bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb 0\t__mirror__/bin/run.sh",
		"120000 eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee 0\t__mirror__/link",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRewriteIndexEntriesEmptyInput(t *testing.T) {
	m := testMapper(t)
	var out bytes.Buffer
	if err := m.RewriteIndexEntries(strings.NewReader(""), &out, StagingRoot); err != nil {
		t.Fatalf("RewriteIndexEntries: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got %q", out.String())
	}
}

func TestRewriteIndexEntriesMalformed(t *testing.T) {
	m := testMapper(t)
	var out bytes.Buffer
	in := "100644 aaaa 0 no-tab-here\x00"
	if err := m.RewriteIndexEntries(strings.NewReader(in), &out, StagingRoot); err == nil {
		t.Errorf("expected error for entry without tab separator")
	}
}
