package git

import (
	"testing"
)

func TestParseLog(t *testing.T) {
	out := "\x1e" + "aaaa" + "\x1f" + "2024-03-01T10:00:00+01:00" + "\x1f" +
		"add parser" + "\x1f" + "first line\n\nthird line\n" + "\x1f" +
		"\n 2 files changed, 3 insertions(+)\n\n" +
		"\x1e" + "bbbb" + "\x1f" + "2024-03-02T11:30:00+01:00" + "\x1f" +
		"fix typo" + "\x1f" + "" + "\x1f" + "\n 1 file changed, 1 deletion(-)"

	commits, err := parseLog(out)
	if err != nil {
		t.Fatalf("parseLog: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("got %d commits, want 2", len(commits))
	}

	first := commits[0]
	if first.Hash != "aaaa" {
		t.Errorf("Hash = %q", first.Hash)
	}
	if first.AuthorDate != "2024-03-01T10:00:00+01:00" {
		t.Errorf("AuthorDate = %q", first.AuthorDate)
	}
	if first.Subject != "add parser" {
		t.Errorf("Subject = %q", first.Subject)
	}
	if first.Body != "first line\n\nthird line\n" {
		t.Errorf("Body = %q", first.Body)
	}
	if first.Shortstat != "2 files changed, 3 insertions(+)" {
		t.Errorf("Shortstat = %q", first.Shortstat)
	}

	second := commits[1]
	if second.Body != "" {
		t.Errorf("empty body parsed as %q", second.Body)
	}
	if second.Shortstat != "1 file changed, 1 deletion(-)" {
		t.Errorf("Shortstat = %q", second.Shortstat)
	}
}

func TestParseLogEmpty(t *testing.T) {
	commits, err := parseLog("")
	if err != nil {
		t.Fatalf("parseLog: %v", err)
	}
	if commits != nil {
		t.Errorf("expected nil, got %v", commits)
	}
}

func TestParseLogBodyWithBlankLines(t *testing.T) {
	// Bodies containing blank lines must not split records.
	body := "para one\n\npara two\n\n\npara three"
	out := "\x1e" + "cccc" + "\x1f" + "2024-01-01T00:00:00Z" + "\x1f" + "s" + "\x1f" + body + "\x1f"

	commits, err := parseLog(out)
	if err != nil {
		t.Fatalf("parseLog: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("got %d commits, want 1", len(commits))
	}
	if commits[0].Body != body {
		t.Errorf("Body = %q, want %q", commits[0].Body, body)
	}
	if commits[0].Shortstat != "" {
		t.Errorf("Shortstat = %q, want empty", commits[0].Shortstat)
	}
}

func TestParseLogMalformed(t *testing.T) {
	if _, err := parseLog("\x1eonly\x1ftwo fields"); err == nil {
		t.Errorf("expected error for record with missing fields")
	}
}
