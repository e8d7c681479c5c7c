package signature_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/subsync/subsync/internal/git"
	"github.com/subsync/subsync/internal/signature"
)

func TestComputeIgnoresHash(t *testing.T) {
	a := git.Commit{
		Hash:       "aaaa",
		AuthorDate: "2024-03-01T10:00:00+01:00",
		Subject:    "add parser",
		Body:       "long explanation",
		Shortstat:  "2 files changed, 3 insertions(+)",
	}
	b := a
	b.Hash = "bbbb"

	assert.Equal(t, signature.Compute(a), signature.Compute(b))
}

func TestComputeFieldSensitivity(t *testing.T) {
	base := git.Commit{
		AuthorDate: "2024-03-01T10:00:00+01:00",
		Subject:    "add parser",
		Body:       "body",
		Shortstat:  "1 file changed, 1 insertion(+)",
	}

	tests := []struct {
		name   string
		mutate func(*git.Commit)
	}{
		{"subject", func(c *git.Commit) { c.Subject = "add lexer" }},
		{"author date", func(c *git.Commit) { c.AuthorDate = "2024-03-01T10:00:01+01:00" }},
		{"body", func(c *git.Commit) { c.Body = "other body" }},
		{"shortstat", func(c *git.Commit) { c.Shortstat = "2 files changed, 1 insertion(+)" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := base
			tt.mutate(&changed)
			assert.NotEqual(t, signature.Compute(base), signature.Compute(changed))
		})
	}
}

func TestNormalizeBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "one line", "one line"},
		{"newlines to spaces", "line one\nline two", "line one line two"},
		{"crlf", "line one\r\nline two", "line one line two"},
		{"bare cr", "line one\rline two", "line one line two"},
		{"trailing newline trimmed", "line one\n", "line one"},
		{"empty", "", ""},
		{"only whitespace", "\n\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, signature.NormalizeBody(tt.in))
		})
	}
}

func TestComputeNewlineStyleInvariance(t *testing.T) {
	unix := git.Commit{Subject: "s", AuthorDate: "d", Body: "a\nb", Shortstat: "st"}
	windows := git.Commit{Subject: "s", AuthorDate: "d", Body: "a\r\nb", Shortstat: "st"}
	assert.Equal(t, signature.Compute(unix), signature.Compute(windows))
}

func indexedCommits() []git.Commit {
	// Newest first, the way a mirror log returns them.
	return []git.Commit{
		{Hash: "m3", Subject: "update docs", AuthorDate: "2024-03-03T09:00:00Z", Shortstat: "1 file changed, 2 insertions(+)"},
		{Hash: "m2b", Subject: "routine sync", AuthorDate: "2024-03-02T09:00:00Z", Shortstat: "1 file changed, 1 insertion(+)"},
		{Hash: "m2a", Subject: "routine sync", AuthorDate: "2024-03-02T09:00:00Z", Shortstat: "1 file changed, 1 insertion(+)"},
		{Hash: "m1", Subject: "initial import", AuthorDate: "2024-03-01T09:00:00Z", Shortstat: "10 files changed, 100 insertions(+)"},
	}
}

func TestIndexLookup(t *testing.T) {
	ix := signature.NewIndex(indexedCommits())
	assert.Equal(t, 4, ix.Len())

	// Unique match.
	matches := ix.Matches(git.Commit{
		Hash:       "candidate",
		Subject:    "update docs",
		AuthorDate: "2024-03-03T09:00:00Z",
		Shortstat:  "1 file changed, 2 insertions(+)",
	})
	assert.Len(t, matches, 1)
	assert.Equal(t, "m3", matches[0].Hash)

	// Ambiguous match preserves newest-first order.
	matches = ix.Matches(git.Commit{
		Subject:    "routine sync",
		AuthorDate: "2024-03-02T09:00:00Z",
		Shortstat:  "1 file changed, 1 insertion(+)",
	})
	assert.Len(t, matches, 2)
	assert.Equal(t, "m2b", matches[0].Hash)
	assert.Equal(t, "m2a", matches[1].Hash)

	// No match.
	matches = ix.Matches(git.Commit{Subject: "never seen"})
	assert.Nil(t, matches)
}

func TestIndexEmpty(t *testing.T) {
	ix := signature.NewIndex(nil)
	assert.Equal(t, 0, ix.Len())
	assert.Nil(t, ix.Lookup(signature.Compute(git.Commit{Subject: "x"})))
}
