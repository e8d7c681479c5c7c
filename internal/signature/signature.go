// Package signature derives content identities for commits and maintains
// the lookup index used to recognize changes that already reached the
// mirror. The identity deliberately ignores the commit hash: hashes change
// whenever history is cherry-picked or rewritten, while subject, author
// date, body, and diff stat survive both.
package signature

import (
	"strings"

	"github.com/subsync/subsync/internal/git"
)

// Signature is the content identity of a commit. Two commits with equal
// signatures are treated as the same change until a human says otherwise;
// the identity is intentionally not unique, and ambiguity escalates to a
// decision rather than a guess.
type Signature string

// sep separates the signature fields. A unit separator cannot appear in
// subjects, ISO dates, or shortstats, and bodies are normalized to a
// single line before joining.
const sep = "\x1f"

// Compute derives a commit's signature from its subject, strict ISO-8601
// author date, newline-normalized body, and shortstat. The shortstat must
// come from a log restricted to the same file population on both sides of
// the projection, otherwise identical changes stop matching.
func Compute(c git.Commit) Signature {
	return Signature(strings.Join([]string{
		c.Subject,
		c.AuthorDate,
		NormalizeBody(c.Body),
		c.Shortstat,
	}, sep))
}

// NormalizeBody flattens a commit body to one line: carriage returns are
// folded into newlines, each newline becomes a single space, and the
// result is trimmed. Trailers and rewrapped paragraphs thus cannot split
// an identity.
func NormalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	body = strings.ReplaceAll(body, "\n", " ")
	return strings.TrimSpace(body)
}

// Index holds the signatures of recent mirror commits. It is built once
// per run and read-only afterwards.
type Index struct {
	commits []git.Commit
	bySig   map[Signature][]int
}

// NewIndex indexes commits in the order given, which for a mirror log is
// newest first. Lookup results preserve that order.
func NewIndex(commits []git.Commit) *Index {
	ix := &Index{
		commits: commits,
		bySig:   make(map[Signature][]int, len(commits)),
	}
	for i, c := range commits {
		sig := Compute(c)
		ix.bySig[sig] = append(ix.bySig[sig], i)
	}
	return ix
}

// Lookup returns the indexed commits matching a signature, newest first.
func (ix *Index) Lookup(sig Signature) []git.Commit {
	positions := ix.bySig[sig]
	if len(positions) == 0 {
		return nil
	}
	out := make([]git.Commit, len(positions))
	for i, pos := range positions {
		out[i] = ix.commits[pos]
	}
	return out
}

// Matches is Lookup applied to a candidate commit's computed signature.
func (ix *Index) Matches(c git.Commit) []git.Commit {
	return ix.Lookup(Compute(c))
}

// Len returns the number of indexed commits.
func (ix *Index) Len() int {
	return len(ix.commits)
}
