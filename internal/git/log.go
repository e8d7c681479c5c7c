package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Commit is the metadata subsync tracks for one commit. Shortstat is the
// summary line of the diff restricted to the pathspec the log ran with,
// which is what makes source-side and mirror-side stats comparable.
type Commit struct {
	Hash       string
	AuthorDate string // strict ISO 8601, as printed by %aI
	Subject    string
	Body       string
	Shortstat  string // e.g. "2 files changed, 10 insertions(+)"
}

// logFormat frames each record with \x1e and separates fields with \x1f so
// bodies containing blank lines or diff-like text cannot break parsing.
// The shortstat git appends lands after the trailing \x1f.
const logFormat = "--pretty=format:%x1e%H%x1f%aI%x1f%s%x1f%b%x1f"

// LogRange returns the non-merge commits in (from, to] touching paths,
// oldest first in topological order. An empty from means the entire
// history reachable from to.
func (r *Repo) LogRange(ctx context.Context, from, to string, paths []string) ([]Commit, error) {
	args := []string{"log", "--topo-order", "--reverse", "--no-merges", "--shortstat", logFormat}
	if from != "" {
		args = append(args, from+".."+to)
	} else {
		args = append(args, to)
	}
	args = appendPathspec(args, paths)

	out, err := r.outputRaw(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseLog(string(out))
}

// LogRecent returns up to limit non-merge commits reachable from ref,
// newest first, restricted to paths.
func (r *Repo) LogRecent(ctx context.Context, ref string, limit int, paths []string) ([]Commit, error) {
	args := []string{"log", "-n", strconv.Itoa(limit), "--no-merges", "--shortstat", logFormat, ref}
	args = appendPathspec(args, paths)

	out, err := r.outputRaw(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseLog(string(out))
}

// ListMerges returns the merge commits in (from, to] that are not tree-same
// to any parent on paths, oldest first. These are the merges that carry
// changes of their own into the tracked subtree.
func (r *Repo) ListMerges(ctx context.Context, from, to string, paths []string) ([]string, error) {
	args := []string{"rev-list", "--merges", "--reverse", from + ".." + to}
	args = appendPathspec(args, paths)

	out, err := r.output(ctx, args...)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// DiffTreeCC returns the combined diff a merge commit introduces against
// all of its parents, restricted to paths. Empty output means every hunk
// came cleanly from one side.
func (r *Repo) DiffTreeCC(ctx context.Context, merge string, paths []string) (string, error) {
	args := []string{"diff-tree", "--cc", "--no-commit-id", merge}
	args = appendPathspec(args, paths)
	out, err := r.outputRaw(ctx, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// CountRange returns the number of commits in (from, to].
func (r *Repo) CountRange(ctx context.Context, from, to string) (int, error) {
	out, err := r.output(ctx, "rev-list", "--count", from+".."+to)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("unexpected rev-list --count output %q", out)
	}
	return n, nil
}

// Subject returns the first message line of rev.
func (r *Repo) Subject(ctx context.Context, rev string) (string, error) {
	return r.output(ctx, "show", "-s", "--format=%s", rev)
}

// RootCommit returns the single root of the history reachable from ref.
func (r *Repo) RootCommit(ctx context.Context, ref string) (string, error) {
	out, err := r.output(ctx, "rev-list", "--max-parents=0", ref)
	if err != nil {
		return "", err
	}
	roots := strings.Split(out, "\n")
	if len(roots) != 1 || roots[0] == "" {
		return "", fmt.Errorf("expected a single root below %s, found %d", ref, len(roots))
	}
	return roots[0], nil
}

func appendPathspec(args, paths []string) []string {
	if len(paths) == 0 {
		return args
	}
	args = append(args, "--")
	return append(args, paths...)
}

func parseLog(out string) ([]Commit, error) {
	var commits []Commit
	for _, rec := range strings.Split(out, "\x1e") {
		if strings.TrimSpace(rec) == "" {
			continue
		}
		fields := strings.SplitN(rec, "\x1f", 5)
		if len(fields) != 5 {
			return nil, fmt.Errorf("unparseable log record with %d fields: %.80q", len(fields), rec)
		}
		commits = append(commits, Commit{
			Hash:       fields[0],
			AuthorDate: fields[1],
			Subject:    fields[2],
			Body:       fields[3],
			Shortstat:  strings.TrimSpace(fields[4]),
		})
	}
	return commits, nil
}
