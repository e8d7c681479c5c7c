// Package git drives the external git binary. Every operation subsync
// performs against a repository goes through a Repo bound to one working
// tree; nothing in this package keeps state beyond the directory path,
// so a Repo is safe to rebind to worktrees as they come and go.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Repo is a handle on one git working tree.
type Repo struct {
	// Dir is the working tree root. Every command runs with -C Dir so the
	// process working directory never matters.
	Dir string
}

// Open validates that dir is inside a git working tree and returns a handle.
func Open(ctx context.Context, dir string) (*Repo, error) {
	r := &Repo{Dir: dir}
	out, err := r.output(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return nil, fmt.Errorf("%s is not a git repository: %w", dir, err)
	}
	if out != "true" {
		return nil, fmt.Errorf("%s is not a git working tree", dir)
	}
	return r, nil
}

// At returns a handle on dir without validating it. Use Open for
// directories that come from user input; At fits worktrees and test
// fixtures whose existence the caller just arranged.
func At(dir string) *Repo {
	return &Repo{Dir: dir}
}

// output runs a git query and returns trimmed stdout.
func (r *Repo) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.Dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", wrapGitErr(args, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// outputRaw runs a git query and returns stdout unmodified. Blob content
// must not be trimmed.
func (r *Repo) outputRaw(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.Dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return nil, wrapGitErr(args, err)
	}
	return out, nil
}

// run executes a mutating git command, capturing combined output for error
// reporting.
func (r *Repo) run(ctx context.Context, args ...string) error {
	_, err := r.runOut(ctx, args...)
	return err
}

// runOut is run with the combined output returned for callers that need it.
func (r *Repo) runOut(ctx context.Context, args ...string) (string, error) {
	return r.runEnv(ctx, nil, args...)
}

// runEnv is runOut with extra environment variables appended for the child
// process. Used by filter-branch, whose filters read configuration from the
// environment.
func (r *Repo) runEnv(ctx context.Context, extraEnv []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.Dir}, args...)...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w\n%s", subcommand(args), err, output)
	}
	return string(output), nil
}

// subcommand names the git verb in an argument list, skipping any leading
// -c key=value configuration pairs.
func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return "git"
}

// check runs a git command and reports only whether it succeeded.
func (r *Repo) check(ctx context.Context, args ...string) bool {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", r.Dir}, args...)...)
	return cmd.Run() == nil
}

// IsClean reports whether the working tree has no uncommitted changes to
// tracked files. Untracked files do not count.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.output(ctx, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// wrapGitErr folds captured stderr into the error when exec gives us one.
func wrapGitErr(args []string, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("git %s failed: %w\n%s", subcommand(args), err, exitErr.Stderr)
	}
	return fmt.Errorf("git %s failed: %w", subcommand(args), err)
}
