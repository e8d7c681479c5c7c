package git

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestFormatPatchAndAm(t *testing.T) {
	src := initRepo(t)
	dst := initRepo(t)
	ctx := context.Background()

	writeFile(t, src, "a.txt", "one\n")
	base := commitAll(t, src, "first")
	writeFile(t, src, "a.txt", "one\ntwo\n")
	commitAll(t, src, "second")
	writeFile(t, src, "b.txt", "three\n")
	commitAll(t, src, "third")

	srcRepo, err := Open(ctx, src)
	if err != nil {
		t.Fatal(err)
	}

	patchDir := t.TempDir()
	patches, err := srcRepo.FormatPatch(ctx, patchDir, base, "HEAD")
	if err != nil {
		t.Fatalf("FormatPatch: %v", err)
	}
	if len(patches) != 2 {
		t.Fatalf("got %d patches, want 2: %v", len(patches), patches)
	}
	if !strings.HasSuffix(patches[0], "0001-second.patch") {
		t.Errorf("patch name = %q", patches[0])
	}

	// Seed the destination with the same base content so -3 has context.
	writeFile(t, dst, "a.txt", "one\n")
	commitAll(t, dst, "mirror base")

	dstRepo, err := Open(ctx, dst)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range patches {
		if err := dstRepo.Am(ctx, p); err != nil {
			t.Fatalf("Am(%s): %v", filepath.Base(p), err)
		}
	}

	commits, err := dstRepo.LogRange(ctx, "", "HEAD", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 3 {
		t.Fatalf("got %d commits, want 3", len(commits))
	}
	if commits[1].Subject != "second" || commits[2].Subject != "third" {
		t.Errorf("subjects = %q, %q", commits[1].Subject, commits[2].Subject)
	}

	inProgress, err := dstRepo.AmInProgress(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if inProgress {
		t.Errorf("no am session should be open")
	}
}

func TestAmConflictAndAbort(t *testing.T) {
	src := initRepo(t)
	dst := initRepo(t)
	ctx := context.Background()

	writeFile(t, src, "a.txt", "one\n")
	base := commitAll(t, src, "first")
	writeFile(t, src, "a.txt", "upstream\n")
	commitAll(t, src, "upstream change")

	srcRepo, err := Open(ctx, src)
	if err != nil {
		t.Fatal(err)
	}
	patches, err := srcRepo.FormatPatch(ctx, t.TempDir(), base, "HEAD")
	if err != nil || len(patches) != 1 {
		t.Fatalf("FormatPatch: %v %v", patches, err)
	}

	writeFile(t, dst, "a.txt", "diverged\n")
	commitAll(t, dst, "diverged base")

	dstRepo, err := Open(ctx, dst)
	if err != nil {
		t.Fatal(err)
	}
	if err := dstRepo.Am(ctx, patches[0]); err == nil {
		t.Fatal("expected am conflict")
	}

	inProgress, err := dstRepo.AmInProgress(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !inProgress {
		t.Fatal("am session should be open after conflict")
	}

	if err := dstRepo.AmAbort(ctx); err != nil {
		t.Fatalf("AmAbort: %v", err)
	}
	inProgress, err = dstRepo.AmInProgress(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if inProgress {
		t.Errorf("am session still open after abort")
	}
}

func TestEmptyCommit(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()

	writeFile(t, dir, "a.txt", "one\n")
	commitAll(t, dir, "first")

	repo, err := Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.EmptyCommit(ctx, "marker commit\n\nwith a body"); err != nil {
		t.Fatalf("EmptyCommit: %v", err)
	}

	commits, err := repo.LogRecent(ctx, "HEAD", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 || commits[0].Subject != "marker commit" {
		t.Fatalf("LogRecent = %+v", commits)
	}
	if commits[0].Shortstat != "" {
		t.Errorf("empty commit has shortstat %q", commits[0].Shortstat)
	}
}

func TestFilterBranchSubdir(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()

	writeFile(t, dir, "keep/a.txt", "one\n")
	writeFile(t, dir, "drop/x.txt", "noise\n")
	commitAll(t, dir, "both")
	writeFile(t, dir, "keep/b.txt", "two\n")
	commitAll(t, dir, "keep only")
	writeFile(t, dir, "drop/y.txt", "more noise\n")
	commitAll(t, dir, "drop only")

	repo, err := Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.FilterBranchSubdir(ctx, "keep", "HEAD"); err != nil {
		t.Fatalf("FilterBranchSubdir: %v", err)
	}

	commits, err := repo.LogRange(ctx, "", "HEAD", nil)
	if err != nil {
		t.Fatal(err)
	}
	// The drop-only commit became empty and was pruned.
	if len(commits) != 2 {
		t.Fatalf("got %d commits, want 2", len(commits))
	}

	entries, err := repo.LsTree(ctx, "HEAD", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := entries["a.txt"]; !ok {
		t.Errorf("a.txt not promoted to root: %v", entries)
	}
	if _, ok := entries["b.txt"]; !ok {
		t.Errorf("b.txt not promoted to root: %v", entries)
	}
	for p := range entries {
		if strings.HasPrefix(p, "keep/") || strings.HasPrefix(p, "drop/") {
			t.Errorf("unexpected path %q after promotion", p)
		}
	}
}

func TestFilterBranchSubdirNothingToRewrite(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()

	writeFile(t, dir, "only/x.txt", "content\n")
	commitAll(t, dir, "content")

	repo, err := Open(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	err = repo.FilterBranchSubdir(ctx, "missing", "HEAD")
	if err != ErrNothingToRewrite {
		t.Errorf("err = %v, want ErrNothingToRewrite", err)
	}
}
