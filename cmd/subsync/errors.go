package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/subsync/subsync/internal/checkpoint"
	"github.com/subsync/subsync/internal/config"
	"github.com/subsync/subsync/internal/mergecheck"
	"github.com/subsync/subsync/internal/syncer"
	"github.com/subsync/subsync/internal/ui"
	"github.com/subsync/subsync/internal/verify"
)

// Exit codes. Each abort condition gets its own code so wrapper scripts
// can branch on the outcome without parsing output.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitNothingToDo = 3
	exitMergeAbort  = 4
	exitDivergence  = 5
)

// exitCodeFor maps an error to the exit code contract. Configuration
// problems cover everything an operator fixes by changing inputs,
// including a missing checkpoint on a first sync.
func exitCodeFor(err error) int {
	var (
		verr *config.ValidationError
		cerr *checkpoint.NotFoundError
		merr *mergecheck.NonEmptyMergeError
		derr *verify.DivergenceError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, syncer.ErrNothingToSync):
		return exitNothingToDo
	case errors.As(err, &verr), errors.As(err, &cerr):
		return exitConfig
	case errors.As(err, &merr):
		return exitMergeAbort
	case errors.As(err, &derr):
		return exitDivergence
	default:
		return exitFailure
	}
}

// exitWith reports err and exits with its mapped code. Nothing-to-sync
// is an outcome rather than a failure and reports on stdout.
func exitWith(err error) {
	code := exitCodeFor(err)
	if code == exitNothingToDo {
		fmt.Fprintf(os.Stdout, "%s %v\n", ui.RenderInfoIcon(), err)
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var stale *syncer.StaleLeaseError
	if errors.As(err, &stale) {
		fmt.Fprintf(os.Stderr, "Recover with: %s\n",
			color.New(color.FgCyan).Sprint("subsync cleanup <source-repo> <mirror-repo>"))
	}
	os.Exit(code)
}

// WarnError writes a warning to stderr and returns. Use it for optional
// machinery whose failure must not stop a sync.
func WarnError(format string, args ...interface{}) {
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(os.Stderr, yellow("Warning:")+" "+format+"\n", args...)
}
