package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/subsync/subsync/internal/config"
	"github.com/subsync/subsync/internal/decide"
	"github.com/subsync/subsync/internal/git"
	"github.com/subsync/subsync/internal/pathmap"
	"github.com/subsync/subsync/internal/syncer"
	"github.com/subsync/subsync/internal/telemetry"
)

// vip resolves option values. Explicitly set flags win, then SUBSYNC_*
// environment variables, then defaults.
var vip = config.NewViper()

var rootCmd = &cobra.Command{
	Use:   "subsync <source-repo> <mirror-repo> <secondary-branch>",
	Short: "subsync - keep a subtree mirror in step with its source history",
	Long: `subsync replays new commits from a source repository onto a standalone
mirror that carries a path-mapped projection of part of the source tree.
Each run covers two upstream branches, recognizes changes the mirror
already carries by content rather than by hash, rewrites the survivors
into mirror-relative patches, and verifies afterwards that both
projections are byte-identical.

The mirror declares what it tracks in .subsync/config.yaml; progress is
recorded in .subsync/checkpoint.primary and .subsync/checkpoint.secondary.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 3 {
			return &config.ValidationError{
				Field:   "arguments",
				Message: fmt.Sprintf("expected <source-repo> <mirror-repo> <secondary-branch>, got %d", len(args)),
			}
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// The remap helper runs once per rewritten commit inside
		// filter-branch and must stay free of provider setup.
		if cmd.Name() == remapCmd.Name() {
			return
		}
		if err := telemetry.Init(cmd.Context(), "subsync", Version); err != nil {
			WarnError("telemetry disabled: %v", err)
		}
	},
	RunE: runSync,
}

func init() {
	f := rootCmd.Flags()
	f.String(config.KeyPrimaryBranch, "", "Primary branch to sync (default: the source HEAD branch)")
	f.String(config.KeyPrimaryBase, "", "Baseline commit for the primary branch instead of the stored checkpoint")
	f.String(config.KeySecondaryBase, "", "Baseline commit for the secondary branch instead of the stored checkpoint")
	f.Bool(config.KeyManual, false, "Confirm every recognized duplicate, even unique matches")
	f.Bool(config.KeyIgnoreConsistency, false, "Downgrade post-sync divergence from fatal to a warning")
	f.Int(config.KeySignatureWindow, config.DefaultSignatureWindow, "How many recent mirror commits to index for duplicate detection")
	f.Bool(config.KeyKeepWorkdir, false, "Keep the work branch, worktree and tag after a failed run")

	for _, key := range []string{
		config.KeyPrimaryBranch,
		config.KeyPrimaryBase,
		config.KeySecondaryBase,
		config.KeyManual,
		config.KeyIgnoreConsistency,
		config.KeySignatureWindow,
		config.KeyKeepWorkdir,
	} {
		cobra.CheckErr(vip.BindPFlag(key, f.Lookup(key)))
	}

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &config.ValidationError{Field: "flags", Message: err.Error()}
	})
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromViper(vip, args[0], args[1], args[2])
	if err != nil {
		return err
	}

	source, err := git.Open(ctx, cfg.SourceDir)
	if err != nil {
		return &config.ValidationError{Field: "source", Message: err.Error()}
	}
	mirror, err := git.Open(ctx, cfg.MirrorDir)
	if err != nil {
		return &config.ValidationError{Field: "mirror", Message: err.Error()}
	}
	mapper, err := pathmap.Load(cfg.MirrorDir)
	if err != nil {
		return &config.ValidationError{Field: "mapping", Message: err.Error()}
	}

	s := &syncer.Syncer{
		Config:  cfg,
		Source:  source,
		Mirror:  mirror,
		Mapper:  mapper,
		Decider: decide.NewTerminal(),
		SelfExe: selfExecutable(),
		Out:     os.Stdout,
	}
	_, err = s.Run(ctx)
	return err
}

// selfExecutable locates the running binary so the history rewrite can
// re-invoke it as the index remap helper.
func selfExecutable() string {
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)

	// Flush telemetry even when the run failed; a cancelled context must
	// not block the flush.
	telemetry.Shutdown(context.WithoutCancel(ctx))
	stop()

	if err != nil {
		exitWith(err)
	}
}
