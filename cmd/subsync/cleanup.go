package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/subsync/subsync/internal/config"
	"github.com/subsync/subsync/internal/git"
	"github.com/subsync/subsync/internal/syncer"
	"github.com/subsync/subsync/internal/ui"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <source-repo> <mirror-repo>",
	Short: "Remove working resources left behind by an interrupted sync",
	Long: `A sync that dies mid-run can leave its working resources behind: the
subsync/work branch and its worktree, refs/original backup refs from the
history rewrite, and the subsync/pre-sync tag in the mirror. The next
sync refuses to start while they exist. cleanup removes them.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		source, err := git.Open(ctx, args[0])
		if err != nil {
			return &config.ValidationError{Field: "source", Message: err.Error()}
		}
		mirror, err := git.Open(ctx, args[1])
		if err != nil {
			return &config.ValidationError{Field: "mirror", Message: err.Error()}
		}

		removed, err := syncer.Cleanup(ctx, source, mirror)
		for _, r := range removed {
			fmt.Printf("%s removed %s\n", ui.RenderPassIcon(), r)
		}
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Println("nothing to clean up")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
