package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/subsync/subsync/internal/pathmap"
	"github.com/subsync/subsync/internal/rewrite"
)

// remapCmd is the helper half of the history rewrite: git filter-branch
// re-invokes the subsync binary with this command for every rewritten
// commit, feeding index entries on stdin and reading the remapped ones
// from stdout. The mapping file location arrives through the
// environment because filter-branch controls the argument vector.
var remapCmd = &cobra.Command{
	Use:    "remap-index",
	Short:  "Rewrite git index entries through the mirror path mapping",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mapper, err := pathmap.LoadFile(os.Getenv(rewrite.EnvRemapConfig))
		if err != nil {
			return err
		}
		return mapper.RewriteIndexEntries(os.Stdin, os.Stdout, pathmap.StagingRoot)
	},
}

func init() {
	rootCmd.AddCommand(remapCmd)
}
