package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/farmsim/pkg/cleanup"
)

var (
	pruneKeep   int
	pruneMaxAge time.Duration
	pruneDryRun bool
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old run artifacts from the output directory",
	RunE:  runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 10, "number of newest runs to keep")
	pruneCmd.Flags().DurationVar(&pruneMaxAge, "max-age", 0, "also remove runs older than this, beyond --keep (0 disables)")
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "list what would be removed")
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger("prune", cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	stats, err := cleanup.Prune(cfg.OutputDir, cleanup.Policy{
		Keep:   pruneKeep,
		MaxAge: pruneMaxAge,
		DryRun: pruneDryRun,
	}, logger)
	if err != nil {
		return err
	}

	verb := "Removed"
	if pruneDryRun {
		verb = "Would remove"
	}
	out := cmd.OutOrStdout()
	for _, path := range stats.Removed {
		fmt.Fprintf(out, "%s %s\n", verb, path)
	}
	fmt.Fprintf(out, "%d of %d runs pruned\n", len(stats.Removed), stats.Scanned)
	return nil
}
