package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/psantana5/farmsim/internal/batch"
	"github.com/psantana5/farmsim/internal/config"
	"github.com/psantana5/farmsim/internal/report"
	"github.com/psantana5/farmsim/pkg/logging"
	"github.com/psantana5/farmsim/pkg/simulation"
)

var (
	runSeed        int64
	runWorkers     int
	runRepetitions int
	runOutputDir   string
	runFormat      string
	runNoArtifacts bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of simulations",
	Long: `Loads the config, runs every repetition on a fresh farm with a freshly
generated job population, prints the results and writes the report, series,
chart and Prometheus textfile to <output_dir>/<run-id>/.`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "override the config seed (0 keeps the config value)")
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "override how many repetitions run in parallel")
	runCmd.Flags().IntVarP(&runRepetitions, "repetitions", "n", 0, "override the number of repetitions")
	runCmd.Flags().StringVarP(&runOutputDir, "output-dir", "d", "", "override the artifact directory")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "table", "result output: table, json or yaml")
	runCmd.Flags().BoolVar(&runNoArtifacts, "no-artifacts", false, "do not write artifacts")
}

func applyRunOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = runSeed
	}
	if flags.Changed("workers") {
		cfg.Workers = runWorkers
	}
	if flags.Changed("repetitions") {
		cfg.Repetitions = runRepetitions
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = runOutputDir
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	switch runFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown format %q (expected table, json or yaml)", runFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid overrides:\n%w", err)
	}

	logger, err := newLogger("run", cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := initTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", logging.Fields{"error": err.Error()})
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := report.NewMetrics(registry)

	rep, err := batch.Execute(ctx, cfg, batch.Options{
		Logger:    logger,
		Tracer:    provider.Tracer(),
		Observers: []simulation.Observer{metrics},
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch runFormat {
	case "json":
		err = report.WriteJSON(out, rep)
	case "yaml":
		err = report.WriteYAML(out, rep)
	default:
		fmt.Fprintf(out, "Run %s (seed %d)\n\n", rep.ID, rep.Seed)
		if err = report.WriteResultsTable(out, rep.Results); err == nil {
			fmt.Fprintln(out)
			err = report.WriteSummaryTable(out, rep.Summary)
		}
	}
	if err != nil {
		return err
	}

	if runNoArtifacts {
		return nil
	}
	dir := filepath.Join(cfg.OutputDir, rep.ID)
	if err := report.WriteArtifacts(dir, rep); err != nil {
		return err
	}
	if err := report.WriteTextfile(filepath.Join(dir, report.TextfileFile), registry); err != nil {
		return err
	}
	logger.Info("Artifacts written", logging.Fields{"dir": dir})
	return nil
}
