package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/farmsim/internal/config"
)

var (
	configForce  bool
	configOutput string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage the simulation config",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config",
	Long:  `Prints the config after environment overrides (FARMSIM_*) are applied.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the config sanity check",
	RunE:  runConfigValidate,
}

var configRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Suggest capacity and workers for this host",
	Long: `Detects the host's CPUs and memory and prints the config with cpu_capacity
set to the logical CPU count and workers set to the physical core count.`,
	RunE: runConfigRecommend,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd, configRecommendCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config")
	for _, c := range []*cobra.Command{configShowCmd, configRecommendCmd} {
		c.Flags().StringVarP(&configOutput, "output", "o", "json", "output format: json or yaml")
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
	}
	if err := config.Default().Save(cfgFile); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", cfgFile)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	res, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	return printConfig(cmd, res.Config)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", cfgFile)
	return nil
}

func runConfigRecommend(cmd *cobra.Command, args []string) error {
	res, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg := res.Config

	logical, err := cpu.Counts(true)
	if err != nil {
		return fmt.Errorf("failed to detect CPUs: %w", err)
	}
	physical, err := cpu.Counts(false)
	if err != nil || physical < 1 {
		physical = logical
	}
	cfg.CPUCapacity = logical
	cfg.Workers = physical

	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Host: %d logical CPUs, %d cores, %.1f GB RAM\n",
			logical, physical, float64(vm.Total)/(1024*1024*1024))
	}
	return printConfig(cmd, cfg)
}

func printConfig(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	switch configOutput {
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(cfg)
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	default:
		return fmt.Errorf("unknown output format %q", configOutput)
	}
}
