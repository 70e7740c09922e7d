package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/farmsim/internal/config"
	"github.com/psantana5/farmsim/pkg/logging"
	"github.com/psantana5/farmsim/pkg/tracing"
)

// Version is set at build time
var Version = "dev"

var (
	cfgFile  string
	logLevel string
	logJSON  bool
	logDir   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "farmsim",
	Short: "Render farm scheduling simulator",
	Long: `farmsim simulates a render farm: jobs are split into chunked tasks, a pool of
CPUs is handed out to them cycle by cycle, and utilization and completion are
recorded until the farm drains.`,
	SilenceUsage: true,
	Version:      Version,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "simulation config file (JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON lines")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "also write logs to <log-dir>/<command>.log")
}

// apiKeyFromEnv returns FARMSIM_API_KEY, shared by the server and the client
func apiKeyFromEnv() string {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.BindEnv("api_key")
	return v.GetString("api_key")
}

// newLogger builds the logger for a command, writing to out unless a log
// directory was requested
func newLogger(component string, out io.Writer) (*logging.Logger, error) {
	level := logging.ParseLevel(logLevel)
	if logDir != "" {
		return logging.NewFileLogger(logDir, component, level, logJSON)
	}
	logger := logging.NewLogger(level, logJSON)
	logger.SetOutput(out)
	return logger, nil
}

// loadConfig reads the config file, reporting when the default had to be
// written, and validates the result
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	res, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if res.Created {
		fmt.Fprintf(cmd.ErrOrStderr(), "No usable config at %s, wrote defaults\n", res.Path)
	}
	if err := res.Config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s failed sanity check:\n%w", res.Path, err)
	}
	return res.Config, nil
}

// initTracing starts an exporter when the config names an OTLP endpoint
func initTracing(ctx context.Context, cfg *config.Config) (*tracing.Provider, error) {
	return tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "farmsim",
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
}
