package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"vendorflow-backend/config"
	"vendorflow-backend/internal/logging"
)

const defaultConfigPath = "./config/config.yaml"

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("VENDORFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "vendorflowd",
		Short:         "Telemetry ingestion and device control backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	root.PersistentFlags().String("config", "", "path to the YAML config file (env VENDORFLOW_CONFIG)")
	root.PersistentFlags().String("log-level", "", "overrides log.level (env VENDORFLOW_LOG_LEVEL)")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCmd(v), newPublishCmd(v))
	return root
}

// configPath resolves the config file from the flag, VENDORFLOW_CONFIG, the
// legacy CONFIG_PATH and finally the development default.
func configPath(v *viper.Viper) string {
	if p := v.GetString("config"); p != "" {
		return p
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

// loadConfig reads the config file and builds the process logger from it.
func loadConfig(v *viper.Viper) (*config.Config, *zap.Logger, error) {
	path := configPath(v)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	if lvl := v.GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("configuration loaded", zap.String("path", path))
	return cfg, logger, nil
}
