package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pmbots/internal/config"
	"pmbots/internal/logger"
)

var (
	cfgPath string
	envOnly bool

	cfg config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "pmbots-admin",
	Short:         "Operator tasks for the bots service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath, envOnly)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log, err = logger.New(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	defaultPath := os.Getenv("PB_CONFIG")
	if defaultPath == "" {
		defaultPath = "config/config.yaml"
	}
	raw := os.Getenv("PB_ENV_ONLY")
	defaultEnvOnly := strings.EqualFold(raw, "true") || raw == "1"

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultPath, "config file")
	rootCmd.PersistentFlags().BoolVar(&envOnly, "env-only", defaultEnvOnly, "read configuration from PB_* variables only")

	rootCmd.AddCommand(migrateCmd, grantPlanCmd, vaultKeyCmd, vaultRotateCmd, botDisableCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
