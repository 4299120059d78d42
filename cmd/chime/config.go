package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bkern/chime/internal/config"
	"github.com/bkern/chime/internal/logger"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Validate and manage Chime configuration.`,
}

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file and check for errors.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log, err := logger.New(logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}

		configPath := "./config.toml"
		if len(args) > 0 {
			configPath = args[0]
		}

		log.Info("validating configuration", logger.Field{Key: "path", Value: configPath})

		cfg, err := config.Load(configPath)
		if err != nil {
			log.Error("failed to load config", err)
			os.Exit(1)
		}

		errors := cfg.Validate()
		if len(errors) > 0 {
			log.Error("config validation failed", fmt.Errorf("%d errors", len(errors)))
			for _, e := range errors {
				log.Error("validation error", e)
			}
			os.Exit(1)
		}

		log.Info("configuration is valid")
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
