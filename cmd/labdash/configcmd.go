package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configShowCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after environment variable overrides and
defaults are applied. Passwords and storage credentials are redacted.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.API != nil {
		for i := range cfg.API.Auth.Users {
			cfg.API.Auth.Users[i].Password = "<redacted>"
		}

		if cfg.API.Storage.S3 != nil {
			cfg.API.Storage.S3.SecretAccessKey = "<redacted>"
		}

		if cfg.API.Database.Postgres.Password != "" {
			cfg.API.Database.Postgres.Password = "<redacted>"
		}
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Print(string(out))

	return nil
}
