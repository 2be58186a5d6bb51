package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/perflab/labdash/pkg/results"
)

var setPublicCmd = &cobra.Command{
	Use:   "set-public <environment-id>",
	Short: "Grant public visibility to an environment lineage",
	Long: `Grant the public group view access to an environment, its
predecessors, and every measurement, test run, and test result recorded
against them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetVisibility(args[0], true)
	},
}

var setPrivateCmd = &cobra.Command{
	Use:   "set-private <environment-id>",
	Short: "Revoke public visibility from an environment lineage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetVisibility(args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(setPublicCmd)
	rootCmd.AddCommand(setPrivateCmd)
}

func runSetVisibility(rawID string, public bool) error {
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid environment id %q: %w", rawID, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	store := results.NewStore(log, &cfg.API.Database)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting results store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Results store stop error")
		}
	}()

	if public {
		err = store.SetPublic(ctx, uint(id))
	} else {
		err = store.SetPrivate(ctx, uint(id))
	}

	if err != nil {
		return fmt.Errorf("updating environment visibility: %w", err)
	}

	log.WithField("environment", id).
		WithField("public", public).
		Info("Environment visibility updated")

	return nil
}
