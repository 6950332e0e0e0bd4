package main

import (
	"context"
	"fmt"

	"github.com/prudhvinik1/moonbattery/internal/config"
	"github.com/prudhvinik1/moonbattery/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.close()

			applied, err := st.migrate(ctx)
			if err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}

			logger.Info("migrations applied", zap.String("store", st.dialect), zap.Strings("versions", applied))
			return nil
		},
	}
}
