package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/swiparr/swiparr-server/internal/config"
	"github.com/swiparr/swiparr-server/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("database schema is up to date")
		return nil
	},
}

var wipeTokensCmd = &cobra.Command{
	Use:   "wipe-deprecated-tokens",
	Short: "Drop stored credentials that use the old encryption format",
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		wiped, err := db.WipeDeprecatedTokens(cmd.Context())
		if err != nil {
			return fmt.Errorf("wipe deprecated tokens: %w", err)
		}
		log.Info().Int64("sessions", wiped.Sessions).Int64("identities", wiped.Identities).Msg("deprecated tokens wiped")
		return nil
	},
}

func openDatabase(ctx context.Context) (*database.DB, error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, err
	}
	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
