package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rl1809/stock-ledger/internal/adapter/identity"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending MySQL schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StoreDriver != config.StoreMySQL {
			return fmt.Errorf("migrate needs the mysql store")
		}
		db, err := openMySQL(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		version, err := storage.Migrate(db.DB)
		if err != nil {
			return err
		}
		logger.WithField("version", version).Info("schema up to date")
		return nil
	},
}

var (
	adminName     string
	adminEmail    string
	adminPassword string
)

var seedAdminCmd = &cobra.Command{
	Use:   "seed-admin",
	Short: "Create a user with the admin role",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.StoreDriver != config.StoreMySQL {
			return fmt.Errorf("seed-admin needs the mysql store")
		}
		ctx := cmd.Context()

		b, err := openBackends(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer b.Close()

		tokens, err := newTokenProvider(cfg, logger)
		if err != nil {
			return err
		}
		users := service.NewUserService(b.store, b.roles, identity.NewPBKDF2Hasher(), tokens, logger, cfg.RequestTimeout)

		u, err := users.Register(ctx, domain.Registration{
			Name:     adminName,
			Email:    adminEmail,
			Password: adminPassword,
		}, domain.RoleAdmin)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", u.Email, u.ID)
		return nil
	},
}

func init() {
	seedAdminCmd.Flags().StringVar(&adminName, "name", "Admin", "display name")
	seedAdminCmd.Flags().StringVar(&adminEmail, "email", "", "login email")
	seedAdminCmd.Flags().StringVar(&adminPassword, "password", "", "login password (at least 6 characters)")
	seedAdminCmd.MarkFlagRequired("email")
	seedAdminCmd.MarkFlagRequired("password")
}
