package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/spf13/cobra"

	"github.com/calstack/davcore/internal/config"
	"github.com/calstack/davcore/internal/storage/migrations"
)

func newMigrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or roll back) the configured storage backend's schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			var db *sql.DB
			switch cfg.Storage.Type {
			case "postgres":
				db, err = sql.Open("pgx", cfg.Storage.PostgresURL)
			case "sqlite":
				db, err = sql.Open("sqlite3", "file:"+cfg.Storage.SQLitePath)
			default:
				return fmt.Errorf("migrate: unknown storage type %q", cfg.Storage.Type)
			}
			if err != nil {
				return fmt.Errorf("migrate: open %s: %w", cfg.Storage.Type, err)
			}
			defer db.Close()

			if down {
				return migrations.Down(cfg.Storage.Type, db)
			}
			switch cfg.Storage.Type {
			case "postgres":
				return migrations.Postgres(db)
			case "sqlite":
				return migrations.SQLite(db)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back every applied migration instead of applying pending ones")
	return cmd
}
