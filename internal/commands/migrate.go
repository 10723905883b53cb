package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"bybit-techbot/config"
	"bybit-techbot/internal/store/sqldb"
)

var resetRunning bool

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Create the users, bots, trade_settings and trades tables in the
database selected by DB_DRIVER and DB_DSN. Running it again is a no-op.

Examples:
  tradebot migrate                    # create the schema
  tradebot migrate --reset-running    # also clear stale running flags`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&resetRunning, "reset-running", false, "Mark every bot as stopped")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg)

	if err := ensureDir(cfg.DB.Driver, cfg.DB.DSN); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := sqldb.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Schema is up to date (%s)\n", store.Driver())

	if resetRunning {
		n, err := store.ResetRunning(ctx)
		if err != nil {
			return fmt.Errorf("failed to reset running flags: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Cleared running flag on %d bot(s)\n", n)
	}
	return nil
}
