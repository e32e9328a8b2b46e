package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yogaspace/yogaspace-api/internal/pkg/database"
)

func migrateCmd() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema",
		Long: `Apply the embedded ledger schema to DATABASE_URL.

Every statement is idempotent, so running it against an up-to-date
database is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				_, err := fmt.Fprint(cmd.OutOrStdout(), database.Schema())
				return err
			}

			_, db, err := openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			if err := database.Migrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the schema instead of applying it")
	return cmd
}
