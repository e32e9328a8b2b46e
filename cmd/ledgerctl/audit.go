package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yogaspace/yogaspace-api/internal/domain/credit"
	"github.com/yogaspace/yogaspace-api/internal/pkg/database"
)

// errDrift makes the command exit non-zero so cron jobs can alert on it.
var errDrift = errors.New("credit balance drift detected")

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Compare cached credit balances with the transaction ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			svc := credit.NewService(credit.NewRepository(db, cfg.DBQueryTimeout))
			mismatches, err := svc.Audit(cmd.Context())
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput(cmd) {
				if err := writeJSON(out, mismatches); err != nil {
					return err
				}
			} else if err := printMismatches(out, mismatches); err != nil {
				return err
			}

			if len(mismatches) > 0 {
				return errDrift
			}
			return nil
		},
	}
}

func printMismatches(w io.Writer, mismatches []credit.Mismatch) error {
	if len(mismatches) == 0 {
		_, err := fmt.Fprintln(w, "all balances match the ledger")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tCACHED\tLEDGER\tDRIFT")
	for _, m := range mismatches {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%+d\n", m.UserID, m.CachedBalance, m.LedgerSum, m.Drift())
	}
	return tw.Flush()
}
