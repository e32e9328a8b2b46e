package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/database"
)

func claimsCmd() *cobra.Command {
	var (
		limit  int
		expire bool
	)

	cmd := &cobra.Command{
		Use:   "claims",
		Short: "List pending claims for unattributed payments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			applier := ledger.NewApplier(ledger.NewRepository(db, cfg.DBQueryTimeout), cfg.ClaimTTL)
			out := cmd.OutOrStdout()

			if expire {
				n, err := applier.ExpireClaims(cmd.Context())
				if err != nil {
					return fmt.Errorf("expire claims: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "expired %d claims\n", n)
			}

			claims, err := applier.PendingClaims(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list claims: %w", err)
			}
			if jsonOutput(cmd) {
				return writeJSON(out, claims)
			}
			return printClaims(out, claims, time.Now())
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum claims to list")
	cmd.Flags().BoolVar(&expire, "expire", false, "expire overdue claims before listing")
	return cmd
}

func printClaims(w io.Writer, claims []ledger.Claim, now time.Time) error {
	if len(claims) == 0 {
		_, err := fmt.Fprintln(w, "no pending claims")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLAIM\tSESSION\tGRANT\tREASON\tAGE\tEXPIRES IN")
	for _, c := range claims {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.SessionID, describeClaim(c), c.Reason,
			now.Sub(c.CreatedAt).Round(time.Minute), c.ExpiresAt.Sub(now).Round(time.Hour))
	}
	return tw.Flush()
}

func describeClaim(c ledger.Claim) string {
	if c.Kind == ledger.KindMembership {
		return fmt.Sprintf("%s x%d mo", c.TierID, c.Months)
	}
	return fmt.Sprintf("%d credits", c.Credits)
}
