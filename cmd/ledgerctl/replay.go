package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yogaspace/yogaspace-api/internal/config"
	"github.com/yogaspace/yogaspace-api/internal/domain/catalog"
	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/domain/payment"
	"github.com/yogaspace/yogaspace-api/internal/pkg/database"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

func replayCmd() *cobra.Command {
	var userFlag string

	cmd := &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Re-apply one checkout session to the ledger",
		Long: `Fetch a checkout session from the provider and run it through the
ledger the same way the reconciler does. Already-applied sessions
are reported and left untouched.

With --user the payment is credited to that user even when the
session carries no attribution.

Examples:
  ledgerctl replay cs_live_a1B2c3
  ledgerctl replay cs_live_a1B2c3 --user 5f0c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payer uuid.UUID
			if userFlag != "" {
				id, err := uuid.Parse(userFlag)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				payer = id
			}

			cfg, db, err := openDB()
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)
			if cfg.StripeSecretKey == "" {
				return fmt.Errorf("%w: STRIPE_SECRET_KEY", config.ErrConfigurationMissing)
			}

			cat, err := catalog.Load(cfg.CatalogPath)
			if err != nil {
				return err
			}
			stripe := provider.NewStripeProvider(provider.StripeConfig{
				SecretKey:         cfg.StripeSecretKey,
				Timeout:           cfg.StripeTimeout,
				MaxNetworkRetries: int64(cfg.StripeMaxRetries),
				APIURL:            cfg.StripeAPIURL,
			})
			applier := ledger.NewApplier(ledger.NewRepository(db, cfg.DBQueryTimeout), cfg.ClaimTTL)
			r := payment.NewReconciler(stripe, payment.NewResolver(cat), applier, nil, payment.ReconcilerConfig{})

			status, err := r.Replay(cmd.Context(), args[0], payer)
			if err != nil {
				return fmt.Errorf("replay %s: %w", args[0], err)
			}
			log.Info().Str("session_id", args[0]).Str("status", status).Msg("session replayed")

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"sessionId": args[0], "status": status})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], status)
			return nil
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "credit the payment to this user id")
	return cmd
}
