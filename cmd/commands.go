package cmd

import (
	"fmt"
	"time"

	"culturepass/internal/services"

	"github.com/pocketbase/pocketbase"
	"github.com/spf13/cobra"
)

// registerCommands adds maintenance jobs to the app's root command.
func registerCommands(app *pocketbase.PocketBase, tickets *services.TicketService, reconcile *services.ReconcileService, pendingTTL time.Duration) {
	app.RootCmd.AddCommand(&cobra.Command{
		Use:   "backfill-artifacts",
		Short: "Generate missing QR codes and public ids for existing tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := tickets.BackfillArtifacts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backfilled %d tickets\n", n)
			return nil
		},
	})

	var expire bool
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Poll the payment processor for pending tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			settled, err := reconcile.ReconcilePending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "settled %d pending tickets\n", settled)

			if !expire {
				return nil
			}
			expired, err := tickets.ExpireStale(cmd.Context(), pendingTTL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d stale tickets\n", expired)
			return nil
		},
	}
	reconcileCmd.Flags().BoolVar(&expire, "expire", false, "also expire pending tickets older than PENDING_TICKET_TTL")
	app.RootCmd.AddCommand(reconcileCmd)
}
