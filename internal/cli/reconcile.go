package cli

import (
	"fmt"

	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/utils"
	"github.com/spf13/cobra"
)

var reconcileBatch int

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [intent-token]",
	Short: "Retry ledger recording for intents that need reconciliation",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := startApp(cmd.Context())
		if err != nil {
			return err
		}

		if len(args) == 1 {
			id, err := utils.DecodeIntentHashID(args[0])
			if err != nil {
				return fmt.Errorf("invalid intent token %q: %w", args[0], err)
			}
			if err := app.Intents.Reconcile(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "intent %s reconciled\n", args[0])
			return nil
		}

		n, err := app.Intents.ReconcilePending(cmd.Context(), reconcileBatch)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d intents reconciled\n", n)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileBatch, "batch", 50, "Maximum intents to process")
}
