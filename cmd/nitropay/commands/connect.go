package commands

import (
	"github.com/spf13/cobra"

	"nitropay/internal/services/session"
)

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Authenticate with the clearing node and print the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctrl *session.Controller) error {
				if err := ctrl.RefreshBalances(cmd.Context()); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ctrl.Snapshot())
			})
		},
	}
}

func balancesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Print ledger and wallet balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctrl *session.Controller) error {
				if err := ctrl.RefreshBalances(cmd.Context()); err != nil {
					return err
				}
				snap := ctrl.Snapshot()
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"ledger": snap.Ledger,
					"wallet": snap.WalletFunds,
				})
			})
		},
	}
}
