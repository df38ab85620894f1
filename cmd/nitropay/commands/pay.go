package commands

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"nitropay/internal/domain"
	"nitropay/internal/services/session"
)

func depositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Deposit wallet funds of the session asset into the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			return withSession(cmd.Context(), func(ctrl *session.Controller) error {
				hash, err := ctrl.Deposit(cmd.Context(), amount)
				if err != nil {
					return err
				}
				fmt.Printf("deposit confirmed: %s\n", hash)
				return nil
			})
		},
	}
}

// pay <recipient> <amount>: transfer ledger funds, opening the channel first if needed.
func payCmd() *cobra.Command {
	var asset, reference string
	cmd := &cobra.Command{
		Use:   "pay <recipient> <amount>",
		Short: "Pay a recipient from the ledger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(args[0]) {
				return fmt.Errorf("%w: %s", domain.ErrInvalidRecipient, args[0])
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			req := domain.PayRequest{
				Recipient: common.HexToAddress(args[0]),
				Amount:    amount,
				Asset:     domain.AssetSymbol(asset),
				Reference: reference,
			}
			return withSession(cmd.Context(), func(ctrl *session.Controller) error {
				if _, err := ctrl.OpenChannel(cmd.Context()); err != nil {
					return err
				}
				if err := ctrl.RefreshBalances(cmd.Context()); err != nil {
					return err
				}
				p, err := ctrl.Pay(cmd.Context(), req)
				if errors.Is(err, domain.ErrInsufficientFunds) {
					asset := req.Asset
					if asset == "" {
						asset = wire.Config.Asset
					}
					short := ctrl.Tracker().Shortfall(asset, req.Amount)
					return fmt.Errorf("%w; deposit at least %s first", err, short)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "asset symbol (default: the session asset)")
	cmd.Flags().StringVar(&reference, "reference", "", "invoice reference carried with the transfer")
	return cmd
}
