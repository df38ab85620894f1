package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"nitropay/internal/services/session"
)

func channelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage the payment channel",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "open",
		Short: "Adopt the open channel or create and fund a new one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctrl *session.Controller) error {
				ch, err := ctrl.OpenChannel(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), ch)
			})
		},
	}, &cobra.Command{
		Use:   "close",
		Short: "Close the channel and settle funds back to the wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctrl *session.Controller) error {
				if _, err := ctrl.OpenChannel(cmd.Context()); err != nil {
					return err
				}
				if err := ctrl.CloseChannel(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("channel closed")
				return nil
			})
		},
	})
	return cmd
}
