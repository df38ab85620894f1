package commands

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"nitropay/internal/crypto"
)

func initCmd() *cobra.Command {
	var importKey string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate the wallet key and store it encrypted",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := requirePassphrase()
			if err != nil {
				return err
			}
			if importKey != "" {
				raw, err := hexutil.Decode(importKey)
				if err != nil {
					return fmt.Errorf("--import: %w", err)
				}
				defer crypto.Wipe(raw)
				addr, err := wire.Identity.ImportWallet(pass, raw)
				if err != nil {
					return err
				}
				fmt.Printf("Wallet imported.\nAddress: %s\n", addr.Hex())
				return nil
			}
			addr, err := wire.Identity.GenerateWallet(pass)
			if err != nil {
				return err
			}
			fmt.Printf("Wallet created.\nAddress: %s\nFingerprint: %s\n", addr.Hex(), crypto.Fingerprint(addr))
			return nil
		},
	}
	cmd.Flags().StringVar(&importKey, "import", "", "0x-prefixed private key to import instead of generating one")
	return cmd
}

func addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the wallet address",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := wire.Identity.WalletAddress()
			if err != nil {
				return err
			}
			fmt.Printf("Address: %s\nFingerprint: %s\n", addr.Hex(), crypto.Fingerprint(addr))
			return nil
		},
	}
}
