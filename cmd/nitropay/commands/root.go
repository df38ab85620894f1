package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nitropay/internal/app"
	nplog "nitropay/internal/log"
)

var (
	configPath string
	home       string
	passphrase string
	devChain   bool
	wire       *app.Wire
)

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nitropay",
		Short:         "State-channel payments against a clearing node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Load(configPath)
			if err != nil {
				return err
			}
			if home != "" {
				cfg.Home = home
			}
			if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
				return err
			}
			nplog.Configure(nplog.Config{Level: cfg.LogLevel, Service: "nitropay", Output: os.Stderr, Console: true})
			wire, err = app.NewWire(cfg)
			return err
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&home, "home", "", "wallet directory (default ~/.nitropay)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "wallet passphrase (or NITROPAY_PASSPHRASE)")
	root.PersistentFlags().BoolVar(&devChain, "dev-chain", false, "settle on an in-memory chain with a funded wallet")

	root.AddCommand(initCmd(), addressCmd(), connectCmd(), channelCmd(), depositCmd(), payCmd(), balancesCmd(), serveCmd())
	return root
}

func requirePassphrase() (string, error) {
	if passphrase == "" {
		passphrase = os.Getenv(app.EnvPrefix + "PASSPHRASE")
	}
	if passphrase == "" {
		return "", fmt.Errorf("passphrase required (-p or %sPASSPHRASE)", app.EnvPrefix)
	}
	return passphrase, nil
}
