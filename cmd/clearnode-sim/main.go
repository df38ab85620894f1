// Command clearnode-sim runs an in-memory clearing node for local development.
//
// Channels open as soon as they are requested and nothing is read from a
// chain, so ledger funds come from --fund rather than deposits.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"nitropay/internal/app"
	"nitropay/internal/clearnodesim"
	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		listen    string
		funds     []string
		tokenTTL  time.Duration
		brokerHex string
		challenge uint64
		logLevel  string
	)
	cmd := &cobra.Command{
		Use:          "clearnode-sim",
		Short:        "Run a simulated clearing node",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			nplog.Configure(nplog.Config{Level: logLevel, Service: "clearnode-sim", Console: true})
			log := nplog.WithComponent("main")

			prefund, err := parseFunds(funds)
			if err != nil {
				return err
			}
			defaults := app.Default()
			cfg := clearnodesim.Config{
				TokenTTL:        tokenTTL,
				Assets:          defaults.Assets,
				ChallengePeriod: challenge,
				Prefund:         prefund,
			}
			if len(defaults.Networks) > 0 {
				cfg.Adjudicator = defaults.Networks[0].Adjudicator
			}
			if brokerHex != "" {
				key, err := crypto.HexToECDSA(strings.TrimPrefix(brokerHex, "0x"))
				if err != nil {
					return fmt.Errorf("--broker-key: %w", err)
				}
				cfg.BrokerKey = key
			}
			l := nplog.Base()
			cfg.Logger = &l
			node, err := clearnodesim.New(cfg)
			if err != nil {
				return err
			}

			r := chi.NewRouter()
			r.Use(chimw.Recoverer)
			r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok\n")) })
			r.Handle("/ws", node)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := &http.Server{Addr: listen, Handler: r, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdown)
			}()

			log.Info().Str("addr", listen).Str("broker", node.Broker().Hex()).Msg("clearnode simulator listening on /ws")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8000", "listen address")
	cmd.Flags().StringArrayVar(&funds, "fund", nil, "ledger balance credited to every new wallet, as asset=amount (repeatable)")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime cap of issued auth tokens")
	cmd.Flags().Uint64Var(&challenge, "challenge", 3600, "dispute window in seconds written into channel definitions")
	cmd.Flags().StringVar(&brokerHex, "broker-key", "", "hex private key of the broker (random when empty)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func parseFunds(values []string) ([]domain.Balance, error) {
	out := make([]domain.Balance, 0, len(values))
	for _, v := range values {
		asset, amount, ok := strings.Cut(v, "=")
		if !ok || asset == "" {
			return nil, fmt.Errorf("--fund %q: want asset=amount", v)
		}
		d, err := decimal.NewFromString(amount)
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("--fund %q: amount must be a positive number", v)
		}
		out = append(out, domain.Balance{Asset: domain.AssetSymbol(asset), Amount: d})
	}
	return out, nil
}
