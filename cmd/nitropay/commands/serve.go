package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	nplog "nitropay/internal/log"
)

func serveCmd() *cobra.Command {
	var listen string
	var connect bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over HTTP until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := nplog.WithComponent("serve")
			ctrl, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer ctrl.Disconnect()

			if listen == "" {
				listen = wire.Config.API.Listen
			}
			g, gctx := errgroup.WithContext(ctx)
			srv := &http.Server{
				Addr:              listen,
				Handler:           wire.API(ctrl).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				BaseContext:       func(net.Listener) context.Context { return gctx },
			}
			g.Go(func() error {
				log.Info().Str("addr", listen).Msg("listening")
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdown)
			})
			if connect {
				g.Go(func() error {
					if err := ctrl.Connect(gctx); err != nil {
						log.Warn().Err(err).Msg("initial connect failed")
					}
					return nil
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&connect, "connect", false, "connect the session on startup")
	return cmd
}
