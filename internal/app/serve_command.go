package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	clierr "github.com/ggonzalez94/amm-swap/internal/errors"
	"github.com/ggonzalez94/amm-swap/internal/server"
	"github.com/spf13/cobra"
)

const shutdownGrace = 15 * time.Second

func (s *runtimeState) newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP swap API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := s.service(ctx)
			if err != nil {
				return err
			}
			settings := s.settings.Server
			if listen != "" {
				settings.Listen = listen
			}
			srv, err := server.New(settings, svc, s.gateway, s.log)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "build server", err)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if err != nil {
					return clierr.Wrap(clierr.CodeUnavailable, "serve", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "shutdown server", err)
			}
			return <-errCh
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides server.listen)")
	return cmd
}
