package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/auth"
	"github.com/clearskynet/clearsky/go/extensions/catalog"
	"github.com/clearskynet/clearsky/go/http/server"
	"github.com/clearskynet/clearsky/go/mechanisms/evm/native/facilitator"
	signer "github.com/clearskynet/clearsky/go/signers/evm"
)

func newServeCommand(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the marketplace service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if listen == "" {
				listen = a.cfg.Service.Listen
			}

			chain, err := a.cfg.Chain()
			if err != nil {
				return err
			}
			var reader *signer.ChainReader
			for _, url := range chain.RPCURLs {
				reader, err = signer.DialChainReader(ctx, url)
				if err == nil {
					break
				}
				a.logger.Warn("rpc unavailable", zap.String("url", url), zap.Error(err))
			}
			if reader == nil {
				return fmt.Errorf("no reachable RPC for %s", chain.DisplayName())
			}

			verifier := facilitator.NewNativePaymentVerifier(&facilitator.Config{
				Confirmations: a.cfg.Service.Confirmations,
			}).Register(chain.Network, reader)

			sessions := auth.NewSessions(a.cfg.Auth.SessionTTL)
			login := auth.NewWalletLogin(reader, sessions, chain.ChainID)

			srv := server.New(catalog.New(), verifier, sessions,
				server.WithLogger(a.logger),
				server.WithWalletLogin(login),
			)
			a.logger.Info("starting marketplace",
				zap.String("network", string(chain.Network)),
				zap.Uint64("confirmations", a.cfg.Service.Confirmations),
				zap.String("version", clearsky.Version))
			return srv.Run(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	return cmd
}
