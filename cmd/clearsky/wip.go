package main

import (
	"fmt"

	"github.com/spf13/cobra"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/mechanisms/evm"
	"github.com/clearskynet/clearsky/go/mechanisms/evm/license"
)

// newWIPCommand wraps native IP into WIP, or unwraps it back
func newWIPCommand(a *app, op string) *cobra.Command {
	short := "Wrap native IP into WIP"
	if op == "unwrap" {
		short = "Unwrap WIP back into native IP"
	}
	return &cobra.Command{
		Use:   op + " <amount>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			amount, err := evm.ParseAmount(args[0], clearsky.NativeDecimals)
			if err != nil {
				return err
			}
			s, err := a.localSigner(ctx)
			if err != nil {
				return err
			}

			wip := license.NewWIP(s)
			var txHash string
			if op == "wrap" {
				txHash, err = wip.Wrap(ctx, amount)
			} else {
				txHash, err = wip.Unwrap(ctx, amount)
			}
			if err != nil {
				return err
			}

			chain, err := a.cfg.Chain()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s IP: %s\n", op, args[0], chain.TxURL(txHash))
			return nil
		},
	}
}
