package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "clearsky",
		Short:         "ClearSky air-quality data marketplace",
		Long:          `clearsky buys refined air-quality reports and derivatives with the native IP token, registers sensors and runs the marketplace service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(a.configPath)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("CLEARSKY_CONFIG"), "path to the YAML config file")

	cmd.AddCommand(
		newServeCommand(a),
		newListCommand(a, "reports"),
		newListCommand(a, "derivatives"),
		newPurchaseCommand(a),
		newResumeCommand(a),
		newDevicesCommand(a),
		newRegisterCommand(a),
		newLoginCommand(a),
		newWIPCommand(a, "wrap"),
		newWIPCommand(a, "unwrap"),
	)
	return cmd
}
