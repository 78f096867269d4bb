package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clearskynet/clearsky/go/devices"
	"github.com/clearskynet/clearsky/go/types"
)

func newDevicesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List your registered sensors and where the app would land you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := a.sessionBackend(cmd.Context())
			if err != nil {
				return err
			}
			list, err := backend.ListDevices(cmd.Context())
			if err != nil {
				return err
			}

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "ID\tNAME\tMODEL\tSERIAL\tSTATUS")
			for _, d := range list {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Model, d.SerialNumber, d.Status)
			}
			if err := out.Flush(); err != nil {
				return err
			}

			landing := devices.Landing(list)
			fmt.Fprintf(cmd.OutOrStdout(), "\nLanding: %s (%s)\n", landing.Destination, landing.Path)
			return nil
		},
	}
}

func newRegisterCommand(a *app) *cobra.Command {
	var (
		device   devices.DeviceInput
		location types.Location
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an air-quality sensor to your wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			backend, err := a.sessionBackend(ctx)
			if err != nil {
				return err
			}
			owner, err := a.owner(ctx)
			if err != nil {
				return err
			}

			wizard := devices.NewWizard(backend)
			steps := []interface{}{devices.WalletInput{Owner: owner}, device, location}
			for _, input := range steps {
				if err := wizard.Next(input); err != nil {
					var ve *devices.ValidationError
					if errors.As(err, &ve) {
						for field, msg := range ve.Fields {
							fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", field, msg)
						}
					}
					return err
				}
			}

			registered, err := wizard.Submit(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s), status %s\n", registered.Name, registered.ID, registered.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&device.Name, "name", "", "device name")
	cmd.Flags().StringVar(&device.Model, "model", "", "device model")
	cmd.Flags().StringVar(&device.SerialNumber, "serial", "", "serial number")
	cmd.Flags().Float64Var(&location.Latitude, "lat", 0, "installation latitude")
	cmd.Flags().Float64Var(&location.Longitude, "lon", 0, "installation longitude")
	cmd.Flags().StringVar(&location.Label, "label", "", "installation label")
	return cmd
}
