package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clearskynet/clearsky/go/auth"
)

func newLoginCommand(a *app) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open a marketplace session and print its token",
		Long: `login signs the backend's login challenge with the configured private key.
With --email it runs the embedded-wallet provider's one-time-password flow instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var session *auth.Session

			if email != "" {
				if a.cfg.Auth.ProviderURL == "" {
					return errors.New("auth.provider_url is not configured")
				}
				otp := auth.NewOTPClient(a.cfg.Auth.ProviderURL, a.cfg.Auth.ProjectID)
				flowID, err := otp.StartEmailOTP(ctx, email)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Code sent to %s. Enter it: ", email)
				code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return fmt.Errorf("failed to read code: %w", err)
				}
				session, err = otp.VerifyOTP(ctx, flowID, strings.TrimSpace(code))
				if err != nil {
					return err
				}
			} else {
				backend, err := a.backend()
				if err != nil {
					return err
				}
				s, err := a.localSigner(ctx)
				if err != nil {
					return err
				}
				challenge, err := backend.RequestChallenge(ctx, s.Sender())
				if err != nil {
					return err
				}
				sig, err := s.SignLogin(*challenge)
				if err != nil {
					return err
				}
				if session, err = backend.LoginWithWallet(ctx, *challenge, sig); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s until %s\n", session.Wallet, session.ExpiresAt.Format("2006-01-02 15:04 MST"))
			fmt.Fprintf(cmd.OutOrStdout(), "export CLEARSKY_BACKEND_TOKEN=%s\n", session.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "log in through the embedded-wallet provider with this email")
	return cmd
}
