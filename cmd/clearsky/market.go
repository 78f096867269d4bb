package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	clearsky "github.com/clearskynet/clearsky/go"
)

func newListCommand(a *app, what string) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   what,
		Short: "List marketplace " + what,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := a.backend()
			if err != nil {
				return err
			}
			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer out.Flush()

			if what == "reports" {
				page, err := backend.ListReports(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "ID\tTITLE\tDEVICE\tPRICE\tSELLER")
				for _, r := range page.Items {
					fmt.Fprintf(out, "%s\t%s\t%s\t%s IP\t%s\n", r.ID, r.Title, r.DeviceID, r.Price, r.Seller)
				}
				return footer(out, page.Offset, len(page.Items), page.Total, page.HasMore())
			}

			page, err := backend.ListDerivatives(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "ID\tTITLE\tPARENT\tPRICE\tSELLER")
			for _, d := range page.Items {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s IP\t%s\n", d.ID, d.Title, d.ParentReportID, d.Price, d.Seller)
			}
			return footer(out, page.Offset, len(page.Items), page.Total, page.HasMore())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func footer(w io.Writer, offset, n, total int, more bool) error {
	if n == 0 {
		_, err := fmt.Fprintln(w, "(no listings)")
		return err
	}
	hint := ""
	if more {
		hint = " (use --offset for more)"
	}
	_, err := fmt.Fprintf(w, "\n%d-%d of %d%s\n", offset+1, offset+n, total, hint)
	return err
}

func newPurchaseCommand(a *app) *cobra.Command {
	var withLicense bool
	cmd := &cobra.Command{
		Use:   "purchase <report|derivative> <id>",
		Short: "Buy a listing with the configured wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind := clearsky.ItemKind(args[0])
			if !kind.IsValid() {
				return fmt.Errorf("unknown kind %q, expected report or derivative", args[0])
			}

			purchaser, backend, err := a.purchaser(ctx)
			if err != nil {
				return err
			}
			_, listing, err := backend.GetListing(ctx, kind, args[1])
			if err != nil {
				return err
			}
			req, err := listing.PurchaseRequest(withLicense)
			if err != nil {
				return err
			}

			purchaser.OnStateChange(func(sc clearsky.StateChangeContext) {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s -> %s\n", sc.From, sc.To)
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Buying %q for %s IP\n", listing.Title, listing.Price)
			purchase, err := purchaser.Purchase(ctx, req)
			return printOutcome(cmd.OutOrStdout(), purchase, err)
		},
	}
	cmd.Flags().BoolVar(&withLicense, "license", false, "also mint a license token for the listing's IP asset")
	return cmd
}

func newResumeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [purchase-id]",
		Short: "Resume one interrupted purchase, or every pending one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			purchaser, _, err := a.purchaser(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				purchase, err := purchaser.Resume(ctx, args[0])
				return printOutcome(cmd.OutOrStdout(), purchase, err)
			}

			resumed, err := purchaser.ResumePending(ctx)
			for _, p := range resumed {
				_ = printOutcome(cmd.OutOrStdout(), p, nil)
			}
			if len(resumed) == 0 && err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending purchases")
			}
			return err
		},
	}
}

func printOutcome(w io.Writer, p *clearsky.Purchase, err error) error {
	if p != nil {
		fmt.Fprintf(w, "Purchase %s: %s\n", p.ID, p.State)
		if p.TxHash != "" {
			fmt.Fprintf(w, "  tx:      %s\n", p.TxHash)
		}
		if p.OrderID != "" {
			fmt.Fprintf(w, "  order:   %s\n", p.OrderID)
		}
		if p.LicenseTx != "" {
			fmt.Fprintf(w, "  license: %s %s\n", p.LicenseTx, p.LicenseID)
		}
	}
	if err != nil {
		var pe *clearsky.PurchaseError
		if errors.As(err, &pe) && pe.Retryable() && p != nil {
			fmt.Fprintf(w, "  run `clearsky resume %s` to continue\n", p.ID)
		}
		return errors.New(clearsky.UserMessage(err))
	}
	return nil
}
