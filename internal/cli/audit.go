package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"WagerLedger/internal/server"

	"github.com/spf13/cobra"
)

func newEntriesCommand(opts *RootOptions) *cobra.Command {
	var operationID, account string
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List journal entries of one operation or one account",
		Example: `  wagerctl entries --operation 6f1c...
  wagerctl entries --account escrow:m-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				resp, err := s.svc.ListEntries(s.ctx, &server.ListEntriesRequest{
					OperationID: operationID,
					Account:     account,
				})
				if err != nil {
					return err
				}
				return s.out.Success(resp.Entries, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "OPERATION\tACCOUNT\tDEBIT\tCREDIT\tDESCRIPTION")
					for _, e := range resp.Entries {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
							e.OperationID, e.Account, s.format(e.Debit), s.format(e.Credit), e.Description)
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&operationID, "operation", "", "operation id")
	cmd.Flags().StringVar(&account, "account", "", "account as type:ref, e.g. party_wallet:alice")
	cmd.MarkFlagsMutuallyExclusive("operation", "account")
	cmd.MarkFlagsOneRequired("operation", "account")
	return cmd
}

func newOperationsCommand(opts *RootOptions) *cobra.Command {
	var owner, escrowID string
	var limit int
	cmd := &cobra.Command{
		Use:   "operations",
		Short: "List operations of an owner or an escrow, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				resp, err := s.svc.ListOperations(s.ctx, &server.ListOperationsRequest{
					OwnerID:  owner,
					EscrowID: escrowID,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				return s.out.Success(resp.Operations, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "OPERATION\tKIND\tSTATUS\tAMOUNT\tCREATED")
					for _, op := range resp.Operations {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
							op.OperationID, op.Kind, op.Status, s.format(op.Amount),
							op.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
					}
					tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id")
	cmd.Flags().StringVar(&escrowID, "escrow", "", "escrow id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (service default when 0)")
	cmd.MarkFlagsOneRequired("owner", "escrow")
	return cmd
}

func newVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay the journal and check it against stored balances",
		Long: `Replays every journal entry and reports unbalanced operations, a
non-zero journal total, stored balances that disagree with the journal and
negative internal balances. Exits 1 when any violation is found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				report, err := s.svc.VerifyIntegrity(s.ctx, &server.VerifyIntegrityRequest{})
				if err != nil {
					return err
				}
				err = s.out.Success(report, func(w io.Writer) {
					state := "healthy"
					if !report.IsHealthy {
						state = "VIOLATIONS"
					}
					fmt.Fprintf(w, "%s  entries %d  operations %d\n", state, report.EntriesScanned, report.OperationsScanned)
					if report.GlobalImbalance != 0 {
						fmt.Fprintf(w, "journal total off by %s\n", s.format(report.GlobalImbalance))
					}
					for _, u := range report.UnbalancedOperations {
						fmt.Fprintf(w, "unbalanced %s  debits %s  credits %s\n",
							u.OperationID, s.format(u.Debits), s.format(u.Credits))
					}
					for _, m := range report.Mismatches {
						fmt.Fprintf(w, "mismatch %s %s  stored %s  journal %s\n",
							m.Account, m.Field, s.format(m.Stored), s.format(m.Expected))
					}
					for _, n := range report.NegativeBalances {
						fmt.Fprintf(w, "negative %s  %s\n", n.Account, s.format(n.Balance))
					}
				})
				if err != nil {
					return err
				}
				if !report.IsHealthy {
					return NewExitError(ExitFailure, "journal integrity violations found")
				}
				return nil
			})
		},
	}
}

func newPolicyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Show the settlement policy in force",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				p, err := s.svc.GetPolicy(s.ctx, &server.GetPolicyRequest{})
				if err != nil {
					return err
				}
				return s.out.Success(p, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintf(tw, "currency\t%s (scale %d)\n", p.Currency, p.Scale)
					fmt.Fprintf(tw, "fee\t%d bps\n", p.FeeBasisPoints)
					fmt.Fprintf(tw, "stake\t%s .. %s\n", s.format(p.MinStake), s.format(p.MaxStake))
					fmt.Fprintf(tw, "withdrawal\t%s .. %s\n", s.format(p.MinWithdrawal), s.format(p.MaxWithdrawal))
					fmt.Fprintf(tw, "max parties\t%d\n", p.MaxParties)
					fmt.Fprintf(tw, "group payout\t%s\n", p.GroupPayout)
					fmt.Fprintf(tw, "platform owner\t%s\n", p.PlatformOwnerID)
					tw.Flush()
				})
			})
		},
	}
}
