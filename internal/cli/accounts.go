package cli

import (
	"fmt"
	"io"

	"WagerLedger/internal/server"

	"github.com/spf13/cobra"
)

func (s *session) printBalance(w io.Writer, b server.Balance) {
	fmt.Fprintf(w, "%s  spendable %s  locked %s\n", b.OwnerID, s.format(b.Spendable), s.format(b.Locked))
}

func newOpenCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "open <owner>",
		Short: "Open a party wallet (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				resp, err := s.svc.OpenAccount(s.ctx, &server.OpenAccountRequest{OwnerID: args[0]})
				if err != nil {
					return err
				}
				return s.out.Success(resp, func(w io.Writer) {
					if resp.Created {
						fmt.Fprintln(w, "opened")
					} else {
						fmt.Fprintln(w, "already open")
					}
					s.printBalance(w, resp.Balance)
				})
			})
		},
	}
}

func newBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <owner>",
		Short: "Show spendable and locked balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				resp, err := s.svc.GetBalance(s.ctx, &server.GetBalanceRequest{OwnerID: args[0]})
				if err != nil {
					return err
				}
				return s.out.Success(resp.Balance, func(w io.Writer) {
					s.printBalance(w, resp.Balance)
				})
			})
		},
	}
}

func newDepositCommand(opts *RootOptions) *cobra.Command {
	var ref string
	cmd := &cobra.Command{
		Use:   "deposit <owner> <amount>",
		Short: "Credit a confirmed external payment to a wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				amount, err := s.amount(args[1])
				if err != nil {
					return err
				}
				resp, err := s.svc.Deposit(s.ctx, &server.DepositRequest{
					OwnerID:           args[0],
					Amount:            amount,
					ExternalReference: ref,
				})
				if err != nil {
					return err
				}
				return s.out.Success(resp, func(w io.Writer) {
					fmt.Fprintf(w, "operation %s\n", resp.OperationID)
					s.printBalance(w, resp.Balance)
				})
			})
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "payment processor reference (required)")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newWithdrawCommand(opts *RootOptions) *cobra.Command {
	var eligible bool
	cmd := &cobra.Command{
		Use:   "withdraw <owner> <amount>",
		Short: "Debit a wallet and queue an external payout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				amount, err := s.amount(args[1])
				if err != nil {
					return err
				}
				resp, err := s.svc.Withdraw(s.ctx, &server.WithdrawRequest{
					OwnerID:  args[0],
					Amount:   amount,
					Eligible: eligible,
				})
				if err != nil {
					return err
				}
				return s.out.Success(resp, func(w io.Writer) {
					fmt.Fprintf(w, "operation %s  payout %s\n", resp.OperationID, resp.PayoutState)
					s.printBalance(w, resp.Balance)
				})
			})
		},
	}
	cmd.Flags().BoolVar(&eligible, "eligible", true, "the owner passed the withdrawal eligibility check")
	return cmd
}

func newConfirmWithdrawalCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm-withdrawal <operation-id>",
		Short: "Mark a pending withdrawal as paid out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				resp, err := s.svc.ConfirmWithdrawal(s.ctx, &server.ConfirmWithdrawalRequest{OperationID: args[0]})
				if err != nil {
					return err
				}
				return s.out.Success(resp, func(w io.Writer) {
					fmt.Fprintf(w, "withdrawal %s %s\n", resp.OperationID, resp.PayoutState)
				})
			})
		},
	}
}

func newRejectWithdrawalCommand(opts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject-withdrawal <operation-id>",
		Short: "Fail a pending withdrawal and return the funds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				resp, err := s.svc.RejectWithdrawal(s.ctx, &server.RejectWithdrawalRequest{
					OperationID: args[0],
					Reason:      reason,
				})
				if err != nil {
					return err
				}
				return s.out.Success(resp, func(w io.Writer) {
					fmt.Fprintf(w, "reversal %s\n", resp.ReversalOperationID)
					s.printBalance(w, resp.Balance)
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the payout failed")
	return cmd
}
