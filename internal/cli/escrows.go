package cli

import (
	"fmt"
	"io"

	"WagerLedger/internal/fee"
	"WagerLedger/internal/server"

	"github.com/spf13/cobra"
)

func (s *session) printLock(w io.Writer, resp *server.LockResponse) {
	fmt.Fprintf(w, "escrow %s locked  operation %s\n", resp.EscrowID, resp.OperationID)
	s.printFee(w, resp.EstimatedFee)
}

func (s *session) printFee(w io.Writer, b fee.Breakdown) {
	fmt.Fprintf(w, "pot %s  fee %s  payout %s\n",
		s.format(b.TotalPot), s.format(b.PlatformFee), s.format(b.WinnerPayout))
}

func newLockCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lock <escrow> <creator> <opponent> <stake>",
		Short: "Lock equal stakes from two parties into an escrow",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				stake, err := s.amount(args[3])
				if err != nil {
					return err
				}
				resp, err := s.svc.LockFunds(s.ctx, &server.LockFundsRequest{
					EscrowID:   args[0],
					CreatorID:  args[1],
					OpponentID: args[2],
					Stake:      stake,
				})
				if err != nil {
					return err
				}
				return s.out.Success(resp, func(w io.Writer) { s.printLock(w, resp) })
			})
		},
	}
}

func newLockGroupCommand(opts *RootOptions) *cobra.Command {
	var payout string
	cmd := &cobra.Command{
		Use:   "lock-group <escrow> <stake> <party> <party>...",
		Short: "Lock equal stakes from a group into an escrow",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				stake, err := s.amount(args[1])
				if err != nil {
					return err
				}
				resp, err := s.svc.LockGroupFunds(s.ctx, &server.LockGroupFundsRequest{
					EscrowID:     args[0],
					Parties:      args[2:],
					Stake:        stake,
					PayoutPolicy: payout,
				})
				if err != nil {
					return err
				}
				return s.out.Success(resp, func(w io.Writer) { s.printLock(w, resp) })
			})
		},
	}
	cmd.Flags().StringVar(&payout, "payout", "", `payout policy, "winner_takes_all", "equal_split" or "ranked:5000,3500,1500" (default: service policy)`)
	return cmd
}

func newReleaseCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release <escrow> <winner> [<second> ...]",
		Short: "Pay a locked escrow out to its winner, ranked winners or winning team",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				req := &server.ReleaseRequest{EscrowID: args[0]}
				if len(args) == 2 {
					req.WinnerID = args[1]
				} else {
					req.Ranking = args[1:]
				}
				resp, err := s.svc.Release(s.ctx, req)
				if err != nil {
					return err
				}
				return s.out.Success(resp, func(w io.Writer) {
					fmt.Fprintf(w, "operation %s\n", resp.OperationID)
					s.printFee(w, resp.Fee)
					for _, p := range resp.Payouts {
						fmt.Fprintf(w, "  #%d %s %s\n", p.Rank, p.OwnerID, s.format(p.Amount))
					}
				})
			})
		},
	}
}

func newRefundCommand(opts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "refund <escrow>",
		Short: "Return every stake of a locked escrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				resp, err := s.svc.Refund(s.ctx, &server.RefundRequest{EscrowID: args[0], Reason: reason})
				if err != nil {
					return err
				}
				return s.out.Success(resp, func(w io.Writer) {
					fmt.Fprintf(w, "refunded  operation %s\n", resp.OperationID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "refund reason recorded on the escrow")
	return cmd
}

func newEscrowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "escrow <escrow>",
		Short: "Show an escrow and its parties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(s *session) error {
				esc, err := s.svc.GetEscrow(s.ctx, &server.GetEscrowRequest{EscrowID: args[0]})
				if err != nil {
					return err
				}
				return s.out.Success(esc, func(w io.Writer) {
					fmt.Fprintf(w, "escrow %s  %s  %s\n", esc.EscrowID, esc.State, esc.PayoutPolicy)
					fmt.Fprintf(w, "stake %s  total %s\n", s.format(esc.StakePerParty), s.format(esc.TotalAmount))
					if esc.ResolvedAt != nil {
						fmt.Fprintf(w, "resolved %s  fee %s", esc.ResolvedAt.Format("2006-01-02T15:04:05Z07:00"), s.format(esc.Fee))
						if esc.Reason != "" {
							fmt.Fprintf(w, "  reason %q", esc.Reason)
						}
						fmt.Fprintln(w)
					}
					for _, p := range esc.Parties {
						line := fmt.Sprintf("  %s  stake %s", p.OwnerID, s.format(p.Stake))
						if p.Rank > 0 {
							line += fmt.Sprintf("  #%d  payout %s", p.Rank, s.format(p.Payout))
						}
						fmt.Fprintln(w, line)
					}
				})
			})
		},
	}
}
