// Package cli implements wagerctl, the operator command line for the
// settlement service.
package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"WagerLedger/internal/config"
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/server"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Addr    string
	Format  string // text or json
	Timeout time.Duration

	dial dialFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// dialFunc returns a settlement client and its close function.
type dialFunc func(addr string) (server.SettlementServer, func() error, error)

func dialGRPC(addr string) (server.SettlementServer, func() error, error) {
	c, err := server.Dial(addr)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}

// NewRootCommand creates the wagerctl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(dialGRPC)
}

func newRootCommand(dial dialFunc) *cobra.Command {
	opts := &RootOptions{dial: dial}

	cmd := &cobra.Command{
		Use:   "wagerctl",
		Short: "Operate the wager settlement ledger",
		Long: `wagerctl talks to wagerd over gRPC to move funds between wallets and
escrows and to audit the journal. Amounts are decimals in the service
currency, e.g. 12.50.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Addr, "addr", "localhost:9090", "wagerd gRPC address")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "per-command deadline")

	cmd.AddCommand(
		newOpenCommand(opts),
		newBalanceCommand(opts),
		newDepositCommand(opts),
		newWithdrawCommand(opts),
		newConfirmWithdrawalCommand(opts),
		newRejectWithdrawalCommand(opts),
		newLockCommand(opts),
		newLockGroupCommand(opts),
		newReleaseCommand(opts),
		newRefundCommand(opts),
		newEscrowCommand(opts),
		newEntriesCommand(opts),
		newOperationsCommand(opts),
		newVerifyCommand(opts),
		newPolicyCommand(opts),
		newMigrateCommand(opts),
	)
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// session is one connected command invocation.
type session struct {
	ctx  context.Context
	svc  server.SettlementServer
	out  *OutputFormatter
	curr *config.Currency
}

// run dials the service, runs fn and converts domain errors to exit codes.
func (o *RootOptions) run(cmd *cobra.Command, fn func(s *session) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	defer cancel()

	svc, closeFn, err := o.dial(o.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "connect to "+o.Addr, err)
	}
	defer closeFn()

	s := &session{
		ctx: ctx,
		svc: svc,
		out: &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()},
	}
	err = fn(s)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}

	code := apperrors.CodeOf(err)
	_ = s.out.Error(string(code), err.Error())
	if apperrors.IsRetryable(err) {
		return WrapExitError(ExitCommandError, "service unavailable", err)
	}
	return WrapExitError(ExitFailure, string(code), err)
}

// currency fetches the service currency once per session.
func (s *session) currency() (config.Currency, error) {
	if s.curr != nil {
		return *s.curr, nil
	}
	p, err := s.svc.GetPolicy(s.ctx, &server.GetPolicyRequest{})
	if err != nil {
		return config.Currency{}, err
	}
	s.curr = &config.Currency{Code: p.Currency, Scale: p.Scale}
	return *s.curr, nil
}

// amount parses a decimal argument in the service currency.
func (s *session) amount(arg string) (int64, error) {
	c, err := s.currency()
	if err != nil {
		return 0, err
	}
	v, err := c.Parse(arg)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "invalid amount", err)
	}
	return v, nil
}

// format renders minor units in the service currency, or as a bare integer
// when the policy cannot be fetched.
func (s *session) format(minor int64) string {
	c, err := s.currency()
	if err != nil {
		return fmt.Sprint(minor)
	}
	return c.Format(minor)
}
