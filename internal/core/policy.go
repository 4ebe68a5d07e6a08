package core

import (
	"WagerLedger/internal/fee"
	fpmath "WagerLedger/internal/math"
	"fmt"
)

// PlatformOwnerID is the account that collects platform fees unless the
// policy names another.
const PlatformOwnerID = "00000000-0000-0000-0000-000000000000"

// Policy holds the settlement limits of one deployment. Amounts are minor
// units of the ledger currency.
type Policy struct {
	FeeBasisPoints  int64
	MinStake        int64
	MaxStake        int64
	MinWithdrawal   int64
	MaxWithdrawal   int64
	MaxParties      int
	GroupPayout     fee.PayoutPolicy // used by LockGroupFunds when none is given
	PlatformOwnerID string
}

// DefaultPolicy is the policy for a currency with two decimal places:
// stakes 1.00 to 10,000.00, withdrawals 10.00 to 10,000.00, 10% fee.
func DefaultPolicy() Policy {
	return PolicyForScale(2)
}

// PolicyForScale builds the default limits for a currency with the given
// number of minor-unit digits.
func PolicyForScale(scale int) Policy {
	unit := fpmath.NewDecimalConfig(scale).Scale
	return Policy{
		FeeBasisPoints:  fee.DefaultFeeBasisPoints,
		MinStake:        1 * unit,
		MaxStake:        10_000 * unit,
		MinWithdrawal:   10 * unit,
		MaxWithdrawal:   10_000 * unit,
		MaxParties:      10,
		GroupPayout:     fee.DefaultRanked,
		PlatformOwnerID: PlatformOwnerID,
	}
}

// Validate checks the policy is internally consistent.
func (p Policy) Validate() error {
	if p.FeeBasisPoints < 0 || p.FeeBasisPoints > fpmath.BasisPointScale {
		return fmt.Errorf("fee basis points must be in [0, %d], got %d", fpmath.BasisPointScale, p.FeeBasisPoints)
	}
	if p.MinStake <= 0 || p.MaxStake < p.MinStake {
		return fmt.Errorf("invalid stake bounds [%d, %d]", p.MinStake, p.MaxStake)
	}
	if p.MinWithdrawal <= 0 || p.MaxWithdrawal < p.MinWithdrawal {
		return fmt.Errorf("invalid withdrawal bounds [%d, %d]", p.MinWithdrawal, p.MaxWithdrawal)
	}
	if p.MaxParties < 2 {
		return fmt.Errorf("max parties must be at least 2, got %d", p.MaxParties)
	}
	if err := p.GroupPayout.Validate(); err != nil {
		return fmt.Errorf("group payout: %w", err)
	}
	if p.GroupPayout.Places() > p.MaxParties {
		return fmt.Errorf("group payout pays %d places, max parties is %d", p.GroupPayout.Places(), p.MaxParties)
	}
	if p.PlatformOwnerID == "" {
		return fmt.Errorf("platform owner id is required")
	}
	return nil
}
