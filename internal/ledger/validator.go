package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies the journal is zero-sum across all accounts,
// the external rail included.
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("global balance is non-zero: %d", total)
	}
	return nil
}

// ValidateInternalNonNegative checks every account except the external rail,
// which is negative by the net amount deposited.
func (v *InvariantValidator) ValidateInternalNonNegative() []error {
	var errs []error
	for _, k := range v.tracker.Keys() {
		if k.Type == AccountExternal {
			continue
		}
		if err := v.tracker.ValidateNonNegative(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ValidateEscrowHeld verifies an escrow holds exactly want.
// want is the total while LOCKED and zero once terminal.
func (v *InvariantValidator) ValidateEscrowHeld(escrowID string, want int64) error {
	if got := v.tracker.GetEscrowHeld(escrowID); got != want {
		return fmt.Errorf("escrow %s holds %d, want %d", escrowID, got, want)
	}
	return nil
}

// ValidateSpendable verifies the journal view of a wallet matches the
// stored spendable balance.
func (v *InvariantValidator) ValidateSpendable(key AccountKey, stored int64) error {
	if got := v.tracker.GetBalance(key); got != stored {
		return fmt.Errorf("account %s: journal balance %d, stored spendable %d",
			key.AccountPath(), got, stored)
	}
	return nil
}
