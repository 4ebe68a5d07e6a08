package ledger

import (
	"fmt"
	"sort"
)

// BalanceTracker rebuilds account balances by replaying journal entries.
// A balance is credits minus debits.
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyEntry applies a single entry to balances
func (bt *BalanceTracker) ApplyEntry(e Entry) {
	bt.balances[e.Account] += e.Credit - e.Debit
}

// ApplyBatch applies all entries in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, e := range batch.Entries {
		bt.ApplyEntry(e)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// GetPartySpendable returns the journal view of an owner's spendable balance.
func (bt *BalanceTracker) GetPartySpendable(ownerID string) int64 {
	return bt.GetBalance(PartyWalletKey(ownerID))
}

// GetEscrowHeld returns the funds still held by an escrow.
func (bt *BalanceTracker) GetEscrowHeld(escrowID string) int64 {
	return bt.GetBalance(EscrowKey(escrowID))
}

// ComputeGlobalBalance sums all account balances (0 for a consistent ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Keys returns every tracked account in path order.
func (bt *BalanceTracker) Keys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	return keys
}
