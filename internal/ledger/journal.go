package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationKind tags the atomic settlement operation that produced a batch
type OperationKind string

const (
	OpEscrowLock         OperationKind = "ESCROW_LOCK"
	OpEscrowRelease      OperationKind = "ESCROW_RELEASE"
	OpEscrowRefund       OperationKind = "ESCROW_REFUND"
	OpDeposit            OperationKind = "DEPOSIT"
	OpWithdrawal         OperationKind = "WITHDRAWAL"
	OpWithdrawalReversal OperationKind = "WITHDRAWAL_REVERSAL"
)

func (k OperationKind) Valid() bool {
	switch k {
	case OpEscrowLock, OpEscrowRelease, OpEscrowRefund, OpDeposit, OpWithdrawal, OpWithdrawalReversal:
		return true
	}
	return false
}

// OperationStatus is the lifecycle of an operation. Everything except
// withdrawals is COMPLETED at commit.
type OperationStatus string

const (
	StatusCompleted OperationStatus = "COMPLETED"
	StatusPending   OperationStatus = "PENDING"
	StatusFailed    OperationStatus = "FAILED"
)

// Operation is the header row every journal entry links to
type Operation struct {
	OperationID       uuid.UUID
	Kind              OperationKind
	Status            OperationStatus
	OwnerID           string // empty for escrow operations
	EscrowID          string // empty for wallet operations
	Amount            int64
	ExternalReference string // unique when set
	Metadata          Metadata
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Entry is a single side of a double-entry transfer.
// Debit means funds leave Account, Credit means funds arrive.
type Entry struct {
	EntryID     uuid.UUID
	OperationID uuid.UUID
	Account     AccountKey
	Debit       int64
	Credit      int64
	Description string
	CreatedAt   time.Time
}

// Amount returns the non-zero side of the entry.
func (e Entry) Amount() int64 {
	if e.Debit != 0 {
		return e.Debit
	}
	return e.Credit
}

// Batch is the operation plus every entry it produced, committed together
type Batch struct {
	Operation *Operation
	Entries   []Entry
}

// Validate ensures the batch is well-formed: every entry has exactly one
// positive side, links to the batch operation, and Σ debits == Σ credits.
// A batch without entries is valid; confirming a withdrawal moves no funds.
func (b *Batch) Validate() error {
	if b.Operation == nil {
		return fmt.Errorf("batch has no operation")
	}
	if !b.Operation.Kind.Valid() {
		return fmt.Errorf("operation %s has unknown kind %q", b.Operation.OperationID, b.Operation.Kind)
	}

	var debits, credits int64
	for _, e := range b.Entries {
		if e.OperationID != b.Operation.OperationID {
			return fmt.Errorf("entry %s has mismatched operation_id", e.EntryID)
		}
		if !e.Account.Type.Valid() || e.Account.Ref == "" {
			return fmt.Errorf("entry %s has invalid account %q", e.EntryID, e.Account.AccountPath())
		}
		if e.Debit < 0 || e.Credit < 0 {
			return fmt.Errorf("entry %s has negative amount", e.EntryID)
		}
		if (e.Debit == 0) == (e.Credit == 0) {
			return fmt.Errorf("entry %s must have exactly one of debit or credit", e.EntryID)
		}
		debits += e.Debit
		credits += e.Credit
	}

	if debits != credits {
		return fmt.Errorf("operation %s is unbalanced: debits=%d credits=%d",
			b.Operation.OperationID, debits, credits)
	}
	return nil
}

// Sums returns total debits and credits of the batch.
func (b *Batch) Sums() (debits, credits int64) {
	for _, e := range b.Entries {
		debits += e.Debit
		credits += e.Credit
	}
	return debits, credits
}
