package query

import (
	"time"

	"WagerLedger/internal/escrow"
	"WagerLedger/internal/ledger"

	"github.com/google/uuid"
)

// EscrowResponse represents an escrow record for API queries.
type EscrowResponse struct {
	EscrowID      string          `json:"escrow_id"`
	State         string          `json:"state"`
	PayoutPolicy  string          `json:"payout_policy"`
	StakePerParty int64           `json:"stake_per_party"`
	TotalAmount   int64           `json:"total_amount"`
	Parties       []PartyResponse `json:"parties"`
	WinnerID      string          `json:"winner_id,omitempty"`
	Payout        int64           `json:"payout,omitempty"`
	Fee           int64           `json:"fee,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	LockOperation string          `json:"lock_operation_id"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

type PartyResponse struct {
	OwnerID string `json:"owner_id"`
	Stake   int64  `json:"stake"`
	Rank    int    `json:"rank,omitempty"`
	Payout  int64  `json:"payout,omitempty"`
}

func escrowResponse(r *escrow.Record) *EscrowResponse {
	out := &EscrowResponse{
		EscrowID:      r.EscrowID,
		State:         string(r.State),
		PayoutPolicy:  r.PayoutPolicy.String(),
		StakePerParty: r.StakePerParty,
		TotalAmount:   r.TotalAmount,
		WinnerID:      r.Resolution.WinnerID,
		Payout:        r.Resolution.Payout,
		Fee:           r.Resolution.Fee,
		Reason:        r.Resolution.Reason,
		LockOperation: r.LockOperation,
		CreatedAt:     r.CreatedAt,
	}
	if !r.Resolution.ResolvedAt.IsZero() {
		at := r.Resolution.ResolvedAt
		out.ResolvedAt = &at
	}
	for _, p := range r.Parties {
		out.Parties = append(out.Parties, PartyResponse{
			OwnerID: p.OwnerID,
			Stake:   p.Stake,
			Rank:    p.Rank,
			Payout:  p.Payout,
		})
	}
	return out
}

// OperationResponse represents an operation header for API queries.
type OperationResponse struct {
	OperationID       uuid.UUID `json:"operation_id"`
	Kind              string    `json:"kind"`
	Status            string    `json:"status"`
	OwnerID           string    `json:"owner_id,omitempty"`
	EscrowID          string    `json:"escrow_id,omitempty"`
	Amount            int64     `json:"amount"`
	ExternalReference string    `json:"external_reference,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func operationResponse(op *ledger.Operation) OperationResponse {
	return OperationResponse{
		OperationID:       op.OperationID,
		Kind:              string(op.Kind),
		Status:            string(op.Status),
		OwnerID:           op.OwnerID,
		EscrowID:          op.EscrowID,
		Amount:            op.Amount,
		ExternalReference: op.ExternalReference,
		CreatedAt:         op.CreatedAt,
		UpdatedAt:         op.UpdatedAt,
	}
}

// JournalEntry represents a ledger entry for API queries.
type JournalEntry struct {
	EntryID     uuid.UUID `json:"entry_id"`
	OperationID uuid.UUID `json:"operation_id"`
	Account     string    `json:"account"` // type:ref
	Debit       int64     `json:"debit"`
	Credit      int64     `json:"credit"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func journalEntry(e ledger.Entry) JournalEntry {
	return JournalEntry{
		EntryID:     e.EntryID,
		OperationID: e.OperationID,
		Account:     e.Account.AccountPath(),
		Debit:       e.Debit,
		Credit:      e.Credit,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
	}
}

// EntryFilter selects journal entries by operation or by account. Exactly
// one field must be set.
type EntryFilter struct {
	OperationID uuid.UUID
	Account     string // type:ref
}

// IntegrityReport is the result of replaying the journal against the
// stored account and escrow rows.
type IntegrityReport struct {
	IsHealthy            bool                  `json:"is_healthy"`
	EntriesScanned       int                   `json:"entries_scanned"`
	OperationsScanned    int                   `json:"operations_scanned"`
	GlobalImbalance      int64                 `json:"global_imbalance"`
	UnbalancedOperations []UnbalancedOperation `json:"unbalanced_operations,omitempty"`
	Mismatches           []BalanceMismatch     `json:"mismatches,omitempty"`
	NegativeBalances     []NegativeBalance     `json:"negative_balances,omitempty"`
	CheckedAt            time.Time             `json:"checked_at"`
}

// UnbalancedOperation is an operation whose debits and credits differ.
type UnbalancedOperation struct {
	OperationID uuid.UUID `json:"operation_id"`
	Debits      int64     `json:"debits"`
	Credits     int64     `json:"credits"`
}

// BalanceMismatch is a stored balance that disagrees with the journal.
type BalanceMismatch struct {
	Account  string `json:"account"`
	Field    string `json:"field"` // spendable, locked or held
	Stored   int64  `json:"stored"`
	Expected int64  `json:"expected"`
}

type NegativeBalance struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}
