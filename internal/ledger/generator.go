package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced batches for settlement operations
type JournalGenerator struct {
	platformID string
}

func NewJournalGenerator(platformID string) *JournalGenerator {
	return &JournalGenerator{platformID: platformID}
}

// PlatformID is the owner id of the platform fee account.
func (jg *JournalGenerator) PlatformID() string {
	return jg.platformID
}

// NewOperation builds an operation header stamped at now.
func NewOperation(kind OperationKind, status OperationStatus, meta Metadata, now time.Time) *Operation {
	return &Operation{
		OperationID: uuid.New(),
		Kind:        kind,
		Status:      status,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// transfer appends a debit on from and a credit on to. Zero amounts produce
// no entries.
func transfer(b *Batch, from, to AccountKey, amount int64, description string) {
	if amount == 0 {
		return
	}
	ts := b.Operation.CreatedAt
	b.Entries = append(b.Entries,
		Entry{
			EntryID:     uuid.New(),
			OperationID: b.Operation.OperationID,
			Account:     from,
			Debit:       amount,
			Description: description,
			CreatedAt:   ts,
		},
		Entry{
			EntryID:     uuid.New(),
			OperationID: b.Operation.OperationID,
			Account:     to,
			Credit:      amount,
			Description: description,
			CreatedAt:   ts,
		},
	)
}

func finish(b *Batch) (*Batch, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("generated batch invalid: %w", err)
	}
	return b, nil
}

// GenerateEscrowLock moves each party's stake into the escrow account.
// Produces 2 × len(parties) entries.
func (jg *JournalGenerator) GenerateEscrowLock(op *Operation, escrowID string, parties []string, stake int64) (*Batch, error) {
	if stake <= 0 {
		return nil, fmt.Errorf("stake must be positive, got %d", stake)
	}
	b := &Batch{Operation: op, Entries: make([]Entry, 0, 2*len(parties))}
	for _, p := range parties {
		transfer(b, PartyWalletKey(p), EscrowKey(escrowID), stake,
			fmt.Sprintf("stake locked for escrow %s", escrowID))
	}
	return finish(b)
}

// GenerateEscrowRelease pays each winner and the platform fee out of the
// escrow account.
func (jg *JournalGenerator) GenerateEscrowRelease(op *Operation, escrowID string, payouts []Payout, platformFee int64) (*Batch, error) {
	b := &Batch{Operation: op, Entries: make([]Entry, 0, 2*len(payouts)+2)}
	for _, p := range payouts {
		transfer(b, EscrowKey(escrowID), PartyWalletKey(p.OwnerID), p.Amount,
			fmt.Sprintf("payout rank %d for escrow %s", p.Rank, escrowID))
	}
	transfer(b, EscrowKey(escrowID), PlatformWalletKey(jg.platformID), platformFee,
		fmt.Sprintf("platform fee for escrow %s", escrowID))
	return finish(b)
}

// GenerateEscrowRefund returns each party's stake from the escrow account.
func (jg *JournalGenerator) GenerateEscrowRefund(op *Operation, escrowID string, parties []string, stake int64) (*Batch, error) {
	if stake <= 0 {
		return nil, fmt.Errorf("stake must be positive, got %d", stake)
	}
	b := &Batch{Operation: op, Entries: make([]Entry, 0, 2*len(parties))}
	for _, p := range parties {
		transfer(b, EscrowKey(escrowID), PartyWalletKey(p), stake,
			fmt.Sprintf("stake refunded from escrow %s", escrowID))
	}
	return finish(b)
}

// GenerateDeposit moves funds from the payment rail into a party wallet.
func (jg *JournalGenerator) GenerateDeposit(op *Operation, ownerID string, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive, got %d", amount)
	}
	b := &Batch{Operation: op, Entries: make([]Entry, 0, 2)}
	transfer(b, ExternalKey(), PartyWalletKey(ownerID), amount,
		fmt.Sprintf("deposit %s", op.ExternalReference))
	return finish(b)
}

// GenerateWithdrawal moves funds from a party wallet to the payment rail.
func (jg *JournalGenerator) GenerateWithdrawal(op *Operation, ownerID string, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("withdrawal amount must be positive, got %d", amount)
	}
	b := &Batch{Operation: op, Entries: make([]Entry, 0, 2)}
	transfer(b, PartyWalletKey(ownerID), ExternalKey(), amount, "withdrawal requested")
	return finish(b)
}

// GenerateWithdrawalReversal returns a rejected withdrawal to the wallet.
func (jg *JournalGenerator) GenerateWithdrawalReversal(op *Operation, ownerID string, withdrawalID uuid.UUID, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reversal amount must be positive, got %d", amount)
	}
	b := &Batch{Operation: op, Entries: make([]Entry, 0, 2)}
	transfer(b, ExternalKey(), PartyWalletKey(ownerID), amount,
		fmt.Sprintf("withdrawal %s rejected", withdrawalID))
	return finish(b)
}
