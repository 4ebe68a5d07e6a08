package ledger

import (
	"WagerLedger/internal/fee"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MetadataVersion is written alongside every operation payload.
const MetadataVersion = 1

// Metadata is the typed payload of an operation. Each OperationKind has
// exactly one implementation.
type Metadata interface {
	Kind() OperationKind
}

type LockMetadata struct {
	Parties       []string      `json:"parties"`
	StakePerParty int64         `json:"stake_per_party"`
	PayoutPolicy  string        `json:"payout_policy"`
	EstimatedFee  fee.Breakdown `json:"estimated_fee"`
}

func (LockMetadata) Kind() OperationKind { return OpEscrowLock }

// Payout is the amount credited to one ranked winner.
type Payout struct {
	OwnerID string `json:"owner_id"`
	Rank    int    `json:"rank"`
	Amount  int64  `json:"amount"`
}

type ReleaseMetadata struct {
	Payouts    []Payout      `json:"payouts"`
	Fee        fee.Breakdown `json:"fee"`
	PlatformID string        `json:"platform_id"`
}

func (ReleaseMetadata) Kind() OperationKind { return OpEscrowRelease }

type RefundMetadata struct {
	Reason        string   `json:"reason"`
	Parties       []string `json:"parties"`
	StakePerParty int64    `json:"stake_per_party"`
}

func (RefundMetadata) Kind() OperationKind { return OpEscrowRefund }

type DepositMetadata struct {
	Source string `json:"source"` // api, webhook
}

func (DepositMetadata) Kind() OperationKind { return OpDeposit }

type WithdrawalMetadata struct {
	PayoutState     string `json:"payout_state"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

func (WithdrawalMetadata) Kind() OperationKind { return OpWithdrawal }

type ReversalMetadata struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	Reason       string    `json:"reason"`
}

func (ReversalMetadata) Kind() OperationKind { return OpWithdrawalReversal }

// EncodeMetadata serializes m for storage.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// DecodeMetadata parses a stored payload back into the type for kind.
func DecodeMetadata(kind OperationKind, version int, payload []byte) (Metadata, error) {
	if version != MetadataVersion {
		return nil, fmt.Errorf("unsupported metadata version %d for %s", version, kind)
	}

	var (
		m   Metadata
		err error
	)
	switch kind {
	case OpEscrowLock:
		var v LockMetadata
		err = json.Unmarshal(payload, &v)
		m = v
	case OpEscrowRelease:
		var v ReleaseMetadata
		err = json.Unmarshal(payload, &v)
		m = v
	case OpEscrowRefund:
		var v RefundMetadata
		err = json.Unmarshal(payload, &v)
		m = v
	case OpDeposit:
		var v DepositMetadata
		err = json.Unmarshal(payload, &v)
		m = v
	case OpWithdrawal:
		var v WithdrawalMetadata
		err = json.Unmarshal(payload, &v)
		m = v
	case OpWithdrawalReversal:
		var v ReversalMetadata
		err = json.Unmarshal(payload, &v)
		m = v
	default:
		return nil, fmt.Errorf("unknown operation kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", kind, err)
	}
	return m, nil
}
