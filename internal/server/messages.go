package server

import (
	"WagerLedger/internal/fee"
	"WagerLedger/internal/ledger"
	"WagerLedger/internal/query"
)

// Wire messages of wager.settlement.v1.SettlementService. Amounts are int64
// minor units of the service currency; GetPolicy reports the currency scale.

type Balance struct {
	OwnerID   string `json:"owner_id"`
	Spendable int64  `json:"spendable"`
	Locked    int64  `json:"locked"`
}

type OpenAccountRequest struct {
	OwnerID string `json:"owner_id"`
}

type OpenAccountResponse struct {
	Balance Balance `json:"balance"`
	Created bool    `json:"created"`
}

type GetBalanceRequest struct {
	OwnerID string `json:"owner_id"`
}

type GetBalanceResponse struct {
	Balance Balance `json:"balance"`
}

type DepositRequest struct {
	OwnerID           string `json:"owner_id"`
	Amount            int64  `json:"amount"`
	ExternalReference string `json:"external_reference"`
}

type DepositResponse struct {
	OperationID string  `json:"operation_id"`
	Balance     Balance `json:"balance"`
}

type WithdrawRequest struct {
	OwnerID  string `json:"owner_id"`
	Amount   int64  `json:"amount"`
	Eligible bool   `json:"eligible"`
}

type WithdrawResponse struct {
	OperationID string  `json:"operation_id"`
	Balance     Balance `json:"balance"`
	PayoutState string  `json:"payout_state"`
}

type ConfirmWithdrawalRequest struct {
	OperationID string `json:"operation_id"`
}

type ConfirmWithdrawalResponse struct {
	OperationID string `json:"operation_id"`
	PayoutState string `json:"payout_state"`
}

type RejectWithdrawalRequest struct {
	OperationID string `json:"operation_id"`
	Reason      string `json:"reason"`
}

type RejectWithdrawalResponse struct {
	ReversalOperationID string  `json:"reversal_operation_id"`
	Balance             Balance `json:"balance"`
}

type LockFundsRequest struct {
	EscrowID   string `json:"escrow_id"`
	CreatorID  string `json:"creator_id"`
	OpponentID string `json:"opponent_id"`
	Stake      int64  `json:"stake"`
}

type LockGroupFundsRequest struct {
	EscrowID     string   `json:"escrow_id"`
	Parties      []string `json:"parties"`
	Stake        int64    `json:"stake"`
	PayoutPolicy string   `json:"payout_policy,omitempty"`
}

type LockResponse struct {
	EscrowID     string        `json:"escrow_id"`
	OperationID  string        `json:"operation_id"`
	EstimatedFee fee.Breakdown `json:"estimated_fee"`
}

// ReleaseRequest names a single winner or a full ranking, first place first.
type ReleaseRequest struct {
	EscrowID string   `json:"escrow_id"`
	WinnerID string   `json:"winner_id,omitempty"`
	Ranking  []string `json:"ranking,omitempty"`
}

type ReleaseResponse struct {
	OperationID string          `json:"operation_id"`
	Fee         fee.Breakdown   `json:"fee"`
	Payouts     []ledger.Payout `json:"payouts"`
}

type RefundRequest struct {
	EscrowID string `json:"escrow_id"`
	Reason   string `json:"reason"`
}

type RefundResponse struct {
	OperationID string `json:"operation_id"`
}

type GetEscrowRequest struct {
	EscrowID string `json:"escrow_id"`
}

type ListEntriesRequest struct {
	OperationID string `json:"operation_id,omitempty"`
	Account     string `json:"account,omitempty"`
}

type ListEntriesResponse struct {
	Entries []query.JournalEntry `json:"entries"`
}

type ListOperationsRequest struct {
	OwnerID  string `json:"owner_id,omitempty"`
	EscrowID string `json:"escrow_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type ListOperationsResponse struct {
	Operations []query.OperationResponse `json:"operations"`
}

type VerifyIntegrityRequest struct{}

type GetPolicyRequest struct{}

type PolicyResponse struct {
	Currency        string `json:"currency"`
	Scale           int    `json:"scale"`
	FeeBasisPoints  int64  `json:"fee_basis_points"`
	MinStake        int64  `json:"min_stake"`
	MaxStake        int64  `json:"max_stake"`
	MinWithdrawal   int64  `json:"min_withdrawal"`
	MaxWithdrawal   int64  `json:"max_withdrawal"`
	MaxParties      int    `json:"max_parties"`
	GroupPayout     string `json:"group_payout"`
	PlatformOwnerID string `json:"platform_owner_id"`
}
