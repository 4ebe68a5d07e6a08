package query

import (
	"time"

	"WagerLedger/internal/ledger"
)

// BalanceResponse is an account balance as served to API callers.
type BalanceResponse struct {
	OwnerID   string    `json:"owner_id"`
	Kind      string    `json:"kind"`
	Spendable int64     `json:"spendable"`
	Locked    int64     `json:"locked"`
	Total     int64     `json:"total"` // spendable + locked
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func balanceResponse(a *ledger.Account) *BalanceResponse {
	return &BalanceResponse{
		OwnerID:   a.OwnerID,
		Kind:      string(a.Kind),
		Spendable: a.Spendable,
		Locked:    a.Locked,
		Total:     a.Total(),
		Version:   a.Version,
		UpdatedAt: a.UpdatedAt,
	}
}
