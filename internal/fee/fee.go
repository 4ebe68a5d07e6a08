package fee

import (
	fpmath "WagerLedger/internal/math"
	"fmt"
)

// DefaultFeeBasisPoints is the platform cut applied to every settled pot (10%).
const DefaultFeeBasisPoints int64 = 1000

// Breakdown is the split of a pot between the platform and the winner(s).
// PlatformFee + WinnerPayout == TotalPot holds for every value produced by
// ComputeFeeBreakdown.
type Breakdown struct {
	TotalPot       int64 `json:"total_pot"`
	PlatformFee    int64 `json:"platform_fee"`
	WinnerPayout   int64 `json:"winner_payout"`
	FeeBasisPoints int64 `json:"fee_basis_points"`
}

// ComputeFeeBreakdown rounds the fee half-even to the minor unit and derives
// the payout by subtraction, so the two parts always sum to the pot.
func ComputeFeeBreakdown(totalPot, feeBasisPoints int64) (Breakdown, error) {
	if totalPot < 0 {
		return Breakdown{}, fmt.Errorf("total pot must be non-negative, got %d", totalPot)
	}
	if feeBasisPoints < 0 || feeBasisPoints > fpmath.BasisPointScale {
		return Breakdown{}, fmt.Errorf("fee basis points must be in [0, %d], got %d",
			fpmath.BasisPointScale, feeBasisPoints)
	}

	platformFee, err := fpmath.ApplyBasisPoints(totalPot, feeBasisPoints, fpmath.RoundHalfEven)
	if err != nil {
		return Breakdown{}, fmt.Errorf("compute platform fee: %w", err)
	}

	return Breakdown{
		TotalPot:       totalPot,
		PlatformFee:    platformFee,
		WinnerPayout:   totalPot - platformFee,
		FeeBasisPoints: feeBasisPoints,
	}, nil
}
