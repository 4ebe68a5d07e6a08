// Package escrow models the lifecycle of one staked engagement. A record is
// created LOCKED and moves exactly once to RELEASED or REFUNDED.
package escrow

import (
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/fee"
	fpmath "WagerLedger/internal/math"
	"fmt"
	"time"
)

type State string

const (
	StateLocked   State = "LOCKED"
	StateReleased State = "RELEASED"
	StateRefunded State = "REFUNDED"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateRefunded
}

// Party is one staker. Rank and Payout are set on release.
type Party struct {
	OwnerID string
	Stake   int64
	Rank    int   // 0 when unranked
	Payout  int64 // 0 unless ranked
}

// Resolution is populated on the terminal transition.
type Resolution struct {
	WinnerID   string // first place on release
	Payout     int64  // total paid to winners
	Fee        int64
	Reason     string // refund reason
	ResolvedAt time.Time
}

type Record struct {
	EscrowID      string
	Parties       []Party // in lock order, creator first
	StakePerParty int64
	TotalAmount   int64
	PayoutPolicy  fee.PayoutPolicy
	State         State
	Resolution    Resolution
	LockOperation string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// New builds a LOCKED record for parties staking stake each.
func New(escrowID string, parties []string, stake int64, policy fee.PayoutPolicy, now time.Time) (*Record, error) {
	if escrowID == "" {
		return nil, apperrors.New(apperrors.CodePolicyViolation, "escrow id is required")
	}
	if len(parties) < 2 {
		return nil, apperrors.Newf(apperrors.CodePolicyViolation, "escrow needs at least 2 parties, got %d", len(parties))
	}
	if stake <= 0 {
		return nil, apperrors.Newf(apperrors.CodePolicyViolation, "stake must be positive, got %d", stake)
	}
	if err := policy.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePolicyViolation, "invalid payout policy", err)
	}
	if policy.Places() > len(parties) {
		return nil, apperrors.Newf(apperrors.CodePolicyViolation,
			"payout policy %s pays %d places but only %d parties", policy, policy.Places(), len(parties))
	}

	seen := make(map[string]struct{}, len(parties))
	ps := make([]Party, 0, len(parties))
	for _, p := range parties {
		if p == "" {
			return nil, apperrors.New(apperrors.CodePolicyViolation, "party id is required")
		}
		if _, dup := seen[p]; dup {
			return nil, apperrors.WithMetadata(apperrors.CodePolicyViolation, "parties must be distinct",
				map[string]string{"owner_id": p})
		}
		seen[p] = struct{}{}
		ps = append(ps, Party{OwnerID: p, Stake: stake})
	}

	total, err := fpmath.CheckedMul(stake, int64(len(parties)))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePolicyViolation, "total amount overflows", err)
	}

	return &Record{
		EscrowID:      escrowID,
		Parties:       ps,
		StakePerParty: stake,
		TotalAmount:   total,
		PayoutPolicy:  policy,
		State:         StateLocked,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// PartyIDs returns the owner ids in lock order.
func (r *Record) PartyIDs() []string {
	ids := make([]string, len(r.Parties))
	for i, p := range r.Parties {
		ids[i] = p.OwnerID
	}
	return ids
}

// HasParty reports whether ownerID staked in this escrow.
func (r *Record) HasParty(ownerID string) bool {
	for _, p := range r.Parties {
		if p.OwnerID == ownerID {
			return true
		}
	}
	return false
}

func (r *Record) requireLocked() error {
	if r.State != StateLocked {
		return apperrors.WithMetadata(apperrors.CodeInvalidState,
			fmt.Sprintf("escrow is %s, want %s", r.State, StateLocked),
			map[string]string{"escrow_id": r.EscrowID, "state": string(r.State)})
	}
	return nil
}

// CheckRanking validates a release ranking against the record: the record
// must be LOCKED, every ranked id a distinct party, and the ranking as long
// as the payout policy pays. For an equal split the ranking is the winning
// team.
func (r *Record) CheckRanking(ranking []string) error {
	if err := r.requireLocked(); err != nil {
		return err
	}
	if err := r.PayoutPolicy.CheckWinners(len(ranking), len(r.Parties)); err != nil {
		return apperrors.WithMetadata(apperrors.CodePolicyViolation, err.Error(),
			map[string]string{"escrow_id": r.EscrowID})
	}
	seen := make(map[string]struct{}, len(ranking))
	for _, id := range ranking {
		if !r.HasParty(id) {
			return apperrors.WithMetadata(apperrors.CodePolicyViolation, "winner is not a party to the escrow",
				map[string]string{"escrow_id": r.EscrowID, "owner_id": id})
		}
		if _, dup := seen[id]; dup {
			return apperrors.WithMetadata(apperrors.CodePolicyViolation, "ranking repeats a party",
				map[string]string{"escrow_id": r.EscrowID, "owner_id": id})
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Release moves the record to RELEASED. payouts are aligned with ranking.
func (r *Record) Release(ranking []string, payouts []int64, platformFee int64, now time.Time) error {
	if err := r.CheckRanking(ranking); err != nil {
		return err
	}
	if len(payouts) != len(ranking) {
		return apperrors.Newf(apperrors.CodeInternal, "got %d payouts for %d ranked parties", len(payouts), len(ranking))
	}

	var paid int64
	for _, p := range payouts {
		paid += p
	}
	if paid+platformFee != r.TotalAmount {
		return apperrors.Newf(apperrors.CodeInternal,
			"payouts %d + fee %d do not match total %d", paid, platformFee, r.TotalAmount)
	}

	for i, id := range ranking {
		for j := range r.Parties {
			if r.Parties[j].OwnerID == id {
				r.Parties[j].Rank = i + 1
				r.Parties[j].Payout = payouts[i]
			}
		}
	}

	r.State = StateReleased
	r.Resolution = Resolution{
		WinnerID:   ranking[0],
		Payout:     paid,
		Fee:        platformFee,
		ResolvedAt: now,
	}
	r.UpdatedAt = now
	return nil
}

// Refund moves the record to REFUNDED.
func (r *Record) Refund(reason string, now time.Time) error {
	if err := r.requireLocked(); err != nil {
		return err
	}
	r.State = StateRefunded
	r.Resolution = Resolution{
		Reason:     reason,
		ResolvedAt: now,
	}
	r.UpdatedAt = now
	return nil
}

// Held is the amount the escrow account must hold in the journal.
func (r *Record) Held() int64 {
	if r.State == StateLocked {
		return r.TotalAmount
	}
	return 0
}
