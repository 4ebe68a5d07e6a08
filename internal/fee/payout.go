package fee

import (
	fpmath "WagerLedger/internal/math"
	"fmt"
	"strconv"
	"strings"
)

// PayoutKind selects how a winner payout is distributed across ranked parties.
type PayoutKind string

const (
	PayoutWinnerTakesAll PayoutKind = "winner_takes_all"
	PayoutRanked         PayoutKind = "ranked"
	PayoutEqualSplit     PayoutKind = "equal_split"
)

// PayoutPolicy describes the distribution of the winner payout of a group
// engagement. Shares are basis points of the payout per rank and must sum to
// 10000.
type PayoutPolicy struct {
	Kind   PayoutKind
	Shares []int64
}

// WinnerTakesAll is the policy for two-party engagements.
var WinnerTakesAll = PayoutPolicy{Kind: PayoutWinnerTakesAll}

// DefaultRanked pays first, second and third place 50/35/15.
var DefaultRanked = PayoutPolicy{Kind: PayoutRanked, Shares: []int64{5000, 3500, 1500}}

// EqualSplit shares the payout equally across the winning team named at
// release.
var EqualSplit = PayoutPolicy{Kind: PayoutEqualSplit}

// Places returns the number of ranked parties the policy pays. Zero means
// the number of winners is chosen at release.
func (p PayoutPolicy) Places() int {
	switch p.Kind {
	case PayoutWinnerTakesAll:
		return 1
	case PayoutEqualSplit:
		return 0
	}
	return len(p.Shares)
}

// CheckWinners reports whether the policy can pay winners out of an escrow
// with the given number of parties. An equal split needs at least one
// winner and at least one losing party.
func (p PayoutPolicy) CheckWinners(winners, parties int) error {
	if p.Kind == PayoutEqualSplit {
		if winners < 1 || winners >= parties {
			return fmt.Errorf("policy %s pays 1 to %d winners, got %d", p, parties-1, winners)
		}
		return nil
	}
	if winners != p.Places() {
		return fmt.Errorf("policy %s pays %d places, got %d", p, p.Places(), winners)
	}
	return nil
}

// Validate checks that the shares are positive and cover the whole payout.
func (p PayoutPolicy) Validate() error {
	switch p.Kind {
	case PayoutWinnerTakesAll, PayoutEqualSplit:
		if len(p.Shares) != 0 {
			return fmt.Errorf("%s policy takes no shares", p.Kind)
		}
		return nil
	case PayoutRanked:
		if len(p.Shares) == 0 {
			return fmt.Errorf("ranked policy needs at least one share")
		}
		var sum int64
		for i, s := range p.Shares {
			if s <= 0 {
				return fmt.Errorf("share %d must be positive, got %d", i+1, s)
			}
			sum += s
		}
		if sum != fpmath.BasisPointScale {
			return fmt.Errorf("shares must sum to %d, got %d", fpmath.BasisPointScale, sum)
		}
		return nil
	default:
		return fmt.Errorf("unknown payout policy %q", p.Kind)
	}
}

// String renders the policy in the form accepted by ParsePayoutPolicy,
// e.g. "ranked:5000,3500,1500".
func (p PayoutPolicy) String() string {
	if p.Kind != PayoutRanked {
		return string(p.Kind)
	}
	parts := make([]string, len(p.Shares))
	for i, s := range p.Shares {
		parts[i] = strconv.FormatInt(s, 10)
	}
	return string(p.Kind) + ":" + strings.Join(parts, ",")
}

// ParsePayoutPolicy parses "winner_takes_all", "equal_split" or
// "ranked:<bps>,<bps>,...". An empty string means winner takes all.
func ParsePayoutPolicy(s string) (PayoutPolicy, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", string(PayoutWinnerTakesAll):
		return WinnerTakesAll, nil
	case string(PayoutEqualSplit):
		return EqualSplit, nil
	}

	kind, rest, found := strings.Cut(s, ":")
	if PayoutKind(kind) != PayoutRanked {
		return PayoutPolicy{}, fmt.Errorf("unknown payout policy %q", s)
	}
	if !found {
		return DefaultRanked, nil
	}

	p := PayoutPolicy{Kind: PayoutRanked}
	for _, f := range strings.Split(rest, ",") {
		v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			return PayoutPolicy{}, fmt.Errorf("parse share %q: %w", f, err)
		}
		p.Shares = append(p.Shares, v)
	}
	if err := p.Validate(); err != nil {
		return PayoutPolicy{}, err
	}
	return p, nil
}

// Split distributes winnerPayout across the given number of places. Each
// share rounds down; the remainder goes to first place so the parts sum to
// winnerPayout exactly.
func (p PayoutPolicy) Split(winnerPayout int64, places int) ([]int64, error) {
	if winnerPayout < 0 {
		return nil, fmt.Errorf("payout must be non-negative, got %d", winnerPayout)
	}
	switch p.Kind {
	case PayoutWinnerTakesAll:
		if places != 1 {
			return nil, fmt.Errorf("policy %s pays 1 place, ranking has %d", p, places)
		}
		return []int64{winnerPayout}, nil
	case PayoutEqualSplit:
		if places < 1 {
			return nil, fmt.Errorf("policy %s needs at least one winner", p)
		}
		out := make([]int64, places)
		each := winnerPayout / int64(places)
		for i := range out {
			out[i] = each
		}
		out[0] += winnerPayout - each*int64(places)
		return out, nil
	}
	if places != p.Places() {
		return nil, fmt.Errorf("policy %s pays %d places, ranking has %d", p, p.Places(), places)
	}

	out := make([]int64, len(p.Shares))
	var paid int64
	for i, share := range p.Shares {
		v, err := fpmath.ApplyBasisPoints(winnerPayout, share, fpmath.RoundDown)
		if err != nil {
			return nil, fmt.Errorf("split share %d: %w", i+1, err)
		}
		out[i] = v
		paid += v
	}
	out[0] += winnerPayout - paid
	return out, nil
}
