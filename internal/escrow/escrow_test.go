package escrow_test

import (
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/escrow"
	"WagerLedger/internal/fee"
	"testing"
	"time"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustNew(t *testing.T, parties []string, stake int64, policy fee.PayoutPolicy) *escrow.Record {
	t.Helper()
	r, err := escrow.New("e1", parties, stake, policy, now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNew(t *testing.T) {
	r := mustNew(t, []string{"a", "b"}, 4000, fee.WinnerTakesAll)
	if r.State != escrow.StateLocked {
		t.Errorf("state: got %s, want LOCKED", r.State)
	}
	if r.TotalAmount != 8000 {
		t.Errorf("total: got %d, want 8000", r.TotalAmount)
	}
	if r.Held() != 8000 {
		t.Errorf("held: got %d, want 8000", r.Held())
	}
	if !r.HasParty("b") || r.HasParty("c") {
		t.Error("HasParty mismatch")
	}
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		parties []string
		stake   int64
		policy  fee.PayoutPolicy
	}{
		{"one party", []string{"a"}, 100, fee.WinnerTakesAll},
		{"duplicate party", []string{"a", "a"}, 100, fee.WinnerTakesAll},
		{"empty party", []string{"a", ""}, 100, fee.WinnerTakesAll},
		{"zero stake", []string{"a", "b"}, 0, fee.WinnerTakesAll},
		{"policy wider than group", []string{"a", "b"}, 100, fee.DefaultRanked},
		{"invalid policy", []string{"a", "b"}, 100, fee.PayoutPolicy{Kind: "equal"}},
	}
	for _, tt := range tests {
		_, err := escrow.New("e1", tt.parties, tt.stake, tt.policy, now)
		if !apperrors.IsCode(err, apperrors.CodePolicyViolation) {
			t.Errorf("%s: got %v, want POLICY_VIOLATION", tt.name, err)
		}
	}
}

func TestRelease(t *testing.T) {
	r := mustNew(t, []string{"a", "b"}, 4000, fee.WinnerTakesAll)
	later := now.Add(time.Minute)

	if err := r.Release([]string{"a"}, []int64{7200}, 800, later); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if r.State != escrow.StateReleased {
		t.Errorf("state: got %s", r.State)
	}
	if r.Resolution.WinnerID != "a" || r.Resolution.Payout != 7200 || r.Resolution.Fee != 800 {
		t.Errorf("resolution: got %+v", r.Resolution)
	}
	if !r.Resolution.ResolvedAt.Equal(later) {
		t.Errorf("resolved at: got %v", r.Resolution.ResolvedAt)
	}
	if r.Parties[0].Rank != 1 || r.Parties[0].Payout != 7200 || r.Parties[1].Rank != 0 {
		t.Errorf("parties: got %+v", r.Parties)
	}
	if r.Held() != 0 {
		t.Errorf("held after release: %d", r.Held())
	}
}

func TestRelease_Rejects(t *testing.T) {
	r := mustNew(t, []string{"a", "b"}, 4000, fee.WinnerTakesAll)

	if err := r.Release([]string{"c"}, []int64{7200}, 800, now); !apperrors.IsCode(err, apperrors.CodePolicyViolation) {
		t.Errorf("non-party winner: got %v", err)
	}
	if err := r.Release([]string{"a"}, []int64{7000}, 800, now); !apperrors.IsCode(err, apperrors.CodeInternal) {
		t.Errorf("leaking payout: got %v", err)
	}
	if r.State != escrow.StateLocked {
		t.Fatalf("failed release changed state to %s", r.State)
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	released := mustNew(t, []string{"a", "b"}, 100, fee.WinnerTakesAll)
	if err := released.Release([]string{"b"}, []int64{180}, 20, now); err != nil {
		t.Fatal(err)
	}
	if err := released.Refund("late", now); !apperrors.IsCode(err, apperrors.CodeInvalidState) {
		t.Errorf("refund after release: got %v, want INVALID_STATE", err)
	}
	if err := released.Release([]string{"a"}, []int64{180}, 20, now); !apperrors.IsCode(err, apperrors.CodeInvalidState) {
		t.Errorf("second release: got %v, want INVALID_STATE", err)
	}

	refunded := mustNew(t, []string{"a", "b"}, 100, fee.WinnerTakesAll)
	if err := refunded.Refund("no contest", now); err != nil {
		t.Fatal(err)
	}
	if refunded.Resolution.Reason != "no contest" {
		t.Errorf("reason: got %q", refunded.Resolution.Reason)
	}
	if err := refunded.Release([]string{"a"}, []int64{180}, 20, now); !apperrors.IsCode(err, apperrors.CodeInvalidState) {
		t.Errorf("release after refund: got %v, want INVALID_STATE", err)
	}
	if !refunded.State.Terminal() || escrow.StateLocked.Terminal() {
		t.Error("Terminal() mismatch")
	}
}

func TestRelease_Ranked(t *testing.T) {
	r := mustNew(t, []string{"a", "b", "c", "d"}, 1000, fee.DefaultRanked)
	ranking := []string{"c", "a", "d"}

	b, err := fee.ComputeFeeBreakdown(r.TotalAmount, fee.DefaultFeeBasisPoints)
	if err != nil {
		t.Fatal(err)
	}
	payouts, err := r.PayoutPolicy.Split(b.WinnerPayout, len(ranking))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Release(ranking, payouts, b.PlatformFee, now); err != nil {
		t.Fatalf("Release: %v", err)
	}

	want := map[string]int64{"a": 1260, "b": 0, "c": 1800, "d": 540}
	for _, p := range r.Parties {
		if p.Payout != want[p.OwnerID] {
			t.Errorf("%s: got payout %d, want %d", p.OwnerID, p.Payout, want[p.OwnerID])
		}
	}
	if r.Resolution.WinnerID != "c" {
		t.Errorf("winner: got %s, want c", r.Resolution.WinnerID)
	}

	short := mustNew(t, []string{"a", "b", "c"}, 1000, fee.DefaultRanked)
	if err := short.CheckRanking([]string{"a"}); !apperrors.IsCode(err, apperrors.CodePolicyViolation) {
		t.Errorf("short ranking: got %v", err)
	}
	if err := short.CheckRanking([]string{"a", "a", "b"}); !apperrors.IsCode(err, apperrors.CodePolicyViolation) {
		t.Errorf("repeated ranking: got %v", err)
	}
}

func TestRelease_EqualSplit(t *testing.T) {
	r := mustNew(t, []string{"a", "b", "c", "d"}, 1000, fee.EqualSplit)
	team := []string{"b", "d"}

	b, err := fee.ComputeFeeBreakdown(r.TotalAmount, fee.DefaultFeeBasisPoints)
	if err != nil {
		t.Fatal(err)
	}
	payouts, err := r.PayoutPolicy.Split(b.WinnerPayout, len(team))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Release(team, payouts, b.PlatformFee, now); err != nil {
		t.Fatalf("Release: %v", err)
	}

	want := map[string]int64{"a": 0, "b": 1800, "c": 0, "d": 1800}
	for _, p := range r.Parties {
		if p.Payout != want[p.OwnerID] {
			t.Errorf("%s: got payout %d, want %d", p.OwnerID, p.Payout, want[p.OwnerID])
		}
	}

	whole := mustNew(t, []string{"a", "b"}, 1000, fee.EqualSplit)
	if err := whole.CheckRanking([]string{"a", "b"}); !apperrors.IsCode(err, apperrors.CodePolicyViolation) {
		t.Errorf("every party winning: got %v", err)
	}
}
