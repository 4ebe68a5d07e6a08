package ingestion_test

import (
	"WagerLedger/internal/ingestion"
	"encoding/json"
	"testing"
	"time"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
		TermFunc:  func() {},
	}
}

func TestParseArbitration_Winner(t *testing.T) {
	payload := map[string]interface{}{
		"escrow_id":    "match-42",
		"winner_id":    "alice",
		"confidence":   0.97,
		"timestamp_us": int64(1700000000000000),
	}

	msg, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), ingestion.MessageArbitration)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ar, ok := msg.(*ingestion.ArbitrationResult)
	if !ok {
		t.Fatalf("expected *ingestion.ArbitrationResult, got %T", msg)
	}

	if ar.EscrowID != "match-42" {
		t.Errorf("escrow_id: got %s, want match-42", ar.EscrowID)
	}
	if len(ar.Ranking) != 1 || ar.Ranking[0] != "alice" {
		t.Errorf("ranking: got %v, want [alice]", ar.Ranking)
	}
	if ar.IsRefund() {
		t.Error("winner result reported as refund")
	}
	if ar.Confidence != 0.97 {
		t.Errorf("confidence: got %v, want 0.97", ar.Confidence)
	}
	if !ar.DecidedAt.Equal(time.UnixMicro(1700000000000000)) {
		t.Errorf("decided_at: got %v", ar.DecidedAt)
	}
	if ar.MessageType() != ingestion.MessageArbitration {
		t.Errorf("message type: got %s", ar.MessageType())
	}
}

func TestParseArbitration_RankingAndRefund(t *testing.T) {
	msg, err := ingestion.ParseRawEvent(rawFromJSON(t, map[string]interface{}{
		"escrow_id":  "g-1",
		"ranking":    []string{"c", "a", "d"},
		"confidence": 1.0,
	}), ingestion.MessageArbitration)
	if err != nil {
		t.Fatalf("parse ranking: %v", err)
	}
	if got := msg.(*ingestion.ArbitrationResult).Ranking; len(got) != 3 || got[0] != "c" {
		t.Errorf("ranking: got %v", got)
	}

	msg, err = ingestion.ParseRawEvent(rawFromJSON(t, map[string]interface{}{
		"escrow_id":     "m-1",
		"refund_reason": "no contest",
		"confidence":    0.5,
	}), ingestion.MessageArbitration)
	if err != nil {
		t.Fatalf("parse refund: %v", err)
	}
	if !msg.(*ingestion.ArbitrationResult).IsRefund() {
		t.Error("expected refund")
	}
}

func TestParseArbitration_WinningTeam(t *testing.T) {
	msg, err := ingestion.ParseRawEvent(rawFromJSON(t, map[string]interface{}{
		"escrow_id":    "team-1",
		"winning_team": []string{"b", "d"},
		"confidence":   0.99,
	}), ingestion.MessageArbitration)
	if err != nil {
		t.Fatalf("parse winning team: %v", err)
	}
	ar := msg.(*ingestion.ArbitrationResult)
	if len(ar.Ranking) != 2 || ar.Ranking[0] != "b" || ar.Ranking[1] != "d" {
		t.Errorf("ranking: got %v, want [b d]", ar.Ranking)
	}
}

func TestParseArbitration_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"missing escrow", map[string]interface{}{"winner_id": "a", "confidence": 1.0}},
		{"missing confidence", map[string]interface{}{"escrow_id": "m", "winner_id": "a"}},
		{"confidence too high", map[string]interface{}{"escrow_id": "m", "winner_id": "a", "confidence": 1.5}},
		{"no outcome", map[string]interface{}{"escrow_id": "m", "confidence": 1.0}},
		{"both outcomes", map[string]interface{}{"escrow_id": "m", "winner_id": "a", "refund_reason": "x", "confidence": 1.0}},
		{"winner disagrees", map[string]interface{}{"escrow_id": "m", "winner_id": "a", "ranking": []string{"b", "a"}, "confidence": 1.0}},
		{"team and winner", map[string]interface{}{"escrow_id": "m", "winner_id": "a", "winning_team": []string{"a", "b"}, "confidence": 1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ingestion.ParseRawEvent(rawFromJSON(t, tt.payload), ingestion.MessageArbitration); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseDepositConfirmation(t *testing.T) {
	msg, err := ingestion.ParseRawEvent(rawFromJSON(t, map[string]interface{}{
		"owner_id":           "alice",
		"amount":             int64(2500),
		"external_reference": "psp-991",
	}), ingestion.MessageDepositConfirmation)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	dc := msg.(*ingestion.DepositConfirmation)
	if dc.OwnerID != "alice" || dc.Amount != 2500 || dc.ExternalReference != "psp-991" {
		t.Errorf("got %+v", dc)
	}
	if !dc.ConfirmedAt.IsZero() {
		t.Errorf("confirmed_at: got %v, want zero", dc.ConfirmedAt)
	}
}

func TestParseDepositConfirmation_Invalid(t *testing.T) {
	for _, payload := range []map[string]interface{}{
		{"amount": int64(100), "external_reference": "r"},
		{"owner_id": "a", "amount": int64(0), "external_reference": "r"},
		{"owner_id": "a", "amount": int64(100)},
	} {
		if _, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), ingestion.MessageDepositConfirmation); err == nil {
			t.Errorf("payload %v: expected error", payload)
		}
	}
}

func TestParseRawEvent_UnknownType(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	if _, err := ingestion.ParseRawEvent(raw, "SomethingElse"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestParseRawEvent_MalformedJSON(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{not json`)}
	if _, err := ingestion.ParseRawEvent(raw, ingestion.MessageDepositConfirmation); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
