package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message types carried on the inbound subjects.
const (
	MessageArbitration         = "ArbitrationResult"
	MessageDepositConfirmation = "DepositConfirmed"
)

// Message is a parsed inbound message.
type Message interface {
	MessageType() string
}

// ArbitrationResult is the referee's decision for one escrow. Exactly one of
// Ranking or RefundReason is set; WinnerID and WinningTeam are folded into
// Ranking.
type ArbitrationResult struct {
	EscrowID     string
	Ranking      []string
	RefundReason string
	Confidence   float64
	DecidedAt    time.Time
}

func (ArbitrationResult) MessageType() string { return MessageArbitration }

// IsRefund reports whether the referee asked for a refund.
func (a ArbitrationResult) IsRefund() bool {
	return a.RefundReason != ""
}

// DepositConfirmation is a payment-provider confirmation of funds received.
type DepositConfirmation struct {
	OwnerID           string
	Amount            int64
	ExternalReference string
	ConfirmedAt       time.Time
}

func (DepositConfirmation) MessageType() string { return MessageDepositConfirmation }

// ParseRawEvent converts a RawEvent into a typed Message.
func ParseRawEvent(raw RawEvent, messageType string) (Message, error) {
	switch messageType {
	case MessageArbitration:
		return parseArbitration(raw.Data)
	case MessageDepositConfirmation:
		return parseDepositConfirmation(raw.Data)
	default:
		return nil, fmt.Errorf("unknown message type: %s", messageType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type arbitrationJSON struct {
	EscrowID     string   `json:"escrow_id"`
	WinnerID     string   `json:"winner_id"`
	Ranking      []string `json:"ranking"`
	WinningTeam  []string `json:"winning_team"`
	RefundReason string   `json:"refund_reason"`
	Confidence   *float64 `json:"confidence"`
	TimestampUs  int64    `json:"timestamp_us"`
}

func parseArbitration(data []byte) (*ArbitrationResult, error) {
	var j arbitrationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ArbitrationResult: %w", err)
	}
	if strings.TrimSpace(j.EscrowID) == "" {
		return nil, fmt.Errorf("parse ArbitrationResult: escrow_id is required")
	}
	if j.Confidence == nil {
		return nil, fmt.Errorf("parse ArbitrationResult: confidence is required")
	}
	if *j.Confidence < 0 || *j.Confidence > 1 {
		return nil, fmt.Errorf("parse ArbitrationResult: confidence %v outside [0, 1]", *j.Confidence)
	}

	ranking := j.Ranking
	if len(j.WinningTeam) > 0 {
		// an equal-split escrow pays the team in listed order
		if len(ranking) > 0 || j.WinnerID != "" {
			return nil, fmt.Errorf("parse ArbitrationResult: winning_team cannot be combined with winner_id or ranking")
		}
		ranking = j.WinningTeam
	}
	if j.WinnerID != "" {
		if len(ranking) > 0 && ranking[0] != j.WinnerID {
			return nil, fmt.Errorf("parse ArbitrationResult: winner_id %q disagrees with ranking", j.WinnerID)
		}
		if len(ranking) == 0 {
			ranking = []string{j.WinnerID}
		}
	}

	switch {
	case len(ranking) > 0 && j.RefundReason != "":
		return nil, fmt.Errorf("parse ArbitrationResult: both a winner and a refund reason given")
	case len(ranking) == 0 && j.RefundReason == "":
		return nil, fmt.Errorf("parse ArbitrationResult: neither a winner nor a refund reason given")
	}

	return &ArbitrationResult{
		EscrowID:     j.EscrowID,
		Ranking:      ranking,
		RefundReason: j.RefundReason,
		Confidence:   *j.Confidence,
		DecidedAt:    microsOrZero(j.TimestampUs),
	}, nil
}

type depositConfirmedJSON struct {
	OwnerID           string `json:"owner_id"`
	Amount            int64  `json:"amount"`
	ExternalReference string `json:"external_reference"`
	TimestampUs       int64  `json:"timestamp_us"`
}

func parseDepositConfirmation(data []byte) (*DepositConfirmation, error) {
	var j depositConfirmedJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositConfirmed: %w", err)
	}
	if j.OwnerID == "" {
		return nil, fmt.Errorf("parse DepositConfirmed: owner_id is required")
	}
	if j.ExternalReference == "" {
		return nil, fmt.Errorf("parse DepositConfirmed: external_reference is required")
	}
	if j.Amount <= 0 {
		return nil, fmt.Errorf("parse DepositConfirmed: amount must be positive, got %d", j.Amount)
	}
	return &DepositConfirmation{
		OwnerID:           j.OwnerID,
		Amount:            j.Amount,
		ExternalReference: j.ExternalReference,
		ConfirmedAt:       microsOrZero(j.TimestampUs),
	}, nil
}

func microsOrZero(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
