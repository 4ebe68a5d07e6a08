package ingestion

import (
	"context"
	"time"

	"WagerLedger/internal/core"
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Settler is the part of the engine inbound messages drive.
type Settler interface {
	ReleaseRanked(ctx context.Context, escrowID string, ranking []string) (*core.ReleaseResult, error)
	RefundEscrow(ctx context.Context, escrowID, reason string) (*core.RefundResult, error)
	ApplyDepositConfirmation(ctx context.Context, ownerID string, amount int64, externalReference string) (*core.DepositResult, error)
}

// Outcome of applying one inbound message.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeDuplicate      Outcome = "duplicate"       // already applied, acked
	OutcomeBelowThreshold Outcome = "below_threshold" // left for manual review, acked
	OutcomeRejected       Outcome = "rejected"        // business error, terminated
	OutcomeRetry          Outcome = "retry"           // transient, redelivered
	OutcomeMalformed      Outcome = "malformed"       // terminated
)

// Applier turns inbound messages into engine calls and decides their
// delivery fate.
type Applier struct {
	settler   Settler
	threshold float64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// NewApplier returns an applier that auto-applies arbitration results whose
// confidence is at least threshold.
func NewApplier(settler Settler, threshold float64, metrics *observability.Metrics, logger zerolog.Logger) *Applier {
	return &Applier{
		settler:   settler,
		threshold: threshold,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run applies messages from rawChan until ctx is cancelled or rawChan closes.
func (a *Applier) Run(ctx context.Context, rawChan <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			a.Handle(ctx, raw)
		}
	}
}

// Handle parses, applies and acknowledges one message.
func (a *Applier) Handle(ctx context.Context, raw RawEvent) Outcome {
	start := time.Now()
	outcome := a.handle(ctx, raw)

	switch outcome {
	case OutcomeRetry:
		callIf(raw.NakFunc)
	case OutcomeMalformed, OutcomeRejected:
		callIf(raw.TermFunc)
	default:
		callIf(raw.AckFunc)
	}

	if a.metrics != nil {
		a.metrics.IngestMessages.WithLabelValues(raw.MessageType, string(outcome)).Inc()
		a.metrics.IngestDuration.WithLabelValues(raw.MessageType).Observe(time.Since(start).Seconds())
	}
	return outcome
}

func (a *Applier) handle(ctx context.Context, raw RawEvent) Outcome {
	msg, err := ParseRawEvent(raw, raw.MessageType)
	if err != nil {
		a.logger.Error().Err(err).Str("subject", raw.Subject).Msg("dropping malformed message")
		return OutcomeMalformed
	}

	switch m := msg.(type) {
	case *ArbitrationResult:
		return a.applyArbitration(ctx, m)
	case *DepositConfirmation:
		return a.applyDeposit(ctx, m)
	default:
		a.logger.Error().Str("type", msg.MessageType()).Msg("no handler for message type")
		return OutcomeMalformed
	}
}

func (a *Applier) applyArbitration(ctx context.Context, m *ArbitrationResult) Outcome {
	log := a.logger.With().Str("escrow_id", m.EscrowID).Float64("confidence", m.Confidence).Logger()

	if m.Confidence < a.threshold {
		log.Warn().Float64("threshold", a.threshold).Msg("arbitration result below confidence threshold, needs manual review")
		return OutcomeBelowThreshold
	}

	var err error
	if m.IsRefund() {
		_, err = a.settler.RefundEscrow(ctx, m.EscrowID, m.RefundReason)
	} else {
		_, err = a.settler.ReleaseRanked(ctx, m.EscrowID, m.Ranking)
	}
	return a.outcomeOf(log, err, apperrors.CodeInvalidState)
}

func (a *Applier) applyDeposit(ctx context.Context, m *DepositConfirmation) Outcome {
	log := a.logger.With().Str("owner_id", m.OwnerID).Str("external_reference", m.ExternalReference).Logger()
	_, err := a.settler.ApplyDepositConfirmation(ctx, m.OwnerID, m.Amount, m.ExternalReference)
	return a.outcomeOf(log, err, apperrors.CodeConflict)
}

// outcomeOf maps an engine result to an outcome. duplicate is the code that
// means the message was already applied by an earlier delivery.
func (a *Applier) outcomeOf(log zerolog.Logger, err error, duplicate apperrors.Code) Outcome {
	if err == nil {
		log.Info().Msg("applied inbound message")
		return OutcomeApplied
	}
	code := apperrors.CodeOf(err)
	switch {
	case code == duplicate:
		log.Info().Str("code", string(code)).Msg("message already applied")
		return OutcomeDuplicate
	case code.Retryable():
		log.Warn().Err(err).Msg("transient failure, message will be redelivered")
		return OutcomeRetry
	default:
		log.Error().Err(err).Str("code", string(code)).Msg("inbound message rejected")
		return OutcomeRejected
	}
}

func callIf(fn func()) {
	if fn != nil {
		fn()
	}
}
