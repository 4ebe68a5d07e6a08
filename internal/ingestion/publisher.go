package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"WagerLedger/internal/core"
	"WagerLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// EventsStream holds outbound settlement events.
const EventsStream = "WAGER_SETTLEMENT_EVENTS"

const eventsSubjectPrefix = "wager.settlement.events."

// streamPublisher is the part of jetstream.JetStream the publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher drains committed settlement events to NATS. Subjects
// follow wager.settlement.events.{kind}.
type OutboundPublisher struct {
	js        streamPublisher
	inputChan <-chan core.SettlementEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewOutboundPublisher(js streamPublisher, inputChan <-chan core.SettlementEvent, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the input channel is closed.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
				// non-fatal: the operations table is the record of truth
				op.logger.Warn().Err(err).
					Str("operation_id", evt.OperationID.String()).
					Str("kind", string(evt.Kind)).
					Msg("outbound publish failed")
				continue
			}
			if op.metrics != nil {
				op.metrics.EventsPublished.WithLabelValues(string(evt.Kind)).Inc()
			}
		}
	}
}

// EventSubject returns the subject a settlement event is published on.
func EventSubject(evt core.SettlementEvent) string {
	return eventsSubjectPrefix + strings.ToLower(string(evt.Kind))
}

func (op *OutboundPublisher) publish(ctx context.Context, evt core.SettlementEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// operation id and status form the JetStream dedup key
	_, err = op.js.Publish(ctx, EventSubject(evt), data, jetstream.WithMsgID(evt.OperationID.String()+"/"+string(evt.Status)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       EventsStream,
		Subjects:   []string{eventsSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", EventsStream).Msg("ensured outbound stream")
	return nil
}
