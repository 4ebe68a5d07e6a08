package core

import (
	"WagerLedger/internal/ledger"
	"time"

	"github.com/google/uuid"
)

// SettlementEvent announces a committed operation. It is emitted after
// commit and may be dropped when the outbound channel is full.
type SettlementEvent struct {
	Kind        ledger.OperationKind   `json:"kind"`
	Status      ledger.OperationStatus `json:"status"`
	OperationID uuid.UUID              `json:"operation_id"`
	EscrowID    string                 `json:"escrow_id,omitempty"`
	OwnerIDs    []string               `json:"owner_ids"`
	Amounts     map[string]int64       `json:"amounts"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

// emit hands evt to the publisher without blocking. Events emitted after
// CloseEvents are dropped.
func (e *Engine) emit(evt SettlementEvent) {
	if e.events == nil {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if e.eventsClosed {
		e.drop(evt, "event channel closed, dropping settlement event")
		return
	}
	select {
	case e.events <- evt:
	default:
		e.drop(evt, "event channel full, dropping settlement event")
	}
	if e.metrics != nil {
		e.metrics.SetChannelMetrics("events", len(e.events), cap(e.events))
	}
}

func (e *Engine) drop(evt SettlementEvent, msg string) {
	if e.metrics != nil {
		e.metrics.PublishDrops.Inc()
	}
	e.logger.Warn().
		Str("kind", string(evt.Kind)).
		Str("operation_id", evt.OperationID.String()).
		Msg(msg)
}

// CloseEvents closes the outbound channel so the publisher can drain and
// stop. It is safe to call while operations are still committing.
func (e *Engine) CloseEvents() {
	if e.events == nil {
		return
	}
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if !e.eventsClosed {
		e.eventsClosed = true
		close(e.events)
	}
}
