package core

import (
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/escrow"
	"WagerLedger/internal/fee"
	"WagerLedger/internal/ledger"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/persistence"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// referenceCacheSize bounds the in-process deposit reference cache.
const referenceCacheSize = 100_000

// Engine is the settlement engine. Every exported operation is one
// transaction against the store: it either commits completely or leaves no
// trace. The engine keeps no balances in memory.
type Engine struct {
	store   *persistence.Store
	policy  Policy
	journal *ledger.JournalGenerator
	refs    *ReferenceCache
	events  chan<- SettlementEvent
	metrics *observability.Metrics

	emitMu       sync.Mutex
	eventsClosed bool
	logger  zerolog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Balance is the public view of an account.
type Balance struct {
	OwnerID   string `json:"owner_id"`
	Spendable int64  `json:"spendable"`
	Locked    int64  `json:"locked"`
}

type LockResult struct {
	EscrowID     string
	OperationID  uuid.UUID
	FeeBreakdown fee.Breakdown
}

type ReleaseResult struct {
	OperationID  uuid.UUID
	FeeBreakdown fee.Breakdown
	Payouts      []ledger.Payout
}

type RefundResult struct {
	OperationID uuid.UUID
}

type DepositResult struct {
	OperationID uuid.UUID
	Balance     Balance
}

type WithdrawResult struct {
	OperationID uuid.UUID
	Balance     Balance
	PayoutState ledger.OperationStatus
}

// NewEngine builds an engine over store. events and metrics may be nil.
func NewEngine(
	store *persistence.Store,
	policy Policy,
	events chan<- SettlementEvent,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Engine, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settlement policy: %w", err)
	}
	return &Engine{
		store:   store,
		policy:  policy,
		journal: ledger.NewJournalGenerator(policy.PlatformOwnerID),
		refs:    NewReferenceCache(referenceCacheSize),
		events:  events,
		metrics: metrics,
		logger:  logger,
		tracer:  observability.Tracer(),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Policy returns the engine's settlement policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// run executes fn in one transaction and records the outcome. The event fn
// returns is emitted only after commit.
func (e *Engine) run(
	ctx context.Context,
	name string,
	kind ledger.OperationKind,
	attrs []attribute.KeyValue,
	fn func(ctx context.Context, tx *persistence.Tx, out *opLog) (*SettlementEvent, error),
) error {
	ctx, span := e.tracer.Start(ctx, "settlement."+name, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	var (
		evt *SettlementEvent
		out *opLog
	)
	err := e.store.WithTx(ctx, func(tx *persistence.Tx) error {
		out = &opLog{}
		var err error
		evt, err = fn(ctx, tx, out)
		return err
	})
	elapsed := time.Since(start)

	if e.metrics != nil {
		e.metrics.OperationDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	}

	if err != nil {
		code := apperrors.CodeOf(err)
		span.SetStatus(codes.Error, string(code))
		span.SetAttributes(attribute.String("error.code", string(code)))
		if e.metrics != nil {
			e.metrics.OperationsRejected.WithLabelValues(string(kind), string(code)).Inc()
			if code == apperrors.CodeTransient {
				e.metrics.LockWaitFailures.WithLabelValues(string(kind)).Inc()
			}
		}

		var ev *zerolog.Event
		switch code {
		case apperrors.CodeTransient:
			ev = e.logger.Warn()
		case apperrors.CodeInternal, apperrors.CodeUnknown:
			ev = e.logger.Error()
		default:
			ev = e.logger.Debug()
		}
		ev.Err(err).Str("op", name).Str("code", string(code)).Dur("elapsed", elapsed).Msg("operation rejected")
		return err
	}

	if e.metrics != nil {
		e.metrics.OperationsApplied.WithLabelValues(string(kind)).Inc()
	}
	e.record(out)
	if evt != nil {
		span.SetAttributes(attribute.String("operation.id", evt.OperationID.String()))
		e.logger.Info().
			Str("op", name).
			Str("operation_id", evt.OperationID.String()).
			Str("escrow_id", evt.EscrowID).
			Strs("owner_ids", evt.OwnerIDs).
			Dur("elapsed", elapsed).
			Msg("operation committed")
		e.emit(*evt)
	}
	return nil
}

// opLog collects what a transaction wrote so it can be counted once the
// transaction has committed.
type opLog struct {
	batches     []*ledger.Batch
	platformFee int64
	provisioned bool
}

func (l *opLog) write(ctx context.Context, tx *persistence.Tx, b *ledger.Batch) error {
	if err := tx.WriteBatch(ctx, b); err != nil {
		return err
	}
	l.batches = append(l.batches, b)
	return nil
}

// record updates the volume metrics of a committed operation.
func (e *Engine) record(l *opLog) {
	if l == nil {
		return
	}
	if l.provisioned {
		e.logger.Info().Str("owner_id", e.policy.PlatformOwnerID).Msg("provisioned platform account")
	}
	if e.metrics == nil {
		return
	}
	if l.provisioned {
		e.metrics.PlatformProvisions.Inc()
	}
	for _, b := range l.batches {
		for _, entry := range b.Entries {
			e.metrics.EntriesWritten.WithLabelValues(string(entry.Account.Type)).Inc()
		}
		e.metrics.AmountMoved.WithLabelValues(string(b.Operation.Kind)).Add(float64(b.Operation.Amount))
	}
	if l.platformFee > 0 {
		e.metrics.PlatformFees.Add(float64(l.platformFee))
	}
}

func updateAll(ctx context.Context, tx *persistence.Tx, accounts map[string]*ledger.Account, now time.Time) error {
	for _, a := range accounts {
		if err := tx.UpdateAccount(ctx, a, now); err != nil {
			return err
		}
	}
	return nil
}

func balanceOf(a *ledger.Account) Balance {
	return Balance{OwnerID: a.OwnerID, Spendable: a.Spendable, Locked: a.Locked}
}

func (e *Engine) checkStake(stake int64) error {
	if stake < e.policy.MinStake || stake > e.policy.MaxStake {
		return apperrors.WithMetadata(apperrors.CodePolicyViolation,
			fmt.Sprintf("stake %d outside [%d, %d]", stake, e.policy.MinStake, e.policy.MaxStake),
			map[string]string{"stake": fmt.Sprint(stake)})
	}
	return nil
}

// --- Escrow ---

// LockFunds stakes stake from creator and opponent into a new escrow.
func (e *Engine) LockFunds(ctx context.Context, escrowID, creatorID, opponentID string, stake int64) (*LockResult, error) {
	return e.lock(ctx, "LockFunds", escrowID, []string{creatorID, opponentID}, stake, fee.WinnerTakesAll)
}

// LockGroupFunds stakes stake from every party into a new escrow paid out
// by policy on release. A zero policy uses the engine's group default.
func (e *Engine) LockGroupFunds(ctx context.Context, escrowID string, parties []string, stake int64, policy fee.PayoutPolicy) (*LockResult, error) {
	if policy.Kind == "" {
		policy = e.policy.GroupPayout
	}
	if len(parties) > e.policy.MaxParties {
		return nil, apperrors.Newf(apperrors.CodePolicyViolation,
			"group of %d parties exceeds maximum %d", len(parties), e.policy.MaxParties)
	}
	return e.lock(ctx, "LockGroupFunds", escrowID, parties, stake, policy)
}

func (e *Engine) lock(ctx context.Context, name, escrowID string, parties []string, stake int64, policy fee.PayoutPolicy) (*LockResult, error) {
	if err := e.checkStake(stake); err != nil {
		return nil, err
	}
	for _, p := range parties {
		if p == e.policy.PlatformOwnerID {
			return nil, apperrors.New(apperrors.CodePolicyViolation, "the platform account cannot stake")
		}
	}

	now := e.now()
	rec, err := escrow.New(escrowID, parties, stake, policy, now)
	if err != nil {
		return nil, err
	}
	estimate, err := fee.ComputeFeeBreakdown(rec.TotalAmount, e.policy.FeeBasisPoints)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "estimate fee", err)
	}

	result := &LockResult{EscrowID: escrowID, FeeBreakdown: estimate}
	attrs := []attribute.KeyValue{
		attribute.String("escrow.id", escrowID),
		attribute.Int64("stake", stake),
		attribute.Int("parties", len(parties)),
	}

	err = e.run(ctx, name, ledger.OpEscrowLock, attrs, func(ctx context.Context, tx *persistence.Tx, out *opLog) (*SettlementEvent, error) {
		accounts, err := tx.LockAccounts(ctx, parties)
		if err != nil {
			return nil, err
		}
		for _, p := range parties {
			if err := accounts[p].Lock(stake); err != nil {
				return nil, err
			}
		}

		op := ledger.NewOperation(ledger.OpEscrowLock, ledger.StatusCompleted, ledger.LockMetadata{
			Parties:       rec.PartyIDs(),
			StakePerParty: stake,
			PayoutPolicy:  policy.String(),
			EstimatedFee:  estimate,
		}, now)
		op.EscrowID = escrowID
		op.Amount = rec.TotalAmount
		rec.LockOperation = op.OperationID.String()

		if err := tx.InsertEscrow(ctx, rec); err != nil {
			return nil, err
		}
		if err := updateAll(ctx, tx, accounts, now); err != nil {
			return nil, err
		}
		batch, err := e.journal.GenerateEscrowLock(op, escrowID, parties, stake)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "generate lock entries", err)
		}
		if err := out.write(ctx, tx, batch); err != nil {
			return nil, err
		}

		result.OperationID = op.OperationID
		amounts := make(map[string]int64, len(parties))
		for _, p := range parties {
			amounts[p] = stake
		}
		return &SettlementEvent{
			Kind:        op.Kind,
			Status:      op.Status,
			OperationID: op.OperationID,
			EscrowID:    escrowID,
			OwnerIDs:    rec.PartyIDs(),
			Amounts:     amounts,
			OccurredAt:  now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseToWinner pays the pot less the platform fee to winnerID.
func (e *Engine) ReleaseToWinner(ctx context.Context, escrowID, winnerID string) (*ReleaseResult, error) {
	return e.release(ctx, "ReleaseToWinner", escrowID, []string{winnerID})
}

// ReleaseRanked pays the pot less the platform fee across ranking, first
// place first, by the escrow's payout policy.
func (e *Engine) ReleaseRanked(ctx context.Context, escrowID string, ranking []string) (*ReleaseResult, error) {
	return e.release(ctx, "ReleaseRanked", escrowID, ranking)
}

func (e *Engine) release(ctx context.Context, name, escrowID string, ranking []string) (*ReleaseResult, error) {
	if len(ranking) == 0 {
		return nil, apperrors.New(apperrors.CodePolicyViolation, "a winner is required")
	}

	result := &ReleaseResult{}
	attrs := []attribute.KeyValue{
		attribute.String("escrow.id", escrowID),
		attribute.String("winner.id", ranking[0]),
	}

	err := e.run(ctx, name, ledger.OpEscrowRelease, attrs, func(ctx context.Context, tx *persistence.Tx, out *opLog) (*SettlementEvent, error) {
		now := e.now()

		// escrow row first: serializes against a concurrent release or refund
		rec, err := tx.LockEscrow(ctx, escrowID)
		if err != nil {
			return nil, err
		}
		if err := rec.CheckRanking(ranking); err != nil {
			return nil, err
		}

		breakdown, err := fee.ComputeFeeBreakdown(rec.TotalAmount, e.policy.FeeBasisPoints)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "compute fee", err)
		}
		shares, err := rec.PayoutPolicy.Split(breakdown.WinnerPayout, len(ranking))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "split payout", err)
		}

		platformID := e.policy.PlatformOwnerID
		created, err := tx.EnsureAccount(ctx, platformID, ledger.KindPlatform, now)
		if err != nil {
			return nil, err
		}
		out.provisioned = created

		accounts, err := tx.LockAccounts(ctx, append(rec.PartyIDs(), platformID))
		if err != nil {
			return nil, err
		}
		for _, p := range rec.Parties {
			if err := accounts[p.OwnerID].Forfeit(p.Stake); err != nil {
				return nil, err
			}
		}

		payouts := make([]ledger.Payout, 0, len(ranking))
		for i, id := range ranking {
			payouts = append(payouts, ledger.Payout{OwnerID: id, Rank: i + 1, Amount: shares[i]})
			if shares[i] == 0 {
				continue
			}
			if err := accounts[id].Credit(shares[i]); err != nil {
				return nil, err
			}
		}
		if breakdown.PlatformFee > 0 {
			if err := accounts[platformID].Credit(breakdown.PlatformFee); err != nil {
				return nil, err
			}
		}

		if err := rec.Release(ranking, shares, breakdown.PlatformFee, now); err != nil {
			return nil, err
		}
		if err := tx.ResolveEscrow(ctx, rec); err != nil {
			return nil, err
		}
		if err := updateAll(ctx, tx, accounts, now); err != nil {
			return nil, err
		}

		op := ledger.NewOperation(ledger.OpEscrowRelease, ledger.StatusCompleted, ledger.ReleaseMetadata{
			Payouts:    payouts,
			Fee:        breakdown,
			PlatformID: platformID,
		}, now)
		op.EscrowID = escrowID
		op.Amount = rec.TotalAmount
		batch, err := e.journal.GenerateEscrowRelease(op, escrowID, payouts, breakdown.PlatformFee)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "generate release entries", err)
		}
		if err := out.write(ctx, tx, batch); err != nil {
			return nil, err
		}
		out.platformFee = breakdown.PlatformFee

		result.OperationID = op.OperationID
		result.FeeBreakdown = breakdown
		result.Payouts = payouts

		amounts := map[string]int64{platformID: breakdown.PlatformFee}
		for _, p := range payouts {
			amounts[p.OwnerID] = p.Amount
		}
		return &SettlementEvent{
			Kind:        op.Kind,
			Status:      op.Status,
			OperationID: op.OperationID,
			EscrowID:    escrowID,
			OwnerIDs:    rec.PartyIDs(),
			Amounts:     amounts,
			OccurredAt:  now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RefundEscrow returns every party's stake in full. No fee is taken.
func (e *Engine) RefundEscrow(ctx context.Context, escrowID, reason string) (*RefundResult, error) {
	result := &RefundResult{}
	attrs := []attribute.KeyValue{attribute.String("escrow.id", escrowID)}

	err := e.run(ctx, "RefundEscrow", ledger.OpEscrowRefund, attrs, func(ctx context.Context, tx *persistence.Tx, out *opLog) (*SettlementEvent, error) {
		now := e.now()

		rec, err := tx.LockEscrow(ctx, escrowID)
		if err != nil {
			return nil, err
		}
		if err := rec.Refund(reason, now); err != nil {
			return nil, err
		}

		accounts, err := tx.LockAccounts(ctx, rec.PartyIDs())
		if err != nil {
			return nil, err
		}
		amounts := make(map[string]int64, len(rec.Parties))
		for _, p := range rec.Parties {
			if err := accounts[p.OwnerID].Unlock(p.Stake); err != nil {
				return nil, err
			}
			amounts[p.OwnerID] = p.Stake
		}

		if err := tx.ResolveEscrow(ctx, rec); err != nil {
			return nil, err
		}
		if err := updateAll(ctx, tx, accounts, now); err != nil {
			return nil, err
		}

		op := ledger.NewOperation(ledger.OpEscrowRefund, ledger.StatusCompleted, ledger.RefundMetadata{
			Reason:        reason,
			Parties:       rec.PartyIDs(),
			StakePerParty: rec.StakePerParty,
		}, now)
		op.EscrowID = escrowID
		op.Amount = rec.TotalAmount
		batch, err := e.journal.GenerateEscrowRefund(op, escrowID, rec.PartyIDs(), rec.StakePerParty)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "generate refund entries", err)
		}
		if err := out.write(ctx, tx, batch); err != nil {
			return nil, err
		}

		result.OperationID = op.OperationID
		return &SettlementEvent{
			Kind:        op.Kind,
			Status:      op.Status,
			OperationID: op.OperationID,
			EscrowID:    escrowID,
			OwnerIDs:    rec.PartyIDs(),
			Amounts:     amounts,
			OccurredAt:  now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- Accounts ---

// OpenAccount creates a zero-balance party account. Opening an existing
// account is a no-op that returns its balance.
func (e *Engine) OpenAccount(ctx context.Context, ownerID string) (Balance, bool, error) {
	if ownerID == "" {
		return Balance{}, false, apperrors.New(apperrors.CodePolicyViolation, "owner id is required")
	}
	if ownerID == e.policy.PlatformOwnerID {
		return Balance{}, false, apperrors.New(apperrors.CodePolicyViolation, "owner id is reserved for the platform")
	}

	var (
		created bool
		bal     Balance
	)
	err := e.store.WithTx(ctx, func(tx *persistence.Tx) error {
		var err error
		created, err = tx.EnsureAccount(ctx, ownerID, ledger.KindParty, e.now())
		if err != nil {
			return err
		}
		accounts, err := tx.LockAccounts(ctx, []string{ownerID})
		if err != nil {
			return err
		}
		if accounts[ownerID].Kind != ledger.KindParty {
			return apperrors.New(apperrors.CodeConflict, "owner id belongs to a non-party account")
		}
		bal = balanceOf(accounts[ownerID])
		return nil
	})
	if err != nil {
		return Balance{}, false, err
	}
	if created {
		e.logger.Info().Str("owner_id", ownerID).Msg("account opened")
	}
	return bal, created, nil
}

// GetBalance reads an account without locking it.
func (e *Engine) GetBalance(ctx context.Context, ownerID string) (Balance, error) {
	a, err := e.store.GetAccount(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	return balanceOf(a), nil
}

// Deposit credits amount to ownerID once per externalReference.
func (e *Engine) Deposit(ctx context.Context, ownerID string, amount int64, externalReference string) (*DepositResult, error) {
	return e.deposit(ctx, "api", ownerID, amount, externalReference)
}

// ApplyDepositConfirmation is Deposit for payment-provider confirmations
// received from the message bus.
func (e *Engine) ApplyDepositConfirmation(ctx context.Context, ownerID string, amount int64, externalReference string) (*DepositResult, error) {
	return e.deposit(ctx, "webhook", ownerID, amount, externalReference)
}

func (e *Engine) deposit(ctx context.Context, source, ownerID string, amount int64, ref string) (*DepositResult, error) {
	if amount <= 0 {
		return nil, apperrors.Newf(apperrors.CodePolicyViolation, "deposit amount must be positive, got %d", amount)
	}
	if ref == "" {
		return nil, apperrors.New(apperrors.CodePolicyViolation, "external reference is required")
	}
	duplicate := apperrors.WithMetadata(apperrors.CodeConflict, "external reference already used",
		map[string]string{"external_reference": ref})
	if e.refs.Contains(ref) {
		if e.metrics != nil {
			e.metrics.ReferenceCacheHits.Inc()
		}
		return nil, duplicate
	}

	result := &DepositResult{}
	attrs := []attribute.KeyValue{
		attribute.String("owner.id", ownerID),
		attribute.Int64("amount", amount),
		attribute.String("source", source),
	}

	err := e.run(ctx, "Deposit", ledger.OpDeposit, attrs, func(ctx context.Context, tx *persistence.Tx, out *opLog) (*SettlementEvent, error) {
		now := e.now()

		exists, err := tx.ReferenceExists(ctx, ref)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, duplicate
		}

		accounts, err := tx.LockAccounts(ctx, []string{ownerID})
		if err != nil {
			return nil, err
		}
		acct := accounts[ownerID]
		if acct.Kind != ledger.KindParty {
			return nil, apperrors.WithMetadata(apperrors.CodePolicyViolation, "only party accounts can receive deposits",
				map[string]string{"owner_id": ownerID, "kind": string(acct.Kind)})
		}
		if err := acct.Credit(amount); err != nil {
			return nil, err
		}

		op := ledger.NewOperation(ledger.OpDeposit, ledger.StatusCompleted, ledger.DepositMetadata{Source: source}, now)
		op.OwnerID = ownerID
		op.Amount = amount
		op.ExternalReference = ref
		batch, err := e.journal.GenerateDeposit(op, ownerID, amount)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "generate deposit entries", err)
		}
		// the unique reference column backs up the check above under races
		if err := out.write(ctx, tx, batch); err != nil {
			return nil, err
		}
		if err := tx.UpdateAccount(ctx, acct, now); err != nil {
			return nil, err
		}

		result.OperationID = op.OperationID
		result.Balance = balanceOf(acct)
		return &SettlementEvent{
			Kind:        op.Kind,
			Status:      op.Status,
			OperationID: op.OperationID,
			OwnerIDs:    []string{ownerID},
			Amounts:     map[string]int64{ownerID: amount},
			OccurredAt:  now,
		}, nil
	})
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeConflict) {
			e.refs.Add(ref)
		}
		return nil, err
	}
	e.refs.Add(ref)
	return result, nil
}

// Withdraw debits amount from ownerID and leaves the payout PENDING until
// the payment rail confirms or rejects it. eligible is the caller's
// withdrawal-eligibility decision.
func (e *Engine) Withdraw(ctx context.Context, ownerID string, amount int64, eligible bool) (*WithdrawResult, error) {
	if !eligible {
		return nil, apperrors.WithMetadata(apperrors.CodePolicyViolation, "account is not eligible to withdraw",
			map[string]string{"owner_id": ownerID})
	}
	if amount < e.policy.MinWithdrawal || amount > e.policy.MaxWithdrawal {
		return nil, apperrors.Newf(apperrors.CodePolicyViolation, "withdrawal %d outside [%d, %d]",
			amount, e.policy.MinWithdrawal, e.policy.MaxWithdrawal)
	}

	result := &WithdrawResult{}
	attrs := []attribute.KeyValue{
		attribute.String("owner.id", ownerID),
		attribute.Int64("amount", amount),
	}

	err := e.run(ctx, "Withdraw", ledger.OpWithdrawal, attrs, func(ctx context.Context, tx *persistence.Tx, out *opLog) (*SettlementEvent, error) {
		now := e.now()

		accounts, err := tx.LockAccounts(ctx, []string{ownerID})
		if err != nil {
			return nil, err
		}
		acct := accounts[ownerID]
		if acct.Kind != ledger.KindParty {
			return nil, apperrors.New(apperrors.CodePolicyViolation, "only party accounts can withdraw")
		}
		if err := acct.Debit(amount); err != nil {
			return nil, err
		}

		op := ledger.NewOperation(ledger.OpWithdrawal, ledger.StatusPending,
			ledger.WithdrawalMetadata{PayoutState: string(ledger.StatusPending)}, now)
		op.OwnerID = ownerID
		op.Amount = amount
		batch, err := e.journal.GenerateWithdrawal(op, ownerID, amount)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "generate withdrawal entries", err)
		}
		if err := out.write(ctx, tx, batch); err != nil {
			return nil, err
		}
		if err := tx.UpdateAccount(ctx, acct, now); err != nil {
			return nil, err
		}

		result.OperationID = op.OperationID
		result.Balance = balanceOf(acct)
		result.PayoutState = op.Status
		return &SettlementEvent{
			Kind:        op.Kind,
			Status:      op.Status,
			OperationID: op.OperationID,
			OwnerIDs:    []string{ownerID},
			Amounts:     map[string]int64{ownerID: amount},
			OccurredAt:  now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// lockPendingWithdrawal locks a withdrawal and requires it to be PENDING.
func lockPendingWithdrawal(ctx context.Context, tx *persistence.Tx, id uuid.UUID) (*ledger.Operation, error) {
	op, err := tx.LockOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.Kind != ledger.OpWithdrawal {
		return nil, apperrors.WithMetadata(apperrors.CodePolicyViolation, "operation is not a withdrawal",
			map[string]string{"operation_id": id.String(), "kind": string(op.Kind)})
	}
	if op.Status != ledger.StatusPending {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidState,
			fmt.Sprintf("withdrawal is %s, want %s", op.Status, ledger.StatusPending),
			map[string]string{"operation_id": id.String()})
	}
	return op, nil
}

// ConfirmWithdrawal marks a pending withdrawal as paid out. No funds move.
func (e *Engine) ConfirmWithdrawal(ctx context.Context, withdrawalID uuid.UUID) error {
	attrs := []attribute.KeyValue{attribute.String("operation.id", withdrawalID.String())}
	return e.run(ctx, "ConfirmWithdrawal", ledger.OpWithdrawal, attrs, func(ctx context.Context, tx *persistence.Tx, out *opLog) (*SettlementEvent, error) {
		now := e.now()
		op, err := lockPendingWithdrawal(ctx, tx, withdrawalID)
		if err != nil {
			return nil, err
		}
		op.Status = ledger.StatusCompleted
		op.Metadata = ledger.WithdrawalMetadata{PayoutState: string(ledger.StatusCompleted)}
		if err := tx.TransitionOperation(ctx, op, ledger.StatusPending, now); err != nil {
			return nil, err
		}
		return &SettlementEvent{
			Kind:        op.Kind,
			Status:      op.Status,
			OperationID: op.OperationID,
			OwnerIDs:    []string{op.OwnerID},
			Amounts:     map[string]int64{op.OwnerID: op.Amount},
			OccurredAt:  now,
		}, nil
	})
}

// RejectWithdrawal fails a pending withdrawal and returns the funds to the
// wallet through a WITHDRAWAL_REVERSAL operation.
func (e *Engine) RejectWithdrawal(ctx context.Context, withdrawalID uuid.UUID, reason string) (*DepositResult, error) {
	result := &DepositResult{}
	attrs := []attribute.KeyValue{attribute.String("operation.id", withdrawalID.String())}

	err := e.run(ctx, "RejectWithdrawal", ledger.OpWithdrawalReversal, attrs, func(ctx context.Context, tx *persistence.Tx, out *opLog) (*SettlementEvent, error) {
		now := e.now()
		withdrawal, err := lockPendingWithdrawal(ctx, tx, withdrawalID)
		if err != nil {
			return nil, err
		}
		withdrawal.Status = ledger.StatusFailed
		withdrawal.Metadata = ledger.WithdrawalMetadata{
			PayoutState:     string(ledger.StatusFailed),
			RejectionReason: reason,
		}
		if err := tx.TransitionOperation(ctx, withdrawal, ledger.StatusPending, now); err != nil {
			return nil, err
		}

		ownerID := withdrawal.OwnerID
		accounts, err := tx.LockAccounts(ctx, []string{ownerID})
		if err != nil {
			return nil, err
		}
		acct := accounts[ownerID]
		if err := acct.Credit(withdrawal.Amount); err != nil {
			return nil, err
		}

		op := ledger.NewOperation(ledger.OpWithdrawalReversal, ledger.StatusCompleted, ledger.ReversalMetadata{
			WithdrawalID: withdrawalID,
			Reason:       reason,
		}, now)
		op.OwnerID = ownerID
		op.Amount = withdrawal.Amount
		batch, err := e.journal.GenerateWithdrawalReversal(op, ownerID, withdrawalID, withdrawal.Amount)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "generate reversal entries", err)
		}
		if err := out.write(ctx, tx, batch); err != nil {
			return nil, err
		}
		if err := tx.UpdateAccount(ctx, acct, now); err != nil {
			return nil, err
		}

		result.OperationID = op.OperationID
		result.Balance = balanceOf(acct)
		return &SettlementEvent{
			Kind:        op.Kind,
			Status:      op.Status,
			OperationID: op.OperationID,
			OwnerIDs:    []string{ownerID},
			Amounts:     map[string]int64{ownerID: withdrawal.Amount},
			OccurredAt:  now,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
