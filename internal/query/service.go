package query

import (
	"context"
	"sort"
	"time"

	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/escrow"
	"WagerLedger/internal/ledger"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/persistence"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultOperationLimit = 100
	maxOperationLimit     = 1000
)

// QueryService provides read-only access to the settlement store. Reads
// take no row locks and may observe a state one commit behind a
// concurrent operation.
type QueryService struct {
	store   *persistence.Store
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewQueryService(store *persistence.Store, metrics *observability.Metrics, logger zerolog.Logger) *QueryService {
	return &QueryService{
		store:   store,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// observe records request metrics for one endpoint call.
func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		qs.metrics.QueryErrors.WithLabelValues(endpoint, string(apperrors.CodeOf(err))).Inc()
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// GetBalance returns an account's spendable and locked balances.
func (qs *QueryService) GetBalance(ctx context.Context, ownerID string) (resp *BalanceResponse, err error) {
	defer func(start time.Time) { qs.observe("balance", start, err) }(time.Now())

	a, err := qs.store.GetAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return balanceResponse(a), nil
}

// GetEscrow returns an escrow record with its parties.
func (qs *QueryService) GetEscrow(ctx context.Context, escrowID string) (resp *EscrowResponse, err error) {
	defer func(start time.Time) { qs.observe("escrow", start, err) }(time.Now())

	r, err := qs.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	return escrowResponse(r), nil
}

// GetOperation returns one operation header.
func (qs *QueryService) GetOperation(ctx context.Context, operationID uuid.UUID) (resp *OperationResponse, err error) {
	defer func(start time.Time) { qs.observe("operation", start, err) }(time.Now())

	op, err := qs.store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, err
	}
	out := operationResponse(op)
	return &out, nil
}

// ListOperations returns operations for an owner or an escrow, newest first.
func (qs *QueryService) ListOperations(ctx context.Context, ownerID, escrowID string, limit int) (resp []OperationResponse, err error) {
	defer func(start time.Time) { qs.observe("operations", start, err) }(time.Now())

	if ownerID == "" && escrowID == "" {
		return nil, apperrors.New(apperrors.CodePolicyViolation, "owner id or escrow id is required")
	}
	if limit <= 0 {
		limit = defaultOperationLimit
	}
	if limit > maxOperationLimit {
		limit = maxOperationLimit
	}

	ops, err := qs.store.ListOperations(ctx, ownerID, escrowID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]OperationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationResponse(op))
	}
	return out, nil
}

// ListEntries returns journal entries for one operation or one account in
// write order.
func (qs *QueryService) ListEntries(ctx context.Context, filter EntryFilter) (resp []JournalEntry, err error) {
	defer func(start time.Time) { qs.observe("entries", start, err) }(time.Now())

	var entries []ledger.Entry
	switch {
	case filter.OperationID != uuid.Nil && filter.Account != "":
		return nil, apperrors.New(apperrors.CodePolicyViolation, "filter by operation or by account, not both")
	case filter.OperationID != uuid.Nil:
		entries, err = qs.store.EntriesByOperation(ctx, filter.OperationID)
	case filter.Account != "":
		key, perr := ledger.ParseAccountPath(filter.Account)
		if perr != nil {
			return nil, apperrors.Wrap(apperrors.CodePolicyViolation, "invalid account", perr)
		}
		entries, err = qs.store.EntriesByAccount(ctx, key)
	default:
		return nil, apperrors.New(apperrors.CodePolicyViolation, "operation id or account is required")
	}
	if err != nil {
		return nil, err
	}

	out := make([]JournalEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, journalEntry(e))
	}
	return out, nil
}

// --- Admin APIs ---

// VerifyIntegrity replays the journal and checks it against the stored
// rows: every operation balances, the journal is zero-sum, wallets match
// stored spendable, escrows hold their total while LOCKED and nothing
// internal is negative.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer func(start time.Time) { qs.observe("verify", start, err) }(time.Now())

	report = &IntegrityReport{CheckedAt: qs.now()}
	tracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(tracker)

	type sums struct{ debits, credits int64 }
	perOp := make(map[uuid.UUID]*sums)
	var order []uuid.UUID

	err = qs.store.ScanEntries(ctx, func(e ledger.Entry) error {
		report.EntriesScanned++
		tracker.ApplyEntry(e)
		s, ok := perOp[e.OperationID]
		if !ok {
			s = &sums{}
			perOp[e.OperationID] = s
			order = append(order, e.OperationID)
		}
		s.debits += e.Debit
		s.credits += e.Credit
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.OperationsScanned = len(order)
	for _, id := range order {
		if s := perOp[id]; s.debits != s.credits {
			report.UnbalancedOperations = append(report.UnbalancedOperations, UnbalancedOperation{
				OperationID: id,
				Debits:      s.debits,
				Credits:     s.credits,
			})
		}
	}

	if validator.ValidateGlobalBalance() != nil {
		report.GlobalImbalance = tracker.ComputeGlobalBalance()
	}

	accounts, err := qs.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	escrows, err := qs.store.ListEscrows(ctx)
	if err != nil {
		return nil, err
	}

	lockedByOwner := make(map[string]int64)
	for _, r := range escrows {
		if err := validator.ValidateEscrowHeld(r.EscrowID, r.Held()); err != nil {
			report.Mismatches = append(report.Mismatches, BalanceMismatch{
				Account:  ledger.EscrowKey(r.EscrowID).AccountPath(),
				Field:    "held",
				Stored:   r.Held(),
				Expected: tracker.GetEscrowHeld(r.EscrowID),
			})
		}
		if r.State == escrow.StateLocked {
			for _, p := range r.Parties {
				lockedByOwner[p.OwnerID] += p.Stake
			}
		}
	}

	for _, a := range accounts {
		key := a.Key()
		if err := validator.ValidateSpendable(key, a.Spendable); err != nil {
			report.Mismatches = append(report.Mismatches, BalanceMismatch{
				Account:  key.AccountPath(),
				Field:    "spendable",
				Stored:   a.Spendable,
				Expected: tracker.GetBalance(key),
			})
		}
		if want := lockedByOwner[a.OwnerID]; a.Locked != want {
			report.Mismatches = append(report.Mismatches, BalanceMismatch{
				Account:  key.AccountPath(),
				Field:    "locked",
				Stored:   a.Locked,
				Expected: want,
			})
		}
	}

	for _, key := range tracker.Keys() {
		if key.Type == ledger.AccountExternal {
			continue
		}
		if bal := tracker.GetBalance(key); bal < 0 {
			report.NegativeBalances = append(report.NegativeBalances, NegativeBalance{
				Account: key.AccountPath(),
				Balance: bal,
			})
		}
	}

	sort.Slice(report.Mismatches, func(i, j int) bool {
		if report.Mismatches[i].Account != report.Mismatches[j].Account {
			return report.Mismatches[i].Account < report.Mismatches[j].Account
		}
		return report.Mismatches[i].Field < report.Mismatches[j].Field
	})

	report.IsHealthy = len(report.UnbalancedOperations) == 0 &&
		report.GlobalImbalance == 0 &&
		len(report.Mismatches) == 0 &&
		len(report.NegativeBalances) == 0

	result := "healthy"
	if !report.IsHealthy {
		result = "violations"
		qs.logger.Error().
			Int("unbalanced_operations", len(report.UnbalancedOperations)).
			Int64("global_imbalance", report.GlobalImbalance).
			Int("mismatches", len(report.Mismatches)).
			Int("negative_balances", len(report.NegativeBalances)).
			Msg("journal integrity check found violations")
	}
	if qs.metrics != nil {
		qs.metrics.IntegrityRuns.WithLabelValues(result).Inc()
	}
	return report, nil
}
