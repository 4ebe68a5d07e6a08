package query_test

import (
	"context"
	"testing"

	"WagerLedger/internal/core"
	apperrors "WagerLedger/internal/errors"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/persistence"
	"WagerLedger/internal/query"
	"WagerLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	store   *persistence.Store
	engine  *core.Engine
	qs      *query.QueryService
	metrics *observability.Metrics
}

// settledEnv runs the lock and release scenario and leaves a second escrow
// locked.
func settledEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := testutil.NewSQLiteStore(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	engine, err := core.NewEngine(store, core.DefaultPolicy(), nil, metrics, zerolog.Nop())
	require.NoError(t, err)

	for _, owner := range []string{"alice", "bob"} {
		_, _, err := engine.OpenAccount(ctx, owner)
		require.NoError(t, err)
		_, err = engine.Deposit(ctx, owner, 10000, "seed-"+owner)
		require.NoError(t, err)
	}
	_, err = engine.LockFunds(ctx, "m-1", "alice", "bob", 4000)
	require.NoError(t, err)
	_, err = engine.ReleaseToWinner(ctx, "m-1", "alice")
	require.NoError(t, err)
	_, err = engine.LockFunds(ctx, "m-2", "alice", "bob", 500)
	require.NoError(t, err)

	return &env{
		store:   store,
		engine:  engine,
		qs:      query.NewQueryService(store, metrics, zerolog.Nop()),
		metrics: metrics,
	}
}

func TestQuery_GetBalanceAndEscrow(t *testing.T) {
	e := settledEnv(t)
	ctx := context.Background()

	bal, err := e.qs.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(12700), bal.Spendable)
	assert.Equal(t, int64(500), bal.Locked)
	assert.Equal(t, int64(13200), bal.Total)

	esc, err := e.qs.GetEscrow(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "RELEASED", esc.State)
	assert.Equal(t, "alice", esc.WinnerID)
	assert.Equal(t, int64(7200), esc.Payout)
	assert.Equal(t, int64(800), esc.Fee)
	require.NotNil(t, esc.ResolvedAt)
	require.Len(t, esc.Parties, 2)

	open, err := e.qs.GetEscrow(ctx, "m-2")
	require.NoError(t, err)
	assert.Equal(t, "LOCKED", open.State)
	assert.Nil(t, open.ResolvedAt)

	_, err = e.qs.GetEscrow(ctx, "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
	assert.Equal(t, float64(1), promtest.ToFloat64(e.metrics.QueryErrors.WithLabelValues("escrow", "NOT_FOUND")))
}

func TestQuery_ListEntries(t *testing.T) {
	e := settledEnv(t)
	ctx := context.Background()

	esc, err := e.qs.GetEscrow(ctx, "m-1")
	require.NoError(t, err)
	lockOp, err := uuid.Parse(esc.LockOperation)
	require.NoError(t, err)

	byOp, err := e.qs.ListEntries(ctx, query.EntryFilter{OperationID: lockOp})
	require.NoError(t, err)
	require.Len(t, byOp, 4)
	var debits, credits int64
	for _, entry := range byOp {
		debits += entry.Debit
		credits += entry.Credit
	}
	assert.Equal(t, int64(8000), debits)
	assert.Equal(t, debits, credits)

	byAccount, err := e.qs.ListEntries(ctx, query.EntryFilter{Account: "escrow:m-1"})
	require.NoError(t, err)
	var held int64
	for _, entry := range byAccount {
		held += entry.Credit - entry.Debit
	}
	assert.Zero(t, held)

	_, err = e.qs.ListEntries(ctx, query.EntryFilter{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodePolicyViolation))
	_, err = e.qs.ListEntries(ctx, query.EntryFilter{Account: "bogus"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodePolicyViolation))
}

func TestQuery_ListOperations(t *testing.T) {
	e := settledEnv(t)
	ctx := context.Background()

	ops, err := e.qs.ListOperations(ctx, "", "m-1", 0)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	kinds := []string{ops[0].Kind, ops[1].Kind}
	assert.ElementsMatch(t, []string{"ESCROW_LOCK", "ESCROW_RELEASE"}, kinds)

	deposits, err := e.qs.ListOperations(ctx, "bob", "", 10)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, "DEPOSIT", deposits[0].Kind)
	assert.Equal(t, "seed-bob", deposits[0].ExternalReference)

	_, err = e.qs.ListOperations(ctx, "", "", 10)
	assert.True(t, apperrors.IsCode(err, apperrors.CodePolicyViolation))
}

func TestQuery_VerifyIntegrity_Healthy(t *testing.T) {
	e := settledEnv(t)

	report, err := e.qs.VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.IsHealthy, "%+v", report)
	assert.Equal(t, 5, report.OperationsScanned)
	assert.Zero(t, report.GlobalImbalance)
	assert.Empty(t, report.Mismatches)
	assert.Empty(t, report.NegativeBalances)
	assert.Equal(t, float64(1), promtest.ToFloat64(e.metrics.IntegrityRuns.WithLabelValues("healthy")))
}

func TestQuery_VerifyIntegrity_DetectsTampering(t *testing.T) {
	e := settledEnv(t)
	ctx := context.Background()

	_, err := e.store.DB().ExecContext(ctx, `UPDATE accounts SET spendable = spendable + 1 WHERE owner_id = 'bob'`)
	require.NoError(t, err)
	_, err = e.store.DB().ExecContext(ctx, `UPDATE accounts SET locked = 0 WHERE owner_id = 'alice'`)
	require.NoError(t, err)

	report, err := e.qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []query.BalanceMismatch{
		{Account: "party_wallet:alice", Field: "locked", Stored: 0, Expected: 500},
		{Account: "party_wallet:bob", Field: "spendable", Stored: 5501, Expected: 5500},
	}, report.Mismatches)
	assert.Equal(t, float64(1), promtest.ToFloat64(e.metrics.IntegrityRuns.WithLabelValues("violations")))
}

func TestQuery_VerifyIntegrity_DetectsUnbalancedOperation(t *testing.T) {
	e := settledEnv(t)
	ctx := context.Background()

	_, err := e.store.DB().ExecContext(ctx,
		`UPDATE ledger_entries SET credit = credit + 5 WHERE account_type = 'platform_wallet'`)
	require.NoError(t, err)

	report, err := e.qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	require.Len(t, report.UnbalancedOperations, 1)
	assert.Equal(t, int64(5), report.UnbalancedOperations[0].Credits-report.UnbalancedOperations[0].Debits)
	assert.Equal(t, int64(5), report.GlobalImbalance)
}
